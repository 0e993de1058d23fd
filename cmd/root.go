package cmd

import (
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inference-sim/supernet/nas"
)

var (
	configPath     string        // YAML train config (defaults when empty)
	seed           int64         // Master seed for architecture/resolution sampling
	logLevel       string        // Log verbosity level
	maxEpochs      int           // Epochs to train
	epochPause     time.Duration // Pause after before_train_epoch hooks
	sandwich       bool          // Train [max, min, random, random] per step
	distillVariant string        // In-place distillation loss
	traceLevel     string        // Architecture trace level
	traceOut       string        // Write the architecture trace here as YAML
	checkpointDir  string        // Progress checkpoints directory
	resumeFrom     string        // Progress checkpoint to resume from

	// Synthetic collaborator sizing
	worldSize    int // In-process workers
	batches      int // Batches per epoch
	batchSize    int // Images per batch
	neckChannels int // Neck output width
	inputHeight  int // Overrides resize.input_size.height
	inputWidth   int // Overrides resize.input_size.width
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "supernet",
	Short: "Weight-sharing architecture search trainer for single-stage detectors",
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setupLogging applies --log or exits on an invalid level.
func setupLogging() {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level: %s", logLevel)
	}
	logrus.SetLevel(level)
}

// loadConfig reads --config (or the defaults), applies explicitly set flags
// on top, and validates the result.
func loadConfig(cmd *cobra.Command) (*nas.TrainConfig, error) {
	cfg := nas.DefaultTrainConfig()
	if configPath != "" {
		loaded, err := nas.LoadTrainConfig(configPath)
		if err != nil {
			return nil, err
		}
		cfg = *loaded
	}
	applyFlagOverrides(cmd, &cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyFlagOverrides(cmd *cobra.Command, cfg *nas.TrainConfig) {
	flags := cmd.Flags()
	if flags.Changed("seed") {
		cfg.Seed = seed
	}
	if flags.Changed("epochs") {
		cfg.Runner.MaxEpochs = maxEpochs
	}
	if flags.Changed("epoch-pause") {
		cfg.Runner.EpochPause = epochPause
	}
	if flags.Changed("sandwich") {
		cfg.Runner.Sandwich = sandwich
	}
	if flags.Changed("distill") {
		cfg.Distill.Variant = distillVariant
	}
	if flags.Changed("trace") {
		cfg.Hooks.Trace = traceLevel
	}
	if flags.Changed("checkpoint-dir") {
		cfg.Hooks.CheckpointDir = checkpointDir
	}
	if flags.Changed("input-height") {
		cfg.Resize.InputSize.Height = inputHeight
	}
	if flags.Changed("input-width") {
		cfg.Resize.InputSize.Width = inputWidth
	}
}

// init sets up CLI flags and subcommands
func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML train config (built-in defaults when empty)")
	rootCmd.PersistentFlags().Int64Var(&seed, "seed", nas.DefaultSeed, "Seed for architecture and resolution sampling")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "info", "Log level (trace, debug, info, warn, error, fatal, panic)")

	trainCmd.Flags().IntVar(&maxEpochs, "epochs", 300, "Number of training epochs")
	trainCmd.Flags().DurationVar(&epochPause, "epoch-pause", 2*time.Second, "Pause between epochs for data-loader teardown")
	trainCmd.Flags().BoolVar(&sandwich, "sandwich", false, "Train max, min and random sub-networks every step")
	trainCmd.Flags().StringVar(&distillVariant, "distill", "", "In-place distillation variant (L2, L2Softmax, DML, NonLocal)")
	trainCmd.Flags().StringVar(&traceLevel, "trace", "none", "Architecture trace level (none, archs)")
	trainCmd.Flags().StringVar(&traceOut, "trace-out", "", "Write the architecture trace to this YAML file")
	trainCmd.Flags().StringVar(&checkpointDir, "checkpoint-dir", "", "Directory for progress checkpoints (disabled when empty)")
	trainCmd.Flags().StringVar(&resumeFrom, "resume-from", "", "Progress checkpoint to resume from")

	trainCmd.Flags().IntVar(&worldSize, "world-size", 1, "Number of in-process workers")
	trainCmd.Flags().IntVar(&batches, "batches", 20, "Synthetic batches per epoch")
	trainCmd.Flags().IntVar(&batchSize, "batch-size", 2, "Synthetic images per batch")
	trainCmd.Flags().IntVar(&neckChannels, "neck-channels", 8, "Synthetic neck output width")
	trainCmd.Flags().IntVar(&inputHeight, "input-height", 640, "Default input height")
	trainCmd.Flags().IntVar(&inputWidth, "input-width", 640, "Default input width")

	sampleCmd.Flags().IntVar(&sampleCount, "n", 5, "Number of samples")
	sampleCmd.Flags().StringVar(&sampleMode, "mode", "random", "Sampling mode (random, max, min, sandwich)")

	rootCmd.AddCommand(trainCmd)
	rootCmd.AddCommand(sampleCmd)
}
