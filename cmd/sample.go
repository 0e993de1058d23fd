package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/inference-sim/supernet/nas"
)

var (
	sampleCount int    // Number of configs (or sandwich sets) to draw
	sampleMode  string // random, max, min or sandwich
)

// sampleCmd prints architecture samples for inspecting a search space
var sampleCmd = &cobra.Command{
	Use:   "sample",
	Short: "Print sampled sub-network configurations",
	Run: func(cmd *cobra.Command, args []string) {
		setupLogging()
		cfg, err := loadConfig(cmd)
		if err != nil {
			logrus.Fatalf("Invalid configuration: %v", err)
		}
		if err := writeSamples(os.Stdout, cfg, sampleMode, sampleCount); err != nil {
			logrus.Fatalf("Sampling failed: %v", err)
		}
	},
}

// writeSamples draws n samples from cfg's search space with cfg.Seed and
// writes them as a YAML list.
func writeSamples(w io.Writer, cfg *nas.TrainConfig, mode string, n int) error {
	if n < 0 {
		return fmt.Errorf("sample count must be non-negative, got %d", n)
	}
	rng := nas.NewPartitionedRNG(nas.NewRunKey(cfg.Seed))
	sampler := nas.NewSampler(rng.ForSubsystem(nas.SubsystemSampler))
	space := cfg.Search.Space()

	var out any
	if mode == "sandwich" {
		sets := make([]nas.ArchitectureConfigSet, n)
		for i := range sets {
			sets[i] = sampler.SampleSandwichSet(space)
		}
		out = sets
	} else {
		m, err := nas.ParseSampleMode(mode)
		if err != nil {
			return err
		}
		archs := make([]nas.ArchitectureConfig, n)
		for i := range archs {
			archs[i] = sampler.Sample(space, m)
		}
		out = archs
	}

	enc := yaml.NewEncoder(w)
	defer enc.Close()
	return enc.Encode(out)
}
