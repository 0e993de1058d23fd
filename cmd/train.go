package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/inference-sim/supernet/nas"
	"github.com/inference-sim/supernet/nas/dist"
	"github.com/inference-sim/supernet/nas/synthetic"
	"github.com/inference-sim/supernet/nas/trace"
)

// trainCmd runs supernet training against the synthetic collaborators
var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train the searchable detector super-network",
	Run: func(cmd *cobra.Command, args []string) {
		setupLogging()
		cfg, err := loadConfig(cmd)
		if err != nil {
			logrus.Fatalf("Invalid configuration: %v", err)
		}

		opts := trainOptions{
			RunID:        uuid.NewString(),
			Host:         hostInfo(),
			WorldSize:    worldSize,
			Batches:      batches,
			BatchSize:    batchSize,
			NeckChannels: neckChannels,
			ResumeFrom:   resumeFrom,
		}
		logrus.Infof("Starting run %s on %s: world size %d, seed %d, sandwich=%v, distill=%q",
			opts.RunID, opts.Host, opts.WorldSize, cfg.Seed, cfg.Runner.Sandwich, cfg.Distill.Variant)

		tt, err := train(cmd.Context(), cfg, opts)
		if err != nil {
			// Precondition violations carry a stack; never retried.
			logrus.Fatalf("Training aborted: %+v", err)
		}

		if tt.Enabled() {
			s := trace.Summarize(tt)
			logrus.Infof("Trace: %d iterations, %d configs trained (%d dense), mean loss %.4f, resolutions %v",
				s.TotalIterations, s.TotalConfigs, s.DenseConfigs, s.MeanLoss, s.ResolutionCounts)
			if traceOut != "" {
				if err := writeTrace(traceOut, tt); err != nil {
					logrus.Fatalf("Writing trace: %v", err)
				}
			}
		}
		logrus.Info("Training complete.")
	},
}

// trainOptions sizes the synthetic collaborators and identifies the run.
type trainOptions struct {
	RunID        string
	Host         string
	WorldSize    int
	Batches      int
	BatchSize    int
	NeckChannels int
	ResumeFrom   string
}

// train runs one worker per rank and returns rank 0's trace.
func train(ctx context.Context, cfg *nas.TrainConfig, opts trainOptions) (*trace.TrainingTrace, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.WorldSize < 1 {
		return nil, fmt.Errorf("world size must be >= 1, got %d", opts.WorldSize)
	}
	comms := []dist.Communicator{dist.Single{}}
	if opts.WorldSize > 1 {
		comms = dist.NewGroup(opts.WorldSize)
	}

	traces := make([]*trace.TrainingTrace, len(comms))
	g, ctx := errgroup.WithContext(ctx)
	for _, comm := range comms {
		comm := comm
		g.Go(func() error {
			tt, err := runWorker(ctx, cfg, comm, opts)
			traces[comm.Rank()] = tt
			if err != nil {
				return fmt.Errorf("rank %d: %w", comm.Rank(), err)
			}
			return nil
		})
	}
	err := g.Wait()
	return traces[0], err
}

// runWorker builds one worker's detector, runner and hooks, and runs it.
// Every worker shares the master seed, so all ranks sample the same
// architecture sequence and stay in lock-step.
func runWorker(ctx context.Context, cfg *nas.TrainConfig, comm dist.Communicator, opts trainOptions) (*trace.TrainingTrace, error) {
	rng := nas.NewPartitionedRNG(nas.NewRunKey(cfg.Seed))

	resizer := nas.NewResizer(cfg.Resize, comm, rng.ForSubsystem(nas.SubsystemResize))
	detector := nas.NewDetector(cfg.DetectorConfig(),
		synthetic.NewBackbone(), synthetic.NewNeck(opts.NeckChannels), synthetic.NewHead(),
		resizer, rng.ForSubsystem(nas.SubsystemDistill))
	loader := synthetic.NewLoader(synthetic.LoaderConfig{
		Batches:    opts.Batches,
		BatchSize:  opts.BatchSize,
		Channels:   3,
		InputSize:  cfg.Resize.InputSize,
		MaxBoxes:   4,
		NumClasses: 80,
	}, rng.ForSubsystem(nas.SubsystemWorker(comm.Rank())))

	sampler := nas.NewSampler(rng.ForSubsystem(nas.SubsystemSampler))
	runner := nas.NewRunner(cfg.Runner, detector, sampler, cfg.Search.Space(), comm.Rank())

	tt := trace.NewTrainingTrace(trace.TraceConfig{Level: trace.TraceLevel(cfg.Hooks.Trace), RunID: opts.RunID})

	runner.RegisterHook(&nas.OptimizerHook{
		Optimizer:       synthetic.NewOptimizer(cfg.Optimizer),
		GradClip:        cfg.Optimizer.GradClip,
		CumulativeIters: cfg.Optimizer.CumulativeIters,
	}, nas.PriorityAboveNormal)
	if cfg.Hooks.CheckpointDir != "" {
		runner.RegisterHook(&nas.CheckpointHook{
			Interval: cfg.Hooks.CheckpointInterval,
			SaveLast: true,
			Saver:    &synthetic.YAMLCheckpointer{Dir: cfg.Hooks.CheckpointDir},
			RunID:    opts.RunID,
			Seed:     cfg.Seed,
			Host:     opts.Host,
		}, nas.PriorityNormal)
	}
	runner.RegisterHook(&nas.TraceHook{Trace: tt}, nas.PriorityBelowNormal)
	runner.RegisterHook(&nas.LoggerHook{Interval: cfg.Hooks.LogInterval}, nas.PriorityVeryLow)

	if opts.ResumeFrom != "" {
		meta, err := synthetic.LoadCheckpointMeta(opts.ResumeFrom)
		if err != nil {
			return tt, err
		}
		runner.Resume(meta.Epoch, meta.Iter)
		detector.Restore(int64(meta.Iter), meta.InputSize)
	}

	return tt, runner.Run(ctx, loader)
}

func writeTrace(path string, tt *trace.TrainingTrace) error {
	data, err := yaml.Marshal(tt.Iterations)
	if err != nil {
		return fmt.Errorf("encoding trace: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
