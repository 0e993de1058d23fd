package nas

import (
	"context"
	"fmt"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Model is the trainable side of the loop. *Detector implements it.
type Model interface {
	ApplyConfig(arch ArchitectureConfig)
	ApplyConfigSet(archs ArchitectureConfigSet)
	TrainStep(ctx context.Context, batch *Batch) (*StepOutput, error)
	InputSize() Resolution
}

// RunnerConfig groups training-loop parameters.
type RunnerConfig struct {
	MaxEpochs int `yaml:"max_epochs"`
	// EpochPause is slept after before_train_epoch hooks fire, so data-loader
	// workers from the previous epoch finish tearing down before new ones start.
	EpochPause time.Duration `yaml:"epoch_pause"`
	Sandwich   bool          `yaml:"sandwich"`
}

// Runner is the epoch-based training loop. Every iteration it samples an
// architecture, pushes it (or a sandwich set) into the model, runs the
// training step and fires hooks.
//
// One Runner per worker; workers advance in lock-step over the same
// iteration sequence.
type Runner struct {
	cfg     RunnerConfig
	model   Model
	sampler *Sampler
	space   SearchSpace
	rank    int
	hooks   hookList

	logBuffer *LogBuffer

	epoch     int
	iter      int
	innerIter int
	maxIters  int

	arch    ArchitectureConfig
	archs   ArchitectureConfigSet
	outputs *StepOutput
}

// NewRunner creates a Runner for the worker with the given rank.
func NewRunner(cfg RunnerConfig, model Model, sampler *Sampler, space SearchSpace, rank int) *Runner {
	return &Runner{
		cfg:       cfg,
		model:     model,
		sampler:   sampler,
		space:     space,
		rank:      rank,
		logBuffer: NewLogBuffer(),
	}
}

// RegisterHook adds h at priority p. Hooks with equal priority fire in
// registration order.
func (r *Runner) RegisterHook(h Hook, p Priority) {
	r.hooks = r.hooks.insert(h, p)
}

// Epoch returns the number of completed epochs.
func (r *Runner) Epoch() int { return r.epoch }

// Iter returns the global iteration index, counted across epochs.
func (r *Runner) Iter() int { return r.iter }

// InnerIter returns the batch index within the current epoch.
func (r *Runner) InnerIter() int { return r.innerIter }

// MaxIters returns MaxEpochs times the loader length once Run or Train has started.
func (r *Runner) MaxIters() int { return r.maxIters }

// MaxEpochs returns the configured epoch count.
func (r *Runner) MaxEpochs() int { return r.cfg.MaxEpochs }

// Rank returns the worker rank this runner belongs to.
func (r *Runner) Rank() int { return r.rank }

// Model returns the trained model.
func (r *Runner) Model() Model { return r.model }

// LogBuffer returns the buffer of log vars since the last flush.
func (r *Runner) LogBuffer() *LogBuffer { return r.logBuffer }

// Outputs returns the output of the most recent training step.
func (r *Runner) Outputs() *StepOutput { return r.outputs }

// Arch returns the config sampled for the current iteration.
func (r *Runner) Arch() ArchitectureConfig { return r.arch }

// Archs returns the sandwich set of the current iteration, nil outside sandwich mode.
func (r *Runner) Archs() ArchitectureConfigSet { return r.archs }

// Resume restores the progress counters of an interrupted run.
func (r *Runner) Resume(epoch, iter int) {
	r.epoch = epoch
	r.iter = iter
	logrus.Infof("Resumed at epoch %d, iter %d", epoch, iter)
}

// IsMaster reports whether this runner belongs to rank 0.
func (r *Runner) IsMaster() bool { return r.rank == 0 }

// Run trains until MaxEpochs epochs have completed or ctx is cancelled.
func (r *Runner) Run(ctx context.Context, loader DataLoader) error {
	r.maxIters = r.cfg.MaxEpochs * loader.Len()
	logrus.Infof("Start running, max: %d epochs (%d iters), sandwich=%v", r.cfg.MaxEpochs, r.maxIters, r.cfg.Sandwich)
	if err := r.hooks.fire(ctx, StageBeforeRun, r); err != nil {
		return err
	}
	for r.epoch < r.cfg.MaxEpochs {
		if err := r.Train(ctx, loader); err != nil {
			return err
		}
	}
	return r.hooks.fire(ctx, StageAfterRun, r)
}

// Train runs one epoch over loader.
func (r *Runner) Train(ctx context.Context, loader DataLoader) error {
	if r.maxIters == 0 {
		r.maxIters = r.cfg.MaxEpochs * loader.Len()
	}
	if err := r.hooks.fire(ctx, StageBeforeTrainEpoch, r); err != nil {
		return err
	}
	if err := sleepCtx(ctx, r.cfg.EpochPause); err != nil {
		return err
	}

	logrus.Infof("[epoch %03d] training %d iterations", r.epoch, loader.Len())
	for i := 0; i < loader.Len(); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch, err := loader.Load(ctx, i)
		if err != nil {
			return fmt.Errorf("loading batch %d of epoch %d: %w", i, r.epoch, err)
		}
		r.innerIter = i
		if err := r.hooks.fire(ctx, StageBeforeTrainIter, r); err != nil {
			return err
		}

		r.arch = r.sampler.Sample(r.space, SampleRandom)
		if r.cfg.Sandwich {
			r.archs = r.sampler.SampleSandwichSet(r.space)
			r.model.ApplyConfigSet(r.archs)
		} else {
			r.archs = nil
			r.model.ApplyConfig(r.arch)
		}
		logrus.Tracef("[iter %07d] arch %v", r.iter, r.arch)

		if err := r.RunIter(ctx, batch); err != nil {
			return err
		}
		if err := r.hooks.fire(ctx, StageAfterTrainIter, r); err != nil {
			return err
		}
		r.iter++
	}

	if err := r.hooks.fire(ctx, StageAfterTrainEpoch, r); err != nil {
		return err
	}
	r.epoch++
	return nil
}

// RunIter runs one training step and buffers its log vars.
func (r *Runner) RunIter(ctx context.Context, batch *Batch) error {
	out, err := r.model.TrainStep(ctx, batch)
	if err != nil {
		return fmt.Errorf("train step at iter %d: %w", r.iter, err)
	}
	if out == nil || out.LogVars == nil {
		return pkgerrors.WithStack(ErrInvalidStepOutput)
	}
	r.logBuffer.Update(out.LogVars, out.NumSamples)
	r.outputs = out
	logrus.Debugf("[iter %07d] loss=%.6f size=%v", r.iter, out.Loss, r.model.InputSize())
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
