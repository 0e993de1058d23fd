package nas

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/supernet/nas/trace"
)

// === OptimizerHook ===

// GradClip configures clip-by-norm. A nil *GradClip disables clipping.
type GradClip struct {
	MaxNorm  float64 `yaml:"max_norm"`
	NormType float64 `yaml:"norm_type"`
}

// Optimizer is the gradient side of training; parameters and gradients are
// owned by the tensor backend.
type Optimizer interface {
	ZeroGrad()
	// Backward accumulates gradients of out.Loss scaled by scale.
	Backward(ctx context.Context, out *StepOutput, scale float64) error
	// ClipGradNorm clips accumulated gradients and returns the pre-clip norm.
	ClipGradNorm(maxNorm, normType float64) float64
	Step(ctx context.Context) error
}

// OptimizerHook runs backward and the parameter update after every
// training step. With CumulativeIters > 1 gradients are accumulated and the
// update is applied every CumulativeIters iterations (and on the last one).
type OptimizerHook struct {
	NopHook
	Optimizer       Optimizer
	GradClip        *GradClip
	CumulativeIters int
}

func (h *OptimizerHook) AfterTrainIter(ctx context.Context, r *Runner) error {
	out := r.Outputs()
	k := max(h.CumulativeIters, 1)
	if err := h.Optimizer.Backward(ctx, out, 1/float64(k)); err != nil {
		return fmt.Errorf("backward: %w", err)
	}
	if (r.Iter()+1)%k != 0 && r.Iter()+1 != r.MaxIters() {
		return nil
	}
	if h.GradClip != nil {
		norm := h.Optimizer.ClipGradNorm(h.GradClip.MaxNorm, h.GradClip.NormType)
		r.LogBuffer().Update(map[string]float64{"grad_norm": norm}, out.NumSamples)
	}
	if err := h.Optimizer.Step(ctx); err != nil {
		return fmt.Errorf("optimizer step: %w", err)
	}
	h.Optimizer.ZeroGrad()
	return nil
}

// === LoggerHook ===

// LoggerHook logs averaged log vars every Interval iterations and at the end
// of each epoch. Only rank 0 logs.
type LoggerHook struct {
	NopHook
	Interval int
}

func (h *LoggerHook) AfterTrainIter(_ context.Context, r *Runner) error {
	if h.Interval > 0 && (r.InnerIter()+1)%h.Interval == 0 {
		h.flush(r)
	}
	return nil
}

func (h *LoggerHook) AfterTrainEpoch(_ context.Context, r *Runner) error {
	h.flush(r)
	return nil
}

func (h *LoggerHook) flush(r *Runner) {
	buf := r.LogBuffer()
	if buf.Empty() {
		return
	}
	if r.IsMaster() {
		avg := buf.Average()
		fields := logrus.Fields{"input_size": r.Model().InputSize().String()}
		for _, k := range buf.Keys() {
			fields[k] = fmt.Sprintf("%.4f", avg[k])
		}
		logrus.WithFields(fields).Infof("Epoch [%d][%d/%d]", r.Epoch()+1, r.Iter()+1, r.MaxIters())
	}
	buf.Clear()
}

// === CheckpointHook ===

// CheckpointMeta is the training-progress record handed to a Checkpointer.
// Weight serialization belongs to the Checkpointer. Iter and InputSize let a
// resumed run continue the resize cadence (see Detector.Restore).
type CheckpointMeta struct {
	RunID     string     `yaml:"run_id"`
	Epoch     int        `yaml:"epoch"`
	Iter      int        `yaml:"iter"`
	Seed      int64      `yaml:"seed"`
	InputSize Resolution `yaml:"input_size"`
	Host      string     `yaml:"host,omitempty"`
	SavedAt   time.Time  `yaml:"saved_at"`
}

// Checkpointer persists a checkpoint.
type Checkpointer interface {
	Save(ctx context.Context, meta CheckpointMeta) error
}

// CheckpointHook saves every Interval epochs (and after the final epoch when
// SaveLast is set). Only rank 0 saves.
type CheckpointHook struct {
	NopHook
	Interval int
	SaveLast bool
	Saver    Checkpointer
	RunID    string
	Seed     int64
	Host     string
	now      func() time.Time
}

func (h *CheckpointHook) AfterTrainEpoch(ctx context.Context, r *Runner) error {
	if !r.IsMaster() {
		return nil
	}
	done := r.Epoch() + 1
	periodic := h.Interval > 0 && done%h.Interval == 0
	last := h.SaveLast && done == r.MaxEpochs()
	if !periodic && !last {
		return nil
	}
	now := time.Now
	if h.now != nil {
		now = h.now
	}
	meta := CheckpointMeta{
		RunID:     h.RunID,
		Epoch:     done,
		Iter:      r.Iter(),
		Seed:      h.Seed,
		InputSize: r.Model().InputSize(),
		Host:      h.Host,
		SavedAt:   now().UTC(),
	}
	if err := h.Saver.Save(ctx, meta); err != nil {
		return fmt.Errorf("saving checkpoint for epoch %d: %w", done, err)
	}
	logrus.Infof("Saving checkpoint at %d epochs", done)
	return nil
}

// === TraceHook ===

// TraceHook records every trained config set into a TrainingTrace.
type TraceHook struct {
	NopHook
	Trace *trace.TrainingTrace

	size Resolution
}

func (h *TraceHook) BeforeTrainIter(_ context.Context, r *Runner) error {
	h.size = r.Model().InputSize()
	return nil
}

func (h *TraceHook) AfterTrainIter(_ context.Context, r *Runner) error {
	if !h.Trace.Enabled() {
		return nil
	}
	archs := r.Archs()
	if len(archs) == 0 {
		archs = ArchitectureConfigSet{r.Arch()}
	}
	configs := make([]trace.ConfigRecord, len(archs))
	for i, a := range archs {
		c := a.Clone()
		configs[i] = trace.ConfigRecord{WidenFactor: c.WidenFactor, DeepenFactor: c.DeepenFactor}
	}
	var loss float64
	if out := r.Outputs(); out != nil {
		loss = out.Loss
	}
	h.Trace.Record(trace.IterationRecord{
		Epoch:   r.Epoch(),
		Iter:    r.Iter(),
		Height:  h.size.Height,
		Width:   h.size.Width,
		Loss:    loss,
		Configs: configs,
	})
	return nil
}
