package nas

import (
	"context"
	"fmt"
)

// Stage names a lifecycle point at which hooks fire.
type Stage int

const (
	StageBeforeRun Stage = iota
	StageBeforeTrainEpoch
	StageBeforeTrainIter
	StageAfterTrainIter
	StageAfterTrainEpoch
	StageAfterRun
)

func (s Stage) String() string {
	switch s {
	case StageBeforeRun:
		return "before_run"
	case StageBeforeTrainEpoch:
		return "before_train_epoch"
	case StageBeforeTrainIter:
		return "before_train_iter"
	case StageAfterTrainIter:
		return "after_train_iter"
	case StageAfterTrainEpoch:
		return "after_train_epoch"
	case StageAfterRun:
		return "after_run"
	default:
		return fmt.Sprintf("Stage(%d)", int(s))
	}
}

// Priority orders hooks; lower values fire first.
type Priority int

const (
	PriorityHighest     Priority = 0
	PriorityVeryHigh    Priority = 10
	PriorityHigh        Priority = 30
	PriorityAboveNormal Priority = 40
	PriorityNormal      Priority = 50
	PriorityBelowNormal Priority = 60
	PriorityLow         Priority = 70
	PriorityVeryLow     Priority = 90
	PriorityLowest      Priority = 100
)

// Hook receives lifecycle callbacks from the Runner. Embed NopHook to
// implement only the stages of interest.
type Hook interface {
	BeforeRun(ctx context.Context, r *Runner) error
	AfterRun(ctx context.Context, r *Runner) error
	BeforeTrainEpoch(ctx context.Context, r *Runner) error
	AfterTrainEpoch(ctx context.Context, r *Runner) error
	BeforeTrainIter(ctx context.Context, r *Runner) error
	AfterTrainIter(ctx context.Context, r *Runner) error
}

// NopHook implements every Hook method as a no-op.
type NopHook struct{}

func (NopHook) BeforeRun(context.Context, *Runner) error        { return nil }
func (NopHook) AfterRun(context.Context, *Runner) error         { return nil }
func (NopHook) BeforeTrainEpoch(context.Context, *Runner) error { return nil }
func (NopHook) AfterTrainEpoch(context.Context, *Runner) error  { return nil }
func (NopHook) BeforeTrainIter(context.Context, *Runner) error  { return nil }
func (NopHook) AfterTrainIter(context.Context, *Runner) error   { return nil }

type registeredHook struct {
	hook     Hook
	priority Priority
}

// hookList keeps hooks sorted by priority; equal priorities keep
// registration order.
type hookList []registeredHook

func (l hookList) insert(h Hook, p Priority) hookList {
	i := len(l)
	for i > 0 && l[i-1].priority > p {
		i--
	}
	l = append(l, registeredHook{})
	copy(l[i+1:], l[i:])
	l[i] = registeredHook{hook: h, priority: p}
	return l
}

func (l hookList) fire(ctx context.Context, stage Stage, r *Runner) error {
	for _, rh := range l {
		var err error
		switch stage {
		case StageBeforeRun:
			err = rh.hook.BeforeRun(ctx, r)
		case StageAfterRun:
			err = rh.hook.AfterRun(ctx, r)
		case StageBeforeTrainEpoch:
			err = rh.hook.BeforeTrainEpoch(ctx, r)
		case StageAfterTrainEpoch:
			err = rh.hook.AfterTrainEpoch(ctx, r)
		case StageBeforeTrainIter:
			err = rh.hook.BeforeTrainIter(ctx, r)
		case StageAfterTrainIter:
			err = rh.hook.AfterTrainIter(ctx, r)
		}
		if err != nil {
			return fmt.Errorf("%T at %s: %w", rh.hook, stage, err)
		}
	}
	return nil
}
