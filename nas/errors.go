package nas

import "errors"

var (
	// ErrUnconfigured is returned by ForwardTrain when no architecture config
	// (or config set) has been applied since the detector was built.
	ErrUnconfigured = errors.New("detector is unconfigured: apply an architecture config before forward")

	// ErrInvalidStepOutput is returned by the runner when a training step
	// produced no log vars.
	ErrInvalidStepOutput = errors.New("train step must return a StepOutput with log vars")

	// ErrFeatureArity reports teacher and student feature tuples of different
	// lengths. Raised as a panic: the backbone/neck must be arity-invariant.
	ErrFeatureArity = errors.New("teacher and student feature tuples differ in length")
)
