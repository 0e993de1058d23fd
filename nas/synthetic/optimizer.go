package synthetic

import (
	"context"
	"math"

	"github.com/inference-sim/supernet/nas"
)

// Optimizer treats the total loss as the gradient of a single scalar
// parameter and applies SGD with momentum to it.
type Optimizer struct {
	cfg nas.OptimizerConfig

	Param     float64
	grad      float64
	velocity  float64
	Steps     int
	Backwards int
}

// NewOptimizer creates an Optimizer with the given hyper-parameters.
func NewOptimizer(cfg nas.OptimizerConfig) *Optimizer {
	return &Optimizer{cfg: cfg, Param: 1}
}

func (o *Optimizer) ZeroGrad() { o.grad = 0 }

func (o *Optimizer) Backward(ctx context.Context, out *nas.StepOutput, scale float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	o.grad += out.Loss * scale
	o.Backwards++
	return nil
}

// ClipGradNorm clips the scalar gradient to maxNorm. For a scalar every
// p-norm equals the absolute value, so normType only has to be positive.
func (o *Optimizer) ClipGradNorm(maxNorm, _ float64) float64 {
	norm := math.Abs(o.grad)
	if norm > maxNorm {
		o.grad *= maxNorm / norm
	}
	return norm
}

// Grad returns the accumulated gradient.
func (o *Optimizer) Grad() float64 { return o.grad }

func (o *Optimizer) Step(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g := o.grad + o.cfg.WeightDecay*o.Param
	o.velocity = o.cfg.Momentum*o.velocity + g
	if o.cfg.Nesterov {
		g += o.cfg.Momentum * o.velocity
	} else {
		g = o.velocity
	}
	o.Param -= o.cfg.LR * g
	o.Steps++
	return nil
}
