package nas

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/supernet/nas/dist"
)

// Resolution is an input image size, (height, width).
type Resolution struct {
	Height int `yaml:"height"`
	Width  int `yaml:"width"`
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Height, r.Width)
}

// ResizeConfig groups multi-scale training parameters.
type ResizeConfig struct {
	InputSize          Resolution `yaml:"input_size"`           // compiled default resolution
	SizeMultiplier     int        `yaml:"size_multiplier"`      // resolutions are multiples of this
	RandomSizeRange    [2]int     `yaml:"random_size_range"`    // inclusive [low, high], in multiplier units
	RandomSizeInterval int        `yaml:"random_size_interval"` // iterations between draws
}

// Validate checks the resize parameters.
func (c ResizeConfig) Validate() error {
	if c.InputSize.Height <= 0 || c.InputSize.Width <= 0 {
		return fmt.Errorf("input_size must be positive, got %v", c.InputSize)
	}
	if c.SizeMultiplier <= 0 {
		return fmt.Errorf("size_multiplier must be positive, got %d", c.SizeMultiplier)
	}
	if c.RandomSizeRange[0] <= 0 || c.RandomSizeRange[1] < c.RandomSizeRange[0] {
		return fmt.Errorf("random_size_range must satisfy 0 < low <= high, got %v", c.RandomSizeRange)
	}
	if c.RandomSizeInterval <= 0 {
		return fmt.Errorf("random_size_interval must be positive, got %d", c.RandomSizeInterval)
	}
	return nil
}

// Resizer periodically draws a new training resolution and keeps it
// identical across workers: rank 0 draws, every worker meets at a barrier,
// then rank 0 broadcasts. The barrier has no timeout.
type Resizer struct {
	cfg  ResizeConfig
	comm dist.Communicator
	rng  *rand.Rand
}

// NewResizer creates a Resizer. rng is only read on rank 0.
func NewResizer(cfg ResizeConfig, comm dist.Communicator, rng *rand.Rand) *Resizer {
	return &Resizer{cfg: cfg, comm: comm, rng: rng}
}

// Due reports whether iteration triggers a draw.
func (r *Resizer) Due(iteration int64) bool {
	return (iteration+1)%int64(r.cfg.RandomSizeInterval) == 0
}

// MaybeResize returns a freshly drawn resolution when iteration is due and
// current otherwise. World size 1 skips the barrier and broadcast.
func (r *Resizer) MaybeResize(ctx context.Context, iteration int64, current Resolution) (Resolution, error) {
	if !r.Due(iteration) {
		return current, nil
	}

	buf := make([]int64, 2)
	if dist.IsMaster(r.comm) {
		next := r.draw()
		buf[0], buf[1] = int64(next.Height), int64(next.Width)
	}

	if r.comm.WorldSize() > 1 {
		// Workers can arrive here with different backward timings; meet first
		// so every rank reads the same draw.
		if err := r.comm.Barrier(ctx); err != nil {
			return current, fmt.Errorf("resize barrier at iteration %d: %w", iteration, err)
		}
		if err := r.comm.Broadcast(ctx, buf, 0); err != nil {
			return current, fmt.Errorf("resize broadcast at iteration %d: %w", iteration, err)
		}
	}

	next := Resolution{Height: int(buf[0]), Width: int(buf[1])}
	logrus.Debugf("[iter %07d] rank %d input size %v -> %v", iteration, r.comm.Rank(), current, next)
	return next, nil
}

func (r *Resizer) draw() Resolution {
	lo, hi := r.cfg.RandomSizeRange[0], r.cfg.RandomSizeRange[1]
	size := lo + r.rng.Intn(hi-lo+1)
	aspect := float64(r.cfg.InputSize.Width) / float64(r.cfg.InputSize.Height)
	return Resolution{
		Height: r.cfg.SizeMultiplier * size,
		Width:  r.cfg.SizeMultiplier * int(math.Round(float64(size)*aspect)),
	}
}
