package synthetic

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/inference-sim/supernet/nas"
	"github.com/inference-sim/supernet/nas/tensor"
)

// LoaderConfig sizes the synthetic dataset.
type LoaderConfig struct {
	Batches    int
	BatchSize  int
	Channels   int
	InputSize  nas.Resolution
	MaxBoxes   int
	NumClasses int
}

// Loader generates random batches at the default input size.
// Batches are drawn lazily from rng, so Load must be called in order.
type Loader struct {
	cfg LoaderConfig
	rng *rand.Rand
}

// NewLoader creates a Loader drawing from rng.
func NewLoader(cfg LoaderConfig, rng *rand.Rand) *Loader {
	return &Loader{cfg: cfg, rng: rng}
}

func (l *Loader) Len() int { return l.cfg.Batches }

func (l *Loader) Load(ctx context.Context, i int) (*nas.Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if i < 0 || i >= l.cfg.Batches {
		return nil, fmt.Errorf("batch index %d out of range [0, %d)", i, l.cfg.Batches)
	}
	h, w := l.cfg.InputSize.Height, l.cfg.InputSize.Width
	images := tensor.New(l.cfg.BatchSize, l.cfg.Channels, h, w)
	for j := range images.Data {
		images.Data[j] = l.rng.Float64()
	}
	batch := &nas.Batch{
		Images: images,
		Metas:  make([]nas.ImageMeta, l.cfg.BatchSize),
		Boxes:  make([]nas.Boxes, l.cfg.BatchSize),
		Labels: make([][]int, l.cfg.BatchSize),
	}
	for n := 0; n < l.cfg.BatchSize; n++ {
		batch.Metas[n] = nas.ImageMeta{
			Filename:    fmt.Sprintf("synthetic_%06d_%02d.jpg", i, n),
			ImgShape:    l.cfg.InputSize,
			PadShape:    l.cfg.InputSize,
			ScaleFactor: 1,
		}
		count := 1 + l.rng.Intn(max(l.cfg.MaxBoxes, 1))
		for k := 0; k < count; k++ {
			x0 := l.rng.Float64() * float64(w-1)
			y0 := l.rng.Float64() * float64(h-1)
			x1 := x0 + 1 + l.rng.Float64()*(float64(w)-x0-1)
			y1 := y0 + 1 + l.rng.Float64()*(float64(h)-y0-1)
			batch.Boxes[n] = append(batch.Boxes[n], nas.Box{x0, y0, x1, y1})
			batch.Labels[n] = append(batch.Labels[n], l.rng.Intn(max(l.cfg.NumClasses, 1)))
		}
	}
	return batch, nil
}
