package nas

import (
	"context"

	"github.com/inference-sim/supernet/nas/tensor"
)

// Box is a ground-truth box in [tl_x, tl_y, br_x, br_y] pixel coordinates.
type Box [4]float64

// Boxes holds the ground-truth boxes of one image.
type Boxes []Box

// ImageMeta carries per-image bookkeeping produced by the data pipeline.
type ImageMeta struct {
	Filename    string
	ImgShape    Resolution
	PadShape    Resolution
	ScaleFactor float64
	Flip        bool
}

// Batch is one collated training batch.
type Batch struct {
	Images *tensor.Tensor // NCHW, at the compiled default resolution
	Metas  []ImageMeta
	Boxes  []Boxes // per image
	Labels [][]int // per image, class index per box
}

// Size returns the number of images in the batch.
func (b *Batch) Size() int {
	if b.Images == nil {
		return 0
	}
	return b.Images.N
}

// DataLoader yields the batches of one epoch in order.
type DataLoader interface {
	Len() int
	Load(ctx context.Context, i int) (*Batch, error)
}
