package synthetic

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/inference-sim/supernet/nas"
	"github.com/inference-sim/supernet/nas/tensor"
)

// DefaultBaseChannels are the stem + four stage widths at widen factor 1.
var DefaultBaseChannels = []int{4, 8, 16, 32, 64}

// featureStrides are the strides of the three levels handed to the neck.
var featureStrides = []int{8, 16, 32}

// Backbone slices its stage widths by the widen factors and scales its
// activations by the deepen factors.
type Backbone struct {
	BaseChannels []int
	arch         nas.ArchitectureConfig
	SetCalls     int
}

// NewBackbone creates a Backbone with DefaultBaseChannels.
func NewBackbone() *Backbone {
	return &Backbone{BaseChannels: DefaultBaseChannels}
}

func (b *Backbone) SetArch(arch nas.ArchitectureConfig) {
	b.arch = arch.Clone()
	b.SetCalls++
}

// Arch returns the last applied config.
func (b *Backbone) Arch() nas.ArchitectureConfig { return b.arch }

// Channels returns the effective width of stage i.
func (b *Backbone) Channels(stage int) int {
	return max(1, int(math.Round(float64(b.BaseChannels[stage])*factor(b.arch.WidenFactor, stage))))
}

func (b *Backbone) Forward(images *tensor.Tensor) tensor.Features {
	out := make(tensor.Features, len(featureStrides))
	for level, stride := range featureStrides {
		stage := len(b.BaseChannels) - len(featureStrides) + level
		depth := factor(b.arch.DeepenFactor, stage-1)
		out[level] = project(pool(images, stride), b.Channels(stage), 0.5+0.5*depth)
	}
	return out
}

// Neck maps each level to OutChannels regardless of the applied config.
type Neck struct {
	Channels int
	arch     nas.ArchitectureConfig
}

// NewNeck creates a Neck with the given output width.
func NewNeck(outChannels int) *Neck {
	return &Neck{Channels: outChannels}
}

func (n *Neck) SetArch(arch nas.ArchitectureConfig) { n.arch = arch.Clone() }
func (n *Neck) OutChannels() int                    { return n.Channels }

func (n *Neck) Forward(features tensor.Features) tensor.Features {
	gain := factor(n.arch.WidenFactor, len(n.arch.WidenFactor)-1)
	out := make(tensor.Features, len(features))
	for i, f := range features {
		out[i] = project(meanChannels(f), n.Channels, gain)
	}
	return out
}

// Head turns features into three positive loss terms.
type Head struct {
	arch     nas.ArchitectureConfig
	SetCalls int
}

// NewHead creates a Head.
func NewHead() *Head { return &Head{} }

func (h *Head) SetArch(arch nas.ArchitectureConfig) {
	h.arch = arch.Clone()
	h.SetCalls++
}

func (h *Head) ForwardTrain(features tensor.Features, _ []nas.ImageMeta, boxes []nas.Boxes, labels [][]int) (nas.HeadLosses, error) {
	if len(features) == 0 {
		return nas.HeadLosses{}, fmt.Errorf("head received no feature levels")
	}
	fine := features[0]
	if len(boxes) != fine.N || len(labels) != fine.N {
		return nas.HeadLosses{}, fmt.Errorf("batch of %d images has %d box lists and %d label lists", fine.N, len(boxes), len(labels))
	}
	mean, variance := stat.PopMeanVariance(fine.Data, nil)
	imgH := float64(fine.H * featureStrides[0])
	imgW := float64(fine.W * featureStrides[0])
	var area float64
	for _, bs := range boxes {
		for _, b := range bs {
			area += (b[2] - b[0]) * (b[3] - b[1]) / (imgH * imgW)
		}
	}
	area /= float64(fine.N)
	return nas.HeadLosses{
		Cls:  (mean-0.5)*(mean-0.5) + 0.01,
		Bbox: math.Abs(area-mean) + 0.01,
		Obj:  variance + 0.01,
	}, nil
}

// factor returns factors[i], or 1 for a dense config.
func factor(factors []float64, i int) float64 {
	if i < 0 || i >= len(factors) {
		return 1
	}
	return factors[i]
}

// pool averages stride x stride windows over all image channels into one plane.
func pool(images *tensor.Tensor, stride int) *tensor.Tensor {
	h := (images.H + stride - 1) / stride
	w := (images.W + stride - 1) / stride
	out := tensor.New(images.N, 1, h, w)
	counts := make([]float64, h*w)
	for n := 0; n < images.N; n++ {
		clear(counts)
		dst := out.Plane(n, 0)
		for c := 0; c < images.C; c++ {
			src := images.Plane(n, c)
			for y := 0; y < images.H; y++ {
				for x := 0; x < images.W; x++ {
					j := (y/stride)*w + x/stride
					dst[j] += src[y*images.W+x]
					counts[j]++
				}
			}
		}
		for j := range dst {
			dst[j] /= counts[j]
		}
	}
	return out
}

// meanChannels averages all channels into one plane.
func meanChannels(f *tensor.Tensor) *tensor.Tensor {
	out := tensor.New(f.N, 1, f.H, f.W)
	for n := 0; n < f.N; n++ {
		dst := out.Plane(n, 0)
		for c := 0; c < f.C; c++ {
			for j, v := range f.Plane(n, c) {
				dst[j] += v / float64(f.C)
			}
		}
	}
	return out
}

// project broadcasts a single-plane tensor to channels, channel c scaled by
// gain*(1+c/channels).
func project(single *tensor.Tensor, channels int, gain float64) *tensor.Tensor {
	out := tensor.New(single.N, channels, single.H, single.W)
	for n := 0; n < single.N; n++ {
		src := single.Plane(n, 0)
		for c := 0; c < channels; c++ {
			scale := gain * (1 + float64(c)/float64(channels))
			dst := out.Plane(n, c)
			for j, v := range src {
				dst[j] = v * scale
			}
		}
	}
	return out
}
