// Package tensor holds the dense NCHW buffers exchanged between the
// search core and its collaborators: input images and the feature tuples
// produced by the backbone and neck.
//
// The package has no dependencies on nas/; it stores pure data and the few
// layout-level operations the training core needs (bilinear resampling,
// detaching feature tuples from the gradient graph).
package tensor

import "fmt"

// Tensor is a dense float64 buffer in NCHW layout.
type Tensor struct {
	N, C, H, W int
	Data       []float64

	detached bool
}

// New allocates a zero-filled tensor of the given shape.
func New(n, c, h, w int) *Tensor {
	return &Tensor{N: n, C: c, H: h, W: w, Data: make([]float64, n*c*h*w)}
}

// FromData wraps data as an NCHW tensor. Panics if len(data) does not match the shape.
func FromData(n, c, h, w int, data []float64) *Tensor {
	if len(data) != n*c*h*w {
		panic(fmt.Sprintf("tensor: %d values do not fit shape [%d %d %d %d]", len(data), n, c, h, w))
	}
	return &Tensor{N: n, C: c, H: h, W: w, Data: data}
}

// Shape returns [N, C, H, W].
func (t *Tensor) Shape() [4]int {
	return [4]int{t.N, t.C, t.H, t.W}
}

// Index returns the flat offset of element (n, c, h, w).
func (t *Tensor) Index(n, c, h, w int) int {
	return ((n*t.C+c)*t.H+h)*t.W + w
}

// At returns element (n, c, h, w).
func (t *Tensor) At(n, c, h, w int) float64 {
	return t.Data[t.Index(n, c, h, w)]
}

// Set assigns element (n, c, h, w).
func (t *Tensor) Set(n, c, h, w int, v float64) {
	t.Data[t.Index(n, c, h, w)] = v
}

// Plane returns the H*W slice of channel c in sample n. The slice aliases t.Data.
func (t *Tensor) Plane(n, c int) []float64 {
	off := t.Index(n, c, 0, 0)
	return t.Data[off : off+t.H*t.W]
}

// Sample returns the C*H*W slice of sample n. The slice aliases t.Data.
func (t *Tensor) Sample(n int) []float64 {
	off := t.Index(n, 0, 0, 0)
	return t.Data[off : off+t.C*t.H*t.W]
}

// Clone returns a deep copy. The detached flag is preserved.
func (t *Tensor) Clone() *Tensor {
	data := make([]float64, len(t.Data))
	copy(data, t.Data)
	return &Tensor{N: t.N, C: t.C, H: t.H, W: t.W, Data: data, detached: t.detached}
}

// Detach returns a copy that is excluded from gradient computation.
// Collaborators that own a gradient graph must not propagate through it.
func (t *Tensor) Detach() *Tensor {
	d := t.Clone()
	d.detached = true
	return d
}

// Detached reports whether the tensor was produced by Detach.
func (t *Tensor) Detached() bool {
	return t.detached
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor[%d %d %d %d]", t.N, t.C, t.H, t.W)
}

// Features is the fixed-length tuple of feature maps produced by a
// backbone+neck pass, ordered from the finest to the coarsest level.
type Features []*Tensor

// Detach detaches every level.
func (f Features) Detach() Features {
	out := make(Features, len(f))
	for i, t := range f {
		out[i] = t.Detach()
	}
	return out
}
