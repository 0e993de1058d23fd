// Package distill implements the feature-level losses used for in-place
// distillation from the largest sampled sub-network to smaller ones.
//
// Exactly one variant is active per detector. Variants are selected by name
// with New; an unrecognised name yields the no-op variant, so distillation is
// silently disabled rather than defaulted to a real loss.
package distill

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"

	"github.com/inference-sim/supernet/nas/tensor"
)

// Variant names accepted by New.
const (
	VariantL2        = "L2"
	VariantL2Softmax = "L2Softmax"
	VariantDML       = "DML"
	VariantNonLocal  = "NonLocal"
)

// DefaultNonLocalReduction is the embedding width of the non-local variant.
const DefaultNonLocalReduction = 64

// ValidVariants is the set of recognised variant names.
var ValidVariants = map[string]bool{
	VariantL2:        true,
	VariantL2Softmax: true,
	VariantDML:       true,
	VariantNonLocal:  true,
}

// IsValidVariant returns true if name selects a real distillation loss.
func IsValidVariant(name string) bool {
	return ValidVariants[name]
}

// Loss measures the discrepancy between one level of student features and
// the detached teacher features at the same level. Both tensors must have the
// same shape.
type Loss interface {
	Name() string
	Loss(student, teacher *tensor.Tensor, level int) float64
}

// New creates the distillation loss selected by variant.
// channels is the neck output width (used by NonLocal only); reduction is the
// non-local embedding width (DefaultNonLocalReduction when <= 0); rng seeds
// the non-local projections.
// Unknown names return None.
func New(variant string, channels, reduction int, rng *rand.Rand) Loss {
	switch variant {
	case VariantL2:
		return &L2{}
	case VariantL2Softmax:
		return &L2{Softmax: true}
	case VariantDML:
		return &DML{}
	case VariantNonLocal:
		if reduction <= 0 {
			reduction = DefaultNonLocalReduction
		}
		return NewNonLocal(channels, reduction, rng)
	default:
		return None{}
	}
}

// None is the disabled variant.
type None struct{}

func (None) Name() string                             { return "none" }
func (None) Loss(_, _ *tensor.Tensor, _ int) float64 { return 0 }

// Enabled reports whether l contributes a loss term.
func Enabled(l Loss) bool {
	if l == nil {
		return false
	}
	_, off := l.(None)
	return !off
}

func mustMatch(student, teacher *tensor.Tensor) {
	if student.Shape() != teacher.Shape() {
		panic(fmt.Sprintf("distill: student %v and teacher %v shapes differ", student.Shape(), teacher.Shape()))
	}
}

// spatialSoftmax writes softmax(src) into dst, both of length H*W.
func spatialSoftmax(dst, src []float64) {
	peak := floats.Max(src)
	for i, v := range src {
		dst[i] = math.Exp(v - peak)
	}
	floats.Scale(1/floats.Sum(dst), dst)
}

// L2 is mean squared feature matching, optionally on channel-wise spatial
// softmax distributions.
type L2 struct {
	Softmax bool
}

func (l *L2) Name() string {
	if l.Softmax {
		return VariantL2Softmax
	}
	return VariantL2
}

func (l *L2) Loss(student, teacher *tensor.Tensor, _ int) float64 {
	mustMatch(student, teacher)
	if len(student.Data) == 0 {
		return 0
	}
	if !l.Softmax {
		d := floats.Distance(student.Data, teacher.Data, 2)
		return d * d / float64(len(student.Data))
	}
	hw := student.H * student.W
	ps := make([]float64, hw)
	pt := make([]float64, hw)
	var sum float64
	for n := 0; n < student.N; n++ {
		for c := 0; c < student.C; c++ {
			spatialSoftmax(ps, student.Plane(n, c))
			spatialSoftmax(pt, teacher.Plane(n, c))
			d := floats.Distance(ps, pt, 2)
			sum += d * d
		}
	}
	return sum / float64(len(student.Data))
}

// DML is deep mutual learning: the symmetric KL divergence between the
// channel-wise spatial distributions of the two feature sets, so that each
// side receives the same gradient signal from the other.
type DML struct{}

func (*DML) Name() string { return VariantDML }

func (*DML) Loss(student, teacher *tensor.Tensor, _ int) float64 {
	mustMatch(student, teacher)
	planes := student.N * student.C
	if planes == 0 {
		return 0
	}
	hw := student.H * student.W
	ps := make([]float64, hw)
	pt := make([]float64, hw)
	var sum float64
	for n := 0; n < student.N; n++ {
		for c := 0; c < student.C; c++ {
			spatialSoftmax(ps, student.Plane(n, c))
			spatialSoftmax(pt, teacher.Plane(n, c))
			sum += 0.5 * (kl(ps, pt) + kl(pt, ps))
		}
	}
	return sum / float64(planes)
}

// kl computes KL(p || q) for strictly positive distributions.
func kl(p, q []float64) float64 {
	var d float64
	for i := range p {
		d += p[i] * math.Log(p[i]/q[i])
	}
	return d
}
