package distill

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/inference-sim/supernet/nas/tensor"
)

// NonLocal matches the non-local (self-attention) maps of student and
// teacher. For each sample, features X (C x HW) are embedded as
// theta = Wθ·X and phi = Wφ·X (reduction x HW), and the attention map
// softmax_rows(thetaᵀ·phi) (HW x HW) is compared with mean squared error.
// Both sides share the same projections, drawn once per feature level.
type NonLocal struct {
	channels  int
	reduction int
	rng       *rand.Rand
	proj      map[int]*projection
}

type projection struct {
	theta, phi *mat.Dense
}

// NewNonLocal creates a non-local loss for features with the given channel
// count and embedding width.
func NewNonLocal(channels, reduction int, rng *rand.Rand) *NonLocal {
	return &NonLocal{
		channels:  channels,
		reduction: reduction,
		rng:       rng,
		proj:      make(map[int]*projection),
	}
}

func (*NonLocal) Name() string { return VariantNonLocal }

// Reduction returns the embedding width.
func (nl *NonLocal) Reduction() int { return nl.reduction }

func (nl *NonLocal) Loss(student, teacher *tensor.Tensor, level int) float64 {
	mustMatch(student, teacher)
	if student.C != nl.channels {
		panic(fmt.Sprintf("distill: non-local loss built for %d channels, got %d", nl.channels, student.C))
	}
	hw := student.H * student.W
	if student.N == 0 || hw == 0 {
		return 0
	}
	p := nl.projectionFor(level)
	var sum float64
	for n := 0; n < student.N; n++ {
		as := p.attention(student.Sample(n), nl.channels, hw)
		at := p.attention(teacher.Sample(n), nl.channels, hw)
		d := floats.Distance(as.RawMatrix().Data, at.RawMatrix().Data, 2)
		sum += d * d / float64(hw*hw)
	}
	return sum / float64(student.N)
}

func (nl *NonLocal) projectionFor(level int) *projection {
	if p, ok := nl.proj[level]; ok {
		return p
	}
	scale := 1 / math.Sqrt(float64(nl.channels))
	draw := func() *mat.Dense {
		w := make([]float64, nl.reduction*nl.channels)
		for i := range w {
			w[i] = nl.rng.NormFloat64() * scale
		}
		return mat.NewDense(nl.reduction, nl.channels, w)
	}
	p := &projection{theta: draw(), phi: draw()}
	nl.proj[level] = p
	return p
}

// attention returns the row-softmaxed HW x HW affinity of one sample.
func (p *projection) attention(sample []float64, channels, hw int) *mat.Dense {
	x := mat.NewDense(channels, hw, sample)
	var theta, phi, aff mat.Dense
	theta.Mul(p.theta, x)
	phi.Mul(p.phi, x)
	aff.Mul(theta.T(), &phi)
	row := make([]float64, hw)
	for i := 0; i < hw; i++ {
		mat.Row(row, i, &aff)
		spatialSoftmax(row, row)
		aff.SetRow(i, row)
	}
	return &aff
}
