package nas

import (
	"fmt"
	"math/rand"
	"slices"
)

// SampleMode selects the sampling policy.
type SampleMode int

const (
	SampleRandom SampleMode = iota
	SampleMax
	SampleMin
)

func (m SampleMode) String() string {
	switch m {
	case SampleRandom:
		return "random"
	case SampleMax:
		return "max"
	case SampleMin:
		return "min"
	default:
		return fmt.Sprintf("SampleMode(%d)", int(m))
	}
}

// ParseSampleMode maps "random", "max" and "min" to a SampleMode.
func ParseSampleMode(s string) (SampleMode, error) {
	switch s {
	case "random", "":
		return SampleRandom, nil
	case "max":
		return SampleMax, nil
	case "min":
		return SampleMin, nil
	default:
		return 0, fmt.Errorf("unknown sample mode %q", s)
	}
}

// Sampler draws architecture configs from a SearchSpace. The random source
// is injected so that runs are reproducible and the sampler has no global state.
//
// Thread-safety: NOT thread-safe (owns a *rand.Rand).
type Sampler struct {
	rng *rand.Rand
}

// NewSampler creates a Sampler backed by rng.
func NewSampler(rng *rand.Rand) *Sampler {
	return &Sampler{rng: rng}
}

// Sample draws one config. RANDOM picks every slot independently and
// uniformly, with replacement; MAX and MIN fill every slot with the range
// extreme. Returns the dense config when the backbone is not searched.
func (s *Sampler) Sample(space SearchSpace, mode SampleMode) ArchitectureConfig {
	if !space.SearchBackbone {
		return ArchitectureConfig{}
	}
	return ArchitectureConfig{
		WidenFactor:  s.fill(space.WidenFactorRange, space.WidenStages, mode),
		DeepenFactor: s.fill(space.DeepenFactorRange, space.DeepenStages, mode),
	}
}

func (s *Sampler) fill(choices []float64, slots int, mode SampleMode) []float64 {
	out := make([]float64, slots)
	switch mode {
	case SampleMax:
		top := slices.Max(choices)
		for i := range out {
			out[i] = top
		}
	case SampleMin:
		bottom := slices.Min(choices)
		for i := range out {
			out[i] = bottom
		}
	default:
		for i := range out {
			out[i] = choices[s.rng.Intn(len(choices))]
		}
	}
	return out
}

// SampleSandwichSet returns [max, min, random, random'] where random' is a
// copy of the random draw before it, not a fresh sample. Index 0 (max) is
// the distillation teacher.
func (s *Sampler) SampleSandwichSet(space SearchSpace) ArchitectureConfigSet {
	largest := s.Sample(space, SampleMax)
	smallest := s.Sample(space, SampleMin)
	current := s.Sample(space, SampleRandom)
	return ArchitectureConfigSet{largest, smallest, current, current.Clone()}
}
