package nas

import (
	"fmt"
	"slices"
)

// Default stage counts of the searchable CSP backbone: four stages plus the
// stem take a width factor; the four CSP stages take a depth factor.
const (
	DefaultWidenStages  = 5
	DefaultDeepenStages = 4
)

// SearchSpace is the immutable description of what the sampler may draw.
// Treat values as read-only after construction; Clone before modifying.
type SearchSpace struct {
	WidenFactorRange  []float64 // allowed channel-width multipliers
	DeepenFactorRange []float64 // allowed block-depth multipliers
	WidenStages       int       // stages needing a width factor
	DeepenStages      int       // stages needing a depth factor
	SearchBackbone    bool
	SearchNeck        bool
	SearchHead        bool // accepted for completeness; head search is not wired (see Detector.ApplyConfig)
}

// Validate checks that the ranges and stage counts are usable.
func (s SearchSpace) Validate() error {
	if s.SearchBackbone {
		if len(s.WidenFactorRange) == 0 {
			return fmt.Errorf("widen_factor_range must not be empty when searching the backbone")
		}
		if len(s.DeepenFactorRange) == 0 {
			return fmt.Errorf("deepen_factor_range must not be empty when searching the backbone")
		}
	}
	for _, f := range s.WidenFactorRange {
		if f <= 0 {
			return fmt.Errorf("widen factors must be positive, got %v", f)
		}
	}
	for _, f := range s.DeepenFactorRange {
		if f <= 0 {
			return fmt.Errorf("deepen factors must be positive, got %v", f)
		}
	}
	if s.WidenStages < 0 || s.DeepenStages < 0 {
		return fmt.Errorf("stage counts must be non-negative, got widen=%d deepen=%d", s.WidenStages, s.DeepenStages)
	}
	return nil
}

// Clone returns a deep copy.
func (s SearchSpace) Clone() SearchSpace {
	c := s
	c.WidenFactorRange = slices.Clone(s.WidenFactorRange)
	c.DeepenFactorRange = slices.Clone(s.DeepenFactorRange)
	return c
}

// ArchitectureConfig is one sampled sub-network. Empty factor slices mean
// the dense super-network default.
type ArchitectureConfig struct {
	WidenFactor  []float64 `yaml:"widen_factor,omitempty"`
	DeepenFactor []float64 `yaml:"deepen_factor,omitempty"`
}

// IsDense reports whether the config carries no factors.
func (a ArchitectureConfig) IsDense() bool {
	return len(a.WidenFactor) == 0 && len(a.DeepenFactor) == 0
}

// Clone returns a deep copy.
func (a ArchitectureConfig) Clone() ArchitectureConfig {
	return ArchitectureConfig{
		WidenFactor:  slices.Clone(a.WidenFactor),
		DeepenFactor: slices.Clone(a.DeepenFactor),
	}
}

// Equal reports element-wise equality.
func (a ArchitectureConfig) Equal(b ArchitectureConfig) bool {
	return slices.Equal(a.WidenFactor, b.WidenFactor) && slices.Equal(a.DeepenFactor, b.DeepenFactor)
}

// Within reports whether every factor is a member of its range in s.
// Dense configs are always within.
func (a ArchitectureConfig) Within(s SearchSpace) bool {
	for _, f := range a.WidenFactor {
		if !slices.Contains(s.WidenFactorRange, f) {
			return false
		}
	}
	for _, f := range a.DeepenFactor {
		if !slices.Contains(s.DeepenFactorRange, f) {
			return false
		}
	}
	return true
}

func (a ArchitectureConfig) String() string {
	if a.IsDense() {
		return "dense"
	}
	return fmt.Sprintf("widen=%v deepen=%v", a.WidenFactor, a.DeepenFactor)
}

// ArchitectureConfigSet is the ordered list of configs trained in one step.
// Index 0 is the distillation teacher.
type ArchitectureConfigSet []ArchitectureConfig
