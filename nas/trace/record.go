// Package trace provides per-iteration architecture recording for analysing
// which sub-networks a weight-sharing run actually trained.
// The package does not import nas; it holds plain data types.
package trace

// ConfigRecord captures one sub-network configuration trained in an iteration.
// Empty factor slices mean the dense super-network default.
type ConfigRecord struct {
	WidenFactor  []float64 `yaml:"widen_factor,omitempty"`
	DeepenFactor []float64 `yaml:"deepen_factor,omitempty"`
}

// IterationRecord captures one training iteration.
type IterationRecord struct {
	Epoch   int            `yaml:"epoch"`
	Iter    int            `yaml:"iter"`
	Height  int            `yaml:"height"`
	Width   int            `yaml:"width"`
	Loss    float64        `yaml:"loss"`
	Configs []ConfigRecord `yaml:"configs"` // in training order; index 0 is the distillation teacher
}
