package nas

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/inference-sim/supernet/nas/distill"
	"github.com/inference-sim/supernet/nas/trace"
)

// SearchConfig is the YAML form of SearchSpace.
type SearchConfig struct {
	WidenFactorRange  []float64 `yaml:"widen_factor_range"`
	DeepenFactorRange []float64 `yaml:"deepen_factor_range"`
	WidenStages       int       `yaml:"widen_stages"`
	DeepenStages      int       `yaml:"deepen_stages"`
	SearchFlags       `yaml:",inline"`
}

// Space converts the YAML form into a SearchSpace.
func (c SearchConfig) Space() SearchSpace {
	return SearchSpace{
		WidenFactorRange:  c.WidenFactorRange,
		DeepenFactorRange: c.DeepenFactorRange,
		WidenStages:       c.WidenStages,
		DeepenStages:      c.DeepenStages,
		SearchBackbone:    c.Backbone,
		SearchNeck:        c.Neck,
		SearchHead:        c.Head,
	}.Clone()
}

// OptimizerConfig configures the optimizer collaborator and OptimizerHook.
type OptimizerConfig struct {
	LR              float64   `yaml:"lr"`
	Momentum        float64   `yaml:"momentum"`
	WeightDecay     float64   `yaml:"weight_decay"`
	Nesterov        bool      `yaml:"nesterov"`
	GradClip        *GradClip `yaml:"grad_clip"` // nil = no clipping
	CumulativeIters int       `yaml:"cumulative_iters"`
}

// HooksConfig configures the built-in hooks.
type HooksConfig struct {
	LogInterval        int    `yaml:"log_interval"`
	CheckpointInterval int    `yaml:"checkpoint_interval"`
	CheckpointDir      string `yaml:"checkpoint_dir"`
	Trace              string `yaml:"trace"` // "none" or "archs"
}

// TrainConfig is the full YAML configuration of a search run.
// All top-level sections must be listed to satisfy KnownFields(true) strict parsing.
type TrainConfig struct {
	Seed      int64           `yaml:"seed"`
	Search    SearchConfig    `yaml:"search"`
	Distill   DistillConfig   `yaml:"distill"`
	Resize    ResizeConfig    `yaml:"resize"`
	Runner    RunnerConfig    `yaml:"runner"`
	Optimizer OptimizerConfig `yaml:"optimizer"`
	Hooks     HooksConfig     `yaml:"hooks"`
}

// DefaultTrainConfig returns the searchable YOLOX-S settings: eight width
// multipliers from 0.125 to 1.0, depth multipliers {0.33, 1.0}, 640x640
// input, multi-scale 15..25 x 32 every 10 iterations, 300 epochs.
func DefaultTrainConfig() TrainConfig {
	return TrainConfig{
		Seed: DefaultSeed,
		Search: SearchConfig{
			WidenFactorRange:  []float64{0.125, 0.25, 0.375, 0.5, 0.625, 0.75, 0.875, 1.0},
			DeepenFactorRange: []float64{0.33, 1.0},
			WidenStages:       DefaultWidenStages,
			DeepenStages:      DefaultDeepenStages,
			SearchFlags:       SearchFlags{Backbone: true, Neck: true, Head: false},
		},
		Distill: DistillConfig{
			Variant:           "",
			Weight:            1e-8,
			NonLocalReduction: distill.DefaultNonLocalReduction,
		},
		Resize: ResizeConfig{
			InputSize:          Resolution{Height: 640, Width: 640},
			SizeMultiplier:     32,
			RandomSizeRange:    [2]int{15, 25},
			RandomSizeInterval: 10,
		},
		Runner: RunnerConfig{
			MaxEpochs:  300,
			EpochPause: 2 * time.Second,
			Sandwich:   false,
		},
		Optimizer: OptimizerConfig{
			LR:          0.01,
			Momentum:    0.9,
			WeightDecay: 5e-4,
			Nesterov:    true,
		},
		Hooks: HooksConfig{
			LogInterval:        50,
			CheckpointInterval: 1,
			Trace:              string(trace.TraceLevelNone),
		},
	}
}

// LoadTrainConfig reads a YAML file over DefaultTrainConfig. Unknown keys are errors.
func LoadTrainConfig(path string) (*TrainConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading train config: %w", err)
	}
	cfg := DefaultTrainConfig()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing train config: %w", err)
	}
	return &cfg, nil
}

// Validate checks every section. An unrecognised distillation variant is
// not an error: it disables distillation.
func (c *TrainConfig) Validate() error {
	if err := c.Search.Space().Validate(); err != nil {
		return fmt.Errorf("search: %w", err)
	}
	if err := c.Resize.Validate(); err != nil {
		return fmt.Errorf("resize: %w", err)
	}
	if c.Distill.Weight < 0 {
		return fmt.Errorf("distill: weight must be non-negative, got %g", c.Distill.Weight)
	}
	if c.Distill.NonLocalReduction < 0 {
		return fmt.Errorf("distill: nonlocal_reduction must be non-negative, got %d", c.Distill.NonLocalReduction)
	}
	if c.Runner.MaxEpochs < 0 {
		return fmt.Errorf("runner: max_epochs must be non-negative, got %d", c.Runner.MaxEpochs)
	}
	if c.Runner.EpochPause < 0 {
		return fmt.Errorf("runner: epoch_pause must be non-negative, got %v", c.Runner.EpochPause)
	}
	if c.Optimizer.LR <= 0 {
		return fmt.Errorf("optimizer: lr must be positive, got %g", c.Optimizer.LR)
	}
	if c.Optimizer.CumulativeIters < 0 {
		return fmt.Errorf("optimizer: cumulative_iters must be non-negative, got %d", c.Optimizer.CumulativeIters)
	}
	if gc := c.Optimizer.GradClip; gc != nil && (gc.MaxNorm <= 0 || gc.NormType <= 0) {
		return fmt.Errorf("optimizer: grad_clip max_norm and norm_type must be positive, got %+v", *gc)
	}
	if c.Hooks.LogInterval < 0 || c.Hooks.CheckpointInterval < 0 {
		return fmt.Errorf("hooks: intervals must be non-negative")
	}
	if !trace.IsValidTraceLevel(c.Hooks.Trace) {
		return fmt.Errorf("hooks: unknown trace level %q", c.Hooks.Trace)
	}
	return nil
}

// DetectorConfig extracts the detector's construction parameters.
func (c *TrainConfig) DetectorConfig() DetectorConfig {
	return DetectorConfig{
		Search:  c.Search.SearchFlags,
		Resize:  c.Resize,
		Distill: c.Distill,
	}
}
