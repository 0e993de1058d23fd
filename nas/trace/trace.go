package trace

// TraceLevel controls the verbosity of architecture tracing.
type TraceLevel string

const (
	// TraceLevelNone disables tracing (zero overhead).
	TraceLevelNone TraceLevel = "none"
	// TraceLevelArchs captures every configuration trained in every iteration.
	TraceLevelArchs TraceLevel = "archs"
)

// validTraceLevels maps accepted trace level strings.
var validTraceLevels = map[TraceLevel]bool{
	TraceLevelNone:  true,
	TraceLevelArchs: true,
	"":              true, // empty defaults to none
}

// IsValidTraceLevel returns true if the given level string is a recognized trace level.
func IsValidTraceLevel(level string) bool {
	return validTraceLevels[TraceLevel(level)]
}

// TraceConfig controls trace collection behavior.
type TraceConfig struct {
	Level TraceLevel
	RunID string
}

// TrainingTrace collects per-iteration architecture records during a run.
type TrainingTrace struct {
	Config     TraceConfig
	Iterations []IterationRecord
}

// NewTrainingTrace creates a TrainingTrace ready for recording.
func NewTrainingTrace(config TraceConfig) *TrainingTrace {
	return &TrainingTrace{
		Config:     config,
		Iterations: make([]IterationRecord, 0),
	}
}

// Enabled reports whether records should be collected.
func (tt *TrainingTrace) Enabled() bool {
	return tt != nil && tt.Config.Level == TraceLevelArchs
}

// Record appends an iteration record. No-op when tracing is disabled.
func (tt *TrainingTrace) Record(record IterationRecord) {
	if !tt.Enabled() {
		return
	}
	tt.Iterations = append(tt.Iterations, record)
}
