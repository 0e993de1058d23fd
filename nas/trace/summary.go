package trace

import "fmt"

// TraceSummary aggregates statistics from a TrainingTrace.
type TraceSummary struct {
	TotalIterations int
	TotalConfigs    int
	DenseConfigs    int
	MeanLoss        float64
	// ResolutionCounts maps "HxW" to the number of iterations trained at it.
	ResolutionCounts map[string]int
	// WidenCounts[slot][factor] counts how often factor was trained in slot.
	WidenCounts []map[float64]int
	// DeepenCounts[slot][factor] counts how often factor was trained in slot.
	DeepenCounts []map[float64]int
}

// Summarize computes aggregate statistics from a TrainingTrace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(tt *TrainingTrace) *TraceSummary {
	summary := &TraceSummary{
		ResolutionCounts: make(map[string]int),
	}
	if tt == nil {
		return summary
	}

	summary.TotalIterations = len(tt.Iterations)
	totalLoss := 0.0
	for _, it := range tt.Iterations {
		summary.ResolutionCounts[fmt.Sprintf("%dx%d", it.Height, it.Width)]++
		totalLoss += it.Loss
		for _, c := range it.Configs {
			summary.TotalConfigs++
			if len(c.WidenFactor) == 0 && len(c.DeepenFactor) == 0 {
				summary.DenseConfigs++
				continue
			}
			summary.WidenCounts = countSlots(summary.WidenCounts, c.WidenFactor)
			summary.DeepenCounts = countSlots(summary.DeepenCounts, c.DeepenFactor)
		}
	}
	if summary.TotalIterations > 0 {
		summary.MeanLoss = totalLoss / float64(summary.TotalIterations)
	}

	return summary
}

func countSlots(counts []map[float64]int, factors []float64) []map[float64]int {
	for len(counts) < len(factors) {
		counts = append(counts, make(map[float64]int))
	}
	for slot, f := range factors {
		counts[slot][f]++
	}
	return counts
}
