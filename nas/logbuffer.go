package nas

import "sort"

// LogBuffer accumulates sample-weighted log vars between log flushes.
type LogBuffer struct {
	sums   map[string]float64
	counts map[string]int
}

// NewLogBuffer creates an empty LogBuffer.
func NewLogBuffer() *LogBuffer {
	return &LogBuffer{
		sums:   make(map[string]float64),
		counts: make(map[string]int),
	}
}

// Update adds vars weighted by count (the number of samples they cover).
// A non-positive count is treated as 1.
func (b *LogBuffer) Update(vars map[string]float64, count int) {
	if count <= 0 {
		count = 1
	}
	for k, v := range vars {
		b.sums[k] += v * float64(count)
		b.counts[k] += count
	}
}

// Average returns the weighted mean of every key since the last Clear.
func (b *LogBuffer) Average() map[string]float64 {
	out := make(map[string]float64, len(b.sums))
	for k, s := range b.sums {
		out[k] = s / float64(b.counts[k])
	}
	return out
}

// Keys returns the buffered names in sorted order.
func (b *LogBuffer) Keys() []string {
	keys := make([]string, 0, len(b.sums))
	for k := range b.sums {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Empty reports whether nothing was buffered since the last Clear.
func (b *LogBuffer) Empty() bool {
	return len(b.sums) == 0
}

// Clear drops all buffered values.
func (b *LogBuffer) Clear() {
	clear(b.sums)
	clear(b.counts)
}
