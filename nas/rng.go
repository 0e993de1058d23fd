package nas

import (
	"fmt"
	"hash/fnv"
	"math/rand"
)

// === RunKey ===

// RunKey identifies a reproducible training run. Two runs with the same
// RunKey and identical configuration draw identical architecture and
// resolution sequences.
type RunKey int64

// DefaultSeed is the fixed seed used when the caller does not supply one.
// Every run that keeps the default samples the same architecture sequence;
// reseed with --seed to decorrelate independent runs.
const DefaultSeed int64 = 0

// NewRunKey creates a RunKey from a seed value.
func NewRunKey(seed int64) RunKey {
	return RunKey(seed)
}

// === Subsystem Constants ===

const (
	// SubsystemSampler is the RNG subsystem for architecture sampling.
	// Uses master seed directly.
	SubsystemSampler = "sampler"

	// SubsystemResize is the RNG subsystem for multi-scale resolution draws.
	SubsystemResize = "resize"

	// SubsystemDistill seeds the projection weights of parameterised
	// distillation losses.
	SubsystemDistill = "distill"

	// SubsystemData is the RNG subsystem for synthetic batch generation.
	SubsystemData = "data"
)

// SubsystemWorker returns the subsystem name for worker rank N.
func SubsystemWorker(rank int) string {
	return fmt.Sprintf("worker_%d", rank)
}

// === PartitionedRNG ===

// PartitionedRNG provides deterministic, isolated RNG instances per subsystem.
//
// Derivation formula:
//   - For SubsystemSampler: uses masterSeed directly
//   - For all other subsystems: masterSeed XOR fnv1a64(subsystemName)
//
// Thread-safety: NOT thread-safe. Each worker owns its own PartitionedRNG.
type PartitionedRNG struct {
	key        RunKey
	subsystems map[string]*rand.Rand
}

// NewPartitionedRNG creates a PartitionedRNG from a RunKey.
func NewPartitionedRNG(key RunKey) *PartitionedRNG {
	return &PartitionedRNG{
		key:        key,
		subsystems: make(map[string]*rand.Rand),
	}
}

// ForSubsystem returns a deterministically-seeded RNG for the named subsystem.
// The same subsystem name always returns the same *rand.Rand instance (cached).
// Never returns nil.
func (p *PartitionedRNG) ForSubsystem(name string) *rand.Rand {
	if rng, ok := p.subsystems[name]; ok {
		return rng
	}

	var derivedSeed int64
	if name == SubsystemSampler {
		derivedSeed = int64(p.key)
	} else {
		derivedSeed = int64(p.key) ^ fnv1a64(name)
	}

	rng := rand.New(rand.NewSource(derivedSeed))
	p.subsystems[name] = rng
	return rng
}

// Key returns the RunKey used to create this PartitionedRNG.
func (p *PartitionedRNG) Key() RunKey {
	return p.key
}

// fnv1a64 computes a 64-bit FNV-1a hash of the input string.
func fnv1a64(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int64(h.Sum64())
}
