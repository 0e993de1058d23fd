package dist

import (
	"context"
	"fmt"
	"sync"
)

// Group is shared state for N in-process workers.
// A Group whose barrier was abandoned by a cancelled worker must not be reused.
type Group struct {
	size int

	mu      sync.Mutex
	arrived int
	release chan struct{}
	slot    []int64
}

// NewGroup creates a Group of n workers and returns one Communicator per rank.
// Panics if n < 1.
func NewGroup(n int) []Communicator {
	if n < 1 {
		panic(fmt.Sprintf("dist: group size must be >= 1, got %d", n))
	}
	g := &Group{size: n, release: make(chan struct{})}
	members := make([]Communicator, n)
	for rank := range members {
		members[rank] = &member{group: g, rank: rank}
	}
	return members
}

// wait implements a reusable barrier: the last arrival closes the current
// generation's channel and installs a fresh one for the next round.
func (g *Group) wait(ctx context.Context) error {
	g.mu.Lock()
	release := g.release
	g.arrived++
	if g.arrived == g.size {
		g.arrived = 0
		g.release = make(chan struct{})
		g.mu.Unlock()
		close(release)
		return nil
	}
	g.mu.Unlock()

	select {
	case <-release:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("barrier abandoned: %w", ctx.Err())
	}
}

type member struct {
	group *Group
	rank  int
}

func (m *member) Rank() int      { return m.rank }
func (m *member) WorldSize() int { return m.group.size }

func (m *member) Barrier(ctx context.Context) error {
	return m.group.wait(ctx)
}

func (m *member) Broadcast(ctx context.Context, buf []int64, root int) error {
	g := m.group
	if root < 0 || root >= g.size {
		return fmt.Errorf("broadcast root %d outside group of %d", root, g.size)
	}
	if m.rank == root {
		g.mu.Lock()
		g.slot = append(g.slot[:0], buf...)
		g.mu.Unlock()
	}
	if err := g.wait(ctx); err != nil {
		return err
	}
	if m.rank != root {
		g.mu.Lock()
		if len(g.slot) != len(buf) {
			g.mu.Unlock()
			return fmt.Errorf("broadcast length mismatch: root sent %d values, rank %d expects %d", len(g.slot), m.rank, len(buf))
		}
		copy(buf, g.slot)
		g.mu.Unlock()
	}
	// Second round keeps root from overwriting the slot before every reader copied it.
	return g.wait(ctx)
}
