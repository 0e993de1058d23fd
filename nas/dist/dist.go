// Package dist provides the collective-communication capability consumed
// by the training core: rank/world-size queries, a barrier, and a
// root-to-all broadcast of small integer buffers.
//
// Two implementations are provided:
//   - Single: world size 1; every collective is a no-op.
//   - Group: N in-process workers (one goroutine each) sharing a
//     generation-counted barrier.
package dist

import "context"

// Communicator is the collective-communication surface used by the
// multi-scale resizer. All workers must call collectives in the same order.
type Communicator interface {
	Rank() int
	WorldSize() int
	// Barrier blocks until every worker in the group has reached it.
	// There is no timeout: a worker that never arrives stalls the group
	// until ctx is cancelled.
	Barrier(ctx context.Context) error
	// Broadcast copies root's buf into buf on every other worker.
	// All workers must pass buffers of the same length.
	Broadcast(ctx context.Context, buf []int64, root int) error
}

// Single is the world-size-1 communicator.
type Single struct{}

func (Single) Rank() int                                           { return 0 }
func (Single) WorldSize() int                                      { return 1 }
func (Single) Barrier(_ context.Context) error                     { return nil }
func (Single) Broadcast(_ context.Context, _ []int64, _ int) error { return nil }

// IsMaster reports whether c is the rank-0 worker.
func IsMaster(c Communicator) bool {
	return c.Rank() == 0
}
