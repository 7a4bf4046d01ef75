package services

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/osvaldoandrade/gdtrelay/internal/analyzer"
	"golang.org/x/sync/semaphore"
)

// sharedGate admits one shared-summary run at a time. At most queue callers
// wait; waiting stops when the caller's context ends.
type sharedGate struct {
	sem     *semaphore.Weighted
	queue   int64
	waiting atomic.Int64
}

func newSharedGate(queue int) *sharedGate {
	if queue < 0 {
		queue = 0
	}
	return &sharedGate{sem: semaphore.NewWeighted(1), queue: int64(queue)}
}

func (g *sharedGate) acquire(ctx context.Context) error {
	if g.sem.TryAcquire(1) {
		return nil
	}
	if g.waiting.Add(1) > g.queue {
		g.waiting.Add(-1)
		return analyzer.ErrBusy
	}
	defer g.waiting.Add(-1)
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("waiting for shared analyzer run: %w", err)
	}
	return nil
}

func (g *sharedGate) release() { g.sem.Release(1) }
