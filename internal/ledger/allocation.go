package ledger

import (
	"context"
	"time"
)

// Allocation is a live claim on a node's compute/memory plus a per-unit
// fee on the user. Its lifetime is coupled to the scope that created
// it: callers must call Release when done, which schedules a detached
// best-effort release.
type Allocation struct {
	ID             uint64
	NodeID         uint64
	UserID         uint64
	Address        string
	Compute        float64
	Memory         float64
	Fee            float64
	CapabilityTags []string

	ledger     *Ledger
	released   bool
}

// CheckInvalidated implements segment.InvalidationChecker: true iff the
// owning user's balance has fallen non-positive.
func (a *Allocation) CheckInvalidated(ctx context.Context) (bool, error) {
	return a.ledger.checkInvalidated(ctx, a.UserID)
}

// Release schedules a detached release task and returns immediately,
// never blocking the caller on network I/O. Safe to call multiple
// times; only the first call schedules work.
func (a *Allocation) Release() {
	if a.released {
		return
	}
	a.released = true
	go a.ledger.release(a)
}

// release retries up to releaseMaxAttempts times at retryTick
// intervals, decrementing node loads and the user's allocated fee.
// Persistent failure is logged loudly but never propagated — the
// releasing scope has already returned.
func (l *Ledger) release(a *Allocation) {
	ctx := context.Background()
	var lastErr error
	for attempt := 0; attempt < releaseMaxAttempts; attempt++ {
		err := l.store.releaseAllocation(ctx, a)
		if err == nil {
			l.liveAllocations.Add(ctx, -1)
			return
		}
		lastErr = err
		if !IsSerializationFailure(err) {
			break
		}
		time.Sleep(retryTick)
	}
	l.logger.Errorf("ledger: release failed permanently for allocation (node=%d user=%d fee=%.4f): %v",
		a.NodeID, a.UserID, a.Fee, lastErr)
}
