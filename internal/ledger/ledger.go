package ledger

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/metric"
	"gorm.io/gorm"

	"github.com/rapidaai/speechgw/internal/logging"
)

const (
	retryTick           = 10 * time.Millisecond
	allocateMaxAttempts = 10
	releaseMaxAttempts  = 10000
	balanceDebitPeriod  = 1 * time.Second
)

// Ledger is the two-phase resource authority: allocate reserves node
// compute/memory and a per-unit fee, release gives them back.
type Ledger struct {
	logger logging.Logger
	store  store

	allocateAttempts metric.Int64Counter
	allocateLatency  metric.Float64Histogram
	liveAllocations  metric.Int64UpDownCounter
}

// New wires a Ledger over db (a postgres or sqlite gorm.DB) and an otel
// Meter for allocation metrics.
func New(logger logging.Logger, db *gorm.DB, meter metric.Meter) (*Ledger, error) {
	l := &Ledger{logger: logger, store: newGormStore(db)}

	var err error
	l.allocateAttempts, err = meter.Int64Counter("ledger.allocate.attempts")
	if err != nil {
		return nil, err
	}
	l.allocateLatency, err = meter.Float64Histogram("ledger.allocate.latency_seconds")
	if err != nil {
		return nil, err
	}
	l.liveAllocations, err = meter.Int64UpDownCounter("ledger.allocations.live")
	if err != nil {
		return nil, err
	}
	return l, nil
}

// Allocate attempts allocation up to allocateMaxAttempts times at a
// retryTick cadence, retrying on serialization failure or
// NotEnoughResources, surfacing any other error immediately.
func (l *Ledger) Allocate(ctx context.Context, userID uint64, taskType TaskType, tariff string) (*Allocation, error) {
	start := time.Now()
	var lastErr error

	for attempt := 0; attempt < allocateMaxAttempts; attempt++ {
		l.allocateAttempts.Add(ctx, 1)

		rec, err := l.store.allocate(ctx, userID, taskType, tariff)
		if err == nil {
			l.allocateLatency.Record(ctx, time.Since(start).Seconds())
			l.liveAllocations.Add(ctx, 1)
			return &Allocation{
				NodeID:         rec.NodeID,
				UserID:         rec.UserID,
				Address:        rec.Address,
				Compute:        rec.Compute,
				Memory:         rec.Memory,
				Fee:            rec.Fee,
				CapabilityTags: rec.CapabilityTags,
				ledger:         l,
			}, nil
		}

		lastErr = err
		if err == ErrUserNotFound || err == ErrNotEnoughBalance {
			return nil, err
		}
		if err != ErrNotEnoughResources && !IsSerializationFailure(err) {
			return nil, newError(KindInternal, "ledger: allocate failed", err)
		}

		select {
		case <-time.After(retryTick):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, newError(KindNotEnoughResources, "ledger: allocate exhausted retries", lastErr)
}

// checkInvalidated reports whether the owning user's balance has
// fallen non-positive since allocation.
func (l *Ledger) checkInvalidated(ctx context.Context, userID uint64) (bool, error) {
	balance, err := l.store.userBalance(ctx, userID)
	if err != nil {
		return false, err
	}
	return balance <= 0, nil
}

// RunBalanceDebiter debits every user's allocated_fee from their balance
// at balanceDebitPeriod until ctx is canceled. Intended to run as a
// single background goroutine for the process lifetime.
func (l *Ledger) RunBalanceDebiter(ctx context.Context) {
	ticker := time.NewTicker(balanceDebitPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.store.debitAllocatedFees(ctx); err != nil {
				l.logger.Errorf("ledger: balance debit tick failed: %v", err)
			}
		}
	}
}
