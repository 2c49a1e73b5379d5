package claims

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tmorrow/claimcore/internal/logging"
	"github.com/tmorrow/claimcore/internal/metrics"
)

// Aggregator keeps the per-status claim counts the dashboard polls. The
// service bumps counters on every transition so reads never hit the store;
// Reconcile periodically re-derives the tally and repairs drift.
type Aggregator struct {
	store Store

	mu     sync.RWMutex
	counts StatusCounts
	loaded bool
}

// NewAggregator creates an aggregator over the claim store. Counters start
// empty and lazily load on first read.
func NewAggregator(store Store) *Aggregator {
	return &Aggregator{store: store}
}

// Counts returns the cached tally, loading it from the store on first use.
func (a *Aggregator) Counts(ctx context.Context) (StatusCounts, error) {
	a.mu.RLock()
	if a.loaded {
		counts := a.counts
		a.mu.RUnlock()
		return counts, nil
	}
	a.mu.RUnlock()

	return a.Recount(ctx)
}

// Recount re-derives the tally from the store and replaces the cache.
func (a *Aggregator) Recount(ctx context.Context) (StatusCounts, error) {
	counts, err := a.store.CountByStatus(ctx)
	if err != nil {
		return StatusCounts{}, fmt.Errorf("recount claims: %w", err)
	}

	a.mu.Lock()
	a.counts = counts
	a.loaded = true
	a.mu.Unlock()
	return counts, nil
}

// Apply shifts one claim between status buckets. An empty from means a new
// claim entering the system.
func (a *Aggregator) Apply(from, to Status) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.loaded {
		// Nothing cached yet; the first Counts call will derive the truth.
		return
	}
	if from != "" {
		a.bump(from, -1)
	}
	a.bump(to, 1)
}

// bump must be called with the lock held.
func (a *Aggregator) bump(s Status, delta int64) {
	switch s {
	case StatusPending:
		a.counts.Pending += delta
	case StatusApproved:
		a.counts.Approved += delta
	case StatusRejected:
		a.counts.Rejected += delta
	}
}

// Reconcile compares the cached tally against the store and repairs drift.
// Returns true when the cache already matched.
func (a *Aggregator) Reconcile(ctx context.Context) (bool, error) {
	truth, err := a.store.CountByStatus(ctx)
	if err != nil {
		metrics.AggregatorReconciliationsTotal.WithLabelValues("error").Inc()
		return false, fmt.Errorf("reconcile claims: %w", err)
	}

	a.mu.Lock()
	cached := a.counts
	wasLoaded := a.loaded
	a.counts = truth
	a.loaded = true
	a.mu.Unlock()

	consistent := !wasLoaded || cached == truth
	if consistent {
		metrics.AggregatorReconciliationsTotal.WithLabelValues("consistent").Inc()
	} else {
		metrics.AggregatorReconciliationsTotal.WithLabelValues("repaired").Inc()
		logging.L(ctx).Warn("claim count cache drifted",
			"cached_pending", cached.Pending, "actual_pending", truth.Pending,
			"cached_approved", cached.Approved, "actual_approved", truth.Approved,
			"cached_rejected", cached.Rejected, "actual_rejected", truth.Rejected)
	}
	return consistent, nil
}

// RunReconciler reconciles on the given interval until the context ends.
func (a *Aggregator) RunReconciler(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.Reconcile(ctx); err != nil {
				logging.L(ctx).Error("count reconciliation failed", "error", err)
			}
		}
	}
}

// HealthCheck reports whether the cached tally matches the store. Wired into
// the health registry so drift shows up on /health/ready.
func (a *Aggregator) HealthCheck(ctx context.Context) error {
	a.mu.RLock()
	cached := a.counts
	loaded := a.loaded
	a.mu.RUnlock()

	if !loaded {
		return nil
	}
	truth, err := a.store.CountByStatus(ctx)
	if err != nil {
		return err
	}
	if cached != truth {
		return fmt.Errorf("%w: cached counts %+v, store has %+v", ErrInvariantViolation, cached, truth)
	}
	return nil
}
