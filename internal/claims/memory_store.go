package claims

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/tmorrow/claimcore/internal/fraud"
)

// MemoryStore is an in-memory claim store for demo/development mode. List
// returns claims in insertion order so the intake queue reads oldest first.
type MemoryStore struct {
	claims map[string]*Claim
	order  []string
	mu     sync.RWMutex
}

// NewMemoryStore creates an in-memory claim store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{claims: make(map[string]*Claim)}
}

func (m *MemoryStore) Create(_ context.Context, c *Claim) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.claims[c.ID]; exists {
		return fmt.Errorf("%w: duplicate claim id %s", ErrInvariantViolation, c.ID)
	}

	cp := clone(c)
	if cp.Version == 0 {
		cp.Version = 1
	}
	m.claims[c.ID] = cp
	m.order = append(m.order, c.ID)
	c.Version = cp.Version
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Claim, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.claims[id]
	if !ok {
		return nil, ErrClaimNotFound
	}
	return clone(c), nil
}

// Update applies an optimistic-concurrency write: the claim lands only when
// its Version matches the stored one, and the version bumps on success.
func (m *MemoryStore) Update(_ context.Context, c *Claim) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.claims[c.ID]
	if !ok {
		return ErrClaimNotFound
	}
	if stored.Version != c.Version {
		return fmt.Errorf("%w: claim %s at version %d, caller has %d",
			ErrVersionConflict, c.ID, stored.Version, c.Version)
	}

	cp := clone(c)
	cp.Version = stored.Version + 1
	cp.UpdatedAt = time.Now().UTC()
	m.claims[c.ID] = cp
	*c = *clone(cp)
	return nil
}

func (m *MemoryStore) List(_ context.Context, status Status, limit, offset int) ([]*Claim, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	var result []*Claim
	skipped := 0
	for _, id := range m.order {
		c := m.claims[id]
		if status != "" && c.Status != status {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		result = append(result, clone(c))
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (m *MemoryStore) CountByStatus(_ context.Context) (StatusCounts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var counts StatusCounts
	for _, c := range m.claims {
		switch c.Status {
		case StatusPending:
			counts.Pending++
		case StatusApproved:
			counts.Approved++
		case StatusRejected:
			counts.Rejected++
		}
	}
	return counts, nil
}

func (m *MemoryStore) RecentByPolicy(_ context.Context, policyID string, since time.Time) ([]fraud.HistoricalClaim, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []fraud.HistoricalClaim
	for _, id := range m.order {
		c := m.claims[id]
		if c.PolicyID != policyID || c.SubmittedAt.Before(since) {
			continue
		}
		amount, err := strconv.ParseFloat(c.Amount, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: claim %s has unparseable amount %q",
				ErrInvariantViolation, c.ID, c.Amount)
		}
		result = append(result, fraud.HistoricalClaim{
			ID:          c.ID,
			PolicyID:    c.PolicyID,
			Claimant:    c.Claimant,
			Amount:      amount,
			SubmittedAt: c.SubmittedAt,
		})
	}
	return result, nil
}

func clone(c *Claim) *Claim {
	cp := *c
	cp.ReceiptIDs = append([]string(nil), c.ReceiptIDs...)
	if c.Risk != nil {
		r := *c.Risk
		r.Reasons = append([]string(nil), c.Risk.Reasons...)
		cp.Risk = &r
	}
	if c.DecidedAt != nil {
		t := *c.DecidedAt
		cp.DecidedAt = &t
	}
	return &cp
}

var _ Store = (*MemoryStore)(nil)
