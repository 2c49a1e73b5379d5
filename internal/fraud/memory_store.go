package fraud

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory assessment store for demo/development mode.
type MemoryStore struct {
	byClaim map[string]*Assessment
	order   []string
	mu      sync.RWMutex
}

// NewMemoryStore creates an in-memory assessment store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byClaim: make(map[string]*Assessment)}
}

func (m *MemoryStore) Record(_ context.Context, a *Assessment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *a
	cp.Reasons = append([]string(nil), a.Reasons...)
	if _, seen := m.byClaim[a.ClaimID]; !seen {
		m.order = append(m.order, a.ClaimID)
	}
	// Re-assessment replaces the earlier record for the claim.
	m.byClaim[a.ClaimID] = &cp
	return nil
}

func (m *MemoryStore) GetByClaim(_ context.Context, claimID string) (*Assessment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.byClaim[claimID]
	if !ok {
		return nil, ErrAssessmentNotFound
	}
	cp := *a
	cp.Reasons = append([]string(nil), a.Reasons...)
	return &cp, nil
}

func (m *MemoryStore) ListByLevel(_ context.Context, levels []RiskLevel, limit int) ([]*Assessment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	wanted := make(map[RiskLevel]bool, len(levels))
	for _, l := range levels {
		wanted[l] = true
	}

	var result []*Assessment
	for _, claimID := range m.order {
		a := m.byClaim[claimID]
		if len(wanted) > 0 && !wanted[a.Level] {
			continue
		}
		cp := *a
		cp.Reasons = append([]string(nil), a.Reasons...)
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].AssessedAt.After(result[j].AssessedAt)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

var _ Store = (*MemoryStore)(nil)
