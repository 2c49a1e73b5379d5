package rules

import (
	"context"
	"sync"
	"time"
)

// MemoryCatalog is an in-memory rule catalog for demo/development mode.
type MemoryCatalog struct {
	rules map[string]*Rule
	mu    sync.RWMutex
}

// NewMemoryCatalog creates an empty in-memory catalog.
func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{rules: make(map[string]*Rule)}
}

func (m *MemoryCatalog) Upsert(_ context.Context, r *Rule) error {
	if err := r.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *r
	now := time.Now().UTC()
	if existing, ok := m.rules[r.ID]; ok {
		cp.CreatedAt = existing.CreatedAt
	} else if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	m.rules[r.ID] = &cp
	*r = cp
	return nil
}

func (m *MemoryCatalog) Get(_ context.Context, id string) (*Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rules[id]
	if !ok {
		return nil, ErrRuleNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryCatalog) List(_ context.Context) ([]*Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Rule, 0, len(m.rules))
	for _, r := range m.rules {
		cp := *r
		result = append(result, &cp)
	}
	SortByPriority(result)
	return result, nil
}

func (m *MemoryCatalog) ListActive(_ context.Context) ([]*Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Rule
	for _, r := range m.rules {
		if r.Active {
			cp := *r
			result = append(result, &cp)
		}
	}
	SortByPriority(result)
	return result, nil
}

// SetActive toggles a rule. Setting the current state again is a no-op, not
// an error.
func (m *MemoryCatalog) SetActive(_ context.Context, id string, active bool) (*Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rules[id]
	if !ok {
		return nil, ErrRuleNotFound
	}
	if r.Active != active {
		r.Active = active
		r.UpdatedAt = time.Now().UTC()
	}
	cp := *r
	return &cp, nil
}

var _ Catalog = (*MemoryCatalog)(nil)

// MemoryEvaluationStore keeps evaluation runs in memory.
type MemoryEvaluationStore struct {
	byClaim map[string][]*Evaluation
	mu      sync.RWMutex
}

// NewMemoryEvaluationStore creates an in-memory evaluation store.
func NewMemoryEvaluationStore() *MemoryEvaluationStore {
	return &MemoryEvaluationStore{byClaim: make(map[string][]*Evaluation)}
}

func (m *MemoryEvaluationStore) Record(_ context.Context, ev *Evaluation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *ev
	cp.Results = append([]RuleResult(nil), ev.Results...)
	m.byClaim[ev.ClaimID] = append(m.byClaim[ev.ClaimID], &cp)
	return nil
}

func (m *MemoryEvaluationStore) ListByClaim(_ context.Context, claimID string) ([]*Evaluation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := m.byClaim[claimID]
	result := make([]*Evaluation, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		cp := *all[i]
		cp.Results = append([]RuleResult(nil), all[i].Results...)
		result = append(result, &cp)
	}
	return result, nil
}

var _ EvaluationStore = (*MemoryEvaluationStore)(nil)
