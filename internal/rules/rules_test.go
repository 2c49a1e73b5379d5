package rules

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmorrow/claimcore/internal/testutil"
)

func TestMemoryCatalog_UpsertValidates(t *testing.T) {
	ctx := context.Background()
	cat := NewMemoryCatalog()

	err := cat.Upsert(ctx, &Rule{
		ID:       "rule_bad",
		Name:     "No Threshold",
		Type:     TypeThreshold,
		Priority: PriorityHigh,
	})
	require.Error(t, err, "threshold rule without maxAmount must be rejected")

	err = cat.Upsert(ctx, &Rule{
		ID:       "rule_bad_priority",
		Name:     "Bad Priority",
		Type:     TypeValidation,
		Priority: "urgent",
	})
	require.Error(t, err, "unknown priority must be rejected")

	err = cat.Upsert(ctx, &Rule{
		ID:       "rule_ok",
		Name:     "Cap",
		Type:     TypeThreshold,
		Priority: PriorityHigh,
		Active:   true,
		Params:   Params{MaxAmount: 1000},
	})
	require.NoError(t, err)

	got, err := cat.Get(ctx, "rule_ok")
	require.NoError(t, err)
	assert.Equal(t, "Cap", got.Name)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestMemoryCatalog_UpsertPreservesCreatedAt(t *testing.T) {
	ctx := context.Background()
	cat := NewMemoryCatalog()

	r := &Rule{ID: "rule_1", Name: "v1", Type: TypeValidation, Priority: PriorityLow}
	require.NoError(t, cat.Upsert(ctx, r))
	created := r.CreatedAt

	r2 := &Rule{ID: "rule_1", Name: "v2", Type: TypeValidation, Priority: PriorityLow}
	require.NoError(t, cat.Upsert(ctx, r2))

	assert.Equal(t, created, r2.CreatedAt, "update must keep original creation time")
	assert.Equal(t, "v2", r2.Name)
}

func TestMemoryCatalog_ListActiveOrdering(t *testing.T) {
	ctx := context.Background()
	cat := NewMemoryCatalog()

	for _, r := range []*Rule{
		{ID: "rule_b_low", Name: "b", Type: TypeValidation, Priority: PriorityLow, Active: true},
		{ID: "rule_z_critical", Name: "z", Type: TypeValidation, Priority: PriorityCritical, Active: true},
		{ID: "rule_a_high", Name: "a", Type: TypeValidation, Priority: PriorityHigh, Active: true},
		{ID: "rule_a_critical", Name: "a2", Type: TypeValidation, Priority: PriorityCritical, Active: true},
		{ID: "rule_inactive", Name: "off", Type: TypeValidation, Priority: PriorityCritical, Active: false},
	} {
		require.NoError(t, cat.Upsert(ctx, r))
	}

	active, err := cat.ListActive(ctx)
	require.NoError(t, err)

	ids := make([]string, len(active))
	for i, r := range active {
		ids[i] = r.ID
	}
	// Critical first, ties by ID, inactive excluded.
	assert.Equal(t, []string{"rule_a_critical", "rule_z_critical", "rule_a_high", "rule_b_low"}, ids)
}

func TestMemoryCatalog_SetActiveIdempotent(t *testing.T) {
	ctx := context.Background()
	cat := NewMemoryCatalog()

	require.NoError(t, cat.Upsert(ctx, &Rule{
		ID: "rule_1", Name: "r", Type: TypeValidation, Priority: PriorityLow, Active: true,
	}))

	r, err := cat.SetActive(ctx, "rule_1", false)
	require.NoError(t, err)
	assert.False(t, r.Active)
	deactivatedAt := r.UpdatedAt

	// Same state again: no error, no timestamp churn.
	r, err = cat.SetActive(ctx, "rule_1", false)
	require.NoError(t, err)
	assert.False(t, r.Active)
	assert.Equal(t, deactivatedAt, r.UpdatedAt)

	_, err = cat.SetActive(ctx, "rule_missing", true)
	assert.ErrorIs(t, err, ErrRuleNotFound)
}

func TestSeed_OnlyPopulatesEmptyCatalog(t *testing.T) {
	ctx := context.Background()
	cat := NewMemoryCatalog()

	require.NoError(t, Seed(ctx, cat))

	all, err := cat.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 5)

	// The network provider check ships disabled.
	network, err := cat.Get(ctx, "rule_network_provider")
	require.NoError(t, err)
	assert.False(t, network.Active)

	// Flip a rule off, then re-seed. The change must survive.
	_, err = cat.SetActive(ctx, "rule_max_claim_amount", false)
	require.NoError(t, err)
	require.NoError(t, Seed(ctx, cat))

	r, err := cat.Get(ctx, "rule_max_claim_amount")
	require.NoError(t, err)
	assert.False(t, r.Active, "re-seed must not overwrite an existing catalog")
}

func TestPostgresCatalog_RoundTrip(t *testing.T) {
	// Exercises the JSONB params round trip against a real database.
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	ctx := context.Background()
	cat := NewPostgresCatalog(db)

	r := &Rule{
		ID:       "rule_pg",
		Name:     "PG Cap",
		Type:     TypeThreshold,
		Priority: PriorityHigh,
		Active:   true,
		Params:   Params{MaxAmount: 25000},
	}
	require.NoError(t, cat.Upsert(ctx, r))

	got, err := cat.Get(ctx, "rule_pg")
	require.NoError(t, err)
	assert.Equal(t, 25000.0, got.Params.MaxAmount)
	assert.Equal(t, TypeThreshold, got.Type)

	got, err = cat.SetActive(ctx, "rule_pg", false)
	require.NoError(t, err)
	assert.False(t, got.Active)
}
