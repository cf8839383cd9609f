package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ctxFor(t *testing.T, tenant, scope string) context.Context {
	t.Helper()
	return ContextWithTenant(t.Context(), &TenantInfo{TenantID: tenant, ScopeID: scope})
}

func seedStore(t *testing.T) *MemoryStore {
	t.Helper()
	m := NewMemoryStore(nil)

	acme := ctxFor(t, "acme", "fleet-1")
	require.NoError(t, m.AddDocuments(acme, []Document{
		{
			ID:         "p1",
			Collection: "parts",
			Content:    "fuel filter for diesel engines",
			Fields:     map[string]string{"part_number": "FF5320"},
			UpdatedAt:  time.Now(),
		},
		{
			ID:         "w1",
			Collection: "work_orders",
			Content:    "replaced fuel filter after clogging",
			Thread:     "wo-100",
			UpdatedAt:  time.Now(),
		},
	}))

	globex := ctxFor(t, "globex", "fleet-9")
	require.NoError(t, m.AddDocuments(globex, []Document{
		{
			ID:         "p1",
			Collection: "parts",
			Content:    "fuel filter premium variant",
			Fields:     map[string]string{"part_number": "FF5320"},
			UpdatedAt:  time.Now(),
		},
	}))
	return m
}

func TestMemoryStore_ExactLookup(t *testing.T) {
	m := seedStore(t)
	ctx := ctxFor(t, "acme", "fleet-1")

	docs, err := m.ExactLookup(ctx, "parts", "part_number", "ff5320", 10)
	require.NoError(t, err)
	require.Len(t, docs, 1, "lookup is case-insensitive and tenant-scoped")
	assert.Equal(t, "fuel filter for diesel engines", docs[0].Content)

	docs, err = m.ExactLookup(ctx, "parts", "part_number", "NOPE", 10)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestMemoryStore_TenantIsolation(t *testing.T) {
	m := seedStore(t)

	// Both tenants store a part with the same ID and part number; each sees
	// exactly its own row on every query path.
	for _, tc := range []struct {
		tenant, scope, wantContent string
	}{
		{"acme", "fleet-1", "fuel filter for diesel engines"},
		{"globex", "fleet-9", "fuel filter premium variant"},
	} {
		ctx := ctxFor(t, tc.tenant, tc.scope)

		docs, err := m.ExactLookup(ctx, "parts", "part_number", "FF5320", 10)
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, tc.wantContent, docs[0].Content)

		fuzzy, err := m.FuzzySearch(ctx, "parts", "fuel filter", 10)
		require.NoError(t, err)
		require.Len(t, fuzzy, 1)
		assert.Equal(t, tc.wantContent, fuzzy[0].Content)

		vec, err := m.VectorSearch(ctx, "parts", "fuel filter", 10)
		require.NoError(t, err)
		require.Len(t, vec, 1)
		assert.Equal(t, tc.wantContent, vec[0].Content)
	}
}

func TestMemoryStore_ScopeIsolation(t *testing.T) {
	m := seedStore(t)
	// Same tenant, different scope: nothing visible.
	docs, err := m.ExactLookup(ctxFor(t, "acme", "fleet-2"), "parts", "part_number", "FF5320", 10)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestMemoryStore_FailsClosedWithoutTenant(t *testing.T) {
	m := seedStore(t)
	ctx := t.Context()

	_, err := m.ExactLookup(ctx, "parts", "part_number", "FF5320", 10)
	assert.ErrorIs(t, err, ErrMissingTenant)
	_, err = m.FuzzySearch(ctx, "parts", "fuel filter", 10)
	assert.ErrorIs(t, err, ErrMissingTenant)
	_, err = m.VectorSearch(ctx, "parts", "fuel filter", 10)
	assert.ErrorIs(t, err, ErrMissingTenant)
	_, err = m.Count(ctx, "parts")
	assert.ErrorIs(t, err, ErrMissingTenant)
	err = m.AddDocuments(ctx, []Document{{ID: "x", Collection: "parts"}})
	assert.ErrorIs(t, err, ErrMissingTenant)
}

func TestMemoryStore_FailsClosedWithoutScope(t *testing.T) {
	m := seedStore(t)
	ctx := ContextWithTenant(t.Context(), &TenantInfo{TenantID: "acme"})
	_, err := m.FuzzySearch(ctx, "parts", "fuel filter", 10)
	assert.ErrorIs(t, err, ErrMissingTenant)
}

func TestMemoryStore_FuzzySearchRanking(t *testing.T) {
	m := NewMemoryStore(nil)
	ctx := ctxFor(t, "acme", "fleet-1")
	require.NoError(t, m.AddDocuments(ctx, []Document{
		{ID: "a", Collection: "work_orders", Content: "fuel filter replacement on grader"},
		{ID: "b", Collection: "work_orders", Content: "fuel pump inspection"},
		{ID: "c", Collection: "work_orders", Content: "tire rotation"},
	}))

	results, err := m.FuzzySearch(ctx, "work_orders", "fuel filter", 10)
	require.NoError(t, err)
	require.Len(t, results, 2, "zero-overlap documents are dropped")
	assert.Equal(t, "a", results[0].ID)
	assert.Equal(t, 1.0, results[0].Score)
	assert.Equal(t, "b", results[1].ID)
	assert.Equal(t, 0.5, results[1].Score)
}

func TestMemoryStore_Count(t *testing.T) {
	m := seedStore(t)

	n, err := m.Count(ctxFor(t, "acme", "fleet-1"), "parts")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = m.Count(ctxFor(t, "acme", "fleet-1"), "missing")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMemoryStore_HybridSearch(t *testing.T) {
	m := seedStore(t)
	ctx := ctxFor(t, "acme", "fleet-1")

	res, err := m.HybridSearch(ctx, HybridQuery{
		Collection: "parts",
		Query:      "fuel filter",
		Exact:      []ExactClause{{Field: "part_number", Value: "FF5320"}},
		Fuzzy:      true,
		Vector:     true,
		Limit:      10,
	})
	require.NoError(t, err)
	assert.Len(t, res.Exact, 1)
	assert.Len(t, res.Fuzzy, 1)
	assert.Len(t, res.Vector, 1)
}

func TestMemoryStore_AddDocumentsEmpty(t *testing.T) {
	m := NewMemoryStore(nil)
	assert.ErrorIs(t, m.AddDocuments(ctxFor(t, "acme", "fleet-1"), nil), ErrEmptyDocuments)
}

func TestVerifyOwnership(t *testing.T) {
	ctx := ctxFor(t, "acme", "fleet-1")

	ok := Document{ID: "d1", Metadata: map[string]any{MetaTenantID: "acme", MetaScopeID: "fleet-1"}}
	assert.NoError(t, VerifyOwnership(ctx, ok))

	stray := Document{ID: "d2", Metadata: map[string]any{MetaTenantID: "globex", MetaScopeID: "fleet-1"}}
	assert.ErrorIs(t, VerifyOwnership(ctx, stray), ErrIsolationViolation)

	unowned := Document{ID: "d3"}
	assert.ErrorIs(t, VerifyOwnership(ctx, unowned), ErrIsolationViolation)
}

func TestInjectMetadata_OverwritesExistingOwnership(t *testing.T) {
	ctx := ctxFor(t, "acme", "fleet-1")
	docs := []Document{{
		ID:       "d1",
		Metadata: map[string]any{MetaTenantID: "globex", MetaScopeID: "fleet-9"},
	}}
	require.NoError(t, InjectMetadata(ctx, docs))
	assert.Equal(t, "acme", docs[0].Metadata[MetaTenantID])
	assert.Equal(t, "fleet-1", docs[0].Metadata[MetaScopeID])
}
