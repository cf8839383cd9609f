package capability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetworks/searchd/internal/store"
)

func tenantCtx(t *testing.T) context.Context {
	t.Helper()
	return store.ContextWithTenant(t.Context(), &store.TenantInfo{
		TenantID: "acme",
		ScopeID:  "fleet-1",
	})
}

func TestProber_PromotesEmptyCapability(t *testing.T) {
	registry := NewDefaultRegistry()
	require.NoError(t, registry.SetReadiness("part_lookup", ReadinessEmpty, "no parts loaded"))

	st := store.NewMemoryStore(nil)
	ctx := tenantCtx(t)
	require.NoError(t, st.AddDocuments(ctx, []store.Document{
		{ID: "p1", Collection: "parts", Content: "fuel filter", Fields: map[string]string{"part_number": "FF5320"}},
	}))

	prober := NewProber(registry, st, nil)
	result, err := prober.Probe(ctx, "part_lookup")
	require.NoError(t, err)

	assert.Equal(t, 1, result.RowCount)
	assert.Equal(t, ReadinessActive, result.Readiness)
	assert.True(t, result.Promoted)
	assert.Empty(t, result.Reason)

	def, err := registry.Get("part_lookup")
	require.NoError(t, err)
	assert.Equal(t, ReadinessActive, def.Readiness)
}

func TestProber_EmptyStaysEmpty(t *testing.T) {
	registry := NewDefaultRegistry()
	require.NoError(t, registry.SetReadiness("part_lookup", ReadinessEmpty, "no parts loaded"))

	prober := NewProber(registry, store.NewMemoryStore(nil), nil)
	result, err := prober.Probe(tenantCtx(t), "part_lookup")
	require.NoError(t, err)

	assert.Zero(t, result.RowCount)
	assert.Equal(t, ReadinessEmpty, result.Readiness)
	assert.False(t, result.Promoted)
	assert.Equal(t, "no parts loaded", result.Reason)
}

func TestProber_ActiveNeverDemoted(t *testing.T) {
	registry := NewDefaultRegistry()
	prober := NewProber(registry, store.NewMemoryStore(nil), nil)

	result, err := prober.Probe(tenantCtx(t), "part_lookup")
	require.NoError(t, err)
	assert.Zero(t, result.RowCount)
	assert.Equal(t, ReadinessActive, result.Readiness,
		"an empty collection reports zero rows but does not demote")
}

func TestProber_UnknownCapability(t *testing.T) {
	prober := NewProber(NewDefaultRegistry(), store.NewMemoryStore(nil), nil)
	_, err := prober.Probe(tenantCtx(t), "nope")
	assert.ErrorIs(t, err, ErrCapabilityNotFound)
}

func TestProber_RequiresTenant(t *testing.T) {
	prober := NewProber(NewDefaultRegistry(), store.NewMemoryStore(nil), nil)
	_, err := prober.Probe(t.Context(), "part_lookup")
	assert.ErrorIs(t, err, store.ErrMissingTenant)
}
