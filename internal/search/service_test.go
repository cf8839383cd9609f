package search

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetworks/searchd/internal/cache"
	"github.com/fleetworks/searchd/internal/config"
	"github.com/fleetworks/searchd/internal/extract"
	"github.com/fleetworks/searchd/internal/lexicon"
	"github.com/fleetworks/searchd/internal/logging"
	"github.com/fleetworks/searchd/internal/ranking"
	"github.com/fleetworks/searchd/internal/ratelimit"
	"github.com/fleetworks/searchd/internal/store"
)

func testConfig() config.Config {
	var cfg config.Config
	cfg.Extraction.HighCoverageThreshold = 0.8
	cfg.Extraction.LowCoverageThreshold = 0.5
	cfg.Search.PerQueryTimeout = config.Duration(500 * time.Millisecond)
	cfg.Search.TotalTimeout = config.Duration(2 * time.Second)
	cfg.Search.MaxResolverFanout = 6
	cfg.Search.DefaultLimit = 20
	cfg.RateLimit.RequestsPerSecond = 1000
	cfg.RateLimit.Burst = 1000
	cfg.RateLimit.MaxConcurrent = 64
	cfg.Embeddings.Version = "v1"
	return cfg
}

func testLexicon() *lexicon.Provider {
	return lexicon.NewStaticProvider([]lexicon.Term{
		{Surface: "fuel filter", Canonical: "fuel filter", Type: lexicon.TypePartNumber, Weight: 1.0},
		{Surface: "excavator", Canonical: "excavator", Type: lexicon.TypeEquipment, Weight: 1.0},
		{Surface: "overheating", Canonical: "overheating", Type: lexicon.TypeSymptom, Weight: 1.0},
	}, nil, nil)
}

func principalCtx(t *testing.T) context.Context {
	t.Helper()
	return logging.WithPrincipal(t.Context(), &logging.Principal{
		TenantID: "acme",
		Scope:    "fleet-1",
		Role:     "tech",
		UserID:   "u1",
	})
}

func seedTestStore(t *testing.T) *store.MemoryStore {
	t.Helper()
	m := store.NewMemoryStore(nil)
	ctx := store.ContextWithTenant(t.Context(), &store.TenantInfo{TenantID: "acme", ScopeID: "fleet-1"})
	require.NoError(t, m.AddDocuments(ctx, []store.Document{
		{
			ID:         "f1",
			Collection: "fault_codes",
			Content:    "MID 128 engine controller communication fault",
			Fields:     map[string]string{"fault_code": "MID128"},
			UpdatedAt:  time.Now(),
		},
		{
			ID:         "w1",
			Collection: "work_orders",
			Content:    "replaced fuel filter after overheating report on excavator",
			UpdatedAt:  time.Now(),
		},
		{
			ID:         "e1",
			Collection: "equipment",
			Content:    "excavator tracked 20 ton",
			UpdatedAt:  time.Now(),
		},
	}))
	return m
}

func newTestService(t *testing.T, mutate func(*Deps)) *Service {
	t.Helper()
	deps := Deps{
		Lexicon: testLexicon(),
		Store:   seedTestStore(t),
	}
	if mutate != nil {
		mutate(&deps)
	}
	svc, err := New(testConfig(), deps)
	require.NoError(t, err)
	return svc
}

func TestService_ExactHitRanksFirst(t *testing.T) {
	svc := newTestService(t, nil)

	env, err := svc.Search(principalCtx(t), Request{Query: "MID 128"})
	require.NoError(t, err)

	assert.Equal(t, OutcomeSuccess, env.Outcome)
	assert.Equal(t, extract.LaneNoLLM, env.Lane, "full coverage needs no fallback")
	assert.Equal(t, "mid 128", env.NormalizedQuery)
	assert.NotEmpty(t, env.SearchID)

	faults := env.Results["fault_codes"]
	require.NotEmpty(t, faults)
	assert.Equal(t, "f1", faults[0].Doc.ID)
	assert.Equal(t, ranking.TierExactID, faults[0].Tier)

	require.NotEmpty(t, env.Entities)
	assert.Equal(t, "MID128", env.Entities[0].Canonical)
}

func TestService_FuzzyLane(t *testing.T) {
	svc := newTestService(t, nil)

	env, err := svc.Search(principalCtx(t), Request{Query: "excavator overheating"})
	require.NoError(t, err)

	assert.Equal(t, OutcomeSuccess, env.Outcome)
	require.NotEmpty(t, env.Results["work_orders"])
	assert.Equal(t, "w1", env.Results["work_orders"][0].Doc.ID)
	for _, rows := range env.Results {
		for _, r := range rows {
			assert.Less(t, r.Tier, ranking.TierExactID, "no identifier was extracted")
		}
	}
}

func TestService_EmptyQuery(t *testing.T) {
	svc := newTestService(t, nil)
	_, err := svc.Search(principalCtx(t), Request{Query: ""})
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestService_NoPrincipal(t *testing.T) {
	svc := newTestService(t, nil)
	_, err := svc.Search(t.Context(), Request{Query: "fuel filter"})
	assert.ErrorIs(t, err, ErrNoPrincipal)
}

func TestService_RateLimitedBeforeWork(t *testing.T) {
	svc := newTestService(t, func(d *Deps) {
		d.Gate = ratelimit.New(ratelimit.Config{RequestsPerSecond: 0.001, Burst: 1, MaxConcurrent: 10})
	})

	_, err := svc.Search(principalCtx(t), Request{Query: "fuel filter"})
	require.NoError(t, err)

	_, err = svc.Search(principalCtx(t), Request{Query: "fuel filter"})
	assert.ErrorIs(t, err, ratelimit.ErrRateLimited)
}

func TestService_BlockedLane(t *testing.T) {
	svc := newTestService(t, nil)

	env, err := svc.Search(principalCtx(t), Request{Query: "excavator'; drop table users"})
	require.NoError(t, err)
	assert.Equal(t, extract.LaneBlocked, env.Lane)
	assert.Equal(t, OutcomeBlocked, env.Outcome)
	assert.Empty(t, env.Results, "blocked queries never reach the datastore")
}

func TestService_EmptyOutcome(t *testing.T) {
	svc := newTestService(t, nil)

	env, err := svc.Search(principalCtx(t), Request{Query: "SPN 9999"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeEmpty, env.Outcome)
	assert.Empty(t, env.Results)
}

func TestService_LimitApplied(t *testing.T) {
	svc := newTestService(t, nil)

	env, err := svc.Search(principalCtx(t), Request{Query: "excavator overheating"})
	require.NoError(t, err)
	require.Equal(t, OutcomeSuccess, env.Outcome)

	limited, err := svc.Search(principalCtx(t), Request{Query: "excavator overheating", Limit: 1, Endpoint: "limited"})
	require.NoError(t, err)
	total := 0
	for _, rows := range limited.Results {
		total += len(rows)
	}
	assert.Equal(t, 1, total)
}

func TestService_CacheHit(t *testing.T) {
	svc := newTestService(t, func(d *Deps) {
		d.Cache = cache.New(time.Minute, 64)
	})
	ctx := principalCtx(t)

	first, err := svc.Search(ctx, Request{Query: "MID 128"})
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := svc.Search(ctx, Request{Query: "MID 128"})
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.SearchID, second.SearchID, "a cache hit replays the original envelope")
}

func TestService_CacheIsPerTenant(t *testing.T) {
	svc := newTestService(t, func(d *Deps) {
		d.Cache = cache.New(time.Minute, 64)
	})

	first, err := svc.Search(principalCtx(t), Request{Query: "MID 128"})
	require.NoError(t, err)
	require.False(t, first.Cached)

	otherCtx := logging.WithPrincipal(t.Context(), &logging.Principal{TenantID: "globex", Scope: "fleet-9"})
	other, err := svc.Search(otherCtx, Request{Query: "MID 128"})
	require.NoError(t, err)
	assert.False(t, other.Cached)
	assert.Empty(t, other.Results, "the other tenant has no data and no shared cache entry")
}

// failingWorkOrders fails every fuzzy query against work_orders.
type failingWorkOrders struct {
	*store.MemoryStore
}

var errStoreDown = errors.New("shard unavailable")

func (f *failingWorkOrders) FuzzySearch(ctx context.Context, collection, query string, limit int) ([]store.ScoredDocument, error) {
	if collection == "work_orders" {
		return nil, errStoreDown
	}
	return f.MemoryStore.FuzzySearch(ctx, collection, query, limit)
}

func (f *failingWorkOrders) HybridSearch(ctx context.Context, q store.HybridQuery) (store.HybridResult, error) {
	if q.Collection == "work_orders" {
		return store.HybridResult{}, errStoreDown
	}
	return f.MemoryStore.HybridSearch(ctx, q)
}

func TestService_PartialOutcomeNotCached(t *testing.T) {
	svc := newTestService(t, func(d *Deps) {
		d.Store = &failingWorkOrders{MemoryStore: seedTestStore(t)}
		d.Cache = cache.New(time.Minute, 64)
	})
	ctx := principalCtx(t)

	env, err := svc.Search(ctx, Request{Query: "MID 128"})
	require.NoError(t, err)
	assert.Equal(t, OutcomePartial, env.Outcome)
	require.NotEmpty(t, env.Results["fault_codes"], "surviving capabilities still return rows")

	again, err := svc.Search(ctx, Request{Query: "MID 128"})
	require.NoError(t, err)
	assert.False(t, again.Cached, "degraded envelopes are never served from cache")
}

func TestService_CapabilityStatusesReported(t *testing.T) {
	svc := newTestService(t, func(d *Deps) {
		d.Store = &failingWorkOrders{MemoryStore: seedTestStore(t)}
	})

	env, err := svc.Search(principalCtx(t), Request{Query: "MID 128"})
	require.NoError(t, err)

	byName := make(map[string]CapabilityStatus)
	for _, cs := range env.Capabilities {
		byName[cs.Name] = cs
	}
	require.Contains(t, byName, "fault_code_lookup")
	require.Contains(t, byName, "work_order_search")
	assert.Equal(t, StatusExecuted, byName["fault_code_lookup"].Status)
	assert.Greater(t, byName["fault_code_lookup"].Rows, 0)
	assert.Equal(t, StatusErrored, byName["work_order_search"].Status)
}
