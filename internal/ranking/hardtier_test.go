package ranking

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetworks/searchd/internal/capability"
	"github.com/fleetworks/searchd/internal/extract"
	"github.com/fleetworks/searchd/internal/lexicon"
	"github.com/fleetworks/searchd/internal/retrieval"
	"github.com/fleetworks/searchd/internal/store"
)

func exactResult(id string, updatedAt time.Time) retrieval.Result {
	return retrieval.Result{
		Doc: store.ScoredDocument{Document: store.Document{
			ID:         id,
			Collection: "fault_codes",
			Content:    "engine controller fault",
			UpdatedAt:  updatedAt,
		}},
		Capability:    "fault_code_lookup",
		Strategy:      capability.StrategyExact,
		Deterministic: true,
		Confidence:    1.0,
		Rank:          1,
	}
}

func TestHardTier_TierAlwaysDominates(t *testing.T) {
	now := time.Now()

	// The fuzzy row is newer, domain-matched and better fused; the exact row
	// still precedes it.
	fz := fuzzyResult("fz", "work_orders", "mid 128 derate investigated", now, 1)
	fz.Confidence = 1.0
	ex := exactResult("ex", now.Add(-90*24*time.Hour))

	ranked := NewHardTierPolicy().Rank(Input{
		Query:   "mid 128",
		Results: []retrieval.Result{fz, ex},
		Now:     now,
	})

	require.Len(t, ranked, 2)
	assert.Equal(t, "ex", ranked[0].Doc.ID)
	assert.Equal(t, TierExactID, ranked[0].Tier)
	assert.Equal(t, TierFuzzy, ranked[1].Tier)
}

func TestHardTier_ExplicitDomainBeforeRecency(t *testing.T) {
	now := time.Now()
	entities := []extract.Entity{{
		Type:       lexicon.TypeFaultCode,
		Canonical:  "MID128",
		Confidence: 1.0,
	}}

	// Both rows match the canonical identifier, so both land in
	// EXACT_CANONICAL. Only the high-confidence one counts as an explicit
	// domain match, and it precedes the newer row.
	domain := fuzzyResult("domain", "fault_codes", "derate condition", now.Add(-30*24*time.Hour), 1)
	domain.Doc.Fields = map[string]string{"fault_code": "MID128"}
	domain.Confidence = 0.9

	incidental := fuzzyResult("incidental", "work_orders", "derate condition", now, 1)
	incidental.Doc.Fields = map[string]string{"fault_code": "mid128"}
	incidental.Confidence = 0.4

	ranked := NewHardTierPolicy().Rank(Input{
		Query:    "derate",
		Entities: entities,
		Results:  []retrieval.Result{incidental, domain},
		Now:      now,
	})

	require.Len(t, ranked, 2)
	assert.Equal(t, TierExactCanonical, ranked[0].Tier)
	assert.Equal(t, TierExactCanonical, ranked[1].Tier)
	assert.Equal(t, "domain", ranked[0].Doc.ID)
}

func TestHardTier_RecencyThenFusedThenID(t *testing.T) {
	now := time.Now()
	old := fuzzyResult("old", "work_orders", "fuel filter change", now.Add(-48*time.Hour), 1)
	newer := fuzzyResult("new", "work_orders", "fuel filter change", now, 2)

	ranked := NewHardTierPolicy().Rank(Input{
		Query:   "fuel filter",
		Results: []retrieval.Result{old, newer},
		Now:     now,
	})
	require.Len(t, ranked, 2)
	assert.Equal(t, "new", ranked[0].Doc.ID, "same tier orders by recency")

	// Equal timestamps fall through to the fused RRF score.
	at := now.Add(-time.Hour)
	better := fuzzyResult("b", "work_orders", "fuel filter change", at, 1)
	worse := fuzzyResult("w", "work_orders", "fuel filter change", at, 9)

	ranked = NewHardTierPolicy().Rank(Input{
		Query:   "fuel filter",
		Results: []retrieval.Result{worse, better},
		Now:     now,
	})
	require.Len(t, ranked, 2)
	assert.Equal(t, "b", ranked[0].Doc.ID, "equal recency orders by fused rank")

	// Everything equal: document ID decides, so the order is reproducible.
	x := fuzzyResult("x", "work_orders", "fuel filter change", at, 1)
	y := fuzzyResult("y", "work_orders", "fuel filter change", at, 1)
	ranked = NewHardTierPolicy().Rank(Input{
		Query:   "fuel filter",
		Results: []retrieval.Result{y, x},
		Now:     now,
	})
	require.Len(t, ranked, 2)
	assert.Equal(t, "x", ranked[0].Doc.ID)
}

func TestHardTier_FullTierMonotonicity(t *testing.T) {
	now := time.Now()
	results := []retrieval.Result{
		fuzzyResult("f1", "work_orders", "mid 128 derate found", now, 1),
		exactResult("e1", now.Add(-400*24*time.Hour)),
		{
			Doc: store.ScoredDocument{Document: store.Document{
				ID: "v1", Collection: "work_orders", Content: "semantic neighbor", UpdatedAt: now,
			}},
			Strategy: capability.StrategyVector,
			Rank:     1,
		},
		exactResult("e2", now),
	}

	ranked := NewHardTierPolicy().Rank(Input{Query: "mid 128", Results: results, Now: now})
	for i := 1; i < len(ranked); i++ {
		assert.LessOrEqual(t, ranked[i].Tier, ranked[i-1].Tier,
			"row %d (%s) outranks a higher tier", i, ranked[i].Doc.ID)
	}
}

func TestRRFScore(t *testing.T) {
	assert.Zero(t, rrfScore(nil))
	assert.Zero(t, rrfScore([]int{0, -3}), "unranked sources contribute nothing")

	assert.InDelta(t, 1.0/61, rrfScore([]int{1}), 1e-12)
	assert.InDelta(t, 1.0/61+1.0/63, rrfScore([]int{1, 3}), 1e-12)

	// Agreement across sources beats a single slightly-better rank.
	assert.Greater(t, rrfScore([]int{2, 2}), rrfScore([]int{1}))

	// Determinism: same ranks, same score, any order.
	assert.Equal(t, rrfScore([]int{4, 7, 2}), rrfScore([]int{2, 4, 7}))
}
