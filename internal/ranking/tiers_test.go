package ranking

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fleetworks/searchd/internal/capability"
	"github.com/fleetworks/searchd/internal/extract"
	"github.com/fleetworks/searchd/internal/lexicon"
	"github.com/fleetworks/searchd/internal/retrieval"
	"github.com/fleetworks/searchd/internal/store"
)

func TestTierOf(t *testing.T) {
	entities := []extract.Entity{{
		Type:      lexicon.TypeFaultCode,
		Canonical: "MID128",
	}}

	tests := []struct {
		name   string
		result retrieval.Result
		want   Tier
	}{
		{
			name:   "deterministic resolver hit",
			result: retrieval.Result{Deterministic: true, Strategy: capability.StrategyExact},
			want:   TierExactID,
		},
		{
			name: "canonical field match",
			result: retrieval.Result{
				Strategy: capability.StrategyFuzzy,
				Doc: store.ScoredDocument{Document: store.Document{
					Fields: map[string]string{"fault_code": "mid128"},
				}},
			},
			want: TierExactCanonical,
		},
		{
			name: "whole content equals query",
			result: retrieval.Result{
				Strategy: capability.StrategyFuzzy,
				Doc: store.ScoredDocument{Document: store.Document{
					Content: "Fuel Filter Replacement ",
				}},
			},
			want: TierExactText,
		},
		{
			name: "plain fuzzy",
			result: retrieval.Result{
				Strategy: capability.StrategyFuzzy,
				Doc: store.ScoredDocument{Document: store.Document{
					Content: "replaced the fuel filter after clogging",
				}},
			},
			want: TierFuzzy,
		},
		{
			name:   "vector",
			result: retrieval.Result{Strategy: capability.StrategyVector},
			want:   TierVector,
		},
		{
			name:   "unknown strategy",
			result: retrieval.Result{Strategy: capability.Strategy("other")},
			want:   TierUnknown,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tierOf(tt.result, "fuel filter replacement", entities)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTierGapsExceedMaxAdjustment(t *testing.T) {
	tiers := []Tier{TierExactID, TierExactCanonical, TierExactText, TierFuzzy, TierVector, TierUnknown}
	for i := 1; i < len(tiers); i++ {
		gap := float64(tiers[i-1] - tiers[i])
		assert.Greater(t, gap, maxAdjustment,
			"adjustment must never lift %s past %s", tiers[i], tiers[i-1])
	}
}
