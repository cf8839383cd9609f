// Package ranking scores and orders retrieved rows.
//
// Rows are first assigned a match tier, then ranked by one of two policies
// behind the Policy interface: weighted fusion (tier base plus bounded
// bonuses and penalties) or hard-tier deterministic ordering (strict
// lexicographic comparison with reciprocal-rank fusion as the final key).
// Tier dominance is absolute under both policies: no amount of bonus lifts
// a row past a higher tier.
package ranking

import (
	"strings"

	"github.com/fleetworks/searchd/internal/capability"
	"github.com/fleetworks/searchd/internal/extract"
	"github.com/fleetworks/searchd/internal/retrieval"
)

// Tier is a match tier with a fixed base score.
type Tier int

// Match tiers in descending dominance order. The smallest gap between
// adjacent tiers is 100, which bounds how large score adjustments may get.
const (
	TierExactID        Tier = 1000
	TierExactCanonical Tier = 900
	TierExactText      Tier = 800
	TierFuzzy          Tier = 500
	TierVector         Tier = 300
	TierUnknown        Tier = 0
)

// String returns the tier's wire name.
func (t Tier) String() string {
	switch t {
	case TierExactID:
		return "EXACT_ID"
	case TierExactCanonical:
		return "EXACT_CANONICAL"
	case TierExactText:
		return "EXACT_TEXT"
	case TierFuzzy:
		return "FUZZY"
	case TierVector:
		return "VECTOR"
	default:
		return "UNKNOWN"
	}
}

// Net score adjustments (bonuses minus penalties) are clamped to
// [0, maxAdjustment] so no adjustment can bridge the smallest adjacent
// tier gap: a row's final score always stays within its tier's band.
const maxAdjustment = 99.0

// tierOf assigns the match tier for one retrieved row.
//
// Deterministic resolver hits are EXACT_ID. A row whose normalized
// identifier field equals a query entity's canonical form is
// EXACT_CANONICAL. A fuzzy row whose content equals the query text is
// EXACT_TEXT. Remaining rows take their strategy's tier.
func tierOf(r retrieval.Result, query string, entities []extract.Entity) Tier {
	if r.Deterministic {
		return TierExactID
	}
	for _, e := range entities {
		if e.Canonical == "" {
			continue
		}
		for _, v := range r.Doc.Fields {
			if strings.EqualFold(v, e.Canonical) {
				return TierExactCanonical
			}
		}
	}
	switch r.Strategy {
	case capability.StrategyFuzzy:
		if strings.EqualFold(strings.TrimSpace(r.Doc.Content), strings.TrimSpace(query)) {
			return TierExactText
		}
		return TierFuzzy
	case capability.StrategyVector:
		return TierVector
	default:
		return TierUnknown
	}
}
