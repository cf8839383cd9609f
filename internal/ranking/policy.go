package ranking

import (
	"time"

	"github.com/fleetworks/searchd/internal/extract"
	"github.com/fleetworks/searchd/internal/retrieval"
	"github.com/fleetworks/searchd/internal/store"
)

// Input is everything a policy needs to rank one request's results.
type Input struct {
	// Query is the normalized query text.
	Query string

	// Entities are the merged query entities.
	Entities []extract.Entity

	// Results are the raw retrieval results, possibly containing the
	// same document from several strategies.
	Results []retrieval.Result

	// Now anchors recency scoring.
	Now time.Time
}

// Components itemizes a weighted-fusion score for diagnostics.
type Components struct {
	TierBase    float64 `json:"tier_base"`
	Conjunction float64 `json:"conjunction"`
	Proximity   float64 `json:"proximity"`
	Confidence  float64 `json:"confidence"`
	Recency     float64 `json:"recency"`
	Prior       float64 `json:"prior"`
	Catalog     float64 `json:"catalog"`
	Noise       float64 `json:"noise"`
	Adjustment  float64 `json:"adjustment"`
}

// Ranked is one scored, ordered row.
type Ranked struct {
	Doc        store.ScoredDocument `json:"doc"`
	Tier       Tier                 `json:"-"`
	TierName   string               `json:"tier"`
	Score      float64              `json:"score"`
	Capability string               `json:"capability"`
	Components Components           `json:"components,omitempty"`
}

// Policy orders retrieval results.
type Policy interface {
	// Name identifies the policy in diagnostics.
	Name() string

	// Rank returns rows in final order, one entry per document.
	Rank(in Input) []Ranked
}

// ForLane selects the ranking policy for a request lane.
//
// RULES_ONLY requests rank deterministically since no semantic signal is
// available; the other retrieval lanes use weighted fusion.
func ForLane(lane extract.Lane) Policy {
	if lane == extract.LaneRulesOnly {
		return NewHardTierPolicy()
	}
	return NewWeightedFusionPolicy()
}

// candidate aggregates every retrieval result for one document.
type candidate struct {
	doc        store.ScoredDocument
	tier       Tier
	capability string
	confidence float64
	// ranks holds the 1-based rank per producing source for RRF.
	ranks []int
	// bestScore is the highest store-assigned score across sources.
	bestScore float64
}

// aggregate collapses raw results into one candidate per document, keeping
// the highest tier and collecting per-source ranks.
func aggregate(in Input) []*candidate {
	byID := make(map[string]*candidate)
	var order []string
	for _, r := range in.Results {
		tier := tierOf(r, in.Query, in.Entities)
		c, ok := byID[r.Doc.ID]
		if !ok {
			c = &candidate{
				doc:        r.Doc,
				tier:       tier,
				capability: r.Capability,
				confidence: r.Confidence,
				bestScore:  r.Doc.Score,
			}
			byID[r.Doc.ID] = c
			order = append(order, r.Doc.ID)
		}
		if tier > c.tier {
			c.tier = tier
			c.capability = r.Capability
		}
		if r.Confidence > c.confidence {
			c.confidence = r.Confidence
		}
		if r.Doc.Score > c.bestScore {
			c.bestScore = r.Doc.Score
			c.doc = r.Doc
		}
		c.ranks = append(c.ranks, r.Rank)
	}

	out := make([]*candidate, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	return out
}
