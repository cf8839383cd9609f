package ranking

import (
	"sort"
	"strings"
)

// HardTierPolicy orders rows by strict lexicographic comparison: match
// tier, explicit-domain match, recency, then a fused score from
// reciprocal-rank fusion. No additive blending: a higher tier precedes a
// lower one regardless of every other signal. Document ID breaks remaining
// ties so the order is fully deterministic.
type HardTierPolicy struct{}

// NewHardTierPolicy creates the hard-tier deterministic policy.
func NewHardTierPolicy() *HardTierPolicy {
	return &HardTierPolicy{}
}

// Name implements Policy.
func (p *HardTierPolicy) Name() string { return "hard_tier" }

// Rank implements Policy.
func (p *HardTierPolicy) Rank(in Input) []Ranked {
	candidates := aggregate(in)

	type keyed struct {
		ranked Ranked
		domain bool
		fused  float64
	}
	rows := make([]keyed, 0, len(candidates))
	for _, c := range candidates {
		fused := rrfScore(c.ranks)
		rows = append(rows, keyed{
			ranked: Ranked{
				Doc:        c.doc,
				Tier:       c.tier,
				TierName:   c.tier.String(),
				Score:      fused,
				Capability: c.capability,
			},
			domain: explicitDomain(c, in),
			fused:  fused,
		})
	}

	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.ranked.Tier != b.ranked.Tier {
			return a.ranked.Tier > b.ranked.Tier
		}
		if a.domain != b.domain {
			return a.domain
		}
		at, bt := a.ranked.Doc.UpdatedAt, b.ranked.Doc.UpdatedAt
		if !at.Equal(bt) {
			return at.After(bt)
		}
		if a.fused != b.fused {
			return a.fused > b.fused
		}
		return a.ranked.Doc.ID < b.ranked.Doc.ID
	})

	out := make([]Ranked, len(rows))
	for i, r := range rows {
		out[i] = r.ranked
	}
	return out
}

// explicitDomain reports whether the row's collection was targeted by a
// high-confidence query entity rather than reached by broad search.
func explicitDomain(c *candidate, in Input) bool {
	if c.confidence < 0.8 {
		return false
	}
	for _, e := range in.Entities {
		if e.Canonical == "" {
			continue
		}
		for _, v := range c.doc.Fields {
			if strings.EqualFold(v, e.Canonical) {
				return true
			}
		}
	}
	return c.tier >= TierExactCanonical
}
