package ranking

import (
	"sort"
	"strings"
	"time"
)

// Bonus and penalty bounds for weighted fusion. Their sum stays within
// maxAdjustment, which is below the smallest adjacent tier gap.
const (
	conjunctionPerEntity = 25.0
	conjunctionMax       = 75.0
	proximityBonus       = 40.0
	confidenceMax        = 50.0
	recencyMax           = 60.0
	recencyHalfLife      = 90 * 24 * time.Hour
	catalogPenalty       = 40.0
	noisePenalty         = 20.0
	noiseContentLen      = 20
)

// collectionPriors is the table/intent prior per collection.
var collectionPriors = map[string]float64{
	"work_orders": 25.0,
	"fault_codes": 20.0,
	"parts":       15.0,
	"equipment":   10.0,
	"documents":   5.0,
}

// WeightedFusionPolicy scores rows as tier base plus a bounded net
// adjustment from bonuses and penalties.
type WeightedFusionPolicy struct{}

// NewWeightedFusionPolicy creates the weighted fusion policy.
func NewWeightedFusionPolicy() *WeightedFusionPolicy {
	return &WeightedFusionPolicy{}
}

// Name implements Policy.
func (p *WeightedFusionPolicy) Name() string { return "weighted_fusion" }

// Rank implements Policy.
func (p *WeightedFusionPolicy) Rank(in Input) []Ranked {
	candidates := aggregate(in)
	out := make([]Ranked, 0, len(candidates))
	for _, c := range candidates {
		comp := p.components(c, in)
		out = append(out, Ranked{
			Doc:        c.doc,
			Tier:       c.tier,
			TierName:   c.tier.String(),
			Score:      float64(c.tier) + comp.Adjustment,
			Capability: c.capability,
			Components: comp,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Doc.ID < out[j].Doc.ID
	})
	return out
}

// components computes the itemized score adjustment for one candidate.
func (p *WeightedFusionPolicy) components(c *candidate, in Input) Components {
	comp := Components{TierBase: float64(c.tier)}

	content := strings.ToLower(c.doc.Content)
	matched := 0
	for _, e := range in.Entities {
		if e.Surface != "" && strings.Contains(content, strings.ToLower(e.Surface)) {
			matched++
		}
	}
	comp.Conjunction = clampMax(float64(matched)*conjunctionPerEntity, conjunctionMax)
	if matched >= 2 {
		comp.Proximity = proximityBonus
	}
	comp.Confidence = clampMax(c.confidence*confidenceMax, confidenceMax)
	comp.Recency = recencyScore(c.doc.UpdatedAt, in.Now)
	comp.Prior = collectionPriors[c.doc.Collection]

	if isCatalog(c.doc.Metadata) {
		comp.Catalog = -catalogPenalty
	}
	if len(strings.TrimSpace(c.doc.Content)) < noiseContentLen {
		comp.Noise = -noisePenalty
	}

	// Raw bonuses can reach 250; scale into the tier band before clamping
	// so relative differences survive.
	net := comp.Conjunction + comp.Proximity + comp.Confidence +
		comp.Recency + comp.Prior + comp.Catalog + comp.Noise
	comp.Adjustment = clamp(net*maxAdjustment/rawAdjustmentMax, 0, maxAdjustment)
	return comp
}

// rawAdjustmentMax is the largest possible pre-scale bonus sum.
const rawAdjustmentMax = conjunctionMax + proximityBonus + confidenceMax + recencyMax + 25.0

// recencyScore decays exponentially with a 90-day half-life.
func recencyScore(updatedAt, now time.Time) float64 {
	if updatedAt.IsZero() || now.IsZero() || updatedAt.After(now) {
		return 0
	}
	age := now.Sub(updatedAt)
	halfLives := float64(age) / float64(recencyHalfLife)
	score := recencyMax
	for halfLives >= 1 {
		score /= 2
		halfLives--
	}
	score *= 1 - halfLives/2
	return score
}

func isCatalog(meta map[string]any) bool {
	switch v := meta["catalog"].(type) {
	case bool:
		return v
	case string:
		return v == "true"
	default:
		return false
	}
}

func clampMax(v, max float64) float64 {
	if v > max {
		return max
	}
	return v
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
