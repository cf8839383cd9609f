// Package extract implements deterministic entity extraction, the coverage
// gate that assigns a processing lane, and the merger that reconciles
// fallback entities with deterministic ones.
package extract

import (
	"strings"
	"time"
	"unicode"

	"github.com/fleetworks/searchd/internal/lexicon"
)

// Source identifies where an entity came from.
type Source string

const (
	SourceGazetteer Source = "gazetteer"
	SourcePattern   Source = "pattern"
	SourceFallback  Source = "fallback"
	SourceMerged    Source = "merged"
)

// Source multipliers: deterministic gazetteer matches always score higher
// than pattern matches, which always score higher than fallback entities.
const (
	gazetteerMultiplier = 1.0
	patternMultiplier   = 0.9
	fallbackMultiplier  = 0.7
)

// Entity is a typed, confidence-scored span of the normalized query.
type Entity struct {
	Type       lexicon.EntityType `json:"type"`
	Surface    string             `json:"surface"`
	Canonical  string             `json:"canonical"`
	Confidence float64            `json:"confidence"`
	Weight     float64            `json:"weight"`
	Source     Source             `json:"source"`
	Start      int                `json:"start"`
	End        int                `json:"end"`
}

// Overlaps reports whether two entity spans intersect.
func (e Entity) Overlaps(other Entity) bool {
	return e.Start < other.End && other.Start < e.End
}

// ExtractionResult holds the ordered entities (left-to-right in the text),
// the uncovered terms, and per-stage timings. It is request-scoped and
// never persisted.
type ExtractionResult struct {
	Entities  []Entity                 `json:"entities"`
	Uncovered []string                 `json:"uncovered,omitempty"`
	Timings   map[string]time.Duration `json:"timings,omitempty"`
}

// Lane is the per-request processing mode assigned by the coverage gate.
type Lane string

const (
	// LaneBlocked means the query failed the domain/safety pre-check;
	// no retrieval is dispatched.
	LaneBlocked Lane = "BLOCKED"
	// LaneNoLLM means deterministic coverage is high; no fallback runs.
	LaneNoLLM Lane = "NO_LLM"
	// LaneRulesOnly means partial coverage; rules run, fallback does not.
	LaneRulesOnly Lane = "RULES_ONLY"
	// LaneGPT means coverage is insufficient; the fallback extractor is
	// invoked exactly once.
	LaneGPT Lane = "GPT"
)

// AllowsFallback reports whether the lane permits the fallback extractor.
func (l Lane) AllowsFallback() bool {
	return l == LaneGPT
}

// AllowsRetrieval reports whether any retrieval may be dispatched.
func (l Lane) AllowsRetrieval() bool {
	return l != LaneBlocked
}

// Canonicalize normalizes a surface form for downstream exact matching.
// Identifier types collapse separators and uppercase ("mid 128" -> "MID128");
// everything else lowercases and joins words with underscores.
func Canonicalize(t lexicon.EntityType, surface string) string {
	if lexicon.IdentifierTypes()[t] {
		var b strings.Builder
		b.Grow(len(surface))
		for _, r := range surface {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				b.WriteRune(unicode.ToUpper(r))
			}
		}
		return b.String()
	}
	fields := strings.Fields(strings.ToLower(surface))
	return strings.Join(fields, "_")
}
