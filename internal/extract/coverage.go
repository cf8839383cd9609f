package extract

import (
	"context"
	"regexp"

	"go.uber.org/zap"

	"github.com/fleetworks/searchd/internal/logging"
	"github.com/fleetworks/searchd/internal/normalize"
)

// CoverageStats summarizes how much of the query deterministic extraction
// explained. It drives the single lane transition per request.
type CoverageStats struct {
	TokenCount      int     `json:"token_count"`
	CoveredTokens   int     `json:"covered_tokens"`
	Coverage        float64 `json:"coverage"`
	EntityCount     int     `json:"entity_count"`
	UnknownClusters int     `json:"unknown_clusters"`
}

// CoverageController decides extraction sufficiency and assigns the lane.
//
// The decision is a single transition: coverage >= high threshold yields
// LaneNoLLM, coverage >= low threshold yields LaneRulesOnly, anything below
// escalates to the fallback extractor (LaneGPT). A query failing the
// domain/safety pre-check is assigned LaneBlocked and dispatches nothing.
type CoverageController struct {
	high    float64
	low     float64
	blocked []*regexp.Regexp
	logger  *logging.Logger
}

// defaultBlockPatterns is the domain/safety pre-check: queries that are
// plainly not maintenance searches are refused before any retrieval.
var defaultBlockPatterns = []string{
	`(?i)\b(drop|truncate|delete)\s+(table|from)\b`,
	`<script\b`,
	`\x00`,
}

// NewCoverageController creates the gate with the given thresholds.
func NewCoverageController(high, low float64, logger *logging.Logger) *CoverageController {
	if logger == nil {
		logger = logging.NewNop()
	}
	blocked := make([]*regexp.Regexp, 0, len(defaultBlockPatterns))
	for _, p := range defaultBlockPatterns {
		if re, err := regexp.Compile(p); err == nil {
			blocked = append(blocked, re)
		}
	}
	return &CoverageController{
		high:    high,
		low:     low,
		blocked: blocked,
		logger:  logger.Named("coverage"),
	}
}

// Decide computes coverage stats for the extraction result and assigns the
// processing lane.
func (c *CoverageController) Decide(ctx context.Context, text string, result ExtractionResult) (Lane, CoverageStats) {
	for _, re := range c.blocked {
		if re.MatchString(text) {
			c.logger.Warn(ctx, "query failed safety pre-check", zap.String("pattern", re.String()))
			return LaneBlocked, CoverageStats{}
		}
	}

	tokens := normalize.Tokenize(text)
	stats := computeStats(tokens, result)

	if stats.TokenCount == 0 {
		return LaneRulesOnly, stats
	}

	lane := LaneGPT
	switch {
	case stats.Coverage >= c.high:
		lane = LaneNoLLM
	case stats.Coverage >= c.low:
		lane = LaneRulesOnly
	}

	// Many distinct unknown clusters mean the query talks about things the
	// gazetteer has never seen; demote a NO_LLM decision so fuzzy retrieval
	// still runs wide.
	if lane == LaneNoLLM && stats.UnknownClusters > 2 {
		lane = LaneRulesOnly
	}
	// A query with no entities at all cannot plan any capability; escalate.
	if stats.EntityCount == 0 {
		lane = LaneGPT
	}

	return lane, stats
}

// computeStats derives coverage, entity count and unknown-term cluster
// density from the tokens and selected entities.
func computeStats(tokens []normalize.Token, result ExtractionResult) CoverageStats {
	covered := 0
	clusters := 0
	inCluster := false
	for _, tok := range tokens {
		isCovered := false
		for _, ent := range result.Entities {
			if tok.Start >= ent.Start && tok.End <= ent.End {
				isCovered = true
				break
			}
		}
		if isCovered {
			covered++
			inCluster = false
			continue
		}
		if !inCluster {
			clusters++
			inCluster = true
		}
	}

	stats := CoverageStats{
		TokenCount:      len(tokens),
		CoveredTokens:   covered,
		EntityCount:     len(result.Entities),
		UnknownClusters: clusters,
	}
	if stats.TokenCount > 0 {
		stats.Coverage = float64(covered) / float64(stats.TokenCount)
	}
	return stats
}
