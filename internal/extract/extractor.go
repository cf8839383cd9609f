package extract

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/fleetworks/searchd/internal/lexicon"
	"github.com/fleetworks/searchd/internal/logging"
	"github.com/fleetworks/searchd/internal/normalize"
)

// defaultConfidenceThreshold applies when no per-type or per-type/source
// threshold is configured.
const defaultConfidenceThreshold = 0.3

// Extractor is the deterministic pattern/gazetteer matcher.
//
// It is safe for concurrent use: the lexicon snapshot and compiled pattern
// table are immutable after construction. Extraction is idempotent; given
// identical normalized text it always produces identical entity sets.
type Extractor struct {
	lex        *lexicon.Snapshot
	patterns   []*compiledPattern
	thresholds map[string]float64
	logger     *logging.Logger
}

// NewExtractor creates an extractor bound to a lexicon snapshot.
//
// thresholds maps "type" or "type.source" to a minimum confidence; entities
// below their threshold are dropped before being handed downstream.
func NewExtractor(lex *lexicon.Snapshot, patterns []Pattern, thresholds map[string]float64, logger *logging.Logger) *Extractor {
	if patterns == nil {
		patterns = DefaultPatterns()
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Extractor{
		lex:        lex,
		patterns:   compilePatterns(patterns),
		thresholds: thresholds,
		logger:     logger.Named("extract"),
	}
}

// Extract runs deterministic extraction over normalized text.
//
// Failure mode is fail-open: any internal error yields a result with zero
// entities and all tokens uncovered, never a pipeline abort.
func (e *Extractor) Extract(ctx context.Context, text string) (result ExtractionResult) {
	start := time.Now()
	tokens := normalize.Tokenize(text)

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error(ctx, "extraction panic, failing open", zap.Any("panic", r))
			result = failOpen(tokens)
		}
		if result.Timings == nil {
			result.Timings = map[string]time.Duration{}
		}
		result.Timings["extract"] = time.Since(start)
	}()

	candidates := e.gazetteerCandidates(text, tokens)
	candidates = append(candidates, e.patternCandidates(text)...)

	selected := e.resolveOverlaps(candidates)
	selected = e.applyThresholds(selected)

	// Insertion order = left-to-right in text.
	sort.Slice(selected, func(i, j int) bool {
		if selected[i].Start != selected[j].Start {
			return selected[i].Start < selected[j].Start
		}
		return selected[i].End < selected[j].End
	})

	return ExtractionResult{
		Entities:  selected,
		Uncovered: uncoveredTerms(tokens, selected),
	}
}

// gazetteerCandidates matches token n-grams against the gazetteer term
// table, longest window first.
func (e *Extractor) gazetteerCandidates(text string, tokens []normalize.Token) []Entity {
	if e.lex == nil {
		return nil
	}
	maxN := e.lex.MaxTermTokens()
	var out []Entity
	for i := range tokens {
		for n := maxN; n >= 1; n-- {
			if i+n > len(tokens) {
				continue
			}
			surface := text[tokens[i].Start:tokens[i+n-1].End]
			term, ok := e.lex.LookupTerm(surface)
			if !ok {
				continue
			}
			canonical := term.Canonical
			if canonical == "" {
				canonical = Canonicalize(term.Type, surface)
			}
			out = append(out, Entity{
				Type:       term.Type,
				Surface:    surface,
				Canonical:  canonical,
				Confidence: clamp01(term.Weight * gazetteerMultiplier),
				Weight:     term.Weight,
				Source:     SourceGazetteer,
				Start:      tokens[i].Start,
				End:        tokens[i+n-1].End,
			})
		}
	}
	return out
}

// patternCandidates applies the compiled regex table over the full text.
func (e *Extractor) patternCandidates(text string) []Entity {
	var out []Entity
	for _, p := range e.patterns {
		for _, loc := range p.regex.FindAllStringIndex(text, -1) {
			surface := text[loc[0]:loc[1]]
			canonical := Canonicalize(p.Type, surface)
			if p.Type == lexicon.TypeFaultCode {
				canonical = canonicalFaultCode(surface)
			}
			confidence := clamp01(p.Weight * patternMultiplier)
			// Fault-code shapes are unambiguous identifiers; keep them at
			// full deterministic confidence so resolvers can trust them.
			if p.Type == lexicon.TypeFaultCode {
				confidence = 1.0
			}
			out = append(out, Entity{
				Type:       p.Type,
				Surface:    surface,
				Canonical:  canonical,
				Confidence: confidence,
				Weight:     p.Weight,
				Source:     SourcePattern,
				Start:      loc[0],
				End:        loc[1],
			})
		}
	}
	return out
}

// resolveOverlaps selects a non-overlapping entity set, preferring longer
// spans, then higher type precedence, then higher confidence.
func (e *Extractor) resolveOverlaps(candidates []Entity) []Entity {
	sort.SliceStable(candidates, func(i, j int) bool {
		li, lj := candidates[i].End-candidates[i].Start, candidates[j].End-candidates[j].Start
		if li != lj {
			return li > lj
		}
		pi, pj := e.precedence(candidates[i].Type), e.precedence(candidates[j].Type)
		if pi != pj {
			return pi > pj
		}
		if candidates[i].Confidence != candidates[j].Confidence {
			return candidates[i].Confidence > candidates[j].Confidence
		}
		return candidates[i].Start < candidates[j].Start
	})

	var selected []Entity
	for _, c := range candidates {
		conflict := false
		for _, s := range selected {
			if c.Overlaps(s) {
				conflict = true
				break
			}
		}
		if !conflict {
			selected = append(selected, c)
		}
	}
	return selected
}

func (e *Extractor) precedence(t lexicon.EntityType) float64 {
	if e.lex == nil {
		return 0
	}
	return e.lex.Precedence(t)
}

// applyThresholds drops entities below their per-type, per-source minimum.
func (e *Extractor) applyThresholds(entities []Entity) []Entity {
	out := entities[:0]
	for _, ent := range entities {
		if ent.Confidence >= e.threshold(ent.Type, ent.Source) {
			out = append(out, ent)
		}
	}
	return out
}

func (e *Extractor) threshold(t lexicon.EntityType, s Source) float64 {
	if v, ok := e.thresholds[string(t)+"."+string(s)]; ok {
		return v
	}
	if v, ok := e.thresholds[string(t)]; ok {
		return v
	}
	return defaultConfidenceThreshold
}

// uncoveredTerms returns the tokens outside every selected entity span.
func uncoveredTerms(tokens []normalize.Token, entities []Entity) []string {
	var out []string
	for _, tok := range tokens {
		covered := false
		for _, ent := range entities {
			if tok.Start >= ent.Start && tok.End <= ent.End {
				covered = true
				break
			}
		}
		if !covered {
			out = append(out, tok.Text)
		}
	}
	return out
}

// failOpen builds the zero-entity result used on internal errors.
func failOpen(tokens []normalize.Token) ExtractionResult {
	uncovered := make([]string, 0, len(tokens))
	for _, t := range tokens {
		uncovered = append(uncovered, t.Text)
	}
	return ExtractionResult{Uncovered: uncovered}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
