package extract

import (
	"regexp"
	"strings"

	"github.com/fleetworks/searchd/internal/lexicon"
)

// Pattern is a regex-based entity detector for shapes the gazetteer cannot
// enumerate (fault codes, part numbers, measurements).
type Pattern struct {
	Name   string
	Regex  string
	Type   lexicon.EntityType
	Weight float64
}

// compiledPattern holds a pre-compiled regex pattern.
type compiledPattern struct {
	Pattern
	regex *regexp.Regexp
}

// DefaultPatterns returns the built-in entity detection patterns.
func DefaultPatterns() []Pattern {
	return []Pattern{
		// Diagnostic trouble codes: "MID 128", "spn-1234", "FMI 3".
		{Name: "fault_code", Regex: `\b(mid|pid|sid|spn|fmi|dtc)[\s-]?(\d{1,5})\b`, Type: lexicon.TypeFaultCode, Weight: 1.0},
		// OBD codes: "P0420".
		{Name: "obd_code", Regex: `\b[pbcu][0-9]{4}\b`, Type: lexicon.TypeFaultCode, Weight: 1.0},
		// Part numbers: at least one separator, alphanumeric segments.
		{Name: "part_number", Regex: `\b[a-z0-9]{2,}[-/][a-z0-9]+(?:[-/][a-z0-9]+)*\b`, Type: lexicon.TypePartNumber, Weight: 0.9},
		// Measurements with a unit suffix.
		{Name: "measurement", Regex: `\b\d+(?:\.\d+)?\s?(?:psi|bar|kpa|rpm|mm|cm|in|qt|l|gal|v|amps?|hrs?|km|mi)\b`, Type: lexicon.TypeMeasurement, Weight: 0.8},
	}
}

// compilePatterns compiles the pattern table, skipping malformed entries.
// A malformed pattern must never abort the pipeline (fail open).
func compilePatterns(patterns []Pattern) []*compiledPattern {
	compiled := make([]*compiledPattern, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p.Regex)
		if err != nil {
			// Skip invalid patterns
			continue
		}
		compiled = append(compiled, &compiledPattern{Pattern: p, regex: re})
	}
	return compiled
}

// canonicalFaultCode builds the canonical form of a fault code match,
// e.g. "mid 128" -> "MID128".
func canonicalFaultCode(surface string) string {
	var b strings.Builder
	for _, r := range surface {
		if r == ' ' || r == '-' {
			continue
		}
		b.WriteRune(r)
	}
	return strings.ToUpper(b.String())
}
