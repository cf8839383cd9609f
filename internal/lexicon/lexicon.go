// Package lexicon provides the load-once gazetteer used by entity extraction.
//
// The lexicon holds typed term lists (equipment, brands, part numbers, fault
// codes, ...), abbreviation expansions and per-type precedence weights. It is
// loaded from TOML files at process start into an immutable Snapshot. Reload
// replaces the whole snapshot atomically (versioned swap); a snapshot is never
// mutated in place, so readers need no locking.
package lexicon

import (
	"strings"
)

// EntityType is a closed set of entity categories known to the pipeline.
type EntityType string

const (
	TypeEquipment    EntityType = "equipment"
	TypeBrand        EntityType = "brand"
	TypePartNumber   EntityType = "part_number"
	TypeFaultCode    EntityType = "fault_code"
	TypeSymptom      EntityType = "symptom"
	TypeActionVerb   EntityType = "action_verb"
	TypeMeasurement  EntityType = "measurement"
	TypeDocumentType EntityType = "document_type"
	TypeLocation     EntityType = "location"
	TypeStockStatus  EntityType = "stock_status"
	TypeUnknown      EntityType = "unknown"
)

// KnownTypes lists every entity type the pipeline understands.
func KnownTypes() []EntityType {
	return []EntityType{
		TypeEquipment, TypeBrand, TypePartNumber, TypeFaultCode,
		TypeSymptom, TypeActionVerb, TypeMeasurement, TypeDocumentType,
		TypeLocation, TypeStockStatus,
	}
}

// IdentifierTypes are entity types that can drive deterministic resolvers.
func IdentifierTypes() map[EntityType]bool {
	return map[EntityType]bool{
		TypePartNumber: true,
		TypeFaultCode:  true,
	}
}

// defaultPrecedence is the fallback weight for types without a configured
// precedence. Kept low so configured types always win overlap resolution.
const defaultPrecedence = 0.1

// Term is a single gazetteer entry.
type Term struct {
	Surface   string     `toml:"surface"`
	Canonical string     `toml:"canonical"`
	Type      EntityType `toml:"type"`
	Weight    float64    `toml:"weight"`
}

// Snapshot is an immutable view of the lexicon at a given version.
//
// All lookup methods are safe for concurrent use; a Snapshot is never
// modified after construction.
type Snapshot struct {
	version       int64
	terms         map[string]Term
	expansions    map[string]string
	precedence    map[EntityType]float64
	maxTermTokens int
}

// Version returns the monotonically increasing snapshot version.
func (s *Snapshot) Version() int64 {
	return s.version
}

// TermCount returns the number of gazetteer terms.
func (s *Snapshot) TermCount() int {
	return len(s.terms)
}

// MaxTermTokens returns the token length of the longest gazetteer term.
// The extractor uses it to bound n-gram window sizes.
func (s *Snapshot) MaxTermTokens() int {
	if s.maxTermTokens < 1 {
		return 1
	}
	return s.maxTermTokens
}

// LookupTerm returns the gazetteer entry for a surface form, if present.
// Lookup is case-insensitive.
func (s *Snapshot) LookupTerm(surface string) (Term, bool) {
	t, ok := s.terms[strings.ToLower(surface)]
	return t, ok
}

// Expansion returns the expanded form of an abbreviation, or the token
// itself when no expansion is configured.
func (s *Snapshot) Expansion(token string) string {
	if exp, ok := s.expansions[strings.ToLower(token)]; ok {
		return exp
	}
	return token
}

// Precedence returns the overlap-resolution weight for an entity type.
// Unknown types get a low constant so configured types always win.
func (s *Snapshot) Precedence(t EntityType) float64 {
	if p, ok := s.precedence[t]; ok {
		return p
	}
	return defaultPrecedence
}

// newSnapshot builds an immutable snapshot from raw file data.
func newSnapshot(version int64, terms []Term, expansions map[string]string, precedence map[EntityType]float64) *Snapshot {
	termIndex := make(map[string]Term, len(terms))
	maxTokens := 1
	for _, t := range terms {
		key := strings.ToLower(strings.TrimSpace(t.Surface))
		if key == "" {
			continue
		}
		if t.Canonical == "" {
			t.Canonical = strings.ReplaceAll(key, " ", "_")
		}
		if t.Weight == 0 {
			t.Weight = 1.0
		}
		termIndex[key] = t
		if n := len(strings.Fields(key)); n > maxTokens {
			maxTokens = n
		}
	}

	exp := make(map[string]string, len(expansions))
	for k, v := range expansions {
		exp[strings.ToLower(k)] = strings.ToLower(v)
	}

	prec := make(map[EntityType]float64, len(precedence))
	for k, v := range precedence {
		prec[k] = v
	}

	return &Snapshot{
		version:       version,
		terms:         termIndex,
		expansions:    exp,
		precedence:    prec,
		maxTermTokens: maxTokens,
	}
}
