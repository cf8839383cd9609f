// Package capability maps extracted entities to retrieval work.
//
// A capability binds trigger entity types to a target collection and
// strategy. The registry is validated at load time: every entity type the
// pipeline knows must map to at least one capability or carry an explicit
// no-capability marker, so an unmapped type is a configuration error, not a
// silent gap. The planner turns surviving entities plus the request lane
// into an ordered plan of retrieval tasks; plans are pure data.
package capability

import (
	"errors"
	"fmt"
	"sync"

	"github.com/fleetworks/searchd/internal/lexicon"
)

// Sentinel errors for registry operations.
var (
	// ErrUnmappedType indicates an entity type with neither a capability
	// nor a no-capability marker.
	ErrUnmappedType = errors.New("entity type not mapped to any capability")

	// ErrCapabilityNotFound indicates an unknown capability name.
	ErrCapabilityNotFound = errors.New("capability not found")

	// ErrDuplicateCapability indicates two definitions with the same name.
	ErrDuplicateCapability = errors.New("duplicate capability name")
)

// Readiness is the operational state of a capability.
type Readiness string

const (
	// ReadinessActive means the capability serves retrieval tasks.
	ReadinessActive Readiness = "ACTIVE"

	// ReadinessEmpty means the backing collection has no usable data; the
	// planner excludes the capability and records the reason.
	ReadinessEmpty Readiness = "EMPTY"
)

// Strategy names a retrieval strategy a capability uses.
type Strategy string

const (
	StrategyExact  Strategy = "exact"
	StrategyFuzzy  Strategy = "fuzzy"
	StrategyVector Strategy = "vector"
)

// Definition describes one capability.
type Definition struct {
	// Name uniquely identifies the capability ("part_lookup", ...).
	Name string

	// Triggers are the entity types that activate this capability.
	Triggers []lexicon.EntityType

	// Collection is the target datastore collection.
	Collection string

	// Field is the normalized identifier field for exact lookups; empty
	// for capabilities without a deterministic resolver.
	Field string

	// Strategies lists the retrieval strategies this capability plans.
	Strategies []Strategy

	// Priority orders capabilities within a plan; lower runs earlier.
	Priority int

	// Readiness gates the capability; EMPTY capabilities never plan tasks.
	Readiness Readiness

	// EmptyReason explains an EMPTY readiness for diagnostics.
	EmptyReason string
}

// hasStrategy reports whether the definition plans the given strategy.
func (d Definition) hasStrategy(s Strategy) bool {
	for _, have := range d.Strategies {
		if have == s {
			return true
		}
	}
	return false
}

// Registry holds validated capability definitions.
//
// Readiness may be promoted at runtime (EMPTY -> ACTIVE after a probe finds
// rows), so access is guarded; definitions themselves never change.
type Registry struct {
	mu           sync.RWMutex
	defs         map[string]Definition
	order        []string
	noCapability map[lexicon.EntityType]bool
}

// NewRegistry validates definitions and no-capability markers.
//
// noCapability lists entity types intentionally left without retrieval
// (e.g. measurements qualify other entities but trigger nothing). Every
// known type must appear in a definition's triggers or in noCapability.
func NewRegistry(defs []Definition, noCapability []lexicon.EntityType) (*Registry, error) {
	r := &Registry{
		defs:         make(map[string]Definition, len(defs)),
		noCapability: make(map[lexicon.EntityType]bool, len(noCapability)),
	}
	for _, t := range noCapability {
		r.noCapability[t] = true
	}

	triggered := make(map[lexicon.EntityType]bool)
	for _, def := range defs {
		if def.Name == "" {
			return nil, fmt.Errorf("capability with empty name")
		}
		if _, ok := r.defs[def.Name]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateCapability, def.Name)
		}
		if def.Collection == "" {
			return nil, fmt.Errorf("capability %s: collection required", def.Name)
		}
		if len(def.Strategies) == 0 {
			return nil, fmt.Errorf("capability %s: at least one strategy required", def.Name)
		}
		if def.hasStrategy(StrategyExact) && def.Field == "" {
			return nil, fmt.Errorf("capability %s: exact strategy requires a field", def.Name)
		}
		if def.Readiness == "" {
			def.Readiness = ReadinessActive
		}
		if def.Readiness == ReadinessEmpty && def.EmptyReason == "" {
			return nil, fmt.Errorf("capability %s: EMPTY readiness requires a reason", def.Name)
		}
		for _, t := range def.Triggers {
			triggered[t] = true
		}
		r.defs[def.Name] = def
		r.order = append(r.order, def.Name)
	}

	for _, t := range lexicon.KnownTypes() {
		if !triggered[t] && !r.noCapability[t] {
			return nil, fmt.Errorf("%w: %s", ErrUnmappedType, t)
		}
	}
	return r, nil
}

// Get returns a capability definition by name.
func (r *Registry) Get(name string) (Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %s", ErrCapabilityNotFound, name)
	}
	return def, nil
}

// All returns definitions in registration order.
func (r *Registry) All() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.defs[name])
	}
	return out
}

// ForType returns definitions triggered by an entity type, in registration
// order.
func (r *Registry) ForType(t lexicon.EntityType) []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Definition
	for _, name := range r.order {
		def := r.defs[name]
		for _, trigger := range def.Triggers {
			if trigger == t {
				out = append(out, def)
				break
			}
		}
	}
	return out
}

// SetReadiness updates a capability's readiness, used by the probe to
// promote EMPTY capabilities once data lands.
func (r *Registry) SetReadiness(name string, readiness Readiness, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	def, ok := r.defs[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrCapabilityNotFound, name)
	}
	def.Readiness = readiness
	def.EmptyReason = reason
	r.defs[name] = def
	return nil
}
