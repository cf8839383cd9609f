package capability

import (
	"sort"

	"github.com/fleetworks/searchd/internal/extract"
	"github.com/fleetworks/searchd/internal/lexicon"
)

// Task is one planned retrieval unit. Tasks are pure data; execution
// belongs to the retrieval executor.
type Task struct {
	// Capability is the name of the capability that planned this task.
	Capability string `json:"capability"`

	// Collection is the target datastore collection.
	Collection string `json:"collection"`

	// Strategy selects exact, fuzzy or vector retrieval.
	Strategy Strategy `json:"strategy"`

	// Field and Value drive exact lookups; empty otherwise.
	Field string `json:"field,omitempty"`
	Value string `json:"value,omitempty"`

	// Queries are the texts for fuzzy/vector retrieval: the normalized
	// query first, then any rewrites.
	Queries []string `json:"queries,omitempty"`

	// EntityType and Confidence carry the triggering entity forward for
	// scoring.
	EntityType lexicon.EntityType `json:"entity_type,omitempty"`
	Confidence float64            `json:"confidence,omitempty"`

	// Limit bounds the number of rows the task may return.
	Limit int `json:"limit"`
}

// Exclusion records a capability the planner skipped and why.
type Exclusion struct {
	Capability string `json:"capability"`
	Reason     string `json:"reason"`
}

// Plan is the ordered retrieval plan for one request.
type Plan struct {
	Tasks    []Task      `json:"tasks"`
	Excluded []Exclusion `json:"excluded,omitempty"`
}

// Planner turns surviving entities plus the request lane into a Plan.
type Planner struct {
	registry  *Registry
	maxFanout int
	taskLimit int
}

// NewPlanner creates a planner. maxFanout bounds deterministic resolver
// targets per request; taskLimit bounds rows per task.
func NewPlanner(registry *Registry, maxFanout, taskLimit int) *Planner {
	if maxFanout <= 0 {
		maxFanout = 6
	}
	if taskLimit <= 0 {
		taskLimit = 20
	}
	return &Planner{registry: registry, maxFanout: maxFanout, taskLimit: taskLimit}
}

// BuildPlan maps entities and lane to an ordered plan.
//
// Exact resolver tasks come first, then fuzzy, then vector. EMPTY
// capabilities are excluded with their reason. The RULES_ONLY lane skips
// vector retrieval; the BLOCKED lane plans nothing.
func (p *Planner) BuildPlan(lane extract.Lane, query string, rewrites []string, entities []extract.Entity) Plan {
	var plan Plan
	if !lane.AllowsRetrieval() {
		return plan
	}

	queries := append([]string{query}, rewrites...)
	identifiers := lexicon.IdentifierTypes()

	type pending struct {
		task     Task
		priority int
	}
	var exact, fuzzy, vector []pending
	seenExact := make(map[string]bool)
	seenSearch := make(map[string]bool)
	excluded := make(map[string]bool)

	for _, entity := range entities {
		for _, def := range p.registry.ForType(entity.Type) {
			if def.Readiness == ReadinessEmpty {
				if !excluded[def.Name] {
					excluded[def.Name] = true
					plan.Excluded = append(plan.Excluded, Exclusion{
						Capability: def.Name,
						Reason:     def.EmptyReason,
					})
				}
				continue
			}

			if def.hasStrategy(StrategyExact) && identifiers[entity.Type] && entity.Canonical != "" {
				key := def.Collection + "\x00" + def.Field + "\x00" + entity.Canonical
				if !seenExact[key] {
					seenExact[key] = true
					exact = append(exact, pending{
						priority: def.Priority,
						task: Task{
							Capability: def.Name,
							Collection: def.Collection,
							Strategy:   StrategyExact,
							Field:      def.Field,
							Value:      entity.Canonical,
							EntityType: entity.Type,
							Confidence: entity.Confidence,
							Limit:      p.taskLimit,
						},
					})
				}
			}

			for _, strategy := range []Strategy{StrategyFuzzy, StrategyVector} {
				if !def.hasStrategy(strategy) {
					continue
				}
				if strategy == StrategyVector && lane == extract.LaneRulesOnly {
					continue
				}
				key := def.Name + "\x00" + string(strategy)
				if seenSearch[key] {
					continue
				}
				seenSearch[key] = true
				task := Task{
					Capability: def.Name,
					Collection: def.Collection,
					Strategy:   strategy,
					Queries:    queries,
					EntityType: entity.Type,
					Confidence: entity.Confidence,
					Limit:      p.taskLimit,
				}
				if strategy == StrategyFuzzy {
					fuzzy = append(fuzzy, pending{task: task, priority: def.Priority})
				} else {
					vector = append(vector, pending{task: task, priority: def.Priority})
				}
			}
		}
	}

	// Bound deterministic fanout. Entities arrive in text order, so the
	// leftmost identifiers keep their resolvers.
	if len(exact) > p.maxFanout {
		exact = exact[:p.maxFanout]
	}

	for _, group := range [][]pending{exact, fuzzy, vector} {
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].priority < group[j].priority
		})
		for _, pt := range group {
			plan.Tasks = append(plan.Tasks, pt.task)
		}
	}
	return plan
}
