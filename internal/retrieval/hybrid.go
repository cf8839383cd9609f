package retrieval

import (
	"context"
	"strings"
	"time"

	"github.com/fleetworks/searchd/internal/capability"
	"github.com/fleetworks/searchd/internal/store"
)

// collectionGroup bundles the plan's tasks that target one collection.
type collectionGroup struct {
	collection string
	exact      []capability.Task
	fuzzy      *capability.Task
	vector     *capability.Task
}

// groupByCollection splits a plan into per-collection hybrid groups.
// Groups with a single task gain nothing from hybrid execution and are
// returned as leftovers for the regular path. Tasks carrying rewrites also
// stay on the regular path, which merges results across every query; the
// hybrid round trip answers a single query.
func groupByCollection(plan capability.Plan) (groups []*collectionGroup, leftovers []capability.Task) {
	byCollection := make(map[string]*collectionGroup)
	order := make([]string, 0)
	groupFor := func(collection string) *collectionGroup {
		g, ok := byCollection[collection]
		if !ok {
			g = &collectionGroup{collection: collection}
			byCollection[collection] = g
			order = append(order, collection)
		}
		return g
	}
	for _, task := range plan.Tasks {
		switch task.Strategy {
		case capability.StrategyExact:
			g := groupFor(task.Collection)
			g.exact = append(g.exact, task)
		case capability.StrategyFuzzy:
			g := groupFor(task.Collection)
			if len(task.Queries) > 1 || g.fuzzy != nil {
				leftovers = append(leftovers, task)
				continue
			}
			t := task
			g.fuzzy = &t
		case capability.StrategyVector:
			g := groupFor(task.Collection)
			if len(task.Queries) > 1 || g.vector != nil {
				leftovers = append(leftovers, task)
				continue
			}
			t := task
			g.vector = &t
		}
	}

	for _, name := range order {
		g := byCollection[name]
		n := len(g.exact)
		if g.fuzzy != nil {
			n++
		}
		if g.vector != nil {
			n++
		}
		if n < 2 {
			leftovers = append(leftovers, g.tasks()...)
			continue
		}
		groups = append(groups, g)
	}
	return groups, leftovers
}

func (g *collectionGroup) tasks() []capability.Task {
	out := append([]capability.Task{}, g.exact...)
	if g.fuzzy != nil {
		out = append(out, *g.fuzzy)
	}
	if g.vector != nil {
		out = append(out, *g.vector)
	}
	return out
}

// runHybrid answers a collection group in one store round trip and maps the
// combined result back onto per-task outcomes.
func (e *Executor) runHybrid(ctx context.Context, hs store.HybridSearcher, g *collectionGroup) []TaskOutcome {
	taskCtx, cancel := context.WithTimeout(ctx, e.opts.PerTaskTimeout)
	defer cancel()

	q := store.HybridQuery{
		Collection: g.collection,
		Fuzzy:      g.fuzzy != nil,
		Vector:     g.vector != nil,
	}
	limit := 0
	for _, t := range g.exact {
		q.Exact = append(q.Exact, store.ExactClause{Field: t.Field, Value: t.Value})
		if t.Limit > limit {
			limit = t.Limit
		}
	}
	if g.fuzzy != nil {
		q.Query = g.fuzzy.Queries[0]
		if g.fuzzy.Limit > limit {
			limit = g.fuzzy.Limit
		}
	}
	if g.vector != nil {
		if q.Query == "" {
			q.Query = g.vector.Queries[0]
		}
		if g.vector.Limit > limit {
			limit = g.vector.Limit
		}
	}
	q.Limit = limit

	start := time.Now()
	res, err := hs.HybridSearch(taskCtx, q)
	elapsed := time.Since(start)
	if err != nil {
		outcomes := make([]TaskOutcome, 0, len(g.tasks()))
		for _, t := range g.tasks() {
			outcomes = append(outcomes, TaskOutcome{Task: t, Err: err, Elapsed: elapsed})
		}
		return outcomes
	}

	var outcomes []TaskOutcome
	for _, t := range g.exact {
		var results []Result
		for _, doc := range res.Exact {
			// The combined round trip answers every clause at once;
			// a row belongs to the task whose value it matched.
			if !strings.EqualFold(doc.Fields[t.Field], t.Value) {
				continue
			}
			results = append(results, Result{
				Doc:           store.ScoredDocument{Document: doc, Score: 1.0},
				Capability:    t.Capability,
				Strategy:      t.Strategy,
				Collection:    t.Collection,
				Query:         t.Value,
				Rank:          len(results) + 1,
				Deterministic: true,
				Confidence:    t.Confidence,
			})
		}
		outcomes = append(outcomes, TaskOutcome{Task: t, Results: results, Elapsed: elapsed})
	}
	if g.fuzzy != nil {
		outcomes = append(outcomes, TaskOutcome{
			Task:    *g.fuzzy,
			Results: scoredToResults(res.Fuzzy, *g.fuzzy, q.Query),
			Elapsed: elapsed,
		})
	}
	if g.vector != nil {
		outcomes = append(outcomes, TaskOutcome{
			Task:    *g.vector,
			Results: scoredToResults(res.Vector, *g.vector, q.Query),
			Elapsed: elapsed,
		})
	}
	return outcomes
}

func scoredToResults(scored []store.ScoredDocument, task capability.Task, query string) []Result {
	results := make([]Result, len(scored))
	for i, doc := range scored {
		results[i] = Result{
			Doc:        doc,
			Capability: task.Capability,
			Strategy:   task.Strategy,
			Collection: task.Collection,
			Query:      query,
			Rank:       i + 1,
			Confidence: task.Confidence,
		}
	}
	return results
}
