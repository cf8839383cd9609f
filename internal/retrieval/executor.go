// Package retrieval executes capability plans against the tenant-scoped
// datastore.
//
// The executor fans planned tasks out on an errgroup under one cancellation
// scope per request. Each task runs under its own hard timeout; a task that
// times out or errors is excluded and logged, never failing the request.
// Identical concurrent queries are collapsed through singleflight. A
// deterministic resolver hit may cancel outstanding fuzzy/vector tasks;
// fuzzy and vector progress never cancels anything.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/fleetworks/searchd/internal/capability"
	"github.com/fleetworks/searchd/internal/logging"
	"github.com/fleetworks/searchd/internal/store"
)

// Result is one retrieved row annotated with its provenance.
type Result struct {
	Doc store.ScoredDocument

	// Capability and Strategy identify the task that produced the row.
	Capability string
	Strategy   capability.Strategy
	Collection string

	// Query is the query text that matched (primary or a rewrite).
	Query string

	// Rank is the 1-based position within the producing result list,
	// used by rank fusion.
	Rank int

	// Deterministic marks an exact resolver hit; ranking pins these to
	// the top tier.
	Deterministic bool

	// Confidence carries the triggering entity's confidence forward.
	Confidence float64
}

// TaskOutcome is the result of one executed task.
type TaskOutcome struct {
	Task    capability.Task
	Results []Result
	Err     error
	Elapsed time.Duration
}

// Options tune the executor.
type Options struct {
	// PerTaskTimeout is the hard per-task deadline.
	PerTaskTimeout time.Duration

	// CancelOnDeterministicWin cancels outstanding fuzzy/vector tasks
	// once an exact resolver returns rows.
	CancelOnDeterministicWin bool

	// PreferHybrid combines same-collection strategies into one store
	// round trip when the store supports it.
	PreferHybrid bool
}

// Executor runs capability plans.
type Executor struct {
	store  store.Store
	opts   Options
	flight singleflight.Group
	logger *logging.Logger
}

// NewExecutor creates an executor over the given store.
func NewExecutor(s store.Store, opts Options, logger *logging.Logger) *Executor {
	if opts.PerTaskTimeout <= 0 {
		opts.PerTaskTimeout = 120 * time.Millisecond
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Executor{store: s, opts: opts, logger: logger.Named("retrieval")}
}

// Execute runs all planned tasks and streams outcomes as tasks complete.
// The returned channel closes once every task has finished. Exact tasks
// never wait on fuzzy or vector tasks.
func (e *Executor) Execute(ctx context.Context, plan capability.Plan) <-chan TaskOutcome {
	out := make(chan TaskOutcome, len(plan.Tasks))
	if len(plan.Tasks) == 0 {
		close(out)
		return out
	}

	// Non-deterministic tasks run under a child scope so a deterministic
	// win can cancel them without touching exact tasks.
	nonDetCtx, nonDetCancel := context.WithCancel(ctx)

	g, gctx := errgroup.WithContext(ctx)

	tasks := plan.Tasks
	if hs, ok := e.store.(store.HybridSearcher); ok && e.opts.PreferHybrid {
		groups, leftovers := groupByCollection(plan)
		tasks = leftovers
		for _, group := range groups {
			group := group
			g.Go(func() error {
				for _, outcome := range e.runHybrid(gctx, hs, group) {
					if outcome.Err != nil && errors.Is(outcome.Err, store.ErrIsolationViolation) {
						// The violation must reach the caller before the
						// channel closes.
						select {
						case out <- outcome:
						case <-ctx.Done():
						}
						return outcome.Err
					}
					if e.opts.CancelOnDeterministicWin &&
						outcome.Task.Strategy == capability.StrategyExact &&
						outcome.Err == nil && len(outcome.Results) > 0 {
						nonDetCancel()
					}
					select {
					case out <- outcome:
					case <-ctx.Done():
						return nil
					}
				}
				return nil
			})
		}
	}

	for _, task := range tasks {
		task := task
		taskCtx := gctx
		if task.Strategy != capability.StrategyExact {
			taskCtx = nonDetCtx
		}
		g.Go(func() error {
			start := time.Now()
			results, err := e.runTask(taskCtx, task)
			outcome := TaskOutcome{
				Task:    task,
				Results: results,
				Err:     err,
				Elapsed: time.Since(start),
			}
			if err != nil {
				// Failure isolation: log and report, never abort,
				// except for isolation violations which are fatal.
				if errors.Is(err, store.ErrIsolationViolation) {
					select {
					case out <- outcome:
					case <-ctx.Done():
					}
					return err
				}
				e.logger.Warn(ctx, "retrieval task failed",
					zap.String("capability", task.Capability),
					zap.String("strategy", string(task.Strategy)),
					zap.Duration("elapsed", outcome.Elapsed),
					zap.Error(err))
			}
			if e.opts.CancelOnDeterministicWin &&
				task.Strategy == capability.StrategyExact &&
				err == nil && len(results) > 0 {
				nonDetCancel()
			}
			select {
			case out <- outcome:
			case <-ctx.Done():
			}
			return nil
		})
	}

	go func() {
		_ = g.Wait()
		nonDetCancel()
		close(out)
	}()
	return out
}

// Collect drains the outcome channel into results plus per-capability
// errors. Context cancellation stops collection early with what arrived.
func Collect(ctx context.Context, ch <-chan TaskOutcome) ([]Result, map[string]error) {
	var results []Result
	failures := make(map[string]error)
	for {
		select {
		case outcome, ok := <-ch:
			if !ok {
				return results, failures
			}
			if outcome.Err != nil {
				failures[outcome.Task.Capability] = outcome.Err
				continue
			}
			results = append(results, outcome.Results...)
		case <-ctx.Done():
			return results, failures
		}
	}
}

// runTask executes one task under its timeout, collapsing identical
// concurrent queries.
func (e *Executor) runTask(ctx context.Context, task capability.Task) ([]Result, error) {
	taskCtx, cancel := context.WithTimeout(ctx, e.opts.PerTaskTimeout)
	defer cancel()

	v, err, _ := e.flight.Do(taskKey(ctx, task), func() (any, error) {
		switch task.Strategy {
		case capability.StrategyExact:
			return e.exactLookup(taskCtx, task)
		case capability.StrategyFuzzy, capability.StrategyVector:
			return e.search(taskCtx, task)
		default:
			return nil, fmt.Errorf("unknown strategy %q", task.Strategy)
		}
	})
	if err != nil {
		return nil, err
	}
	return v.([]Result), nil
}

// exactLookup is the deterministic resolver: an equality lookup on a
// normalized identifier field. Hits pin their rows to the top tier.
func (e *Executor) exactLookup(ctx context.Context, task capability.Task) ([]Result, error) {
	docs, err := e.store.ExactLookup(ctx, task.Collection, task.Field, task.Value, task.Limit)
	if err != nil {
		return nil, err
	}
	results := make([]Result, len(docs))
	for i, doc := range docs {
		results[i] = Result{
			Doc:           store.ScoredDocument{Document: doc, Score: 1.0},
			Capability:    task.Capability,
			Strategy:      task.Strategy,
			Collection:    task.Collection,
			Query:         task.Value,
			Rank:          i + 1,
			Deterministic: true,
			Confidence:    task.Confidence,
		}
	}
	return results, nil
}

// search runs fuzzy or vector retrieval for the primary query and every
// rewrite, keeping the best score and rank per document.
func (e *Executor) search(ctx context.Context, task capability.Task) ([]Result, error) {
	best := make(map[string]Result)
	for _, query := range task.Queries {
		var (
			scored []store.ScoredDocument
			err    error
		)
		switch task.Strategy {
		case capability.StrategyFuzzy:
			scored, err = e.store.FuzzySearch(ctx, task.Collection, query, task.Limit)
		default:
			scored, err = e.store.VectorSearch(ctx, task.Collection, query, task.Limit)
		}
		if err != nil {
			// The primary query must succeed; rewrite failures only
			// lose recall.
			if query == task.Queries[0] {
				return nil, err
			}
			continue
		}
		for i, doc := range scored {
			r := Result{
				Doc:        doc,
				Capability: task.Capability,
				Strategy:   task.Strategy,
				Collection: task.Collection,
				Query:      query,
				Rank:       i + 1,
				Confidence: task.Confidence,
			}
			prev, ok := best[doc.ID]
			if !ok || doc.Score > prev.Doc.Score || (doc.Score == prev.Doc.Score && r.Rank < prev.Rank) {
				best[doc.ID] = r
			}
		}
	}

	results := make([]Result, 0, len(best))
	for _, r := range best {
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Doc.Score != results[j].Doc.Score {
			return results[i].Doc.Score > results[j].Doc.Score
		}
		return results[i].Doc.ID < results[j].Doc.ID
	})
	// Re-rank after merging across queries.
	for i := range results {
		results[i].Rank = i + 1
	}
	if task.Limit > 0 && len(results) > task.Limit {
		results = results[:task.Limit]
	}
	return results, nil
}

// taskKey builds the singleflight key. Tenant scoping is part of the key so
// identical queries from different tenants never share results.
func taskKey(ctx context.Context, task capability.Task) string {
	var b strings.Builder
	if tenant, err := store.TenantFromContext(ctx); err == nil {
		b.WriteString(tenant.TenantID)
		b.WriteByte('|')
		b.WriteString(tenant.ScopeID)
		b.WriteByte('|')
	}
	b.WriteString(string(task.Strategy))
	b.WriteByte('|')
	b.WriteString(task.Collection)
	b.WriteByte('|')
	b.WriteString(task.Field)
	b.WriteByte('|')
	b.WriteString(task.Value)
	b.WriteByte('|')
	b.WriteString(strings.Join(task.Queries, "\x00"))
	return b.String()
}
