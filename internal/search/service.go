// Package search orchestrates the full request pipeline: admission, cache,
// normalization, extraction, coverage gating, fallback, rewriting,
// planning, retrieval, ranking, stage-1 merge and emission.
//
// The pipeline prefers partial results over total failure: individual task
// errors degrade the envelope, only the end-to-end budget and tenant
// isolation violations abort a request.
package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fleetworks/searchd/internal/cache"
	"github.com/fleetworks/searchd/internal/capability"
	"github.com/fleetworks/searchd/internal/config"
	"github.com/fleetworks/searchd/internal/extract"
	"github.com/fleetworks/searchd/internal/lexicon"
	"github.com/fleetworks/searchd/internal/logging"
	"github.com/fleetworks/searchd/internal/normalize"
	"github.com/fleetworks/searchd/internal/ranking"
	"github.com/fleetworks/searchd/internal/ratelimit"
	"github.com/fleetworks/searchd/internal/retrieval"
	"github.com/fleetworks/searchd/internal/rewrite"
	"github.com/fleetworks/searchd/internal/store"
)

// Sentinel errors surfaced to the HTTP layer.
var (
	// ErrNoPrincipal means the request carries no tenant principal.
	ErrNoPrincipal = errors.New("missing request principal")

	// ErrEmptyQuery rejects blank queries before any work happens.
	ErrEmptyQuery = errors.New("empty query")
)

// Request is one search invocation.
type Request struct {
	Query    string
	Limit    int
	Endpoint string
}

// Budget caps each pipeline stage.
type Budget struct {
	Rewrite  time.Duration
	PerQuery time.Duration
	Total    time.Duration
}

// Deps bundles the service's collaborators.
type Deps struct {
	Lexicon  *lexicon.Provider
	Store    store.Store
	Gate     *ratelimit.Gate
	Cache    *cache.Cache
	Fallback extract.FallbackClient
	Rewriter *rewrite.Rewriter
	Registry *capability.Registry
	Logger   *logging.Logger
	Metrics  *Metrics
	Tracer   oteltrace.Tracer
}

// Service runs the search pipeline.
type Service struct {
	cfg      config.Config
	budget   Budget
	lexicon  *lexicon.Provider
	gate     *ratelimit.Gate
	cache    *cache.Cache
	fallback extract.FallbackClient
	rewriter *rewrite.Rewriter
	registry *capability.Registry
	planner  *capability.Planner
	executor *retrieval.Executor
	coverage *extract.CoverageController
	logger   *logging.Logger
	metrics  *Metrics
	tracer   oteltrace.Tracer
}

// New wires the pipeline from configuration and collaborators.
func New(cfg config.Config, deps Deps) (*Service, error) {
	if deps.Lexicon == nil || deps.Store == nil {
		return nil, fmt.Errorf("lexicon provider and store are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = NewMetrics(prometheus.NewRegistry())
	}

	registry := deps.Registry
	if registry == nil {
		registry = capability.NewDefaultRegistry()
	}
	gate := deps.Gate
	if gate == nil {
		gate = ratelimit.New(ratelimit.Config{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
			MaxConcurrent:     cfg.RateLimit.MaxConcurrent,
		})
	}

	budget := Budget{
		Rewrite:  cfg.Rewrite.Budget.Duration(),
		PerQuery: cfg.Search.PerQueryTimeout.Duration(),
		Total:    cfg.Search.TotalTimeout.Duration(),
	}
	if budget.Total <= 0 {
		budget.Total = 2 * time.Second
	}

	executor := retrieval.NewExecutor(deps.Store, retrieval.Options{
		PerTaskTimeout:           budget.PerQuery,
		CancelOnDeterministicWin: true,
		PreferHybrid:             true,
	}, logger)

	return &Service{
		cfg:      cfg,
		budget:   budget,
		lexicon:  deps.Lexicon,
		gate:     gate,
		cache:    deps.Cache,
		fallback: deps.Fallback,
		rewriter: deps.Rewriter,
		registry: registry,
		planner:  capability.NewPlanner(registry, cfg.Search.MaxResolverFanout, cfg.Search.DefaultLimit),
		executor: executor,
		coverage: extract.NewCoverageController(
			cfg.Extraction.HighCoverageThreshold,
			cfg.Extraction.LowCoverageThreshold,
			logger,
		),
		logger:  logger.Named("search"),
		metrics: metrics,
		tracer:  deps.Tracer,
	}, nil
}

// Registry exposes the capability registry for the readiness endpoint.
func (s *Service) Registry() *capability.Registry {
	return s.registry
}

// BatchInterval returns the streaming batch cadence.
func (s *Service) BatchInterval() time.Duration {
	if d := s.cfg.Search.BatchInterval.Duration(); d > 0 {
		return d
	}
	return 50 * time.Millisecond
}

// pipelineState carries one request through the stages.
type pipelineState struct {
	searchID   string
	principal  *logging.Principal
	normalized string
	extraction extract.ExtractionResult
	lane       extract.Lane
	stats      extract.CoverageStats
	entities   []extract.Entity
	rewrites   []string
	plan       capability.Plan
	timings    map[string]time.Duration
	started    time.Time
}

// Search runs the pipeline and returns the response envelope.
func (s *Service) Search(ctx context.Context, req Request) (*Envelope, error) {
	ctx, state, release, err := s.admit(ctx, req)
	if err != nil {
		return nil, err
	}
	defer release()

	ctx, cancel := context.WithTimeout(ctx, s.budget.Total)
	defer cancel()

	key, cached := s.cacheLookup(ctx, req, state)
	if cached != nil {
		return cached, nil
	}

	if err := s.prepare(ctx, req, state); err != nil {
		return nil, err
	}

	var (
		outcomes []retrieval.TaskOutcome
		results  []retrieval.Result
		failures = make(map[string]error)
	)
	if state.lane.AllowsRetrieval() {
		execStart := time.Now()
		ch := s.executor.Execute(ctx, state.plan)
		for outcome := range ch {
			outcomes = append(outcomes, outcome)
			if outcome.Err != nil {
				if errors.Is(outcome.Err, store.ErrIsolationViolation) {
					return nil, outcome.Err
				}
				failures[outcome.Task.Capability] = outcome.Err
				continue
			}
			results = append(results, outcome.Results...)
		}
		state.timings["retrieve"] = time.Since(execStart)
	}

	final, err := s.rank(state, results)
	if err != nil {
		return nil, err
	}
	if req.Limit > 0 && len(final) > req.Limit {
		final = final[:req.Limit]
	}

	env := s.buildEnvelope(state, final, failures, outcomes)
	s.record(ctx, state, env)
	s.cacheStore(key, env, state)
	return env, nil
}

// admit authenticates the principal and passes admission control. It runs
// before any datastore work; a rejection costs nothing downstream.
func (s *Service) admit(ctx context.Context, req Request) (context.Context, *pipelineState, func(), error) {
	if req.Query == "" {
		return ctx, nil, nil, ErrEmptyQuery
	}
	principal := logging.PrincipalFromContext(ctx)
	if principal == nil {
		return ctx, nil, nil, ErrNoPrincipal
	}

	release, err := s.gate.Admit(ctx, principal.TenantID)
	if err != nil {
		s.metrics.rejections.Inc()
		return ctx, nil, nil, err
	}

	state := &pipelineState{
		searchID:  uuid.NewString(),
		principal: principal,
		timings:   make(map[string]time.Duration),
		started:   time.Now(),
	}
	ctx = logging.WithSearchID(ctx, state.searchID)
	ctx = store.ContextWithTenant(ctx, &store.TenantInfo{
		TenantID: principal.TenantID,
		ScopeID:  principal.Scope,
	})
	if s.tracer != nil {
		var span oteltrace.Span
		ctx, span = s.tracer.Start(ctx, "search",
			oteltrace.WithAttributes(attribute.String("search.id", state.searchID)))
		innerRelease := release
		release = func() {
			span.End()
			innerRelease()
		}
	}
	return ctx, state, release, nil
}

// prepare runs the request-time stages up to planning.
func (s *Service) prepare(ctx context.Context, req Request, state *pipelineState) error {
	snap := s.lexicon.Snapshot()

	start := time.Now()
	state.normalized = normalize.New(snap).Normalize(req.Query)
	state.timings["normalize"] = time.Since(start)

	start = time.Now()
	extractor := extract.NewExtractor(snap, extract.DefaultPatterns(), s.cfg.Extraction.ConfidenceThresholds, s.logger)
	state.extraction = extractor.Extract(ctx, state.normalized)
	state.timings["extract"] = time.Since(start)

	state.lane, state.stats = s.coverage.Decide(ctx, state.normalized, state.extraction)
	state.entities = state.extraction.Entities

	if state.lane.AllowsFallback() && s.fallback != nil {
		start = time.Now()
		s.metrics.fallbacks.Inc()
		fb, err := s.fallback.ExtractEntities(ctx, state.normalized)
		if err != nil {
			// Fallback failure is non-fatal: continue with what rules found.
			s.logger.Debug(ctx, "fallback extraction skipped", zap.Error(err))
		} else {
			state.entities = extract.Merge(state.entities, fb)
		}
		state.timings["fallback"] = time.Since(start)
	}

	if state.lane == extract.LaneGPT && s.rewriter != nil {
		start = time.Now()
		state.rewrites = s.rewriter.Rewrite(ctx, state.normalized)
		state.timings["rewrite"] = time.Since(start)
	}

	start = time.Now()
	state.plan = s.planner.BuildPlan(state.lane, state.normalized, state.rewrites, state.entities)
	state.timings["plan"] = time.Since(start)
	return nil
}

// rank orders results and applies the stage-1 merge.
func (s *Service) rank(state *pipelineState, results []retrieval.Result) ([]ranking.Ranked, error) {
	start := time.Now()
	defer func() { state.timings["rank"] = time.Since(start) }()

	policy := ranking.ForLane(state.lane)
	ranked := policy.Rank(ranking.Input{
		Query:    state.normalized,
		Entities: state.entities,
		Results:  results,
		Now:      time.Now(),
	})
	return ranking.MergeStage1(ranked)
}

// buildEnvelope assembles the response.
func (s *Service) buildEnvelope(state *pipelineState, final []ranking.Ranked, failures map[string]error, outcomes []retrieval.TaskOutcome) *Envelope {
	return &Envelope{
		SearchID:        state.searchID,
		Query:           state.normalized,
		NormalizedQuery: state.normalized,
		Lane:            state.lane,
		Entities:        state.entities,
		Capabilities:    capabilityStatuses(state.plan, outcomes),
		Results:         groupByCollection(final),
		Outcome:         classifyOutcome(state.lane, final, failures),
		Timings:         state.timings,
		Elapsed:         time.Since(state.started),
	}
}

// record feeds the observability sink.
func (s *Service) record(ctx context.Context, state *pipelineState, env *Envelope) {
	s.metrics.searches.WithLabelValues(env.Outcome, string(state.lane)).Inc()
	s.metrics.duration.WithLabelValues(string(state.lane)).Observe(env.Elapsed.Seconds())
	s.logger.Info(ctx, "search completed",
		zap.String("outcome", env.Outcome),
		zap.String("lane", string(state.lane)),
		zap.Int("entities", len(state.entities)),
		zap.Int("tasks", len(state.plan.Tasks)),
		zap.Float64("coverage", state.stats.Coverage),
		zap.Duration("elapsed", env.Elapsed))
}

// cacheLookup returns the cached envelope for this request, if any.
func (s *Service) cacheLookup(ctx context.Context, req Request, state *pipelineState) (cache.Key, *Envelope) {
	key := s.cacheKey(req, state)
	if s.cache == nil {
		return key, nil
	}
	v, ok := s.cache.Get(key)
	if !ok {
		s.metrics.cacheMiss.Inc()
		return key, nil
	}
	env, ok := v.(*Envelope)
	if !ok {
		return key, nil
	}
	s.metrics.cacheHits.Inc()
	s.logger.Debug(ctx, "envelope cache hit", zap.String("outcome", env.Outcome))
	out := *env
	out.Cached = true
	return key, &out
}

// cacheStore caches a finished envelope, tagged with the collections it
// read so invalidation events can target it.
func (s *Service) cacheStore(key cache.Key, env *Envelope, state *pipelineState) {
	if s.cache == nil || env.Outcome == OutcomePartial || env.Outcome == OutcomeUnknown {
		return
	}
	seen := make(map[string]bool)
	var objects []string
	for _, task := range state.plan.Tasks {
		if !seen[task.Collection] {
			seen[task.Collection] = true
			objects = append(objects, task.Collection)
		}
	}
	s.cache.Set(key, env, objects)
}

// cacheKey builds the envelope cache key. The full security context is in
// the key, so two distinct contexts can never collide.
func (s *Service) cacheKey(req Request, state *pipelineState) cache.Key {
	return cache.Key{
		Tenant:           state.principal.TenantID,
		Scope:            state.principal.Scope,
		User:             state.principal.UserID,
		Role:             state.principal.Role,
		Endpoint:         req.Endpoint,
		Phase:            "envelope",
		QueryHash:        cache.HashQuery(normalizeForKey(s.lexicon, req.Query)),
		EmbeddingVersion: s.cfg.Embeddings.Version,
	}
}

// normalizeForKey normalizes a raw query for cache keying, before the
// pipeline's own normalize stage has run.
func normalizeForKey(provider *lexicon.Provider, raw string) string {
	return normalize.New(provider.Snapshot()).Normalize(raw)
}
