package search

import (
	"context"
	"errors"
	"time"

	"github.com/fleetworks/searchd/internal/capability"
	"github.com/fleetworks/searchd/internal/ranking"
	"github.com/fleetworks/searchd/internal/retrieval"
	"github.com/fleetworks/searchd/internal/store"
	"github.com/fleetworks/searchd/internal/stream"
)

// StreamSearch runs the pipeline, emitting progressive events to the sink.
//
// Event order: one diagnostics event, zero or more result batches (at the
// configured cadence, or immediately when a deterministic resolver wins),
// exactly one finalized event carrying the authoritative final ordering and
// latency breakdown. Client disconnects cancel the request scope; the
// emitter then cancels without a finalized result set.
func (s *Service) StreamSearch(ctx context.Context, req Request, sink stream.Sink) error {
	ctx, state, release, err := s.admit(ctx, req)
	if err != nil {
		return err
	}
	defer release()

	ctx, cancel := context.WithTimeout(ctx, s.budget.Total)
	defer cancel()

	emitter := stream.NewEmitter(state.searchID, sink, s.BatchInterval())
	if err := emitter.Start(state.started); err != nil {
		return err
	}

	if err := s.prepare(ctx, req, state); err != nil {
		emitter.Cancel("internal error")
		return err
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
					emitter.Cancel("request aborted")
					return outcome.Err
				}
				failures[outcome.Task.Capability] = outcome.Err
				continue
			}
			results = append(results, outcome.Results...)
			s.offerBatch(state, emitter, outcome)
		}
		state.timings["retrieve"] = time.Since(execStart)
	}

	final, err := s.rank(state, results)
	if err != nil {
		emitter.Cancel("internal error")
		return err
	}
	if req.Limit > 0 && len(final) > req.Limit {
		final = final[:req.Limit]
	}

	env := s.buildEnvelope(state, final, failures, outcomes)
	s.record(ctx, state, env)
	return emitter.Finalize(final, state.timings, env.Outcome)
}

// offerBatch ranks one task's rows in isolation and offers them to the
// emitter. A deterministic hit flushes immediately; shard progress
// otherwise rides the cadence ticker.
func (s *Service) offerBatch(state *pipelineState, emitter *stream.Emitter, outcome retrieval.TaskOutcome) {
	if len(outcome.Results) == 0 {
		return
	}
	policy := ranking.ForLane(state.lane)
	ranked := policy.Rank(ranking.Input{
		Query:    state.normalized,
		Entities: state.entities,
		Results:  outcome.Results,
		Now:      time.Now(),
	})
	deterministic := outcome.Task.Strategy == capability.StrategyExact
	// Sink errors mean the client is gone; the executor loop will stop on
	// its own once the context cancels.
	_ = emitter.Offer(ranked, deterministic)
}
