package search

import (
	"context"
	"errors"
	"time"

	"github.com/fleetworks/searchd/internal/capability"
	"github.com/fleetworks/searchd/internal/extract"
	"github.com/fleetworks/searchd/internal/ranking"
	"github.com/fleetworks/searchd/internal/retrieval"
)

// Outcome classifications for the observability sink.
const (
	OutcomeSuccess = "success"
	OutcomeEmpty   = "empty"
	OutcomePartial = "partial"
	OutcomeBlocked = "blocked"
	OutcomeUnknown = "unknown"
)

// Capability execution statuses in the envelope.
const (
	StatusExecuted = "executed"
	StatusBlocked  = "blocked"
	StatusErrored  = "errored"
	StatusTimedOut = "timed_out"
)

// CapabilityStatus reports how one capability fared in a request.
type CapabilityStatus struct {
	Name    string        `json:"name"`
	Status  string        `json:"status"`
	Rows    int           `json:"rows"`
	Elapsed time.Duration `json:"elapsed_ns,omitempty"`
	Reason  string        `json:"reason,omitempty"`
}

// Envelope is the non-streaming search response.
type Envelope struct {
	SearchID        string                     `json:"search_id"`
	Query           string                     `json:"query"`
	NormalizedQuery string                     `json:"normalized_query"`
	Lane            extract.Lane               `json:"lane"`
	Entities        []extract.Entity           `json:"entities,omitempty"`
	Capabilities    []CapabilityStatus         `json:"capabilities,omitempty"`
	Results         map[string][]ranking.Ranked `json:"results,omitempty"`
	Outcome         string                     `json:"outcome"`
	Timings         map[string]time.Duration   `json:"timings,omitempty"`
	Elapsed         time.Duration              `json:"elapsed_ns"`
	Cached          bool                       `json:"cached,omitempty"`
}

// classifyOutcome maps a finished pipeline to its outcome label.
func classifyOutcome(lane extract.Lane, results []ranking.Ranked, failures map[string]error) string {
	switch {
	case lane == extract.LaneBlocked:
		return OutcomeBlocked
	case len(failures) > 0:
		return OutcomePartial
	case len(results) > 0:
		return OutcomeSuccess
	default:
		return OutcomeEmpty
	}
}

// capabilityStatuses summarizes plan execution per capability.
func capabilityStatuses(plan capability.Plan, outcomes []retrieval.TaskOutcome) []CapabilityStatus {
	type agg struct {
		rows    int
		elapsed time.Duration
		status  string
		reason  string
	}
	byName := make(map[string]*agg)
	var order []string

	for _, ex := range plan.Excluded {
		if _, ok := byName[ex.Capability]; !ok {
			byName[ex.Capability] = &agg{status: StatusBlocked, reason: ex.Reason}
			order = append(order, ex.Capability)
		}
	}
	for _, o := range outcomes {
		a, ok := byName[o.Task.Capability]
		if !ok {
			a = &agg{status: StatusExecuted}
			byName[o.Task.Capability] = a
			order = append(order, o.Task.Capability)
		}
		a.rows += len(o.Results)
		if o.Elapsed > a.elapsed {
			a.elapsed = o.Elapsed
		}
		if o.Err != nil && a.status == StatusExecuted {
			if errors.Is(o.Err, context.DeadlineExceeded) {
				a.status = StatusTimedOut
			} else {
				a.status = StatusErrored
			}
			a.reason = o.Err.Error()
		}
	}

	out := make([]CapabilityStatus, 0, len(order))
	for _, name := range order {
		a := byName[name]
		out = append(out, CapabilityStatus{
			Name:    name,
			Status:  a.status,
			Rows:    a.rows,
			Elapsed: a.elapsed,
			Reason:  a.reason,
		})
	}
	return out
}

// groupByCollection groups final rows by their source collection.
func groupByCollection(results []ranking.Ranked) map[string][]ranking.Ranked {
	if len(results) == 0 {
		return nil
	}
	grouped := make(map[string][]ranking.Ranked)
	for _, r := range results {
		grouped[r.Doc.Collection] = append(grouped[r.Doc.Collection], r)
	}
	return grouped
}
