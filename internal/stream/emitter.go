// Package stream emits progressive search events.
//
// The emitter is a per-request state machine: SEARCHING -> EMITTING* ->
// FINALIZED | CANCELLED. It emits exactly one diagnostics event, zero or
// more result batches, and exactly one finalized event. Batches are
// append-only: a document shown at one position never moves later, so a
// client may render batches as they arrive. After the finalized event
// nothing further is emitted, ever.
package stream

import (
	"errors"
	"sync"
	"time"

	"github.com/fleetworks/searchd/internal/ranking"
)

// State is the emitter's lifecycle state.
type State string

const (
	StateSearching State = "SEARCHING"
	StateEmitting  State = "EMITTING"
	StateFinalized State = "FINALIZED"
	StateCancelled State = "CANCELLED"
)

// Event types on the wire.
const (
	EventDiagnostics = "diagnostics"
	EventResultBatch = "result_batch"
	EventFinalized   = "finalized"
)

// ErrFinished is returned by emit operations after finalize or cancel.
var ErrFinished = errors.New("emitter already finished")

// Event is one wire event.
type Event struct {
	Type     string `json:"type"`
	SearchID string `json:"search_id"`
	Seq      int    `json:"seq"`

	// Diagnostics fields.
	StartedAt time.Time `json:"started_at,omitempty"`

	// Batch and finalized fields.
	Results       []ranking.Ranked `json:"results,omitempty"`
	Deterministic bool             `json:"deterministic,omitempty"`

	// Finalized fields.
	Timings map[string]time.Duration `json:"timings,omitempty"`
	Outcome string                   `json:"outcome,omitempty"`
	Reason  string                   `json:"reason,omitempty"`
}

// Sink receives emitted events. A sink error cancels the stream (client
// gone); it never propagates as a search failure.
type Sink func(Event) error

// Emitter drives one request's event stream.
//
// Offer buffers rows; a ticker flushes at the configured cadence, and a
// deterministic batch flushes immediately. Offers from concurrent shards
// never block each other beyond the buffer lock.
type Emitter struct {
	searchID string
	sink     Sink
	interval time.Duration

	mu      sync.Mutex
	state   State
	seq     int
	pending []ranking.Ranked
	emitted map[string]bool
	done    chan struct{}
	ticker  *time.Ticker
}

// NewEmitter creates an emitter in the SEARCHING state.
func NewEmitter(searchID string, sink Sink, interval time.Duration) *Emitter {
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	return &Emitter{
		searchID: searchID,
		sink:     sink,
		interval: interval,
		state:    StateSearching,
		emitted:  make(map[string]bool),
		done:     make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (e *Emitter) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Start emits the diagnostics event and begins the flush cadence.
func (e *Emitter) Start(startedAt time.Time) error {
	e.mu.Lock()
	if e.state != StateSearching {
		e.mu.Unlock()
		return ErrFinished
	}
	e.state = StateEmitting
	err := e.emitLocked(Event{
		Type:      EventDiagnostics,
		StartedAt: startedAt,
	})
	e.ticker = time.NewTicker(e.interval)
	e.mu.Unlock()

	go e.flushLoop()
	return err
}

// Offer buffers ranked rows for the next batch. Rows already emitted are
// dropped so batches stay append-only. A deterministic offer flushes
// immediately instead of waiting for the cadence tick.
func (e *Emitter) Offer(rows []ranking.Ranked, deterministic bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateEmitting {
		return ErrFinished
	}
	for _, r := range rows {
		if e.emitted[r.Doc.ID] {
			continue
		}
		e.emitted[r.Doc.ID] = true
		e.pending = append(e.pending, r)
	}
	if deterministic {
		return e.flushLocked(true)
	}
	return nil
}

// Finalize flushes remaining rows and emits the finalized event with the
// complete result list and latency breakdown.
func (e *Emitter) Finalize(results []ranking.Ranked, timings map[string]time.Duration, outcome string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateEmitting && e.state != StateSearching {
		return ErrFinished
	}
	if err := e.flushLocked(false); err != nil {
		e.finishLocked(StateCancelled)
		return err
	}
	err := e.emitLocked(Event{
		Type:    EventFinalized,
		Results: results,
		Timings: timings,
		Outcome: outcome,
	})
	e.finishLocked(StateFinalized)
	return err
}

// Cancel terminates the stream without a finalized result set. The closing
// event carries outcome "cancelled", an empty result list and the reason,
// so clients can tell an aborted stream apart from a completed one.
func (e *Emitter) Cancel(reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateFinalized || e.state == StateCancelled {
		return
	}
	e.finishLocked(StateCancelled)
	_ = e.emitLocked(Event{
		Type:    EventFinalized,
		Outcome: "cancelled",
		Reason:  reason,
	})
}

// flushLoop emits pending rows at the configured cadence.
func (e *Emitter) flushLoop() {
	for {
		select {
		case <-e.done:
			return
		case <-e.ticker.C:
			e.mu.Lock()
			if e.state == StateEmitting {
				_ = e.flushLocked(false)
			}
			e.mu.Unlock()
		}
	}
}

// flushLocked emits buffered rows as one batch. Caller holds the lock.
func (e *Emitter) flushLocked(deterministic bool) error {
	if len(e.pending) == 0 {
		return nil
	}
	batch := e.pending
	e.pending = nil
	return e.emitLocked(Event{
		Type:          EventResultBatch,
		Results:       batch,
		Deterministic: deterministic,
	})
}

// emitLocked stamps and sends one event. Caller holds the lock.
func (e *Emitter) emitLocked(ev Event) error {
	e.seq++
	ev.SearchID = e.searchID
	ev.Seq = e.seq
	if err := e.sink(ev); err != nil {
		return err
	}
	return nil
}

// finishLocked stops the cadence and locks the terminal state.
func (e *Emitter) finishLocked(terminal State) {
	if e.state == StateFinalized || e.state == StateCancelled {
		return
	}
	e.state = terminal
	if e.ticker != nil {
		e.ticker.Stop()
	}
	close(e.done)
}
