package stream

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetworks/searchd/internal/ranking"
	"github.com/fleetworks/searchd/internal/store"
)

// recordingSink collects events under a lock so the flush goroutine and the
// test body never race.
type recordingSink struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (s *recordingSink) sink(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) all() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func row(id string, tier ranking.Tier) ranking.Ranked {
	return ranking.Ranked{
		Doc:      store.ScoredDocument{Document: store.Document{ID: id}},
		Tier:     tier,
		TierName: tier.String(),
		Score:    float64(tier),
	}
}

func TestEmitter_Lifecycle(t *testing.T) {
	s := &recordingSink{}
	e := NewEmitter("s-1", s.sink, time.Hour)

	assert.Equal(t, StateSearching, e.State())
	require.NoError(t, e.Start(time.Now()))
	assert.Equal(t, StateEmitting, e.State())

	require.NoError(t, e.Offer([]ranking.Ranked{row("a", ranking.TierFuzzy)}, false))
	require.NoError(t, e.Finalize([]ranking.Ranked{row("a", ranking.TierFuzzy)}, nil, "success"))
	assert.Equal(t, StateFinalized, e.State())

	events := s.all()
	require.Len(t, events, 3)
	assert.Equal(t, EventDiagnostics, events[0].Type)
	assert.Equal(t, EventResultBatch, events[1].Type, "pending rows flush before finalized")
	assert.Equal(t, EventFinalized, events[2].Type)
	assert.Equal(t, "success", events[2].Outcome)

	// Sequence numbers are strictly increasing and stamped per event.
	for i, ev := range events {
		assert.Equal(t, i+1, ev.Seq)
		assert.Equal(t, "s-1", ev.SearchID)
	}
}

func TestEmitter_DeterministicFlushesImmediately(t *testing.T) {
	s := &recordingSink{}
	e := NewEmitter("s-1", s.sink, time.Hour)
	require.NoError(t, e.Start(time.Now()))

	require.NoError(t, e.Offer([]ranking.Ranked{row("exact", ranking.TierExactID)}, true))

	events := s.all()
	require.Len(t, events, 2, "no cadence tick needed")
	assert.Equal(t, EventResultBatch, events[1].Type)
	assert.True(t, events[1].Deterministic)
}

func TestEmitter_BatchesAppendOnly(t *testing.T) {
	s := &recordingSink{}
	e := NewEmitter("s-1", s.sink, time.Hour)
	require.NoError(t, e.Start(time.Now()))

	require.NoError(t, e.Offer([]ranking.Ranked{row("a", ranking.TierExactID)}, true))
	// The same document offered again later is dropped; a shown row never
	// moves or repeats.
	require.NoError(t, e.Offer([]ranking.Ranked{row("a", ranking.TierExactID), row("b", ranking.TierFuzzy)}, true))
	require.NoError(t, e.Finalize(nil, nil, "success"))

	seen := make(map[string]int)
	for _, ev := range s.all() {
		if ev.Type != EventResultBatch {
			continue
		}
		for _, r := range ev.Results {
			seen[r.Doc.ID]++
		}
	}
	assert.Equal(t, map[string]int{"a": 1, "b": 1}, seen)
}

func TestEmitter_NothingAfterFinalized(t *testing.T) {
	s := &recordingSink{}
	e := NewEmitter("s-1", s.sink, time.Hour)
	require.NoError(t, e.Start(time.Now()))
	require.NoError(t, e.Finalize(nil, nil, "empty"))

	assert.ErrorIs(t, e.Offer([]ranking.Ranked{row("late", ranking.TierFuzzy)}, true), ErrFinished)
	assert.ErrorIs(t, e.Finalize(nil, nil, "success"), ErrFinished)
	assert.ErrorIs(t, e.Start(time.Now()), ErrFinished)

	events := s.all()
	assert.Len(t, events, 2, "nothing is emitted after the finalized event")
	assert.Equal(t, EventFinalized, events[len(events)-1].Type)
}

func TestEmitter_CadenceFlush(t *testing.T) {
	s := &recordingSink{}
	e := NewEmitter("s-1", s.sink, 10*time.Millisecond)
	require.NoError(t, e.Start(time.Now()))

	require.NoError(t, e.Offer([]ranking.Ranked{row("a", ranking.TierFuzzy)}, false))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(s.all()) >= 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	events := s.all()
	require.GreaterOrEqual(t, len(events), 2, "ticker flushes buffered rows")
	assert.Equal(t, EventResultBatch, events[1].Type)
	assert.False(t, events[1].Deterministic)
	require.NoError(t, e.Finalize(nil, nil, "success"))
}

func TestEmitter_Cancel(t *testing.T) {
	s := &recordingSink{}
	e := NewEmitter("s-1", s.sink, time.Hour)
	require.NoError(t, e.Start(time.Now()))

	e.Cancel("client disconnected")
	assert.Equal(t, StateCancelled, e.State())

	events := s.all()
	last := events[len(events)-1]
	assert.Equal(t, EventFinalized, last.Type)
	assert.Equal(t, "cancelled", last.Outcome)
	assert.Equal(t, "client disconnected", last.Reason)

	// Cancel after cancel is a no-op.
	e.Cancel("again")
	assert.Len(t, s.all(), len(events))
}

func TestEmitter_SinkErrorCancelsOnFinalize(t *testing.T) {
	s := &recordingSink{}
	e := NewEmitter("s-1", s.sink, time.Hour)
	require.NoError(t, e.Start(time.Now()))

	require.NoError(t, e.Offer([]ranking.Ranked{row("a", ranking.TierFuzzy)}, false))
	s.mu.Lock()
	s.err = errors.New("client gone")
	s.mu.Unlock()

	assert.Error(t, e.Finalize(nil, nil, "success"))
	assert.Equal(t, StateCancelled, e.State())
}
