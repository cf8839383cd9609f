package lexicon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fleetworks/searchd/internal/logging"
)

// Errors for lexicon loading.
var (
	ErrNoTerms     = errors.New("lexicon file contains no terms")
	ErrInvalidType = errors.New("lexicon term has unknown entity type")
)

// lexiconFile is the on-disk TOML structure.
type lexiconFile struct {
	Version    int64              `toml:"version"`
	Terms      []Term             `toml:"terms"`
	Expansions map[string]string  `toml:"expansions"`
	Precedence map[string]float64 `toml:"precedence"`
}

// Provider owns the current lexicon snapshot and its reload lifecycle.
//
// Readers call Snapshot() and keep using the returned value for the whole
// request; a reload never affects in-flight requests.
type Provider struct {
	path    string
	logger  *logging.Logger
	current atomic.Pointer[Snapshot]

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewProvider loads the lexicon from path and returns a provider.
func NewProvider(path string, logger *logging.Logger) (*Provider, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	p := &Provider{
		path:   path,
		logger: logger.Named("lexicon"),
	}
	snap, err := loadFile(path, 1)
	if err != nil {
		return nil, err
	}
	p.current.Store(snap)
	return p, nil
}

// NewStaticProvider wraps a pre-built snapshot. Used by tests.
func NewStaticProvider(terms []Term, expansions map[string]string, precedence map[EntityType]float64) *Provider {
	p := &Provider{logger: logging.NewNop()}
	p.current.Store(newSnapshot(1, terms, expansions, precedence))
	return p
}

// Snapshot returns the current immutable lexicon snapshot.
func (p *Provider) Snapshot() *Snapshot {
	return p.current.Load()
}

// Reload re-reads the lexicon file and swaps in a new snapshot.
// The previous snapshot stays valid for requests already holding it.
func (p *Provider) Reload(ctx context.Context) error {
	old := p.current.Load()
	snap, err := loadFile(p.path, old.Version()+1)
	if err != nil {
		return fmt.Errorf("lexicon reload failed: %w", err)
	}
	p.current.Store(snap)
	p.logger.Info(ctx, "lexicon reloaded",
		zap.Int64("version", snap.Version()),
		zap.Int("terms", snap.TermCount()),
	)
	return nil
}

// Watch starts an fsnotify watch on the lexicon file and reloads on change.
// A failed reload keeps the previous snapshot in place.
func (p *Provider) Watch(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.watcher != nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create lexicon watcher: %w", err)
	}
	if err := watcher.Add(p.path); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch lexicon file: %w", err)
	}
	p.watcher = watcher
	p.done = make(chan struct{})

	go p.watchLoop(ctx, watcher, p.done)
	return nil
}

// watchLoop applies debounced reloads on write events.
func (p *Provider) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, done chan struct{}) {
	const debounce = 250 * time.Millisecond
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			timerC = timer.C

		case <-timerC:
			timerC = nil
			if err := p.Reload(ctx); err != nil {
				p.logger.Warn(ctx, "lexicon reload failed, keeping previous snapshot", zap.Error(err))
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			p.logger.Warn(ctx, "lexicon watch error", zap.Error(err))

		case <-done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Close stops the file watch.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.watcher == nil {
		return nil
	}
	close(p.done)
	err := p.watcher.Close()
	p.watcher = nil
	return err
}

// loadFile parses the TOML lexicon file into a snapshot.
func loadFile(path string, version int64) (*Snapshot, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read lexicon file: %w", err)
	}

	var file lexiconFile
	if err := toml.Unmarshal(content, &file); err != nil {
		return nil, fmt.Errorf("failed to parse lexicon file %s: %w", path, err)
	}
	if len(file.Terms) == 0 {
		return nil, ErrNoTerms
	}

	known := make(map[EntityType]bool, len(KnownTypes()))
	for _, t := range KnownTypes() {
		known[t] = true
	}
	for _, term := range file.Terms {
		if !known[term.Type] {
			return nil, fmt.Errorf("%w: %q (term %q)", ErrInvalidType, term.Type, term.Surface)
		}
	}

	precedence := make(map[EntityType]float64, len(file.Precedence))
	for k, v := range file.Precedence {
		precedence[EntityType(k)] = v
	}

	// The provider-assigned version wins so swaps stay monotonic even when
	// the file declares a static version.
	if file.Version > version {
		version = file.Version
	}
	return newSnapshot(version, file.Terms, file.Expansions, precedence), nil
}
