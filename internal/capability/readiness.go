package capability

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fleetworks/searchd/internal/logging"
	"github.com/fleetworks/searchd/internal/store"
)

// ProbeResult is the outcome of one capability readiness probe.
type ProbeResult struct {
	Capability string    `json:"capability"`
	Collection string    `json:"collection"`
	RowCount   int       `json:"row_count"`
	Readiness  Readiness `json:"readiness"`
	Reason     string    `json:"reason,omitempty"`
	Promoted   bool      `json:"promoted"`
}

// Prober checks whether a capability's backing collection has data and
// promotes EMPTY capabilities once rows appear.
type Prober struct {
	registry *Registry
	store    store.Store
	logger   *logging.Logger
}

// NewProber creates a readiness prober.
func NewProber(registry *Registry, s store.Store, logger *logging.Logger) *Prober {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Prober{registry: registry, store: s, logger: logger.Named("readiness")}
}

// Probe counts tenant-visible rows in the capability's collection. An EMPTY
// capability with rows is promoted to ACTIVE; an ACTIVE capability with no
// rows is reported but never demoted automatically.
func (p *Prober) Probe(ctx context.Context, name string) (ProbeResult, error) {
	def, err := p.registry.Get(name)
	if err != nil {
		return ProbeResult{}, err
	}

	count, err := p.store.Count(ctx, def.Collection)
	if err != nil {
		return ProbeResult{}, fmt.Errorf("probing capability %s: %w", name, err)
	}

	result := ProbeResult{
		Capability: def.Name,
		Collection: def.Collection,
		RowCount:   count,
		Readiness:  def.Readiness,
		Reason:     def.EmptyReason,
	}

	if def.Readiness == ReadinessEmpty && count > 0 {
		if err := p.registry.SetReadiness(name, ReadinessActive, ""); err != nil {
			return ProbeResult{}, err
		}
		result.Readiness = ReadinessActive
		result.Reason = ""
		result.Promoted = true
		p.logger.Info(ctx, "capability promoted to ACTIVE",
			zap.String("capability", name),
			zap.Int("row_count", count))
	}
	return result, nil
}
