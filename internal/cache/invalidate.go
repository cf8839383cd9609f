package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fleetworks/searchd/internal/logging"
)

// InvalidationEvent is the payload published on the change-notification
// channel when datastore objects mutate.
type InvalidationEvent struct {
	Tenant string `json:"tenant"`
	Scope  string `json:"scope"`
	Object string `json:"object,omitempty"`
}

// Subscriber consumes invalidation events from NATS and applies them to the
// cache. A broken subscription degrades to TTL-only expiry; it never fails
// the pipeline.
type Subscriber struct {
	nc     *nats.Conn
	sub    *nats.Subscription
	cache  *Cache
	logger *logging.Logger
}

// NewSubscriber wires a cache to the invalidation subject.
func NewSubscriber(nc *nats.Conn, cache *Cache, logger *logging.Logger) *Subscriber {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Subscriber{
		nc:     nc,
		cache:  cache,
		logger: logger.Named("cache.invalidate"),
	}
}

// Start subscribes to the subject. Wildcards are allowed, e.g.
// "searchd.invalidate.>".
func (s *Subscriber) Start(ctx context.Context, subject string) error {
	sub, err := s.nc.Subscribe(subject, func(msg *nats.Msg) {
		var event InvalidationEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			s.logger.Warn(ctx, "malformed invalidation event",
				zap.String("subject", msg.Subject), zap.Error(err))
			return
		}
		if event.Tenant == "" || event.Scope == "" {
			s.logger.Warn(ctx, "invalidation event missing tenant or scope",
				zap.String("subject", msg.Subject))
			return
		}
		removed := s.cache.Invalidate(event.Tenant, event.Scope, event.Object)
		s.logger.Debug(ctx, "cache invalidated",
			zap.String("tenant", event.Tenant),
			zap.String("scope", event.Scope),
			zap.String("object", event.Object),
			zap.Int("removed", removed),
		)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	s.sub = sub
	return nil
}

// Close drains the subscription.
func (s *Subscriber) Close() error {
	if s.sub == nil {
		return nil
	}
	return s.sub.Drain()
}
