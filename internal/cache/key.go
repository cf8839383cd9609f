// Package cache provides the request-scoped result cache for searchd.
//
// Entries are keyed by the full security context plus the normalized query,
// expire by TTL or LRU pressure, and are removed eagerly by invalidation
// events delivered over the NATS change-notification channel.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SchemaVersion is bumped whenever the cached value shape changes, so
// deployments never read stale encodings.
const SchemaVersion = "1"

// Key is the composite cache key.
//
// Invariant: two distinct security contexts never produce equal keys. Every
// field participates in String(), and field values are backslash-escaped so
// the '|' separator stays unambiguous and no two distinct tuples collide.
type Key struct {
	Tenant           string
	Scope            string
	User             string
	Role             string
	Endpoint         string
	Phase            string
	QueryHash        string
	EmbeddingVersion string
}

// String renders the key for map storage.
func (k Key) String() string {
	parts := []string{
		SchemaVersion,
		escape(k.Tenant),
		escape(k.Scope),
		escape(k.User),
		escape(k.Role),
		escape(k.Endpoint),
		escape(k.Phase),
		k.QueryHash,
		escape(k.EmbeddingVersion),
	}
	return strings.Join(parts, "|")
}

// scopePrefix returns the key prefix shared by all entries of a tenant and
// scope. Used by invalidation.
func scopePrefix(tenant, scope string) string {
	return SchemaVersion + "|" + escape(tenant) + "|" + escape(scope) + "|"
}

// escape keeps the '|' separator unambiguous inside field values. The
// escape character itself is escaped first, so the mapping is injective:
// a trailing escape can never swallow a separator.
func escape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, "|", `\|`)
}

// HashQuery hashes a normalized query for key use.
func HashQuery(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:16])
}
