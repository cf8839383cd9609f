// Package store defines the tenant-scoped datastore consumed by retrieval.
//
// A Store offers three query capabilities: exact-identifier lookup, fuzzy
// text search and vector similarity search. Every implementation enforces
// fail-closed tenant isolation: queries without tenant context error out,
// and no code path can return a row belonging to another tenant.
package store

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for store operations.
var (
	// ErrMissingTenant is returned when a query lacks tenant context.
	ErrMissingTenant = errors.New("missing tenant context")

	// ErrIsolationViolation indicates a row escaped its tenant filter.
	// This is fatal: the request must fail closed, never return the data.
	ErrIsolationViolation = errors.New("tenant isolation violation")

	// ErrCollectionNotFound is returned when a collection does not exist.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrUnsupported is returned by stores that cannot serve a capability.
	ErrUnsupported = errors.New("operation not supported by this store")

	// ErrEmptyDocuments indicates empty or nil documents.
	ErrEmptyDocuments = errors.New("empty or nil documents")
)

// Document is a row in a tenant-scoped collection.
type Document struct {
	// ID is the unique identifier within the collection.
	ID string `json:"id"`

	// Collection names the logical table ("work_orders", "parts", ...).
	Collection string `json:"collection"`

	// Content is the searchable text body.
	Content string `json:"content"`

	// Fields holds normalized identifier fields for exact lookup,
	// e.g. {"part_number": "FF5320", "fault_code": "MID128"}.
	Fields map[string]string `json:"fields,omitempty"`

	// Thread groups rows belonging to one logical conversation/work item;
	// stage-1 merge collapses duplicates within a thread.
	Thread string `json:"thread,omitempty"`

	// UpdatedAt drives recency scoring.
	UpdatedAt time.Time `json:"updated_at"`

	// Metadata carries tenant scoping and free-form attributes.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ScoredDocument is a document with a store-assigned relevance score in [0,1].
type ScoredDocument struct {
	Document
	Score float64 `json:"score"`
}

// Embedder generates vector embeddings from text.
type Embedder interface {
	// EmbedQuery generates an embedding for a single query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// EmbedDocuments generates embeddings for multiple texts.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// Store is the tenant-scoped datastore interface.
//
// All search methods require tenant context (see ContextWithTenant) and
// filter results to that tenant. Implementations: MemoryStore (embedded,
// tests), ChromemStore (embedded vector store), QdrantStore (external gRPC).
type Store interface {
	// AddDocuments stores documents, injecting tenant metadata from ctx.
	AddDocuments(ctx context.Context, docs []Document) error

	// ExactLookup returns documents whose normalized field equals value.
	ExactLookup(ctx context.Context, collection, field, value string, limit int) ([]Document, error)

	// FuzzySearch returns documents by lexical similarity to the query.
	FuzzySearch(ctx context.Context, collection, query string, limit int) ([]ScoredDocument, error)

	// VectorSearch returns documents by embedding similarity to the query.
	VectorSearch(ctx context.Context, collection, query string, limit int) ([]ScoredDocument, error)

	// Count returns the number of rows in a collection visible to the
	// tenant. Used by the capability readiness probe.
	Count(ctx context.Context, collection string) (int, error)

	// Close releases resources.
	Close() error
}

// HybridQuery bundles the strategies the executor wants answered in one
// round trip.
type HybridQuery struct {
	Collection string
	Query      string
	Exact      []ExactClause
	Fuzzy      bool
	Vector     bool
	Limit      int
}

// ExactClause is one equality predicate of a hybrid query.
type ExactClause struct {
	Field string
	Value string
}

// HybridResult groups the per-strategy results of one hybrid round trip.
type HybridResult struct {
	Exact  []Document
	Fuzzy  []ScoredDocument
	Vector []ScoredDocument
}

// HybridSearcher is an optional interface for stores that can combine
// strategies in a single network round trip. The executor falls back to
// separate calls when a store does not implement it.
type HybridSearcher interface {
	HybridSearch(ctx context.Context, q HybridQuery) (HybridResult, error)
}
