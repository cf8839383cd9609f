package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/philippgille/chromem-go"

	"github.com/fleetworks/searchd/internal/logging"
)

// metadata keys used to round-trip document attributes through chromem.
const (
	metaUpdatedAt   = "updated_at"
	metaThread      = "thread"
	fieldMetaPrefix = "field_"
)

// ChromemConfig configures the embedded chromem store.
type ChromemConfig struct {
	Path     string
	Compress bool
}

// ChromemStore is an embedded vector store backed by chromem-go.
//
// Exact lookups run as metadata where-filters; fuzzy search approximates
// lexical matching by re-scoring vector candidates with term overlap.
// Tenant isolation is payload-based: every query carries a mandatory
// tenant/scope where-filter derived from the request context.
type ChromemStore struct {
	db       *chromem.DB
	embedder Embedder
	logger   *logging.Logger
}

// NewChromemStore opens (or creates) a persistent chromem database.
func NewChromemStore(cfg ChromemConfig, embedder Embedder, logger *logging.Logger) (*ChromemStore, error) {
	if embedder == nil {
		return nil, fmt.Errorf("chromem store requires an embedder")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	path := cfg.Path
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	db, err := chromem.NewPersistentDB(path, cfg.Compress)
	if err != nil {
		return nil, fmt.Errorf("failed to open chromem db: %w", err)
	}

	return &ChromemStore{
		db:       db,
		embedder: embedder,
		logger:   logger.Named("chromem"),
	}, nil
}

func (s *ChromemStore) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return s.embedder.EmbedQuery(ctx, text)
	}
}

// AddDocuments embeds and stores documents with tenant metadata.
func (s *ChromemStore) AddDocuments(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return ErrEmptyDocuments
	}
	if err := InjectMetadata(ctx, docs); err != nil {
		return err
	}

	byCollection := make(map[string][]Document)
	for _, doc := range docs {
		byCollection[doc.Collection] = append(byCollection[doc.Collection], doc)
	}

	for name, batch := range byCollection {
		collection, err := s.db.GetOrCreateCollection(name, nil, s.embeddingFunc())
		if err != nil {
			return fmt.Errorf("getting/creating collection %s: %w", name, err)
		}

		texts := make([]string, len(batch))
		for i, doc := range batch {
			texts[i] = doc.Content
		}
		embeddings, err := s.embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			return fmt.Errorf("embedding documents: %w", err)
		}

		chromemDocs := make([]chromem.Document, len(batch))
		for i, doc := range batch {
			chromemDocs[i] = chromem.Document{
				ID:        doc.ID,
				Content:   doc.Content,
				Metadata:  encodeMetadata(doc),
				Embedding: embeddings[i],
			}
		}
		if err := collection.AddDocuments(ctx, chromemDocs, 1); err != nil {
			return fmt.Errorf("adding documents to %s: %w", name, err)
		}
	}
	return nil
}

// ExactLookup matches on the stored normalized field via where-filter.
func (s *ChromemStore) ExactLookup(ctx context.Context, collection, field, value string, limit int) ([]Document, error) {
	tenant, err := TenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	where := tenantWhere(tenant)
	where[fieldMetaPrefix+field] = strings.ToUpper(value)

	results, err := s.query(ctx, collection, value, limit, where)
	if err != nil {
		return nil, err
	}
	docs := make([]Document, len(results))
	for i, r := range results {
		docs[i] = r.Document
	}
	return docs, nil
}

// FuzzySearch retrieves vector candidates and re-scores them by lexical
// term overlap, so purely semantic neighbors without shared terms drop out.
func (s *ChromemStore) FuzzySearch(ctx context.Context, collection, query string, limit int) ([]ScoredDocument, error) {
	tenant, err := TenantFromContext(ctx)
	if err != nil {
		return nil, err
	}

	// Over-fetch so lexical re-scoring has candidates to discard.
	candidates, err := s.query(ctx, collection, query, limit*4, tenantWhere(tenant))
	if err != nil {
		return nil, err
	}

	queryTokens := lexicalTokens(query)
	var out []ScoredDocument
	for _, c := range candidates {
		score := termOverlap(queryTokens, lexicalTokens(c.Content))
		if score <= 0 {
			continue
		}
		c.Score = score
		out = append(out, c)
	}
	sortScored(out)
	return truncate(out, limit), nil
}

// VectorSearch performs tenant-filtered similarity search.
func (s *ChromemStore) VectorSearch(ctx context.Context, collection, query string, limit int) ([]ScoredDocument, error) {
	tenant, err := TenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	return s.query(ctx, collection, query, limit, tenantWhere(tenant))
}

// Count returns the number of tenant-visible rows in a collection.
func (s *ChromemStore) Count(ctx context.Context, collection string) (int, error) {
	tenant, err := TenantFromContext(ctx)
	if err != nil {
		return 0, err
	}
	c := s.db.GetCollection(collection, s.embeddingFunc())
	if c == nil {
		return 0, nil
	}
	total := c.Count()
	if total == 0 {
		return 0, nil
	}
	// chromem has no filtered count; list visible docs up to the total.
	results, err := s.query(ctx, collection, "readiness probe", total, tenantWhere(tenant))
	if err != nil {
		return 0, err
	}
	return len(results), nil
}

// Close is a no-op; chromem persists on write.
func (s *ChromemStore) Close() error {
	return nil
}

// query is the shared tenant-filtered similarity query.
func (s *ChromemStore) query(ctx context.Context, collection, query string, k int, where map[string]string) ([]ScoredDocument, error) {
	if k <= 0 {
		k = 10
	}
	c := s.db.GetCollection(collection, s.embeddingFunc())
	if c == nil {
		return nil, nil
	}
	// chromem requires nResults <= doc count.
	docCount := c.Count()
	if docCount == 0 {
		return nil, nil
	}
	if k > docCount {
		k = docCount
	}

	results, err := c.Query(ctx, query, k, where, nil)
	if err != nil {
		return nil, fmt.Errorf("querying collection %s: %w", collection, err)
	}

	out := make([]ScoredDocument, 0, len(results))
	for _, r := range results {
		doc := decodeDocument(collection, r.ID, r.Content, r.Metadata)
		if err := VerifyOwnership(ctx, doc); err != nil {
			// Fail closed: a single mis-scoped row aborts the query.
			return nil, err
		}
		out = append(out, ScoredDocument{Document: doc, Score: float64(r.Similarity)})
	}
	return out, nil
}

// tenantWhere builds the mandatory tenant filter.
func tenantWhere(tenant *TenantInfo) map[string]string {
	return map[string]string{
		MetaTenantID: tenant.TenantID,
		MetaScopeID:  tenant.ScopeID,
	}
}

// encodeMetadata flattens a document's attributes into chromem string
// metadata. Identifier fields are uppercased for case-insensitive lookup.
func encodeMetadata(doc Document) map[string]string {
	meta := make(map[string]string, len(doc.Metadata)+len(doc.Fields)+2)
	for k, v := range doc.Metadata {
		if sv, ok := v.(string); ok {
			meta[k] = sv
		}
	}
	for k, v := range doc.Fields {
		meta[fieldMetaPrefix+k] = strings.ToUpper(v)
	}
	if doc.Thread != "" {
		meta[metaThread] = doc.Thread
	}
	if !doc.UpdatedAt.IsZero() {
		meta[metaUpdatedAt] = doc.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return meta
}

// decodeDocument rebuilds a Document from chromem metadata.
func decodeDocument(collection, id, content string, meta map[string]string) Document {
	doc := Document{
		ID:         id,
		Collection: collection,
		Content:    content,
		Metadata:   make(map[string]any, len(meta)),
	}
	for k, v := range meta {
		switch {
		case strings.HasPrefix(k, fieldMetaPrefix):
			if doc.Fields == nil {
				doc.Fields = make(map[string]string)
			}
			doc.Fields[strings.TrimPrefix(k, fieldMetaPrefix)] = v
		case k == metaThread:
			doc.Thread = v
		case k == metaUpdatedAt:
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				doc.UpdatedAt = t
			}
		default:
			doc.Metadata[k] = v
		}
	}
	return doc
}

var _ Store = (*ChromemStore)(nil)
