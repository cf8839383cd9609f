package store

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is an embedded, thread-safe Store used for tests and
// single-node deployments. Fuzzy search scores lexical term overlap;
// vector search uses the configured embedder, falling back to lexical
// scoring when none is set so behavior stays deterministic.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string][]Document
	vectors     map[string][]float32 // key: collection + "/" + id
	embedder    Embedder
}

// NewMemoryStore creates an empty in-memory store.
// embedder may be nil; vector search then degrades to lexical scoring.
func NewMemoryStore(embedder Embedder) *MemoryStore {
	return &MemoryStore{
		collections: make(map[string][]Document),
		vectors:     make(map[string][]float32),
		embedder:    embedder,
	}
}

// AddDocuments stores documents with tenant metadata injected from ctx.
func (m *MemoryStore) AddDocuments(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return ErrEmptyDocuments
	}
	if err := InjectMetadata(ctx, docs); err != nil {
		return err
	}

	var embedded [][]float32
	if m.embedder != nil {
		texts := make([]string, len(docs))
		for i, d := range docs {
			texts[i] = d.Content
		}
		var err error
		embedded, err = m.embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for i, doc := range docs {
		m.collections[doc.Collection] = append(m.collections[doc.Collection], doc)
		if embedded != nil {
			m.vectors[doc.Collection+"/"+doc.ID] = embedded[i]
		}
	}
	return nil
}

// ExactLookup returns tenant-visible documents whose field equals value.
// Matching is case-insensitive on the normalized field value.
func (m *MemoryStore) ExactLookup(ctx context.Context, collection, field, value string, limit int) ([]Document, error) {
	tenant, err := TenantFromContext(ctx)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	want := strings.ToUpper(value)
	var out []Document
	for _, doc := range m.collections[collection] {
		if !matchesTenant(doc, tenant) {
			continue
		}
		if strings.ToUpper(doc.Fields[field]) != want {
			continue
		}
		out = append(out, doc)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// FuzzySearch scores tenant-visible documents by query term overlap.
func (m *MemoryStore) FuzzySearch(ctx context.Context, collection, query string, limit int) ([]ScoredDocument, error) {
	tenant, err := TenantFromContext(ctx)
	if err != nil {
		return nil, err
	}

	queryTokens := lexicalTokens(query)
	if len(queryTokens) == 0 {
		return nil, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lexicalSearch(collection, queryTokens, tenant, limit), nil
}

// VectorSearch ranks tenant-visible documents by cosine similarity.
func (m *MemoryStore) VectorSearch(ctx context.Context, collection, query string, limit int) ([]ScoredDocument, error) {
	tenant, err := TenantFromContext(ctx)
	if err != nil {
		return nil, err
	}

	if m.embedder == nil {
		tokens := lexicalTokens(query)
		if len(tokens) == 0 {
			return nil, nil
		}
		m.mu.RLock()
		defer m.mu.RUnlock()
		return m.lexicalSearch(collection, tokens, tenant, limit), nil
	}

	queryVec, err := m.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []ScoredDocument
	for _, doc := range m.collections[collection] {
		if !matchesTenant(doc, tenant) {
			continue
		}
		vec, ok := m.vectors[doc.Collection+"/"+doc.ID]
		if !ok {
			continue
		}
		out = append(out, ScoredDocument{Document: doc, Score: cosineSimilarity(queryVec, vec)})
	}
	sortScored(out)
	return truncate(out, limit), nil
}

// HybridSearch answers all requested strategies under one lock acquisition,
// the in-memory analog of a single network round trip.
func (m *MemoryStore) HybridSearch(ctx context.Context, q HybridQuery) (HybridResult, error) {
	var res HybridResult
	for _, clause := range q.Exact {
		docs, err := m.ExactLookup(ctx, q.Collection, clause.Field, clause.Value, q.Limit)
		if err != nil {
			return HybridResult{}, err
		}
		res.Exact = append(res.Exact, docs...)
	}
	if q.Fuzzy {
		fuzzy, err := m.FuzzySearch(ctx, q.Collection, q.Query, q.Limit)
		if err != nil {
			return HybridResult{}, err
		}
		res.Fuzzy = fuzzy
	}
	if q.Vector {
		vec, err := m.VectorSearch(ctx, q.Collection, q.Query, q.Limit)
		if err != nil {
			return HybridResult{}, err
		}
		res.Vector = vec
	}
	return res, nil
}

// Count returns the tenant-visible row count of a collection.
func (m *MemoryStore) Count(ctx context.Context, collection string) (int, error) {
	tenant, err := TenantFromContext(ctx)
	if err != nil {
		return 0, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, doc := range m.collections[collection] {
		if matchesTenant(doc, tenant) {
			n++
		}
	}
	return n, nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error {
	return nil
}

// lexicalSearch is the shared overlap scorer. Caller holds the read lock.
func (m *MemoryStore) lexicalSearch(collection string, queryTokens []string, tenant *TenantInfo, limit int) []ScoredDocument {
	var out []ScoredDocument
	for _, doc := range m.collections[collection] {
		if !matchesTenant(doc, tenant) {
			continue
		}
		score := termOverlap(queryTokens, lexicalTokens(doc.Content))
		if score <= 0 {
			continue
		}
		out = append(out, ScoredDocument{Document: doc, Score: score})
	}
	sortScored(out)
	return truncate(out, limit)
}

// sortScored orders by score descending with ID tie-break for determinism.
func sortScored(docs []ScoredDocument) {
	sort.Slice(docs, func(i, j int) bool {
		if docs[i].Score != docs[j].Score {
			return docs[i].Score > docs[j].Score
		}
		return docs[i].ID < docs[j].ID
	})
}

func truncate(docs []ScoredDocument, limit int) []ScoredDocument {
	if limit > 0 && len(docs) > limit {
		return docs[:limit]
	}
	return docs
}

// lexicalTokens splits text into lowercase alphanumeric terms.
func lexicalTokens(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		alnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_'
		return !alnum
	})
}

// termOverlap returns the fraction of unique query terms found in the
// document tokens, in [0,1].
func termOverlap(queryTokens, docTokens []string) float64 {
	if len(queryTokens) == 0 {
		return 0
	}
	docSet := make(map[string]bool, len(docTokens))
	for _, t := range docTokens {
		docSet[t] = true
	}
	matched := 0
	counted := make(map[string]bool, len(queryTokens))
	unique := 0
	for _, q := range queryTokens {
		if counted[q] {
			continue
		}
		counted[q] = true
		unique++
		if docSet[q] {
			matched++
		}
	}
	return float64(matched) / float64(unique)
}

// cosineSimilarity computes normalized cosine similarity in [0,1].
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	cos := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	return (cos + 1) / 2
}

var (
	_ Store          = (*MemoryStore)(nil)
	_ HybridSearcher = (*MemoryStore)(nil)
)
