package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"

	"github.com/fleetworks/searchd/internal/logging"
)

// QdrantConfig configures the external qdrant store.
type QdrantConfig struct {
	Host             string
	Port             int
	APIKey           string
	UseTLS           bool
	CollectionPrefix string
	VectorSize       int
	MaxMessageSize   int
}

// ApplyDefaults fills zero-value fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.VectorSize == 0 {
		c.VectorSize = 384
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 32 * 1024 * 1024
	}
}

// QdrantStore is the external gRPC-backed store.
//
// Isolation is payload-based: every point carries tenant_id/scope_id and
// every query filters on both. Returned points are re-verified against the
// querying tenant; a mismatch fails the request closed.
type QdrantStore struct {
	client   *qdrant.Client
	embedder Embedder
	cfg      QdrantConfig
	logger   *logging.Logger
}

// NewQdrantStore connects to qdrant and verifies the connection.
func NewQdrantStore(cfg QdrantConfig, embedder Embedder, logger *logging.Logger) (*QdrantStore, error) {
	cfg.ApplyDefaults()
	if embedder == nil {
		return nil, fmt.Errorf("qdrant store requires an embedder")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(cfg.MaxMessageSize),
				grpc.MaxCallSendMsgSize(cfg.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	s := &QdrantStore{
		client:   client,
		embedder: embedder,
		cfg:      cfg,
		logger:   logger.Named("qdrant"),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.HealthCheck(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("qdrant health check failed: %w", err)
	}
	return s, nil
}

// collectionName maps a logical collection to its qdrant collection.
func (s *QdrantStore) collectionName(collection string) string {
	if s.cfg.CollectionPrefix == "" {
		return collection
	}
	return s.cfg.CollectionPrefix + "_" + collection
}

// ensureCollection creates the qdrant collection if missing.
func (s *QdrantStore) ensureCollection(ctx context.Context, name string) error {
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("checking collection %s: %w", name, err)
	}
	if exists {
		return nil
	}
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.cfg.VectorSize),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", name, err)
	}
	return nil
}

// AddDocuments embeds and upserts documents with tenant payload.
func (s *QdrantStore) AddDocuments(ctx context.Context, docs []Document) error {
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

	for logical, batch := range byCollection {
		name := s.collectionName(logical)
		if err := s.ensureCollection(ctx, name); err != nil {
			return err
		}

		texts := make([]string, len(batch))
		for i, doc := range batch {
			texts[i] = doc.Content
		}
		embeddings, err := s.embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			return fmt.Errorf("embedding documents: %w", err)
		}

		points := make([]*qdrant.PointStruct, len(batch))
		for i, doc := range batch {
			points[i] = &qdrant.PointStruct{
				Id:      pointID(logical, doc.ID),
				Vectors: qdrant.NewVectors(embeddings[i]...),
				Payload: encodePayload(doc),
			}
		}
		if _, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: name,
			Points:         points,
		}); err != nil {
			return fmt.Errorf("upserting to %s: %w", name, err)
		}
	}
	return nil
}

// ExactLookup scrolls points matching the tenant filter plus the field
// equality predicate. No vector is involved.
func (s *QdrantStore) ExactLookup(ctx context.Context, collection, field, value string, limit int) ([]Document, error) {
	tenant, err := TenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}

	filter := tenantFilter(tenant)
	filter.Must = append(filter.Must, keywordCondition(fieldMetaPrefix+field, strings.ToUpper(value)))

	points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: s.collectionName(collection),
		Filter:         filter,
		Limit:          qdrant.PtrOf(uint32(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("exact lookup in %s: %w", collection, err)
	}

	docs := make([]Document, 0, len(points))
	for _, p := range points {
		doc := decodePayload(collection, p.GetPayload())
		if err := VerifyOwnership(ctx, doc); err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// FuzzySearch uses a full-text match on the content payload, re-scored by
// term overlap so results carry a comparable lexical score in [0,1].
func (s *QdrantStore) FuzzySearch(ctx context.Context, collection, query string, limit int) ([]ScoredDocument, error) {
	tenant, err := TenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}

	filter := tenantFilter(tenant)
	filter.Must = append(filter.Must, &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key: "content",
				Match: &qdrant.Match{
					MatchValue: &qdrant.Match_Text{Text: query},
				},
			},
		},
	})

	points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: s.collectionName(collection),
		Filter:         filter,
		Limit:          qdrant.PtrOf(uint32(limit * 4)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("fuzzy search in %s: %w", collection, err)
	}

	queryTokens := lexicalTokens(query)
	var out []ScoredDocument
	for _, p := range points {
		doc := decodePayload(collection, p.GetPayload())
		if err := VerifyOwnership(ctx, doc); err != nil {
			return nil, err
		}
		score := termOverlap(queryTokens, lexicalTokens(doc.Content))
		if score <= 0 {
			continue
		}
		out = append(out, ScoredDocument{Document: doc, Score: score})
	}
	sortScored(out)
	return truncate(out, limit), nil
}

// VectorSearch embeds the query and runs tenant-filtered similarity search.
func (s *QdrantStore) VectorSearch(ctx context.Context, collection, query string, limit int) ([]ScoredDocument, error) {
	tenant, err := TenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}

	vec, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collectionName(collection),
		Query:          qdrant.NewQuery(vec...),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
		Filter:         tenantFilter(tenant),
	})
	if err != nil {
		return nil, fmt.Errorf("vector search in %s: %w", collection, err)
	}

	out := make([]ScoredDocument, 0, len(results))
	for _, r := range results {
		doc := decodePayload(collection, r.GetPayload())
		if err := VerifyOwnership(ctx, doc); err != nil {
			return nil, err
		}
		out = append(out, ScoredDocument{Document: doc, Score: float64(r.GetScore())})
	}
	return out, nil
}

// Count returns the tenant-visible point count of a collection.
func (s *QdrantStore) Count(ctx context.Context, collection string) (int, error) {
	tenant, err := TenantFromContext(ctx)
	if err != nil {
		return 0, err
	}
	name := s.collectionName(collection)
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("checking collection %s: %w", name, err)
	}
	if !exists {
		return 0, nil
	}
	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: name,
		Filter:         tenantFilter(tenant),
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("counting %s: %w", name, err)
	}
	return int(n), nil
}

// Close closes the gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// pointID derives a stable UUID point id so re-ingesting a document
// overwrites its previous point.
func pointID(collection, id string) *qdrant.PointId {
	stable := uuid.NewSHA1(uuid.NameSpaceOID, []byte(collection+"/"+id))
	return qdrant.NewIDUUID(stable.String())
}

// tenantFilter builds the mandatory tenant must-conditions.
func tenantFilter(tenant *TenantInfo) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{
			keywordCondition(MetaTenantID, tenant.TenantID),
			keywordCondition(MetaScopeID, tenant.ScopeID),
		},
	}
}

func keywordCondition(key, value string) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key: key,
				Match: &qdrant.Match{
					MatchValue: &qdrant.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}

// encodePayload flattens a document into the qdrant payload.
func encodePayload(doc Document) map[string]*qdrant.Value {
	payload := make(map[string]*qdrant.Value, len(doc.Metadata)+len(doc.Fields)+4)
	payload["id"] = qdrantString(doc.ID)
	payload["content"] = qdrantString(doc.Content)
	if doc.Thread != "" {
		payload[metaThread] = qdrantString(doc.Thread)
	}
	if !doc.UpdatedAt.IsZero() {
		payload[metaUpdatedAt] = qdrantString(doc.UpdatedAt.UTC().Format(time.RFC3339))
	}
	for k, v := range doc.Fields {
		payload[fieldMetaPrefix+k] = qdrantString(strings.ToUpper(v))
	}
	for k, v := range doc.Metadata {
		switch val := v.(type) {
		case string:
			payload[k] = qdrantString(val)
		case int:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(val)}}
		case int64:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: val}}
		case float64:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: val}}
		case bool:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_BoolValue{BoolValue: val}}
		}
	}
	return payload
}

func qdrantString(s string) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: s}}
}

// decodePayload rebuilds a Document from a point payload.
func decodePayload(collection string, payload map[string]*qdrant.Value) Document {
	doc := Document{
		Collection: collection,
		Metadata:   make(map[string]any, len(payload)),
	}
	for k, v := range payload {
		switch kind := v.GetKind().(type) {
		case *qdrant.Value_StringValue:
			sv := kind.StringValue
			switch {
			case k == "id":
				doc.ID = sv
			case k == "content":
				doc.Content = sv
			case k == metaThread:
				doc.Thread = sv
			case k == metaUpdatedAt:
				if t, err := time.Parse(time.RFC3339, sv); err == nil {
					doc.UpdatedAt = t
				}
			case strings.HasPrefix(k, fieldMetaPrefix):
				if doc.Fields == nil {
					doc.Fields = make(map[string]string)
				}
				doc.Fields[strings.TrimPrefix(k, fieldMetaPrefix)] = sv
			default:
				doc.Metadata[k] = sv
			}
		case *qdrant.Value_IntegerValue:
			doc.Metadata[k] = kind.IntegerValue
		case *qdrant.Value_DoubleValue:
			doc.Metadata[k] = kind.DoubleValue
		case *qdrant.Value_BoolValue:
			doc.Metadata[k] = kind.BoolValue
		}
	}
	return doc
}

var _ Store = (*QdrantStore)(nil)
