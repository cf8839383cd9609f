package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fleetworks/searchd/internal/lexicon"
	"github.com/fleetworks/searchd/internal/logging"
)

// FallbackClient extracts entities from queries that deterministic
// extraction could not cover. It is a network-bound collaborator: calls are
// strictly time-boxed and invoked at most once per request by the pipeline.
type FallbackClient interface {
	ExtractEntities(ctx context.Context, text string) ([]Entity, error)
}

// FallbackConfig configures the LLM-backed fallback extractor.
type FallbackConfig struct {
	BaseURL   string
	Model     string
	APIKey    string
	Timeout   time.Duration
	RateLimit float64
	Burst     int
}

// LLMFallback implements FallbackClient against an OpenAI-compatible
// endpoint via langchaingo.
type LLMFallback struct {
	llm     llms.Model
	timeout time.Duration
	limiter *rate.Limiter
	logger  *logging.Logger
}

const fallbackPrompt = `Extract maintenance-search entities from the query below.
Valid types: equipment, brand, part_number, fault_code, symptom, action_verb, measurement, document_type, location, stock_status.
Respond with a JSON array only, no prose. Each element: {"type": "...", "surface": "exact substring of the query", "confidence": 0.0-1.0}.

Query: %s`

// NewLLMFallback creates the fallback extractor client.
func NewLLMFallback(cfg FallbackConfig, logger *logging.Logger) (*LLMFallback, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	opts := []openai.Option{
		openai.WithModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	if cfg.APIKey != "" {
		opts = append(opts, openai.WithToken(cfg.APIKey))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create fallback LLM client: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 400 * time.Millisecond
	}
	rps := cfg.RateLimit
	if rps <= 0 {
		rps = 5
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 10
	}

	return &LLMFallback{
		llm:     llm,
		timeout: timeout,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		logger:  logger.Named("fallback"),
	}, nil
}

// fallbackEntity is the wire shape returned by the model.
type fallbackEntity struct {
	Type       string  `json:"type"`
	Surface    string  `json:"surface"`
	Confidence float64 `json:"confidence"`
}

// ExtractEntities asks the model for entities and maps them back onto
// spans of the normalized text. Surfaces the model invents (not present in
// the text) are dropped.
func (f *LLMFallback) ExtractEntities(ctx context.Context, text string) ([]Entity, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	if err := f.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("fallback rate limit: %w", err)
	}

	raw, err := llms.GenerateFromSinglePrompt(ctx, f.llm, fmt.Sprintf(fallbackPrompt, text))
	if err != nil {
		return nil, fmt.Errorf("fallback extraction call failed: %w", err)
	}

	entities, err := parseFallbackResponse(text, raw)
	if err != nil {
		f.logger.Warn(ctx, "unparseable fallback response", zap.Error(err))
		return nil, err
	}
	return entities, nil
}

// parseFallbackResponse decodes the model output and anchors each entity
// to its span in the text.
func parseFallbackResponse(text, raw string) ([]Entity, error) {
	raw = strings.TrimSpace(raw)
	// Tolerate fenced responses.
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	var wire []fallbackEntity
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		return nil, fmt.Errorf("invalid fallback JSON: %w", err)
	}

	known := make(map[lexicon.EntityType]bool)
	for _, t := range lexicon.KnownTypes() {
		known[t] = true
	}

	var out []Entity
	for _, w := range wire {
		t := lexicon.EntityType(w.Type)
		if !known[t] {
			continue
		}
		surface := strings.ToLower(strings.TrimSpace(w.Surface))
		if surface == "" {
			continue
		}
		idx := strings.Index(text, surface)
		if idx < 0 {
			continue
		}
		out = append(out, Entity{
			Type:       t,
			Surface:    surface,
			Canonical:  Canonicalize(t, surface),
			Confidence: clamp01(w.Confidence),
			Weight:     w.Confidence,
			Source:     SourceFallback,
			Start:      idx,
			End:        idx + len(surface),
		})
	}
	return out, nil
}
