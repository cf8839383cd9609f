// Package rewrite produces tenant-aware query paraphrases.
//
// Rewriting is an optional recall booster, never a blocking dependency: it
// runs under a hard time budget and on any failure or timeout the pipeline
// proceeds with zero rewrites.
package rewrite

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"github.com/fleetworks/searchd/internal/cache"
	"github.com/fleetworks/searchd/internal/logging"
)

// Config configures the rewriter.
type Config struct {
	Enabled          bool
	MaxRewrites      int
	Budget           time.Duration
	BaseURL          string
	Model            string
	APIKey           string
	EmbeddingVersion string
}

// Rewriter generates up to MaxRewrites paraphrases of a normalized query,
// cached by (normalized query, tenant, role, embedding version).
type Rewriter struct {
	cfg    Config
	llm    llms.Model
	cache  *cache.Cache
	logger *logging.Logger
}

const rewritePrompt = `Rewrite the maintenance search query below into up to %d short paraphrases
that a %s technician might type. Keep part numbers and fault codes verbatim.
Respond with a JSON array of strings only.

Query: %s`

// Option customizes a Rewriter.
type Option func(*Rewriter)

// WithModel supplies an LLM client directly instead of constructing the
// OpenAI-compatible one from configuration.
func WithModel(m llms.Model) Option {
	return func(r *Rewriter) { r.llm = m }
}

// New creates a rewriter. cache may be shared with the rest of the pipeline.
func New(cfg Config, c *cache.Cache, logger *logging.Logger, options ...Option) (*Rewriter, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	if cfg.MaxRewrites <= 0 {
		cfg.MaxRewrites = 3
	}
	if cfg.Budget <= 0 {
		cfg.Budget = 150 * time.Millisecond
	}

	r := &Rewriter{
		cfg:    cfg,
		cache:  c,
		logger: logger.Named("rewrite"),
	}
	for _, opt := range options {
		opt(r)
	}
	if !cfg.Enabled || r.llm != nil {
		return r, nil
	}

	opts := []openai.Option{openai.WithModel(cfg.Model)}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	if cfg.APIKey != "" {
		opts = append(opts, openai.WithToken(cfg.APIKey))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create rewriter LLM client: %w", err)
	}
	r.llm = llm
	return r, nil
}

// Rewrite returns up to MaxRewrites paraphrases. It never returns an error:
// on timeout or failure it returns nil and the search proceeds unaffected.
func (r *Rewriter) Rewrite(ctx context.Context, normalized string) []string {
	if !r.cfg.Enabled || r.llm == nil || normalized == "" {
		return nil
	}

	principal := logging.PrincipalFromContext(ctx)
	if principal == nil {
		return nil
	}

	key := cache.Key{
		Tenant:           principal.TenantID,
		Scope:            principal.Scope,
		Role:             principal.Role,
		Phase:            "rewrite",
		QueryHash:        cache.HashQuery(normalized),
		EmbeddingVersion: r.cfg.EmbeddingVersion,
	}
	if r.cache != nil {
		if v, ok := r.cache.Get(key); ok {
			if rewrites, ok := v.([]string); ok {
				return rewrites
			}
		}
	}

	budgetCtx, cancel := context.WithTimeout(ctx, r.cfg.Budget)
	defer cancel()

	role := principal.Role
	if role == "" {
		role = "fleet"
	}
	prompt := fmt.Sprintf(rewritePrompt, r.cfg.MaxRewrites, role, normalized)

	raw, err := llms.GenerateFromSinglePrompt(budgetCtx, r.llm, prompt)
	if err != nil {
		// Timeouts and transport errors alike: skip rewrites, keep going.
		r.logger.Debug(ctx, "rewrite skipped", zap.Error(err))
		return nil
	}

	rewrites := parseRewrites(raw, normalized, r.cfg.MaxRewrites)
	if r.cache != nil && len(rewrites) > 0 {
		r.cache.Set(key, rewrites, nil)
	}
	return rewrites
}

// parseRewrites decodes the model output, dropping empties, duplicates and
// echoes of the original query.
func parseRewrites(raw, original string, max int) []string {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	var wire []string
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		return nil
	}

	seen := map[string]bool{original: true}
	var out []string
	for _, w := range wire {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
		if len(out) >= max {
			break
		}
	}
	return out
}
