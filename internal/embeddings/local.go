package embeddings

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// Local is a deterministic, dependency-free embedder. It hashes tokens
// into a fixed-size bag-of-words vector and L2-normalizes it. Identical
// texts always produce identical vectors, which makes it suitable for
// tests and for the in-memory store.
type Local struct {
	dims int
}

// NewLocal creates a local embedder with the given dimensionality.
func NewLocal(dims int) *Local {
	if dims <= 0 {
		dims = 128
	}
	return &Local{dims: dims}
}

// Version identifies the local embedding space.
func (l *Local) Version() string {
	return "local-v1"
}

// EmbedQuery embeds a single text.
func (l *Local) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return l.embed(text), nil
}

// EmbedDocuments embeds multiple texts.
func (l *Local) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = l.embed(t)
	}
	return out, nil
}

func (l *Local) embed(text string) []float32 {
	vec := make([]float32, l.dims)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		vec[int(h.Sum32())%l.dims]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= inv
	}
	return vec
}
