// Package normalize canonicalizes raw query text before extraction.
//
// Normalization lowercases, collapses whitespace and expands configured
// abbreviations (e.g. "filt" -> "filter"). It is pure and deterministic:
// the same input and lexicon snapshot always produce the same output, so
// downstream extraction is idempotent and cache keys are stable.
package normalize

import (
	"strings"
	"unicode"

	"github.com/fleetworks/searchd/internal/lexicon"
)

// Token is a single normalized token with its byte span in the normalized text.
type Token struct {
	Text  string
	Start int
	End   int
}

// Normalizer canonicalizes query text using a lexicon snapshot.
type Normalizer struct {
	lex *lexicon.Snapshot
}

// New creates a normalizer bound to a lexicon snapshot.
// The snapshot is immutable, so the normalizer is safe for concurrent use.
func New(lex *lexicon.Snapshot) *Normalizer {
	return &Normalizer{lex: lex}
}

// Normalize lowercases the input, collapses whitespace runs to single
// spaces, trims the ends and expands abbreviations token by token.
func (n *Normalizer) Normalize(raw string) string {
	lowered := strings.ToLower(raw)

	var b strings.Builder
	b.Grow(len(lowered))
	lastSpace := true
	for _, r := range lowered {
		if unicode.IsSpace(r) {
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
			continue
		}
		b.WriteRune(r)
		lastSpace = false
	}
	collapsed := strings.TrimRight(b.String(), " ")

	if n.lex == nil {
		return collapsed
	}

	fields := strings.Split(collapsed, " ")
	for i, f := range fields {
		fields[i] = n.lex.Expansion(f)
	}
	return strings.Join(fields, " ")
}

// Tokenize splits normalized text into tokens with byte spans.
// Punctuation is kept attached to tokens except for trailing separators,
// so identifier shapes like "abc-123" survive as one token.
func Tokenize(text string) []Token {
	var tokens []Token
	start := -1
	for i, r := range text {
		if r == ' ' {
			if start >= 0 {
				tokens = append(tokens, Token{Text: text[start:i], Start: start, End: i})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		tokens = append(tokens, Token{Text: text[start:], Start: start, End: len(text)})
	}
	return tokens
}
