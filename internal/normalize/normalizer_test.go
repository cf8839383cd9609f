package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fleetworks/searchd/internal/lexicon"
)

func testSnapshot() *lexicon.Snapshot {
	return lexicon.NewStaticProvider(
		[]lexicon.Term{{Surface: "fuel filter", Type: lexicon.TypePartNumber}},
		map[string]string{"filt": "filter", "hyd": "hydraulic"},
		nil,
	).Snapshot()
}

func TestNormalizer_Normalize(t *testing.T) {
	n := New(testSnapshot())

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "lowercases", in: "Fuel FILTER", want: "fuel filter"},
		{name: "collapses whitespace", in: "  fuel \t filter\n", want: "fuel filter"},
		{name: "expands abbreviations", in: "fuel filt", want: "fuel filter"},
		{name: "multiple expansions", in: "hyd filt leak", want: "hydraulic filter leak"},
		{name: "identifiers survive", in: "MID 128 PID 94", want: "mid 128 pid 94"},
		{name: "hyphenated tokens kept whole", in: "ABC-123", want: "abc-123"},
		{name: "empty input", in: "", want: ""},
		{name: "only whitespace", in: "   \t\n", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, n.Normalize(tt.in))
		})
	}
}

func TestNormalizer_Deterministic(t *testing.T) {
	n := New(testSnapshot())
	in := "Replace   the FUEL filt on EXC-450"
	first := n.Normalize(in)
	assert.Equal(t, first, n.Normalize(in))
	// Normalizing an already-normalized query is a no-op.
	assert.Equal(t, first, n.Normalize(first))
}

func TestNormalizer_NilSnapshot(t *testing.T) {
	n := New(nil)
	assert.Equal(t, "fuel filt", n.Normalize("Fuel  FILT"))
}

func TestTokenize(t *testing.T) {
	tokens := Tokenize("fuel filter abc-123")
	assert.Len(t, tokens, 3)
	assert.Equal(t, Token{Text: "fuel", Start: 0, End: 4}, tokens[0])
	assert.Equal(t, Token{Text: "filter", Start: 5, End: 11}, tokens[1])
	assert.Equal(t, Token{Text: "abc-123", Start: 12, End: 19}, tokens[2])
}

func TestTokenize_Empty(t *testing.T) {
	assert.Empty(t, Tokenize(""))
}
