package lexicon

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testLexicon = `
version = 1

[[terms]]
surface = "fuel filter"
canonical = "FUEL_FILTER"
type = "part_number"

[[terms]]
surface = "excavator"
type = "equipment"
weight = 2.0

[[terms]]
surface = "overheating"
canonical = "OVERHEAT"
type = "symptom"

[expansions]
filt = "filter"
exc = "excavator"

[precedence]
part_number = 0.9
equipment = 0.7
symptom = 0.5
`

func writeLexicon(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lexicon.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestNewProvider_LoadsSnapshot(t *testing.T) {
	p, err := NewProvider(writeLexicon(t, testLexicon), nil)
	require.NoError(t, err)
	defer p.Close()

	snap := p.Snapshot()
	assert.Equal(t, int64(1), snap.Version())
	assert.Equal(t, 3, snap.TermCount())
	assert.Equal(t, 2, snap.MaxTermTokens(), "two-token term bounds the n-gram window")
}

func TestSnapshot_LookupTerm(t *testing.T) {
	p, err := NewProvider(writeLexicon(t, testLexicon), nil)
	require.NoError(t, err)
	defer p.Close()
	snap := p.Snapshot()

	term, ok := snap.LookupTerm("Fuel Filter")
	require.True(t, ok, "lookup is case-insensitive")
	assert.Equal(t, "FUEL_FILTER", term.Canonical)
	assert.Equal(t, TypePartNumber, term.Type)
	assert.Equal(t, 1.0, term.Weight, "zero weight defaults to 1.0")

	term, ok = snap.LookupTerm("excavator")
	require.True(t, ok)
	assert.Equal(t, "excavator", term.Canonical, "missing canonical defaults to surface form")
	assert.Equal(t, 2.0, term.Weight)

	_, ok = snap.LookupTerm("unknown thing")
	assert.False(t, ok)
}

func TestSnapshot_Expansion(t *testing.T) {
	p, err := NewProvider(writeLexicon(t, testLexicon), nil)
	require.NoError(t, err)
	defer p.Close()
	snap := p.Snapshot()

	assert.Equal(t, "filter", snap.Expansion("filt"))
	assert.Equal(t, "filter", snap.Expansion("FILT"))
	assert.Equal(t, "torque", snap.Expansion("torque"), "unconfigured tokens pass through")
}

func TestSnapshot_Precedence(t *testing.T) {
	p, err := NewProvider(writeLexicon(t, testLexicon), nil)
	require.NoError(t, err)
	defer p.Close()
	snap := p.Snapshot()

	assert.Equal(t, 0.9, snap.Precedence(TypePartNumber))
	assert.Equal(t, 0.5, snap.Precedence(TypeSymptom))
	assert.Less(t, snap.Precedence(TypeLocation), 0.5,
		"unconfigured types must lose overlap resolution against configured ones")
}

func TestNewProvider_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "empty terms", content: "version = 1\n"},
		{name: "unknown type", content: "[[terms]]\nsurface = \"x\"\ntype = \"widget\"\n"},
		{name: "invalid toml", content: "[[terms"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewProvider(writeLexicon(t, tt.content), nil)
			assert.Error(t, err)
		})
	}
}

func TestProvider_Reload(t *testing.T) {
	path := writeLexicon(t, testLexicon)
	p, err := NewProvider(path, nil)
	require.NoError(t, err)
	defer p.Close()

	old := p.Snapshot()

	updated := testLexicon + `
[[terms]]
surface = "hydraulic pump"
type = "part_number"
`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))
	require.NoError(t, p.Reload(t.Context()))

	snap := p.Snapshot()
	assert.Greater(t, snap.Version(), old.Version())
	assert.Equal(t, 4, snap.TermCount())

	// The previous snapshot is untouched; in-flight requests keep using it.
	assert.Equal(t, 3, old.TermCount())
}

func TestProvider_ReloadFailureKeepsSnapshot(t *testing.T) {
	path := writeLexicon(t, testLexicon)
	p, err := NewProvider(path, nil)
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, os.WriteFile(path, []byte("not toml at all ["), 0o644))
	assert.Error(t, p.Reload(t.Context()))
	assert.Equal(t, 3, p.Snapshot().TermCount())
}

func TestNewStaticProvider(t *testing.T) {
	p := NewStaticProvider(
		[]Term{{Surface: "grader", Type: TypeEquipment}},
		map[string]string{"grd": "grader"},
		map[EntityType]float64{TypeEquipment: 0.8},
	)
	snap := p.Snapshot()
	_, ok := snap.LookupTerm("grader")
	assert.True(t, ok)
	assert.Equal(t, "grader", snap.Expansion("grd"))
}
