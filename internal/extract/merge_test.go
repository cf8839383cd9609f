package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetworks/searchd/internal/lexicon"
)

func TestMerge_DeterministicWinsOverlap(t *testing.T) {
	det := []Entity{{
		Type: lexicon.TypeFaultCode, Surface: "mid 128", Canonical: "MID128",
		Confidence: 1.0, Source: SourcePattern, Start: 0, End: 7,
	}}
	fb := []Entity{{
		Type: lexicon.TypeSymptom, Surface: "mid 128 error",
		Confidence: 0.9, Start: 0, End: 13,
	}}

	merged := Merge(det, fb)
	require.Len(t, merged, 1)
	assert.Equal(t, "MID128", merged[0].Canonical)
	assert.Equal(t, SourcePattern, merged[0].Source)
}

func TestMerge_AdmitsDisjointFallback(t *testing.T) {
	det := []Entity{{
		Type: lexicon.TypePartNumber, Surface: "fuel filter", Canonical: "FUEL_FILTER",
		Confidence: 1.0, Source: SourceGazetteer, Start: 0, End: 11,
	}}
	fb := []Entity{{
		Type: lexicon.TypeSymptom, Surface: "clogged",
		Confidence: 0.8, Start: 12, End: 19,
	}}

	merged := Merge(det, fb)
	require.Len(t, merged, 2)

	admitted := merged[1]
	assert.Equal(t, SourceFallback, admitted.Source)
	assert.InDelta(t, 0.8*0.7, admitted.Confidence, 1e-9,
		"fallback confidence is scaled by the source multiplier")
	assert.Equal(t, "clogged", admitted.Canonical, "missing canonical is filled in")
}

func TestMerge_FallbackNeverOutscoresDeterministic(t *testing.T) {
	det := []Entity{{
		Type: lexicon.TypeEquipment, Surface: "grader",
		Confidence: 0.8, Source: SourceGazetteer, Start: 0, End: 6,
	}}
	fb := []Entity{{
		Type: lexicon.TypeEquipment, Surface: "loader",
		Confidence: 1.0, Start: 7, End: 13,
	}}

	merged := Merge(det, fb)
	require.Len(t, merged, 2)
	assert.Less(t, merged[1].Confidence, merged[0].Confidence)
}

func TestMerge_RejectsOverlappingFallbacks(t *testing.T) {
	fb := []Entity{
		{Type: lexicon.TypeSymptom, Surface: "engine stall", Confidence: 0.9, Start: 0, End: 12},
		{Type: lexicon.TypeSymptom, Surface: "stall", Confidence: 0.9, Start: 7, End: 12},
	}

	merged := Merge(nil, fb)
	require.Len(t, merged, 1, "second fallback overlaps the first admitted one")
	assert.Equal(t, "engine stall", merged[0].Surface)
}

func TestMerge_ResultHasNoOverlapsAndIsOrdered(t *testing.T) {
	det := []Entity{
		{Type: lexicon.TypeFaultCode, Surface: "p0420", Confidence: 1, Source: SourcePattern, Start: 20, End: 25},
		{Type: lexicon.TypePartNumber, Surface: "fuel filter", Confidence: 1, Source: SourceGazetteer, Start: 0, End: 11},
	}
	fb := []Entity{
		{Type: lexicon.TypeSymptom, Surface: "noisy", Confidence: 0.6, Start: 12, End: 17},
		{Type: lexicon.TypeSymptom, Surface: "filter noisy", Confidence: 0.9, Start: 5, End: 17},
	}

	merged := Merge(det, fb)
	require.Len(t, merged, 3)

	for i := 1; i < len(merged); i++ {
		assert.GreaterOrEqual(t, merged[i].Start, merged[i-1].End)
	}
}
