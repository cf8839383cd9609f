package ranking

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetworks/searchd/internal/store"
)

func rankedRow(id, thread string, tier Tier) Ranked {
	return Ranked{
		Doc: store.ScoredDocument{Document: store.Document{
			ID:     id,
			Thread: thread,
		}},
		Tier:     tier,
		TierName: tier.String(),
		Score:    float64(tier),
	}
}

func TestMergeStage1_CollapsesThreads(t *testing.T) {
	in := []Ranked{
		rankedRow("a", "wo-100", TierExactID),
		rankedRow("b", "wo-100", TierFuzzy),
		rankedRow("c", "wo-200", TierFuzzy),
		rankedRow("d", "", TierVector),
		rankedRow("e", "", TierVector),
	}

	out, err := MergeStage1(in)
	require.NoError(t, err)

	ids := make([]string, 0, len(out))
	for _, r := range out {
		ids = append(ids, r.Doc.ID)
	}
	assert.Equal(t, []string{"a", "c", "d", "e"}, ids,
		"only the first (highest ranked) row of each thread survives; threadless rows all pass")
}

func TestMergeStage1_DetectsTierOrderViolation(t *testing.T) {
	in := []Ranked{
		rankedRow("low", "", TierFuzzy),
		rankedRow("high", "", TierExactID),
	}
	_, err := MergeStage1(in)
	assert.ErrorIs(t, err, ErrTierOrder)
}

func TestMergeStage1_Empty(t *testing.T) {
	out, err := MergeStage1(nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}
