package ranking

import (
	"errors"
	"fmt"
)

// ErrTierOrder indicates ranked output where a lower tier precedes a
// higher tier. It means a scoring bug, caught before emission.
var ErrTierOrder = errors.New("tier ordering invariant violated")

// MergeStage1 collapses duplicates within a logical thread, keeping each
// thread's highest scorer, and verifies the tier ordering invariant on the
// surviving rows. Input must already be in final ranked order.
func MergeStage1(ranked []Ranked) ([]Ranked, error) {
	seenThread := make(map[string]bool)
	out := make([]Ranked, 0, len(ranked))
	for _, r := range ranked {
		if r.Doc.Thread != "" {
			if seenThread[r.Doc.Thread] {
				continue
			}
			seenThread[r.Doc.Thread] = true
		}
		out = append(out, r)
	}

	if err := checkTierOrder(out); err != nil {
		return nil, err
	}
	return out, nil
}

// checkTierOrder asserts rows are non-increasing by tier.
func checkTierOrder(ranked []Ranked) error {
	for i := 1; i < len(ranked); i++ {
		if ranked[i].Tier > ranked[i-1].Tier {
			return fmt.Errorf("%w: %s (%s) ranked above %s (%s)",
				ErrTierOrder,
				ranked[i-1].Doc.ID, ranked[i-1].TierName,
				ranked[i].Doc.ID, ranked[i].TierName)
		}
	}
	return nil
}
