package extract

import "sort"

// Merge reconciles fallback entities with deterministic ones.
//
// Deterministic entities always win on span overlap; a fallback entity is
// admitted only when its span does not intersect any deterministic span.
// Admitted fallback entities are re-canonicalized and their confidence is
// scaled by the fallback source multiplier, so a fallback entity can never
// outscore a deterministic one for the same text.
//
// The returned list is ordered left-to-right and satisfies the invariant
// that no two entity spans overlap.
func Merge(deterministic, fallback []Entity) []Entity {
	merged := make([]Entity, 0, len(deterministic)+len(fallback))
	merged = append(merged, deterministic...)

	for _, fb := range fallback {
		conflict := false
		for _, det := range deterministic {
			if fb.Overlaps(det) {
				conflict = true
				break
			}
		}
		// Also reject overlap with already-admitted fallback entities.
		if !conflict {
			for _, m := range merged[len(deterministic):] {
				if fb.Overlaps(m) {
					conflict = true
					break
				}
			}
		}
		if conflict {
			continue
		}

		fb.Source = SourceFallback
		fb.Confidence = clamp01(fb.Confidence * fallbackMultiplier)
		if fb.Canonical == "" {
			fb.Canonical = Canonicalize(fb.Type, fb.Surface)
		}
		merged = append(merged, fb)
	}

	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Start != merged[j].Start {
			return merged[i].Start < merged[j].Start
		}
		return merged[i].End < merged[j].End
	})
	return merged
}
