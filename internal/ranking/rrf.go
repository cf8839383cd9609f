package ranking

// rrfK is the reciprocal-rank-fusion dampening constant. K=60 keeps single
// top ranks from dominating while still rewarding agreement across sources.
const rrfK = 60

// rrfScore fuses per-source ranks into one score. Each source contributes
// 1/(K + rank); a document found by several sources accumulates.
func rrfScore(ranks []int) float64 {
	var score float64
	for _, rank := range ranks {
		if rank < 1 {
			continue
		}
		score += 1.0 / float64(rrfK+rank)
	}
	return score
}
