package vectorindex

// MMR reorders candidates by maximal marginal relevance and returns at most k
// of them. lambda = 1 is pure relevance, lambda = 0 pure diversity.
// Candidates must carry their vectors.
func MMR(query []float32, candidates []Hit, k int, lambda float64) []Hit {
	if k <= 0 || len(candidates) == 0 {
		return nil
	}
	if k > len(candidates) {
		k = len(candidates)
	}

	relevance := make([]float64, len(candidates))
	for i := range candidates {
		relevance[i] = float64(cosineSimilarity(query, candidates[i].Vector))
	}

	selected := make([]Hit, 0, k)
	used := make([]bool, len(candidates))
	for len(selected) < k {
		best := -1
		bestScore := 0.0
		for i := range candidates {
			if used[i] {
				continue
			}
			maxSim := 0.0
			for _, s := range selected {
				if sim := float64(cosineSimilarity(candidates[i].Vector, s.Vector)); sim > maxSim {
					maxSim = sim
				}
			}
			score := lambda*relevance[i] - (1-lambda)*maxSim
			if best == -1 || score > bestScore {
				best, bestScore = i, score
			}
		}
		used[best] = true
		selected = append(selected, candidates[best])
	}
	return selected
}
