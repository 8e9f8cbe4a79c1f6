package match

// Distance is the Levenshtein edit distance between two token sequences.
// Insertions, deletions and substitutions cost 1; identical tokens cost 0.
func Distance(a, b []string) int {
	// matrix[j][i] is the distance between b[:j] and a[:i]
	matrix := make([][]int, len(b)+1)
	for j := range matrix {
		matrix[j] = make([]int, len(a)+1)
		matrix[j][0] = j
	}
	for i := 0; i <= len(a); i++ {
		matrix[0][i] = i
	}

	for j := 1; j <= len(b); j++ {
		for i := 1; i <= len(a); i++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			matrix[j][i] = min(
				matrix[j-1][i]+1,      // deletion
				matrix[j][i-1]+1,      // insertion
				matrix[j-1][i-1]+cost, // substitution
			)
		}
	}

	return matrix[len(b)][len(a)]
}

// TitleDistance normalizes both titles and returns their token distance.
func TitleDistance(a, b string) int {
	return Distance(Normalize(a), Normalize(b))
}
