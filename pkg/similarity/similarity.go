// Package similarity scores how close two embeddings are.
package similarity

import "math"

// Cosine returns the cosine similarity of a and b in [-1, 1].
// Mismatched dimensions, empty vectors and zero-magnitude vectors score 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	sim := dot / denom
	// Rounding can push parallel vectors a hair past the bounds.
	return math.Max(-1, math.Min(1, sim))
}
