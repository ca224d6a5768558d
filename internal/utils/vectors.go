package utils

import "math"

// SparseVector maps a vocabulary index to a weight. Absent indices are zero.
type SparseVector map[int]float64

// dotProduct calculates the dot product of two sparse vectors.
func dotProduct(vec1, vec2 SparseVector) float64 {
	if len(vec2) < len(vec1) {
		vec1, vec2 = vec2, vec1
	}
	var product float64
	for i, v := range vec1 {
		product += v * vec2[i]
	}
	return product
}

// Magnitude calculates the L2 norm of a vector.
func Magnitude(vec SparseVector) float64 {
	var sumOfSquares float64
	for _, val := range vec {
		sumOfSquares += val * val
	}
	return math.Sqrt(sumOfSquares)
}

// Normalize scales vec to unit length in place. Zero vectors are left alone.
func Normalize(vec SparseVector) SparseVector {
	mag := Magnitude(vec)
	if mag == 0 {
		return vec
	}
	for i := range vec {
		vec[i] /= mag
	}
	return vec
}

// CosineSimilarity calculates the cosine similarity between two sparse vectors.
// An empty or all-zero vector has similarity 0 with everything.
func CosineSimilarity(vec1, vec2 SparseVector) float64 {
	if len(vec1) == 0 || len(vec2) == 0 {
		return 0
	}
	mag1 := Magnitude(vec1)
	mag2 := Magnitude(vec2)
	if mag1 == 0 || mag2 == 0 {
		return 0
	}
	return dotProduct(vec1, vec2) / (mag1 * mag2)
}
