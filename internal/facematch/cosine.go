package facematch

import "math"

// CosineSimilarity returns dot(a, b) / (|a| * |b|) in the range [-1, 1].
// Vectors of different length, empty vectors and zero vectors yield 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	similarity := dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
	// Clamp to [-1, 1] to handle floating point errors
	if similarity > 1 {
		similarity = 1
	}
	if similarity < -1 {
		similarity = -1
	}
	return similarity
}

// RoundScore rounds a similarity to 4 decimal places for reporting.
func RoundScore(s float64) float64 {
	return math.Round(s*10000) / 10000
}

// ValidEmbedding reports whether emb is non-empty and holds only finite values.
func ValidEmbedding(emb []float32) bool {
	if len(emb) == 0 {
		return false
	}
	for _, v := range emb {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}
