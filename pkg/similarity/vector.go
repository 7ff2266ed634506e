// Package similarity provides vector similarity math shared by the ANN index
// and the cross-project similarity rollup.
package similarity

import "math"

// CosineDistance returns the cosine distance between a and b in [0, 2].
// 0 means identical direction, 1 orthogonal, 2 opposite. Returns 1 (fully
// dissimilar for ranking purposes) when either vector has zero magnitude or
// the lengths differ.
func CosineDistance(a, b []float32) float64 {
	return 1 - CosineSimilarity(a, b)
}

// CosineSimilarity returns the cosine similarity between a and b in [-1, 1].
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Centroid returns the component-wise mean of the given vectors. All vectors
// must share the same dimension; empty input returns nil.
func Centroid(vectors [][]float32) []float32 {
	if len(vectors) == 0 {
		return nil
	}

	dim := len(vectors[0])
	sum := make([]float64, dim)
	count := 0
	for _, v := range vectors {
		if len(v) != dim {
			continue
		}
		for i := range v {
			sum[i] += float64(v[i])
		}
		count++
	}

	if count == 0 {
		return nil
	}

	out := make([]float32, dim)
	for i := range sum {
		out[i] = float32(sum[i] / float64(count))
	}
	return out
}

// Normalize returns a unit-length copy of v. Zero vectors are returned
// unchanged.
func Normalize(v []float32) []float32 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return v
	}

	inv := 1 / math.Sqrt(norm)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) * inv)
	}
	return out
}
