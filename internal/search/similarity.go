package search

import (
	"fmt"
	"math"
)

// DimensionMismatchError reports an attempt to compare vectors of different
// dimensionality, typically a stale embedding produced by an older model.
type DimensionMismatchError struct {
	A, B int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("embedding dimension mismatch: %d vs %d", e.A, e.B)
}

// CosineSimilarity computes the cosine similarity of two vectors in [-1, 1].
// Vectors of different lengths return a DimensionMismatchError rather than a
// silent zero, so callers can distinguish stale embeddings from genuine
// low similarity. If either vector has zero norm the similarity is undefined;
// it is defined as 0 here to avoid NaN propagation.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, &DimensionMismatchError{A: len(a), B: len(b)}
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}
