package embedding

import (
	"fmt"
	"math"
)

// ShapeMismatchError indicates a comparison between vectors of unequal
// length, e.g. embeddings produced by two different model versions. Not
// retryable without regenerating one side.
type ShapeMismatchError struct {
	Expected int
	Actual   int
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("embedding length mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// Cosine returns the cosine similarity of a and b in [-1, 1]; higher means
// more similar. Zero-magnitude input yields 0 to avoid division by zero.
func Cosine(a, b Vector) (float64, error) {
	if len(a) != len(b) {
		return 0, &ShapeMismatchError{Expected: len(a), Actual: len(b)}
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

// Euclidean returns the straight-line distance between a and b; lower
// means more similar.
func Euclidean(a, b Vector) (float64, error) {
	if len(a) != len(b) {
		return 0, &ShapeMismatchError{Expected: len(a), Actual: len(b)}
	}

	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum), nil
}
