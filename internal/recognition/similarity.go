package recognition

import (
	"math"

	"gonum.org/v1/gonum/blas/blas32"
)

// CosineSimilarity returns dot(a,b) / (|a| * |b|) clamped to [0, 1].
// Mismatched or empty shapes and zero-norm inputs score 0. Negative cosine
// has no meaning as a confidence here and is floored to 0.
func CosineSimilarity(a, b Embedding) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	normA := a.Norm()
	normB := b.Norm()
	if normA == 0 || normB == 0 {
		return 0
	}

	dot := float64(blas32.Dot(a.vector(), b.vector()))
	similarity := dot / (normA * normB)

	if math.IsNaN(similarity) || similarity < 0 {
		return 0
	}
	if similarity > 1 {
		return 1
	}
	return similarity
}

// EuclideanDistance returns |a - b|. Mismatched or empty shapes return +Inf.
func EuclideanDistance(a, b Embedding) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.Inf(1)
	}

	diff := make(Embedding, len(a))
	copy(diff, a)
	blas32.Axpy(-1, b.vector(), diff.vector())

	return diff.Norm()
}
