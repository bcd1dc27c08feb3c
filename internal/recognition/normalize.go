package recognition

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/blas/blas32"
)

// minUsableNorm is the smallest L2 norm an enrolment embedding may have.
const minUsableNorm = 0.1

// ZeroEmbedding returns the all-zero sentinel of the given width.
// It scores 0 against everything, so a zero probe can never be matched.
func ZeroEmbedding(dim int) Embedding {
	if dim < 0 {
		dim = 0
	}
	return make(Embedding, dim)
}

// Normalize coerces raw to exactly dim elements.
// Longer input is truncated (the upstream model front-loads salient features,
// which is an approximation), shorter input is right-padded with zeros, and
// empty input yields ZeroEmbedding. The result never aliases raw.
func Normalize(raw []float32, dim int) Embedding {
	if len(raw) == 0 {
		return ZeroEmbedding(dim)
	}
	out := ZeroEmbedding(dim)
	copy(out, raw)
	return out
}

// NormalizeFloat64 is Normalize for float64 input, e.g. decoded JSON.
func NormalizeFloat64(raw []float64, dim int) Embedding {
	out := ZeroEmbedding(dim)
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = float32(raw[i])
	}
	return out
}

// IsZero reports whether every element of e is zero.
func (e Embedding) IsZero() bool {
	for _, v := range e {
		if v != 0 {
			return false
		}
	}
	return true
}

func (e Embedding) vector() blas32.Vector {
	return blas32.Vector{N: len(e), Inc: 1, Data: e}
}

// Norm returns the L2 norm of e.
func (e Embedding) Norm() float64 {
	if len(e) == 0 {
		return 0
	}
	return float64(blas32.Nrm2(e.vector()))
}

// UnitNormalize returns a copy of e scaled to unit length.
// A zero vector is returned unchanged (as a copy).
func UnitNormalize(e Embedding) Embedding {
	out := make(Embedding, len(e))
	copy(out, e)
	norm := out.Norm()
	if norm == 0 {
		return out
	}
	blas32.Scal(float32(1/norm), out.vector())
	return out
}

// QualityError describes why an embedding is unsuitable for enrolment.
type QualityError struct {
	Reason string
}

func (e *QualityError) Error() string {
	return "embedding rejected: " + e.Reason
}

// Validate checks that e can be stored as an enrolment embedding.
func Validate(e Embedding, dim int) error {
	if len(e) != dim {
		return &QualityError{Reason: fmt.Sprintf("size %d != expected %d", len(e), dim)}
	}
	for _, v := range e {
		f := float64(v)
		if math.IsNaN(f) {
			return &QualityError{Reason: "contains NaN values"}
		}
		if math.IsInf(f, 0) {
			return &QualityError{Reason: "contains infinite values"}
		}
	}
	if e.IsZero() {
		return &QualityError{Reason: "all zeros"}
	}
	if norm := e.Norm(); norm < minUsableNorm {
		return &QualityError{Reason: fmt.Sprintf("norm too small: %.4f", norm)}
	}
	return nil
}
