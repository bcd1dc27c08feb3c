// Package recognition matches a probe face embedding against the enrolled pool.
//
// Everything in this package is pure computation over values supplied by the
// caller: no I/O, no logging, no state kept between calls.
package recognition

const (
	// DefaultDim is the embedding width produced by ArcFace-style models.
	DefaultDim = 512

	// DefaultThreshold is the minimum cosine similarity a match must exceed.
	DefaultThreshold = 0.5
)

// Embedding is a face embedding. After Normalize it has exactly the target dimension.
type Embedding []float32

// Candidate is one row of the enrolled pool: a student together with one of
// their stored embeddings. A student with several embeddings appears several times.
type Candidate struct {
	StudentID  int64
	Name       string
	RollNumber string
	Embedding  Embedding
}

// MatchResult is the outcome of scanning the pool for one probe.
type MatchResult struct {
	Matched bool
	// Candidate is the accepted candidate, nil unless Matched.
	Candidate *Candidate
	// Confidence is the best similarity seen, reported on misses too.
	Confidence float64
	// Distance is the euclidean distance to the best-scoring candidate
	// (+Inf when nothing scored above zero). Diagnostic only.
	Distance float64
}
