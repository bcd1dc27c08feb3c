package recognition

import (
	"math"
	"sync"
)

// ParallelMinPool is the pool size from which Selector splits the scan across workers.
const ParallelMinPool = 256

// FindBestMatch scans the whole pool and returns the single best candidate.
//
// The best candidate starts at similarity 0 and is only replaced by a strictly
// higher score, so the first candidate wins exact ties. It is accepted only if
// its similarity is strictly greater than threshold. On a miss Confidence still
// carries the closest score so callers can show it.
func FindBestMatch(probe Embedding, pool []Candidate, threshold float64) MatchResult {
	idx, best := scanRange(probe, pool, 0, len(pool))
	return decide(probe, pool, idx, best, threshold)
}

// scanRange returns the index and score of the best candidate in pool[lo:hi],
// or -1 when nothing scored above zero.
func scanRange(probe Embedding, pool []Candidate, lo, hi int) (int, float64) {
	bestIdx := -1
	bestSimilarity := 0.0
	for i := lo; i < hi; i++ {
		similarity := CosineSimilarity(probe, pool[i].Embedding)
		if similarity > bestSimilarity {
			bestSimilarity = similarity
			bestIdx = i
		}
	}
	return bestIdx, bestSimilarity
}

func decide(probe Embedding, pool []Candidate, idx int, best, threshold float64) MatchResult {
	result := MatchResult{
		Confidence: best,
		Distance:   math.Inf(1),
	}
	if idx < 0 {
		return result
	}

	result.Distance = EuclideanDistance(probe, pool[idx].Embedding)
	if best > threshold {
		matched := pool[idx]
		result.Matched = true
		result.Candidate = &matched
	}
	return result
}

// Selector holds the acceptance threshold and scan parallelism.
type Selector struct {
	Threshold float64
	// Workers is the number of goroutines used for large pools. 0 or 1 scans sequentially.
	Workers int
}

// NewSelector creates a selector with the given threshold and worker count.
func NewSelector(threshold float64, workers int) Selector {
	return Selector{Threshold: threshold, Workers: workers}
}

// Select returns the same result as FindBestMatch. Pools of at least
// ParallelMinPool candidates are split into contiguous chunks scanned in
// parallel; partial results are reduced in chunk order so the lowest index
// still wins exact ties.
func (s Selector) Select(probe Embedding, pool []Candidate) MatchResult {
	workers := s.Workers
	if workers <= 1 || len(pool) < ParallelMinPool {
		return FindBestMatch(probe, pool, s.Threshold)
	}

	type partial struct {
		idx   int
		score float64
	}

	chunk := (len(pool) + workers - 1) / workers
	parts := make([]partial, workers)

	var wg sync.WaitGroup
	for w := range workers {
		lo := w * chunk
		if lo >= len(pool) {
			parts[w] = partial{idx: -1}
			continue
		}
		hi := min(lo+chunk, len(pool))

		wg.Add(1)
		go func() {
			defer wg.Done()
			idx, score := scanRange(probe, pool, lo, hi)
			parts[w] = partial{idx: idx, score: score}
		}()
	}
	wg.Wait()

	bestIdx := -1
	bestSimilarity := 0.0
	for _, p := range parts {
		if p.idx >= 0 && p.score > bestSimilarity {
			bestSimilarity = p.score
			bestIdx = p.idx
		}
	}

	return decide(probe, pool, bestIdx, bestSimilarity, s.Threshold)
}
