package recognition

import (
	"math"
	"math/rand/v2"
	"testing"
)

// unitAt returns a 2D unit vector whose cosine with (1, 0) is s.
func unitAt(s float64) Embedding {
	return Embedding{float32(s), float32(math.Sqrt(1 - s*s))}
}

func TestFindBestMatch_EmptyPool(t *testing.T) {
	result := FindBestMatch(Embedding{1, 0}, nil, 0.5)

	if result.Matched {
		t.Error("expected no match for empty pool")
	}
	if result.Candidate != nil {
		t.Errorf("expected nil candidate, got %+v", result.Candidate)
	}
	if result.Confidence != 0 {
		t.Errorf("Confidence = %v, want 0", result.Confidence)
	}
	if !math.IsInf(result.Distance, 1) {
		t.Errorf("Distance = %v, want +Inf", result.Distance)
	}
}

func TestFindBestMatch_PicksHighest(t *testing.T) {
	probe := Embedding{1, 0}
	pool := []Candidate{
		{StudentID: 1, Name: "Low", Embedding: unitAt(0.3)},
		{StudentID: 2, Name: "High", Embedding: unitAt(0.9)},
		{StudentID: 3, Name: "Mid", Embedding: unitAt(0.7)},
	}

	tests := []struct {
		name      string
		threshold float64
		wantMatch bool
	}{
		{"below best", 0.5, true},
		{"just below best", 0.89, true},
		{"above best", 0.95, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := FindBestMatch(probe, pool, tt.threshold)

			if result.Matched != tt.wantMatch {
				t.Fatalf("Matched = %v, want %v", result.Matched, tt.wantMatch)
			}
			if math.Abs(result.Confidence-0.9) > 1e-5 {
				t.Errorf("Confidence = %v, want 0.9", result.Confidence)
			}
			if tt.wantMatch {
				if result.Candidate == nil || result.Candidate.StudentID != 2 {
					t.Errorf("Candidate = %+v, want student 2", result.Candidate)
				}
			} else if result.Candidate != nil {
				t.Errorf("expected nil candidate on miss, got %+v", result.Candidate)
			}
			if math.IsInf(result.Distance, 0) {
				t.Error("Distance should be finite when a best candidate exists")
			}
		})
	}
}

func TestFindBestMatch_ThresholdIsStrict(t *testing.T) {
	probe := Embedding{0.6, 0.8, 0}
	candidate := Embedding{0.8, 0.6, 0}
	pool := []Candidate{{StudentID: 7, Embedding: candidate}}
	similarity := CosineSimilarity(probe, candidate)

	atThreshold := FindBestMatch(probe, pool, similarity)
	if atThreshold.Matched {
		t.Errorf("similarity equal to threshold must not match (similarity %v)", similarity)
	}

	belowThreshold := FindBestMatch(probe, pool, similarity-1e-6)
	if !belowThreshold.Matched {
		t.Errorf("similarity above threshold must match (similarity %v)", similarity)
	}
}

func TestFindBestMatch_FirstWinsTies(t *testing.T) {
	probe := Embedding{1, 0}
	same := unitAt(0.8)
	pool := []Candidate{
		{StudentID: 10, Embedding: unitAt(0.2)},
		{StudentID: 11, Embedding: same},
		{StudentID: 12, Embedding: same},
	}

	result := FindBestMatch(probe, pool, 0.5)

	if !result.Matched || result.Candidate.StudentID != 11 {
		t.Errorf("expected first tied candidate 11, got %+v", result.Candidate)
	}
}

func TestFindBestMatch_ZeroProbeNeverMatches(t *testing.T) {
	pool := []Candidate{{StudentID: 1, Embedding: Embedding{1, 0}}}

	result := FindBestMatch(ZeroEmbedding(2), pool, 0)

	if result.Matched {
		t.Error("zero probe matched")
	}
	if result.Confidence != 0 {
		t.Errorf("Confidence = %v, want 0", result.Confidence)
	}
}

func TestFindBestMatch_DoesNotAliasPool(t *testing.T) {
	pool := []Candidate{{StudentID: 1, Name: "Alice", Embedding: Embedding{1, 0}}}

	result := FindBestMatch(Embedding{1, 0}, pool, 0.5)
	result.Candidate.Name = "changed"

	if pool[0].Name != "Alice" {
		t.Error("returned candidate aliases the pool")
	}
}

func TestSelector_SequentialForSmallPools(t *testing.T) {
	probe := Embedding{1, 0}
	pool := []Candidate{
		{StudentID: 1, Embedding: unitAt(0.3)},
		{StudentID: 2, Embedding: unitAt(0.9)},
	}

	got := NewSelector(0.5, 8).Select(probe, pool)
	want := FindBestMatch(probe, pool, 0.5)

	if got.Matched != want.Matched || got.Candidate.StudentID != want.Candidate.StudentID {
		t.Errorf("Select() = %+v, want %+v", got, want)
	}
}

func TestSelector_ParallelMatchesSequential(t *testing.T) {
	const dim = 32
	r := rand.New(rand.NewPCG(42, 1024))

	pool := make([]Candidate, 1000)
	for i := range pool {
		pool[i] = Candidate{StudentID: int64(i + 1), Embedding: randomEmbedding(r, dim)}
	}
	probe := randomEmbedding(r, dim)

	// Plant an exact tie for the best score at indices 10 and 900.
	pool[10].Embedding = append(Embedding(nil), probe...)
	pool[900].Embedding = append(Embedding(nil), probe...)

	for _, workers := range []int{0, 1, 2, 3, 7, 16, 2000} {
		sel := NewSelector(0.5, workers)
		got := sel.Select(probe, pool)
		want := FindBestMatch(probe, pool, 0.5)

		if got.Matched != want.Matched {
			t.Fatalf("workers=%d: Matched = %v, want %v", workers, got.Matched, want.Matched)
		}
		if got.Confidence != want.Confidence {
			t.Errorf("workers=%d: Confidence = %v, want %v", workers, got.Confidence, want.Confidence)
		}
		if got.Candidate == nil || got.Candidate.StudentID != 11 {
			t.Errorf("workers=%d: expected tie broken toward index 10 (student 11), got %+v", workers, got.Candidate)
		}
	}
}

func TestSelector_ParallelMiss(t *testing.T) {
	const dim = 16
	r := rand.New(rand.NewPCG(3, 5))

	pool := make([]Candidate, ParallelMinPool*2)
	for i := range pool {
		pool[i] = Candidate{StudentID: int64(i), Embedding: randomEmbedding(r, dim)}
	}

	got := NewSelector(0.999, 4).Select(randomEmbedding(r, dim), pool)

	if got.Matched {
		t.Errorf("expected miss at threshold 0.999, got %+v", got)
	}
	if got.Candidate != nil {
		t.Error("candidate must be nil on a miss")
	}
}
