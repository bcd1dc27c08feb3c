package database

import (
	"errors"
	"sort"
	"sync"

	"github.com/coder/hnsw"
	"github.com/kozaktomas/face-attendance/internal/recognition"
)

// Neighbor is one approximate nearest-neighbor hit of EnrolmentIndex.
type Neighbor struct {
	EmbeddingID int64
	StudentID   int64
	Similarity  float64
}

// EnrolmentIndex wraps an HNSW graph over stored enrolment embeddings.
// It answers "who does this face already look like" at enrolment time and
// is never used for the attendance accept/reject decision.
type EnrolmentIndex struct {
	graph *hnsw.Graph[int64]
	owner map[int64]int64 // embedding ID -> student ID
	dim   int
	mu    sync.RWMutex
}

// NewEnrolmentIndex creates a new empty index.
func NewEnrolmentIndex() *EnrolmentIndex {
	return &EnrolmentIndex{
		owner: make(map[int64]int64),
	}
}

func newGraph() *hnsw.Graph[int64] {
	g := hnsw.NewGraph[int64]()
	g.M = HNSWMaxNeighbors
	g.Ml = 1.0 / float64(HNSWMaxNeighbors) // Standard HNSW formula
	g.EfSearch = HNSWEfSearch
	g.Distance = hnsw.CosineDistance
	return g
}

// Build replaces the index contents with the given embeddings.
// Empty and zero embeddings are skipped, as are embeddings whose width differs
// from the first one indexed.
func (h *EnrolmentIndex) Build(embeddings []StoredEmbedding) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.graph = nil
	h.dim = 0
	h.owner = make(map[int64]int64, len(embeddings))

	for i := range embeddings {
		h.addLocked(&embeddings[i])
	}
}

// Add indexes a single embedding.
func (h *EnrolmentIndex) Add(emb StoredEmbedding) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.addLocked(&emb)
}

func (h *EnrolmentIndex) addLocked(emb *StoredEmbedding) {
	e := recognition.Embedding(emb.Embedding)
	if len(e) == 0 || e.IsZero() {
		return
	}
	if h.graph == nil {
		h.graph = newGraph()
		h.dim = len(e)
	}
	if len(e) != h.dim {
		return
	}

	h.graph.Add(hnsw.MakeNode(emb.ID, []float32(e)))
	h.owner[emb.ID] = emb.StudentID
}

// RemoveStudent drops all embeddings of a student from search results.
func (h *EnrolmentIndex) RemoveStudent(studentID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	// HNSW deletion is unreliable for small graphs; removing the owner entry
	// hides the node from Nearest instead.
	for id, owner := range h.owner {
		if owner == studentID {
			delete(h.owner, id)
		}
	}
}

// Nearest returns up to k embeddings most similar to query, best first,
// with the exact cosine similarity of each hit.
func (h *EnrolmentIndex) Nearest(query []float32, k int) ([]Neighbor, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if k <= 0 {
		return nil, nil
	}
	if h.graph == nil {
		return nil, errors.New("index not initialized")
	}
	if len(query) != h.dim {
		return nil, nil
	}

	nodes := h.graph.Search(query, k*HNSWSearchMultiplier)

	neighbors := make([]Neighbor, 0, k)
	for _, n := range nodes {
		owner, ok := h.owner[n.Key]
		if !ok {
			continue
		}
		neighbors = append(neighbors, Neighbor{
			EmbeddingID: n.Key,
			StudentID:   owner,
			Similarity:  recognition.CosineSimilarity(query, recognition.Embedding(n.Value)),
		})
	}

	sort.SliceStable(neighbors, func(i, j int) bool {
		return neighbors[i].Similarity > neighbors[j].Similarity
	})
	if len(neighbors) > k {
		neighbors = neighbors[:k]
	}
	return neighbors, nil
}

// Count returns the number of searchable embeddings.
func (h *EnrolmentIndex) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.owner)
}

// IsEmpty returns true if nothing has been indexed.
func (h *EnrolmentIndex) IsEmpty() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.graph == nil
}
