package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kozaktomas/face-attendance/internal/embedder"
)

// faceEmbedder computes the embedding of the most confident face in a photo.
type faceEmbedder interface {
	Embed(ctx context.Context, imageData []byte) (*embedder.Face, error)
}

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
	".webp": true,
}

// isImageFile reports whether path has a supported photo extension.
func isImageFile(path string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(path))]
}

// isEmbeddingFile reports whether path holds a precomputed embedding.
func isEmbeddingFile(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}

// readEmbeddingFile reads a JSON embedding, either a bare array of numbers
// or an object with an "embedding" field.
func readEmbeddingFile(path string) ([]float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var bare []float32
	if err := json.Unmarshal(data, &bare); err == nil {
		if len(bare) == 0 {
			return nil, fmt.Errorf("%s: empty embedding", path)
		}
		return bare, nil
	}

	var wrapped struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if len(wrapped.Embedding) == 0 {
		return nil, fmt.Errorf("%s: no embedding field", path)
	}
	return wrapped.Embedding, nil
}

// loadEmbedding returns the embedding stored in a JSON file or computed from a photo.
func loadEmbedding(ctx context.Context, emb faceEmbedder, path string) ([]float32, error) {
	switch {
	case isEmbeddingFile(path):
		return readEmbeddingFile(path)
	case isImageFile(path):
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		face, err := emb.Embed(ctx, data)
		if err != nil {
			return nil, fmt.Errorf("embedding %s: %w", path, err)
		}
		return face.Embedding, nil
	}
	return nil, fmt.Errorf("%s: unsupported file type, want an image or a .json embedding", path)
}
