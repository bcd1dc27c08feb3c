// Package embedder is the client for the external face embedding server.
//
// The server detects faces in an uploaded photo and returns one embedding per
// face. Photos are downscaled before upload; the returned embedding of the
// most confident face is scaled to unit length.
package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/kozaktomas/face-attendance/internal/recognition"
)

const defaultURL = "http://localhost:8000"

// ErrNoFace is returned when the server finds no face in the photo.
var ErrNoFace = errors.New("no face detected")

// FaceDetection represents a single detected face
type FaceDetection struct {
	FaceIndex int       `json:"face_index"`
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	BBox      []float64 `json:"bbox"` // [x1, y1, x2, y2]
	DetScore  float64   `json:"det_score"`
}

// FaceResponse represents the response from the face embedding endpoint
type FaceResponse struct {
	FacesCount int             `json:"faces_count"`
	Faces      []FaceDetection `json:"faces"`
	Model      string          `json:"model"`
}

// Face is the embedding chosen for a photo.
type Face struct {
	Embedding  recognition.Embedding // unit length
	DetScore   float64
	BBox       []float64
	FacesCount int
	Model      string
}

// Client computes face embeddings using the embedding server
type Client struct {
	baseURL      string
	maxImageSize int
	client       *http.Client
}

// NewClient creates a new embedding client. maxImageSize bounds the longest
// photo edge sent to the server, 0 sends photos as they are.
func NewClient(baseURL string, maxImageSize int, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = defaultURL
	}
	return &Client{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		maxImageSize: maxImageSize,
		client:       &http.Client{Timeout: timeout},
	}
}

// postMultipartImage posts the image as the "file" part of a multipart form
// with a Content-Type detected from magic bytes.
func (c *Client) postMultipartImage(ctx context.Context, endpoint string, imageData []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="image.jpg"`)
	h.Set("Content-Type", detectMIMEType(imageData))
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}

	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	return body, nil
}

// ComputeFaceEmbeddings detects faces and computes their embeddings
func (c *Client) ComputeFaceEmbeddings(ctx context.Context, imageData []byte) (*FaceResponse, error) {
	data, err := ResizeImage(imageData, c.maxImageSize)
	if err != nil {
		return nil, err
	}

	body, err := c.postMultipartImage(ctx, "/embed/face", data)
	if err != nil {
		return nil, err
	}

	var faceResp FaceResponse
	if err := json.Unmarshal(body, &faceResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return &faceResp, nil
}

// Embed returns the embedding of the most confident face in the photo.
// Returns ErrNoFace when nothing usable was detected.
func (c *Client) Embed(ctx context.Context, imageData []byte) (*Face, error) {
	resp, err := c.ComputeFaceEmbeddings(ctx, imageData)
	if err != nil {
		return nil, err
	}

	best := -1
	for i, f := range resp.Faces {
		if len(f.Embedding) == 0 {
			continue
		}
		if best < 0 || f.DetScore > resp.Faces[best].DetScore {
			best = i
		}
	}
	if best < 0 {
		return nil, ErrNoFace
	}

	f := resp.Faces[best]
	return &Face{
		Embedding:  recognition.UnitNormalize(f.Embedding),
		DetScore:   f.DetScore,
		BBox:       f.BBox,
		FacesCount: len(resp.Faces),
		Model:      resp.Model,
	}, nil
}

// health is the response of the server's health endpoint.
type health struct {
	Status string `json:"status"`
}

// Ping checks that the embedding server is reachable.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("embedding server unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("embedding server unhealthy (status %d)", resp.StatusCode)
	}
	var h health
	if err := json.NewDecoder(resp.Body).Decode(&h); err == nil && h.Status != "" && h.Status != "ok" {
		return fmt.Errorf("embedding server status %q", h.Status)
	}
	return nil
}
