package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func encodeJPEG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := range height {
		for x := range width {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), 128, 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func faceServer(t *testing.T, resp FaceResponse, status int, seen *[]byte) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embed/face" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("missing file part: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()
		if ct := header.Header.Get("Content-Type"); ct != "image/jpeg" {
			t.Errorf("part Content-Type = %q, want image/jpeg", ct)
		}
		if seen != nil {
			*seen, _ = io.ReadAll(file)
		}

		if status != http.StatusOK {
			http.Error(w, "model not loaded", status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestClient_EmbedPicksMostConfidentFace(t *testing.T) {
	srv := faceServer(t, FaceResponse{
		FacesCount: 3,
		Model:      "buffalo_l",
		Faces: []FaceDetection{
			{FaceIndex: 0, Dim: 2, Embedding: []float32{1, 0}, DetScore: 0.71},
			{FaceIndex: 1, Dim: 2, Embedding: []float32{3, 4}, DetScore: 0.98, BBox: []float64{10, 10, 50, 60}},
			{FaceIndex: 2, Dim: 0, DetScore: 0.99},
		},
	}, http.StatusOK, nil)
	defer srv.Close()

	c := NewClient(srv.URL+"/", 0, 5*time.Second)
	face, err := c.Embed(context.Background(), encodeJPEG(t, 32, 32))
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if face.DetScore != 0.98 || face.FacesCount != 3 || face.Model != "buffalo_l" {
		t.Errorf("face = %+v", face)
	}
	if math.Abs(float64(face.Embedding[0])-0.6) > 1e-6 || math.Abs(float64(face.Embedding[1])-0.8) > 1e-6 {
		t.Errorf("embedding = %v, want unit [0.6 0.8]", face.Embedding)
	}
	if len(face.BBox) != 4 {
		t.Errorf("bbox = %v", face.BBox)
	}
}

func TestClient_EmbedNoFace(t *testing.T) {
	srv := faceServer(t, FaceResponse{FacesCount: 0}, http.StatusOK, nil)
	defer srv.Close()

	c := NewClient(srv.URL, 0, time.Second)
	_, err := c.Embed(context.Background(), encodeJPEG(t, 16, 16))
	if !errors.Is(err, ErrNoFace) {
		t.Errorf("Embed() error = %v, want ErrNoFace", err)
	}
}

func TestClient_ServerError(t *testing.T) {
	srv := faceServer(t, FaceResponse{}, http.StatusServiceUnavailable, nil)
	defer srv.Close()

	c := NewClient(srv.URL, 0, time.Second)
	_, err := c.Embed(context.Background(), encodeJPEG(t, 16, 16))
	if err == nil || errors.Is(err, ErrNoFace) {
		t.Errorf("Embed() error = %v, want API error", err)
	}
}

func TestClient_DownscalesBeforeUpload(t *testing.T) {
	var uploaded []byte
	srv := faceServer(t, FaceResponse{Faces: []FaceDetection{{Embedding: []float32{1}}}}, http.StatusOK, &uploaded)
	defer srv.Close()

	c := NewClient(srv.URL, 64, time.Second)
	if _, err := c.Embed(context.Background(), encodeJPEG(t, 256, 128)); err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(uploaded))
	if err != nil {
		t.Fatalf("uploaded data is not an image: %v", err)
	}
	if cfg.Width != 64 || cfg.Height != 32 {
		t.Errorf("uploaded %dx%d, want 64x32", cfg.Width, cfg.Height)
	}
}

func TestClient_Ping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	if err := NewClient(srv.URL, 0, time.Second).Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
	if err := NewClient(srv.URL+"/missing", 0, time.Second).Ping(context.Background()); err == nil {
		t.Error("Ping() expected error for 404")
	}
}

func TestResizeImage(t *testing.T) {
	small := encodeJPEG(t, 40, 30)
	got, err := ResizeImage(small, 100)
	if err != nil {
		t.Fatalf("ResizeImage() error = %v", err)
	}
	if !bytes.Equal(got, small) {
		t.Error("image within bounds must be returned unchanged")
	}

	tall := encodeJPEG(t, 50, 200)
	got, err = ResizeImage(tall, 100)
	if err != nil {
		t.Fatalf("ResizeImage() error = %v", err)
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(got))
	if err != nil {
		t.Fatal(err)
	}
	if format != "jpeg" || cfg.Width != 25 || cfg.Height != 100 {
		t.Errorf("resized to %s %dx%d, want jpeg 25x100", format, cfg.Width, cfg.Height)
	}

	if _, err := ResizeImage([]byte("not an image"), 100); err == nil {
		t.Error("expected decode error")
	}
	if got, err := ResizeImage([]byte("anything"), 0); err != nil || string(got) != "anything" {
		t.Errorf("maxSize 0 must disable resizing, got %q, %v", got, err)
	}
}

func TestDetectMIMEType(t *testing.T) {
	var pngBuf bytes.Buffer
	if err := png.Encode(&pngBuf, image.NewRGBA(image.Rect(0, 0, 2, 2))); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"jpeg", encodeJPEG(t, 2, 2), "image/jpeg"},
		{"png", pngBuf.Bytes(), "image/png"},
		{"gif", []byte("GIF89a\x00\x00\x00"), "image/gif"},
		{"webp", []byte("RIFF\x00\x00\x00\x00WEBPVP8 "), "image/webp"},
		{"short", []byte{0xFF, 0xD8}, "application/octet-stream"},
		{"unknown", []byte("plain text data"), "application/octet-stream"},
	}
	for _, tt := range tests {
		if got := detectMIMEType(tt.data); got != tt.want {
			t.Errorf("%s: detectMIMEType() = %q, want %q", tt.name, got, tt.want)
		}
	}
}
