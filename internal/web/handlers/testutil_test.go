package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/database/mock"
	"github.com/kozaktomas/face-attendance/internal/embedder"
)

// testMorning is the fixed clock used by handler tests
var testMorning = time.Date(2026, 3, 2, 8, 15, 0, 0, time.UTC)

// testOptions returns service options with a small embedding width and a fixed clock
func testOptions() attendance.Options {
	return attendance.Options{
		Dim:       3,
		Threshold: 0.6,
		Workers:   1,
		Location:  time.UTC,
		MarkedBy:  "face_recognition",
		Clock:     attendance.ClockFunc(func() time.Time { return testMorning }),
	}
}

// mockBackend holds the in-memory repositories registered for a test
type mockBackend struct {
	students *mock.MockStudentRepository
	records  *mock.MockAttendanceRepository
}

// setupMockBackend registers in-memory repositories as the database backend
func setupMockBackend(t *testing.T) *mockBackend {
	t.Helper()
	students := mock.NewMockStudentRepository()
	records := mock.NewMockAttendanceRepository(students)
	database.RegisterBackend("mock",
		func() database.StudentWriter { return students },
		func() database.AttendanceWriter { return records },
		nil,
	)
	t.Cleanup(func() { database.Close() })
	return &mockBackend{students: students, records: records}
}

// fakeEmbedder returns a fixed face or error
type fakeEmbedder struct {
	face *embedder.Face
	err  error
	seen []byte
}

func (f *fakeEmbedder) Embed(ctx context.Context, imageData []byte) (*embedder.Face, error) {
	f.seen = imageData
	if f.err != nil {
		return nil, f.err
	}
	return f.face, nil
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// jsonRequest creates a request with a JSON encoded body
func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to marshal body: %v", err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// photoRequest creates a multipart upload with data in the "file" part
func photoRequest(t *testing.T, path string, data []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", "face.jpg")
	if err != nil {
		t.Fatal(err)
	}
	part.Write(data)
	writer.Close()

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

// decodeResponse unmarshals the recorded response body into dst
func decodeResponse(t *testing.T, recorder *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), dst); err != nil {
		t.Fatalf("failed to unmarshal response %q: %v", recorder.Body.String(), err)
	}
}
