package web

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/database/mock"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.Defaults()
	opts := attendance.Options{
		Dim:       3,
		Threshold: 0.5,
		Location:  time.UTC,
		MarkedBy:  "face_recognition",
	}
	return NewServer(cfg, opts, nil, "test")
}

func registerMockBackend(t *testing.T) *mock.MockStudentRepository {
	t.Helper()
	students := mock.NewMockStudentRepository()
	records := mock.NewMockAttendanceRepository(students)
	database.RegisterBackend("mock",
		func() database.StudentWriter { return students },
		func() database.AttendanceWriter { return records },
		nil,
	)
	t.Cleanup(func() { database.Close() })
	return students
}

func TestServer_Routes(t *testing.T) {
	students := registerMockBackend(t)
	students.AddStudent("Alice", "R1", []float32{1, 0, 0})
	router := newTestServer(t).Router()

	tests := []struct {
		method     string
		path       string
		body       string
		wantStatus int
	}{
		{"GET", "/api/v1/health", "", http.StatusOK},
		{"POST", "/api/v1/recognize", `{"embedding":[1,0,0]}`, http.StatusOK},
		{"POST", "/api/v1/attendance/recognize", `{"embedding":[1,0,0]}`, http.StatusOK},
		{"POST", "/api/v1/attendance/mark", `{"student_id":1,"action":"OUT"}`, http.StatusOK},
		{"GET", "/api/v1/attendance", "", http.StatusOK},
		{"GET", "/api/v1/attendance/today", "", http.StatusOK},
		{"GET", "/api/v1/students", "", http.StatusOK},
		{"GET", "/api/v1/students/1/similar", "", http.StatusOK},
		{"POST", "/api/v1/students/1/embeddings", `{"embeddings":[[1,0.1,0]]}`, http.StatusOK},
		{"DELETE", "/api/v1/students/99", "", http.StatusNotFound},
		{"GET", "/api/v1/unknown", "", http.StatusNotFound},
		{"PUT", "/api/v1/students", "", http.StatusMethodNotAllowed},
	}

	for _, tc := range tests {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, bytes.NewBufferString(tc.body))
			if tc.body != "" {
				req.Header.Set("Content-Type", "application/json")
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			if rec.Code != tc.wantStatus {
				t.Errorf("expected status %d, got %d: %s", tc.wantStatus, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestServer_EnrolThenRecognize(t *testing.T) {
	registerMockBackend(t)
	router := newTestServer(t).Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/students",
		bytes.NewBufferString(`{"name":"Bob","roll_number":"R2","embeddings":[[0,2,0]]}`)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("enrol: expected status %d, got %d: %s", http.StatusCreated, rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/attendance/recognize",
		bytes.NewBufferString(`{"embedding":[0.1,0.9,0]}`)))

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if resp["success"] != true || resp["reason"] != "entry_marked" {
		t.Errorf("unexpected response: %v", resp)
	}
}

func TestServer_NoDatabase(t *testing.T) {
	database.Close()
	router := newTestServer(t).Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/students", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status %d, got %d", http.StatusServiceUnavailable, rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("health must stay reachable, got %d", rec.Code)
	}
}

func TestServer_CORSHeaders(t *testing.T) {
	router := newTestServer(t).Router()

	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}
