package attendance

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/database/mock"
	"github.com/kozaktomas/face-attendance/internal/events"
	"github.com/kozaktomas/face-attendance/internal/recognition"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) last() events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events[len(p.events)-1]
}

type serviceFixture struct {
	svc       *Service
	students  *mock.MockStudentRepository
	records   *mock.MockAttendanceRepository
	publisher *recordingPublisher
	clock     *fakeClock
}

func newServiceFixture(t *testing.T, dim int, threshold float64) *serviceFixture {
	t.Helper()
	students := mock.NewMockStudentRepository()
	records := mock.NewMockAttendanceRepository(students)
	publisher := &recordingPublisher{}
	clock := &fakeClock{now: morning}
	svc := NewService(students, records, Options{
		Dim:       dim,
		Threshold: threshold,
		Workers:   2,
		Location:  time.UTC,
		MarkedBy:  "face_recognition",
		Publisher: publisher,
		Clock:     clock,
	})
	return &serviceFixture{svc: svc, students: students, records: records, publisher: publisher, clock: clock}
}

func TestService_EndToEndScenario(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, 3, 0.6)

	a := []float32{1, 0, 0}
	b := []float32{0, 1, 0}
	idA := f.students.AddStudent("Alice", "R001", a)
	f.students.AddStudent("Bob", "R002", b)

	// Unit probe with similarity 0.95 to A and 0.1 to B.
	probe := []float32{0.95, 0.1, float32(math.Sqrt(1 - 0.95*0.95 - 0.1*0.1))}

	got, err := f.svc.RecognizeAndMark(ctx, probe)
	if err != nil {
		t.Fatalf("RecognizeAndMark() error = %v", err)
	}
	if !got.Match.Matched || got.Match.Candidate.StudentID != idA {
		t.Fatalf("match = %+v, want student %d", got.Match, idA)
	}
	if math.Abs(got.Match.Confidence-0.95) > 1e-4 {
		t.Errorf("confidence = %v, want 0.95", got.Match.Confidence)
	}
	if got.AttemptID == "" {
		t.Error("expected attempt ID")
	}
	if got.Attendance == nil || got.Attendance.Reason != ReasonEntryMarked || got.Attendance.State != StateInOnly {
		t.Fatalf("attendance = %+v, want entry_marked/in_only", got.Attendance)
	}

	rec, _ := f.records.GetRecord(ctx, idA, "2026-03-02")
	if rec == nil || rec.TimeIn == nil || rec.TimeOut != nil {
		t.Errorf("stored record = %+v, want entry only", rec)
	}

	e := f.publisher.last()
	if e.Type != events.TypeAttendanceMarked || e.StudentID != idA || e.AttemptID != got.AttemptID {
		t.Errorf("event = %+v", e)
	}
	if e.Name != "Alice" || e.RollNumber != "R001" || e.Date != "2026-03-02" {
		t.Errorf("event student data = %+v", e)
	}
}

func TestService_RecognizeAndMark_Miss(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, 3, 0.6)
	f.students.AddStudent("Alice", "R001", []float32{1, 0, 0})

	got, err := f.svc.RecognizeAndMark(ctx, []float32{0.5, 0.8660254, 0})
	if err != nil {
		t.Fatalf("RecognizeAndMark() error = %v", err)
	}
	if got.Match.Matched || got.Attendance != nil {
		t.Errorf("result = %+v, want a miss without attendance", got)
	}
	if math.Abs(got.Match.Confidence-0.5) > 1e-4 {
		t.Errorf("confidence = %v, want closest miss 0.5", got.Match.Confidence)
	}
	if n := len(f.records.Records()); n != 0 {
		t.Errorf("stored %d records, want 0", n)
	}
	if e := f.publisher.last(); e.Type != events.TypeRecognitionMiss {
		t.Errorf("event type = %q", e.Type)
	}
}

func TestService_RecognizeAndMark_FullDay(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, 3, 0.5)
	f.students.AddStudent("Alice", "R001", []float32{1, 0, 0})
	probe := []float32{1, 0.05, 0}

	want := []Reason{ReasonEntryMarked, ReasonExitMarked, ReasonAlreadyComplete}
	for i, reason := range want {
		got, err := f.svc.RecognizeAndMark(ctx, probe)
		if err != nil {
			t.Fatalf("attempt %d: error = %v", i+1, err)
		}
		if got.Attendance.Reason != reason {
			t.Errorf("attempt %d: reason = %q, want %q", i+1, got.Attendance.Reason, reason)
		}
		f.clock.Advance(time.Hour)
	}
	if e := f.publisher.last(); e.Type != events.TypeAttendanceRejected || e.Reason != string(ReasonAlreadyComplete) {
		t.Errorf("last event = %+v", e)
	}
}

func TestService_ProbeAndPoolAreNormalized(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, 4, 0.9)

	// Stored embedding is shorter than the configured width, probe is longer.
	id := f.students.AddStudent("Alice", "R001", []float32{0, 2, 0})
	got, err := f.svc.Recognize(ctx, []float32{0, 1, 0, 0, 9, 9})
	if err != nil {
		t.Fatalf("Recognize() error = %v", err)
	}
	if !got.Matched || got.Candidate.StudentID != id {
		t.Errorf("Recognize() = %+v, want student %d", got, id)
	}
	if len(got.Candidate.Embedding) != 4 {
		t.Errorf("candidate embedding length = %d, want 4", len(got.Candidate.Embedding))
	}
}

func TestService_EmptyPoolAndZeroProbe(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, 3, 0.5)

	got, err := f.svc.Recognize(ctx, []float32{1, 0, 0})
	if err != nil {
		t.Fatalf("Recognize() error = %v", err)
	}
	if got.Matched || got.Confidence != 0 {
		t.Errorf("empty pool = %+v", got)
	}

	f.students.AddStudent("Alice", "R001", []float32{1, 0, 0})
	got, err = f.svc.Recognize(ctx, nil)
	if err != nil {
		t.Fatalf("Recognize() error = %v", err)
	}
	if got.Matched || got.Confidence != 0 {
		t.Errorf("nil probe = %+v", got)
	}
}

func TestService_DeactivatedStudentLeavesPool(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, 3, 0.5)
	id := f.students.AddStudent("Alice", "R001", []float32{1, 0, 0})

	if err := f.svc.RemoveStudent(ctx, id); err != nil {
		t.Fatalf("RemoveStudent() error = %v", err)
	}
	got, err := f.svc.Recognize(ctx, []float32{1, 0, 0})
	if err != nil {
		t.Fatalf("Recognize() error = %v", err)
	}
	if got.Matched {
		t.Errorf("deactivated student matched: %+v", got)
	}

	if err := f.svc.RemoveStudent(ctx, 999); !errors.Is(err, ErrStudentNotFound) {
		t.Errorf("RemoveStudent(unknown) error = %v, want ErrStudentNotFound", err)
	}
}

func TestService_PoolErrorIsHardFailure(t *testing.T) {
	f := newServiceFixture(t, 3, 0.5)
	storeErr := errors.New("connection reset")
	f.students.ListCandidatesError = storeErr

	if _, err := f.svc.RecognizeAndMark(context.Background(), []float32{1, 0, 0}); !errors.Is(err, storeErr) {
		t.Errorf("RecognizeAndMark() error = %v, want %v", err, storeErr)
	}
}

func TestService_PublishFailureDoesNotFailMark(t *testing.T) {
	f := newServiceFixture(t, 3, 0.5)
	f.publisher.err = errors.New("broker down")
	f.students.AddStudent("Alice", "R001", []float32{1, 0, 0})

	got, err := f.svc.RecognizeAndMark(context.Background(), []float32{1, 0, 0})
	if err != nil {
		t.Fatalf("RecognizeAndMark() error = %v", err)
	}
	if !got.Attendance.Success {
		t.Errorf("attendance = %+v", got.Attendance)
	}
}

func TestService_MarkManual(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, 3, 0.5)
	id := f.students.AddStudent("Alice", "R001")

	got, err := f.svc.MarkManual(ctx, id, ActionOut)
	if err != nil {
		t.Fatalf("MarkManual() error = %v", err)
	}
	if got.Reason != ReasonExitBeforeEntry {
		t.Errorf("OUT first = %q, want exit_before_entry", got.Reason)
	}

	got, err = f.svc.MarkManual(ctx, id, ActionIn)
	if err != nil {
		t.Fatalf("MarkManual() error = %v", err)
	}
	if !got.Success || got.Record.MarkedBy != MarkedByManual {
		t.Errorf("IN = %+v, want success marked by %q", got, MarkedByManual)
	}
	if e := f.publisher.last(); e.Type != events.TypeAttendanceMarked || e.StudentID != id {
		t.Errorf("event = %+v", e)
	}
}

func TestService_Enroll(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, 3, 0.5)

	res, err := f.svc.Enroll(ctx, EnrollRequest{
		Name:       "Alice",
		RollNumber: "R001",
		Email:      "alice@example.com",
		Embeddings: [][]float32{{3, 4, 0}, {0, 0, 2}},
	})
	if err != nil {
		t.Fatalf("Enroll() error = %v", err)
	}
	if res.Student.ID == 0 || res.Student.EmbeddingCount != 2 {
		t.Errorf("student = %+v", res.Student)
	}
	if len(res.LookAlikes) != 0 {
		t.Errorf("look-alikes = %+v, want none in an empty pool", res.LookAlikes)
	}

	stored, _ := f.students.ListEmbeddings(ctx)
	if len(stored) != 2 {
		t.Fatalf("stored %d embeddings, want 2", len(stored))
	}
	for _, e := range stored {
		if n := recognition.Embedding(e.Embedding).Norm(); math.Abs(n-1) > 1e-6 {
			t.Errorf("stored embedding norm = %v, want 1", n)
		}
	}
	if e := stored[0].Embedding; math.Abs(float64(e[0])-0.6) > 1e-6 || math.Abs(float64(e[1])-0.8) > 1e-6 {
		t.Errorf("first embedding = %v, want [0.6 0.8 0]", e)
	}
}

func TestService_EnrollCleansIdentity(t *testing.T) {
	f := newServiceFixture(t, 3, 0.5)

	res, err := f.svc.Enroll(context.Background(), EnrollRequest{
		Name:       "  Bob Marsh ",
		RollNumber: " cs-042 ",
		Email:      " bob@example.com",
		Embeddings: [][]float32{{1, 0, 0}},
	})
	if err != nil {
		t.Fatalf("Enroll() error = %v", err)
	}
	if res.Student.Name != "Bob Marsh" || res.Student.RollNumber != "CS-042" || res.Student.Email != "bob@example.com" {
		t.Errorf("student = %+v", res.Student)
	}

	_, err = f.svc.Enroll(context.Background(), EnrollRequest{Name: "Bobby", RollNumber: "Cs-042", Embeddings: [][]float32{{0, 1, 0}}})
	if !errors.Is(err, ErrStudentExists) {
		t.Errorf("Enroll() error = %v, want ErrStudentExists for a roll number differing only in case", err)
	}
}

func TestService_EnrollErrors(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		req     EnrollRequest
		wantErr error
		quality bool
	}{
		{
			name:    "duplicate roll number",
			req:     EnrollRequest{Name: "Alicia", RollNumber: "R001", Embeddings: [][]float32{{0, 1, 0}}},
			wantErr: ErrStudentExists,
		},
		{
			name:    "no embeddings",
			req:     EnrollRequest{Name: "Carol", RollNumber: "R003"},
			wantErr: ErrNoEmbeddings,
		},
		{
			name:    "zero embedding",
			req:     EnrollRequest{Name: "Carol", RollNumber: "R003", Embeddings: [][]float32{{0, 0, 0}}},
			quality: true,
		},
		{
			name:    "NaN embedding",
			req:     EnrollRequest{Name: "Carol", RollNumber: "R003", Embeddings: [][]float32{{1, float32(math.NaN()), 0}}},
			quality: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newServiceFixture(t, 3, 0.5)
			f.students.AddStudent("Alice", "R001", []float32{1, 0, 0})

			_, err := f.svc.Enroll(ctx, tt.req)
			if err == nil {
				t.Fatal("Enroll() expected error")
			}
			if tt.quality {
				var qe *recognition.QualityError
				if !errors.As(err, &qe) {
					t.Errorf("error = %v, want QualityError", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestService_EnrollReportsLookAlikes(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, 3, 0.5)
	alice := f.students.AddStudent("Alice", "R001", []float32{1, 0, 0})
	f.students.AddStudent("Bob", "R002", []float32{0, 1, 0})

	res, err := f.svc.Enroll(ctx, EnrollRequest{
		Name:       "Alicia",
		RollNumber: "R003",
		Embeddings: [][]float32{{0.99, 0.1, 0}},
	})
	if err != nil {
		t.Fatalf("Enroll() error = %v", err)
	}
	if len(res.LookAlikes) != 1 || res.LookAlikes[0].StudentID != alice {
		t.Fatalf("look-alikes = %+v, want Alice only", res.LookAlikes)
	}
	if res.LookAlikes[0].Name != "Alice" || res.LookAlikes[0].Similarity <= 0.5 {
		t.Errorf("look-alike = %+v", res.LookAlikes[0])
	}
}

func TestService_AddEmbeddings(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, 3, 0.5)
	id := f.students.AddStudent("Alice", "R001", []float32{1, 0, 0})

	n, err := f.svc.AddEmbeddings(ctx, id, [][]float32{{0, 5, 0}})
	if err != nil || n != 1 {
		t.Fatalf("AddEmbeddings() = %d, %v", n, err)
	}
	stored, _ := f.students.ListEmbeddings(ctx)
	if len(stored) != 2 || stored[1].PhotoNumber != 2 {
		t.Errorf("stored = %+v, want 2 embeddings numbered 1 and 2", stored)
	}

	if _, err := f.svc.AddEmbeddings(ctx, 999, [][]float32{{0, 1, 0}}); !errors.Is(err, ErrStudentNotFound) {
		t.Errorf("AddEmbeddings(unknown) error = %v, want ErrStudentNotFound", err)
	}
}

func TestService_Similar(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, 3, 0.5)
	alice := f.students.AddStudent("Alice", "R001", []float32{1, 0, 0})
	bob := f.students.AddStudent("Bob", "R002", []float32{0.9, 0.1, 0})
	f.students.AddStudent("Carol", "R003", []float32{0, 0, 1})
	dave := f.students.AddStudent("Dave", "R004", []float32{0.5, 0.5, 0})

	got, err := f.svc.Similar(ctx, alice, 5)
	if err != nil {
		t.Fatalf("Similar() error = %v", err)
	}
	if len(got) != 2 || got[0].StudentID != bob || got[1].StudentID != dave {
		t.Fatalf("Similar() = %+v, want Bob then Dave", got)
	}
	for _, s := range got {
		if s.StudentID == alice {
			t.Error("Similar() must not return the student itself")
		}
	}

	got, err = f.svc.Similar(ctx, alice, 1)
	if err != nil || len(got) != 1 {
		t.Errorf("Similar(limit 1) = %+v, %v", got, err)
	}

	if _, err := f.svc.Similar(ctx, 999, 5); !errors.Is(err, ErrStudentNotFound) {
		t.Errorf("Similar(unknown) error = %v", err)
	}
}

func TestService_RecordsDefaultRange(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, 3, 0.5)
	id := f.students.AddStudent("Alice", "R001")

	in := morning
	f.records.PutRecord(database.AttendanceRecord{StudentID: id, Date: "2026-03-02", TimeIn: &in})
	f.records.PutRecord(database.AttendanceRecord{StudentID: id, Date: "2026-02-20", TimeIn: &in})
	f.records.PutRecord(database.AttendanceRecord{StudentID: id, Date: "2026-01-10", TimeIn: &in})

	got, err := f.svc.Records(ctx, database.RecordFilter{})
	if err != nil {
		t.Fatalf("Records() error = %v", err)
	}
	if len(got) != 2 || got[0].Date != "2026-03-02" || got[1].Date != "2026-02-20" {
		t.Errorf("Records() = %+v, want the last 30 days newest first", got)
	}
	if got[0].StudentName != "Alice" {
		t.Errorf("student name = %q", got[0].StudentName)
	}

	got, err = f.svc.Records(ctx, database.RecordFilter{From: "2026-01-01", To: "2026-01-31"})
	if err != nil || len(got) != 1 {
		t.Errorf("Records(january) = %+v, %v", got, err)
	}
}

func TestService_TodayStats(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, 3, 0.5)
	alice := f.students.AddStudent("Alice", "R001")
	bob := f.students.AddStudent("Bob", "R002")
	f.students.AddStudent("Carol", "R003")

	if _, err := f.svc.MarkManual(ctx, alice, ActionAuto); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.MarkManual(ctx, bob, ActionAuto); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.MarkManual(ctx, bob, ActionAuto); err != nil {
		t.Fatal(err)
	}

	got, err := f.svc.TodayStats(ctx)
	if err != nil {
		t.Fatalf("TodayStats() error = %v", err)
	}
	if got.Date != "2026-03-02" || got.TotalStudents != 3 || got.Present != 2 || got.Complete != 1 || got.Absent != 1 {
		t.Errorf("TodayStats() = %+v", got)
	}
	if math.Abs(got.AttendanceRate-200.0/3) > 1e-9 {
		t.Errorf("rate = %v", got.AttendanceRate)
	}
}

func TestService_Search(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, 3, 0.5)
	f.students.AddStudent("Zoë Novák", "R001")
	f.students.AddStudent("Bob", "R002")

	got, err := f.svc.Search(ctx, "novak")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(got) != 1 || got[0].RollNumber != "R001" {
		t.Errorf("Search(novak) = %+v", got)
	}
}
