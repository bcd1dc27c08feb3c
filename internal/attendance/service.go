package attendance

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/events"
	"github.com/kozaktomas/face-attendance/internal/recognition"
	log "github.com/sirupsen/logrus"
)

// MarkedByManual is stored on records created through MarkManual.
const MarkedByManual = "manual"

// neighborsPerQuery is how many index hits each look-alike query inspects.
const neighborsPerQuery = 10

var (
	// ErrStudentExists is returned when enrolling a roll number or email that is taken.
	ErrStudentExists = errors.New("student already exists")
	// ErrStudentNotFound is returned when a student addressed by ID does not exist.
	ErrStudentNotFound = errors.New("student not found")
	// ErrNoEmbeddings is returned when enrolment receives no embeddings.
	ErrNoEmbeddings = errors.New("at least one embedding is required")
	// ErrMissingIdentity is returned when enrolment lacks a name or roll number.
	ErrMissingIdentity = errors.New("name and roll number are required")
)

// Options configures a Service.
type Options struct {
	Dim       int     // embedding width, DefaultDim when 0
	Threshold float64 // acceptance threshold
	Workers   int     // parallel scan workers
	Location  *time.Location
	MarkedBy  string           // source label for recognition marks
	Publisher events.Publisher // optional
	Clock     Clock            // optional, system clock when nil
}

// Service runs recognition attempts and the attendance bookkeeping around them.
type Service struct {
	students  database.StudentWriter
	records   database.AttendanceWriter
	machine   *Machine
	selector  recognition.Selector
	dim       int
	publisher events.Publisher
}

// NewService creates a service over the given repositories.
func NewService(students database.StudentWriter, records database.AttendanceWriter, opts Options) *Service {
	dim := opts.Dim
	if dim <= 0 {
		dim = recognition.DefaultDim
	}
	publisher := opts.Publisher
	if publisher == nil {
		publisher = events.Noop{}
	}

	machine := NewMachine(students, records, opts.Location, opts.MarkedBy)
	if opts.Clock != nil {
		machine.Clock = opts.Clock
	}

	return &Service{
		students:  students,
		records:   records,
		machine:   machine,
		selector:  recognition.NewSelector(opts.Threshold, opts.Workers),
		dim:       dim,
		publisher: publisher,
	}
}

// Dim returns the embedding width the service normalizes to.
func (s *Service) Dim() int { return s.dim }

// Threshold returns the acceptance threshold.
func (s *Service) Threshold() float64 { return s.selector.Threshold }

// RecognitionOutcome is the result of one recognize-and-mark attempt.
type RecognitionOutcome struct {
	AttemptID string
	Match     recognition.MatchResult
	// Attendance is nil when no student was matched.
	Attendance *Outcome
}

// pool loads the candidate pool and normalizes every embedding to the service dimension.
func (s *Service) pool(ctx context.Context) ([]recognition.Candidate, error) {
	candidates, err := s.students.ListCandidates(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading candidate pool: %w", err)
	}
	for i := range candidates {
		candidates[i].Embedding = recognition.Normalize(candidates[i].Embedding, s.dim)
	}
	return candidates, nil
}

// Recognize matches raw against a freshly loaded pool without touching attendance.
func (s *Service) Recognize(ctx context.Context, raw []float32) (recognition.MatchResult, error) {
	pool, err := s.pool(ctx)
	if err != nil {
		return recognition.MatchResult{}, err
	}
	probe := recognition.Normalize(raw, s.dim)
	return s.selector.Select(probe, pool), nil
}

// RecognizeAndMark matches raw against the pool and, on a match, marks
// attendance for the matched student in AUTO mode.
func (s *Service) RecognizeAndMark(ctx context.Context, raw []float32) (*RecognitionOutcome, error) {
	attemptID := uuid.New().String()
	logger := log.WithField("attempt_id", attemptID)

	match, err := s.Recognize(ctx, raw)
	if err != nil {
		return nil, err
	}

	result := &RecognitionOutcome{AttemptID: attemptID, Match: match}
	if !match.Matched {
		logger.WithField("confidence", match.Confidence).Info("Face not recognized")
		s.publish(ctx, events.Event{
			Type:       events.TypeRecognitionMiss,
			AttemptID:  attemptID,
			Confidence: match.Confidence,
		})
		return result, nil
	}

	candidate := match.Candidate
	logger = logger.WithFields(log.Fields{
		"student_id": candidate.StudentID,
		"confidence": match.Confidence,
	})

	outcome, err := s.machine.Mark(ctx, candidate.StudentID, ActionAuto)
	if err != nil {
		logger.WithError(err).Error("Failed to mark attendance")
		return nil, err
	}
	result.Attendance = outcome

	logger.WithField("reason", outcome.Reason).Info(outcome.Message)
	s.publishOutcome(ctx, attemptID, candidate, match.Confidence, outcome)
	return result, nil
}

// MarkManual marks attendance for a student chosen by an operator.
func (s *Service) MarkManual(ctx context.Context, studentID int64, action Action) (*Outcome, error) {
	outcome, err := s.machine.MarkBy(ctx, studentID, action, MarkedByManual)
	if err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{
		"student_id": studentID,
		"action":     action,
		"reason":     outcome.Reason,
	}).Info("Manual attendance mark")

	var candidate *recognition.Candidate
	if outcome.Reason != ReasonStudentNotFound {
		candidate = &recognition.Candidate{StudentID: studentID}
	}
	s.publishOutcome(ctx, "", candidate, 0, outcome)
	return outcome, nil
}

func (s *Service) publishOutcome(ctx context.Context, attemptID string, c *recognition.Candidate, confidence float64, outcome *Outcome) {
	event := events.Event{
		Type:       events.TypeAttendanceRejected,
		AttemptID:  attemptID,
		Reason:     string(outcome.Reason),
		Message:    outcome.Message,
		State:      string(outcome.State),
		Confidence: confidence,
	}
	if outcome.Success {
		event.Type = events.TypeAttendanceMarked
	}
	if c != nil {
		event.StudentID = c.StudentID
		event.Name = c.Name
		event.RollNumber = c.RollNumber
	}
	if outcome.Record != nil {
		event.Date = outcome.Record.Date
	}
	s.publish(ctx, event)
}

// publish delivers an event. Failures are logged, never returned: the
// attendance record is already written.
func (s *Service) publish(ctx context.Context, event events.Event) {
	event.Time = s.machine.now()
	if err := s.publisher.Publish(ctx, event); err != nil {
		log.WithError(err).WithField("type", event.Type).Warn("Failed to publish event")
	}
}

// EnrollRequest describes a new student and their face embeddings.
type EnrollRequest struct {
	Name       string
	RollNumber string
	Email      string
	Phone      string
	Course     string
	Embeddings [][]float32
}

// SimilarStudent is an enrolled student whose face resembles a query.
type SimilarStudent struct {
	StudentID  int64   `json:"student_id"`
	Name       string  `json:"name"`
	RollNumber string  `json:"roll_number"`
	Similarity float64 `json:"similarity"`
}

// EnrollResult is the created student plus students the new face already resembles.
type EnrollResult struct {
	Student    *database.Student
	LookAlikes []SimilarStudent
}

// prepare normalizes and quality-checks enrolment embeddings, returning them unit length.
func (s *Service) prepare(raw [][]float32) ([][]float32, error) {
	if len(raw) == 0 {
		return nil, ErrNoEmbeddings
	}
	out := make([][]float32, len(raw))
	for i, r := range raw {
		e := recognition.Normalize(r, s.dim)
		if err := recognition.Validate(e, s.dim); err != nil {
			return nil, fmt.Errorf("embedding %d: %w", i+1, err)
		}
		out[i] = recognition.UnitNormalize(e)
	}
	return out, nil
}

// Enroll creates a student with one or more face embeddings. Roll numbers are
// stored upper-case.
func (s *Service) Enroll(ctx context.Context, req EnrollRequest) (*EnrollResult, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.RollNumber = strings.ToUpper(strings.TrimSpace(req.RollNumber))
	req.Email = strings.TrimSpace(req.Email)
	if req.Name == "" || req.RollNumber == "" {
		return nil, ErrMissingIdentity
	}
	embeddings, err := s.prepare(req.Embeddings)
	if err != nil {
		return nil, err
	}

	lookAlikes, err := s.lookAlikes(ctx, embeddings, 0, s.selector.Threshold)
	if err != nil {
		log.WithError(err).Warn("Skipping look-alike check")
	}

	student := &database.Student{
		Name:       req.Name,
		RollNumber: req.RollNumber,
		Email:      req.Email,
		Phone:      req.Phone,
		Course:     req.Course,
	}
	id, err := s.students.CreateStudent(ctx, student)
	if errors.Is(err, database.ErrDuplicate) {
		return nil, fmt.Errorf("roll number %q or email %q: %w", req.RollNumber, req.Email, ErrStudentExists)
	}
	if err != nil {
		return nil, fmt.Errorf("creating student: %w", err)
	}
	if err := s.students.AddEmbeddings(ctx, id, embeddings); err != nil {
		return nil, fmt.Errorf("storing embeddings for student %d: %w", id, err)
	}
	student.EmbeddingCount = len(embeddings)

	logger := log.WithFields(log.Fields{
		"student_id": id,
		"embeddings": len(embeddings),
	})
	for _, la := range lookAlikes {
		logger.WithFields(log.Fields{
			"similar_student_id": la.StudentID,
			"similarity":         la.Similarity,
		}).Warn("New student resembles an enrolled student")
	}
	logger.Info("Student enrolled")

	return &EnrollResult{Student: student, LookAlikes: lookAlikes}, nil
}

// AddEmbeddings appends embeddings to an existing student and returns how many were stored.
func (s *Service) AddEmbeddings(ctx context.Context, studentID int64, raw [][]float32) (int, error) {
	embeddings, err := s.prepare(raw)
	if err != nil {
		return 0, err
	}
	err = s.students.AddEmbeddings(ctx, studentID, embeddings)
	if errors.Is(err, database.ErrNotFound) {
		return 0, fmt.Errorf("student %d: %w", studentID, ErrStudentNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("storing embeddings for student %d: %w", studentID, err)
	}
	log.WithFields(log.Fields{
		"student_id": studentID,
		"embeddings": len(embeddings),
	}).Info("Embeddings added")
	return len(embeddings), nil
}

// RemoveStudent deactivates a student. Its embeddings leave the pool immediately.
func (s *Service) RemoveStudent(ctx context.Context, studentID int64) error {
	err := s.students.DeactivateStudent(ctx, studentID)
	if errors.Is(err, database.ErrNotFound) {
		return fmt.Errorf("student %d: %w", studentID, ErrStudentNotFound)
	}
	if err != nil {
		return fmt.Errorf("deactivating student %d: %w", studentID, err)
	}
	log.WithField("student_id", studentID).Info("Student deactivated")
	return nil
}

// Students lists enrolled students.
func (s *Service) Students(ctx context.Context, includeInactive bool) ([]database.Student, error) {
	return s.students.ListStudents(ctx, includeInactive)
}

// Search finds active students by name or roll number.
func (s *Service) Search(ctx context.Context, query string) ([]database.Student, error) {
	return s.students.FindStudents(ctx, query)
}

// Records lists attendance records. Without a range the last DefaultRecordDays
// days up to today are returned.
func (s *Service) Records(ctx context.Context, filter database.RecordFilter) ([]database.AttendanceRecord, error) {
	if filter.From == "" && filter.To == "" {
		now := s.machine.now()
		filter.To = now.Format(database.DateLayout)
		filter.From = now.AddDate(0, 0, -database.DefaultRecordDays).Format(database.DateLayout)
	}
	return s.records.ListRecords(ctx, filter)
}

// TodayStats summarizes today's attendance over active students.
func (s *Service) TodayStats(ctx context.Context) (database.TodayStats, error) {
	date := s.machine.Today()
	total, err := s.students.CountActive(ctx)
	if err != nil {
		return database.TodayStats{}, fmt.Errorf("counting students: %w", err)
	}
	present, complete, err := s.records.CountPresent(ctx, date)
	if err != nil {
		return database.TodayStats{}, fmt.Errorf("counting attendance: %w", err)
	}
	return database.NewTodayStats(date, total, present, complete), nil
}

// Similar returns up to limit other students whose enrolment faces are closest
// to the given student's.
func (s *Service) Similar(ctx context.Context, studentID int64, limit int) ([]SimilarStudent, error) {
	all, err := s.students.ListEmbeddings(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading embeddings: %w", err)
	}
	var own [][]float32
	for _, e := range all {
		if e.StudentID == studentID {
			own = append(own, e.Embedding)
		}
	}
	if len(own) == 0 {
		return nil, fmt.Errorf("student %d has no active embeddings: %w", studentID, ErrStudentNotFound)
	}

	similar, err := s.nearestStudents(ctx, all, own, studentID, 0)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(similar) > limit {
		similar = similar[:limit]
	}
	return similar, nil
}

// lookAlikes returns enrolled students other than exclude that any of the
// embeddings resembles above minSimilarity.
func (s *Service) lookAlikes(ctx context.Context, embeddings [][]float32, exclude int64, minSimilarity float64) ([]SimilarStudent, error) {
	all, err := s.students.ListEmbeddings(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading embeddings: %w", err)
	}
	if len(all) == 0 {
		return nil, nil
	}
	return s.nearestStudents(ctx, all, embeddings, exclude, minSimilarity)
}

// nearestStudents indexes all and queries it with every embedding, keeping
// each student's best similarity. Results are sorted best first.
func (s *Service) nearestStudents(ctx context.Context, all []database.StoredEmbedding, queries [][]float32, exclude int64, minSimilarity float64) ([]SimilarStudent, error) {
	for i := range all {
		all[i].Embedding = recognition.Normalize(all[i].Embedding, s.dim)
	}
	index := database.NewEnrolmentIndex()
	index.Build(all)
	if index.IsEmpty() {
		return nil, nil
	}
	index.RemoveStudent(exclude)

	best := make(map[int64]float64)
	for _, q := range queries {
		neighbors, err := index.Nearest(recognition.Normalize(q, s.dim), neighborsPerQuery)
		if err != nil {
			return nil, fmt.Errorf("searching enrolment index: %w", err)
		}
		for _, n := range neighbors {
			if n.Similarity > minSimilarity && n.Similarity > best[n.StudentID] {
				best[n.StudentID] = n.Similarity
			}
		}
	}

	result := make([]SimilarStudent, 0, len(best))
	for id, sim := range best {
		st, err := s.students.GetStudent(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("loading student %d: %w", id, err)
		}
		if st == nil {
			continue
		}
		result = append(result, SimilarStudent{
			StudentID:  id,
			Name:       st.Name,
			RollNumber: st.RollNumber,
			Similarity: sim,
		})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Similarity != result[j].Similarity {
			return result[i].Similarity > result[j].Similarity
		}
		return result[i].StudentID < result[j].StudentID
	})
	return result, nil
}
