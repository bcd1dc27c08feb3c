// Package mock provides mock implementations of database interfaces for testing.
package mock

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/recognition"
)

// MockStudentRepository is an in-memory implementation of database.StudentWriter
type MockStudentRepository struct {
	mu         sync.RWMutex
	students   map[int64]*database.Student
	embeddings []database.StoredEmbedding
	nextID     int64
	nextEmbID  int64

	// Error injection
	GetStudentError     error
	ListStudentsError   error
	CountActiveError    error
	ListCandidatesError error
	CreateStudentError  error
	AddEmbeddingsError  error
	DeactivateError     error
}

// NewMockStudentRepository creates a new mock student repository
func NewMockStudentRepository() *MockStudentRepository {
	return &MockStudentRepository{
		students: make(map[int64]*database.Student),
	}
}

// AddStudent adds an active student with the given embeddings and returns its ID
func (m *MockStudentRepository) AddStudent(name, rollNumber string, embeddings ...[]float32) int64 {
	id, err := m.CreateStudent(context.Background(), &database.Student{Name: name, RollNumber: rollNumber})
	if err != nil {
		panic(err)
	}
	if len(embeddings) > 0 {
		if err := m.AddEmbeddings(context.Background(), id, embeddings); err != nil {
			panic(err)
		}
	}
	return id
}

// GetStudent retrieves a student by ID
func (m *MockStudentRepository) GetStudent(ctx context.Context, id int64) (*database.Student, error) {
	if m.GetStudentError != nil {
		return nil, m.GetStudentError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.students[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	cp.EmbeddingCount = m.countLocked(id)
	return &cp, nil
}

func (m *MockStudentRepository) countLocked(studentID int64) int {
	n := 0
	for _, e := range m.embeddings {
		if e.StudentID == studentID {
			n++
		}
	}
	return n
}

// ListStudents returns students ordered by ID
func (m *MockStudentRepository) ListStudents(ctx context.Context, includeInactive bool) ([]database.Student, error) {
	if m.ListStudentsError != nil {
		return nil, m.ListStudentsError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []database.Student
	for _, s := range m.students {
		if !includeInactive && !s.IsActive {
			continue
		}
		cp := *s
		cp.EmbeddingCount = m.countLocked(s.ID)
		result = append(result, cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// FindStudents returns active students matching query
func (m *MockStudentRepository) FindStudents(ctx context.Context, query string) ([]database.Student, error) {
	students, err := m.ListStudents(ctx, false)
	if err != nil {
		return nil, err
	}
	var matched []database.Student
	for i := range students {
		if database.MatchesQuery(&students[i], query) {
			matched = append(matched, students[i])
		}
	}
	return matched, nil
}

// CountActive returns the number of active students
func (m *MockStudentRepository) CountActive(ctx context.Context) (int, error) {
	if m.CountActiveError != nil {
		return 0, m.CountActiveError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, s := range m.students {
		if s.IsActive {
			n++
		}
	}
	return n, nil
}

// ListCandidates returns one candidate per embedding of every active student
func (m *MockStudentRepository) ListCandidates(ctx context.Context) ([]recognition.Candidate, error) {
	if m.ListCandidatesError != nil {
		return nil, m.ListCandidatesError
	}
	embeddings, err := m.ListEmbeddings(ctx)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	candidates := make([]recognition.Candidate, 0, len(embeddings))
	for _, e := range embeddings {
		s := m.students[e.StudentID]
		candidates = append(candidates, recognition.Candidate{
			StudentID:  s.ID,
			Name:       s.Name,
			RollNumber: s.RollNumber,
			Embedding:  append(recognition.Embedding(nil), e.Embedding...),
		})
	}
	return candidates, nil
}

// ListEmbeddings returns all embeddings of active students ordered by (student, embedding)
func (m *MockStudentRepository) ListEmbeddings(ctx context.Context) ([]database.StoredEmbedding, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []database.StoredEmbedding
	for _, e := range m.embeddings {
		if s, ok := m.students[e.StudentID]; ok && s.IsActive {
			result = append(result, e)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		if result[i].StudentID != result[j].StudentID {
			return result[i].StudentID < result[j].StudentID
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// CreateStudent inserts a student, enforcing unique roll number and email
func (m *MockStudentRepository) CreateStudent(ctx context.Context, s *database.Student) (int64, error) {
	if m.CreateStudentError != nil {
		return 0, m.CreateStudentError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.students {
		if existing.RollNumber == s.RollNumber || (s.Email != "" && existing.Email == s.Email) {
			return 0, fmt.Errorf("create student %q: %w", s.RollNumber, database.ErrDuplicate)
		}
	}

	m.nextID++
	s.ID = m.nextID
	s.IsActive = true
	s.CreatedAt = time.Now()
	cp := *s
	m.students[s.ID] = &cp
	return s.ID, nil
}

// AddEmbeddings appends embeddings to a student
func (m *MockStudentRepository) AddEmbeddings(ctx context.Context, studentID int64, embeddings [][]float32) error {
	if m.AddEmbeddingsError != nil {
		return m.AddEmbeddingsError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.students[studentID]; !ok {
		return fmt.Errorf("student %d: %w", studentID, database.ErrNotFound)
	}
	last := m.countLocked(studentID)
	for i, emb := range embeddings {
		m.nextEmbID++
		m.embeddings = append(m.embeddings, database.StoredEmbedding{
			ID:          m.nextEmbID,
			StudentID:   studentID,
			Embedding:   append([]float32(nil), emb...),
			PhotoNumber: last + i + 1,
			CreatedAt:   time.Now(),
		})
	}
	return nil
}

// DeactivateStudent soft-deletes a student
func (m *MockStudentRepository) DeactivateStudent(ctx context.Context, id int64) error {
	if m.DeactivateError != nil {
		return m.DeactivateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.students[id]
	if !ok {
		return fmt.Errorf("student %d: %w", id, database.ErrNotFound)
	}
	s.IsActive = false
	return nil
}

// MockAttendanceRepository is an in-memory implementation of database.AttendanceWriter
type MockAttendanceRepository struct {
	mu      sync.RWMutex
	records map[int64]*database.AttendanceRecord
	nextID  int64

	// Students is consulted for joined names and the active filter, optional.
	Students *MockStudentRepository

	// BeforeInsert runs before InsertTimeIn takes the lock. Tests use it to
	// simulate a concurrent writer winning the race.
	BeforeInsert func(studentID int64, date string)

	// BeforeUpdate runs before SetTimeIn/SetTimeOut take the lock.
	BeforeUpdate func(recordID int64)

	// Error injection
	GetRecordError   error
	ListRecordsError error
	CountError       error
	InsertError      error
	UpdateError      error
}

// NewMockAttendanceRepository creates a new mock attendance repository
func NewMockAttendanceRepository(students *MockStudentRepository) *MockAttendanceRepository {
	return &MockAttendanceRepository{
		records:  make(map[int64]*database.AttendanceRecord),
		Students: students,
	}
}

func (m *MockAttendanceRepository) findLocked(studentID int64, date string) *database.AttendanceRecord {
	for _, r := range m.records {
		if r.StudentID == studentID && r.Date == date {
			return r
		}
	}
	return nil
}

func copyRecord(r *database.AttendanceRecord) *database.AttendanceRecord {
	cp := *r
	if r.TimeIn != nil {
		t := *r.TimeIn
		cp.TimeIn = &t
	}
	if r.TimeOut != nil {
		t := *r.TimeOut
		cp.TimeOut = &t
	}
	return &cp
}

// Records returns a copy of all stored records
func (m *MockAttendanceRepository) Records() []database.AttendanceRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]database.AttendanceRecord, 0, len(m.records))
	for _, r := range m.records {
		result = append(result, *copyRecord(r))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// PutRecord stores a record as-is, e.g. a row with no entry time.
// A zero ID allocates a new one; an existing ID is overwritten.
func (m *MockAttendanceRepository) PutRecord(rec database.AttendanceRecord) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ID == 0 {
		m.nextID++
		rec.ID = m.nextID
	}
	m.records[rec.ID] = copyRecord(&rec)
	return rec.ID
}

// GetRecord returns the record for a student and day
func (m *MockAttendanceRepository) GetRecord(ctx context.Context, studentID int64, date string) (*database.AttendanceRecord, error) {
	if m.GetRecordError != nil {
		return nil, m.GetRecordError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	r := m.findLocked(studentID, date)
	if r == nil {
		return nil, nil
	}
	return copyRecord(r), nil
}

// ListRecords returns records matching the filter, newest day first
func (m *MockAttendanceRepository) ListRecords(ctx context.Context, filter database.RecordFilter) ([]database.AttendanceRecord, error) {
	if m.ListRecordsError != nil {
		return nil, m.ListRecordsError
	}

	var result []database.AttendanceRecord
	for _, r := range m.Records() {
		if filter.From != "" && r.Date < filter.From {
			continue
		}
		if filter.To != "" && r.Date > filter.To {
			continue
		}
		if filter.StudentID != 0 && r.StudentID != filter.StudentID {
			continue
		}
		if m.Students != nil {
			if s, _ := m.Students.GetStudent(ctx, r.StudentID); s != nil {
				r.StudentName = s.Name
				r.RollNumber = s.RollNumber
			}
		}
		result = append(result, r)
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].Date > result[j].Date })
	return result, nil
}

// CountPresent counts active students with an entry and with a complete record on date
func (m *MockAttendanceRepository) CountPresent(ctx context.Context, date string) (int, int, error) {
	if m.CountError != nil {
		return 0, 0, m.CountError
	}
	present, complete := 0, 0
	for _, r := range m.Records() {
		if r.Date != date {
			continue
		}
		if m.Students != nil {
			if s, _ := m.Students.GetStudent(ctx, r.StudentID); s == nil || !s.IsActive {
				continue
			}
		}
		if r.HasEntry() {
			present++
		}
		if r.IsComplete() {
			complete++
		}
	}
	return present, complete, nil
}

// InsertTimeIn creates the day's record, ErrDuplicate when it exists
func (m *MockAttendanceRepository) InsertTimeIn(ctx context.Context, studentID int64, date string, at time.Time, markedBy string) (*database.AttendanceRecord, error) {
	if m.InsertError != nil {
		return nil, m.InsertError
	}
	if m.BeforeInsert != nil {
		m.BeforeInsert(studentID, date)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.findLocked(studentID, date) != nil {
		return nil, fmt.Errorf("attendance for student %d on %s: %w", studentID, date, database.ErrDuplicate)
	}
	m.nextID++
	rec := &database.AttendanceRecord{
		ID:        m.nextID,
		StudentID: studentID,
		Date:      date,
		TimeIn:    &at,
		MarkedBy:  markedBy,
		CreatedAt: at,
	}
	m.records[rec.ID] = rec
	return copyRecord(rec), nil
}

// SetTimeIn sets the entry time if it is still empty
func (m *MockAttendanceRepository) SetTimeIn(ctx context.Context, recordID int64, at time.Time) (bool, error) {
	return m.setOnce(recordID, at, func(r *database.AttendanceRecord) **time.Time { return &r.TimeIn })
}

// SetTimeOut sets the exit time if it is still empty
func (m *MockAttendanceRepository) SetTimeOut(ctx context.Context, recordID int64, at time.Time) (bool, error) {
	return m.setOnce(recordID, at, func(r *database.AttendanceRecord) **time.Time { return &r.TimeOut })
}

func (m *MockAttendanceRepository) setOnce(recordID int64, at time.Time, field func(*database.AttendanceRecord) **time.Time) (bool, error) {
	if m.UpdateError != nil {
		return false, m.UpdateError
	}
	if m.BeforeUpdate != nil {
		m.BeforeUpdate(recordID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[recordID]
	if !ok {
		return false, nil
	}
	target := field(r)
	if *target != nil {
		return false, nil
	}
	*target = &at
	return true, nil
}

// Compile-time interface checks
var (
	_ database.StudentWriter    = (*MockStudentRepository)(nil)
	_ database.AttendanceWriter = (*MockAttendanceRepository)(nil)
)
