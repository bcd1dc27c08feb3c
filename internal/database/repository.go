package database

import (
	"context"
	"time"

	"github.com/kozaktomas/face-attendance/internal/recognition"
)

// StudentReader provides read-only access to students and their embeddings
type StudentReader interface {
	// GetStudent retrieves a student by ID, returns nil if not found
	GetStudent(ctx context.Context, id int64) (*Student, error)
	// ListStudents returns students ordered by ID, with their embedding counts
	ListStudents(ctx context.Context, includeInactive bool) ([]Student, error)
	// FindStudents returns active students whose name or roll number matches query.
	// Name comparison ignores case and diacritics (see NormalizeName).
	FindStudents(ctx context.Context, query string) ([]Student, error)
	// CountActive returns the number of active students
	CountActive(ctx context.Context) (int, error)
	// ListCandidates returns one candidate per stored embedding of every active
	// student, ordered by (student ID, embedding ID). It is the match pool.
	ListCandidates(ctx context.Context) ([]recognition.Candidate, error)
	// ListEmbeddings returns all embeddings of active students
	ListEmbeddings(ctx context.Context) ([]StoredEmbedding, error)
}

// StudentWriter provides write access to students
type StudentWriter interface {
	StudentReader

	// CreateStudent inserts a student and returns its ID.
	// Returns ErrDuplicate when the roll number or email is taken.
	CreateStudent(ctx context.Context, s *Student) (int64, error)

	// AddEmbeddings appends embeddings to a student. Existing embeddings are never modified.
	// Returns ErrNotFound when the student does not exist.
	AddEmbeddings(ctx context.Context, studentID int64, embeddings [][]float32) error

	// DeactivateStudent soft-deletes a student, removing it from the match pool.
	// Returns ErrNotFound when the student does not exist.
	DeactivateStudent(ctx context.Context, id int64) error
}

// AttendanceReader provides read-only access to attendance records
type AttendanceReader interface {
	// GetRecord returns the record for a student and day, nil if none exists
	GetRecord(ctx context.Context, studentID int64, date string) (*AttendanceRecord, error)
	// ListRecords returns records matching the filter, newest day first
	ListRecords(ctx context.Context, filter RecordFilter) ([]AttendanceRecord, error)
	// CountPresent returns how many active students have an entry (present)
	// and how many have both entry and exit (complete) on the given day
	CountPresent(ctx context.Context, date string) (present, complete int, err error)
}

// AttendanceWriter provides write access to attendance records.
// Updates are conditional so that two racing writers never overwrite a set time.
type AttendanceWriter interface {
	AttendanceReader

	// InsertTimeIn creates the day's record with the entry time set.
	// Returns ErrDuplicate when a record for (student, date) already exists.
	InsertTimeIn(ctx context.Context, studentID int64, date string, at time.Time, markedBy string) (*AttendanceRecord, error)

	// SetTimeIn sets the entry time of a record whose entry is still empty.
	// Reports false when the entry was already set.
	SetTimeIn(ctx context.Context, recordID int64, at time.Time) (bool, error)

	// SetTimeOut sets the exit time of a record whose exit is still empty.
	// Reports false when the exit was already set.
	SetTimeOut(ctx context.Context, recordID int64, at time.Time) (bool, error)
}
