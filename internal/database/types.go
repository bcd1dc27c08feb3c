package database

import (
	"time"
)

// DateLayout is the calendar-day key format used by attendance records.
const DateLayout = "2006-01-02"

// Student represents an enrolled student
type Student struct {
	ID         int64
	Name       string
	RollNumber string
	Email      string
	Phone      string
	Course     string
	IsActive   bool
	CreatedAt  time.Time

	// EmbeddingCount is populated by listing queries only.
	EmbeddingCount int
}

// StoredEmbedding represents one enrolment embedding of a student
type StoredEmbedding struct {
	ID          int64
	StudentID   int64
	Embedding   []float32
	PhotoNumber int
	CreatedAt   time.Time
}

// AttendanceRecord is the per-(student, day) attendance row.
// TimeIn and TimeOut are nil while unset.
type AttendanceRecord struct {
	ID        int64
	StudentID int64
	Date      string // YYYY-MM-DD
	TimeIn    *time.Time
	TimeOut   *time.Time
	MarkedBy  string
	CreatedAt time.Time

	// Joined student data, populated by ListRecords.
	StudentName string
	RollNumber  string
}

// HasEntry reports whether the entry time is set.
func (r *AttendanceRecord) HasEntry() bool {
	return r != nil && r.TimeIn != nil
}

// IsComplete reports whether both entry and exit are set.
func (r *AttendanceRecord) IsComplete() bool {
	return r != nil && r.TimeIn != nil && r.TimeOut != nil
}

// RecordFilter selects attendance records. Dates are inclusive YYYY-MM-DD
// strings; empty From/To means unbounded, zero StudentID means all students.
type RecordFilter struct {
	From      string
	To        string
	StudentID int64
}

// TodayStats summarizes attendance for one day.
type TodayStats struct {
	Date           string  `json:"date"`
	TotalStudents  int     `json:"total_students"`
	Present        int     `json:"present"`
	Complete       int     `json:"complete"`
	Absent         int     `json:"absent"`
	AttendanceRate float64 `json:"attendance_rate"`
}

// NewTodayStats computes the derived fields from the raw counts.
func NewTodayStats(date string, total, present, complete int) TodayStats {
	stats := TodayStats{
		Date:          date,
		TotalStudents: total,
		Present:       present,
		Complete:      complete,
		Absent:        max(total-present, 0),
	}
	if total > 0 {
		stats.AttendanceRate = float64(present) / float64(total) * 100
	}
	return stats
}
