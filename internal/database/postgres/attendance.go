package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kozaktomas/face-attendance/internal/database"
)

// AttendanceRepository provides PostgreSQL-backed attendance storage.
type AttendanceRepository struct {
	pool *Pool
}

// NewAttendanceRepository creates a new PostgreSQL attendance repository.
func NewAttendanceRepository(pool *Pool) *AttendanceRepository {
	return &AttendanceRepository{pool: pool}
}

// GetRecord returns the record for a student and day, nil if none exists.
func (r *AttendanceRepository) GetRecord(ctx context.Context, studentID int64, date string) (*database.AttendanceRecord, error) {
	var rec database.AttendanceRecord
	var timeIn, timeOut sql.NullTime

	err := r.pool.QueryRow(ctx, `
		SELECT id, student_id, date::text, time_in, time_out, marked_by, created_at
		FROM attendance
		WHERE student_id = $1 AND date = $2::date
	`, studentID, date).Scan(&rec.ID, &rec.StudentID, &rec.Date, &timeIn, &timeOut, &rec.MarkedBy, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get attendance record: %w", err)
	}

	rec.TimeIn = nullTimePtr(timeIn)
	rec.TimeOut = nullTimePtr(timeOut)
	return &rec, nil
}

// ListRecords returns records matching the filter, newest day first.
func (r *AttendanceRepository) ListRecords(ctx context.Context, filter database.RecordFilter) ([]database.AttendanceRecord, error) {
	var conds []string
	var args []any

	if filter.From != "" {
		args = append(args, filter.From)
		conds = append(conds, fmt.Sprintf("a.date >= $%d::date", len(args)))
	}
	if filter.To != "" {
		args = append(args, filter.To)
		conds = append(conds, fmt.Sprintf("a.date <= $%d::date", len(args)))
	}
	if filter.StudentID != 0 {
		args = append(args, filter.StudentID)
		conds = append(conds, fmt.Sprintf("a.student_id = $%d", len(args)))
	}

	query := `
		SELECT a.id, a.student_id, a.date::text, a.time_in, a.time_out, a.marked_by, a.created_at,
		       s.name, s.roll_number
		FROM attendance a
		JOIN students s ON s.id = a.student_id`
	if len(conds) > 0 {
		query += "\n\t\tWHERE " + strings.Join(conds, " AND ")
	}
	query += "\n\t\tORDER BY a.date DESC, a.time_in DESC NULLS LAST, a.id"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query attendance records: %w", err)
	}
	defer rows.Close()

	var records []database.AttendanceRecord
	for rows.Next() {
		var rec database.AttendanceRecord
		var timeIn, timeOut sql.NullTime
		if err := rows.Scan(
			&rec.ID, &rec.StudentID, &rec.Date, &timeIn, &timeOut, &rec.MarkedBy, &rec.CreatedAt,
			&rec.StudentName, &rec.RollNumber,
		); err != nil {
			return nil, fmt.Errorf("scan attendance record: %w", err)
		}
		rec.TimeIn = nullTimePtr(timeIn)
		rec.TimeOut = nullTimePtr(timeOut)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attendance records: %w", err)
	}
	return records, nil
}

// CountPresent counts active students with an entry and with a complete record on date.
func (r *AttendanceRepository) CountPresent(ctx context.Context, date string) (int, int, error) {
	var present, complete int
	err := r.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE a.time_in IS NOT NULL),
			COUNT(*) FILTER (WHERE a.time_in IS NOT NULL AND a.time_out IS NOT NULL)
		FROM attendance a
		JOIN students s ON s.id = a.student_id
		WHERE a.date = $1::date AND s.is_active
	`, date).Scan(&present, &complete)
	if err != nil {
		return 0, 0, fmt.Errorf("count present: %w", err)
	}
	return present, complete, nil
}

// InsertTimeIn creates the day's record with the entry time set.
func (r *AttendanceRepository) InsertTimeIn(ctx context.Context, studentID int64, date string, at time.Time, markedBy string) (*database.AttendanceRecord, error) {
	rec := database.AttendanceRecord{
		StudentID: studentID,
		Date:      date,
		TimeIn:    &at,
		MarkedBy:  markedBy,
	}

	// A conflicting insert returns no row.
	err := r.pool.QueryRow(ctx, `
		INSERT INTO attendance (student_id, date, time_in, marked_by)
		VALUES ($1, $2::date, $3, $4)
		ON CONFLICT (student_id, date) DO NOTHING
		RETURNING id, created_at
	`, studentID, date, at, markedBy).Scan(&rec.ID, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("attendance for student %d on %s: %w", studentID, date, database.ErrDuplicate)
	}
	if err != nil {
		return nil, fmt.Errorf("insert attendance: %w", err)
	}
	return &rec, nil
}

// SetTimeIn sets the entry time if it is still empty.
func (r *AttendanceRepository) SetTimeIn(ctx context.Context, recordID int64, at time.Time) (bool, error) {
	return r.setOnce(ctx, "UPDATE attendance SET time_in = $2 WHERE id = $1 AND time_in IS NULL", recordID, at)
}

// SetTimeOut sets the exit time if it is still empty.
func (r *AttendanceRepository) SetTimeOut(ctx context.Context, recordID int64, at time.Time) (bool, error) {
	return r.setOnce(ctx, "UPDATE attendance SET time_out = $2 WHERE id = $1 AND time_out IS NULL", recordID, at)
}

func (r *AttendanceRepository) setOnce(ctx context.Context, stmt string, recordID int64, at time.Time) (bool, error) {
	result, err := r.pool.Exec(ctx, stmt, recordID, at)
	if err != nil {
		return false, fmt.Errorf("update attendance %d: %w", recordID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}
