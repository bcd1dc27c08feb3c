package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/kozaktomas/face-attendance/internal/database"
	"gorm.io/gorm"
)

// AttendanceRepository provides SQLite-backed attendance storage.
type AttendanceRepository struct {
	db *gorm.DB
}

func (m *attendanceModel) toRecord() database.AttendanceRecord {
	return database.AttendanceRecord{
		ID:        m.ID,
		StudentID: m.StudentID,
		Date:      m.Date,
		TimeIn:    m.TimeIn,
		TimeOut:   m.TimeOut,
		MarkedBy:  m.MarkedBy,
		CreatedAt: m.CreatedAt,
	}
}

// GetRecord returns the record for a student and day, nil if none exists.
func (r *AttendanceRepository) GetRecord(ctx context.Context, studentID int64, date string) (*database.AttendanceRecord, error) {
	var models []attendanceModel
	err := r.db.WithContext(ctx).
		Where("student_id = ? AND date = ?", studentID, date).
		Limit(1).
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("get attendance record: %w", err)
	}
	if len(models) == 0 {
		return nil, nil
	}
	rec := models[0].toRecord()
	return &rec, nil
}

// ListRecords returns records matching the filter, newest day first.
func (r *AttendanceRepository) ListRecords(ctx context.Context, filter database.RecordFilter) ([]database.AttendanceRecord, error) {
	var rows []struct {
		attendanceModel
		StudentName string
		RollNumber  string
	}

	q := r.db.WithContext(ctx).
		Table("attendance AS a").
		Select("a.*, s.name AS student_name, s.roll_number AS roll_number").
		Joins("JOIN students AS s ON s.id = a.student_id")
	if filter.From != "" {
		q = q.Where("a.date >= ?", filter.From)
	}
	if filter.To != "" {
		q = q.Where("a.date <= ?", filter.To)
	}
	if filter.StudentID != 0 {
		q = q.Where("a.student_id = ?", filter.StudentID)
	}

	err := q.Order("a.date DESC, a.time_in IS NULL, a.time_in DESC, a.id").Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query attendance records: %w", err)
	}

	records := make([]database.AttendanceRecord, 0, len(rows))
	for i := range rows {
		rec := rows[i].toRecord()
		rec.StudentName = rows[i].StudentName
		rec.RollNumber = rows[i].RollNumber
		records = append(records, rec)
	}
	return records, nil
}

// CountPresent counts active students with an entry and with a complete record on date.
func (r *AttendanceRepository) CountPresent(ctx context.Context, date string) (int, int, error) {
	var counts struct {
		Present  int
		Complete int
	}
	err := r.db.WithContext(ctx).Raw(`
		SELECT
			COALESCE(SUM(CASE WHEN a.time_in IS NOT NULL THEN 1 ELSE 0 END), 0) AS present,
			COALESCE(SUM(CASE WHEN a.time_in IS NOT NULL AND a.time_out IS NOT NULL THEN 1 ELSE 0 END), 0) AS complete
		FROM attendance a
		JOIN students s ON s.id = a.student_id
		WHERE a.date = ? AND s.is_active = ?
	`, date, true).Scan(&counts).Error
	if err != nil {
		return 0, 0, fmt.Errorf("count present: %w", err)
	}
	return counts.Present, counts.Complete, nil
}

// InsertTimeIn creates the day's record with the entry time set.
func (r *AttendanceRepository) InsertTimeIn(ctx context.Context, studentID int64, date string, at time.Time, markedBy string) (*database.AttendanceRecord, error) {
	m := attendanceModel{
		StudentID: studentID,
		Date:      date,
		TimeIn:    &at,
		MarkedBy:  markedBy,
	}

	err := r.db.WithContext(ctx).Create(&m).Error
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("attendance for student %d on %s: %w", studentID, date, database.ErrDuplicate)
	}
	if err != nil {
		return nil, fmt.Errorf("insert attendance: %w", err)
	}

	rec := m.toRecord()
	return &rec, nil
}

// SetTimeIn sets the entry time if it is still empty.
func (r *AttendanceRepository) SetTimeIn(ctx context.Context, recordID int64, at time.Time) (bool, error) {
	return r.setOnce(ctx, recordID, "time_in", at)
}

// SetTimeOut sets the exit time if it is still empty.
func (r *AttendanceRepository) SetTimeOut(ctx context.Context, recordID int64, at time.Time) (bool, error) {
	return r.setOnce(ctx, recordID, "time_out", at)
}

func (r *AttendanceRepository) setOnce(ctx context.Context, recordID int64, column string, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&attendanceModel{}).
		Where("id = ? AND "+column+" IS NULL", recordID).
		Update(column, at)
	if result.Error != nil {
		return false, fmt.Errorf("update attendance %d: %w", recordID, result.Error)
	}
	return result.RowsAffected == 1, nil
}
