package sqlite

import (
	"context"
	"errors"
	"fmt"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/recognition"
	"gorm.io/gorm"
)

// StudentRepository provides SQLite-backed student and embedding storage.
type StudentRepository struct {
	db *gorm.DB
}

func (m *studentModel) toStudent() database.Student {
	s := database.Student{
		ID:         m.ID,
		Name:       m.Name,
		RollNumber: m.RollNumber,
		Phone:      m.Phone,
		Course:     m.Course,
		IsActive:   m.IsActive,
		CreatedAt:  m.CreatedAt,
	}
	if m.Email != nil {
		s.Email = *m.Email
	}
	return s
}

// GetStudent retrieves a student by ID, returns nil if not found.
func (r *StudentRepository) GetStudent(ctx context.Context, id int64) (*database.Student, error) {
	var m studentModel
	err := r.db.WithContext(ctx).First(&m, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get student %d: %w", id, err)
	}
	s := m.toStudent()
	return &s, nil
}

// ListStudents returns students ordered by ID with their embedding counts.
func (r *StudentRepository) ListStudents(ctx context.Context, includeInactive bool) ([]database.Student, error) {
	var models []studentModel
	q := r.db.WithContext(ctx).Order("id")
	if !includeInactive {
		q = q.Where("is_active = ?", true)
	}
	if err := q.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("query students: %w", err)
	}

	var counts []struct {
		StudentID int64
		Count     int
	}
	err := r.db.WithContext(ctx).Model(&embeddingModel{}).
		Select("student_id, COUNT(*) AS count").
		Group("student_id").
		Scan(&counts).Error
	if err != nil {
		return nil, fmt.Errorf("count embeddings: %w", err)
	}
	byStudent := make(map[int64]int, len(counts))
	for _, c := range counts {
		byStudent[c.StudentID] = c.Count
	}

	students := make([]database.Student, 0, len(models))
	for i := range models {
		s := models[i].toStudent()
		s.EmbeddingCount = byStudent[s.ID]
		students = append(students, s)
	}
	return students, nil
}

// FindStudents returns active students matching query by name or roll number.
func (r *StudentRepository) FindStudents(ctx context.Context, query string) ([]database.Student, error) {
	students, err := r.ListStudents(ctx, false)
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

// CountActive returns the number of active students.
func (r *StudentRepository) CountActive(ctx context.Context) (int, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&studentModel{}).Where("is_active = ?", true).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count active students: %w", err)
	}
	return int(count), nil
}

type embeddingRow struct {
	ID          int64
	StudentID   int64
	Name        string
	RollNumber  string
	Embedding   string
	PhotoNumber int
}

func (r *StudentRepository) activeEmbeddingRows(ctx context.Context) ([]embeddingRow, error) {
	var rows []embeddingRow
	err := r.db.WithContext(ctx).
		Table("face_embeddings AS fe").
		Select("fe.id, fe.student_id, s.name, s.roll_number, fe.embedding, fe.photo_number").
		Joins("JOIN students AS s ON s.id = fe.student_id").
		Where("s.is_active = ?", true).
		Order("fe.student_id, fe.id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query embeddings: %w", err)
	}
	return rows, nil
}

// ListCandidates returns the match pool: one row per embedding of every active student.
func (r *StudentRepository) ListCandidates(ctx context.Context) ([]recognition.Candidate, error) {
	rows, err := r.activeEmbeddingRows(ctx)
	if err != nil {
		return nil, err
	}

	candidates := make([]recognition.Candidate, 0, len(rows))
	for _, row := range rows {
		emb, err := database.DecodeEmbedding(row.Embedding)
		if err != nil {
			return nil, fmt.Errorf("embedding %d: %w", row.ID, err)
		}
		candidates = append(candidates, recognition.Candidate{
			StudentID:  row.StudentID,
			Name:       row.Name,
			RollNumber: row.RollNumber,
			Embedding:  emb,
		})
	}
	return candidates, nil
}

// ListEmbeddings returns all embeddings of active students.
func (r *StudentRepository) ListEmbeddings(ctx context.Context) ([]database.StoredEmbedding, error) {
	rows, err := r.activeEmbeddingRows(ctx)
	if err != nil {
		return nil, err
	}

	embeddings := make([]database.StoredEmbedding, 0, len(rows))
	for _, row := range rows {
		emb, err := database.DecodeEmbedding(row.Embedding)
		if err != nil {
			return nil, fmt.Errorf("embedding %d: %w", row.ID, err)
		}
		embeddings = append(embeddings, database.StoredEmbedding{
			ID:          row.ID,
			StudentID:   row.StudentID,
			Embedding:   emb,
			PhotoNumber: row.PhotoNumber,
		})
	}
	return embeddings, nil
}

// CreateStudent inserts a student and returns its ID.
func (r *StudentRepository) CreateStudent(ctx context.Context, s *database.Student) (int64, error) {
	m := studentModel{
		Name:       s.Name,
		RollNumber: s.RollNumber,
		Phone:      s.Phone,
		Course:     s.Course,
		IsActive:   true,
	}
	if s.Email != "" {
		email := s.Email
		m.Email = &email
	}

	err := r.db.WithContext(ctx).Create(&m).Error
	if isUniqueViolation(err) {
		return 0, fmt.Errorf("create student %q: %w", s.RollNumber, database.ErrDuplicate)
	}
	if err != nil {
		return 0, fmt.Errorf("create student: %w", err)
	}

	s.ID = m.ID
	s.IsActive = true
	s.CreatedAt = m.CreatedAt
	return m.ID, nil
}

// AddEmbeddings appends embeddings to a student, numbering them after the existing ones.
func (r *StudentRepository) AddEmbeddings(ctx context.Context, studentID int64, embeddings [][]float32) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&studentModel{}).Where("id = ?", studentID).Count(&count).Error; err != nil {
			return fmt.Errorf("check student: %w", err)
		}
		if count == 0 {
			return fmt.Errorf("student %d: %w", studentID, database.ErrNotFound)
		}

		var last int
		err := tx.Model(&embeddingModel{}).
			Where("student_id = ?", studentID).
			Select("COALESCE(MAX(photo_number), 0)").
			Scan(&last).Error
		if err != nil {
			return fmt.Errorf("query photo number: %w", err)
		}

		if len(embeddings) == 0 {
			return nil
		}
		models := make([]embeddingModel, len(embeddings))
		for i, emb := range embeddings {
			models[i] = embeddingModel{
				StudentID:   studentID,
				Embedding:   database.EncodeEmbedding(emb),
				PhotoNumber: last + i + 1,
			}
		}
		if err := tx.Create(&models).Error; err != nil {
			return fmt.Errorf("insert embeddings: %w", err)
		}
		return nil
	})
}

// DeactivateStudent soft-deletes a student.
func (r *StudentRepository) DeactivateStudent(ctx context.Context, id int64) error {
	result := r.db.WithContext(ctx).Model(&studentModel{}).Where("id = ?", id).Update("is_active", false)
	if result.Error != nil {
		return fmt.Errorf("deactivate student: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("student %d: %w", id, database.ErrNotFound)
	}
	return nil
}
