package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/recognition"
	"github.com/pgvector/pgvector-go"
)

// StudentRepository provides PostgreSQL-backed student and embedding storage.
type StudentRepository struct {
	pool *Pool
}

// NewStudentRepository creates a new PostgreSQL student repository.
func NewStudentRepository(pool *Pool) *StudentRepository {
	return &StudentRepository{pool: pool}
}

const studentColumns = `s.id, s.name, s.roll_number, COALESCE(s.email, ''), s.phone, s.course, s.is_active, s.created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStudent(row rowScanner, extra ...any) (database.Student, error) {
	var s database.Student
	dest := []any{&s.ID, &s.Name, &s.RollNumber, &s.Email, &s.Phone, &s.Course, &s.IsActive, &s.CreatedAt}
	err := row.Scan(append(dest, extra...)...)
	return s, err
}

// GetStudent retrieves a student by ID, returns nil if not found.
func (r *StudentRepository) GetStudent(ctx context.Context, id int64) (*database.Student, error) {
	query := `SELECT ` + studentColumns + ` FROM students s WHERE s.id = $1`

	s, err := scanStudent(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get student %d: %w", id, err)
	}
	return &s, nil
}

// ListStudents returns students ordered by ID with their embedding counts.
func (r *StudentRepository) ListStudents(ctx context.Context, includeInactive bool) ([]database.Student, error) {
	query := `
		SELECT ` + studentColumns + `, COUNT(fe.id)
		FROM students s
		LEFT JOIN face_embeddings fe ON fe.student_id = s.id
		WHERE $1 OR s.is_active
		GROUP BY s.id
		ORDER BY s.id
	`

	rows, err := r.pool.Query(ctx, query, includeInactive)
	if err != nil {
		return nil, fmt.Errorf("query students: %w", err)
	}
	defer rows.Close()

	var students []database.Student
	for rows.Next() {
		var count int
		s, err := scanStudent(rows, &count)
		if err != nil {
			return nil, fmt.Errorf("scan student: %w", err)
		}
		s.EmbeddingCount = count
		students = append(students, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate students: %w", err)
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
	var count int
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM students WHERE is_active").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active students: %w", err)
	}
	return count, nil
}

// ListCandidates returns the match pool: one row per embedding of every active student.
func (r *StudentRepository) ListCandidates(ctx context.Context) ([]recognition.Candidate, error) {
	query := `
		SELECT s.id, s.name, s.roll_number, fe.embedding
		FROM students s
		JOIN face_embeddings fe ON fe.student_id = s.id
		WHERE s.is_active
		ORDER BY s.id, fe.id
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}
	defer rows.Close()

	var candidates []recognition.Candidate
	for rows.Next() {
		var c recognition.Candidate
		var vec pgvector.Vector
		if err := rows.Scan(&c.StudentID, &c.Name, &c.RollNumber, &vec); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		c.Embedding = vec.Slice()
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candidates: %w", err)
	}
	return candidates, nil
}

// ListEmbeddings returns all embeddings of active students.
func (r *StudentRepository) ListEmbeddings(ctx context.Context) ([]database.StoredEmbedding, error) {
	query := `
		SELECT fe.id, fe.student_id, fe.embedding, fe.photo_number, fe.created_at
		FROM face_embeddings fe
		JOIN students s ON s.id = fe.student_id
		WHERE s.is_active
		ORDER BY fe.student_id, fe.id
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query embeddings: %w", err)
	}
	defer rows.Close()

	var embeddings []database.StoredEmbedding
	for rows.Next() {
		var e database.StoredEmbedding
		var vec pgvector.Vector
		if err := rows.Scan(&e.ID, &e.StudentID, &vec, &e.PhotoNumber, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		e.Embedding = vec.Slice()
		embeddings = append(embeddings, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate embeddings: %w", err)
	}
	return embeddings, nil
}

// CreateStudent inserts a student and returns its ID.
func (r *StudentRepository) CreateStudent(ctx context.Context, s *database.Student) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO students (name, roll_number, email, phone, course, is_active)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, TRUE)
		RETURNING id, created_at
	`, s.Name, s.RollNumber, s.Email, s.Phone, s.Course).Scan(&id, &s.CreatedAt)
	if isUniqueViolation(err) {
		return 0, fmt.Errorf("create student %q: %w", s.RollNumber, database.ErrDuplicate)
	}
	if err != nil {
		return 0, fmt.Errorf("create student: %w", err)
	}

	s.ID = id
	s.IsActive = true
	return id, nil
}

// AddEmbeddings appends embeddings to a student, numbering them after the existing ones.
func (r *StudentRepository) AddEmbeddings(ctx context.Context, studentID int64, embeddings [][]float32) error {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	// Lock the student row so concurrent appends number photos consistently.
	var exists bool
	err = tx.QueryRowContext(ctx, "SELECT TRUE FROM students WHERE id = $1 FOR UPDATE", studentID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("student %d: %w", studentID, database.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("lock student: %w", err)
	}

	var last int
	err = tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(photo_number), 0) FROM face_embeddings WHERE student_id = $1", studentID,
	).Scan(&last)
	if err != nil {
		return fmt.Errorf("query photo number: %w", err)
	}

	for i, emb := range embeddings {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO face_embeddings (student_id, embedding, photo_number)
			VALUES ($1, $2, $3)
		`, studentID, pgvector.NewVector(emb), last+i+1)
		if err != nil {
			return fmt.Errorf("insert embedding %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit embeddings: %w", err)
	}
	return nil
}

// DeactivateStudent soft-deletes a student.
func (r *StudentRepository) DeactivateStudent(ctx context.Context, id int64) error {
	result, err := r.pool.Exec(ctx, "UPDATE students SET is_active = FALSE WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("deactivate student: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("student %d: %w", id, database.ErrNotFound)
	}
	return nil
}
