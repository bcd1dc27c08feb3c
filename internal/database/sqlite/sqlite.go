// Package sqlite implements the database repositories on an embedded SQLite
// file through GORM. It suits single-kiosk deployments and fast tests.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite" // Pure Go
	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/database"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	gormlog "gorm.io/gorm/logger"
)

// BackendName is the name the backend registers under.
const BackendName = config.DriverSQLite

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

type studentModel struct {
	ID         int64   `gorm:"primaryKey"`
	Name       string  `gorm:"not null"`
	RollNumber string  `gorm:"uniqueIndex;not null"`
	Email      *string `gorm:"uniqueIndex"` // nil when not given
	Phone      string
	Course     string
	IsActive   bool `gorm:"not null;index"`
	CreatedAt  time.Time
}

func (studentModel) TableName() string { return "students" }

type embeddingModel struct {
	ID          int64  `gorm:"primaryKey"`
	StudentID   int64  `gorm:"not null;index"`
	Embedding   string `gorm:"type:text;not null"` // database.EncodeEmbedding
	PhotoNumber int    `gorm:"not null"`
	CreatedAt   time.Time
}

func (embeddingModel) TableName() string { return "face_embeddings" }

type attendanceModel struct {
	ID        int64  `gorm:"primaryKey"`
	StudentID int64  `gorm:"not null;uniqueIndex:idx_attendance_student_date"`
	Date      string `gorm:"not null;uniqueIndex:idx_attendance_student_date;index"`
	TimeIn    *time.Time
	TimeOut   *time.Time
	MarkedBy  string
	CreatedAt time.Time
}

func (attendanceModel) TableName() string { return "attendance" }

// Store holds the GORM connection shared by the repositories.
type Store struct {
	db *gorm.DB
}

// Open opens (creating if needed) the database at path and migrates the schema.
func Open(path string) (*Store, error) {
	if path != MemoryPath {
		// Ensure the directory for the database file exists
		if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	// Route GORM warnings through logrus.
	gormLogger := gormlog.New(
		log.StandardLogger(),
		gormlog.Config{
			SlowThreshold:             2 * time.Second,
			LogLevel:                  gormlog.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:         gormLogger,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	// SQLite has a single writer, and every connection to ":memory:" is a new database.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&studentModel{}, &embeddingModel{}, &attendanceModel{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("closing database connection: %w", err)
	}
	return nil
}

// Students returns the student repository.
func (s *Store) Students() *StudentRepository {
	return &StudentRepository{db: s.db}
}

// Attendance returns the attendance repository.
func (s *Store) Attendance() *AttendanceRepository {
	return &AttendanceRepository{db: s.db}
}

// Register registers the store's repositories as the active storage backend.
func (s *Store) Register() {
	database.RegisterBackend(
		BackendName,
		func() database.StudentWriter { return s.Students() },
		func() database.AttendanceWriter { return s.Attendance() },
		s.Close,
	)
}

// Initialize opens the configured SQLite database and registers it as the
// active storage backend.
func Initialize(ctx context.Context, cfg *config.DatabaseConfig) (*Store, error) {
	if cfg == nil || cfg.SQLitePath == "" {
		return nil, errors.New("sqlite path is required")
	}

	store, err := Open(cfg.SQLitePath)
	if err != nil {
		return nil, err
	}

	store.Register()
	log.WithFields(log.Fields{
		"backend": BackendName,
		"path":    cfg.SQLitePath,
	}).Info("Database backend initialized")
	return store, nil
}

// isUniqueViolation reports whether err is a unique constraint violation.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "UNIQUE constraint failed")
}
