package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/database/postgres"
	"github.com/kozaktomas/face-attendance/internal/database/sqlite"
	"github.com/kozaktomas/face-attendance/internal/embedder"
	"github.com/kozaktomas/face-attendance/internal/events"
	"github.com/kozaktomas/face-attendance/internal/logger"
	log "github.com/sirupsen/logrus"
)

// loadConfig reads the configuration, sets up logging and validates it.
func loadConfig() (*config.Config, error) {
	cfg := config.Load()
	logger.Init(cfg.Log)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// initBackend connects the configured storage backend and registers it.
func initBackend(ctx context.Context, cfg *config.Config) error {
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		if _, err := postgres.Initialize(ctx, &cfg.Database); err != nil {
			return fmt.Errorf("failed to initialize PostgreSQL: %w", err)
		}
	case config.DriverSQLite:
		if _, err := sqlite.Initialize(ctx, &cfg.Database); err != nil {
			return fmt.Errorf("failed to initialize SQLite: %w", err)
		}
	default:
		return fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
	return nil
}

// serviceOptions builds attendance options from the configuration.
func serviceOptions(cfg *config.Config, publisher events.Publisher) (attendance.Options, error) {
	loc, err := cfg.Attendance.Location()
	if err != nil {
		return attendance.Options{}, err
	}
	return attendance.Options{
		Dim:       cfg.Recognition.Dim,
		Threshold: cfg.Recognition.Threshold,
		Workers:   cfg.Recognition.Workers,
		Location:  loc,
		MarkedBy:  cfg.Attendance.MarkedBy,
		Publisher: publisher,
	}, nil
}

// newEmbedder creates the embedding server client.
func newEmbedder(cfg *config.Config) *embedder.Client {
	return embedder.NewClient(cfg.Embedding.URL, cfg.Embedding.MaxImageSize, cfg.Embedding.Timeout())
}

// session is what a one-shot command needs: configuration, a connected
// backend and an attendance service publishing to the configured broker.
type session struct {
	cfg       *config.Config
	svc       *attendance.Service
	publisher events.Publisher
}

// Close closes the event publisher and the storage backend.
func (s *session) Close() {
	if err := s.publisher.Close(); err != nil {
		log.WithError(err).Warn("Failed to close event publisher")
	}
	if err := database.Close(); err != nil {
		log.WithError(err).Warn("Failed to close database")
	}
}

// openSession loads configuration, connects storage and builds the service.
// overrides are applied to the loaded configuration before anything connects.
func openSession(ctx context.Context, overrides ...func(*config.Config)) (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	for _, override := range overrides {
		override(cfg)
	}
	if err := initBackend(ctx, cfg); err != nil {
		return nil, err
	}

	publisher, err := events.New(cfg.MQTT)
	if err != nil {
		log.WithError(err).Warn("Event publishing disabled")
		publisher = events.Noop{}
	}

	s := &session{cfg: cfg, publisher: publisher}
	opts, err := serviceOptions(cfg, publisher)
	if err != nil {
		s.Close()
		return nil, err
	}
	students, err := database.GetStudentWriter(ctx)
	if err != nil {
		s.Close()
		return nil, err
	}
	records, err := database.GetAttendanceWriter(ctx)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.svc = attendance.NewService(students, records, opts)
	return s, nil
}

func outputJSON(data any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}
	return nil
}
