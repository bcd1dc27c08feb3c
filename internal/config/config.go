package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Database drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	Recognition RecognitionConfig `yaml:"recognition"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	Database    DatabaseConfig    `yaml:"database"`
	Attendance  AttendanceConfig  `yaml:"attendance"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	Log         LogConfig         `yaml:"log"`
	Web         WebConfig         `yaml:"web"`
}

type RecognitionConfig struct {
	Dim       int     `yaml:"dim"`       // embedding width D (default 512)
	Threshold float64 `yaml:"threshold"` // strict acceptance threshold (default 0.5)
	Workers   int     `yaml:"workers"`   // goroutines for large candidate pools
}

type EmbeddingConfig struct {
	URL            string `yaml:"url"`             // defaults to http://localhost:8000
	MaxImageSize   int    `yaml:"max_image_size"`  // longest edge before upload, in pixels
	TimeoutSeconds int    `yaml:"timeout_seconds"` // HTTP timeout for the embedding server
}

// Timeout returns the embedding server timeout as a duration.
func (c *EmbeddingConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type DatabaseConfig struct {
	Driver       string `yaml:"driver"`         // postgres or sqlite
	URL          string `yaml:"-"`              // PostgreSQL connection URL
	MaxOpenConns int    `yaml:"max_open_conns"` // Maximum open connections (default 25)
	MaxIdleConns int    `yaml:"max_idle_conns"` // Maximum idle connections (default 5)
	SQLitePath   string `yaml:"sqlite_path"`    // database file for the sqlite driver, ":memory:" allowed
}

type AttendanceConfig struct {
	Timezone string `yaml:"timezone"`  // IANA zone defining the calendar day, "Local" for the host zone
	MarkedBy string `yaml:"marked_by"` // source label stored on records created by recognition
}

// Location resolves Timezone.
func (c *AttendanceConfig) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

type MQTTConfig struct {
	Broker   string `yaml:"broker"` // e.g. tcp://localhost:1883, empty disables publishing
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"`
	Username string `yaml:"-"`
	Password string `yaml:"-"`
}

// Enabled reports whether a broker is configured.
func (c *MQTTConfig) Enabled() bool {
	return c.Broker != ""
}

type LogConfig struct {
	Level  string `yaml:"level"`  // logrus level name
	Format string `yaml:"format"` // text or json
}

type WebConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable as a float.
// Returns the default value if the env var is unset or unparsable.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return defaultVal
}

// envString returns the env var value, or defaultVal when unset or empty.
func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// envList reads a comma-separated list.
func envList(key string, defaultVal []string) []string {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Defaults returns the embedded default configuration without consulting the environment.
func Defaults() *Config {
	var cfg Config
	if err := yaml.Unmarshal(defaultsYAML, &cfg); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}
	return &cfg
}

func Load() *Config {
	d := Defaults()

	return &Config{
		Recognition: RecognitionConfig{
			Dim:       envInt("EMBEDDING_SIZE", d.Recognition.Dim),
			Threshold: envFloat("RECOGNITION_THRESHOLD", d.Recognition.Threshold),
			Workers:   envInt("RECOGNITION_WORKERS", d.Recognition.Workers),
		},
		Embedding: EmbeddingConfig{
			URL:            envString("EMBEDDING_URL", d.Embedding.URL),
			MaxImageSize:   envInt("EMBEDDING_MAX_IMAGE_SIZE", d.Embedding.MaxImageSize),
			TimeoutSeconds: envInt("EMBEDDING_TIMEOUT_SECONDS", d.Embedding.TimeoutSeconds),
		},
		Database: DatabaseConfig{
			Driver:       envString("DATABASE_DRIVER", d.Database.Driver),
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", d.Database.MaxOpenConns),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", d.Database.MaxIdleConns),
			SQLitePath:   envString("SQLITE_PATH", d.Database.SQLitePath),
		},
		Attendance: AttendanceConfig{
			Timezone: envString("ATTENDANCE_TIMEZONE", d.Attendance.Timezone),
			MarkedBy: envString("ATTENDANCE_MARKED_BY", d.Attendance.MarkedBy),
		},
		MQTT: MQTTConfig{
			Broker:   os.Getenv("MQTT_BROKER"),
			ClientID: envString("MQTT_CLIENT_ID", d.MQTT.ClientID),
			Topic:    envString("MQTT_TOPIC", d.MQTT.Topic),
			Username: os.Getenv("MQTT_USERNAME"),
			Password: os.Getenv("MQTT_PASSWORD"),
		},
		Log: LogConfig{
			Level:  envString("LOG_LEVEL", d.Log.Level),
			Format: envString("LOG_FORMAT", d.Log.Format),
		},
		Web: WebConfig{
			Port:           envInt("WEB_PORT", d.Web.Port),
			Host:           envString("WEB_HOST", d.Web.Host),
			AllowedOrigins: envList("WEB_ALLOWED_ORIGINS", d.Web.AllowedOrigins),
		},
	}
}

// Validate reports configuration that makes the service unable to run.
func (c *Config) Validate() error {
	var errs []error

	if c.Recognition.Dim <= 0 {
		errs = append(errs, fmt.Errorf("EMBEDDING_SIZE must be positive, got %d", c.Recognition.Dim))
	}
	if c.Recognition.Threshold < 0 || c.Recognition.Threshold > 1 {
		errs = append(errs, fmt.Errorf("RECOGNITION_THRESHOLD must be within [0, 1], got %v", c.Recognition.Threshold))
	}

	switch c.Database.Driver {
	case DriverPostgres:
		if c.Database.URL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres driver"))
		}
	case DriverSQLite:
		if c.Database.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required for the sqlite driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown DATABASE_DRIVER %q (want %s or %s)", c.Database.Driver, DriverPostgres, DriverSQLite))
	}

	if _, err := c.Attendance.Location(); err != nil {
		errs = append(errs, fmt.Errorf("ATTENDANCE_TIMEZONE: %w", err))
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.Log.Format))
	}

	return errors.Join(errs...)
}
