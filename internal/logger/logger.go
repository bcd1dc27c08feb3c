// Package logger configures the process-wide logrus logger.
package logger

import (
	"io"
	"os"

	"github.com/kozaktomas/face-attendance/internal/config"
	log "github.com/sirupsen/logrus"
)

// Init initializes the global logger based on the provided configuration.
func Init(cfg config.LogConfig) {
	Configure(log.StandardLogger(), cfg, os.Stderr)
}

// Configure applies level, format and output to l.
func Configure(l *log.Logger, cfg config.LogConfig, out io.Writer) {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		l.Warnf("Invalid log level '%s', defaulting to 'info': %v", cfg.Level, err)
		level = log.InfoLevel
	}
	l.SetLevel(level)

	if cfg.Format == "json" {
		l.SetFormatter(&log.JSONFormatter{})
	} else {
		l.SetFormatter(&log.TextFormatter{
			FullTimestamp: true,
		})
	}

	l.SetOutput(out)
}
