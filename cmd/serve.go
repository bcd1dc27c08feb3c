package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/events"
	"github.com/kozaktomas/face-attendance/internal/web"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server",
	Long: `Start the Face Attendance HTTP API.

Kiosks post a face embedding or a photo to /api/v1/attendance/recognize and
receive the recognition result together with the attendance outcome.
Enrolment, manual marks and attendance reports are served under /api/v1.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides WEB_PORT)")
	serveCmd.Flags().String("host", "", "Host to bind to (overrides WEB_HOST)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if port := mustGetInt(cmd, "port"); port > 0 {
		cfg.Web.Port = port
	}
	if host := mustGetString(cmd, "host"); host != "" {
		cfg.Web.Host = host
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := initBackend(ctx, cfg); err != nil {
		return err
	}
	defer database.Close()

	publisher, err := events.New(cfg.MQTT)
	if err != nil {
		log.WithError(err).Warn("MQTT unavailable, attendance events will not be published")
		publisher = events.Noop{}
	}
	defer publisher.Close()

	opts, err := serviceOptions(cfg, publisher)
	if err != nil {
		return err
	}

	emb := newEmbedder(cfg)
	if err := emb.Ping(ctx); err != nil {
		log.WithError(err).Warn("Embedding server not reachable, photo uploads will fail until it is")
	}

	server := web.NewServer(cfg, opts, emb, Version)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Error("Error during shutdown")
		}
	}()

	log.WithFields(log.Fields{
		"backend":   database.BackendName(),
		"threshold": opts.Threshold,
		"dim":       opts.Dim,
		"timezone":  opts.Location.String(),
	}).Info("Face Attendance API ready")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
