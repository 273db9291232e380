package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/meetscribe/internal/audio"
	"github.com/GriffinCanCode/meetscribe/internal/pause"
	"github.com/GriffinCanCode/meetscribe/internal/pipeline"
	"github.com/GriffinCanCode/meetscribe/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP/WebSocket control server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func runServe() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	setupLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)

	host, err := openHost()
	if err != nil {
		return err
	}
	defer func() { _ = host.Close() }()

	engine, closer, err := buildEngine(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	exp, err := buildExporter(ctx, cfg)
	if err != nil {
		return err
	}

	gate := pause.New()
	pcfg := pipelineConfig(cfg, exp)
	srv := server.New(server.Options{
		NewSession: func() server.Session { return pipeline.New(engine, host, gate, pcfg) },
		Devices:    audio.NewCatalog(host, cfg.ExcludedAudioDevices),
		Pause:      gate,
		Exporter:   exp,
		Sources:    sources(cfg),
		Defaults:   sessionOptions(cfg),
	})

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("meetscribe server starting", "http", cfg.HTTPAddr, "recognizer", cfg.RecognizerBackend)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	slog.Info("shutting down...")
	srv.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}
	slog.Info("shutdown complete")
	return nil
}
