package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/GriffinCanCode/meetscribe/internal/audio"
	"github.com/GriffinCanCode/meetscribe/internal/config"
	"github.com/GriffinCanCode/meetscribe/internal/export"
	"github.com/GriffinCanCode/meetscribe/internal/pipeline"
	"github.com/GriffinCanCode/meetscribe/internal/recognizer"
)

func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if cfgFile != "" {
		cfg, err = config.LoadFile(cfgFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setupLogger installs the default slog handler.
func setupLogger(w io.Writer, level, format string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var h slog.Handler
	if format == "json" {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(h))
}

// buildEngine connects the configured recognizer backend. The returned
// closer releases its connection.
func buildEngine(cfg *config.Config) (recognizer.Engine, io.Closer, error) {
	switch cfg.RecognizerBackend {
	case config.BackendHTTP:
		client := recognizer.NewHTTPClient(cfg.RecognizerURL, cfg.RecognizerAPIKey,
			recognizer.WithHTTPLanguage(cfg.RecognizerLanguage))
		return recognizer.NewBatch(client, recognizer.DefaultHTTPTimeout), closerFunc(func() error { return nil }), nil
	default:
		client, err := recognizer.DialGRPC(cfg.RecognizerAddr, recognizer.WithLanguage(cfg.RecognizerLanguage))
		if err != nil {
			return nil, nil, fmt.Errorf("connect recognizer at %s: %w", cfg.RecognizerAddr, err)
		}
		return recognizer.NewBatch(client, recognizer.DefaultCallTimeout), client, nil
	}
}

// buildExporter returns the configured transcript sinks, or nil.
func buildExporter(ctx context.Context, cfg *config.Config) (export.Exporter, error) {
	var sinks export.Multi
	if cfg.ExportDir != "" {
		sinks = append(sinks, export.NewFileExporter(cfg.ExportDir))
	}
	if cfg.ExportS3Bucket != "" {
		s3e, err := export.NewS3ExporterFromEnv(ctx, cfg.ExportS3Bucket, cfg.ExportS3Prefix)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s3e)
	}
	switch len(sinks) {
	case 0:
		return nil, nil
	case 1:
		return sinks[0], nil
	default:
		return sinks, nil
	}
}

func pipelineConfig(cfg *config.Config, exp export.Exporter) pipeline.Config {
	return pipeline.Config{
		Window:           cfg.Window(),
		StopTimeout:      cfg.StopTimeout(),
		DrainTimeout:     cfg.DrainTimeout(),
		QueueFrames:      cfg.QueueFrames,
		SilenceThreshold: cfg.SilenceThreshold,
		ExcludedDevices:  cfg.ExcludedAudioDevices,
		ArchiveDir:       cfg.ArchiveDir,
		Exporter:         exp,
	}
}

func sessionOptions(cfg *config.Config) pipeline.Options {
	opts := pipeline.DefaultOptions()
	opts.MicIndex = cfg.MicDevice
	opts.SystemIndex = cfg.SystemDevice
	return opts
}

func sources(cfg *config.Config) []audio.Source {
	var out []audio.Source
	if cfg.CaptureMic {
		out = append(out, audio.Mic)
	}
	if cfg.CaptureSystemAudio {
		out = append(out, audio.System)
	}
	return out
}

func openHost() (*audio.PortAudioHost, error) {
	host, err := audio.NewPortAudioHost()
	if err != nil {
		return nil, fmt.Errorf("open audio host: %w", err)
	}
	return host, nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
