package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/meetscribe/internal/audio"
	"github.com/GriffinCanCode/meetscribe/internal/config"
	"github.com/GriffinCanCode/meetscribe/internal/pause"
	"github.com/GriffinCanCode/meetscribe/internal/pipeline"
	"github.com/GriffinCanCode/meetscribe/internal/transcript"
)

var (
	recordOutput  string
	recordSources []string
	recordMic     int
	recordSystem  int
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record and transcribe until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRecord(cmd)
	},
}

func init() {
	bindRecordFlags(recordCmd)
}

func bindRecordFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&recordOutput, "output", "o", "", "write the transcript to this file on stop")
	cmd.Flags().StringSliceVar(&recordSources, "sources", nil, "sources to capture: mic, system (default from config)")
	cmd.Flags().IntVar(&recordMic, "mic", pipeline.AutoDevice, "microphone device index, -1 picks automatically")
	cmd.Flags().IntVar(&recordSystem, "system", pipeline.AutoDevice, "loopback device index, -1 picks automatically")
}

// applyRecordFlags overrides config with the flags the user set.
func applyRecordFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("sources") {
		cfg.CaptureMic, cfg.CaptureSystemAudio = false, false
		for _, name := range recordSources {
			src, err := audio.ParseSource(name)
			if err != nil {
				return err
			}
			switch src {
			case audio.Mic:
				cfg.CaptureMic = true
			case audio.System:
				cfg.CaptureSystemAudio = true
			}
		}
	}
	if flags.Changed("mic") {
		cfg.MicDevice = recordMic
	}
	if flags.Changed("system") {
		cfg.SystemDevice = recordSystem
	}
	return cfg.Validate()
}

func runRecord(cmd *cobra.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := applyRecordFlags(cmd, cfg); err != nil {
		return err
	}
	setupLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)

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

	ctx := context.Background()
	exp, err := buildExporter(ctx, cfg)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	p := pipeline.New(engine, host, pause.New(), pipelineConfig(cfg, exp))
	opts := sessionOptions(cfg)
	opts.OnEntry = func(e transcript.Entry) { fmt.Fprintln(out, e.String()) }

	if err := p.Start(ctx, sources(cfg), opts); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	select {
	case <-sigCh:
	case <-p.Done():
	}

	store, stopErr := p.Stop()
	if recordOutput != "" && store != nil {
		if err := store.Save(recordOutput); err != nil {
			return fmt.Errorf("save transcript: %w", err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "transcript saved to %s\n", recordOutput)
	}
	if err := p.Err(); err != nil {
		return err
	}
	return stopErr
}
