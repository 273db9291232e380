package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/meetscribe/internal/audio"
	"github.com/GriffinCanCode/meetscribe/internal/audio/audiotest"
	"github.com/GriffinCanCode/meetscribe/internal/config"
	"github.com/GriffinCanCode/meetscribe/internal/export"
	"github.com/GriffinCanCode/meetscribe/internal/pipeline"
)

func TestSetupLogger(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	setupLogger(&buf, "warn", "json")
	slog.Info("hidden")
	slog.Warn("shown", "k", "v")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("want one JSON record, got %q", buf.String())
	}
	if rec["msg"] != "shown" || rec["k"] != "v" {
		t.Errorf("record = %v", rec)
	}
}

func TestSources(t *testing.T) {
	cfg := config.Default()
	if got := sources(cfg); len(got) != 2 || got[0] != audio.Mic || got[1] != audio.System {
		t.Errorf("sources = %v", got)
	}
	cfg.CaptureSystemAudio = false
	if got := sources(cfg); len(got) != 1 || got[0] != audio.Mic {
		t.Errorf("mic only = %v", got)
	}
}

func TestPipelineWiring(t *testing.T) {
	cfg := config.Default()
	cfg.SegmentSeconds = 3
	cfg.MicDevice = 4

	pcfg := pipelineConfig(cfg, nil)
	if pcfg.Window.Seconds() != 3 || pcfg.QueueFrames != cfg.QueueFrames {
		t.Errorf("pipeline config = %+v", pcfg)
	}
	opts := sessionOptions(cfg)
	if opts.MicIndex != 4 || opts.SystemIndex != pipeline.AutoDevice {
		t.Errorf("options = %+v", opts)
	}
}

func TestBuildExporter(t *testing.T) {
	cfg := config.Default()
	cfg.ExportDir = ""
	exp, err := buildExporter(context.Background(), cfg)
	if err != nil || exp != nil {
		t.Errorf("no sinks = %v, %v", exp, err)
	}

	cfg.ExportDir = t.TempDir()
	exp, err = buildExporter(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := exp.(*export.FileExporter); !ok {
		t.Errorf("exporter = %T", exp)
	}
}

func TestBuildEngineHTTP(t *testing.T) {
	cfg := config.Default()
	cfg.RecognizerBackend = config.BackendHTTP
	cfg.RecognizerURL = "http://127.0.0.1:1"
	engine, closer, err := buildEngine(cfg)
	if err != nil || engine == nil {
		t.Fatalf("buildEngine = %v, %v", engine, err)
	}
	if err := closer.Close(); err != nil {
		t.Error(err)
	}
}

func TestListDevices(t *testing.T) {
	host := audiotest.NewHost(
		audiotest.Input(0, "MacBook Pro Microphone"),
		audiotest.Input(1, "Стерео микшер (Realtek)"),
		audiotest.Output(2, "Speakers"),
	)
	var buf bytes.Buffer
	if err := listDevices(&buf, audio.NewCatalog(host, nil), false); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"MacBook Pro Microphone", "mixer", "output"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	host.FailEnumeration(context.Canceled)
	if err := listDevices(&buf, audio.NewCatalog(host, nil), true); err == nil {
		t.Error("enumeration failure should be returned")
	}
}

func TestRecordFlags(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		mic, sys bool
		micIdx   int
		sysIdx   int
		wantErr  bool
	}{
		{name: "defaults", mic: true, sys: true, micIdx: -1, sysIdx: -1},
		{name: "system only", args: []string{"--sources", "system"}, sys: true, micIdx: -1, sysIdx: -1},
		{name: "device indices", args: []string{"--mic", "2", "--system", "5"}, mic: true, sys: true, micIdx: 2, sysIdx: 5},
		{name: "unknown source", args: []string{"--sources", "camera"}, wantErr: true},
		{name: "empty sources", args: []string{"--sources", ""}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := &cobra.Command{Use: "record"}
			bindRecordFlags(cmd)
			if err := cmd.ParseFlags(tt.args); err != nil {
				t.Fatal(err)
			}
			cfg := config.Default()
			err := applyRecordFlags(cmd, cfg)
			if tt.wantErr {
				if err == nil {
					t.Error("applyRecordFlags() = nil, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("applyRecordFlags() = %v", err)
			}
			if cfg.CaptureMic != tt.mic || cfg.CaptureSystemAudio != tt.sys {
				t.Errorf("capture mic=%v system=%v", cfg.CaptureMic, cfg.CaptureSystemAudio)
			}
			if cfg.MicDevice != tt.micIdx || cfg.SystemDevice != tt.sysIdx {
				t.Errorf("devices mic=%d system=%d", cfg.MicDevice, cfg.SystemDevice)
			}
		})
	}
}

func TestHelpMentionsBuildTag(t *testing.T) {
	if !strings.Contains(rootCmd.Long, "-tags portaudio") {
		t.Errorf("root help does not explain the portaudio build tag:\n%s", rootCmd.Long)
	}
}
