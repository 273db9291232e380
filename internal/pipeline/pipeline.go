// Package pipeline runs a transcription session: it drives the segment
// recorder, feeds each window to a recognizer and appends the results to
// the session transcript.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/GriffinCanCode/meetscribe/internal/archive"
	"github.com/GriffinCanCode/meetscribe/internal/audio"
	apperrors "github.com/GriffinCanCode/meetscribe/internal/errors"
	"github.com/GriffinCanCode/meetscribe/internal/export"
	"github.com/GriffinCanCode/meetscribe/internal/recognizer"
	"github.com/GriffinCanCode/meetscribe/internal/recorder"
	"github.com/GriffinCanCode/meetscribe/internal/syncx"
	"github.com/GriffinCanCode/meetscribe/internal/trace"
	"github.com/GriffinCanCode/meetscribe/internal/transcript"
)

// State of a pipeline. Transitions only move forward.
type State int

const (
	Idle State = iota
	Recording
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ErrNotRunning is returned by Stop when no session is recording.
var ErrNotRunning = apperrors.New(apperrors.CodePipelineLifecycle, "pipeline is not recording")

// Config holds settings shared by every session of a pipeline.
type Config struct {
	Window           time.Duration
	StopTimeout      time.Duration
	DrainTimeout     time.Duration
	StallTimeout     time.Duration
	QueueFrames      int
	SilenceThreshold int
	EventBuffer      int
	ExcludedDevices  []string
	// ArchiveDir enables per-segment WAV files when set.
	ArchiveDir string
	// Exporter receives the transcript on stop when set.
	Exporter export.Exporter
}

func (c Config) withDefaults() Config {
	if c.Window <= 0 {
		c.Window = recorder.DefaultWindow
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = recorder.DefaultDrainTimeout
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = DefaultStopTimeout(c.Window, c.DrainTimeout)
	}
	if c.SilenceThreshold <= 0 {
		c.SilenceThreshold = audio.DefaultSilenceThreshold
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = DefaultEventBuffer
	}
	return c
}

// DefaultStopTimeout covers recognition of two windows plus the final drain.
func DefaultStopTimeout(window, drain time.Duration) time.Duration {
	return StopTimeoutWindows*window + drain
}

// Options select devices and hooks for one session.
type Options struct {
	MicIndex    int
	SystemIndex int
	SessionID   string
	// OnEntry is called synchronously for every appended entry.
	OnEntry func(transcript.Entry)
}

// DefaultOptions picks devices automatically.
func DefaultOptions() Options {
	return Options{MicIndex: AutoDevice, SystemIndex: AutoDevice}
}

// Pipeline is a single-use transcription session.
type Pipeline struct {
	engine recognizer.Engine
	host   audio.Host
	gate   audio.Gate
	cfg    Config

	state   *syncx.RWGuard[State]
	session *syncx.RWGuard[string]
	err     *syncx.RWGuard[error]
	store   *transcript.Store

	// mu serialises Start and Stop.
	mu       sync.Mutex
	rec      *recorder.Recorder
	archive  *archive.Archive
	opts     Options
	cancel   context.CancelFunc
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// New creates an idle pipeline. gate may be nil.
func New(engine recognizer.Engine, host audio.Host, gate audio.Gate, cfg Config) *Pipeline {
	cfg = cfg.withDefaults()
	return &Pipeline{
		engine:  engine,
		host:    host,
		gate:    gate,
		cfg:     cfg,
		state:   syncx.NewGuard(Idle),
		session: syncx.NewGuard(""),
		err:     syncx.NewGuard[error](nil),
		store:   transcript.NewStore(cfg.EventBuffer),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// State returns the lifecycle state.
func (p *Pipeline) State() State { return p.state.Get() }

// SessionID returns the id of the running session, empty before Start.
func (p *Pipeline) SessionID() string { return p.session.Get() }

// Transcript returns the session store.
func (p *Pipeline) Transcript() *transcript.Store { return p.store }

// Done is closed when the segment loop exits, either after Stop or because
// every capture source failed.
func (p *Pipeline) Done() <-chan struct{} { return p.done }

// Err returns why the segment loop ended on its own, if it did.
func (p *Pipeline) Err() error { return p.err.Get() }

// Start resolves devices for sources, opens them and begins the segment
// loop. On error the pipeline stays idle and nothing is left open.
func (p *Pipeline) Start(ctx context.Context, sources []audio.Source, opts Options) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if st := p.State(); st != Idle {
		return apperrors.Newf(apperrors.CodePipelineLifecycle, "pipeline already %s", st)
	}
	if len(sources) == 0 {
		return apperrors.New(apperrors.CodeInvalidArgument, "no capture sources selected")
	}

	id := opts.SessionID
	if id == "" {
		id = uuid.NewString()
	}
	ctx = trace.WithSession(context.WithoutCancel(ctx), id)
	ctx, span := trace.StartSpan(ctx, "pipeline_start")
	defer span.End()
	log := trace.Logger(ctx)

	inputs, err := p.resolve(sources, opts)
	if err != nil {
		span.SetAttr("error", err.Error())
		return err
	}

	var arch *archive.Archive
	if p.cfg.ArchiveDir != "" {
		if arch, err = archive.New(p.cfg.ArchiveDir, id, audio.SampleRate); err != nil {
			return apperrors.Wrap(err, apperrors.CodeExport, "create segment archive")
		}
	}

	rec := recorder.New(recorder.Config{Window: p.cfg.Window, DrainTimeout: p.cfg.DrainTimeout}, inputs...)
	if err := rec.Start(ctx); err != nil {
		span.SetAttr("error", err.Error())
		return err
	}

	ctx, p.cancel = context.WithCancel(ctx)
	p.rec, p.archive, p.opts = rec, arch, opts
	p.session.Set(id)
	p.state.Set(Recording)

	names := make([]string, 0, len(inputs))
	for _, in := range inputs {
		names = append(names, fmt.Sprintf("%s (%s)", sourceName(in.Source.Source()), in.Device.Name))
	}
	p.add(transcript.System, "Recording started: "+strings.Join(names, ", ")+".")
	log.Info("session started", "sources", names, "window", p.cfg.Window)

	go p.run(ctx)
	return nil
}

func (p *Pipeline) resolve(sources []audio.Source, opts Options) ([]recorder.Input, error) {
	sel := audio.Selection{MicIndex: opts.MicIndex, SystemIndex: opts.SystemIndex}
	for _, s := range sources {
		switch s {
		case audio.Mic:
			sel.Mic = true
		case audio.System:
			sel.System = true
		}
	}

	resolved, err := audio.NewCatalog(p.host, p.cfg.ExcludedDevices).Resolve(sel)
	if err != nil {
		return nil, err
	}

	srcOpts := []audio.SourceOption{
		audio.WithQueueFrames(p.cfg.QueueFrames),
		audio.WithStallTimeout(p.cfg.StallTimeout),
	}
	if p.gate != nil {
		srcOpts = append(srcOpts, audio.WithGate(p.gate))
	}

	var inputs []recorder.Input
	if resolved.Mic != nil {
		inputs = append(inputs, recorder.Input{Source: audio.NewCaptureSource(audio.Mic, p.host, srcOpts...), Device: *resolved.Mic})
	}
	if resolved.System != nil {
		inputs = append(inputs, recorder.Input{Source: audio.NewCaptureSource(audio.System, p.host, srcOpts...), Device: *resolved.System})
	}
	if len(inputs) == 0 {
		return nil, apperrors.New(apperrors.CodeCapture, "no capture device available for the selected sources")
	}
	return inputs, nil
}

func (p *Pipeline) run(ctx context.Context) {
	defer close(p.done)
	log := trace.Logger(ctx)

	for {
		seg, err := p.rec.Next(p.stop)
		if errors.Is(err, recorder.ErrStopped) {
			return
		}
		for _, f := range seg.Degraded {
			p.add(transcript.System, fmt.Sprintf("%s capture lost: %v", sourceName(f.Source), f.Err))
		}
		p.process(ctx, seg)

		if recorder.IsAllSourcesFailed(err) {
			log.Error("all capture sources failed, session ending", "segment", seg.Index)
			p.err.Set(err)
			p.add(transcript.System, "All capture sources failed. Recording stopped.")
			return
		}
		if seg.Final {
			return
		}
	}
}

// process recognises one segment and appends its text.
func (p *Pipeline) process(ctx context.Context, seg recorder.Segment) {
	ctx, span := trace.StartSpan(ctx, "process_segment")
	defer span.End()
	span.SetAttr("segment", seg.Index)
	span.SetAttr("restart_gap", seg.RestartGap)
	log := trace.Logger(ctx)

	if p.archive != nil {
		for src, buf := range seg.Buffers {
			if _, err := p.archive.WriteSegment(seg.Index, src.String(), buf); err != nil {
				log.Warn("segment archive failed", "segment", seg.Index, "source", src, "error", err)
			}
		}
	}

	var active []audio.Source
	for _, src := range []audio.Source{audio.Mic, audio.System} {
		if buf, ok := seg.Buffers[src]; ok && !audio.IsSilent(buf, p.cfg.SilenceThreshold) {
			active = append(active, src)
		}
	}

	var (
		samples []int16
		speaker string
	)
	switch len(active) {
	case 0:
		log.Debug("segment silent, skipped", "segment", seg.Index)
		return
	case 1:
		samples, speaker = seg.Buffers[active[0]], speakerFor(active[0])
	default:
		samples, speaker = audio.Mix(seg.Buffers[audio.Mic], seg.Buffers[audio.System]), transcript.Conversation
	}
	span.SetAttr("speaker", speaker)
	span.SetAttr("samples", len(samples))

	texts, err := p.recognize(ctx, samples)
	if err != nil {
		span.SetAttr("error", err.Error())
		log.Warn("segment dropped", "segment", seg.Index, "error", err)
		return
	}
	for _, text := range texts {
		p.add(speaker, text)
	}
	log.Debug("segment transcribed", "segment", seg.Index, "speaker", speaker, "results", len(texts))
}

// recognize feeds samples to a fresh recognizer in BlockSamples blocks.
func (p *Pipeline) recognize(ctx context.Context, samples []int16) ([]string, error) {
	r, err := p.engine.NewRecognizer(ctx, audio.SampleRate)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeRecognizer, "create recognizer")
	}
	defer r.Close()

	var texts []string
	keep := func(res recognizer.Result) {
		if res.HasResult() {
			texts = append(texts, strings.TrimSpace(res.Text))
		}
	}
	for off := 0; off < len(samples); off += recognizer.BlockSamples {
		end := min(off+recognizer.BlockSamples, len(samples))
		boundary, err := r.AcceptSamples(samples[off:end])
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeRecognizer, "accept samples")
		}
		if boundary {
			keep(r.Result())
		}
	}
	final, err := r.FinalResult()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeRecognizer, "final result")
	}
	keep(final)
	return texts, nil
}

func (p *Pipeline) add(speaker, text string) {
	e, ok := p.store.Add(speaker, text)
	if !ok {
		return
	}
	if p.opts.OnEntry != nil {
		p.opts.OnEntry(e)
	}
}

// Stop closes the current window early, waits for it to be transcribed and
// returns the sealed transcript. The wait is bounded by the stop timeout;
// on timeout the sources are released and a Timeout error is returned with
// the transcript so far.
func (p *Pipeline) Stop() (*transcript.Store, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !syncx.Transition(p.state, Recording, Stopping) {
		return nil, ErrNotRunning
	}

	ctx := trace.WithSession(context.Background(), p.SessionID())
	ctx, span := trace.StartSpan(ctx, "pipeline_stop")
	defer span.End()
	log := trace.Logger(ctx)

	p.stopOnce.Do(func() { close(p.stop) })

	var stopErr error
	timer := time.NewTimer(p.cfg.StopTimeout)
	select {
	case <-p.done:
		timer.Stop()
	case <-timer.C:
		log.Error("stop timed out, releasing sources", "timeout", p.cfg.StopTimeout)
		p.rec.Abort()
		stopErr = apperrors.Newf(apperrors.CodeTimeout, "stop timed out after %s", p.cfg.StopTimeout)
	}

	p.add(transcript.System, fmt.Sprintf("Recording stopped. %d fragments transcribed.", p.store.Fragments()))
	p.store.Seal()
	p.cancel()

	if p.cfg.Exporter != nil {
		exportCtx, cancel := context.WithTimeout(ctx, p.cfg.StopTimeout)
		loc, err := p.cfg.Exporter.Export(exportCtx, p.SessionID(), p.store)
		cancel()
		switch {
		case err == nil:
			log.Info("transcript exported", "location", loc)
		case errors.Is(err, transcript.ErrEmpty):
		default:
			log.Error("transcript export failed", "error", err)
			stopErr = errors.Join(stopErr, err)
		}
	}

	p.state.Set(Stopped)
	log.Info("session stopped", "entries", p.store.Len(), "fragments", p.store.Fragments())
	return p.store, stopErr
}

func sourceName(s audio.Source) string {
	if s == audio.Mic {
		return "microphone"
	}
	return "system audio"
}

func speakerFor(s audio.Source) string {
	if s == audio.Mic {
		return transcript.You
	}
	return transcript.Counterpart
}
