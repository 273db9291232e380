// Package recorder cycles capture sources through fixed-length windows and
// hands each window's audio off as a Segment.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/GriffinCanCode/meetscribe/internal/audio"
	apperrors "github.com/GriffinCanCode/meetscribe/internal/errors"
	"github.com/GriffinCanCode/meetscribe/internal/syncx"
)

// State of the recorder.
type State int

const (
	Idle State = iota
	Recording
	Flushing
	Stopped
)

func (s State) String() string {
	return [...]string{"idle", "recording", "flushing", "stopped"}[s]
}

var (
	// ErrAllSourcesFailed ends a session: no capture source is left.
	ErrAllSourcesFailed = apperrors.Wrap(
		apperrors.New(apperrors.CodeCapture, "no capture source left"),
		apperrors.CodePipelineLifecycle, "all capture sources failed")

	// ErrStopped is returned by Next after the final segment.
	ErrStopped = apperrors.New(apperrors.CodePipelineLifecycle, "recorder stopped")
)

// Input pairs a capture source with the device it records from.
type Input struct {
	Source *audio.CaptureSource
	Device audio.DeviceDescriptor
}

// SourceFailure reports a source lost during a segment.
type SourceFailure struct {
	Source audio.Source
	Err    error
}

// Segment is one window of audio, one buffer per healthy source.
type Segment struct {
	Index      int
	Start      time.Time
	End        time.Time
	Buffers    map[audio.Source][]int16
	Degraded   []SourceFailure
	RestartGap time.Duration
	Final      bool
}

// Config controls window timing.
type Config struct {
	Window       time.Duration
	DrainTimeout time.Duration
	// PopTimeout is the consumer's idle wake-up, used for stall checks.
	PopTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = DefaultDrainTimeout
	}
	if c.PopTimeout <= 0 {
		c.PopTimeout = DefaultPopTimeout
	}
	return c
}

// Recorder owns the sources for one session. Next must be called from a
// single goroutine.
type Recorder struct {
	cfg    Config
	inputs []Input
	state  *syncx.RWGuard[State]

	cancel    context.CancelFunc
	consumers map[audio.Source]*consumer
	allFailed chan struct{}
	reported  map[audio.Source]bool

	index       int
	windowStart time.Time
	lastGap     time.Duration
	releaseOnce sync.Once
}

// New creates a recorder over inputs.
func New(cfg Config, inputs ...Input) *Recorder {
	return &Recorder{
		cfg:       cfg.withDefaults(),
		inputs:    inputs,
		state:     syncx.NewGuard(Idle),
		consumers: make(map[audio.Source]*consumer),
		allFailed: make(chan struct{}),
		reported:  make(map[audio.Source]bool),
	}
}

// State returns the current state.
func (r *Recorder) State() State { return r.state.Get() }

// Start opens every source and starts one consumer per source. A source
// that cannot be opened is reported in the first segment; if none opens,
// ErrAllSourcesFailed is returned.
func (r *Recorder) Start(ctx context.Context) error {
	if !syncx.Transition(r.state, Idle, Recording) {
		return apperrors.Newf(apperrors.CodePipelineLifecycle, "recorder already %s", r.State())
	}
	if len(r.inputs) == 0 {
		r.state.Set(Stopped)
		return apperrors.New(apperrors.CodeInvalidArgument, "no capture sources selected")
	}

	ctx, r.cancel = context.WithCancel(ctx)
	opened := 0
	for _, in := range r.inputs {
		if err := in.Source.Start(in.Device); err != nil {
			slog.Warn("capture source did not start", "source", in.Source.Source(), "device", in.Device.Name, "error", err)
			continue
		}
		opened++
	}
	if opened == 0 {
		r.cancel()
		r.state.Set(Stopped)
		return fmt.Errorf("%w: %w", ErrAllSourcesFailed, r.inputs[0].Source.Err())
	}

	for _, in := range r.inputs {
		c := newConsumer(in.Source, r.cfg.PopTimeout)
		r.consumers[in.Source.Source()] = c
		go c.run(ctx)
	}
	go r.watchFailures(ctx)

	r.windowStart = time.Now()
	return nil
}

func (r *Recorder) watchFailures(ctx context.Context) {
	for _, in := range r.inputs {
		select {
		case <-in.Source.Failed():
		case <-ctx.Done():
			return
		}
	}
	close(r.allFailed)
}

// Next blocks until the current window elapses, stop is closed, or every
// source has failed, then returns the window's segment. Sources are
// restarted before Next returns unless the segment is final.
func (r *Recorder) Next(stop <-chan struct{}) (Segment, error) {
	if r.State() != Recording {
		return Segment{}, ErrStopped
	}

	wait := time.NewTimer(max(r.cfg.Window-time.Since(r.windowStart), 0))
	defer wait.Stop()

	final, lost := false, false
	select {
	case <-wait.C:
	case <-stop:
		final = true
	case <-r.allFailed:
		lost = true
	}
	if !final && !lost {
		// stop may have been requested while the timer fired
		select {
		case <-stop:
			final = true
		default:
		}
	}

	if !syncx.Transition(r.state, Recording, Flushing) {
		return Segment{}, ErrStopped
	}
	seg := Segment{
		Index:      r.index,
		Start:      r.windowStart,
		End:        time.Now(),
		Buffers:    make(map[audio.Source][]int16),
		RestartGap: r.lastGap,
	}
	r.index++

	r.stopAll()
	r.collectFailures(&seg)
	for _, in := range r.inputs {
		src := in.Source
		if src.State() == audio.SourceFailed {
			continue
		}
		buf, ok := r.consumers[src.Source()].flush(r.cfg.DrainTimeout)
		if !ok {
			slog.Warn("segment flush timed out", "source", src.Source(), "segment", seg.Index)
			continue
		}
		seg.Buffers[src.Source()] = buf
	}

	if r.State() == Stopped {
		// aborted while flushing
		final = true
	}
	if !lost && !final && !r.restartHealthy(seg.End) {
		lost = true
		r.collectFailures(&seg)
	}

	for _, in := range r.inputs {
		st := in.Source.Stats()
		slog.Debug("segment closed",
			"segment", seg.Index, "source", in.Source.Source(), "samples", len(seg.Buffers[in.Source.Source()]),
			"captured", st.Captured, "dropped", st.Dropped, "discarded", st.Discarded)
	}

	switch {
	case lost:
		seg.Final = true
		r.shutdown()
		return seg, ErrAllSourcesFailed
	case final:
		seg.Final = true
		r.shutdown()
		return seg, nil
	default:
		r.windowStart = time.Now()
		if !syncx.Transition(r.state, Flushing, Recording) {
			r.releaseAll()
			seg.Final = true
		}
		return seg, nil
	}
}

// collectFailures adds each newly failed source to seg. A source is
// reported at most once per session.
func (r *Recorder) collectFailures(seg *Segment) {
	for _, in := range r.inputs {
		src := in.Source
		if src.State() != audio.SourceFailed || r.reported[src.Source()] {
			continue
		}
		r.reported[src.Source()] = true
		seg.Degraded = append(seg.Degraded, SourceFailure{Source: src.Source(), Err: src.Err()})
	}
}

// stopAll stops every running source in parallel, bounded by the drain
// timeout. Queued frames are left for each source's consumer.
func (r *Recorder) stopAll() {
	var wg sync.WaitGroup
	for _, in := range r.inputs {
		if in.Source.State() != audio.SourceRunning {
			continue
		}
		wg.Add(1)
		go func(s *audio.CaptureSource) {
			defer wg.Done()
			s.Stop()
		}(in.Source)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	timer := time.NewTimer(r.cfg.DrainTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		slog.Warn("source stop timed out", "timeout", r.cfg.DrainTimeout)
	}
}

// restartHealthy restarts every source that is not failed. It returns
// false if no source is running afterwards.
func (r *Recorder) restartHealthy(stoppedAt time.Time) bool {
	running := 0
	for _, in := range r.inputs {
		if in.Source.State() == audio.SourceFailed {
			continue
		}
		if err := in.Source.Restart(); err != nil {
			slog.Warn("capture source restart failed", "source", in.Source.Source(), "error", err)
			continue
		}
		running++
	}
	r.lastGap = time.Since(stoppedAt)
	slog.Debug("sources restarted", "gap", r.lastGap, "running", running)
	return running > 0
}

func (r *Recorder) shutdown() {
	r.state.Set(Stopped)
	r.releaseOnce.Do(func() {
		if r.cancel != nil {
			r.cancel()
		}
	})
}

// Abort force-releases every source without draining. Used when a bounded
// stop has timed out; a concurrent Next returns whatever it had.
func (r *Recorder) Abort() {
	r.releaseAll()
	r.shutdown()
}

func (r *Recorder) releaseAll() {
	for _, in := range r.inputs {
		in.Source.Release()
	}
}

// Err reports why the recorder stopped, if it stopped because of lost sources.
func (r *Recorder) Err() error {
	select {
	case <-r.allFailed:
		return ErrAllSourcesFailed
	default:
		return nil
	}
}

// IsAllSourcesFailed reports whether err signals loss of every source.
func IsAllSourcesFailed(err error) bool {
	return errors.Is(err, ErrAllSourcesFailed)
}
