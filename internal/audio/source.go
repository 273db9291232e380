package audio

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/GriffinCanCode/meetscribe/internal/errors"
)

// SourceState is the lifecycle state of a CaptureSource.
type SourceState int32

const (
	SourceIdle SourceState = iota
	SourceRunning
	SourceStopped
	SourceFailed
)

func (s SourceState) String() string {
	return [...]string{"idle", "running", "stopped", "failed"}[s]
}

// ErrStalled is the cause recorded when the driver stops calling back.
var ErrStalled = errors.New("no audio callback within stall timeout")

// Gate reports whether capture is currently paused.
type Gate interface {
	Paused() bool
}

// Stats counts frames seen by a source.
type Stats struct {
	Captured  uint64 `json:"captured"`
	Dropped   uint64 `json:"dropped"`   // queue full
	Discarded uint64 `json:"discarded"` // paused
}

// SourceOption configures a CaptureSource.
type SourceOption func(*CaptureSource)

// WithQueueFrames sets the bounded queue capacity.
func WithQueueFrames(n int) SourceOption {
	return func(s *CaptureSource) {
		if n > 0 {
			s.queueSize = n
		}
	}
}

// WithGate makes the source discard frames while g reports paused.
func WithGate(g Gate) SourceOption {
	return func(s *CaptureSource) { s.gate = g }
}

// WithStallTimeout sets how long a running stream may go without a callback.
func WithStallTimeout(d time.Duration) SourceOption {
	return func(s *CaptureSource) {
		if d > 0 {
			s.stallTimeout = d
		}
	}
}

// WithStopTimeout bounds the wait for the driver to stop the stream.
func WithStopTimeout(d time.Duration) SourceOption {
	return func(s *CaptureSource) {
		if d > 0 {
			s.stopTimeout = d
		}
	}
}

// CaptureSource owns one device stream and its bounded frame queue.
// The driver callback only ever performs a non-blocking enqueue.
type CaptureSource struct {
	src          Source
	host         Host
	gate         Gate
	queueSize    int
	stallTimeout time.Duration
	stopTimeout  time.Duration
	log          *slog.Logger

	queue  chan Frame
	failed chan struct{}

	mu     sync.Mutex
	state  SourceState
	device DeviceDescriptor
	stream Stream
	err    error

	running      atomic.Bool
	paused       atomic.Bool
	lastCallback atomic.Int64 // unix nano
	captured     atomic.Uint64
	dropped      atomic.Uint64
	discarded    atomic.Uint64
	failOnce     sync.Once
}

// NewCaptureSource creates an idle source.
func NewCaptureSource(src Source, host Host, opts ...SourceOption) *CaptureSource {
	s := &CaptureSource{
		src:          src,
		host:         host,
		queueSize:    DefaultQueueFrames,
		stallTimeout: DefaultStallTimeout,
		stopTimeout:  DefaultStopTimeout,
		failed:       make(chan struct{}),
		log:          slog.With("source", src.String()),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.queue = make(chan Frame, s.queueSize)
	return s
}

// Source returns which stream this is.
func (s *CaptureSource) Source() Source { return s.src }

// Frames returns the queue consumers read from.
func (s *CaptureSource) Frames() <-chan Frame { return s.queue }

// Failed is closed once the source enters the failed state.
func (s *CaptureSource) Failed() <-chan struct{} { return s.failed }

// Device returns the device the source was last started on.
func (s *CaptureSource) Device() DeviceDescriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.device
}

// State returns the lifecycle state.
func (s *CaptureSource) State() SourceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the failure cause once the source has failed.
func (s *CaptureSource) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Stats returns frame counters.
func (s *CaptureSource) Stats() Stats {
	return Stats{
		Captured:  s.captured.Load(),
		Dropped:   s.dropped.Load(),
		Discarded: s.discarded.Load(),
	}
}

// SetPaused discards frames while true. The device stays open.
func (s *CaptureSource) SetPaused(paused bool) { s.paused.Store(paused) }

// Start opens dev at SampleRate and starts streaming. An open failure is
// fatal to this source only.
func (s *CaptureSource) Start(dev DeviceDescriptor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case SourceRunning:
		return nil
	case SourceFailed:
		return s.err
	}

	s.device = dev
	stream, err := s.host.OpenInput(StreamConfig{
		Device:          dev,
		SampleRate:      SampleRate,
		FramesPerBuffer: FramesPerBuffer,
		OnSamples:       s.onSamples,
		OnError:         s.Fail,
	})
	if err != nil {
		return s.failLocked(apperrors.Wrapf(err, apperrors.CodeCapture, "open %s device %q", s.src, dev.Name))
	}

	s.lastCallback.Store(time.Now().UnixNano())
	s.running.Store(true)
	if err := stream.Start(); err != nil {
		s.running.Store(false)
		_ = stream.Close()
		return s.failLocked(apperrors.Wrapf(err, apperrors.CodeCapture, "start %s device %q", s.src, dev.Name))
	}

	s.stream = stream
	s.state = SourceRunning
	s.log.Debug("capture started", "device", dev.Name, "index", dev.Index)
	return nil
}

// Restart starts the source again on its previous device.
func (s *CaptureSource) Restart() error {
	return s.Start(s.Device())
}

func (s *CaptureSource) onSamples(samples []int16) {
	if !s.running.Load() {
		return
	}
	now := time.Now()
	s.lastCallback.Store(now.UnixNano())

	if s.paused.Load() || (s.gate != nil && s.gate.Paused()) {
		s.discarded.Add(1)
		return
	}

	frame := Frame{Source: s.src, Samples: append([]int16(nil), samples...), Captured: now}
	select {
	case s.queue <- frame:
		s.captured.Add(1)
	default:
		s.dropped.Add(1)
	}
}

// Stop stops the stream, waiting at most the stop timeout. Frames already
// queued stay queued for the consumer to Drain.
func (s *CaptureSource) Stop() {
	s.mu.Lock()
	stream := s.stream
	s.stream = nil
	if s.state == SourceRunning {
		s.state = SourceStopped
	}
	s.mu.Unlock()

	s.running.Store(false)
	if stream != nil {
		s.stopStream(stream)
	}
}

func (s *CaptureSource) stopStream(stream Stream) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := stream.Stop(); err != nil {
			s.log.Debug("stream stop", "error", err)
		}
		_ = stream.Close()
	}()

	timer := time.NewTimer(s.stopTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		s.log.Warn("stream stop timed out, abandoning", "timeout", s.stopTimeout)
	}
}

// Drain returns every frame still queued, oldest first. Only the queue's
// single consumer may call it.
func (s *CaptureSource) Drain() []Frame {
	var out []Frame
	for {
		select {
		case f := <-s.queue:
			out = append(out, f)
		default:
			return out
		}
	}
}

// Fail moves the source to the failed state for the rest of the session.
// Safe to call from the driver callback.
func (s *CaptureSource) Fail(err error) {
	s.mu.Lock()
	stream := s.stream
	s.stream = nil
	s.failLocked(apperrors.Wrapf(err, apperrors.CodeCapture, "%s capture failed", s.src))
	s.mu.Unlock()

	if stream != nil {
		go func() {
			_ = stream.Stop()
			_ = stream.Close()
		}()
	}
}

func (s *CaptureSource) failLocked(err *apperrors.AppError) error {
	if s.state == SourceFailed {
		return s.err
	}
	s.running.Store(false)
	s.state = SourceFailed
	s.err = err.WithMetadata("device", s.device.Name)
	s.failOnce.Do(func() { close(s.failed) })
	s.log.Warn("capture source failed", "error", err)
	return s.err
}

// CheckStall fails the source if it is running and the driver has not
// called back within the stall timeout. Returns true if it failed it.
func (s *CaptureSource) CheckStall() bool {
	if !s.running.Load() {
		return false
	}
	last := time.Unix(0, s.lastCallback.Load())
	if time.Since(last) < s.stallTimeout {
		return false
	}
	s.Fail(ErrStalled)
	return true
}

// Release closes the stream without waiting. Used when a bounded stop has
// already timed out.
func (s *CaptureSource) Release() {
	s.mu.Lock()
	stream := s.stream
	s.stream = nil
	if s.state == SourceRunning {
		s.state = SourceStopped
	}
	s.mu.Unlock()

	s.running.Store(false)
	if stream != nil {
		go func() { _ = stream.Close() }()
	}
}
