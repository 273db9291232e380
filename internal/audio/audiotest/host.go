// Package audiotest provides an in-memory audio.Host for tests.
package audiotest

import (
	"errors"
	"sync"
	"time"

	"github.com/GriffinCanCode/meetscribe/internal/audio"
)

// Signal produces the samples for the n-th callback of a stream.
type Signal func(n int) []int16

// Tone returns a square wave of the given amplitude, one full buffer per callback.
func Tone(amplitude int16) Signal {
	return func(int) []int16 {
		buf := make([]int16, audio.FramesPerBuffer)
		for i := range buf {
			if (i/16)%2 == 0 {
				buf[i] = amplitude
			} else {
				buf[i] = -amplitude
			}
		}
		return buf
	}
}

// Silence returns all-zero buffers.
func Silence() Signal {
	return func(int) []int16 { return make([]int16, audio.FramesPerBuffer) }
}

// Host is a fake audio.Host. Devices with a Signal stream automatically
// once started; others are driven manually through Stream.Emit.
type Host struct {
	mu         sync.Mutex
	devices    []audio.DeviceDescriptor
	defaultIdx int
	enumErr    error
	openErr    map[int]error
	signals    map[int]Signal
	interval   time.Duration
	streams    map[int][]*Stream
	opens      map[int]int
}

// NewHost creates a host listing devs. The first device is the default input.
func NewHost(devs ...audio.DeviceDescriptor) *Host {
	h := &Host{
		devices:  devs,
		openErr:  make(map[int]error),
		signals:  make(map[int]Signal),
		streams:  make(map[int][]*Stream),
		opens:    make(map[int]int),
		interval: 5 * time.Millisecond,
	}
	if len(devs) > 0 {
		h.defaultIdx = devs[0].Index
	}
	return h
}

// Input is a convenience constructor for an input device descriptor.
func Input(index int, name string) audio.DeviceDescriptor {
	return audio.DeviceDescriptor{
		Index:             index,
		Name:              name,
		HostAPI:           "fake",
		MaxInputChannels:  1,
		DefaultSampleRate: audio.SampleRate,
	}
}

// Output is a convenience constructor for an output-only device descriptor.
func Output(index int, name string) audio.DeviceDescriptor {
	return audio.DeviceDescriptor{
		Index:             index,
		Name:              name,
		HostAPI:           "fake",
		MaxOutputChannels: 2,
		DefaultSampleRate: 48000,
	}
}

// FailEnumeration makes Devices return err.
func (h *Host) FailEnumeration(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.enumErr = err
}

// FailOpen makes OpenInput on device index return err.
func (h *Host) FailOpen(index int, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.openErr[index] = err
}

// SetSignal makes streams on device index generate samples automatically.
func (h *Host) SetSignal(index int, sig Signal) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.signals[index] = sig
}

// SetInterval sets the callback period for signal-driven streams.
func (h *Host) SetInterval(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.interval = d
}

func (h *Host) Devices() ([]audio.DeviceDescriptor, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.enumErr != nil {
		return nil, h.enumErr
	}
	return append([]audio.DeviceDescriptor(nil), h.devices...), nil
}

func (h *Host) DefaultInputDevice() (audio.DeviceDescriptor, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, d := range h.devices {
		if d.Index == h.defaultIdx {
			return d, nil
		}
	}
	return audio.DeviceDescriptor{}, errors.New("no default input")
}

func (h *Host) OpenInput(cfg audio.StreamConfig) (audio.Stream, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.openErr[cfg.Device.Index]; err != nil {
		return nil, err
	}
	s := &Stream{cfg: cfg, signal: h.signals[cfg.Device.Index], interval: h.interval}
	h.streams[cfg.Device.Index] = append(h.streams[cfg.Device.Index], s)
	h.opens[cfg.Device.Index]++
	return s, nil
}

// Opens returns how many times device index was opened.
func (h *Host) Opens(index int) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.opens[index]
}

// Stream returns the most recently opened stream on device index.
func (h *Host) Stream(index int) *Stream {
	h.mu.Lock()
	defer h.mu.Unlock()
	ss := h.streams[index]
	if len(ss) == 0 {
		return nil
	}
	return ss[len(ss)-1]
}

// Stream is a fake audio.Stream.
type Stream struct {
	cfg      audio.StreamConfig
	signal   Signal
	interval time.Duration

	mu      sync.Mutex
	started bool
	closed  bool
	stop    chan struct{}
	done    chan struct{}
	stopErr error
	hang    time.Duration
}

// Start begins streaming. Signal-driven streams call back every interval.
func (s *Stream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
	if s.signal == nil {
		return nil
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.run(s.stop, s.done)
	return nil
}

func (s *Stream) run(stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for n := 0; ; n++ {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.cfg.OnSamples(s.signal(n))
		}
	}
}

// HangOnStop makes Stop block for d before returning.
func (s *Stream) HangOnStop(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hang = d
}

func (s *Stream) Stop() error {
	s.mu.Lock()
	hang := s.hang
	stop, done := s.stop, s.done
	s.stop = nil
	s.started = false
	s.mu.Unlock()

	if hang > 0 {
		time.Sleep(hang)
	}
	if stop != nil {
		close(stop)
		<-done
	}
	return s.stopErr
}

func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Emit delivers samples through the driver callback.
func (s *Stream) Emit(samples []int16) {
	s.cfg.OnSamples(samples)
}

// Crash reports a mid-stream driver error.
func (s *Stream) Crash(err error) {
	if s.cfg.OnError != nil {
		s.cfg.OnError(err)
	}
}
