// Package audio enumerates OS audio devices and captures fixed-format PCM
// frames from them into bounded per-source queues.
package audio

import (
	"fmt"
	"time"
)

// Source identifies one of the two capture streams.
type Source int

const (
	Mic Source = iota
	System
)

func (s Source) String() string {
	switch s {
	case Mic:
		return "mic"
	case System:
		return "system"
	default:
		return fmt.Sprintf("source(%d)", int(s))
	}
}

// ParseSource maps "mic"/"system" to a Source.
func ParseSource(name string) (Source, error) {
	switch name {
	case "mic", "microphone":
		return Mic, nil
	case "system", "loopback":
		return System, nil
	default:
		return 0, fmt.Errorf("unknown audio source %q", name)
	}
}

// Frame is one driver callback worth of samples.
type Frame struct {
	Source   Source
	Samples  []int16
	Captured time.Time
}

// Class is the role a device plays for capture.
type Class int

const (
	Standard Class = iota
	Loopback
	Mixer
)

func (c Class) String() string {
	switch c {
	case Loopback:
		return "loopback"
	case Mixer:
		return "mixer"
	default:
		return "standard"
	}
}

// MarshalText renders the class name in JSON.
func (c Class) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// DeviceDescriptor describes an OS audio device. Recomputed on every
// catalog call; never cached.
type DeviceDescriptor struct {
	Index             int     `json:"index"`
	Name              string  `json:"name"`
	HostAPI           string  `json:"host_api"`
	MaxInputChannels  int     `json:"max_input_channels"`
	MaxOutputChannels int     `json:"max_output_channels"`
	DefaultSampleRate float64 `json:"default_sample_rate"`
	Class             Class   `json:"class"`
}

// StreamConfig describes an input stream to open.
type StreamConfig struct {
	Device          DeviceDescriptor
	SampleRate      float64
	FramesPerBuffer int
	// OnSamples runs on the driver thread. It must not block and must not
	// retain the slice.
	OnSamples func([]int16)
	// OnError reports a mid-stream driver failure.
	OnError func(error)
}

// Stream is an open input stream.
type Stream interface {
	Start() error
	Stop() error
	Close() error
}

// Host is the OS audio subsystem.
type Host interface {
	Devices() ([]DeviceDescriptor, error)
	DefaultInputDevice() (DeviceDescriptor, error)
	OpenInput(cfg StreamConfig) (Stream, error)
}
