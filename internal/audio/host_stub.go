//go:build !portaudio
// +build !portaudio

package audio

import "errors"

// ErrNoHost is returned when the binary was built without PortAudio.
var ErrNoHost = errors.New("audio capture not available: rebuild with -tags portaudio")

// PortAudioHost stub when portaudio is not available
type PortAudioHost struct{}

// NewPortAudioHost always fails in builds without the portaudio tag.
func NewPortAudioHost() (*PortAudioHost, error) {
	return nil, ErrNoHost
}

func (h *PortAudioHost) Close() error { return nil }

func (h *PortAudioHost) Devices() ([]DeviceDescriptor, error) { return nil, ErrNoHost }

func (h *PortAudioHost) DefaultInputDevice() (DeviceDescriptor, error) {
	return DeviceDescriptor{}, ErrNoHost
}

func (h *PortAudioHost) OpenInput(StreamConfig) (Stream, error) { return nil, ErrNoHost }
