//go:build portaudio
// +build portaudio

package audio

import (
	"fmt"
	"log/slog"

	"github.com/gordonklaus/portaudio"
)

// PortAudioHost is the Host backed by the PortAudio library.
type PortAudioHost struct{}

// NewPortAudioHost initializes PortAudio. Close must be called to release it.
func NewPortAudioHost() (*PortAudioHost, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initializing portaudio: %w", err)
	}
	return &PortAudioHost{}, nil
}

// Close terminates PortAudio.
func (h *PortAudioHost) Close() error {
	return portaudio.Terminate()
}

// Devices lists every device the host APIs report.
func (h *PortAudioHost) Devices() ([]DeviceDescriptor, error) {
	devs, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	out := make([]DeviceDescriptor, 0, len(devs))
	for _, d := range devs {
		out = append(out, describe(d))
	}
	return out, nil
}

// DefaultInputDevice returns the host's default input.
func (h *PortAudioHost) DefaultInputDevice() (DeviceDescriptor, error) {
	d, err := portaudio.DefaultInputDevice()
	if err != nil {
		return DeviceDescriptor{}, err
	}
	return describe(d), nil
}

func describe(d *portaudio.DeviceInfo) DeviceDescriptor {
	desc := DeviceDescriptor{
		Index:             d.Index,
		Name:              d.Name,
		MaxInputChannels:  d.MaxInputChannels,
		MaxOutputChannels: d.MaxOutputChannels,
		DefaultSampleRate: d.DefaultSampleRate,
	}
	if d.HostApi != nil {
		desc.HostAPI = d.HostApi.Name
	}
	return desc
}

// OpenInput opens a mono callback stream on cfg.Device. If the device
// rejects cfg.SampleRate it is opened at its native rate and the callback
// output is resampled.
func (h *PortAudioHost) OpenInput(cfg StreamConfig) (Stream, error) {
	dev, err := lookup(cfg.Device.Index)
	if err != nil {
		return nil, err
	}

	stream, err := openCallback(dev, cfg.SampleRate, cfg.FramesPerBuffer, cfg.OnSamples)
	if err == nil {
		return stream, nil
	}
	if dev.DefaultSampleRate <= 0 || dev.DefaultSampleRate == cfg.SampleRate {
		return nil, err
	}

	slog.Info("device rejected capture rate, resampling",
		"device", dev.Name, "want", cfg.SampleRate, "native", dev.DefaultSampleRate, "error", err)

	rs, rerr := newResampler(dev.DefaultSampleRate, cfg.SampleRate)
	if rerr != nil {
		return nil, fmt.Errorf("%w (resampler: %v)", err, rerr)
	}
	native := int(float64(cfg.FramesPerBuffer) * dev.DefaultSampleRate / cfg.SampleRate)
	stream, err = openCallback(dev, dev.DefaultSampleRate, native, func(in []int16) {
		out, err := rs.Process(in)
		if err != nil {
			if cfg.OnError != nil {
				cfg.OnError(err)
			}
			return
		}
		if len(out) > 0 {
			cfg.OnSamples(out)
		}
	})
	if err != nil {
		_ = rs.Close()
		return nil, err
	}
	return &resampledStream{paStream: stream, rs: rs}, nil
}

func lookup(index int) (*portaudio.DeviceInfo, error) {
	devs, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	for _, d := range devs {
		if d.Index == index {
			return d, nil
		}
	}
	return nil, fmt.Errorf("device %d disappeared", index)
}

type paStream struct {
	*portaudio.Stream
}

func openCallback(dev *portaudio.DeviceInfo, rate float64, frames int, fn func([]int16)) (*paStream, error) {
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: Channels,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      rate,
		FramesPerBuffer: frames,
	}
	s, err := portaudio.OpenStream(params, fn)
	if err != nil {
		return nil, err
	}
	return &paStream{Stream: s}, nil
}

type resampledStream struct {
	*paStream
	rs *resampler
}

func (s *resampledStream) Close() error {
	err := s.paStream.Close()
	_ = s.rs.Close()
	return err
}
