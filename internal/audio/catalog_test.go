package audio_test

import (
	"errors"
	"testing"

	"github.com/GriffinCanCode/meetscribe/internal/audio"
	"github.com/GriffinCanCode/meetscribe/internal/audio/audiotest"
	apperrors "github.com/GriffinCanCode/meetscribe/internal/errors"
)

func TestClassify(t *testing.T) {
	c := audio.NewCatalog(audiotest.NewHost(), nil)

	tests := []struct {
		device string
		want   audio.Class
	}{
		{"Stereo Mix (Realtek High Definition Audio)", audio.Mixer},
		{"StereoMix", audio.Mixer},
		{"What U Hear (Sound Blaster)", audio.Mixer},
		{"Стерео микшер (Realtek)", audio.Mixer},
		{"МИКШЕР", audio.Mixer},
		{"BlackHole 2ch", audio.Loopback},
		{"CABLE Output (VB-Audio Virtual Cable)", audio.Loopback},
		{"Monitor of Built-in Audio Analog Stereo", audio.Loopback},
		{"Speakers (WASAPI loopback)", audio.Loopback},
		{"Soundflower (2ch)", audio.Loopback},
		{"Мониторинг динамиков", audio.Loopback},
		{"MacBook Pro Microphone", audio.Standard},
		{"USB Headset", audio.Standard},
	}

	for _, tt := range tests {
		t.Run(tt.device, func(t *testing.T) {
			if got := c.Classify(audio.DeviceDescriptor{Name: tt.device}); got != tt.want {
				t.Errorf("Classify(%q) = %v, want %v", tt.device, got, tt.want)
			}
		})
	}
}

func TestListDevices(t *testing.T) {
	host := audiotest.NewHost(
		audiotest.Input(0, "MacBook Pro Microphone"),
		audiotest.Input(1, "BlackHole 2ch"),
		audiotest.Output(2, "MacBook Pro Speakers"),
		audiotest.Input(3, "ZoomAudioDevice"),
	)
	c := audio.NewCatalog(host, []string{"zoomaudio"})

	inputs, err := c.ListInputDevices()
	if err != nil {
		t.Fatalf("ListInputDevices() error = %v", err)
	}
	if len(inputs) != 2 {
		t.Fatalf("inputs = %v, want 2 (excluded device hidden)", inputs)
	}
	if inputs[1].Class != audio.Loopback {
		t.Errorf("inputs[1].Class = %v, want loopback", inputs[1].Class)
	}

	outputs, err := c.ListOutputDevices()
	if err != nil {
		t.Fatalf("ListOutputDevices() error = %v", err)
	}
	if len(outputs) != 1 || outputs[0].Index != 2 {
		t.Errorf("outputs = %v", outputs)
	}
}

func TestListDevicesHostUnreachable(t *testing.T) {
	host := audiotest.NewHost()
	host.FailEnumeration(errors.New("pa_initialize: no host api"))

	_, err := audio.NewCatalog(host, nil).ListInputDevices()
	if !apperrors.IsCode(err, apperrors.CodeDeviceEnumeration) {
		t.Errorf("error = %v, want DEVICE_ENUMERATION", err)
	}
}

func TestResolve(t *testing.T) {
	devs := []audio.DeviceDescriptor{
		audiotest.Input(0, "USB Headset"),
		audiotest.Input(1, "MacBook Pro Microphone"),
		audiotest.Input(2, "Stereo Mix"),
		audiotest.Input(3, "BlackHole 2ch"),
	}

	tests := []struct {
		name       string
		sel        audio.Selection
		wantMic    int // -1 for none
		wantSystem int
		wantCode   apperrors.Code
	}{
		{"auto prefers built-in", audio.Selection{Mic: true, System: true, MicIndex: -1, SystemIndex: -1}, 1, 2, 0},
		{"explicit indices", audio.Selection{Mic: true, System: true, MicIndex: 0, SystemIndex: 3}, 0, 3, 0},
		{"mic only", audio.Selection{Mic: true, MicIndex: -1, SystemIndex: -1}, 1, -1, 0},
		{"system only", audio.Selection{System: true, MicIndex: -1, SystemIndex: -1}, -1, 2, 0},
		{"unknown index", audio.Selection{Mic: true, MicIndex: 9}, -1, -1, apperrors.CodeInvalidArgument},
		{"same device twice", audio.Selection{Mic: true, System: true, MicIndex: 3, SystemIndex: 3}, -1, -1, apperrors.CodeInvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := audio.NewCatalog(audiotest.NewHost(devs...), nil).Resolve(tt.sel)
			if tt.wantCode != 0 {
				if !apperrors.IsCode(err, tt.wantCode) {
					t.Fatalf("Resolve() error = %v, want %v", err, tt.wantCode)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			checkPick(t, "mic", r.Mic, tt.wantMic)
			checkPick(t, "system", r.System, tt.wantSystem)
		})
	}
}

func checkPick(t *testing.T, what string, got *audio.DeviceDescriptor, want int) {
	t.Helper()
	switch {
	case want < 0 && got != nil:
		t.Errorf("%s = %q, want none", what, got.Name)
	case want >= 0 && got == nil:
		t.Errorf("%s = none, want index %d", what, want)
	case want >= 0 && got.Index != want:
		t.Errorf("%s = %d, want %d", what, got.Index, want)
	}
}

func TestResolveNoLoopbackDisablesSystem(t *testing.T) {
	host := audiotest.NewHost(audiotest.Input(0, "Built-in Microphone"))
	r, err := audio.NewCatalog(host, nil).Resolve(audio.Selection{Mic: true, System: true, MicIndex: -1, SystemIndex: -1})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if r.Mic == nil || r.System != nil {
		t.Errorf("Resolve() = %+v, want mic only", r)
	}
}

func TestResolveFallsBackToDefaultInput(t *testing.T) {
	host := audiotest.NewHost(audiotest.Input(4, "Default Mic"), audiotest.Input(5, "BlackHole"))
	host.FailEnumeration(errors.New("host unreachable"))

	r, err := audio.NewCatalog(host, nil).Resolve(audio.Selection{Mic: true, System: true, MicIndex: -1, SystemIndex: -1})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !r.Fallback || r.Mic == nil || r.Mic.Index != 4 || r.System != nil {
		t.Errorf("Resolve() = %+v, want fallback to default input, mic only", r)
	}

	_, err = audio.NewCatalog(host, nil).Resolve(audio.Selection{System: true, SystemIndex: -1})
	if !apperrors.IsCode(err, apperrors.CodeDeviceEnumeration) {
		t.Errorf("system-only error = %v, want DEVICE_ENUMERATION", err)
	}
}
