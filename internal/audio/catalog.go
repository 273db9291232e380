package audio

import (
	"log/slog"
	"strings"

	apperrors "github.com/GriffinCanCode/meetscribe/internal/errors"
)

var (
	mixerKeywords = []string{"stereo mix", "stereomix", "what u hear", "mixer", "стерео микшер", "микшер"}

	loopbackKeywords = []string{"loopback", "cable", "vb-audio", "wasapi", "monitor", "blackhole", "soundflower", "мониторинг"}

	preferredMicKeywords = []string{"macbook", "built-in", "встроенный"}
)

// Catalog enumerates and classifies host devices.
type Catalog struct {
	host     Host
	excluded []string
}

// NewCatalog creates a catalog. Devices whose name contains any excluded
// substring are hidden from every listing.
func NewCatalog(host Host, excluded []string) *Catalog {
	return &Catalog{host: host, excluded: excluded}
}

// Classify assigns a device class from its name.
func (c *Catalog) Classify(d DeviceDescriptor) Class {
	return classifyName(d.Name)
}

func classifyName(name string) Class {
	// mixer first: "Stereo Mix (Realtek)" must not match a loopback keyword
	if containsAny(name, mixerKeywords) {
		return Mixer
	}
	if containsAny(name, loopbackKeywords) {
		return Loopback
	}
	return Standard
}

// ListInputDevices returns devices with at least one input channel.
func (c *Catalog) ListInputDevices() ([]DeviceDescriptor, error) {
	return c.list(func(d DeviceDescriptor) bool { return d.MaxInputChannels > 0 })
}

// ListOutputDevices returns devices with at least one output channel.
func (c *Catalog) ListOutputDevices() ([]DeviceDescriptor, error) {
	return c.list(func(d DeviceDescriptor) bool { return d.MaxOutputChannels > 0 })
}

func (c *Catalog) list(keep func(DeviceDescriptor) bool) ([]DeviceDescriptor, error) {
	all, err := c.host.Devices()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeDeviceEnumeration, "enumerate audio devices")
	}
	out := make([]DeviceDescriptor, 0, len(all))
	for _, d := range all {
		if !keep(d) || containsAny(d.Name, c.excluded) {
			continue
		}
		d.Class = classifyName(d.Name)
		out = append(out, d)
	}
	return out, nil
}

// Selection chooses which devices to capture from. A negative index means
// pick automatically.
type Selection struct {
	Mic         bool
	System      bool
	MicIndex    int
	SystemIndex int
}

// Resolved holds the devices chosen for a session. A nil field means that
// source is not captured.
type Resolved struct {
	Mic    *DeviceDescriptor
	System *DeviceDescriptor
	// Fallback is set when enumeration failed and the host default input
	// was used for the microphone.
	Fallback bool
}

// Resolve picks devices for sel. When enumeration fails and a microphone
// was requested it falls back to the host default input, mic only.
func (c *Catalog) Resolve(sel Selection) (Resolved, error) {
	inputs, err := c.ListInputDevices()
	if err != nil {
		if !sel.Mic {
			return Resolved{}, err
		}
		def, derr := c.host.DefaultInputDevice()
		if derr != nil {
			return Resolved{}, err
		}
		def.Class = classifyName(def.Name)
		slog.Warn("device enumeration failed, using default input", "device", def.Name, "error", err)
		return Resolved{Mic: &def, Fallback: true}, nil
	}

	var r Resolved
	if sel.Mic {
		mic, err := c.pickMic(inputs, sel.MicIndex)
		if err != nil {
			return Resolved{}, err
		}
		r.Mic = mic
	}
	if sel.System {
		sys, err := pickSystem(inputs, sel.SystemIndex)
		if err != nil {
			return Resolved{}, err
		}
		if sys == nil {
			slog.Warn("no loopback or mixer input found, system audio disabled")
		}
		r.System = sys
	}
	if r.Mic != nil && r.System != nil && r.Mic.Index == r.System.Index {
		return Resolved{}, apperrors.Newf(apperrors.CodeInvalidArgument, "device %d selected for both sources", r.Mic.Index)
	}
	return r, nil
}

func (c *Catalog) pickMic(inputs []DeviceDescriptor, index int) (*DeviceDescriptor, error) {
	if index >= 0 {
		return byIndex(inputs, index)
	}

	var best *DeviceDescriptor
	for i := range inputs {
		d := &inputs[i]
		if d.Class != Standard {
			continue
		}
		if best == nil || (containsAny(d.Name, preferredMicKeywords) && !containsAny(best.Name, preferredMicKeywords)) {
			best = d
		}
	}
	if best != nil {
		return best, nil
	}

	def, err := c.host.DefaultInputDevice()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeDeviceEnumeration, "no microphone input available")
	}
	def.Class = classifyName(def.Name)
	return &def, nil
}

func pickSystem(inputs []DeviceDescriptor, index int) (*DeviceDescriptor, error) {
	if index >= 0 {
		return byIndex(inputs, index)
	}
	for i := range inputs {
		if inputs[i].Class != Standard {
			return &inputs[i], nil
		}
	}
	return nil, nil
}

func byIndex(inputs []DeviceDescriptor, index int) (*DeviceDescriptor, error) {
	for i := range inputs {
		if inputs[i].Index == index {
			return &inputs[i], nil
		}
	}
	return nil, apperrors.Newf(apperrors.CodeInvalidArgument, "input device %d not found", index)
}

// containsAny reports whether name contains any keyword, ignoring case.
// strings.ToLower handles Cyrillic device names.
func containsAny(name string, keywords []string) bool {
	lower := strings.ToLower(name)
	for _, kw := range keywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
