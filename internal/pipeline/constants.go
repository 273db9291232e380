package pipeline

// Pipeline defaults
const (
	// StopTimeoutWindows sizes the default stop bound: the final window's
	// recognition plus one still in flight from the previous window.
	StopTimeoutWindows = 2
	DefaultEventBuffer = 100

	// AutoDevice lets the catalog pick a device.
	AutoDevice = -1
)
