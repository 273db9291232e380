package audio

import "time"

// Capture format. Every frame leaving this package is mono int16 at SampleRate.
const (
	SampleRate      = 16000
	Channels        = 1
	FramesPerBuffer = 1024 // 64ms at 16kHz

	// DefaultQueueFrames bounds each source queue: ~13s of audio.
	DefaultQueueFrames = 200

	// DefaultStallTimeout fails a running source whose driver stopped calling back.
	DefaultStallTimeout = 3 * time.Second

	// DefaultStopTimeout bounds the wait for the driver to stop a stream.
	DefaultStopTimeout = time.Second

	// DefaultSilenceThreshold is the peak amplitude under which a buffer is silent.
	DefaultSilenceThreshold = 500
)
