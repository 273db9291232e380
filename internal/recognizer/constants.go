package recognizer

import "time"

// Transport defaults
const (
	// TranscribeMethod is the full gRPC method name of the remote recognizer.
	TranscribeMethod = "/meetscribe.v1.Recognizer/Transcribe"

	// SampleRateKey carries the PCM sample rate in request metadata.
	SampleRateKey = "x-sample-rate"

	// LanguageKey carries the recognition language in request metadata.
	LanguageKey = "x-language"

	DefaultKeepaliveTime    = 10 * time.Second
	DefaultKeepaliveTimeout = 3 * time.Second

	DefaultHTTPTimeout = 30 * time.Second
	DefaultHTTPModel   = "whisper-1"
)
