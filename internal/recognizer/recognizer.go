// Package recognizer defines the speech recognizer boundary and the
// transports that reach remote recognition backends.
package recognizer

import (
	"context"
	"encoding/binary"
	"strings"
)

// BlockSamples is how many samples the pipeline feeds per AcceptSamples call.
const BlockSamples = 2000

// Result is recognised text for one utterance.
type Result struct {
	Text string `json:"text"`
}

// HasResult reports whether the result carries any non-blank text.
func (r Result) HasResult() bool {
	return strings.TrimSpace(r.Text) != ""
}

// Recognizer consumes one segment of audio. A recognizer is used for exactly
// one segment and then closed.
type Recognizer interface {
	// AcceptSamples feeds audio; true means an utterance boundary was
	// reached and Result holds its text.
	AcceptSamples(samples []int16) (bool, error)
	Result() Result
	// FinalResult flushes whatever audio has not yet produced a result.
	FinalResult() (Result, error)
	Close() error
}

// Engine creates recognizers. ctx bounds the recognizer's remote calls.
type Engine interface {
	NewRecognizer(ctx context.Context, sampleRate int) (Recognizer, error)
}

// Transcriber recognises a whole buffer in one call.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []int16, sampleRate int) (string, error)
}

// EncodePCM renders samples as little-endian 16-bit PCM.
func EncodePCM(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// DecodePCM parses little-endian 16-bit PCM. A trailing odd byte is ignored.
func DecodePCM(data []byte) []int16 {
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out
}
