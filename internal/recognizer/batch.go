package recognizer

import (
	"context"
	"strings"
	"sync"
	"time"

	apperrors "github.com/GriffinCanCode/meetscribe/internal/errors"
)

// DefaultCallTimeout bounds a single batch transcription.
const DefaultCallTimeout = 30 * time.Second

// Batch adapts a Transcriber to the streaming Recognizer contract: samples
// are buffered and sent in one call at FinalResult.
type Batch struct {
	t       Transcriber
	timeout time.Duration
}

// NewBatch wraps t. A non-positive timeout uses DefaultCallTimeout.
func NewBatch(t Transcriber, timeout time.Duration) *Batch {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &Batch{t: t, timeout: timeout}
}

func (b *Batch) NewRecognizer(ctx context.Context, sampleRate int) (Recognizer, error) {
	if sampleRate <= 0 {
		return nil, apperrors.Newf(apperrors.CodeInvalidArgument, "invalid sample rate %d", sampleRate)
	}
	return &batchRecognizer{b: b, ctx: ctx, rate: sampleRate}, nil
}

type batchRecognizer struct {
	b    *Batch
	ctx  context.Context
	rate int

	mu     sync.Mutex
	buf    []int16
	closed bool
}

func (r *batchRecognizer) AcceptSamples(samples []int16) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false, apperrors.New(apperrors.CodeRecognizer, "recognizer closed")
	}
	r.buf = append(r.buf, samples...)
	return false, nil
}

func (r *batchRecognizer) Result() Result { return Result{} }

func (r *batchRecognizer) FinalResult() (Result, error) {
	r.mu.Lock()
	pcm := r.buf
	r.buf = nil
	r.mu.Unlock()

	if len(pcm) == 0 {
		return Result{}, nil
	}

	ctx, cancel := context.WithTimeout(r.ctx, r.b.timeout)
	defer cancel()

	text, err := r.b.t.Transcribe(ctx, pcm, r.rate)
	if err != nil {
		if apperrors.IsCode(err, apperrors.CodeRecognizer) {
			return Result{}, err
		}
		return Result{}, apperrors.Wrap(err, apperrors.CodeRecognizer, "transcribe segment")
	}
	return Result{Text: strings.TrimSpace(text)}, nil
}

func (r *batchRecognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.buf = nil
	return nil
}
