//go:build portaudio
// +build portaudio

package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"

	soxr "github.com/zaf/resample"
)

// resampler converts int16 mono PCM between rates with libsoxr.
type resampler struct {
	mu  sync.Mutex
	out *bytes.Buffer
	r   *soxr.Resampler
	in  []byte
}

func newResampler(from, to float64) (*resampler, error) {
	out := &bytes.Buffer{}
	r, err := soxr.New(out, from, to, Channels, soxr.I16, soxr.MediumQ)
	if err != nil {
		return nil, fmt.Errorf("create resampler: %w", err)
	}
	return &resampler{out: out, r: r}, nil
}

// Process resamples one callback buffer. The returned slice is freshly allocated.
func (r *resampler) Process(samples []int16) ([]int16, error) {
	if len(samples) == 0 {
		return nil, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	size := len(samples) * 2
	if cap(r.in) < size {
		r.in = make([]byte, size)
	}
	in := r.in[:size]
	for i, s := range samples {
		binary.LittleEndian.PutUint16(in[i*2:], uint16(s))
	}

	r.out.Reset()
	if _, err := r.r.Write(in); err != nil {
		return nil, fmt.Errorf("resampler write: %w", err)
	}

	raw := r.out.Bytes()
	res := make([]int16, len(raw)/2)
	for i := range res {
		res[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
	}
	return res, nil
}

func (r *resampler) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.r.Close()
}
