package archive

import (
	"bytes"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/go-audio/wav"
)

func decode(t *testing.T, data []byte) ([]int16, int) {
	t.Helper()
	dec := wav.NewDecoder(bytes.NewReader(data))
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	out := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		out[i] = int16(v)
	}
	return out, int(dec.SampleRate)
}

func TestEncodeWAVRoundTrip(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768, 1234}

	data, err := EncodeWAV(samples, 16000)
	if err != nil {
		t.Fatalf("EncodeWAV() error = %v", err)
	}
	if string(data[:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		t.Fatalf("missing RIFF/WAVE header: %q", data[:12])
	}
	if want := 44 + 2*len(samples); len(data) != want {
		t.Errorf("len = %d, want %d", len(data), want)
	}

	got, rate := decode(t, data)
	if rate != 16000 {
		t.Errorf("sample rate = %d", rate)
	}
	if !slices.Equal(got, samples) {
		t.Errorf("samples = %v, want %v", got, samples)
	}
}

func TestWriteSegment(t *testing.T) {
	a, err := New(t.TempDir(), "session-1", 16000)
	if err != nil {
		t.Fatal(err)
	}

	path, err := a.WriteSegment(3, "mic", []int16{5, 6, 7})
	if err != nil {
		t.Fatalf("WriteSegment() error = %v", err)
	}
	if filepath.Base(path) != "segment-0003-mic.wav" || filepath.Dir(path) != a.Dir() {
		t.Errorf("path = %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	got, _ := decode(t, data)
	if !slices.Equal(got, []int16{5, 6, 7}) {
		t.Errorf("samples = %v", got)
	}
}

func TestMemFileSeek(t *testing.T) {
	var m memFile
	m.Write([]byte("abcdef"))
	if _, err := m.Seek(2, 0); err != nil {
		t.Fatal(err)
	}
	m.Write([]byte("XY"))
	if pos, err := m.Seek(-1, 1); err != nil || pos != 3 {
		t.Errorf("Seek(-1, current) = %d, %v", pos, err)
	}
	if string(m.buf) != "abXYef" {
		t.Errorf("buf = %q", m.buf)
	}
	if _, err := m.Seek(-100, 0); err == nil {
		t.Error("negative seek should fail")
	}
}
