package archive

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Archive stores the segments of one session under dir/<session>/.
type Archive struct {
	dir        string
	sampleRate int
}

// New creates the session directory.
func New(root, session string, sampleRate int) (*Archive, error) {
	dir := filepath.Join(root, session)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	return &Archive{dir: dir, sampleRate: sampleRate}, nil
}

// Dir returns the session directory.
func (a *Archive) Dir() string { return a.dir }

// WriteSegment writes one source buffer of a segment and returns its path.
func (a *Archive) WriteSegment(index int, label string, samples []int16) (string, error) {
	path := filepath.Join(a.dir, fmt.Sprintf("segment-%04d-%s.wav", index, label))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create segment file: %w", err)
	}
	if err := WriteWAV(f, samples, a.sampleRate); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("encode segment %d: %w", index, err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	slog.Debug("segment archived", "path", path, "samples", len(samples))
	return path, nil
}
