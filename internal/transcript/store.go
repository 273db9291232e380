// Package transcript holds the ordered, append-only record of a session.
package transcript

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Speaker labels.
const (
	You          = "You"
	Counterpart  = "Counterpart"
	Conversation = "Conversation"
	System       = "System"
)

// TimeLayout is the timestamp format used in exports.
const TimeLayout = "15:04:05"

// ErrEmpty is returned when saving a transcript with no entries.
var ErrEmpty = errors.New("transcript is empty")

// Entry is one line of transcript. Immutable once stored.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Speaker   string    `json:"speaker"`
	Text      string    `json:"text"`
}

// String renders the export form without the trailing newline.
func (e Entry) String() string {
	return fmt.Sprintf("[%s] %s: %s", e.Timestamp.Format(TimeLayout), e.Speaker, e.Text)
}

// Store is an in-memory transcript. Timestamps never decrease: an entry
// stamped earlier than its predecessor is clamped to the predecessor's time.
type Store struct {
	mu      sync.RWMutex
	entries []Entry
	sealed  bool
	events  chan Entry
	now     func() time.Time
}

// NewStore creates an empty store whose event channel buffers eventBuffer entries.
func NewStore(eventBuffer int) *Store {
	return &Store{
		events: make(chan Entry, eventBuffer),
		now:    time.Now,
	}
}

// Add stamps text with the current wall-clock time and appends it.
func (s *Store) Add(speaker, text string) (Entry, bool) {
	return s.Append(Entry{Timestamp: s.now(), Speaker: speaker, Text: text})
}

// Append stores e and emits it. It returns the entry as stored and false if
// the store has been sealed.
func (s *Store) Append(e Entry) (Entry, bool) {
	s.mu.Lock()
	if s.sealed {
		s.mu.Unlock()
		return Entry{}, false
	}
	if n := len(s.entries); n > 0 && e.Timestamp.Before(s.entries[n-1].Timestamp) {
		e.Timestamp = s.entries[n-1].Timestamp
	}
	s.entries = append(s.entries, e)
	s.mu.Unlock()

	s.Emit(e)
	return e, true
}

// Seal rejects further appends. Used when a stop times out and a late
// segment may still be in flight.
func (s *Store) Seal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sealed = true
}

// Sealed reports whether the store rejects appends.
func (s *Store) Sealed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sealed
}

// Entries returns a copy of all entries.
func (s *Store) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]Entry, len(s.entries))
	copy(result, s.entries)
	return result
}

// Len returns the number of entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Fragments counts recognised entries, excluding System notices.
func (s *Store) Fragments() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, e := range s.entries {
		if e.Speaker != System {
			n++
		}
	}
	return n
}

// GetRecent returns the last window of transcript as "SPEAKER: text" lines.
func (s *Store) GetRecent(window time.Duration) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := s.now().Add(-window)
	var parts []string
	for _, e := range s.entries {
		if !e.Timestamp.Before(cutoff) {
			parts = append(parts, strings.ToUpper(e.Speaker)+": "+e.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// Events returns the channel of appended entries.
func (s *Store) Events() <-chan Entry {
	return s.events
}

// Emit sends an entry event (non-blocking). Slow readers miss entries.
func (s *Store) Emit(e Entry) {
	select {
	case s.events <- e:
	default:
	}
}

// Export writes one "[HH:MM:SS] speaker: text" line per entry.
func (s *Store) Export(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for _, e := range s.Entries() {
		if _, err := fmt.Fprintln(bw, e.String()); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Save exports the transcript to path, creating parent directories.
func (s *Store) Save(path string) error {
	if s.Len() == 0 {
		return ErrEmpty
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create transcript dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create transcript file: %w", err)
	}
	if err := s.Export(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("write transcript: %w", err)
	}
	return f.Close()
}
