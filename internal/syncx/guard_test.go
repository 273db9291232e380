package syncx

import (
	"sync"
	"testing"
)

type phase int

const (
	idle phase = iota
	running
	stopped
)

func TestGuardGetSet(t *testing.T) {
	g := NewGuard(42)

	if got := g.Get(); got != 42 {
		t.Errorf("Get() = %d, want 42", got)
	}

	g.Set(100)
	if got := g.Get(); got != 100 {
		t.Errorf("Get() after Set = %d, want 100", got)
	}
}

func TestGuardTryUpdate(t *testing.T) {
	type counter struct{ hits, misses int }
	g := NewGuard(counter{})

	if !g.TryUpdate(func(c *counter) bool { c.hits++; return true }) {
		t.Error("TryUpdate should return fn's result")
	}
	if g.TryUpdate(func(c *counter) bool { return false }) {
		t.Error("TryUpdate returned true for a rejected update")
	}
	if got := g.Get(); got.hits != 1 || got.misses != 0 {
		t.Errorf("Get() = %+v", got)
	}
}

func TestTransition(t *testing.T) {
	tests := []struct {
		name     string
		start    phase
		from, to phase
		want     bool
		final    phase
	}{
		{"idle to running", idle, idle, running, true, running},
		{"running to stopped", running, running, stopped, true, stopped},
		{"start twice", running, idle, running, false, running},
		{"stop while idle", idle, running, stopped, false, idle},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGuard(tt.start)
			if got := Transition(g, tt.from, tt.to); got != tt.want {
				t.Errorf("Transition() = %v, want %v", got, tt.want)
			}
			if got := g.Get(); got != tt.final {
				t.Errorf("state = %v, want %v", got, tt.final)
			}
		})
	}
}

func TestTransitionConcurrentSingleWinner(t *testing.T) {
	g := NewGuard(idle)
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if Transition(g, idle, running) {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = g.Get()
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Errorf("winners = %d, want 1", winners)
	}
}
