// Package pause gates audio capture while the assistant's own voice is
// playing so synthesized speech never reaches the transcript.
package pause

import (
	"context"
	"log/slog"
	"sync"
)

// Coordinator is a pause flag with blocking wait for resume.
// Safe for concurrent use; Paused is cheap enough for driver callbacks.
type Coordinator struct {
	mu     sync.Mutex
	cond   *sync.Cond
	paused bool
}

// New creates a coordinator in the resumed state.
func New() *Coordinator {
	c := &Coordinator{}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Pause stops capture. Idempotent.
func (c *Coordinator) Pause() {
	c.set(true)
}

// Resume restarts capture and wakes every waiter. Idempotent.
func (c *Coordinator) Resume() {
	c.set(false)
}

func (c *Coordinator) set(paused bool) {
	c.mu.Lock()
	changed := c.paused != paused
	c.paused = paused
	if !paused {
		c.cond.Broadcast()
	}
	c.mu.Unlock()

	if changed {
		slog.Debug("capture gate", "paused", paused)
	}
}

// Paused reports the current state.
func (c *Coordinator) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// WaitResumed blocks until the coordinator is resumed or ctx is done.
func (c *Coordinator) WaitResumed(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.cond.Broadcast()
	})
	defer stop()

	c.mu.Lock()
	defer c.mu.Unlock()
	for c.paused {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.cond.Wait()
	}
	return nil
}

// During pauses capture for the duration of fn, typically audio playback.
func (c *Coordinator) During(fn func() error) error {
	c.Pause()
	defer c.Resume()
	return fn()
}

// Follow mirrors a "currently speaking" signal until ctx is done or the
// channel closes. Capture is resumed on exit.
func (c *Coordinator) Follow(ctx context.Context, speaking <-chan bool) {
	defer c.Resume()
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-speaking:
			if !ok {
				return
			}
			c.set(s)
		}
	}
}
