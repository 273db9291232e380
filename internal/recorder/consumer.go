package recorder

import (
	"context"
	"log/slog"
	"time"

	"github.com/GriffinCanCode/meetscribe/internal/audio"
)

type flushRequest struct {
	reply chan []int16
}

// consumer is the only reader of one source queue. It appends frames to the
// open segment buffer and, on a flush request, drains whatever the stopped
// stream left queued before handing the buffer over.
type consumer struct {
	src        *audio.CaptureSource
	popTimeout time.Duration
	requests   chan flushRequest
	done       chan struct{}
	buf        []int16
}

func newConsumer(src *audio.CaptureSource, popTimeout time.Duration) *consumer {
	return &consumer{
		src:        src,
		popTimeout: popTimeout,
		requests:   make(chan flushRequest),
		done:       make(chan struct{}),
	}
}

func (c *consumer) run(ctx context.Context) {
	defer close(c.done)

	idle := time.NewTicker(c.popTimeout)
	defer idle.Stop()

	for {
		select {
		case f := <-c.src.Frames():
			c.buf = append(c.buf, f.Samples...)
		case req := <-c.requests:
			for _, f := range c.src.Drain() {
				c.buf = append(c.buf, f.Samples...)
			}
			req.reply <- c.buf
			c.buf = nil
		case <-c.src.Failed():
			if len(c.buf) > 0 {
				slog.Warn("discarding partial buffer of failed source", "source", c.src.Source(), "samples", len(c.buf))
			}
			c.buf = nil
			return
		case <-idle.C:
			c.src.CheckStall()
		case <-ctx.Done():
			return
		}
	}
}

// flush takes the window buffer once the source has been stopped.
// ok is false if the consumer is gone or did not answer within timeout.
func (c *consumer) flush(timeout time.Duration) ([]int16, bool) {
	req := flushRequest{reply: make(chan []int16, 1)}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case c.requests <- req:
	case <-c.done:
		return nil, false
	case <-timer.C:
		return nil, false
	}
	select {
	case buf := <-req.reply:
		return buf, true
	case <-timer.C:
		return nil, false
	}
}
