// Package server provides HTTP and WebSocket handlers
package server

import "time"

// Server configuration constants
const (
	// Per-connection rate limit for websocket control messages
	RateLimitMessages = 30
	RateLimitWindow   = time.Second

	// WriteTimeout bounds a single websocket broadcast write.
	WriteTimeout = 5 * time.Second

	// RecentTranscriptWindow is the default span for GET /api/transcript/recent.
	RecentTranscriptWindow = 2 * time.Minute
)
