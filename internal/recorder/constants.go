package recorder

import "time"

const (
	DefaultWindow       = 10 * time.Second
	DefaultDrainTimeout = 2 * time.Second
	DefaultPopTimeout   = time.Second
)
