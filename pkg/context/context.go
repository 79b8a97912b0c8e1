package context

import (
	"context"
	"time"
)

// Timeouts for background side channels. Call mutations inherit the request
// context; these cover work detached from it (presence mirroring, push).
const (
	// ShortTimeout is for cache and presence mirror writes
	ShortTimeout = 5 * time.Second

	// MediumTimeout is for archive writes and push delivery
	MediumTimeout = 10 * time.Second
)

// WithShortTimeout creates a context with a short timeout
func WithShortTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, ShortTimeout)
}

// WithMediumTimeout creates a context with a medium timeout
func WithMediumTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, MediumTimeout)
}
