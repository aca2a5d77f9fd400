package utils

import (
	"context"
	"time"
)

// Request budgets for store calls made from handlers.
const (
	// DefaultTimeout covers single reads and writes against one store.
	DefaultTimeout = 15 * time.Second

	// LongTimeout covers multi-object work: folder renames, chain
	// verification, bulk uploads.
	LongTimeout = 2 * time.Minute

	// ShortTimeout covers pings and cache lookups.
	ShortTimeout = 3 * time.Second
)

func WithTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, DefaultTimeout)
}

func WithLongTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, LongTimeout)
}

func WithShortTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, ShortTimeout)
}

// WithCustomTimeout is for callers with their own budget, such as imports
// and document conversion. A non-positive duration falls back to
// DefaultTimeout.
func WithCustomTimeout(parent context.Context, duration time.Duration) (context.Context, context.CancelFunc) {
	if duration <= 0 {
		duration = DefaultTimeout
	}
	return context.WithTimeout(parent, duration)
}
