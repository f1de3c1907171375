// Package limiter keeps failing sources from being hammered by repeated
// synchronization attempts.
package limiter

import (
	"context"
	"time"
)

// Limiter tracks consecutive harvest failures per source and temporary blocks.
type Limiter interface {
	// Allow reports whether a source may be harvested now and an optional retry-after.
	Allow(ctx context.Context, sourceID string) (bool, time.Duration, error)
	// Success resets the failure counter after a completed pass.
	Success(ctx context.Context, sourceID string) error
	// Failure records a failed pass; may place a temporary block.
	Failure(ctx context.Context, sourceID string) (bool, time.Duration, error)
}

// Nop never blocks.
type Nop struct{}

// Allow always allows.
func (Nop) Allow(context.Context, string) (bool, time.Duration, error) { return true, 0, nil }

// Success does nothing.
func (Nop) Success(context.Context, string) error { return nil }

// Failure does nothing.
func (Nop) Failure(context.Context, string) (bool, time.Duration, error) { return false, 0, nil }
