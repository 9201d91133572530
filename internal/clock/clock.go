// Package clock abstracts wall time so that silence windows, ping
// timeouts and worker intervals can be driven by a virtual clock in
// tests.
package clock

import (
	"context"
	"time"
)

// Clock provides the few time operations the service performs. All
// expiry comparisons in the service go through Now so they can be
// replayed deterministically.
type Clock interface {
	// Now returns the current wall time.
	Now() time.Time

	// Sleep blocks for d or until ctx is cancelled, whichever comes
	// first. Returns ctx.Err() when cancelled.
	Sleep(ctx context.Context, d time.Duration) error
}

// System is the real clock.
type System struct{}

// NewSystem returns the real clock.
func NewSystem() *System {
	return &System{}
}

// Now returns time.Now().
func (*System) Now() time.Time {
	return time.Now()
}

// Sleep waits on a timer or the context.
func (*System) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
