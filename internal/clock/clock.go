// ============================================================================
// rtsched Clock - tick time and absolute-time suspension
// ============================================================================
//
// Package: internal/clock
// File: clock.go
// Purpose: The Clock/DelayPort collaborator the schedulers run against.
//
// Implementations:
//   - Real:    ticks derived from the wall clock with a fixed tick period
//   - Virtual: simulated time, every delay returns immediately after moving
//              the clock forward, so timing logic can be tested with zero
//              real latency
//
// DelayUntil semantics follow the classic delay-until primitive: the new
// reference is always ref+inc, even when that instant is already in the
// past. In that case the call returns without blocking.
//
// ============================================================================

package clock

import (
	"context"

	"github.com/periperidip/rtsched/pkg/types"
)

// Clock reads the monotonic tick counter.
type Clock interface {
	Now() types.Tick
}

// Delayer suspends only the calling goroutine.
type Delayer interface {
	// DelayFor blocks for d ticks measured from now.
	DelayFor(ctx context.Context, d types.Ticks) error

	// DelayUntil blocks until the absolute tick ref+inc and returns it as the
	// new reference.
	DelayUntil(ctx context.Context, ref types.Tick, inc types.Ticks) (types.Tick, error)
}

// Port is the full time capability consumed by the executive and runners.
type Port interface {
	Clock
	Delayer
}
