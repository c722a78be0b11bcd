package clock

import (
	"context"
	"sync"

	"github.com/periperidip/rtsched/pkg/types"
)

// Virtual is a simulated clock. Delays never block; they move the clock
// forward to the requested instant. Several goroutines may share one Virtual
// clock: time only moves forward, and DelayUntil still returns exactly
// ref+inc, so each caller's release sequence stays exact.
type Virtual struct {
	mu    sync.Mutex
	now   types.Tick
	slept types.Ticks
}

// NewVirtual creates a virtual clock reading start.
func NewVirtual(start types.Tick) *Virtual {
	return &Virtual{now: start}
}

// Now returns the current simulated tick.
func (v *Virtual) Now() types.Tick {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.now
}

// Advance moves the clock forward by d ticks, simulating busy execution.
func (v *Virtual) Advance(d types.Ticks) {
	v.mu.Lock()
	v.now = v.now.Add(d)
	v.mu.Unlock()
}

// Slept returns the total ticks spent in DelayFor and DelayUntil.
func (v *Virtual) Slept() types.Ticks {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.slept
}

// DelayFor moves the clock forward by d ticks.
func (v *Virtual) DelayFor(ctx context.Context, d types.Ticks) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v.mu.Lock()
	v.now = v.now.Add(d)
	v.slept += d
	v.mu.Unlock()
	return nil
}

// DelayUntil moves the clock to ref+inc unless it is already past it.
func (v *Virtual) DelayUntil(ctx context.Context, ref types.Tick, inc types.Ticks) (types.Tick, error) {
	if err := ctx.Err(); err != nil {
		return ref, err
	}
	target := ref.Add(inc)

	v.mu.Lock()
	if target > v.now {
		v.slept += target.Sub(v.now)
		v.now = target
	}
	v.mu.Unlock()

	return target, nil
}
