package clock

import (
	"context"
	"errors"
	"time"

	"github.com/periperidip/rtsched/pkg/types"
)

// DefaultTickPeriod matches a 1 kHz tick rate.
const DefaultTickPeriod = time.Millisecond

// ErrInvalidTickPeriod is returned for a non-positive tick period.
var ErrInvalidTickPeriod = errors.New("clock: tick period must be positive")

// Real maps wall-clock time onto ticks counted from its creation.
type Real struct {
	epoch  time.Time
	period time.Duration
}

// NewReal creates a real clock whose tick 0 is now.
func NewReal(period time.Duration) (*Real, error) {
	if period <= 0 {
		return nil, ErrInvalidTickPeriod
	}
	return &Real{epoch: time.Now(), period: period}, nil
}

// Period returns the length of one tick.
func (c *Real) Period() time.Duration {
	return c.period
}

// Now returns the number of whole ticks elapsed since the epoch.
func (c *Real) Now() types.Tick {
	return types.Tick(time.Since(c.epoch) / c.period)
}

// DelayFor blocks for d ticks or until ctx is done.
func (c *Real) DelayFor(ctx context.Context, d types.Ticks) error {
	if d == 0 {
		return ctx.Err()
	}
	return c.sleep(ctx, time.Duration(d)*c.period)
}

// DelayUntil blocks until tick ref+inc. The wake-up instant is computed from
// the epoch, so repeated calls do not accumulate rounding error.
func (c *Real) DelayUntil(ctx context.Context, ref types.Tick, inc types.Ticks) (types.Tick, error) {
	target := ref.Add(inc)
	wake := c.epoch.Add(time.Duration(target) * c.period)
	if d := time.Until(wake); d > 0 {
		if err := c.sleep(ctx, d); err != nil {
			return ref, err
		}
	}
	return target, nil
}

func (c *Real) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
