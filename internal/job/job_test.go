package job

import (
	"context"
	"testing"

	"github.com/periperidip/rtsched/internal/clock"
	"github.com/periperidip/rtsched/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	calls := 0
	require.NoError(t, r.Register("A", HandlerFunc(func(ctx context.Context) error {
		calls++
		return nil
	})))
	require.NoError(t, r.Register("B", HandlerFunc(func(ctx context.Context) error { return nil })))

	h, err := r.Lookup("A")
	require.NoError(t, err)
	require.NoError(t, h.Run(context.Background()))
	assert.Equal(t, 1, calls)

	assert.Equal(t, []types.JobID{"A", "B"}, r.IDs())
	assert.NoError(t, r.Require("A", "B"))
}

func TestRegistryErrors(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("A", HandlerFunc(func(ctx context.Context) error { return nil })))

	assert.ErrorIs(t, r.Register("A", HandlerFunc(func(ctx context.Context) error { return nil })), ErrDuplicateJob)
	assert.Error(t, r.Register("B", nil))

	_, err := r.Lookup("missing")
	assert.ErrorIs(t, err, ErrUnknownJob)
	assert.ErrorIs(t, r.Require("A", "missing"), ErrUnknownJob)
}

func TestSimulatedConsumesWork(t *testing.T) {
	clk := clock.NewVirtual(100)
	sim := &Simulated{ID: "t1", Work: 10, Clock: clk}

	require.NoError(t, sim.Run(context.Background()))
	require.NoError(t, sim.Run(context.Background()))

	assert.Equal(t, types.Tick(120), clk.Now())
	assert.Equal(t, uint64(2), sim.Runs())
}
