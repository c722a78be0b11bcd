package executive

import (
	"context"
	"errors"
	"testing"

	"github.com/periperidip/rtsched/internal/clock"
	"github.com/periperidip/rtsched/internal/job"
	"github.com/periperidip/rtsched/internal/report"
	"github.com/periperidip/rtsched/internal/schedule"
	"github.com/periperidip/rtsched/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Helpers
// ============================================================================

func exampleTable(t *testing.T) *schedule.Table {
	t.Helper()
	table, err := schedule.New([]schedule.Entry{
		{Start: 0, Exec: 10, Job: "A"},
		{Start: 10, Exec: 12, Job: "B"},
		{Start: 22, Exec: 15, Job: "C"},
		{Start: 37, Exec: 11, Job: "D"},
	}, 50)
	require.NoError(t, err)
	return table
}

// simulatedRegistry registers jobs that consume exactly their slot.
func simulatedRegistry(t *testing.T, clk clock.Port, work map[types.JobID]types.Ticks) *job.Registry {
	t.Helper()
	r := job.NewRegistry()
	for id, w := range work {
		require.NoError(t, r.Register(id, &job.Simulated{ID: id, Work: w, Clock: clk}))
	}
	return r
}

func exampleWork() map[types.JobID]types.Ticks {
	return map[types.JobID]types.Ticks{"A": 10, "B": 12, "C": 15, "D": 11}
}

// ============================================================================
// Dispatch order and counter
// ============================================================================

func TestThreeCyclesDispatchOrder(t *testing.T) {
	clk := clock.NewVirtual(0)
	rec := report.NewRecorder()

	var order []types.JobID
	registry := job.NewRegistry()
	for _, id := range []types.JobID{"A", "B", "C", "D"} {
		id := id
		require.NoError(t, registry.Register(id, job.HandlerFunc(func(ctx context.Context) error {
			order = append(order, id)
			return nil
		})))
	}

	exec, err := New(exampleTable(t), registry, clk, WithSink(rec), WithMaxCycles(3))
	require.NoError(t, err)
	require.NoError(t, exec.Run(context.Background()))

	assert.Equal(t, []types.JobID{"A", "B", "C", "D", "A", "B", "C", "D", "A", "B", "C", "D"}, order)
	assert.Equal(t, uint64(3), exec.Cycles())
	assert.Len(t, rec.Kind(types.EventDispatch), 12)
}

func TestCounterIncrementsOncePerCycle(t *testing.T) {
	clk := clock.NewVirtual(0)
	rec := report.NewRecorder()

	exec, err := New(exampleTable(t), simulatedRegistry(t, clk, exampleWork()), clk,
		WithSink(rec), WithMaxCycles(5))
	require.NoError(t, err)
	require.NoError(t, exec.Run(context.Background()))

	boundaries := rec.Kind(types.EventCycleComplete)
	require.Len(t, boundaries, 5)
	for i, ev := range boundaries {
		assert.Equal(t, uint64(i+1), ev.Cycle)
	}

	// Every boundary directly follows a dispatch of the last entry.
	events := rec.Events()
	for i, ev := range events {
		if ev.Kind != types.EventCycleComplete {
			continue
		}
		prev := events[i-1]
		assert.Equal(t, types.EventDispatch, prev.Kind)
		assert.Equal(t, 3, prev.Index)
	}
}

func TestWrapGap(t *testing.T) {
	clk := clock.NewVirtual(0)
	rec := report.NewRecorder()

	exec, err := New(exampleTable(t), simulatedRegistry(t, clk, exampleWork()), clk,
		WithSink(rec), WithMaxCycles(2))
	require.NoError(t, err)
	require.NoError(t, exec.Run(context.Background()))

	sleeps := rec.Kind(types.EventSleep)
	require.Len(t, sleeps, 1, "only the wrap from D to A leaves a gap")
	assert.Equal(t, types.Ticks(2), sleeps[0].Ticks)
	assert.Equal(t, types.Tick(48), sleeps[0].Tick)
	assert.Equal(t, 3, sleeps[0].Index)
}

func TestDispatchMatchesPlan(t *testing.T) {
	clk := clock.NewVirtual(1000)
	rec := report.NewRecorder()
	table := exampleTable(t)

	exec, err := New(table, simulatedRegistry(t, clk, exampleWork()), clk,
		WithSink(rec), WithMaxCycles(4))
	require.NoError(t, err)
	require.NoError(t, exec.Run(context.Background()))

	plan := table.Plan(4)
	dispatches := rec.Kind(types.EventDispatch)
	require.Len(t, dispatches, len(plan))
	for i, d := range plan {
		assert.Equal(t, d.Job, dispatches[i].Job)
		assert.Equal(t, types.Tick(1000).Add(d.Start), dispatches[i].Planned)
		// Jobs consume exactly their slot, so actual starts match the plan.
		assert.Equal(t, dispatches[i].Planned, dispatches[i].Tick)
	}
}

func TestTableWithLateFirstEntryStaysOnPlan(t *testing.T) {
	table, err := schedule.New([]schedule.Entry{
		{Start: 5, Exec: 10, Job: "A"},
		{Start: 20, Exec: 10, Job: "B"},
	}, 40)
	require.NoError(t, err)

	clk := clock.NewVirtual(100)
	rec := report.NewRecorder()
	work := map[types.JobID]types.Ticks{"A": 10, "B": 10}

	exec, err := New(table, simulatedRegistry(t, clk, work), clk, WithSink(rec), WithMaxCycles(2))
	require.NoError(t, err)
	require.NoError(t, exec.Run(context.Background()))

	dispatches := rec.Kind(types.EventDispatch)
	require.Len(t, dispatches, 4)
	want := []types.Tick{100, 115, 140, 155}
	for i, ev := range dispatches {
		assert.Equal(t, want[i], ev.Tick, "dispatch %d", i)
		assert.Equal(t, ev.Tick, ev.Planned, "dispatch %d started late", i)
	}
}

func TestCDSTableTiming(t *testing.T) {
	table, err := schedule.New([]schedule.Entry{
		{Start: 0, Exec: 10, Job: "t1"}, {Start: 10, Exec: 12, Job: "t4"}, {Start: 22, Exec: 15, Job: "t3"}, {Start: 37, Exec: 11, Job: "t2"},
		{Start: 100, Exec: 10, Job: "t1"}, {Start: 110, Exec: 12, Job: "t4"}, {Start: 150, Exec: 15, Job: "t3"},
		{Start: 200, Exec: 10, Job: "t1"}, {Start: 210, Exec: 12, Job: "t4"}, {Start: 222, Exec: 11, Job: "t2"},
		{Start: 300, Exec: 10, Job: "t1"}, {Start: 310, Exec: 12, Job: "t4"}, {Start: 322, Exec: 15, Job: "t3"},
		{Start: 400, Exec: 10, Job: "t1"}, {Start: 410, Exec: 12, Job: "t4"}, {Start: 422, Exec: 11, Job: "t2"}, {Start: 450, Exec: 15, Job: "t3"},
		{Start: 500, Exec: 10, Job: "t1"}, {Start: 510, Exec: 12, Job: "t4"},
	}, 600)
	require.NoError(t, err)

	clk := clock.NewVirtual(0)
	work := map[types.JobID]types.Ticks{"t1": 10, "t2": 11, "t3": 15, "t4": 12}
	rec := report.NewRecorder()

	exec, err := New(table, simulatedRegistry(t, clk, work), clk, WithSink(rec), WithMaxCycles(2))
	require.NoError(t, err)
	require.NoError(t, exec.Run(context.Background()))

	dispatches := rec.Kind(types.EventDispatch)
	require.Len(t, dispatches, 38)
	assert.Equal(t, types.Tick(600), dispatches[19].Tick, "second cycle starts one hyperperiod later")
	assert.Equal(t, types.Tick(1110), dispatches[37].Tick)
	assert.Equal(t, types.Tick(1122), clk.Now())
}

// ============================================================================
// Failure semantics
// ============================================================================

func TestOverrunIsReportedNotEnforced(t *testing.T) {
	clk := clock.NewVirtual(0)
	rec := report.NewRecorder()
	work := exampleWork()
	work["B"] = 20 // 8 ticks over budget

	exec, err := New(exampleTable(t), simulatedRegistry(t, clk, work), clk,
		WithSink(rec), WithMaxCycles(1), WithOverrunDetection())
	require.NoError(t, err)
	require.NoError(t, exec.Run(context.Background()))

	overruns := rec.Kind(types.EventOverrun)
	require.Len(t, overruns, 1)
	assert.Equal(t, types.JobID("B"), overruns[0].Job)
	assert.Equal(t, types.Ticks(20), overruns[0].Ticks)
	assert.Equal(t, types.Ticks(12), overruns[0].Budget)

	// C still dispatched right after B; the overrun shifted it late.
	dispatches := rec.Kind(types.EventDispatch)
	require.Len(t, dispatches, 4)
	assert.Equal(t, types.Tick(30), dispatches[2].Tick)
	assert.Equal(t, types.Tick(22), dispatches[2].Planned)
}

func TestOverrunNotReportedByDefault(t *testing.T) {
	clk := clock.NewVirtual(0)
	rec := report.NewRecorder()
	work := exampleWork()
	work["B"] = 20

	exec, err := New(exampleTable(t), simulatedRegistry(t, clk, work), clk, WithSink(rec), WithMaxCycles(1))
	require.NoError(t, err)
	require.NoError(t, exec.Run(context.Background()))

	assert.Empty(t, rec.Kind(types.EventOverrun))
}

func TestHandlerErrorDoesNotStopSchedule(t *testing.T) {
	clk := clock.NewVirtual(0)
	rec := report.NewRecorder()

	registry := job.NewRegistry()
	boom := errors.New("boom")
	for _, id := range []types.JobID{"A", "B", "C", "D"} {
		var h job.Handler = job.HandlerFunc(func(ctx context.Context) error { return nil })
		if id == "C" {
			h = job.HandlerFunc(func(ctx context.Context) error { return boom })
		}
		require.NoError(t, registry.Register(id, h))
	}

	exec, err := New(exampleTable(t), registry, clk, WithSink(rec), WithMaxCycles(2))
	require.NoError(t, err)
	require.NoError(t, exec.Run(context.Background()))

	errs := rec.Kind(types.EventHandlerError)
	require.Len(t, errs, 2)
	assert.Equal(t, "boom", errs[0].Error)
	assert.Equal(t, uint64(2), exec.Cycles())
}

func TestRunStopsOnCancel(t *testing.T) {
	clk := clock.NewVirtual(0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dispatched := 0
	registry := job.NewRegistry()
	for _, id := range []types.JobID{"A", "B", "C", "D"} {
		require.NoError(t, registry.Register(id, job.HandlerFunc(func(ctx context.Context) error {
			dispatched++
			if dispatched == 6 {
				cancel()
			}
			return nil
		})))
	}

	exec, err := New(exampleTable(t), registry, clk)
	require.NoError(t, err)

	err = exec.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 6, dispatched)
	assert.Equal(t, uint64(1), exec.Cycles())
}

func TestNewRejectsUnknownJob(t *testing.T) {
	clk := clock.NewVirtual(0)
	work := exampleWork()
	delete(work, "D")

	_, err := New(exampleTable(t), simulatedRegistry(t, clk, work), clk)
	assert.ErrorIs(t, err, job.ErrUnknownJob)
	assert.Contains(t, err.Error(), "entry 3")
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "dispatching", StateDispatching.String())
	assert.Equal(t, "sleeping", StateSleeping.String())
	assert.Equal(t, "cycle_boundary", StateCycleBoundary.String())
	assert.Equal(t, "unknown", State(42).String())
}
