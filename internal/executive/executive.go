// ============================================================================
// rtsched Cyclic Executive - static table dispatcher
// ============================================================================
//
// Package: internal/executive
// File: executive.go
// Purpose: Walk a schedule table forever, one hyperperiod after another.
//
// Per step (table index i, iteration n):
//   1. currEnd   = n*H + entry[i].Start + entry[i].Exec
//   2. if i is the last index, the next entry belongs to iteration n+1
//   3. nextStart = n'*H + entry[(i+1) mod size].Start
//   4. run entry[i]'s handler synchronously
//   5. suspend for nextStart-currEnd ticks when positive
//   6. i = (i+1) mod size
//
// States:
//   Dispatching(i) --handler returns--> Sleeping --delay--> Dispatching(i+1)
//   Dispatching(last) --> CycleBoundary (counter++) --> Sleeping
//
// Overruns:
//   The executive does not enforce a handler's budget. A handler that runs
//   long eats into the following slack because nextStart was fixed by the
//   table. WithOverrunDetection only reports the overrun.
//
// Timeline:
//   Entry 0 of cycle 0 is dispatched as soon as Run starts. That tick is the
//   origin: a step planned at table offset t is due at
//   origin + t - entry[0].Start.
//
// Stop:
//   The context is checked once per step; WithMaxCycles stops after a
//   number of completed cycles.
//
// ============================================================================

package executive

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/periperidip/rtsched/internal/clock"
	"github.com/periperidip/rtsched/internal/job"
	"github.com/periperidip/rtsched/internal/report"
	"github.com/periperidip/rtsched/internal/schedule"
	"github.com/periperidip/rtsched/pkg/types"
)

// Source is the event source name of the executive.
const Source = "executive"

// State is the dispatcher state.
type State int

const (
	StateDispatching State = iota
	StateSleeping
	StateCycleBoundary
)

func (s State) String() string {
	switch s {
	case StateDispatching:
		return "dispatching"
	case StateSleeping:
		return "sleeping"
	case StateCycleBoundary:
		return "cycle_boundary"
	default:
		return "unknown"
	}
}

// Option configures an Executive.
type Option func(*Executive)

// WithSink sets the reporting sink.
func WithSink(s report.Sink) Option {
	return func(e *Executive) { e.sink = s }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executive) { e.logger = l }
}

// WithMaxCycles stops Run after n completed cycles. Zero means forever.
func WithMaxCycles(n uint64) Option {
	return func(e *Executive) { e.maxCycles = n }
}

// WithOverrunDetection reports handlers that consume more ticks than their
// entry's Exec.
func WithOverrunDetection() Option {
	return func(e *Executive) { e.detectOverrun = true }
}

// Executive drives one schedule table.
type Executive struct {
	table    *schedule.Table
	handlers []job.Handler // resolved per table index
	clock    clock.Port
	sink     report.Sink
	logger   *slog.Logger

	maxCycles     uint64
	detectOverrun bool

	cycles atomic.Uint64 // HyperperiodCounter
	state  atomic.Int32
	index  atomic.Int64
}

// New binds a table to its handlers. Every job of the table must be
// registered.
func New(table *schedule.Table, registry *job.Registry, clk clock.Port, opts ...Option) (*Executive, error) {
	if table == nil {
		return nil, fmt.Errorf("executive: nil schedule table")
	}
	if clk == nil {
		return nil, fmt.Errorf("executive: nil clock")
	}

	handlers := make([]job.Handler, table.Len())
	for i := range handlers {
		h, err := registry.Lookup(table.Entry(i).Job)
		if err != nil {
			return nil, fmt.Errorf("executive: entry %d: %w", i, err)
		}
		handlers[i] = h
	}

	e := &Executive{
		table:    table,
		handlers: handlers,
		clock:    clk,
		sink:     report.Discard,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Cycles returns the number of completed hyperperiods.
func (e *Executive) Cycles() uint64 {
	return e.cycles.Load()
}

// State returns the current dispatcher state and table index.
func (e *Executive) State() (State, int) {
	return State(e.state.Load()), int(e.index.Load())
}

// Run dispatches the table until ctx is done or the cycle limit is reached.
// It returns nil when the limit is reached, otherwise the context error.
func (e *Executive) Run(ctx context.Context) error {
	origin := e.clock.Now()
	size := e.table.Len()

	e.logger.Info("Cyclic executive started",
		"entries", size,
		"hyperperiod", e.table.Hyperperiod(),
		"origin", origin)

	var iter uint64
	for i := 0; ; i = (i + 1) % size {
		if err := ctx.Err(); err != nil {
			return err
		}

		step := e.table.Step(i, iter)
		e.setState(StateDispatching, i)
		e.dispatch(ctx, step, origin)

		if step.Last {
			e.setState(StateCycleBoundary, i)
			e.cycles.Store(step.NextIter)
			e.sink.Report(types.Event{
				Kind:   types.EventCycleComplete,
				Source: Source,
				Cycle:  step.NextIter,
				Tick:   e.clock.Now(),
			})
			if e.maxCycles > 0 && step.NextIter >= e.maxCycles {
				e.logger.Info("Cyclic executive reached cycle limit", "cycles", step.NextIter)
				return nil
			}
		}
		iter = step.NextIter

		if gap := step.Gap(); gap > 0 {
			e.setState(StateSleeping, i)
			e.sink.Report(types.Event{
				Kind:   types.EventSleep,
				Source: Source,
				Cycle:  step.Iteration,
				Index:  i,
				Tick:   e.clock.Now(),
				Ticks:  gap,
			})
			if err := e.clock.DelayFor(ctx, gap); err != nil {
				return err
			}
		}
	}
}

// dispatch runs the handler of one step and reports what happened.
// origin is the tick of the first dispatch.
func (e *Executive) dispatch(ctx context.Context, step schedule.Step, origin types.Tick) {
	entry := e.table.Entry(step.Index)
	start := e.clock.Now()

	e.sink.Report(types.Event{
		Kind:    types.EventDispatch,
		Source:  Source,
		Job:     entry.Job,
		Cycle:   step.Iteration,
		Index:   step.Index,
		Tick:    start,
		Planned: origin.Add(step.Start - e.table.Entry(0).Start),
		Budget:  entry.Exec,
	})

	if err := e.handlers[step.Index].Run(ctx); err != nil && ctx.Err() == nil {
		e.sink.Report(types.Event{
			Kind:   types.EventHandlerError,
			Source: Source,
			Job:    entry.Job,
			Cycle:  step.Iteration,
			Index:  step.Index,
			Tick:   e.clock.Now(),
			Error:  err.Error(),
		})
	}

	if !e.detectOverrun {
		return
	}
	end := e.clock.Now()
	if elapsed := end.Sub(start); elapsed > entry.Exec {
		e.sink.Report(types.Event{
			Kind:   types.EventOverrun,
			Source: Source,
			Job:    entry.Job,
			Cycle:  step.Iteration,
			Index:  step.Index,
			Tick:   end,
			Ticks:  elapsed,
			Budget: entry.Exec,
		})
	}
}

func (e *Executive) setState(s State, i int) {
	e.state.Store(int32(s))
	e.index.Store(int64(i))
}
