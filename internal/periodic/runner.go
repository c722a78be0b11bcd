// ============================================================================
// rtsched Periodic Task Runner - drift-free absolute release
// ============================================================================
//
// Package: internal/periodic
// File: runner.go
// Purpose: Run one task body once per period, pacing against absolute
//          release instants.
//
// Loop:
//   lastRelease = Now()                       (first activation)
//   forever:
//     jobCount++
//     execute body
//     lastRelease = DelayUntil(lastRelease, period)
//
// The reference advances by exactly one period per job, never to the time
// the runner actually resumed. A job that finishes after its next release
// makes DelayUntil return at once; the miss is absorbed by the following
// period and is only visible to sinks through the release event.
//
// ============================================================================

package periodic

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/periperidip/rtsched/internal/clock"
	"github.com/periperidip/rtsched/internal/report"
	"github.com/periperidip/rtsched/pkg/types"
)

// ReleaseState is the pacing state of one runner.
type ReleaseState struct {
	JobCount    uint64     `json:"job_count"`
	LastRelease types.Tick `json:"last_release"`
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithSink sets the reporting sink.
func WithSink(s report.Sink) RunnerOption {
	return func(r *Runner) { r.sink = s }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = l }
}

// WithMaxJobs stops Run after n jobs. Zero means forever.
func WithMaxJobs(n uint64) RunnerOption {
	return func(r *Runner) { r.maxJobs = n }
}

// Runner drives one Descriptor.
type Runner struct {
	desc    Descriptor
	clock   clock.Port
	sink    report.Sink
	logger  *slog.Logger
	maxJobs uint64

	mu    sync.Mutex
	state ReleaseState
}

// NewRunner validates desc and binds it to a clock.
func NewRunner(desc Descriptor, clk clock.Port, opts ...RunnerOption) (*Runner, error) {
	if err := Validate([]Descriptor{desc}); err != nil {
		return nil, err
	}
	if clk == nil {
		return nil, fmt.Errorf("periodic: nil clock")
	}

	r := &Runner{
		desc:   desc,
		clock:  clk,
		sink:   report.Discard,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Descriptor returns the task being run.
func (r *Runner) Descriptor() Descriptor {
	return r.desc
}

// State returns a copy of the current release state.
func (r *Runner) State() ReleaseState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Run executes the task until ctx is done or the job limit is reached. It
// returns nil when the limit is reached, otherwise the context error.
func (r *Runner) Run(ctx context.Context) error {
	d := r.desc
	name := d.Label()
	last := r.clock.Now()
	var count uint64
	r.setState(count, last)

	r.logger.Info("Periodic task started",
		"task", name,
		"period", d.Period,
		"deadline", d.RelativeDeadline(),
		"priority", d.Priority,
		"first_release", last)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		count++
		r.setState(count, last)

		start := r.clock.Now()
		err := d.Task.Execute(ctx, Release{Task: d.ID, Name: name, Count: count, Tick: last})
		finish := r.clock.Now()

		if err != nil && ctx.Err() == nil {
			r.sink.Report(types.Event{
				Kind:    types.EventHandlerError,
				Source:  name,
				Task:    d.ID,
				Count:   count,
				Tick:    finish,
				Planned: last,
				Error:   err.Error(),
			})
		}
		r.sink.Report(types.Event{
			Kind:    types.EventRelease,
			Source:  name,
			Task:    d.ID,
			Count:   count,
			Tick:    finish,
			Planned: last,
			Ticks:   finish.Sub(start),
			Budget:  d.RelativeDeadline(),
		})

		if r.maxJobs > 0 && count >= r.maxJobs {
			r.logger.Info("Periodic task reached job limit", "task", name, "jobs", count)
			return nil
		}

		next, err := r.clock.DelayUntil(ctx, last, d.Period)
		if err != nil {
			return err
		}
		last = next
	}
}

func (r *Runner) setState(count uint64, last types.Tick) {
	r.mu.Lock()
	r.state = ReleaseState{JobCount: count, LastRelease: last}
	r.mu.Unlock()
}

// Simulated is a task body that logs its release and then occupies the
// processor for Work ticks.
type Simulated struct {
	Work   types.Ticks
	Clock  clock.Port
	Logger *slog.Logger
}

// Execute logs the release and consumes Work ticks.
func (s *Simulated) Execute(ctx context.Context, rel Release) error {
	now := s.Clock.Now()
	if s.Logger != nil {
		s.Logger.Info("Current cycle", "task", rel.Name, "cycle", rel.Count, "tick", now)
	}
	_, err := s.Clock.DelayUntil(ctx, now, s.Work)
	return err
}
