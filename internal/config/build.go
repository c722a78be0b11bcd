package config

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/periperidip/rtsched/internal/clock"
	"github.com/periperidip/rtsched/internal/job"
	"github.com/periperidip/rtsched/internal/periodic"
	"github.com/periperidip/rtsched/internal/schedule"
	"github.com/periperidip/rtsched/pkg/types"
)

// Table builds the validated schedule table.
func (c *Config) Table() (*schedule.Table, error) {
	t, err := schedule.New(c.Cyclic.Schedule, c.Cyclic.Hyperperiod)
	if err != nil {
		return nil, fmt.Errorf("cyclic: %w", err)
	}
	return t, nil
}

// Registry registers a simulated handler for every job of the table. Each
// handler consumes its configured work, or the length of its first slot.
func (c *Config) Registry(clk clock.Port, logger *slog.Logger) (*job.Registry, error) {
	table, err := c.Table()
	if err != nil {
		return nil, err
	}

	work := make(map[types.JobID]types.Ticks)
	for _, e := range table.Entries() {
		if _, ok := work[e.Job]; !ok {
			work[e.Job] = e.Exec
		}
	}
	for id, js := range c.Cyclic.Jobs {
		if js.Work != nil {
			work[types.JobID(id)] = *js.Work
		}
	}

	r := job.NewRegistry()
	for _, id := range table.Jobs() {
		if err := r.Register(id, &job.Simulated{ID: id, Work: work[id], Clock: clk, Logger: logger}); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Descriptors builds the task set with priorities resolved by the policy.
// Bodies are left nil; see Bind.
func (c *Config) Descriptors() ([]periodic.Descriptor, error) {
	tasks := make([]periodic.Descriptor, len(c.Periodic.Tasks))
	for i, tc := range c.Periodic.Tasks {
		id := tc.ID
		if id == 0 {
			id = types.TaskID(i + 1)
		}
		tasks[i] = periodic.Descriptor{
			ID:       id,
			Name:     tc.Name,
			Period:   tc.Period,
			Deadline: tc.Deadline,
			Exec:     tc.Exec,
			Priority: tc.Priority,
			Task:     periodic.TaskFunc(nopTask),
		}
	}
	if err := periodic.Validate(tasks); err != nil {
		return nil, fmt.Errorf("periodic: %w", err)
	}

	switch c.Periodic.PriorityPolicy {
	case PolicyRateMonotonic:
		tasks = periodic.AssignRateMonotonic(tasks)
	case PolicyExplicit:
		if err := verifyExplicit(tasks); err != nil {
			return nil, fmt.Errorf("periodic: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: periodic.priority_policy %q", ErrInvalidConfig, c.Periodic.PriorityPolicy)
	}

	for i := range tasks {
		tasks[i].Task = nil
	}
	return tasks, nil
}

// Bind returns the task set with simulated bodies. clockFor is called once
// per task, in task order, for the clock that task's body runs on.
func (c *Config) Bind(clockFor func() clock.Port, logger *slog.Logger) ([]periodic.Descriptor, error) {
	tasks, err := c.Descriptors()
	if err != nil {
		return nil, err
	}
	for i := range tasks {
		work := tasks[i].Exec
		if w := c.Periodic.Tasks[i].Work; w != nil {
			work = *w
		}
		tasks[i].Task = &periodic.Simulated{Work: work, Clock: clockFor(), Logger: logger}
	}
	return tasks, nil
}

func verifyExplicit(tasks []periodic.Descriptor) error {
	for i, d := range tasks {
		if d.Priority == 0 {
			return fmt.Errorf("%w: task %s has no priority under the explicit policy", ErrInvalidConfig, d.Label())
		}
		for j := i + 1; j < len(tasks); j++ {
			if tasks[j].Priority == d.Priority {
				return &periodic.PriorityError{I: i, J: j, Reason: fmt.Sprintf("share priority %d", d.Priority)}
			}
		}
	}
	return nil
}

func nopTask(context.Context, periodic.Release) error { return nil }
