// Package periodic implements independently paced periodic tasks: the task
// descriptor, the drift-free release loop and rate-monotonic priorities.
package periodic

import (
	"context"
	"errors"
	"fmt"

	"github.com/periperidip/rtsched/internal/schedule"
	"github.com/periperidip/rtsched/pkg/types"
)

var (
	// ErrNilTask indicates a descriptor without a body.
	ErrNilTask = fmt.Errorf("%w: task has no body", schedule.ErrConfiguration)

	// ErrDuplicateTask indicates two descriptors with the same ID.
	ErrDuplicateTask = fmt.Errorf("%w: duplicate task id", schedule.ErrConfiguration)

	// ErrNoTasks indicates an empty task set.
	ErrNoTasks = errors.New("periodic: empty task set")
)

// Release identifies one activation of a periodic task.
type Release struct {
	Task  types.TaskID
	Name  string
	Count uint64     // 1 for the first job
	Tick  types.Tick // absolute release instant
}

// Task is the work a periodic task performs once per release.
type Task interface {
	Execute(ctx context.Context, r Release) error
}

// TaskFunc adapts a function to Task.
type TaskFunc func(ctx context.Context, r Release) error

// Execute calls f(ctx, r).
func (f TaskFunc) Execute(ctx context.Context, r Release) error {
	return f(ctx, r)
}

// Descriptor describes one periodic task. It is built once from static
// configuration and never mutated after its runner is created.
type Descriptor struct {
	ID       types.TaskID
	Name     string
	Period   types.Ticks
	Deadline types.Ticks // relative; zero means equal to Period
	Exec     types.Ticks // declared worst-case execution time
	Priority types.Priority
	Task     Task
}

// RelativeDeadline returns Deadline, or Period when no deadline is set.
func (d Descriptor) RelativeDeadline() types.Ticks {
	if d.Deadline == 0 {
		return d.Period
	}
	return d.Deadline
}

// Label returns Name, falling back to the task ID.
func (d Descriptor) Label() string {
	if d.Name != "" {
		return d.Name
	}
	return d.ID.String()
}

// Validate checks a task set. It does not check Deadline <= Period; the
// analysis package reports that.
func Validate(tasks []Descriptor) error {
	if len(tasks) == 0 {
		return ErrNoTasks
	}
	seen := make(map[types.TaskID]int, len(tasks))
	for i, d := range tasks {
		if d.Period == 0 {
			return &schedule.PeriodZeroError{I: i}
		}
		if d.Task == nil {
			return fmt.Errorf("task %s: %w", d.Label(), ErrNilTask)
		}
		if j, ok := seen[d.ID]; ok {
			return fmt.Errorf("tasks %d and %d: %w %d", j, i, ErrDuplicateTask, d.ID)
		}
		seen[d.ID] = i
	}
	return nil
}

// Periods returns the period of every task in order.
func Periods(tasks []Descriptor) []types.Ticks {
	out := make([]types.Ticks, len(tasks))
	for i, d := range tasks {
		out[i] = d.Period
	}
	return out
}
