package periodic

import (
	"fmt"
	"sort"

	"github.com/periperidip/rtsched/internal/schedule"
	"github.com/periperidip/rtsched/pkg/types"
)

// PriorityError reports tasks I and J whose priorities break the
// rate-monotonic ordering.
type PriorityError struct {
	I, J   int
	Reason string
}

func (e *PriorityError) Error() string {
	return fmt.Sprintf("periodic: tasks %d and %d: %s", e.I, e.J, e.Reason)
}

func (e *PriorityError) Unwrap() error { return schedule.ErrConfiguration }

// PriorityOf is the rate-monotonic assignment for a set of periods. The
// shortest period gets level n, the longest level 1; equal periods are
// ordered by position so every level is distinct.
func PriorityOf(periods ...types.Ticks) []types.Priority {
	order := make([]int, len(periods))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return periods[order[a]] < periods[order[b]]
	})

	levels := make([]types.Priority, len(periods))
	for rank, i := range order {
		levels[i] = types.Priority(len(periods) - rank)
	}
	return levels
}

// AssignRateMonotonic returns a copy of tasks with rate-monotonic priorities.
func AssignRateMonotonic(tasks []Descriptor) []Descriptor {
	levels := PriorityOf(Periods(tasks)...)
	out := make([]Descriptor, len(tasks))
	for i, d := range tasks {
		d.Priority = levels[i]
		out[i] = d
	}
	return out
}

// VerifyRateMonotonic checks that priorities are pairwise distinct and that
// no task has a strictly longer period than a task it outranks.
func VerifyRateMonotonic(tasks []Descriptor) error {
	for i := range tasks {
		for j := i + 1; j < len(tasks); j++ {
			a, b := tasks[i], tasks[j]
			switch {
			case a.Priority == b.Priority:
				return &PriorityError{I: i, J: j, Reason: fmt.Sprintf("share priority %d", a.Priority)}
			case a.Period < b.Period && a.Priority < b.Priority,
				a.Period > b.Period && a.Priority > b.Priority:
				return &PriorityError{I: i, J: j, Reason: "priority order contradicts period order"}
			}
		}
	}
	return nil
}
