// Package analysis computes the classical feasibility figures of a periodic
// task set: processor utilization and the Liu & Layland bound for
// rate-monotonic priorities. Nothing here is enforced at run time.
package analysis

import (
	"fmt"
	"math"

	"github.com/periperidip/rtsched/internal/periodic"
	"github.com/periperidip/rtsched/internal/schedule"
	"github.com/periperidip/rtsched/pkg/types"
)

// TaskLoad is the contribution of one task to the total utilization.
type TaskLoad struct {
	Name        string         `json:"name"`
	Period      types.Ticks    `json:"period"`
	Deadline    types.Ticks    `json:"deadline"`
	Exec        types.Ticks    `json:"exec"`
	Priority    types.Priority `json:"priority"`
	Utilization float64        `json:"utilization"`
}

// Report is the outcome of Analyze.
type Report struct {
	Tasks       []TaskLoad  `json:"tasks"`
	Utilization float64     `json:"utilization"`
	Bound       float64     `json:"bound"`
	Necessary   bool        `json:"necessary"`  // U <= 1
	Sufficient  bool        `json:"sufficient"` // U <= Liu & Layland bound
	Hyperperiod types.Ticks `json:"hyperperiod"`
	Warnings    []string    `json:"warnings,omitempty"`
}

// Utilization returns the sum of Exec/Period over tasks. Tasks with a zero
// period are skipped.
func Utilization(tasks []periodic.Descriptor) float64 {
	var u float64
	for _, d := range tasks {
		if d.Period == 0 {
			continue
		}
		u += float64(d.Exec) / float64(d.Period)
	}
	return u
}

// LiuLaylandBound returns n(2^(1/n) - 1), the utilization below which n
// rate-monotonic tasks with deadlines equal to periods are always
// schedulable. It is 0 for n == 0.
func LiuLaylandBound(n int) float64 {
	if n <= 0 {
		return 0
	}
	fn := float64(n)
	return fn * (math.Pow(2, 1/fn) - 1)
}

// Analyze builds a Report for tasks.
func Analyze(tasks []periodic.Descriptor) (Report, error) {
	if err := validatePeriods(tasks); err != nil {
		return Report{}, err
	}

	r := Report{Tasks: make([]TaskLoad, len(tasks))}
	for i, d := range tasks {
		r.Tasks[i] = TaskLoad{
			Name:        d.Label(),
			Period:      d.Period,
			Deadline:    d.RelativeDeadline(),
			Exec:        d.Exec,
			Priority:    d.Priority,
			Utilization: float64(d.Exec) / float64(d.Period),
		}
		if d.Deadline > d.Period {
			r.Warnings = append(r.Warnings, fmt.Sprintf("%s: deadline %d exceeds period %d", d.Label(), d.Deadline, d.Period))
		}
		if d.Exec > d.RelativeDeadline() {
			r.Warnings = append(r.Warnings, fmt.Sprintf("%s: execution time %d exceeds deadline %d", d.Label(), d.Exec, d.RelativeDeadline()))
		}
	}

	if err := periodic.VerifyRateMonotonic(tasks); err != nil {
		r.Warnings = append(r.Warnings, err.Error())
	}

	h, err := schedule.Hyperperiod(periodic.Periods(tasks)...)
	if err != nil {
		return Report{}, err
	}
	r.Hyperperiod = h
	r.Utilization = Utilization(tasks)
	r.Bound = LiuLaylandBound(len(tasks))
	r.Necessary = r.Utilization <= 1
	r.Sufficient = r.Utilization <= r.Bound
	return r, nil
}

func validatePeriods(tasks []periodic.Descriptor) error {
	if len(tasks) == 0 {
		return periodic.ErrNoTasks
	}
	for i, d := range tasks {
		if d.Period == 0 {
			return &schedule.PeriodZeroError{I: i}
		}
	}
	return nil
}
