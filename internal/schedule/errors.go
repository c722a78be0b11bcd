package schedule

// ============================================================================
// Schedule configuration errors
// Purpose: every table defect is fatal and detected before dispatch starts
// ============================================================================

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration is matched by every configuration error of this package.
	ErrConfiguration = errors.New("schedule: invalid configuration")

	// ErrEmptyTable indicates a table without entries.
	ErrEmptyTable = fmt.Errorf("%w: table has no entries", ErrConfiguration)

	// ErrZeroHyperperiod indicates a hyperperiod of zero ticks.
	ErrZeroHyperperiod = fmt.Errorf("%w: hyperperiod must be positive", ErrConfiguration)
)

// OrderError reports entry J starting before entry I although it follows it.
type OrderError struct {
	I, J int
}

func (e *OrderError) Error() string {
	return fmt.Sprintf("schedule: entry %d starts before entry %d", e.J, e.I)
}

func (e *OrderError) Unwrap() error { return ErrConfiguration }

// OverlapError reports entry I still executing when entry J starts.
type OverlapError struct {
	I, J int
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("schedule: entry %d overlaps entry %d", e.I, e.J)
}

func (e *OverlapError) Unwrap() error { return ErrConfiguration }

// OutOfBoundsError reports entry I ending after the hyperperiod.
type OutOfBoundsError struct {
	I int
}

func (e *OutOfBoundsError) Error() string {
	return fmt.Sprintf("schedule: entry %d ends after the hyperperiod", e.I)
}

func (e *OutOfBoundsError) Unwrap() error { return ErrConfiguration }

// PeriodZeroError reports a zero period at index I.
type PeriodZeroError struct {
	I int
}

func (e *PeriodZeroError) Error() string {
	return fmt.Sprintf("schedule: period %d is zero", e.I)
}

func (e *PeriodZeroError) Unwrap() error { return ErrConfiguration }
