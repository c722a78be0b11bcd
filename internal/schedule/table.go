// ============================================================================
// rtsched Schedule Table - the static cyclic timeline
// ============================================================================
//
// Package: internal/schedule
// File: table.go
// Purpose: Immutable job table covering exactly one hyperperiod.
//
// Invariants (checked once by New):
//   - entries sorted by Start
//   - entry[i].Start + entry[i].Exec <= entry[i+1].Start
//   - last entry ends at or before the hyperperiod
//
// Step arithmetic:
//   For table index i in iteration n:
//     currEnd   = n*H + entry[i].Start + entry[i].Exec
//     n'        = n+1 if i is the last index, else n
//     nextStart = n'*H + entry[(i+1) mod size].Start
//   The iteration is advanced BEFORE nextStart is computed, otherwise the
//   wrap gap would be one hyperperiod short.
//
// ============================================================================

package schedule

import (
	"github.com/periperidip/rtsched/pkg/types"
)

// Entry is one job slot of the table.
type Entry struct {
	Start types.Ticks `yaml:"start" json:"start"` // offset inside the hyperperiod
	Exec  types.Ticks `yaml:"exec" json:"exec"`   // allotted execution time
	Job   types.JobID `yaml:"job" json:"job"`
}

// End returns the offset at which the entry's slot finishes.
func (e Entry) End() types.Ticks {
	return e.Start + e.Exec
}

// Table is a validated, read-only schedule. It is safe to share between
// goroutines.
type Table struct {
	entries     []Entry
	hyperperiod types.Ticks
}

// New validates entries against the hyperperiod and builds a table.
func New(entries []Entry, hyperperiod types.Ticks) (*Table, error) {
	if err := Validate(entries, hyperperiod); err != nil {
		return nil, err
	}
	cp := make([]Entry, len(entries))
	copy(cp, entries)
	return &Table{entries: cp, hyperperiod: hyperperiod}, nil
}

// Validate checks, in order, that entries are sorted, do not overlap and fit
// within the hyperperiod. It reports the first offending index.
func Validate(entries []Entry, hyperperiod types.Ticks) error {
	if hyperperiod == 0 {
		return ErrZeroHyperperiod
	}
	if len(entries) == 0 {
		return ErrEmptyTable
	}

	for i := 1; i < len(entries); i++ {
		if entries[i].Start < entries[i-1].Start {
			return &OrderError{I: i - 1, J: i}
		}
	}
	for i := 0; i+1 < len(entries); i++ {
		if entries[i].End() > entries[i+1].Start {
			return &OverlapError{I: i, J: i + 1}
		}
	}
	last := len(entries) - 1
	if entries[last].End() > hyperperiod {
		return &OutOfBoundsError{I: last}
	}
	return nil
}

// Len returns the number of entries.
func (t *Table) Len() int {
	return len(t.entries)
}

// Entry returns entry i.
func (t *Table) Entry(i int) Entry {
	return t.entries[i]
}

// Entries returns a copy of the entries.
func (t *Table) Entries() []Entry {
	cp := make([]Entry, len(t.entries))
	copy(cp, t.entries)
	return cp
}

// Hyperperiod returns the length of one cycle.
func (t *Table) Hyperperiod() types.Ticks {
	return t.hyperperiod
}

// Jobs returns the distinct job handles in first-appearance order.
func (t *Table) Jobs() []types.JobID {
	seen := make(map[types.JobID]bool)
	var jobs []types.JobID
	for _, e := range t.entries {
		if !seen[e.Job] {
			seen[e.Job] = true
			jobs = append(jobs, e.Job)
		}
	}
	return jobs
}

// Busy returns the total allotted execution time of one cycle.
func (t *Table) Busy() types.Ticks {
	var busy types.Ticks
	for _, e := range t.entries {
		busy += e.Exec
	}
	return busy
}

// Step is the timing of one dispatch step relative to the table origin.
type Step struct {
	Index     int
	Iteration uint64      // iteration the entry belongs to
	NextIter  uint64      // iteration of the following entry
	Start     types.Ticks // absolute planned start of the entry
	CurrEnd   types.Ticks // absolute end of the entry's slot
	NextStart types.Ticks // absolute planned start of the following entry
	Last      bool        // entry closes the cycle
}

// Gap returns the idle ticks between this entry's slot and the next one.
func (s Step) Gap() types.Ticks {
	if s.CurrEnd < s.NextStart {
		return s.NextStart - s.CurrEnd
	}
	return 0
}

// Step computes the timing of entry i in iteration iter.
func (t *Table) Step(i int, iter uint64) Step {
	h := t.hyperperiod
	e := t.entries[i]
	base := types.Ticks(iter) * h

	s := Step{
		Index:     i,
		Iteration: iter,
		NextIter:  iter,
		Start:     base + e.Start,
		CurrEnd:   base + e.End(),
	}
	if i == len(t.entries)-1 {
		s.Last = true
		s.NextIter++
	}
	next := t.entries[(i+1)%len(t.entries)]
	s.NextStart = types.Ticks(s.NextIter)*h + next.Start
	return s
}

// Dispatch is one planned job invocation.
type Dispatch struct {
	Cycle uint64      `json:"cycle"`
	Index int         `json:"index"`
	Job   types.JobID `json:"job"`
	Start types.Ticks `json:"start"`
	Gap   types.Ticks `json:"gap"`
}

// Plan returns the dispatch sequence of the given number of cycles. The same
// table always yields the same plan.
func (t *Table) Plan(cycles int) []Dispatch {
	plan := make([]Dispatch, 0, cycles*len(t.entries))
	var iter uint64
	for c := 0; c < cycles; c++ {
		for i := range t.entries {
			s := t.Step(i, iter)
			plan = append(plan, Dispatch{
				Cycle: s.Iteration,
				Index: i,
				Job:   t.entries[i].Job,
				Start: s.Start,
				Gap:   s.Gap(),
			})
			iter = s.NextIter
		}
	}
	return plan
}
