// Package types defines the core domain model shared by the rtsched packages.
package types

import "fmt"

// Tick is an absolute reading of the monotonic tick counter.
type Tick uint64

// Ticks is a length of time measured in ticks.
type Ticks uint64

// Add returns the tick reached after d ticks.
func (t Tick) Add(d Ticks) Tick {
	return t + Tick(d)
}

// Sub returns the number of ticks from u to t, or 0 when u is after t.
func (t Tick) Sub(u Tick) Ticks {
	if u >= t {
		return 0
	}
	return Ticks(t - u)
}

// JobID is the opaque handle naming a job in a schedule table.
type JobID string

// TaskID identifies one periodic task.
type TaskID uint16

func (id TaskID) String() string {
	return fmt.Sprintf("T%d", id)
}

// Priority is a totally ordered priority level; larger is more urgent.
type Priority uint16

// EventKind classifies a reporting event.
type EventKind string

const (
	EventDispatch      EventKind = "dispatch"       // executive invoked a job handler
	EventSleep         EventKind = "sleep"          // executive suspended for a gap
	EventCycleComplete EventKind = "cycle_complete" // last table entry of a hyperperiod executed
	EventRelease       EventKind = "release"        // periodic task finished one job
	EventOverrun       EventKind = "overrun"        // handler consumed more than its exec budget
	EventHandlerError  EventKind = "handler_error"  // handler returned an error
)

// Event is one observational record emitted by the executive or a runner.
// Sinks consume events; nothing in the dispatch path depends on them.
type Event struct {
	Kind   EventKind `json:"kind"`
	Source string    `json:"source"`

	Job   JobID  `json:"job,omitempty"`
	Task  TaskID `json:"task,omitempty"`
	Cycle uint64 `json:"cycle,omitempty"` // hyperperiod iteration
	Index int    `json:"index,omitempty"` // table index
	Count uint64 `json:"count,omitempty"` // job count of a periodic task

	Tick    Tick   `json:"tick"`             // observed clock reading
	Planned Tick   `json:"planned"`          // planned start or release tick
	Ticks   Ticks  `json:"ticks,omitempty"`  // gap, elapsed or response ticks
	Budget  Ticks  `json:"budget,omitempty"` // exec time or relative deadline
	Error   string `json:"error,omitempty"`
}

// Response returns the ticks between the planned release and the completion
// of a release event.
func (e Event) Response() Ticks {
	return e.Tick.Sub(e.Planned)
}

// DeadlineMissed reports whether a release event completed after its
// relative deadline.
func (e Event) DeadlineMissed() bool {
	return e.Kind == EventRelease && e.Budget > 0 && e.Response() > e.Budget
}
