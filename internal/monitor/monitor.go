// ============================================================================
// rtsched Monitor - timing observer
// ============================================================================
//
// Package: internal/monitor
// File: monitor.go
// Purpose: Derive deadline misses and per-task / per-job statistics from
//          the event stream.
//
// The executive and the runners never judge their own timing. The monitor
// is the external observer that does: a release event whose response
// (finish - release) exceeds the task's relative deadline counts as a
// miss; a dispatch event started after its planned tick records lateness.
//
// Status() is safe to call from any goroutine (gRPC handler, snapshot
// writer, CLI) while events keep arriving.
//
// ============================================================================

package monitor

import (
	"sort"
	"sync"
	"time"

	"github.com/periperidip/rtsched/pkg/types"
)

// TaskStats summarises one periodic task.
type TaskStats struct {
	Name           string       `json:"name"`
	Task           types.TaskID `json:"task"`
	Jobs           uint64       `json:"jobs"`
	LastRelease    types.Tick   `json:"last_release"`
	LastFinish     types.Tick   `json:"last_finish"`
	WorstResponse  types.Ticks  `json:"worst_response"`
	DeadlineMisses uint64       `json:"deadline_misses"`
	Errors         uint64       `json:"errors"`
}

// JobStats summarises one job of the cyclic executive.
type JobStats struct {
	Job           types.JobID `json:"job"`
	Dispatches    uint64      `json:"dispatches"`
	Overruns      uint64      `json:"overruns"`
	Errors        uint64      `json:"errors"`
	WorstLateness types.Ticks `json:"worst_lateness"`
}

// Status is a point-in-time view of everything the monitor has seen.
type Status struct {
	RunID          string      `json:"run_id,omitempty"`
	Events         uint64      `json:"events"`
	Cycles         uint64      `json:"cycles"`
	IdleTicks      types.Ticks `json:"idle_ticks"`
	DeadlineMisses uint64      `json:"deadline_misses"`
	LastTick       types.Tick  `json:"last_tick"`
	Tasks          []TaskStats `json:"tasks"`
	Jobs           []JobStats  `json:"jobs"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithRunID tags the status with a run identifier.
func WithRunID(id string) Option {
	return func(m *Monitor) { m.runID = id }
}

// WithMissHandler calls fn for every release that missed its deadline.
// fn runs on the reporting goroutine and must not block.
func WithMissHandler(fn func(types.Event)) Option {
	return func(m *Monitor) { m.onMiss = fn }
}

// Monitor is a report.Sink that keeps running statistics.
type Monitor struct {
	mu        sync.Mutex
	runID     string
	events    uint64
	cycles    uint64
	idle      types.Ticks
	misses    uint64
	lastTick  types.Tick
	updatedAt time.Time
	tasks     map[string]*TaskStats
	jobs      map[types.JobID]*JobStats
	onMiss    func(types.Event)
}

// New creates an empty monitor.
func New(opts ...Option) *Monitor {
	m := &Monitor{
		tasks: make(map[string]*TaskStats),
		jobs:  make(map[types.JobID]*JobStats),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Report folds ev into the statistics.
func (m *Monitor) Report(ev types.Event) {
	m.mu.Lock()

	m.events++
	m.updatedAt = time.Now()
	if ev.Tick > m.lastTick {
		m.lastTick = ev.Tick
	}

	var missed bool
	switch ev.Kind {
	case types.EventDispatch:
		js := m.job(ev.Job)
		js.Dispatches++
		if late := ev.Tick.Sub(ev.Planned); late > js.WorstLateness {
			js.WorstLateness = late
		}
	case types.EventSleep:
		m.idle += ev.Ticks
	case types.EventCycleComplete:
		if ev.Cycle > m.cycles {
			m.cycles = ev.Cycle
		}
	case types.EventOverrun:
		m.job(ev.Job).Overruns++
	case types.EventHandlerError:
		if ev.Job != "" {
			m.job(ev.Job).Errors++
		} else {
			m.task(ev).Errors++
		}
	case types.EventRelease:
		ts := m.task(ev)
		ts.Jobs = ev.Count
		ts.LastRelease = ev.Planned
		ts.LastFinish = ev.Tick
		if r := ev.Response(); r > ts.WorstResponse {
			ts.WorstResponse = r
		}
		if ev.DeadlineMissed() {
			ts.DeadlineMisses++
			m.misses++
			missed = true
		}
	}
	onMiss := m.onMiss
	m.mu.Unlock()

	if missed && onMiss != nil {
		onMiss(ev)
	}
}

func (m *Monitor) job(id types.JobID) *JobStats {
	js, ok := m.jobs[id]
	if !ok {
		js = &JobStats{Job: id}
		m.jobs[id] = js
	}
	return js
}

func (m *Monitor) task(ev types.Event) *TaskStats {
	ts, ok := m.tasks[ev.Source]
	if !ok {
		ts = &TaskStats{Name: ev.Source, Task: ev.Task}
		m.tasks[ev.Source] = ts
	}
	return ts
}

// Status returns a copy of the current statistics. Tasks and jobs are
// sorted by name.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Status{
		RunID:          m.runID,
		Events:         m.events,
		Cycles:         m.cycles,
		IdleTicks:      m.idle,
		DeadlineMisses: m.misses,
		LastTick:       m.lastTick,
		UpdatedAt:      m.updatedAt,
		Tasks:          make([]TaskStats, 0, len(m.tasks)),
		Jobs:           make([]JobStats, 0, len(m.jobs)),
	}
	for _, ts := range m.tasks {
		st.Tasks = append(st.Tasks, *ts)
	}
	for _, js := range m.jobs {
		st.Jobs = append(st.Jobs, *js)
	}
	sort.Slice(st.Tasks, func(i, j int) bool { return st.Tasks[i].Name < st.Tasks[j].Name })
	sort.Slice(st.Jobs, func(i, j int) bool { return st.Jobs[i].Job < st.Jobs[j].Job })
	return st
}
