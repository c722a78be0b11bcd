// ============================================================================
// rtsched Reporting Sink
// ============================================================================
//
// Package: internal/report
// File: report.go
// Purpose: Append-only observational output of the schedulers.
//
// Contract:
//   Report never returns an error and never blocks for long. A sink that
//   fails logs its own failure; scheduling correctness must not depend on
//   any sink.
//
// Sinks:
//   - LogSink:   structured log lines ("job dispatched", "sleeping", ...)
//   - TraceSink: append-only trace file (internal/trace)
//   - Fanout:    forwards every event to several sinks
//   - Recorder:  in-memory capture, used by tests and the CLI
//   - Discard:   drops everything
//
// ============================================================================

package report

import (
	"log/slog"
	"sync"

	"github.com/periperidip/rtsched/internal/trace"
	"github.com/periperidip/rtsched/pkg/types"
)

// Sink consumes scheduling events.
type Sink interface {
	Report(ev types.Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ev types.Event)

// Report calls f(ev).
func (f SinkFunc) Report(ev types.Event) { f(ev) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(types.Event) {})

// Fanout forwards events to every non-nil sink in order.
func Fanout(sinks ...Sink) Sink {
	var live []Sink
	for _, s := range sinks {
		if s != nil {
			live = append(live, s)
		}
	}
	switch len(live) {
	case 0:
		return Discard
	case 1:
		return live[0]
	}
	return SinkFunc(func(ev types.Event) {
		for _, s := range live {
			s.Report(ev)
		}
	})
}

// LogSink writes events as structured log records.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink writing to logger.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// Report logs ev at a level matching its kind.
func (s *LogSink) Report(ev types.Event) {
	switch ev.Kind {
	case types.EventDispatch:
		s.logger.Info("Job dispatched", "job", ev.Job, "cycle", ev.Cycle, "index", ev.Index, "tick", ev.Tick, "planned", ev.Planned)
	case types.EventSleep:
		s.logger.Info("Sleeping", "ticks", ev.Ticks, "tick", ev.Tick)
	case types.EventCycleComplete:
		s.logger.Info("End of cycle", "cycle", ev.Cycle, "tick", ev.Tick)
	case types.EventRelease:
		attrs := []any{"task", ev.Source, "cycle", ev.Count, "release", ev.Planned, "tick", ev.Tick, "response", ev.Response()}
		if ev.DeadlineMissed() {
			s.logger.Warn("Deadline missed", append(attrs, "deadline", ev.Budget)...)
			return
		}
		s.logger.Info("Task released", attrs...)
	case types.EventOverrun:
		s.logger.Warn("Job overran its slot", "job", ev.Job, "elapsed", ev.Ticks, "budget", ev.Budget, "tick", ev.Tick)
	case types.EventHandlerError:
		s.logger.Error("Handler failed", "source", ev.Source, "job", ev.Job, "error", ev.Error)
	default:
		s.logger.Debug("Event", "kind", ev.Kind, "source", ev.Source)
	}
}

// TraceSink appends events to a trace log.
type TraceSink struct {
	log    *trace.Log
	logger *slog.Logger
}

// NewTraceSink creates a sink appending to l.
func NewTraceSink(l *trace.Log, logger *slog.Logger) *TraceSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &TraceSink{log: l, logger: logger}
}

// Report appends ev; failures are logged and otherwise ignored.
func (s *TraceSink) Report(ev types.Event) {
	if err := s.log.Append(ev); err != nil {
		s.logger.Error("Failed to append trace record", "kind", ev.Kind, "error", err)
	}
}

// Recorder keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []types.Event
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Report stores ev.
func (r *Recorder) Report(ev types.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

// Events returns a copy of all recorded events.
func (r *Recorder) Events() []types.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := make([]types.Event, len(r.events))
	copy(cp, r.events)
	return cp
}

// Kind returns the recorded events of one kind.
func (r *Recorder) Kind(kind types.EventKind) []types.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []types.Event
	for _, ev := range r.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}
