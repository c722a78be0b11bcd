// ============================================================================
// rtsched Task Host - control thread lifecycle
// ============================================================================
//
// Package: internal/host
// File: host.go
// Purpose: Spawn named control threads (executive, periodic runners) and
//          start them together.
//
// Lifecycle:
//   1. New()                         - empty host
//   2. Spawn(name, prio, stack, fn)  - register threads, before Start only
//   3. Start(ctx)                    - launch every thread, highest priority
//                                      first, each in its own goroutine
//   4. Wait()                        - block until all threads return
//   5. Stop()                        - cancel the shared context and Wait
//
// Priorities:
//   Goroutines carry no priority. The host launches threads in priority
//   order and records each priority for reporting; relative progress is
//   left to the Go scheduler.
//
// Failures:
//   A thread that returns an error or panics gets a HostFailure result. The
//   failure is confined to that thread: the shared context is not
//   cancelled and the other threads keep running.
//
// ============================================================================

package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/periperidip/rtsched/pkg/types"
)

// ============================================================================
// Errors
// ============================================================================

var (
	// ErrHostStarted is returned by Spawn and Start once the host runs.
	ErrHostStarted = errors.New("host: already started")
	// ErrHostNotStarted is returned by Wait before Start.
	ErrHostNotStarted = errors.New("host: not started")
	// ErrDuplicateThread is returned when a thread name is reused.
	ErrDuplicateThread = errors.New("host: duplicate thread name")
	// ErrNoThreads is returned by Start when nothing was spawned.
	ErrNoThreads = errors.New("host: no threads spawned")
	// ErrPanic is wrapped by failures caused by a panicking thread.
	ErrPanic = errors.New("host: thread panicked")
)

// HostFailure is the failure of one control thread.
type HostFailure struct {
	Thread string
	Cause  error
}

func (e *HostFailure) Error() string {
	return fmt.Sprintf("thread %s failed: %v", e.Thread, e.Cause)
}

func (e *HostFailure) Unwrap() error { return e.Cause }

// ============================================================================
// Types
// ============================================================================

// Entry is the routine a control thread runs.
type Entry func(ctx context.Context) error

// ThreadInfo describes a spawned thread.
type ThreadInfo struct {
	Name     string         `json:"name"`
	Priority types.Priority `json:"priority"`
	Stack    int            `json:"stack"` // budget in bytes, informational
}

// Result is the outcome of one thread.
type Result struct {
	ThreadInfo
	Err      error         `json:"-"` // nil or *HostFailure
	Duration time.Duration `json:"duration"`
}

type thread struct {
	info  ThreadInfo
	entry Entry
}

// Option configures a Host.
type Option func(*Host)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Host) { h.logger = l }
}

// Host owns a set of control threads.
type Host struct {
	threads []*thread
	results []Result
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	mu      sync.Mutex
	logger  *slog.Logger
}

// ============================================================================
// Lifecycle
// ============================================================================

// New creates an empty host.
func New(opts ...Option) *Host {
	h := &Host{logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Spawn registers a thread. It fails once the host has started.
func (h *Host) Spawn(name string, priority types.Priority, stack int, entry Entry) error {
	if entry == nil {
		return fmt.Errorf("host: thread %q has no entry routine", name)
	}
	if stack < 0 {
		return fmt.Errorf("host: thread %q has negative stack budget", name)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.started {
		return ErrHostStarted
	}
	for _, t := range h.threads {
		if t.info.Name == name {
			return fmt.Errorf("%w: %q", ErrDuplicateThread, name)
		}
	}
	h.threads = append(h.threads, &thread{
		info:  ThreadInfo{Name: name, Priority: priority, Stack: stack},
		entry: entry,
	})
	return nil
}

// Start launches every spawned thread, highest priority first. Threads stop
// when ctx is cancelled or Stop is called.
func (h *Host) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.started {
		return ErrHostStarted
	}
	if len(h.threads) == 0 {
		return ErrNoThreads
	}

	sort.SliceStable(h.threads, func(i, j int) bool {
		return h.threads[i].info.Priority > h.threads[j].info.Priority
	})

	ctx, h.cancel = context.WithCancel(ctx)
	h.results = make([]Result, len(h.threads))

	for i, t := range h.threads {
		h.wg.Add(1)
		go func(i int, t *thread) {
			defer h.wg.Done()
			h.results[i] = h.run(ctx, t)
		}(i, t)
	}

	h.started = true
	h.logger.Info("Task host started", "threads", len(h.threads))
	return nil
}

// run executes one thread and converts its outcome into a Result.
func (h *Host) run(ctx context.Context, t *thread) (res Result) {
	res.ThreadInfo = t.info
	begin := time.Now()

	defer func() {
		res.Duration = time.Since(begin)
		if r := recover(); r != nil {
			res.Err = &HostFailure{Thread: t.info.Name, Cause: fmt.Errorf("%w: %v", ErrPanic, r)}
			h.logger.Error("Thread panicked", "thread", t.info.Name, "panic", r, "stack", string(debug.Stack()))
		}
	}()

	err := t.entry(ctx)
	switch {
	case err == nil:
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		// Stopped by the host or its parent context.
	default:
		res.Err = &HostFailure{Thread: t.info.Name, Cause: err}
		h.logger.Error("Thread failed", "thread", t.info.Name, "error", err)
		return res
	}
	h.logger.Info("Thread finished", "thread", t.info.Name)
	return res
}

// Wait blocks until every thread has returned and reports their results in
// launch order.
func (h *Host) Wait() ([]Result, error) {
	h.mu.Lock()
	started := h.started
	h.mu.Unlock()
	if !started {
		return nil, ErrHostNotStarted
	}

	h.wg.Wait()

	out := make([]Result, len(h.results))
	copy(out, h.results)
	return out, nil
}

// Stop cancels all threads and waits for them. It is a no-op before Start.
func (h *Host) Stop() []Result {
	h.mu.Lock()
	if !h.started {
		h.mu.Unlock()
		return nil
	}
	cancel := h.cancel
	h.mu.Unlock()

	cancel()
	results, _ := h.Wait()
	return results
}

// Threads returns the spawned threads; after Start they are in launch
// order.
func (h *Host) Threads() []ThreadInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]ThreadInfo, len(h.threads))
	for i, t := range h.threads {
		out[i] = t.info
	}
	return out
}

// Failures returns the failed results.
func Failures(results []Result) []error {
	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	return errs
}
