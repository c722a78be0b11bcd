// Package job maps the opaque job handles of a schedule table onto the
// handlers that implement them, so tables can be validated and tested
// independently of concrete job logic.
package job

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/periperidip/rtsched/pkg/types"
)

var (
	// ErrUnknownJob is returned when a handle has no registered handler.
	ErrUnknownJob = errors.New("job: unknown job handle")

	// ErrDuplicateJob is returned when a handle is registered twice.
	ErrDuplicateJob = errors.New("job: handle already registered")
)

// Handler runs one job to completion. Handlers are invoked synchronously by
// the executive and are expected to finish well within their slot.
type Handler interface {
	Run(ctx context.Context) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context) error

// Run calls f(ctx).
func (f HandlerFunc) Run(ctx context.Context) error {
	return f(ctx)
}

// Registry is the handle-to-handler mapping. It is populated at start-up and
// read-only once dispatch begins.
type Registry struct {
	mu       sync.RWMutex
	handlers map[types.JobID]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[types.JobID]Handler)}
}

// Register binds a handler to a handle.
func (r *Registry) Register(id types.JobID, h Handler) error {
	if h == nil {
		return fmt.Errorf("job %q: nil handler", id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[id]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateJob, id)
	}
	r.handlers[id] = h
	return nil
}

// Lookup returns the handler bound to id.
func (r *Registry) Lookup(id types.JobID) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownJob, id)
	}
	return h, nil
}

// Require checks that every id is registered.
func (r *Registry) Require(ids ...types.JobID) error {
	for _, id := range ids {
		if _, err := r.Lookup(id); err != nil {
			return err
		}
	}
	return nil
}

// IDs returns the registered handles in sorted order.
func (r *Registry) IDs() []types.JobID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]types.JobID, 0, len(r.handlers))
	for id := range r.handlers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
