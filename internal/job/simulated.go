package job

import (
	"context"
	"log/slog"

	"github.com/periperidip/rtsched/internal/clock"
	"github.com/periperidip/rtsched/pkg/types"
)

// Simulated is a job body that occupies the processor for Work ticks by
// suspending on the delay port, then returns. It stands in for real job
// logic in demonstrations and tests.
type Simulated struct {
	ID     types.JobID
	Work   types.Ticks
	Clock  clock.Port
	Logger *slog.Logger

	runs uint64
}

// Run logs the activation and consumes Work ticks.
func (s *Simulated) Run(ctx context.Context) error {
	s.runs++
	start := s.Clock.Now()
	if s.Logger != nil {
		s.Logger.Info("Job running", "job", s.ID, "run", s.runs, "tick", start)
	}
	_, err := s.Clock.DelayUntil(ctx, start, s.Work)
	return err
}

// Runs returns how many times the job has been activated. It must only be
// read by the goroutine that dispatches the job, or after dispatch stopped.
func (s *Simulated) Runs() uint64 {
	return s.runs
}
