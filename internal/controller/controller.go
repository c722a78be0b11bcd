// ============================================================================
// rtsched Controller - run coordinator
// ============================================================================
//
// Package: internal/controller
// File: controller.go
// Purpose: Build every component of one scheduling run from the
//          configuration, start it, and shut it down cleanly.
//
// Components:
//   - Host:      one control thread for the cyclic executive and one per
//                periodic task, launched in priority order
//   - Sinks:     log + monitor + metrics + trace, fanned out
//   - Metrics:   Prometheus /metrics HTTP endpoint (optional)
//   - Monitor:   gRPC status service (optional)
//   - Snapshot:  final status written on shutdown
//
// Lifecycle:
//   NewController()  - validate, build, bind clocks; nothing runs yet
//   Start(ctx)       - open listeners, start the host
//   Wait()           - block until every control thread returned
//   Stop()           - cancel threads, stop servers, close the trace,
//                      write the snapshot
//   Run(ctx)         - Start + Wait + Stop
//
// Clocks:
//   With a real clock all threads share one tick counter. With a virtual
//   clock every thread gets its own simulated timeline so concurrent
//   threads cannot move each other's time.
//
// ============================================================================

package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/periperidip/rtsched/internal/analysis"
	"github.com/periperidip/rtsched/internal/clock"
	"github.com/periperidip/rtsched/internal/config"
	"github.com/periperidip/rtsched/internal/executive"
	"github.com/periperidip/rtsched/internal/host"
	"github.com/periperidip/rtsched/internal/metrics"
	"github.com/periperidip/rtsched/internal/monitor"
	"github.com/periperidip/rtsched/internal/periodic"
	"github.com/periperidip/rtsched/internal/report"
	"github.com/periperidip/rtsched/internal/server"
	"github.com/periperidip/rtsched/internal/snapshot"
	"github.com/periperidip/rtsched/internal/trace"
)

// Mode selects which schedulers run.
type Mode string

const (
	ModeCyclic   Mode = "cyclic"
	ModePeriodic Mode = "periodic"
	ModeBoth     Mode = "both"
)

// ErrModeNotConfigured is returned when the requested mode needs a
// scheduler the configuration does not enable.
var ErrModeNotConfigured = errors.New("controller: mode needs a scheduler that is not enabled")

// ExecutiveThread is the host thread name of the cyclic executive.
const ExecutiveThread = "executive"

// Options are per-run overrides of the configuration.
type Options struct {
	Mode      Mode          // empty: whatever the configuration enables
	Duration  time.Duration // stop after this long; 0 means no limit
	MaxCycles uint64        // overrides cyclic.max_cycles when > 0
	MaxJobs   uint64        // overrides periodic.max_jobs when > 0
	Logger    *slog.Logger
	Sinks     []report.Sink // extra sinks
}

// Controller coordinates one scheduling run.
type Controller struct {
	cfg    *config.Config
	opts   Options
	mode   Mode
	runID  string
	logger *slog.Logger

	host     *host.Host
	exec     *executive.Executive
	runners  []*periodic.Runner
	analysis *analysis.Report

	monitor   *monitor.Monitor
	collector *metrics.Collector
	registry  *prometheus.Registry
	traceLog  *trace.Log
	snapshots *snapshot.Manager

	metricsSrv  *http.Server
	metricsAddr net.Addr
	grpcSrv     *server.Server
	grpcAddr    net.Addr
	serveWG     sync.WaitGroup

	mu        sync.Mutex
	cancel    context.CancelFunc
	startedAt time.Time
	started   bool
	stopped   bool
	data      snapshot.Data
}

// NewController validates cfg and builds every component of the run. The
// run limits in opts override those of cfg, which is not modified.
func NewController(cfg *config.Config, opts Options) (*Controller, error) {
	mode, err := resolveMode(cfg, opts.Mode)
	if err != nil {
		return nil, err
	}
	cfg = cfg.WithLimits(opts.MaxCycles, opts.MaxJobs)
	if err := cfg.CheckRunLimits(mode != ModePeriodic, mode != ModeCyclic); err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("run_id", runID)

	c := &Controller{
		cfg:       cfg,
		opts:      opts,
		mode:      mode,
		runID:     runID,
		logger:    logger,
		host:      host.New(host.WithLogger(logger)),
		monitor:   monitor.New(monitor.WithRunID(runID)),
		registry:  prometheus.NewRegistry(),
		snapshots: snapshot.NewManager(cfg.Status.Path),
	}

	sinks := []report.Sink{report.NewLogSink(logger), c.monitor}
	if cfg.Metrics.Enabled {
		c.collector = metrics.NewCollector(c.registry)
		sinks = append(sinks, c.collector)
	}
	if cfg.Trace.Enabled {
		if err := os.MkdirAll(filepath.Dir(cfg.Trace.Path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create trace dir: %w", err)
		}
		c.traceLog, err = trace.Open(cfg.Trace.Path, cfg.Trace.BufferSize, cfg.Trace.FlushInterval)
		if err != nil {
			return nil, fmt.Errorf("failed to open trace: %w", err)
		}
		if n := c.traceLog.Truncated(); n > 0 {
			logger.Warn("Dropped a torn record at the end of the trace",
				"path", cfg.Trace.Path, "bytes", n, "last_seq", c.traceLog.LastSeq())
		}
		sinks = append(sinks, report.NewTraceSink(c.traceLog, logger))
	}
	sinks = append(sinks, opts.Sinks...)
	sink := report.Fanout(sinks...)

	shared, err := clock.NewReal(cfg.Clock.TickPeriod)
	if err != nil {
		c.closeTrace()
		return nil, err
	}
	clockFor := func() clock.Port {
		if cfg.Clock.Virtual {
			return clock.NewVirtual(0)
		}
		return shared
	}

	if mode != ModePeriodic {
		if err := c.buildExecutive(clockFor(), sink); err != nil {
			c.closeTrace()
			return nil, err
		}
	}
	if mode != ModeCyclic {
		if err := c.buildRunners(clockFor, sink); err != nil {
			c.closeTrace()
			return nil, err
		}
	}
	return c, nil
}

func resolveMode(cfg *config.Config, mode Mode) (Mode, error) {
	if mode == "" {
		switch {
		case cfg.Cyclic.Enabled && cfg.Periodic.Enabled:
			return ModeBoth, nil
		case cfg.Cyclic.Enabled:
			return ModeCyclic, nil
		case cfg.Periodic.Enabled:
			return ModePeriodic, nil
		}
		return "", fmt.Errorf("%w: nothing enabled", ErrModeNotConfigured)
	}

	switch mode {
	case ModeCyclic, ModePeriodic, ModeBoth:
	default:
		return "", fmt.Errorf("controller: unknown mode %q", mode)
	}
	if mode != ModePeriodic && !cfg.Cyclic.Enabled {
		return "", fmt.Errorf("%w: %s needs cyclic", ErrModeNotConfigured, mode)
	}
	if mode != ModeCyclic && !cfg.Periodic.Enabled {
		return "", fmt.Errorf("%w: %s needs periodic", ErrModeNotConfigured, mode)
	}
	return mode, nil
}

func (c *Controller) buildExecutive(clk clock.Port, sink report.Sink) error {
	table, err := c.cfg.Table()
	if err != nil {
		return err
	}
	registry, err := c.cfg.Registry(clk, c.logger)
	if err != nil {
		return err
	}

	execOpts := []executive.Option{
		executive.WithSink(sink),
		executive.WithLogger(c.logger),
		executive.WithMaxCycles(c.cfg.Cyclic.MaxCycles),
	}
	if c.cfg.Cyclic.DetectOverruns {
		execOpts = append(execOpts, executive.WithOverrunDetection())
	}

	c.exec, err = executive.New(table, registry, clk, execOpts...)
	if err != nil {
		return err
	}
	return c.host.Spawn(ExecutiveThread, c.cfg.Cyclic.Priority, c.cfg.Cyclic.StackSize, c.exec.Run)
}

func (c *Controller) buildRunners(clockFor func() clock.Port, sink report.Sink) error {
	var clocks []clock.Port
	tasks, err := c.cfg.Bind(func() clock.Port {
		clk := clockFor()
		clocks = append(clocks, clk)
		return clk
	}, c.logger)
	if err != nil {
		return err
	}

	rep, err := analysis.Analyze(tasks)
	if err != nil {
		return err
	}
	c.analysis = &rep
	c.logger.Info("Task set analysed",
		"tasks", len(tasks),
		"utilization", rep.Utilization,
		"bound", rep.Bound,
		"hyperperiod", rep.Hyperperiod)
	for _, w := range rep.Warnings {
		c.logger.Warn("Task set warning", "warning", w)
	}
	if !rep.Necessary {
		c.logger.Warn("Task set overloads the processor", "utilization", rep.Utilization)
	}
	if c.collector != nil {
		c.collector.SetUtilization(rep.Utilization)
	}

	for i, d := range tasks {
		r, err := periodic.NewRunner(d, clocks[i],
			periodic.WithSink(sink),
			periodic.WithLogger(c.logger),
			periodic.WithMaxJobs(c.cfg.Periodic.MaxJobs))
		if err != nil {
			return err
		}
		if err := c.host.Spawn(d.Label(), d.Priority, c.cfg.Periodic.StackSize, r.Run); err != nil {
			return err
		}
		c.runners = append(c.runners, r)
	}
	return nil
}

// RunID returns the identifier of this run.
func (c *Controller) RunID() string { return c.runID }

// Mode returns the resolved mode.
func (c *Controller) Mode() Mode { return c.mode }

// Analysis returns the task-set analysis, or nil without periodic tasks.
func (c *Controller) Analysis() *analysis.Report { return c.analysis }

// Status returns the live monitor status.
func (c *Controller) Status() monitor.Status { return c.monitor.Status() }

// Executive returns the cyclic executive, or nil in periodic mode.
func (c *Controller) Executive() *executive.Executive { return c.exec }

// Runners returns the periodic runners.
func (c *Controller) Runners() []*periodic.Runner { return c.runners }

// MetricsAddr returns the bound /metrics address after Start, or nil.
func (c *Controller) MetricsAddr() net.Addr { return c.metricsAddr }

// MonitorAddr returns the bound gRPC address after Start, or nil.
func (c *Controller) MonitorAddr() net.Addr { return c.grpcAddr }

// ============================================================================
// Lifecycle
// ============================================================================

// Start opens the service listeners and launches the control threads.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return errors.New("controller already started")
	}

	if c.cfg.Metrics.Enabled {
		ln, err := net.Listen("tcp", c.cfg.Metrics.Addr)
		if err != nil {
			return fmt.Errorf("failed to listen for metrics: %w", err)
		}
		c.metricsAddr = ln.Addr()
		c.metricsSrv = metrics.NewServer(c.cfg.Metrics.Addr, c.registry)
		c.serve("metrics", func() error { return c.metricsSrv.Serve(ln) })
	}

	if c.cfg.Monitor.Enabled {
		ln, err := net.Listen("tcp", c.cfg.Monitor.Addr)
		if err != nil {
			c.stopServers()
			return fmt.Errorf("failed to listen for monitor: %w", err)
		}
		c.grpcAddr = ln.Addr()
		c.grpcSrv = server.New(c.monitor, c.logger)
		c.serve("monitor", func() error { return c.grpcSrv.Serve(ln) })
	}

	if c.opts.Duration > 0 {
		ctx, c.cancel = context.WithTimeout(ctx, c.opts.Duration)
	}

	c.startedAt = time.Now()
	if err := c.host.Start(ctx); err != nil {
		c.releaseTimeout()
		c.stopServers()
		return err
	}
	c.started = true

	c.logger.Info("Controller started",
		"mode", c.mode,
		"threads", len(c.host.Threads()),
		"virtual_clock", c.cfg.Clock.Virtual)
	return nil
}

func (c *Controller) serve(name string, fn func() error) {
	c.serveWG.Add(1)
	go func() {
		defer c.serveWG.Done()
		if err := fn(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Error("Server stopped", "server", name, "error", err)
		}
	}()
}

// Wait blocks until every control thread has returned, then shuts the run
// down. Thread failures are joined into the returned error.
func (c *Controller) Wait() (snapshot.Data, error) {
	results, err := c.host.Wait()
	if err != nil {
		return snapshot.Data{}, err
	}
	return c.shutdown(results)
}

// Stop cancels the control threads and shuts the run down. It is safe to
// call more than once.
func (c *Controller) Stop() (snapshot.Data, error) {
	return c.shutdown(c.host.Stop())
}

// Run starts the controller and waits for it.
func (c *Controller) Run(ctx context.Context) (snapshot.Data, error) {
	if err := c.Start(ctx); err != nil {
		c.closeTrace()
		return snapshot.Data{}, err
	}
	return c.Wait()
}

func (c *Controller) shutdown(results []host.Result) (snapshot.Data, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return c.data, nil
	}
	c.stopped = true

	c.releaseTimeout()
	c.stopServers()

	data := snapshot.Data{
		RunID:     c.runID,
		Mode:      string(c.mode),
		StartedAt: c.startedAt,
		StoppedAt: time.Now(),
	}
	for _, r := range results {
		outcome := snapshot.ThreadOutcome{Name: r.Name, Priority: r.Priority}
		if r.Err != nil {
			outcome.Error = r.Err.Error()
		}
		data.Threads = append(data.Threads, outcome)
	}

	var errs []error
	if c.traceLog != nil {
		data.TraceSeq = c.traceLog.LastSeq()
		if err := c.traceLog.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close trace: %w", err))
		}
	}

	data.Status = c.monitor.Status()
	if c.cfg.Status.Path != "" {
		if err := c.snapshots.WriteWithBackup(data, c.cfg.Status.KeepBackups); err != nil {
			errs = append(errs, fmt.Errorf("write status snapshot: %w", err))
		}
	}
	c.data = data

	errs = append(errs, host.Failures(results)...)
	c.logger.Info("Controller stopped",
		"cycles", data.Status.Cycles,
		"deadline_misses", data.Status.DeadlineMisses,
		"failures", len(host.Failures(results)))
	return data, errors.Join(errs...)
}

func (c *Controller) stopServers() {
	if c.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := c.metricsSrv.Shutdown(ctx); err != nil {
			c.logger.Warn("Metrics server shutdown", "error", err)
		}
		cancel()
	}
	if c.grpcSrv != nil {
		c.grpcSrv.Stop()
	}
	c.serveWG.Wait()
}

func (c *Controller) releaseTimeout() {
	if c.cancel != nil {
		c.cancel()
	}
}

func (c *Controller) closeTrace() {
	if c.traceLog != nil {
		_ = c.traceLog.Close()
	}
}
