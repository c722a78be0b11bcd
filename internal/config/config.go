// ============================================================================
// rtsched Configuration
// ============================================================================
//
// Package: internal/config
// File: config.go
// Purpose: Load the YAML run configuration and turn it into validated
//          domain objects (schedule table, job registry, task descriptors).
//
// Sections:
//   clock:     tick period, virtual (simulated) time
//   log:       level, format, optional file
//   cyclic:    hyperperiod, schedule table, simulated job work, thread
//              priority / stack, overrun detection, max cycles
//   periodic:  task set, priority policy, thread stack, max jobs
//   trace:     JSON-lines event log
//   metrics:   Prometheus /metrics endpoint
//   monitor:   gRPC status service
//   status:    snapshot file written on shutdown
//
// Every defect is reported by Load before any thread starts.
//
// ============================================================================

package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/periperidip/rtsched/internal/schedule"
	"github.com/periperidip/rtsched/pkg/types"
)

// Priority policies of the periodic section.
const (
	PolicyExplicit      = "explicit"
	PolicyRateMonotonic = "rate_monotonic"
)

// ErrInvalidConfig is wrapped by every validation failure of this package.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config represents the complete run configuration.
type Config struct {
	Clock struct {
		TickPeriod time.Duration `yaml:"tick_period"`
		Virtual    bool          `yaml:"virtual"`
	} `yaml:"clock"`

	Log struct {
		Level  string `yaml:"level"`  // info | debug
		Format string `yaml:"format"` // text | json
		File   string `yaml:"file"`
	} `yaml:"log"`

	Cyclic CyclicConfig `yaml:"cyclic"`

	Periodic PeriodicConfig `yaml:"periodic"`

	Trace struct {
		Enabled       bool          `yaml:"enabled"`
		Path          string        `yaml:"path"`
		BufferSize    int           `yaml:"buffer_size"`
		FlushInterval time.Duration `yaml:"flush_interval"`
	} `yaml:"trace"`

	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Addr    string `yaml:"addr"`
	} `yaml:"metrics"`

	Monitor struct {
		Enabled bool   `yaml:"enabled"`
		Addr    string `yaml:"addr"`
	} `yaml:"monitor"`

	Status struct {
		Path        string `yaml:"path"`
		KeepBackups int    `yaml:"keep_backups"`
	} `yaml:"status"`
}

// CyclicConfig configures the cyclic executive.
type CyclicConfig struct {
	Enabled        bool                   `yaml:"enabled"`
	Hyperperiod    types.Ticks            `yaml:"hyperperiod"`
	Priority       types.Priority         `yaml:"priority"`
	StackSize      int                    `yaml:"stack_size"`
	DetectOverruns bool                   `yaml:"detect_overruns"`
	MaxCycles      uint64                 `yaml:"max_cycles"`
	Schedule       []schedule.Entry       `yaml:"schedule"`
	Jobs           map[string]JobSettings `yaml:"jobs"`
}

// JobSettings overrides the simulated body of one job.
type JobSettings struct {
	Work *types.Ticks `yaml:"work"` // ticks consumed per run; default is the job's first slot
}

// PeriodicConfig configures the periodic task set.
type PeriodicConfig struct {
	Enabled        bool         `yaml:"enabled"`
	PriorityPolicy string       `yaml:"priority_policy"`
	StackSize      int          `yaml:"stack_size"`
	MaxJobs        uint64       `yaml:"max_jobs"`
	Tasks          []TaskConfig `yaml:"tasks"`
}

// TaskConfig describes one periodic task.
type TaskConfig struct {
	ID       types.TaskID   `yaml:"id"`
	Name     string         `yaml:"name"`
	Period   types.Ticks    `yaml:"period"`
	Deadline types.Ticks    `yaml:"deadline"`
	Exec     types.Ticks    `yaml:"exec"`
	Work     *types.Ticks   `yaml:"work"` // simulated ticks per job; default Exec
	Priority types.Priority `yaml:"priority"`
}

// Default returns the configuration used when a file omits a setting.
func Default() *Config {
	cfg := &Config{}
	cfg.Clock.TickPeriod = time.Millisecond
	cfg.Log.Level = "info"
	cfg.Log.Format = "text"
	cfg.Cyclic.StackSize = 1000
	cfg.Periodic.PriorityPolicy = PolicyRateMonotonic
	cfg.Periodic.StackSize = 1000
	cfg.Trace.Path = "data/trace.jsonl"
	cfg.Trace.BufferSize = 64
	cfg.Trace.FlushInterval = 100 * time.Millisecond
	cfg.Metrics.Addr = ":9090"
	cfg.Monitor.Addr = ":50051"
	cfg.Status.Path = "data/status.json"
	cfg.Status.KeepBackups = 3
	return cfg
}

// Load reads and validates the configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML on top of Default and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that do not depend on building domain objects,
// then builds them once to surface table and task errors.
func (c *Config) Validate() error {
	if c.Clock.TickPeriod <= 0 {
		return fmt.Errorf("%w: clock.tick_period must be positive", ErrInvalidConfig)
	}
	switch c.Log.Level {
	case "info", "debug":
	default:
		return fmt.Errorf("%w: log.level %q", ErrInvalidConfig, c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%w: log.format %q", ErrInvalidConfig, c.Log.Format)
	}
	if !c.Cyclic.Enabled && !c.Periodic.Enabled {
		return fmt.Errorf("%w: neither cyclic nor periodic scheduling is enabled", ErrInvalidConfig)
	}
	if c.Trace.Enabled && c.Trace.BufferSize <= 0 {
		return fmt.Errorf("%w: trace.buffer_size must be positive", ErrInvalidConfig)
	}

	if c.Cyclic.Enabled {
		if _, err := c.Table(); err != nil {
			return err
		}
		for id := range c.Cyclic.Jobs {
			if !c.scheduled(types.JobID(id)) {
				return fmt.Errorf("%w: cyclic.jobs.%s is not in the schedule", ErrInvalidConfig, id)
			}
		}
	}

	if c.Periodic.Enabled {
		if _, err := c.Descriptors(); err != nil {
			return err
		}
	}
	return nil
}

// WithLimits returns a shallow copy of c whose run limits are replaced by
// maxCycles and maxJobs where those are non-zero.
func (c *Config) WithLimits(maxCycles, maxJobs uint64) *Config {
	out := *c
	if maxCycles > 0 {
		out.Cyclic.MaxCycles = maxCycles
	}
	if maxJobs > 0 {
		out.Periodic.MaxJobs = maxJobs
	}
	return &out
}

// CheckRunLimits reports a run on a virtual clock that would never end. Only
// the schedulers that take part in the run are checked.
func (c *Config) CheckRunLimits(cyclic, periodic bool) error {
	if !c.Clock.Virtual {
		return nil
	}
	if cyclic && c.Cyclic.MaxCycles == 0 {
		return fmt.Errorf("%w: cyclic.max_cycles is required with a virtual clock", ErrInvalidConfig)
	}
	if periodic && c.Periodic.MaxJobs == 0 {
		return fmt.Errorf("%w: periodic.max_jobs is required with a virtual clock", ErrInvalidConfig)
	}
	return nil
}

func (c *Config) scheduled(id types.JobID) bool {
	for _, e := range c.Cyclic.Schedule {
		if e.Job == id {
			return true
		}
	}
	return false
}
