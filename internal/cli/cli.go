// ============================================================================
// rtsched CLI - Command Line Interface
// ============================================================================
//
// Package: internal/cli
// File: cli.go
// Purpose: Cobra command tree for running and inspecting schedules
//
// Command Structure:
//   rtsched                        # Root command
//   ├── --config, -c               # Config file (default configs/default.yaml)
//   ├── run                        # Run the configured schedulers
//   │   ├── --mode                 # cyclic | periodic | both
//   │   ├── --duration             # stop after this long
//   │   ├── --cycles / --jobs      # stop after N cycles / N jobs per task
//   │   └── --virtual              # simulated clock, no real waiting
//   ├── validate                   # Check the configuration
//   ├── plan                       # Print the dispatch timeline of the table
//   │   └── --cycles
//   ├── analyze                    # Utilization and rate-monotonic bound
//   ├── trace                      # Summarise a trace file
//   │   └── --file, -f
//   └── status                     # Show a live or stored run status
//       ├── --addr                 # query the gRPC monitor
//       └── --file, -f             # read a status snapshot
//
// Signal Handling:
//   run captures SIGINT and SIGTERM and stops the control threads, the
//   metrics and monitor servers, flushes the trace and writes the status
//   snapshot before returning.
//
// ============================================================================

package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/periperidip/rtsched/internal/analysis"
	"github.com/periperidip/rtsched/internal/config"
	"github.com/periperidip/rtsched/internal/controller"
	"github.com/periperidip/rtsched/internal/logger"
	"github.com/periperidip/rtsched/internal/monitor"
	"github.com/periperidip/rtsched/internal/server"
	"github.com/periperidip/rtsched/internal/snapshot"
	"github.com/periperidip/rtsched/internal/trace"
)

var configFile string

func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "rtsched",
		Short: "rtsched: cyclic executive and rate-monotonic periodic scheduler",
		Long: `rtsched runs two classic real-time scheduling models:
- a table-driven cyclic executive over a fixed hyperperiod
- independently paced periodic tasks with rate-monotonic priorities`,
		Version:       "1.0.0",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "configs/default.yaml", "config file path")

	rootCmd.AddCommand(buildRunCommand())
	rootCmd.AddCommand(buildValidateCommand())
	rootCmd.AddCommand(buildPlanCommand())
	rootCmd.AddCommand(buildAnalyzeCommand())
	rootCmd.AddCommand(buildTraceCommand())
	rootCmd.AddCommand(buildStatusCommand())

	return rootCmd
}

// runFlags are the overrides accepted by run.
type runFlags struct {
	mode     string
	duration time.Duration
	cycles   uint64
	jobs     uint64
	virtual  bool
	debug    bool
}

func buildRunCommand() *cobra.Command {
	var f runFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the configured schedulers",
		Long:  "Run the cyclic executive, the periodic task set, or both, until interrupted or a limit is reached",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runSystem(ctx, cmd.OutOrStdout(), f)
		},
	}

	cmd.Flags().StringVar(&f.mode, "mode", "", "schedulers to run: cyclic, periodic, both (default: whatever the config enables)")
	cmd.Flags().DurationVar(&f.duration, "duration", 0, "stop after this long (0 runs until interrupted)")
	cmd.Flags().Uint64Var(&f.cycles, "cycles", 0, "stop the executive after N cycles")
	cmd.Flags().Uint64Var(&f.jobs, "jobs", 0, "stop each periodic task after N jobs")
	cmd.Flags().BoolVar(&f.virtual, "virtual", false, "use a simulated clock")
	cmd.Flags().BoolVar(&f.debug, "debug", false, "debug logging")

	return cmd
}

func runSystem(ctx context.Context, out io.Writer, f runFlags) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}
	if f.virtual {
		cfg.Clock.Virtual = true
	}

	log, closeLog, err := buildLogger(cfg, f.debug)
	if err != nil {
		return err
	}
	defer closeLog()

	ctrl, err := controller.NewController(cfg, controller.Options{
		Mode:      controller.Mode(f.mode),
		Duration:  f.duration,
		MaxCycles: f.cycles,
		MaxJobs:   f.jobs,
		Logger:    log,
	})
	if err != nil {
		return fmt.Errorf("failed to create controller: %w", err)
	}

	log.Info("Starting rtsched", "config", configFile, "mode", ctrl.Mode())
	if rep := ctrl.Analysis(); rep != nil {
		fmt.Fprintln(out, renderAnalysis(*rep))
	}

	data, err := ctrl.Run(ctx)
	fmt.Fprintln(out, renderStatus(data.Status))
	if err != nil {
		return fmt.Errorf("run finished with errors: %w", err)
	}
	log.Info("System stopped")
	return nil
}

// buildLogger creates the run logger from the log section.
func buildLogger(cfg *config.Config, debug bool) (*slog.Logger, func(), error) {
	opts := []logger.Option{logger.WithFormat(cfg.Log.Format)}
	if debug || cfg.Log.Level == "debug" {
		opts = append(opts, logger.WithDebug())
	}

	closeFn := func() {}
	if cfg.Log.File != "" {
		f, err := logger.OpenFile(cfg.Log.File)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, logger.WithWriter(f))
		closeFn = func() { _ = f.Close() }
	}
	return logger.New(opts...), closeFn, nil
}

func buildValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration",
		Long:  "Load the config file, build the table and the task set, and report any error",
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateConfig(cmd.OutOrStdout())
		},
	}
}

func validateConfig(out io.Writer) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}
	if cfg.Cyclic.Enabled {
		table, err := cfg.Table()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "cyclic: %d entries, hyperperiod %d, busy %d\n",
			table.Len(), table.Hyperperiod(), table.Busy())
	}
	if cfg.Periodic.Enabled {
		tasks, err := cfg.Descriptors()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "periodic: %d tasks, policy %s\n", len(tasks), cfg.Periodic.PriorityPolicy)
	}
	fmt.Fprintf(out, "%s: ok\n", configFile)
	return nil
}

func buildPlanCommand() *cobra.Command {
	var cycles int

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the dispatch timeline of the cyclic table",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showPlan(cmd.OutOrStdout(), cycles)
		},
	}
	cmd.Flags().IntVar(&cycles, "cycles", 1, "number of hyperperiods to print")
	return cmd
}

func showPlan(out io.Writer, cycles int) error {
	if cycles < 1 {
		return fmt.Errorf("cycles must be at least 1")
	}
	cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}
	table, err := cfg.Table()
	if err != nil {
		return err
	}
	fmt.Fprintln(out, renderPlan(table.Plan(cycles)))
	return nil
}

func buildAnalyzeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "analyze",
		Short: "Analyse the periodic task set",
		Long:  "Print per-task utilization, the total, and the Liu & Layland rate-monotonic bound",
		RunE: func(cmd *cobra.Command, args []string) error {
			return analyzeTasks(cmd.OutOrStdout())
		},
	}
}

func analyzeTasks(out io.Writer) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}
	tasks, err := cfg.Descriptors()
	if err != nil {
		return err
	}
	rep, err := analysis.Analyze(tasks)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, renderAnalysis(rep))
	return nil
}

func buildTraceCommand() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Summarise a trace file",
		Long:  "Replay a trace file, verify every checksum and count events per kind and source",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				cfg, err := loadConfig(configFile)
				if err != nil {
					return err
				}
				file = cfg.Trace.Path
			}
			return summariseTrace(cmd.OutOrStdout(), file)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "trace file (default: trace.path from the config)")
	return cmd
}

func summariseTrace(out io.Writer, path string) error {
	sum := newTraceSummary()
	if err := trace.Replay(path, func(r trace.Record) error {
		sum.add(r)
		return nil
	}); err != nil {
		return fmt.Errorf("failed to replay trace: %w", err)
	}
	fmt.Fprintln(out, sum.render(path))
	return nil
}

func buildStatusCommand() *cobra.Command {
	var addr, file string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show run status",
		Long:  "Query a running instance over gRPC, or read the status snapshot of the last run",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showStatus(cmd.Context(), cmd.OutOrStdout(), addr, file)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "monitor address of a running instance")
	cmd.Flags().StringVarP(&file, "file", "f", "", "status snapshot (default: status.path from the config)")
	return cmd
}

func showStatus(ctx context.Context, out io.Writer, addr, file string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var st monitor.Status
	if addr != "" {
		client, err := server.NewClient(addr)
		if err != nil {
			return fmt.Errorf("failed to connect to %s: %w", addr, err)
		}
		defer client.Close()

		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		st, err = client.Status(ctx)
		if err != nil {
			return fmt.Errorf("failed to query %s: %w", addr, err)
		}
	} else {
		if file == "" {
			cfg, err := loadConfig(configFile)
			if err != nil {
				return err
			}
			file = cfg.Status.Path
		}
		data, err := snapshot.Load(file)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, renderRun(data))
		st = data.Status
	}

	fmt.Fprintln(out, renderStatus(st))
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

