// Package logger builds the process-wide slog logger: console output plus an
// optional log file, fanned out through slog-multi.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	slogmulti "github.com/samber/slog-multi"
)

type config struct {
	debug   bool
	format  string
	console io.Writer
	writer  io.Writer
	quiet   bool
}

// Option configures New.
type Option func(*config)

// WithDebug sets the level of the logger to debug.
func WithDebug() Option {
	return func(c *config) { c.debug = true }
}

// WithFormat sets the format of the logger (text or json).
func WithFormat(format string) Option {
	return func(c *config) { c.format = format }
}

// WithWriter adds a second destination, usually a log file.
func WithWriter(w io.Writer) Option {
	return func(c *config) { c.writer = w }
}

// WithConsole replaces stderr as the console destination.
func WithConsole(w io.Writer) Option {
	return func(c *config) { c.console = w }
}

// WithQuiet suppresses console output.
func WithQuiet() Option {
	return func(c *config) { c.quiet = true }
}

// New creates a logger.
func New(opts ...Option) *slog.Logger {
	cfg := &config{format: "text", console: os.Stderr}
	for _, opt := range opts {
		opt(cfg)
	}

	level := slog.LevelInfo
	if cfg.debug {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.debug,
	}

	var handlers []slog.Handler
	if !cfg.quiet {
		handlers = append(handlers, newHandler(cfg.console, cfg.format, handlerOpts))
	}
	if cfg.writer != nil {
		handlers = append(handlers, &guardedHandler{handler: newHandler(cfg.writer, cfg.format, handlerOpts)})
	}
	return slog.New(slogmulti.Fanout(handlers...))
}

// OpenFile opens path for appending log records, creating parent
// directories.
func OpenFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND|os.O_SYNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

func newHandler(w io.Writer, format string, opts *slog.HandlerOptions) slog.Handler {
	if format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// guardedHandler serialises writes to a shared file so records from the
// executive and the runners never interleave.
type guardedHandler struct {
	handler slog.Handler
	mu      sync.Mutex
}

func (h *guardedHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

func (h *guardedHandler) Handle(ctx context.Context, record slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.handler.Handle(ctx, record)
}

func (h *guardedHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &guardedHandler{handler: h.handler.WithAttrs(attrs)}
}

func (h *guardedHandler) WithGroup(name string) slog.Handler {
	return &guardedHandler{handler: h.handler.WithGroup(name)}
}
