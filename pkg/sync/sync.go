// Package sync provides the workspace backup for programs embedding it.
//
// A Synchronizer runs one backup per call: export the workspace, commit what
// changed and push it. It is not thread-safe. Callers must serialize calls
// sharing a working directory.
package sync

import (
	"context"

	"github.com/windmill-git-sync/windmill-git-sync/internal/config"
	"github.com/windmill-git-sync/windmill-git-sync/internal/export"
	"github.com/windmill-git-sync/windmill-git-sync/internal/logging"
	"github.com/windmill-git-sync/windmill-git-sync/internal/request"
	"github.com/windmill-git-sync/windmill-git-sync/internal/service"
)

type (
	// Request carries the credentials and target of one backup.
	Request = request.Request
	// Result is the outcome of a backup. Its messages never contain secrets.
	Result = service.Result
	// Config is the service configuration.
	Config = config.Root
	// Exporter writes a workspace into a directory.
	Exporter = export.Exporter
	// ExporterFunc adapts a function to Exporter.
	ExporterFunc = export.ExporterFunc
)

// Synchronizer defines the backup operation.
type Synchronizer interface {
	// Run performs a backup. Failures are reported in the Result, never as
	// panics or errors.
	Run(ctx context.Context, req Request) Result
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	return config.Default()
}

// ParseConfig parses and validates a YAML or JSON configuration document.
func ParseConfig(bs []byte) (Config, error) {
	return config.Parse(bs)
}

// Option customizes a Synchronizer.
type Option func(*options)

type options struct {
	exporter Exporter
	logger   *logging.Logger
	err      error
}

// WithExporter replaces the Windmill CLI, for example to export from a
// different source.
func WithExporter(e Exporter) Option {
	return func(o *options) { o.exporter = e }
}

// WithLogConfig enables logging with the given level ("debug", "info", "warn"
// or "error") and format ("json" or "console") to stderr. An unknown level
// makes New fail.
func WithLogConfig(level, format string) Option {
	return func(o *options) {
		l, err := logging.ParseLevel(level)
		if err != nil {
			o.err = err
			return
		}
		o.logger = logging.NewLogger(logging.Config{Level: l, Format: format})
	}
}

// New returns a Synchronizer for cfg.
func New(cfg Config, opts ...Option) (Synchronizer, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.err != nil {
		return nil, o.err
	}
	s, err := service.New(cfg, o.exporter, o.logger)
	if err != nil {
		return nil, err
	}
	return s, nil
}
