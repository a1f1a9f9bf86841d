package observability

import (
	"context"
	"fmt"
	"os"

	"lakedeploy/pkg/models"
)

// Options selects the observability outputs for one CLI invocation
type Options struct {
	Logging     models.Logging
	Verbose     bool
	MetricsFile string
	TraceFile   string
	Version     string
	Environment string
}

// System bundles the logger, metrics and tracing of a run
type System struct {
	Logger  *Logger
	Metrics *Metrics

	options   Options
	closers   []func() error
	shutdowns []func(context.Context) error
}

// Setup builds the observability system and installs its logger as the default
func Setup(ctx context.Context, opts Options) (*System, error) {
	level := LogLevelFromString(opts.Logging.Level)
	if opts.Verbose {
		level = DebugLevel
	}

	format := opts.Logging.Format
	if format == "" {
		format = "console"
	}

	logger, closeLog, err := NewFileLogger(LoggerConfig{
		Level:   level,
		Format:  format,
		Service: "lakedeploy",
		Version: opts.Version,
	}, opts.Logging.File)
	if err != nil {
		return nil, err
	}

	sys := &System{
		Logger:  logger,
		options: opts,
		closers: []func() error{closeLog},
	}

	if opts.MetricsFile != "" {
		sys.Metrics = NewMetrics()
	}

	if opts.TraceFile != "" {
		file, err := os.OpenFile(opts.TraceFile, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
		if err != nil {
			sys.Close(ctx)
			return nil, fmt.Errorf("failed to open trace file: %w", err)
		}
		sys.closers = append(sys.closers, file.Close)

		shutdown, err := InitTracing(ctx, TracingConfig{
			ServiceName:    "lakedeploy",
			ServiceVersion: opts.Version,
			Environment:    opts.Environment,
			Output:         file,
		})
		if err != nil {
			sys.Close(ctx)
			return nil, err
		}
		sys.shutdowns = append(sys.shutdowns, shutdown)
	}

	SetDefaultLogger(logger)
	return sys, nil
}

// Close flushes spans, writes the metrics textfile and releases files
func (s *System) Close(ctx context.Context) error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	for _, shutdown := range s.shutdowns {
		keep(shutdown(ctx))
	}
	if s.Metrics != nil {
		keep(s.Metrics.WriteTextfile(s.options.MetricsFile))
	}

	_ = s.Logger.Sync()
	for i := len(s.closers) - 1; i >= 0; i-- {
		keep(s.closers[i]())
	}
	s.shutdowns = nil
	s.closers = nil

	return firstErr
}
