package nanokernel

import (
	"io"

	"github.com/rs/zerolog/log"
	"github.com/viant/afs"
	"github.com/viant/nanokernel/runtime/process"
	"github.com/viant/nanokernel/service/dao"
	"github.com/viant/nanokernel/service/lifecycle"
	"github.com/viant/nanokernel/service/syscall"
	"github.com/viant/nanokernel/stats"
	"github.com/viant/nanokernel/tracing"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Option customises the service.
type Option func(s *Service)

// WithConfig sets the kernel configuration
func WithConfig(config *Config) Option {
	return func(s *Service) {
		s.config = config
	}
}

// WithFileSystem sets the afs service used for files and programs
func WithFileSystem(fs afs.Service) Option {
	return func(s *Service) {
		s.fs = fs
	}
}

// WithConsole sets the streams behind descriptors 0 and 1
func WithConsole(in io.Reader, out io.Writer) Option {
	return func(s *Service) {
		s.stdin, s.stdout = in, out
	}
}

// WithLogOutput routes the global logger to out, formatted per Config.Log.
// Without it New only applies the log level.
func WithLogOutput(out io.Writer) Option {
	return func(s *Service) {
		s.logOutput = out
	}
}

// WithProcessDAO sets the PCB store
func WithProcessDAO(processDAO func() dao.Service[int, process.Process]) Option {
	return func(s *Service) {
		s.newProcessDAO = processDAO
	}
}

// WithEventListener receives every lifecycle event; it enables events.
func WithEventListener(listener func(event lifecycle.Event)) Option {
	return func(s *Service) {
		s.eventListener = listener
	}
}

// WithSyscallListener observes every dispatched syscall
func WithSyscallListener(listener syscall.Listener) Option {
	return func(s *Service) {
		s.syscallListener = listener
	}
}

// WithStatsListener is notified whenever kernel counters change
func WithStatsListener(listener func(stats.Stats)) Option {
	return func(s *Service) {
		s.statsListener = listener
	}
}

// WithTracing writes kernel spans to outputFile, or stdout when empty. The
// first successful initialisation wins.
func WithTracing(version, outputFile string) Option {
	return func(s *Service) {
		if err := tracing.Init(version, outputFile); err != nil {
			log.Warn().Err(err).Msg("failed to initialise tracing")
		}
	}
}

// WithTracingExporter configures tracing with a custom span exporter.
func WithTracingExporter(version string, exporter sdktrace.SpanExporter) Option {
	return func(s *Service) {
		if err := tracing.InitWithExporter(version, exporter); err != nil {
			log.Warn().Err(err).Msg("failed to initialise tracing")
		}
	}
}
