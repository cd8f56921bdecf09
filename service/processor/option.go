package processor

import (
	"github.com/viant/nanokernel/runtime/vm"
	"github.com/viant/nanokernel/service/lifecycle"
	"github.com/viant/nanokernel/service/scheduler"
	"github.com/viant/nanokernel/service/syscall"
	"github.com/viant/nanokernel/service/table"
	"github.com/viant/nanokernel/stats"
)

// Option configures the processor.
type Option func(*Service)

// WithConfig sets the configuration for the service
func WithConfig(config Config) Option {
	return func(s *Service) {
		s.config = config
	}
}

// WithTable sets the process table
func WithTable(processes *table.Table) Option {
	return func(s *Service) {
		s.table = processes
	}
}

// WithScheduler sets the run queue owner
func WithScheduler(sched *scheduler.Service) Option {
	return func(s *Service) {
		s.scheduler = sched
	}
}

// WithLifecycle sets the lifecycle coordinator used for faults and halts
func WithLifecycle(coordinator *lifecycle.Service) Option {
	return func(s *Service) {
		s.lifecycle = coordinator
	}
}

// WithSyscalls sets the syscall layer
func WithSyscalls(syscalls *syscall.Service) Option {
	return func(s *Service) {
		s.syscalls = syscalls
	}
}

// WithMMU sets the memory management unit the CPU executes through
func WithMMU(mmu *vm.MMU) Option {
	return func(s *Service) {
		s.mmu = mmu
	}
}

// WithFramePool sets the frame pool sampled for the peak frame usage
func WithFramePool(pool *vm.FramePool) Option {
	return func(s *Service) {
		s.pool = pool
	}
}

// WithStats sets the statistics tracker updated while running
func WithStats(tracker *stats.Stats) Option {
	return func(s *Service) {
		s.stats = tracker
	}
}
