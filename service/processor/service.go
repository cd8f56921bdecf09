package processor

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/viant/nanokernel/runtime/machine"
	"github.com/viant/nanokernel/runtime/process"
	"github.com/viant/nanokernel/runtime/vm"
	"github.com/viant/nanokernel/service/lifecycle"
	"github.com/viant/nanokernel/service/scheduler"
	"github.com/viant/nanokernel/service/syscall"
	"github.com/viant/nanokernel/service/table"
	"github.com/viant/nanokernel/stats"
	"github.com/viant/nanokernel/tracing"
)

var (
	// ErrDeadlock is returned when live processes remain but none can run.
	ErrDeadlock = errors.New("processor: every live process is blocked")
	// ErrInstructionLimit is returned when the configured instruction budget is spent.
	ErrInstructionLimit = errors.New("processor: instruction limit reached")
	// ErrShutdown is returned by Run after Shutdown.
	ErrShutdown = errors.New("processor: shut down")
)

// Config represents processor configuration
type Config struct {
	// MaxInstructions stops the loop once that many instructions have
	// executed. Zero means no limit.
	MaxInstructions int64
}

// DefaultConfig returns the default processor configuration
func DefaultConfig() Config {
	return Config{}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.MaxInstructions < 0 {
		return errors.Errorf("invalid max instructions: %d", c.MaxInstructions)
	}
	return nil
}

// Result summarises a finished run.
type Result struct {
	Halted       bool
	HaltPID      int
	Instructions int64
}

// Service is the kernel loop
type Service struct {
	config    Config
	mux       sync.Mutex
	cpu       *machine.CPU
	mmu       *vm.MMU
	pool      *vm.FramePool
	table     *table.Table
	scheduler *scheduler.Service
	lifecycle *lifecycle.Service
	syscalls  *syscall.Service
	stats     *stats.Stats

	instructions int64
	shutdownCh   chan struct{}
	shutdownOnce sync.Once
}

// New creates a processor
func New(options ...Option) (*Service, error) {
	s := &Service{
		config:     DefaultConfig(),
		shutdownCh: make(chan struct{}),
	}
	for _, opt := range options {
		opt(s)
	}
	if err := s.config.Validate(); err != nil {
		return nil, err
	}
	if s.mmu == nil {
		return nil, errors.New("mmu is required")
	}
	if s.table == nil {
		return nil, errors.New("process table is required")
	}
	if s.scheduler == nil {
		return nil, errors.New("scheduler is required")
	}
	if s.lifecycle == nil {
		return nil, errors.New("lifecycle service is required")
	}
	if s.syscalls == nil {
		return nil, errors.New("syscall service is required")
	}
	s.cpu = machine.New(s.mmu)
	return s, nil
}

// Run drives the loop until the system halts, no live process is left,
// ctx is done or the processor is shut down. Every remaining process is
// released before Run returns.
func (s *Service) Run(ctx context.Context) (ret *Result, err error) {
	if s.stats != nil {
		ctx = stats.WithTracker(ctx, s.stats)
	}
	ctx, span := tracing.StartSpan(ctx, "processor.Run")
	defer func() {
		if releaseErr := s.release(ctx); releaseErr != nil && err == nil {
			err = releaseErr
		}
		ret = s.result()
		span.WithInt("instructions", int(ret.Instructions))
		tracing.EndSpan(span, err)
	}()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.shutdownCh:
			return nil, ErrShutdown
		default:
		}
		done, err := s.Step(ctx)
		if err != nil {
			log.Error().Err(err).Int64("instructions", s.Instructions()).Msg("kernel loop stopped")
			return nil, err
		}
		if done {
			return nil, nil
		}
	}
}

// Step dispatches one process for at most one quantum. It reports done when
// the system halted or every process has terminated.
func (s *Service) Step(ctx context.Context) (done bool, err error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	defer s.sample()
	if halted, _ := s.lifecycle.Halted(); halted {
		return true, nil
	}
	p, err := s.scheduler.Next(ctx)
	if err != nil {
		return false, err
	}
	if p == nil {
		live, err := s.table.Live(ctx)
		if err != nil {
			return false, err
		}
		if live == 0 {
			return true, nil
		}
		return false, errors.Wrapf(ErrDeadlock, "%d live", live)
	}
	return s.execute(ctx, p)
}

// execute runs p until its quantum expires or it stops being the running
// process. A syscall that resumes the caller keeps the rest of the quantum.
func (s *Service) execute(ctx context.Context, p *process.Process) (bool, error) {
	budget := s.scheduler.Quantum()
	for {
		if limit := s.config.MaxInstructions; limit > 0 {
			remaining := limit - s.instructions
			if remaining <= 0 {
				return false, errors.Wrapf(ErrInstructionLimit, "%d", limit)
			}
			if int64(budget) > remaining {
				budget = int(remaining)
			}
		}
		s.cpu.Restore(p.Context)
		trap := s.cpu.Run(budget)
		p.Context = s.cpu.Save()
		budget -= trap.Executed
		s.instructions += int64(trap.Executed)
		stats.UpdateCtx(ctx, stats.Delta{Instructions: int64(trap.Executed)})

		switch trap.Kind {
		case machine.TrapTimer:
			return false, s.scheduler.Preempt(ctx, p)
		case machine.TrapFault:
			return false, s.lifecycle.Fault(ctx, p, trap.Err)
		}
		outcome, err := s.syscalls.Dispatch(ctx, p)
		if err != nil {
			return false, errors.WithMessagef(err, "syscall from pid %d", p.PID)
		}
		switch outcome {
		case syscall.OutcomeHalted:
			return true, nil
		case syscall.OutcomeResume:
			if budget > 0 {
				continue
			}
			return false, s.scheduler.Preempt(ctx, p)
		default:
			return false, nil
		}
	}
}

// Exclusive runs fn under the kernel lock, between two steps.
func (s *Service) Exclusive(fn func() error) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	return fn()
}

// Instructions returns the number of instructions executed so far.
func (s *Service) Instructions() int64 {
	s.mux.Lock()
	defer s.mux.Unlock()
	return s.instructions
}

// Shutdown stops a running loop before its next step.
func (s *Service) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		close(s.shutdownCh)
	})
	return nil
}

func (s *Service) release(ctx context.Context) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	return s.lifecycle.Shutdown(ctx)
}

func (s *Service) result() *Result {
	s.mux.Lock()
	defer s.mux.Unlock()
	halted, pid := s.lifecycle.Halted()
	return &Result{Halted: halted, HaltPID: pid, Instructions: s.instructions}
}

func (s *Service) sample() {
	if s.stats == nil {
		return
	}
	tlb := s.mmu.Stats()
	peak := 0
	if s.pool != nil {
		peak = s.pool.Peak()
	}
	s.stats.Sample(tlb.Hits, tlb.Misses, tlb.PageFaults, peak)
}
