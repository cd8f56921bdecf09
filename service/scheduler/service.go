package scheduler

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/viant/nanokernel/runtime/process"
	"github.com/viant/nanokernel/runtime/vm"
	"github.com/viant/nanokernel/service/table"
	"github.com/viant/nanokernel/stats"
)

// ErrNotRunning is returned when an operation requires the running process.
var ErrNotRunning = errors.New("scheduler: process is not running")

// Config represents scheduler configuration
type Config struct {
	// Quantum is the number of instructions a process runs before the timer fires.
	Quantum int `json:"quantum" yaml:"quantum"`
}

// DefaultConfig returns the default scheduler configuration
func DefaultConfig() Config {
	return Config{Quantum: 1000}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.Quantum <= 0 {
		return errors.Errorf("scheduler: quantum must be positive, was %d", c.Quantum)
	}
	return nil
}

// Service is a round-robin scheduler: a FIFO queue of RUNNABLE pids and at
// most one RUNNING process.
type Service struct {
	config  Config
	table   *table.Table
	mmu     *vm.MMU
	queue   []int
	queued  map[int]bool
	running *process.Process
	last    int
}

// New creates a scheduler.
func New(config Config, processes *table.Table, mmu *vm.MMU) *Service {
	if config.Quantum <= 0 {
		config.Quantum = DefaultConfig().Quantum
	}
	return &Service{config: config, table: processes, mmu: mmu, queued: map[int]bool{}}
}

// Quantum returns the timer period in instructions.
func (s *Service) Quantum() int {
	return s.config.Quantum
}

func (s *Service) enqueue(p *process.Process) {
	if s.queued[p.PID] {
		return
	}
	s.queued[p.PID] = true
	s.queue = append(s.queue, p.PID)
}

// Admit makes a fully built EMBRYO runnable.
func (s *Service) Admit(p *process.Process) error {
	if p.State != process.StateEmbryo {
		return errors.Wrapf(process.ErrInvalidState, "admit pid %d in %v", p.PID, p.State)
	}
	if err := p.Transition(process.StateRunnable); err != nil {
		return err
	}
	s.enqueue(p)
	return nil
}

// Wake makes a BLOCKED process runnable again.
func (s *Service) Wake(p *process.Process) error {
	if p.State != process.StateBlocked {
		return errors.Wrapf(process.ErrInvalidState, "wake pid %d in %v", p.PID, p.State)
	}
	if err := p.Transition(process.StateRunnable); err != nil {
		return err
	}
	s.enqueue(p)
	return nil
}

func (s *Service) current(p *process.Process) error {
	if s.running == nil || s.running != p {
		return errors.Wrapf(ErrNotRunning, "pid %d", p.PID)
	}
	return nil
}

// Preempt moves the running process to the tail of the queue.
func (s *Service) Preempt(ctx context.Context, p *process.Process) error {
	if err := s.current(p); err != nil {
		return err
	}
	if err := p.Transition(process.StateRunnable); err != nil {
		return err
	}
	s.running = nil
	s.enqueue(p)
	stats.UpdateCtx(ctx, stats.Delta{Preemptions: 1})
	return nil
}

// Yield gives up the rest of the quantum voluntarily.
func (s *Service) Yield(ctx context.Context, p *process.Process) error {
	if err := s.current(p); err != nil {
		return err
	}
	if err := p.Transition(process.StateRunnable); err != nil {
		return err
	}
	s.running = nil
	s.enqueue(p)
	stats.UpdateCtx(ctx, stats.Delta{Yields: 1})
	return nil
}

// Block suspends the running process until Wake.
func (s *Service) Block(p *process.Process) error {
	if err := s.current(p); err != nil {
		return err
	}
	if err := p.Transition(process.StateBlocked); err != nil {
		return err
	}
	s.running = nil
	return nil
}

// Vacate releases the CPU after the running process has left RUNNING for
// good (exit, fault).
func (s *Service) Vacate(p *process.Process) {
	if s.running == p {
		s.running = nil
	}
	s.Remove(p.PID)
}

// Remove drops pid from the run queue.
func (s *Service) Remove(pid int) {
	if !s.queued[pid] {
		return
	}
	delete(s.queued, pid)
	for i, candidate := range s.queue {
		if candidate == pid {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return
		}
	}
}

// Next dispatches the head of the queue: the process becomes RUNNING and
// its address space is activated. It returns nil when nothing is runnable.
func (s *Service) Next(ctx context.Context) (*process.Process, error) {
	if s.running != nil {
		return s.running, nil
	}
	for len(s.queue) > 0 {
		pid := s.queue[0]
		s.queue = s.queue[1:]
		delete(s.queued, pid)
		p, err := s.table.Lookup(ctx, pid)
		if err != nil {
			log.Warn().Int("pid", pid).Msg("dropping vanished pid from run queue")
			continue
		}
		if p.State != process.StateRunnable {
			continue
		}
		if err = p.Transition(process.StateRunning); err != nil {
			return nil, err
		}
		s.running = p
		s.mmu.Activate(p.Space)
		if s.last != pid {
			stats.UpdateCtx(ctx, stats.Delta{ContextSwitches: 1})
			log.Trace().Int("from", s.last).Int("to", pid).Msg("context switch")
			s.last = pid
		}
		return p, nil
	}
	return nil, nil
}

// Reactivate reinstalls the mapping of the running process after its
// address space was replaced.
func (s *Service) Reactivate(p *process.Process) error {
	if err := s.current(p); err != nil {
		return err
	}
	s.mmu.Activate(p.Space)
	return nil
}

// Running returns the running process, if any.
func (s *Service) Running() *process.Process {
	return s.running
}

// Queue returns the queued pids in dispatch order.
func (s *Service) Queue() []int {
	return append([]int{}, s.queue...)
}

// Len returns the number of queued pids.
func (s *Service) Len() int {
	return len(s.queue)
}
