package lifecycle

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/viant/nanokernel/model/isa"
	"github.com/viant/nanokernel/runtime/machine"
	"github.com/viant/nanokernel/runtime/process"
	"github.com/viant/nanokernel/runtime/vm"
	"github.com/viant/nanokernel/service/event"
	"github.com/viant/nanokernel/service/fileio"
	"github.com/viant/nanokernel/service/scheduler"
	"github.com/viant/nanokernel/service/table"
	"github.com/viant/nanokernel/stats"
	"github.com/viant/nanokernel/tracing"
)

// Config represents lifecycle policy
type Config struct {
	// RootOnlyHalt restricts halt to the root process.
	RootOnlyHalt bool `json:"rootOnlyHalt" yaml:"rootOnlyHalt"`
	// ReapAdopted reaps zombies that were reparented to the root without
	// waiting for the root to join them.
	ReapAdopted bool `json:"reapAdopted" yaml:"reapAdopted"`
}

// DefaultConfig returns the default lifecycle policy
func DefaultConfig() Config {
	return Config{ReapAdopted: true}
}

// Service implements fork, exec, spawn, join, exit, halt and fault over the
// PCB table, the address space manager and the scheduler. It is not safe
// for concurrent use; the kernel loop serialises every call.
type Service struct {
	config    Config
	table     *table.Table
	scheduler *scheduler.Service
	pool      *vm.FramePool
	layout    vm.Layout
	files     *fileio.Service
	events    *event.Service
	bootID    string
	halted    bool
	haltPID   int
	exits     map[int]int32
}

// Option customises the service.
type Option func(*Service)

// WithEvents publishes lifecycle events on the bus.
func WithEvents(events *event.Service) Option {
	return func(s *Service) {
		s.events = events
	}
}

// WithBootID tags events with the kernel instance id.
func WithBootID(bootID string) Option {
	return func(s *Service) {
		s.bootID = bootID
	}
}

// New creates a lifecycle coordinator.
func New(config Config, processes *table.Table, sched *scheduler.Service, pool *vm.FramePool, layout vm.Layout, files *fileio.Service, options ...Option) *Service {
	ret := &Service{
		config:    config,
		table:     processes,
		scheduler: sched,
		pool:      pool,
		layout:    layout,
		files:     files,
		exits:     map[int]int32{},
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

// Halted reports whether halt was called, and by which pid.
func (s *Service) Halted() (bool, int) {
	return s.halted, s.haltPID
}

// Exits returns the exit status of every process that exited so far.
func (s *Service) Exits() map[int]int32 {
	ret := make(map[int]int32, len(s.exits))
	for pid, status := range s.exits {
		ret[pid] = status
	}
	return ret
}

func initialContext(space *vm.AddressSpace) machine.Context {
	ret := machine.Context{PC: space.Entry()}
	ret.Regs[isa.A0] = int32(space.Argc())
	ret.Regs[isa.A1] = int32(space.Argv())
	ret.Regs[isa.SP] = int32(space.StackPointer())
	return ret
}

func (s *Service) load(ctx context.Context, path string, args []string) (*vm.AddressSpace, error) {
	data, err := s.files.Load(ctx, path)
	if err != nil {
		return nil, err
	}
	return vm.CreateFromImage(s.pool, s.layout, data, args)
}

func (s *Service) spawn(ctx context.Context, parentPID int, path string, args []string) (*process.Process, error) {
	space, err := s.load(ctx, path, args)
	if err != nil {
		return nil, err
	}
	p, err := s.table.Create(ctx, parentPID)
	if err != nil {
		space.Destroy()
		return nil, err
	}
	p.Name, p.Args, p.Space = path, args, space
	p.Context = initialContext(space)
	p.Files = s.files.NewTable()
	if err = s.scheduler.Admit(p); err != nil {
		_ = s.table.Discard(ctx, p.PID)
		return nil, err
	}
	return p, nil
}

// Boot creates the root process from the image at path.
func (s *Service) Boot(ctx context.Context, path string, args []string) (p *process.Process, err error) {
	ctx, span := tracing.StartSpan(ctx, "lifecycle.Boot")
	defer func() { tracing.EndSpan(span, err) }()
	span.WithAttributes(map[string]string{"path": path, "boot.id": s.bootID})
	if p, err = s.spawn(ctx, 0, path, args); err != nil {
		return nil, errors.WithMessagef(err, "failed to boot %v", path)
	}
	if p.PID != table.RootPID {
		return nil, errors.Wrapf(ErrInvalidState, "root booted as pid %d", p.PID)
	}
	log.Info().Int("pid", p.PID).Str("path", path).Strs("args", args).Msg("booted")
	s.publish(ctx, Event{Kind: KindBooted, PID: p.PID, Path: path, Args: args})
	return p, nil
}

// Fork duplicates the calling process. The child resumes from the same
// saved context with v0 = 0; the caller sets the parent's result. On
// failure no child exists and the parent is untouched.
func (s *Service) Fork(ctx context.Context, parent *process.Process) (child *process.Process, err error) {
	ctx, span := tracing.StartSpan(ctx, "lifecycle.Fork")
	defer func() { tracing.EndSpan(span, err) }()
	span.WithInt("pid", parent.PID)

	space, err := parent.Space.Duplicate()
	if err != nil {
		return nil, err
	}
	if child, err = s.table.Create(ctx, parent.PID); err != nil {
		space.Destroy()
		return nil, err
	}
	child.Name = parent.Name
	child.Args = append([]string{}, parent.Args...)
	child.Space = space
	child.Context = parent.Context
	child.SetReturn(0)
	child.Files = parent.Files.Duplicate()
	if err = s.scheduler.Admit(child); err != nil {
		_ = child.Files.CloseAll(ctx)
		_ = s.table.Discard(ctx, child.PID)
		return nil, err
	}
	stats.UpdateCtx(ctx, stats.Delta{Forks: 1})
	log.Debug().Int("pid", parent.PID).Int("child", child.PID).Int("pages", space.ResidentPages()).Msg("forked")
	s.publish(ctx, Event{Kind: KindForked, PID: parent.PID, ChildPID: child.PID})
	return child, nil
}

// Exec replaces the address space of the running process with a fresh one
// built from the image at path. On success the old space is destroyed and
// the process restarts at the new entry point; on failure nothing changes.
func (s *Service) Exec(ctx context.Context, p *process.Process, path string, args []string) (err error) {
	ctx, span := tracing.StartSpan(ctx, "lifecycle.Exec")
	defer func() { tracing.EndSpan(span, err) }()
	span.WithInt("pid", p.PID).WithAttributes(map[string]string{"path": path})

	space, err := s.load(ctx, path, args)
	if err != nil {
		log.Debug().Err(err).Int("pid", p.PID).Str("path", path).Msg("exec failed")
		return err
	}
	previous := p.Space
	p.Space = space
	p.Context = initialContext(space)
	p.Name, p.Args = path, args
	if err = s.scheduler.Reactivate(p); err != nil {
		p.Space = previous
		space.Destroy()
		return err
	}
	previous.Destroy()
	stats.UpdateCtx(ctx, stats.Delta{Execs: 1})
	log.Debug().Int("pid", p.PID).Str("path", path).Strs("args", args).Msg("exec")
	s.publish(ctx, Event{Kind: KindExec, PID: p.PID, Path: path, Args: args})
	return nil
}

// Spawn starts the image at path as a new child of the calling process.
func (s *Service) Spawn(ctx context.Context, parent *process.Process, path string, args []string) (child *process.Process, err error) {
	ctx, span := tracing.StartSpan(ctx, "lifecycle.Spawn")
	defer func() { tracing.EndSpan(span, err) }()
	span.WithInt("pid", parent.PID).WithAttributes(map[string]string{"path": path})

	if child, err = s.spawn(ctx, parent.PID, path, args); err != nil {
		return nil, err
	}
	stats.UpdateCtx(ctx, stats.Delta{Spawns: 1})
	log.Debug().Int("pid", parent.PID).Int("child", child.PID).Str("path", path).Msg("spawned")
	s.publish(ctx, Event{Kind: KindSpawned, PID: parent.PID, ChildPID: child.PID, Path: path, Args: args})
	return child, nil
}

// Join collects the exit status of child pid. When the child is already a
// zombie it is reaped at once; otherwise the caller blocks and the join is
// completed when the child exits. In both cases the caller's v0 receives
// the child pid and, when statusAddr is not 0, the status is stored there.
func (s *Service) Join(ctx context.Context, p *process.Process, pid int, statusAddr uint32) (blocked bool, err error) {
	ctx, span := tracing.StartSpan(ctx, "lifecycle.Join")
	defer func() { tracing.EndSpan(span, err) }()
	span.WithInt("pid", p.PID).WithInt("child", pid)

	if !p.Children[pid] {
		if p.Reaped[pid] {
			return false, errors.Wrapf(ErrNoSuchChild, "pid %d already joined", pid)
		}
		return false, errors.Wrapf(ErrNotAChild, "pid %d is not a child of %d", pid, p.PID)
	}
	if statusAddr != 0 {
		// check write access before anything can block
		value, err := p.Space.ReadWord(statusAddr)
		if err == nil {
			err = p.Space.WriteWord(statusAddr, value)
		}
		if err != nil {
			return false, errors.Wrapf(ErrInvalidPointer, "status pointer %#x: %v", statusAddr, err)
		}
	}
	child, err := s.table.Lookup(ctx, pid)
	if err != nil {
		return false, err
	}
	p.Wait = &process.Wait{PID: pid, StatusAddr: statusAddr}
	if child.State == process.StateZombie {
		return false, s.completeJoin(ctx, p, child)
	}
	if err = s.scheduler.Block(p); err != nil {
		p.Wait = nil
		return false, err
	}
	log.Debug().Int("pid", p.PID).Int("child", pid).Msg("join blocked")
	return true, nil
}

func (s *Service) completeJoin(ctx context.Context, parent, child *process.Process) error {
	wait := parent.Wait
	parent.Wait = nil
	status := child.ExitStatus
	if _, err := s.reap(ctx, child.PID); err != nil {
		return err
	}
	if wait.StatusAddr != 0 {
		if err := parent.Space.WriteWord(wait.StatusAddr, status); err != nil {
			log.Error().Err(err).Int("pid", parent.PID).Msg("failed to store join status")
		}
	}
	parent.SetReturn(int32(child.PID))
	if parent.State == process.StateBlocked {
		return s.scheduler.Wake(parent)
	}
	return nil
}

func (s *Service) reap(ctx context.Context, pid int) (*process.Process, error) {
	p, err := s.table.Reap(ctx, pid)
	if err != nil {
		return nil, err
	}
	stats.UpdateCtx(ctx, stats.Delta{Reaps: 1})
	log.Debug().Int("pid", pid).Int32("status", p.ExitStatus).Msg("reaped")
	s.publish(ctx, Event{Kind: KindReaped, PID: pid, ParentPID: p.ParentPID, Status: p.ExitStatus})
	return p, nil
}

func (s *Service) unattended(p *process.Process) bool {
	return p.ParentPID == 0 || (p.Adopted && s.config.ReapAdopted)
}

// Exit terminates the running process: its descriptors are closed, its
// children go to the root, and it becomes a zombie. A parent blocked in
// join on it is completed and woken.
func (s *Service) Exit(ctx context.Context, p *process.Process, status int32) error {
	if p.Files != nil {
		if err := p.Files.CloseAll(ctx); err != nil {
			log.Error().Err(err).Int("pid", p.PID).Msg("failed to close files")
		}
	}
	adopted, err := s.table.Reparent(ctx, p.PID)
	if err != nil {
		return err
	}
	for _, child := range adopted {
		if child.State == process.StateZombie && s.unattended(child) {
			if _, err = s.reap(ctx, child.PID); err != nil {
				return err
			}
		}
	}
	waiter, err := s.table.MarkZombie(ctx, p.PID, status)
	if err != nil {
		return err
	}
	s.scheduler.Vacate(p)
	s.exits[p.PID] = status
	stats.UpdateCtx(ctx, stats.Delta{Exits: 1})
	log.Debug().Int("pid", p.PID).Int32("status", status).Msg("exited")
	s.publish(ctx, Event{Kind: KindExited, PID: p.PID, ParentPID: p.ParentPID, Status: status})
	switch {
	case waiter != nil:
		return s.completeJoin(ctx, waiter, p)
	case s.unattended(p):
		_, err = s.reap(ctx, p.PID)
		return err
	}
	return nil
}

// Fault terminates the running process as if it had called exit with
// process.StatusFault.
func (s *Service) Fault(ctx context.Context, p *process.Process, cause error) error {
	p.Fault = cause.Error()
	stats.UpdateCtx(ctx, stats.Delta{Faults: 1})
	log.Warn().Int("pid", p.PID).Str("path", p.Name).Err(cause).Uint32("pc", p.Context.PC).Msg("process faulted")
	s.publish(ctx, Event{Kind: KindFaulted, PID: p.PID, Reason: p.Fault})
	return s.Exit(ctx, p, process.StatusFault)
}

// Halt shuts the whole system down.
func (s *Service) Halt(ctx context.Context, p *process.Process) error {
	if s.config.RootOnlyHalt && p.PID != table.RootPID {
		return errors.Wrapf(ErrPermission, "halt from pid %d", p.PID)
	}
	s.halted, s.haltPID = true, p.PID
	log.Info().Int("pid", p.PID).Msg("halt")
	s.publish(ctx, Event{Kind: KindHalted, PID: p.PID})
	return nil
}

// Shutdown releases every remaining process: descriptors are flushed and
// address spaces destroyed. The PCBs stay in the table for inspection.
func (s *Service) Shutdown(ctx context.Context) error {
	list, err := s.table.List(ctx)
	if err != nil {
		return err
	}
	var ret error
	for _, p := range list {
		if p.Files != nil {
			if err := p.Files.CloseAll(ctx); err != nil && ret == nil {
				ret = err
			}
		}
		if p.Space != nil {
			p.Space.Destroy()
		}
	}
	return ret
}
