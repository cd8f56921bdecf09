package syscall

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/viant/nanokernel/model/isa"
	"github.com/viant/nanokernel/runtime/process"
	"github.com/viant/nanokernel/service/fileio"
	"github.com/viant/nanokernel/service/lifecycle"
	"github.com/viant/nanokernel/service/scheduler"
	"github.com/viant/nanokernel/stats"
)

// Outcome tells the kernel loop what happened to the calling process.
type Outcome int

const (
	// OutcomeResume continues the caller, possibly in a new image after exec.
	OutcomeResume Outcome = iota
	// OutcomeBlocked means the caller waits in join.
	OutcomeBlocked
	// OutcomeYield means the caller went back to the run queue.
	OutcomeYield
	// OutcomeExited means the caller is gone (exit or fault).
	OutcomeExited
	// OutcomeHalted means the system is shutting down.
	OutcomeHalted
)

var outcomeNames = [...]string{"resume", "blocked", "yield", "exited", "halted"}

func (o Outcome) String() string {
	if int(o) < len(outcomeNames) {
		return outcomeNames[o]
	}
	return "unknown"
}

// Config bounds what a single call may marshal.
type Config struct {
	MaxIOChunk      int `json:"maxIOChunk" yaml:"maxIOChunk"`
	MaxStringLength int `json:"maxStringLength" yaml:"maxStringLength"`
	MaxArgs         int `json:"maxArgs" yaml:"maxArgs"`
}

// DefaultConfig returns the default limits.
func DefaultConfig() Config {
	return Config{MaxIOChunk: 64 * 1024, MaxStringLength: 256, MaxArgs: 16}
}

// Listener observes every dispatched call.
type Listener func(pid int, number int32, args [4]int32, result int32, outcome Outcome)

type handler func(ctx context.Context, p *process.Process, args [4]int32) (Outcome, error)

// Service dispatches syscalls.
type Service struct {
	config    Config
	lifecycle *lifecycle.Service
	scheduler *scheduler.Service
	files     *fileio.Service
	handlers  map[int32]handler
	listener  Listener
}

// Option customises the service.
type Option func(*Service)

// WithListener sets a callback invoked after every call.
func WithListener(listener Listener) Option {
	return func(s *Service) {
		s.listener = listener
	}
}

// New creates a syscall dispatcher.
func New(config Config, coordinator *lifecycle.Service, sched *scheduler.Service, files *fileio.Service, options ...Option) *Service {
	defaults := DefaultConfig()
	if config.MaxIOChunk <= 0 {
		config.MaxIOChunk = defaults.MaxIOChunk
	}
	if config.MaxStringLength <= 0 {
		config.MaxStringLength = defaults.MaxStringLength
	}
	if config.MaxArgs <= 0 {
		config.MaxArgs = defaults.MaxArgs
	}
	ret := &Service{config: config, lifecycle: coordinator, scheduler: sched, files: files}
	ret.handlers = map[int32]handler{
		isa.SysHalt:   ret.halt,
		isa.SysExit:   ret.exit,
		isa.SysExec:   ret.exec,
		isa.SysJoin:   ret.join,
		isa.SysCreat:  ret.creat,
		isa.SysOpen:   ret.open,
		isa.SysRead:   ret.read,
		isa.SysWrite:  ret.write,
		isa.SysClose:  ret.close,
		isa.SysUnlink: ret.unlink,
		isa.SysYield:  ret.yield,
		isa.SysFork:   ret.fork,
		isa.SysSpawn:  ret.spawn,
		isa.SysMalloc: ret.malloc,
		isa.SysFree:   ret.free,
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

// Dispatch executes the call saved in p's context. Only kernel invariant
// violations are returned as errors; user errors end up in v0.
func (s *Service) Dispatch(ctx context.Context, p *process.Process) (Outcome, error) {
	regs := &p.Context.Regs
	number := regs[isa.V0]
	args := [4]int32{regs[isa.A0], regs[isa.A1], regs[isa.A2], regs[isa.A3]}
	stats.UpdateCtx(ctx, stats.Delta{Syscalls: 1})

	fn, ok := s.handlers[number]
	if !ok {
		err := s.lifecycle.Fault(ctx, p, errors.Wrapf(ErrUnknownSyscall, "%d", number))
		return OutcomeExited, err
	}
	outcome, err := fn(ctx, p, args)
	log.Trace().Int("pid", p.PID).Int32("syscall", number).Int32("v0", regs[isa.V0]).Str("outcome", outcome.String()).Msg("syscall")
	if s.listener != nil {
		s.listener(p.PID, number, args, regs[isa.V0], outcome)
	}
	return outcome, err
}

// Code maps err to a negative result.
func Code(err error) int32 {
	if errors.Is(err, ErrArgs) {
		return isa.EINVAL
	}
	return lifecycle.Code(err)
}

// result stores value or the code of err in v0.
func result(p *process.Process, value int32, err error) {
	if err != nil {
		p.SetReturn(Code(err))
		return
	}
	p.SetReturn(value)
}

func (s *Service) readString(p *process.Process, addr int32) (string, error) {
	return p.Space.ReadString(uint32(addr), s.config.MaxStringLength)
}

// readArgs reads a NULL terminated argv array. A NULL array means [path].
func (s *Service) readArgs(p *process.Process, path string, addr int32) ([]string, error) {
	if addr == 0 {
		return []string{path}, nil
	}
	var ret []string
	for i := 0; ; i++ {
		if i > s.config.MaxArgs {
			return nil, errors.Wrapf(ErrArgs, "more than %d arguments", s.config.MaxArgs)
		}
		ptr, err := p.Space.ReadWord(uint32(addr) + uint32(4*i))
		if err != nil {
			return nil, err
		}
		if ptr == 0 {
			return ret, nil
		}
		arg, err := s.readString(p, ptr)
		if err != nil {
			return nil, err
		}
		ret = append(ret, arg)
	}
}

func (s *Service) clamp(n int32) int {
	if int(n) > s.config.MaxIOChunk {
		return s.config.MaxIOChunk
	}
	return int(n)
}

func (s *Service) halt(ctx context.Context, p *process.Process, _ [4]int32) (Outcome, error) {
	if err := s.lifecycle.Halt(ctx, p); err != nil {
		if errors.Is(err, lifecycle.ErrPermission) {
			result(p, 0, err)
			return OutcomeResume, nil
		}
		return OutcomeResume, err
	}
	return OutcomeHalted, nil
}

func (s *Service) exit(ctx context.Context, p *process.Process, args [4]int32) (Outcome, error) {
	return OutcomeExited, s.lifecycle.Exit(ctx, p, args[0])
}

func (s *Service) image(p *process.Process, args [4]int32) (string, []string, error) {
	path, err := s.readString(p, args[0])
	if err != nil {
		return "", nil, err
	}
	argv, err := s.readArgs(p, path, args[1])
	if err != nil {
		return "", nil, err
	}
	return path, argv, nil
}

func (s *Service) exec(ctx context.Context, p *process.Process, args [4]int32) (Outcome, error) {
	path, argv, err := s.image(p, args)
	if err == nil {
		err = s.lifecycle.Exec(ctx, p, path, argv)
	}
	if err != nil {
		result(p, 0, err)
	}
	return OutcomeResume, nil
}

func (s *Service) spawn(ctx context.Context, p *process.Process, args [4]int32) (Outcome, error) {
	path, argv, err := s.image(p, args)
	if err != nil {
		result(p, 0, err)
		return OutcomeResume, nil
	}
	child, err := s.lifecycle.Spawn(ctx, p, path, argv)
	if err != nil {
		result(p, 0, err)
		return OutcomeResume, nil
	}
	p.SetReturn(int32(child.PID))
	return OutcomeResume, nil
}

func (s *Service) fork(ctx context.Context, p *process.Process, _ [4]int32) (Outcome, error) {
	child, err := s.lifecycle.Fork(ctx, p)
	if err != nil {
		result(p, 0, err)
		return OutcomeResume, nil
	}
	p.SetReturn(int32(child.PID))
	return OutcomeResume, nil
}

func (s *Service) join(ctx context.Context, p *process.Process, args [4]int32) (Outcome, error) {
	blocked, err := s.lifecycle.Join(ctx, p, int(args[0]), uint32(args[1]))
	if err != nil {
		result(p, 0, err)
		return OutcomeResume, nil
	}
	if blocked {
		return OutcomeBlocked, nil
	}
	return OutcomeResume, nil
}

func (s *Service) yield(ctx context.Context, p *process.Process, _ [4]int32) (Outcome, error) {
	p.SetReturn(0)
	if err := s.scheduler.Yield(ctx, p); err != nil {
		return OutcomeResume, err
	}
	return OutcomeYield, nil
}

func (s *Service) creat(ctx context.Context, p *process.Process, args [4]int32) (Outcome, error) {
	name, err := s.readString(p, args[0])
	fd := 0
	if err == nil {
		fd, err = p.Files.Creat(ctx, name)
	}
	result(p, int32(fd), err)
	return OutcomeResume, nil
}

func (s *Service) open(ctx context.Context, p *process.Process, args [4]int32) (Outcome, error) {
	name, err := s.readString(p, args[0])
	fd := 0
	if err == nil {
		fd, err = p.Files.Open(ctx, name)
	}
	result(p, int32(fd), err)
	return OutcomeResume, nil
}

func (s *Service) read(_ context.Context, p *process.Process, args [4]int32) (Outcome, error) {
	if args[2] < 0 {
		p.SetReturn(isa.EINVAL)
		return OutcomeResume, nil
	}
	size := s.clamp(args[2])
	// a bad buffer must fail before the descriptor offset moves
	if err := p.Space.Writable(uint32(args[1]), size); err != nil {
		result(p, 0, err)
		return OutcomeResume, nil
	}
	data, err := p.Files.Read(int(args[0]), size)
	if err == nil && len(data) > 0 {
		err = p.Space.Write(uint32(args[1]), data)
	}
	result(p, int32(len(data)), err)
	return OutcomeResume, nil
}

func (s *Service) write(_ context.Context, p *process.Process, args [4]int32) (Outcome, error) {
	if args[2] < 0 {
		p.SetReturn(isa.EINVAL)
		return OutcomeResume, nil
	}
	data, err := p.Space.Read(uint32(args[1]), s.clamp(args[2]))
	n := 0
	if err == nil {
		n, err = p.Files.Write(int(args[0]), data)
	}
	result(p, int32(n), err)
	return OutcomeResume, nil
}

func (s *Service) close(ctx context.Context, p *process.Process, args [4]int32) (Outcome, error) {
	result(p, 0, p.Files.Close(ctx, int(args[0])))
	return OutcomeResume, nil
}

func (s *Service) unlink(ctx context.Context, p *process.Process, args [4]int32) (Outcome, error) {
	name, err := s.readString(p, args[0])
	if err == nil {
		err = s.files.Unlink(ctx, name)
	}
	result(p, 0, err)
	return OutcomeResume, nil
}

// malloc returns NULL on any failure.
func (s *Service) malloc(_ context.Context, p *process.Process, args [4]int32) (Outcome, error) {
	if args[0] <= 0 {
		p.SetReturn(0)
		return OutcomeResume, nil
	}
	addr, err := p.Space.Allocate(uint32(args[0]))
	if err != nil {
		log.Debug().Err(err).Int("pid", p.PID).Int32("size", args[0]).Msg("malloc failed")
		p.SetReturn(0)
		return OutcomeResume, nil
	}
	p.SetReturn(int32(addr))
	return OutcomeResume, nil
}

func (s *Service) free(_ context.Context, p *process.Process, args [4]int32) (Outcome, error) {
	if args[0] == 0 {
		p.SetReturn(0)
		return OutcomeResume, nil
	}
	result(p, 0, p.Space.Release(uint32(args[0])))
	return OutcomeResume, nil
}
