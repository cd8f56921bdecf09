package nanokernel

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/viant/nanokernel/internal/clock"
	"github.com/viant/nanokernel/internal/idgen"
	"github.com/viant/nanokernel/model/image"
	"github.com/viant/nanokernel/runtime/process"
	"github.com/viant/nanokernel/runtime/vm"
	"github.com/viant/nanokernel/service/assembler"
	"github.com/viant/nanokernel/service/event"
	"github.com/viant/nanokernel/service/fileio"
	"github.com/viant/nanokernel/service/lifecycle"
	"github.com/viant/nanokernel/service/processor"
	"github.com/viant/nanokernel/service/scheduler"
	"github.com/viant/nanokernel/service/syscall"
	"github.com/viant/nanokernel/service/table"
	"github.com/viant/nanokernel/stats"
	"github.com/viant/nanokernel/tracing"
)

// ErrBooted is returned when Boot is called on a kernel that already ran.
var ErrBooted = errors.New("kernel already booted")

// Kernel is one simulated machine: physical memory, a process table and a
// single core. It boots once.
type Kernel struct {
	bootID    string
	config    *Config
	stats     *stats.Stats
	files     *fileio.Service
	table     *table.Table
	pool      *vm.FramePool
	mmu       *vm.MMU
	scheduler *scheduler.Service
	lifecycle *lifecycle.Service
	syscalls  *syscall.Service
	processor *processor.Service
	events    *event.Service

	mux    sync.Mutex
	booted bool
}

// NewKernel creates a fresh kernel sharing the service configuration and
// file system.
func (s *Service) NewKernel() (*Kernel, error) {
	config := s.config
	frames, err := config.frames()
	if err != nil {
		return nil, err
	}
	layout, err := config.layout()
	if err != nil {
		return nil, err
	}
	ret := &Kernel{bootID: idgen.New(), config: config}
	ret.stats = stats.New(ret.bootID, s.statsListener)
	ret.files = fileio.New(s.fs, config.fileConfig(), fileio.WithConsole(s.stdin, s.stdout))
	ret.table = table.New(s.newProcessDAO())
	ret.pool = vm.NewFramePool(frames)
	if ret.mmu, err = vm.NewMMU(config.Memory.TLBEntries); err != nil {
		return nil, err
	}
	ret.scheduler = scheduler.New(scheduler.Config{Quantum: config.Scheduler.Quantum}, ret.table, ret.mmu)

	lifecycleOptions := []lifecycle.Option{lifecycle.WithBootID(ret.bootID)}
	if config.Events.Enabled || s.eventListener != nil {
		vendor, eventOptions := config.eventOptions(s.fs)
		if ret.events, err = event.New(vendor, eventOptions...); err != nil {
			return nil, err
		}
		if listener := s.eventListener; listener != nil {
			err = event.SetListenerOf[lifecycle.Event](ret.events, func(e *event.Event[lifecycle.Event]) {
				listener(e.Data)
			})
			if err != nil {
				return nil, err
			}
		}
		lifecycleOptions = append(lifecycleOptions, lifecycle.WithEvents(ret.events))
	}
	ret.lifecycle = lifecycle.New(config.lifecycleConfig(), ret.table, ret.scheduler, ret.pool, layout, ret.files, lifecycleOptions...)

	var syscallOptions []syscall.Option
	if s.syscallListener != nil {
		syscallOptions = append(syscallOptions, syscall.WithListener(s.syscallListener))
	}
	ret.syscalls = syscall.New(config.syscallConfig(), ret.lifecycle, ret.scheduler, ret.files, syscallOptions...)
	ret.processor, err = processor.New(
		processor.WithConfig(config.processorConfig()),
		processor.WithTable(ret.table),
		processor.WithScheduler(ret.scheduler),
		processor.WithLifecycle(ret.lifecycle),
		processor.WithSyscalls(ret.syscalls),
		processor.WithMMU(ret.mmu),
		processor.WithFramePool(ret.pool),
		processor.WithStats(ret.stats))
	if err != nil {
		return nil, err
	}
	log.Debug().Str("bootId", ret.bootID).Int("frames", frames).Uint32("heapCeiling", layout.HeapCeiling).Msg("kernel created")
	return ret, nil
}

// BootID returns the identifier of this kernel instance.
func (k *Kernel) BootID() string {
	return k.bootID
}

// Install stores a program image under name.
func (k *Kernel) Install(ctx context.Context, name string, program *image.Image) error {
	if err := program.Validate(); err != nil {
		return errors.WithMessagef(err, "program %v", name)
	}
	return k.files.Store(ctx, name, program.Encode())
}

// InstallSource assembles source and installs the image under name.
func (k *Kernel) InstallSource(ctx context.Context, name string, source []byte) (*image.Image, error) {
	ret, err := assembler.Assemble(source)
	if err != nil {
		return nil, errors.WithMessagef(err, "program %v", name)
	}
	return ret, k.Install(ctx, name, ret)
}

// Boot starts program as the root process with argv [program, args...]
// and runs the machine until it halts, every process has exited, ctx is
// done or the kernel is shut down.
func (k *Kernel) Boot(ctx context.Context, program string, args ...string) (report *Report, err error) {
	k.mux.Lock()
	booted := k.booted
	k.booted = true
	k.mux.Unlock()
	if booted {
		return nil, ErrBooted
	}
	if k.events != nil {
		defer k.events.Drain()
	}
	started := clock.Now()
	ctx, span := tracing.StartSpan(ctx, "kernel.Boot")
	defer func() { tracing.EndSpan(span, err) }()
	span.WithAttributes(map[string]string{"bootId": k.bootID, "program": program})

	argv := append([]string{program}, args...)
	bootCtx := stats.WithTracker(ctx, k.stats)
	err = k.processor.Exclusive(func() error {
		_, err := k.lifecycle.Boot(bootCtx, program, argv)
		return err
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("bootId", k.bootID).Strs("argv", argv).Msg("booted")
	result, err := k.processor.Run(ctx)
	report = &Report{
		BootID:       k.bootID,
		Program:      program,
		Args:         argv,
		Halted:       result.Halted,
		HaltPID:      result.HaltPID,
		Exits:        k.lifecycle.Exits(),
		Instructions: result.Instructions,
		Elapsed:      clock.Now().Sub(started),
		Stats:        k.stats.Snapshot(),
	}
	log.Info().Str("bootId", k.bootID).Bool("halted", report.Halted).Int32("status", report.Status()).Msg(report.Summary())
	return report, err
}

// Processes returns a snapshot of every process still in the table.
func (k *Kernel) Processes(ctx context.Context) ([]process.Info, error) {
	var ret []process.Info
	err := k.processor.Exclusive(func() error {
		list, err := k.table.List(ctx)
		if err != nil {
			return err
		}
		for _, p := range list {
			ret = append(ret, p.Info())
		}
		return nil
	})
	return ret, err
}

// Process returns a snapshot of pid.
func (k *Kernel) Process(ctx context.Context, pid int) (*process.Info, error) {
	var ret *process.Info
	err := k.processor.Exclusive(func() error {
		p, err := k.table.Lookup(ctx, pid)
		if err != nil {
			return err
		}
		info := p.Info()
		ret = &info
		return nil
	})
	return ret, err
}

// Stats returns the kernel counters.
func (k *Kernel) Stats() stats.Stats {
	return k.stats.Snapshot()
}

// Shutdown stops a running kernel and the event bus. Boot drains the bus
// itself once the machine stops.
func (k *Kernel) Shutdown(ctx context.Context) error {
	err := k.processor.Shutdown(ctx)
	if k.events != nil {
		k.events.Close()
	}
	return err
}
