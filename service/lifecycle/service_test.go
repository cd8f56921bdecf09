package lifecycle

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/afs"
	"github.com/viant/nanokernel/model/image"
	"github.com/viant/nanokernel/model/isa"
	"github.com/viant/nanokernel/runtime/process"
	"github.com/viant/nanokernel/runtime/vm"
	"github.com/viant/nanokernel/service/dao/process/memory"
	"github.com/viant/nanokernel/service/event"
	"github.com/viant/nanokernel/service/fileio"
	"github.com/viant/nanokernel/service/messaging"
	"github.com/viant/nanokernel/service/scheduler"
	"github.com/viant/nanokernel/service/table"
	"github.com/viant/nanokernel/stats"
)

const statusAddr = image.StackTop - 16

type fixture struct {
	ctx       context.Context
	tracker   *stats.Stats
	table     *table.Table
	scheduler *scheduler.Service
	pool      *vm.FramePool
	files     *fileio.Service
	events    *event.Service
	service   *Service
}

func newFixture(t *testing.T, config Config, frames int) *fixture {
	ret := &fixture{tracker: stats.New("test", nil), pool: vm.NewFramePool(frames)}
	ret.ctx = stats.WithTracker(context.Background(), ret.tracker)
	ret.table = table.New(memory.New())
	mmu, err := vm.NewMMU(16)
	require.NoError(t, err)
	ret.scheduler = scheduler.New(scheduler.DefaultConfig(), ret.table, mmu)
	fsConfig := fileio.DefaultConfig()
	fsConfig.BaseURL = "mem://localhost/lifecycle/" + t.Name()
	ret.files = fileio.New(afs.New(), fsConfig, fileio.WithConsole(bytes.NewReader(nil), &bytes.Buffer{}))
	ret.events, err = event.New(messaging.VendorMemory)
	require.NoError(t, err)
	layout := vm.Layout{HeapCeiling: 1 << 20, StackSize: 4 * vm.PageSize}
	ret.service = New(config, ret.table, ret.scheduler, ret.pool, layout, ret.files, WithEvents(ret.events), WithBootID("test"))

	program := &image.Image{
		Code: append(isa.Instruction{Op: isa.OpNop}.Bytes(), isa.Instruction{Op: isa.OpNop}.Bytes()...),
		Data: []byte{1, 0, 0, 0, 2, 0, 0, 0},
	}
	require.NoError(t, ret.files.Store(ret.ctx, "prog", program.Encode()))
	require.NoError(t, ret.files.Store(ret.ctx, "junk", []byte("not an image")))
	return ret
}

// boot starts the root process and dispatches it.
func (f *fixture) boot(t *testing.T) *process.Process {
	root, err := f.service.Boot(f.ctx, "prog", []string{"prog"})
	require.NoError(t, err)
	running, err := f.scheduler.Next(f.ctx)
	require.NoError(t, err)
	require.Equal(t, root, running)
	return root
}

func (f *fixture) dispatch(t *testing.T, expect *process.Process) {
	running, err := f.scheduler.Next(f.ctx)
	require.NoError(t, err)
	require.Equal(t, expect, running)
}

func dataAddr() uint32 {
	return image.DataBase(2 * isa.InstructionSize)
}

func TestService_Boot(t *testing.T) {
	f := newFixture(t, DefaultConfig(), 64)
	root, err := f.service.Boot(f.ctx, "prog", []string{"prog", "x"})
	require.NoError(t, err)
	assert.Equal(t, table.RootPID, root.PID)
	assert.Equal(t, process.StateRunnable, root.State)
	assert.EqualValues(t, 2, root.Context.Regs[isa.A0])
	assert.EqualValues(t, int32(image.StackTop), root.Context.Regs[isa.A1])
	assert.Equal(t, image.CodeBase, root.Context.PC)
	argv0, err := root.Space.ReadWord(image.StackTop)
	require.NoError(t, err)
	name, err := root.Space.ReadString(uint32(argv0), 16)
	require.NoError(t, err)
	assert.Equal(t, "prog", name)

	testCases := []struct {
		description string
		path        string
		expect      int32
	}{
		{description: "missing image", path: "missing", expect: isa.ENOENT},
		{description: "malformed image", path: "junk", expect: isa.ENOEXEC},
	}
	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			f := newFixture(t, DefaultConfig(), 64)
			_, err := f.service.Boot(f.ctx, tc.path, nil)
			require.Error(t, err)
			assert.Equal(t, tc.expect, Code(err))
			list, _ := f.table.List(f.ctx)
			assert.Empty(t, list)
		})
	}
}

func TestService_Fork(t *testing.T) {
	f := newFixture(t, DefaultConfig(), 64)
	parent := f.boot(t)
	parent.Context.Regs[isa.T0] = 99
	require.NoError(t, parent.Space.WriteWord(image.StackTop-4, 2))

	child, err := f.service.Fork(f.ctx, parent)
	require.NoError(t, err)
	assert.Equal(t, 2, child.PID)
	assert.Equal(t, parent.PID, child.ParentPID)
	assert.True(t, parent.Children[child.PID])
	assert.Equal(t, process.StateRunnable, child.State)
	assert.EqualValues(t, 0, child.Context.Regs[isa.V0])
	assert.EqualValues(t, 99, child.Context.Regs[isa.T0])
	assert.Equal(t, parent.Context.PC, child.Context.PC)
	assert.Equal(t, parent.Space.ResidentPages(), child.Space.ResidentPages())

	// divergence: static and stack variables are private after fork
	require.NoError(t, child.Space.WriteWord(dataAddr(), 2))
	require.NoError(t, child.Space.WriteWord(image.StackTop-4, 3))
	static, _ := parent.Space.ReadWord(dataAddr())
	local, _ := parent.Space.ReadWord(image.StackTop - 4)
	assert.EqualValues(t, 1, static)
	assert.EqualValues(t, 2, local)
	assert.Equal(t, 1, f.tracker.Snapshot().Forks)
}

func TestService_ForkOutOfMemory(t *testing.T) {
	// code, data and argument pages take 3 of the 4 frames
	f := newFixture(t, DefaultConfig(), 4)
	parent := f.boot(t)
	inUse := f.pool.InUse()

	_, err := f.service.Fork(f.ctx, parent)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOutOfMemory))
	assert.Equal(t, isa.ENOMEM, Code(err))
	assert.Empty(t, parent.Children)
	assert.Equal(t, inUse, f.pool.InUse())
	list, _ := f.table.List(f.ctx)
	assert.Len(t, list, 1)
	assert.Equal(t, process.StateRunning, parent.State)
}

func TestService_Exec(t *testing.T) {
	f := newFixture(t, DefaultConfig(), 64)
	p := f.boot(t)
	require.NoError(t, p.Space.WriteWord(image.StackTop-4, 77))
	p.Context.PC = image.CodeBase + isa.InstructionSize
	original := p.Space

	testCases := []struct {
		description string
		path        string
		expect      int32
	}{
		{description: "missing image", path: "nope", expect: isa.ENOENT},
		{description: "malformed image", path: "junk", expect: isa.ENOEXEC},
		{description: "invalid name", path: "../prog", expect: isa.EINVAL},
	}
	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			err := f.service.Exec(f.ctx, p, tc.path, []string{tc.path})
			require.Error(t, err)
			assert.Equal(t, tc.expect, Code(err))
			assert.Same(t, original, p.Space)
			value, err := p.Space.ReadWord(image.StackTop - 4)
			require.NoError(t, err)
			assert.EqualValues(t, 77, value)
			assert.Equal(t, image.CodeBase+isa.InstructionSize, p.Context.PC)
		})
	}

	require.NoError(t, f.service.Exec(f.ctx, p, "prog", []string{"prog", "a", "b"}))
	assert.True(t, original.Destroyed())
	assert.NotSame(t, original, p.Space)
	assert.Equal(t, table.RootPID, p.PID)
	assert.Equal(t, image.CodeBase, p.Context.PC)
	assert.EqualValues(t, 3, p.Context.Regs[isa.A0])
	value, err := p.Space.ReadWord(image.StackTop - 4)
	require.NoError(t, err)
	assert.EqualValues(t, 0, value, "nothing of the old image survives")
	assert.Equal(t, 1, f.tracker.Snapshot().Execs)
}

func TestService_JoinBlocking(t *testing.T) {
	f := newFixture(t, DefaultConfig(), 64)
	parent := f.boot(t)
	child, err := f.service.Fork(f.ctx, parent)
	require.NoError(t, err)

	blocked, err := f.service.Join(f.ctx, parent, child.PID, statusAddr)
	require.NoError(t, err)
	assert.True(t, blocked)
	assert.Equal(t, process.StateBlocked, parent.State)

	f.dispatch(t, child)
	require.NoError(t, f.service.Exit(f.ctx, child, 7))

	assert.Equal(t, process.StateRunnable, parent.State)
	assert.EqualValues(t, child.PID, parent.Context.Regs[isa.V0])
	status, err := parent.Space.ReadWord(statusAddr)
	require.NoError(t, err)
	assert.EqualValues(t, 7, status)
	assert.Equal(t, process.StateDead, child.State)
	assert.True(t, child.Space.Destroyed())
	assert.True(t, parent.Reaped[child.PID])
	_, err = f.table.Lookup(f.ctx, child.PID)
	assert.True(t, errors.Is(err, table.ErrNotFound))
	assert.Equal(t, []int{parent.PID}, f.scheduler.Queue())
}

func TestService_JoinZombie(t *testing.T) {
	f := newFixture(t, DefaultConfig(), 64)
	parent := f.boot(t)
	child, err := f.service.Fork(f.ctx, parent)
	require.NoError(t, err)
	require.NoError(t, f.scheduler.Yield(f.ctx, parent))
	f.dispatch(t, child)
	require.NoError(t, f.service.Exit(f.ctx, child, 0))
	assert.Equal(t, process.StateZombie, child.State, "zombie waits for its parent")

	f.dispatch(t, parent)
	blocked, err := f.service.Join(f.ctx, parent, child.PID, 0)
	require.NoError(t, err)
	assert.False(t, blocked)
	assert.EqualValues(t, child.PID, parent.Context.Regs[isa.V0])
	assert.Equal(t, process.StateRunning, parent.State)
}

func TestService_JoinErrors(t *testing.T) {
	f := newFixture(t, DefaultConfig(), 64)
	parent := f.boot(t)
	child, err := f.service.Fork(f.ctx, parent)
	require.NoError(t, err)
	reaped, err := f.service.Fork(f.ctx, parent)
	require.NoError(t, err)
	parent.Reaped[reaped.PID] = true
	delete(parent.Children, reaped.PID)

	testCases := []struct {
		description string
		pid         int
		statusAddr  uint32
		expect      error
		code        int32
	}{
		{description: "not a child", pid: 42, expect: ErrNotAChild, code: isa.ECHILD},
		{description: "self", pid: parent.PID, expect: ErrNotAChild, code: isa.ECHILD},
		{description: "already joined", pid: reaped.PID, expect: ErrNoSuchChild, code: isa.ESRCH},
		{description: "unmapped status pointer", pid: child.PID, statusAddr: 0x10, expect: ErrInvalidPointer, code: isa.EFAULT},
		{description: "read only status pointer", pid: child.PID, statusAddr: image.CodeBase, expect: ErrInvalidPointer, code: isa.EFAULT},
	}
	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			blocked, err := f.service.Join(f.ctx, parent, tc.pid, tc.statusAddr)
			require.Error(t, err)
			assert.False(t, blocked)
			assert.True(t, errors.Is(err, tc.expect), err.Error())
			assert.Equal(t, tc.code, Code(err))
			assert.Equal(t, process.StateRunning, parent.State)
		})
	}
}

func TestService_ExitReparent(t *testing.T) {
	testCases := []struct {
		description string
		reapAdopted bool
	}{
		{description: "adopted zombies are reaped", reapAdopted: true},
		{description: "adopted zombies wait for root", reapAdopted: false},
	}
	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			f := newFixture(t, Config{ReapAdopted: tc.reapAdopted}, 64)
			root := f.boot(t)
			middle, err := f.service.Fork(f.ctx, root)
			require.NoError(t, err)
			require.NoError(t, f.scheduler.Yield(f.ctx, root))
			f.dispatch(t, middle)
			leaf, err := f.service.Fork(f.ctx, middle)
			require.NoError(t, err)
			require.NoError(t, f.service.Exit(f.ctx, middle, 1))

			assert.Equal(t, root.PID, leaf.ParentPID)
			assert.True(t, leaf.Adopted)
			assert.True(t, root.Children[leaf.PID])

			f.dispatch(t, root)
			require.NoError(t, f.scheduler.Yield(f.ctx, root))
			f.dispatch(t, leaf)
			require.NoError(t, f.service.Exit(f.ctx, leaf, 4))
			if tc.reapAdopted {
				assert.Equal(t, process.StateDead, leaf.State)
				assert.True(t, root.Reaped[leaf.PID])
				return
			}
			assert.Equal(t, process.StateZombie, leaf.State)
			f.dispatch(t, root)
			blocked, err := f.service.Join(f.ctx, root, leaf.PID, statusAddr)
			require.NoError(t, err)
			assert.False(t, blocked)
			status, _ := root.Space.ReadWord(statusAddr)
			assert.EqualValues(t, 4, status)
		})
	}
}

func TestService_RootExitOrphans(t *testing.T) {
	f := newFixture(t, DefaultConfig(), 64)
	root := f.boot(t)
	child, err := f.service.Fork(f.ctx, root)
	require.NoError(t, err)
	require.NoError(t, f.service.Exit(f.ctx, root, 0))
	assert.Equal(t, process.StateDead, root.State, "root has no parent to join it")
	assert.Equal(t, 0, child.ParentPID)

	f.dispatch(t, child)
	inUse := f.pool.InUse()
	require.NoError(t, f.service.Exit(f.ctx, child, 0))
	assert.Equal(t, process.StateDead, child.State)
	assert.Less(t, f.pool.InUse(), inUse)
	assert.Equal(t, map[int]int32{1: 0, 2: 0}, f.service.Exits())
}

func TestService_Halt(t *testing.T) {
	f := newFixture(t, Config{RootOnlyHalt: true}, 64)
	root := f.boot(t)
	child, err := f.service.Fork(f.ctx, root)
	require.NoError(t, err)

	err = f.service.Halt(f.ctx, child)
	assert.True(t, errors.Is(err, ErrPermission))
	assert.Equal(t, isa.EPERM, Code(err))
	halted, _ := f.service.Halted()
	assert.False(t, halted)

	require.NoError(t, f.service.Halt(f.ctx, root))
	halted, pid := f.service.Halted()
	assert.True(t, halted)
	assert.Equal(t, root.PID, pid)

	require.NoError(t, f.service.Shutdown(f.ctx))
	assert.Equal(t, 0, f.pool.InUse())
}

func TestService_Fault(t *testing.T) {
	f := newFixture(t, DefaultConfig(), 64)
	parent := f.boot(t)
	child, err := f.service.Fork(f.ctx, parent)
	require.NoError(t, err)
	_, err = f.service.Join(f.ctx, parent, child.PID, statusAddr)
	require.NoError(t, err)
	f.dispatch(t, child)

	require.NoError(t, f.service.Fault(f.ctx, child, &vm.Fault{Addr: 0, Access: vm.PermRead, Reason: "unmapped address"}))
	status, _ := parent.Space.ReadWord(statusAddr)
	assert.Equal(t, process.StatusFault, status)
	assert.Contains(t, child.Fault, "unmapped address")
	assert.Equal(t, process.StateRunnable, parent.State)
	assert.Equal(t, 1, f.tracker.Snapshot().Faults)
}

func TestService_Events(t *testing.T) {
	f := newFixture(t, DefaultConfig(), 64)
	root := f.boot(t)
	_, err := f.service.Fork(f.ctx, root)
	require.NoError(t, err)

	publisher, err := event.PublisherOf[Event](f.events)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	var kinds []Kind
	for i := 0; i < 2; i++ {
		msg, err := publisher.Next(ctx)
		require.NoError(t, err)
		require.NoError(t, msg.Ack())
		e := msg.T()
		assert.Equal(t, "test", e.Context.BootID)
		kinds = append(kinds, e.Data.Kind)
	}
	assert.Equal(t, []Kind{KindBooted, KindForked}, kinds)
}

func TestCode(t *testing.T) {
	testCases := []struct {
		description string
		err         error
		expect      int32
	}{
		{description: "nil", err: nil, expect: 0},
		{description: "oom inside load error", err: &vm.LoadError{Err: errors.Wrap(vm.ErrOutOfMemory, "image")}, expect: isa.ENOMEM},
		{description: "load error", err: &vm.LoadError{Err: image.ErrMalformed}, expect: isa.ENOEXEC},
		{description: "fault", err: &vm.Fault{Reason: "x"}, expect: isa.EFAULT},
		{description: "bad fd", err: errors.Wrap(fileio.ErrBadDescriptor, "fd 9"), expect: isa.EBADF},
		{description: "too many files", err: fileio.ErrTooManyFiles, expect: isa.EMFILE},
		{description: "unknown pid", err: table.ErrNotFound, expect: isa.ESRCH},
		{description: "other", err: errors.New("boom"), expect: isa.EFAIL},
	}
	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			assert.Equal(t, tc.expect, Code(tc.err))
		})
	}
}
