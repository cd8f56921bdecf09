package table

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/nanokernel/runtime/process"
	"github.com/viant/nanokernel/service/dao/process/memory"
)

func run(t *testing.T, p *process.Process) {
	require.NoError(t, p.Transition(process.StateRunnable))
	require.NoError(t, p.Transition(process.StateRunning))
}

func TestTable_Create(t *testing.T) {
	ctx := context.Background()
	table := New(memory.New())
	root, err := table.Create(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, RootPID, root.PID)
	assert.Equal(t, process.StateEmbryo, root.State)

	child, err := table.Create(ctx, root.PID)
	require.NoError(t, err)
	assert.Equal(t, 2, child.PID)
	assert.True(t, root.Children[child.PID])

	_, err = table.Create(ctx, 42)
	assert.True(t, errors.Is(err, ErrNotFound))

	// pids are never reused
	run(t, child)
	_, err = table.MarkZombie(ctx, child.PID, 0)
	require.NoError(t, err)
	_, err = table.Reap(ctx, child.PID)
	require.NoError(t, err)
	next, err := table.Create(ctx, root.PID)
	require.NoError(t, err)
	assert.Equal(t, 3, next.PID)
}

func TestTable_MarkZombie(t *testing.T) {
	ctx := context.Background()
	table := New(memory.New())
	parent, _ := table.Create(ctx, 0)
	child, _ := table.Create(ctx, parent.PID)
	other, _ := table.Create(ctx, parent.PID)

	_, err := table.MarkZombie(ctx, child.PID, 1)
	assert.True(t, errors.Is(err, ErrInvalidState), "embryo cannot exit")

	run(t, parent)
	require.NoError(t, parent.Transition(process.StateBlocked))
	parent.Wait = &process.Wait{PID: child.PID}

	run(t, other)
	waiter, err := table.MarkZombie(ctx, other.PID, 5)
	require.NoError(t, err)
	assert.Nil(t, waiter, "parent waits for another child")
	assert.EqualValues(t, 5, other.ExitStatus)

	run(t, child)
	waiter, err = table.MarkZombie(ctx, child.PID, 7)
	require.NoError(t, err)
	assert.Equal(t, parent, waiter)
	assert.Equal(t, process.StateZombie, child.State)
	assert.False(t, child.FinishedAt.IsZero())
}

func TestTable_Reap(t *testing.T) {
	ctx := context.Background()
	table := New(memory.New())
	parent, _ := table.Create(ctx, 0)
	child, _ := table.Create(ctx, parent.PID)

	_, err := table.Reap(ctx, child.PID)
	assert.True(t, errors.Is(err, ErrInvalidState))

	run(t, child)
	_, err = table.MarkZombie(ctx, child.PID, 3)
	require.NoError(t, err)
	reaped, err := table.Reap(ctx, child.PID)
	require.NoError(t, err)
	assert.Equal(t, process.StateDead, reaped.State)
	assert.False(t, parent.Children[child.PID])
	assert.True(t, parent.Reaped[child.PID])

	_, err = table.Lookup(ctx, child.PID)
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = table.Reap(ctx, child.PID)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestTable_Reparent(t *testing.T) {
	ctx := context.Background()
	table := New(memory.New())
	root, _ := table.Create(ctx, 0)
	middle, _ := table.Create(ctx, root.PID)
	a, _ := table.Create(ctx, middle.PID)
	b, _ := table.Create(ctx, middle.PID)
	run(t, root)

	moved, err := table.Reparent(ctx, middle.PID)
	require.NoError(t, err)
	assert.Len(t, moved, 2)
	assert.Empty(t, middle.Children)
	for _, p := range []*process.Process{a, b} {
		assert.Equal(t, root.PID, p.ParentPID)
		assert.True(t, p.Adopted)
		assert.True(t, root.Children[p.PID])
	}

	moved, err = table.Reparent(ctx, root.PID)
	require.NoError(t, err)
	assert.Len(t, moved, 3)
	assert.Equal(t, 0, a.ParentPID, "root children become orphans")
}

func TestTable_List(t *testing.T) {
	ctx := context.Background()
	table := New(memory.New())
	root, _ := table.Create(ctx, 0)
	child, _ := table.Create(ctx, root.PID)
	run(t, root)
	require.NoError(t, child.Transition(process.StateRunnable))
	_, _ = table.Create(ctx, root.PID)

	all, err := table.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	runnable, err := table.List(ctx, process.StateRunnable)
	require.NoError(t, err)
	require.Len(t, runnable, 1)
	assert.Equal(t, child.PID, runnable[0].PID)
	live, err := table.Live(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, live)

	require.NoError(t, table.Discard(ctx, 3))
	assert.Len(t, root.Children, 1)
	assert.True(t, errors.Is(table.Discard(ctx, child.PID), ErrInvalidState))
}
