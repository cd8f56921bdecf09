package table

import (
	"context"

	"github.com/pkg/errors"
	"github.com/viant/nanokernel/runtime/process"
	"github.com/viant/nanokernel/service/dao"
)

var (
	// ErrNotFound is returned for an unknown pid.
	ErrNotFound = errors.New("table: no such process")
	// ErrInvalidState is returned when an operation meets a PCB in the wrong state.
	ErrInvalidState = process.ErrInvalidState
)

// RootPID is the pid of the bootstrap process.
const RootPID = 1

// Table tracks every process control block. It is not safe for concurrent
// use; the kernel serialises access.
type Table struct {
	dao     dao.Service[int, process.Process]
	nextPID int
}

// New creates a table over a PCB store.
func New(store dao.Service[int, process.Process]) *Table {
	return &Table{dao: store, nextPID: RootPID}
}

// Create allocates an EMBRYO PCB and registers it under its parent.
// A parentPID of 0 creates a process with no parent.
func (t *Table) Create(ctx context.Context, parentPID int) (*process.Process, error) {
	var parent *process.Process
	if parentPID != 0 {
		var err error
		if parent, err = t.Lookup(ctx, parentPID); err != nil {
			return nil, err
		}
		if !parent.Alive() {
			return nil, errors.Wrapf(ErrInvalidState, "parent %d is %v", parentPID, parent.State)
		}
	}
	ret := process.New(t.nextPID, parentPID)
	if err := t.dao.Save(ctx, ret); err != nil {
		return nil, errors.Wrapf(err, "failed to save pid %d", ret.PID)
	}
	t.nextPID++
	if parent != nil {
		parent.Children[ret.PID] = true
	}
	return ret, nil
}

// Lookup returns the PCB of a live, zombie or embryo process.
func (t *Table) Lookup(ctx context.Context, pid int) (*process.Process, error) {
	ret, err := t.dao.Load(ctx, pid)
	if err != nil {
		if errors.Is(err, dao.ErrNotFound) || errors.Is(err, dao.ErrInvalidID) {
			return nil, errors.Wrapf(ErrNotFound, "pid %d", pid)
		}
		return nil, err
	}
	return ret, nil
}

// MarkZombie records the exit status of a RUNNING process and makes it a
// ZOMBIE. When the parent is blocked joining this pid, the parent is
// returned so the caller can complete the join.
func (t *Table) MarkZombie(ctx context.Context, pid int, status int32) (*process.Process, error) {
	p, err := t.Lookup(ctx, pid)
	if err != nil {
		return nil, err
	}
	if p.State != process.StateRunning {
		return nil, errors.Wrapf(ErrInvalidState, "mark zombie pid %d in %v", pid, p.State)
	}
	if err = p.Transition(process.StateZombie); err != nil {
		return nil, err
	}
	p.ExitStatus = status
	if p.ParentPID == 0 {
		return nil, nil
	}
	parent, err := t.Lookup(ctx, p.ParentPID)
	if err != nil {
		return nil, nil
	}
	if parent.State == process.StateBlocked && parent.Wait != nil && parent.Wait.PID == pid {
		return parent, nil
	}
	return nil, nil
}

// Reap moves a ZOMBIE to DEAD, destroys its address space and removes it
// from the table. The parent remembers the pid as reaped.
func (t *Table) Reap(ctx context.Context, pid int) (*process.Process, error) {
	p, err := t.Lookup(ctx, pid)
	if err != nil {
		return nil, err
	}
	if p.State != process.StateZombie {
		return nil, errors.Wrapf(ErrInvalidState, "reap pid %d in %v", pid, p.State)
	}
	if err = p.Transition(process.StateDead); err != nil {
		return nil, err
	}
	if p.Space != nil {
		p.Space.Destroy()
	}
	if parent, err := t.Lookup(ctx, p.ParentPID); err == nil {
		delete(parent.Children, pid)
		parent.Reaped[pid] = true
	}
	if err = t.dao.Delete(ctx, pid); err != nil {
		return nil, errors.Wrapf(err, "failed to delete pid %d", pid)
	}
	return p, nil
}

// Discard removes an EMBRYO that never became runnable.
func (t *Table) Discard(ctx context.Context, pid int) error {
	p, err := t.Lookup(ctx, pid)
	if err != nil {
		return err
	}
	if p.State != process.StateEmbryo {
		return errors.Wrapf(ErrInvalidState, "discard pid %d in %v", pid, p.State)
	}
	if err = p.Transition(process.StateDead); err != nil {
		return err
	}
	if p.Space != nil {
		p.Space.Destroy()
	}
	if parent, err := t.Lookup(ctx, p.ParentPID); err == nil {
		delete(parent.Children, pid)
	}
	return t.dao.Delete(ctx, pid)
}

// Reparent hands every child of pid to the root process. When pid is the
// root itself, or the root is gone, the children are left without a parent.
// It returns the moved children.
func (t *Table) Reparent(ctx context.Context, pid int) ([]*process.Process, error) {
	p, err := t.Lookup(ctx, pid)
	if err != nil {
		return nil, err
	}
	var root *process.Process
	if pid != RootPID {
		if candidate, err := t.Lookup(ctx, RootPID); err == nil && candidate.Alive() {
			root = candidate
		}
	}
	var ret []*process.Process
	for _, childPID := range p.ChildPIDs() {
		child, err := t.Lookup(ctx, childPID)
		delete(p.Children, childPID)
		if err != nil {
			continue
		}
		child.Adopted = true
		child.ParentPID = 0
		if root != nil {
			child.ParentPID = root.PID
			root.Children[childPID] = true
		}
		ret = append(ret, child)
	}
	return ret, nil
}

// List returns PCBs in pid order, optionally restricted to states.
func (t *Table) List(ctx context.Context, states ...process.State) ([]*process.Process, error) {
	var parameters []*dao.Parameter
	if len(states) > 0 {
		values := make([]string, len(states))
		for i, state := range states {
			values[i] = string(state)
		}
		parameters = append(parameters, &dao.Parameter{Name: "State", Value: values})
	}
	return t.dao.List(ctx, parameters...)
}

// Live returns the number of processes that can still run.
func (t *Table) Live(ctx context.Context) (int, error) {
	list, err := t.List(ctx, process.StateRunnable, process.StateRunning, process.StateBlocked)
	if err != nil {
		return 0, err
	}
	return len(list), nil
}
