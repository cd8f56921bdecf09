package process

import (
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/viant/nanokernel/internal/clock"
	"github.com/viant/nanokernel/model/isa"
	"github.com/viant/nanokernel/runtime/machine"
	"github.com/viant/nanokernel/runtime/vm"
	"github.com/viant/nanokernel/service/fileio"
)

// State represents the scheduling state of a process
type State string

const (
	StateEmbryo   State = "embryo"
	StateRunnable State = "runnable"
	StateRunning  State = "running"
	StateBlocked  State = "blocked"
	StateZombie   State = "zombie"
	StateDead     State = "dead"
)

// StatusFault is the exit status recorded for a process terminated by a fault.
const StatusFault int32 = -1000

// ErrInvalidState is returned for a transition the state machine forbids.
var ErrInvalidState = errors.New("process: invalid state")

var transitions = map[State][]State{
	StateEmbryo:   {StateRunnable, StateDead},
	StateRunnable: {StateRunning},
	StateRunning:  {StateRunnable, StateBlocked, StateZombie},
	StateBlocked:  {StateRunnable},
	StateZombie:   {StateDead},
}

// Wait describes a pending join.
type Wait struct {
	PID        int
	StatusAddr uint32
}

// Process is the process control block.
type Process struct {
	PID       int
	Name      string
	Args      []string
	State     State
	ParentPID int
	// Children holds the pids of live or zombie children.
	Children map[int]bool
	// Reaped holds the pids of children already collected by join.
	Reaped map[int]bool
	// Adopted is set when the process was reparented to the root.
	Adopted    bool
	Space      *vm.AddressSpace
	Context    machine.Context
	Files      *fileio.Table
	ExitStatus int32
	Wait       *Wait
	Fault      string
	CreatedAt  time.Time
	FinishedAt time.Time
}

// New creates an embryo PCB.
func New(pid, parentPID int) *Process {
	return &Process{
		PID:       pid,
		ParentPID: parentPID,
		State:     StateEmbryo,
		Children:  map[int]bool{},
		Reaped:    map[int]bool{},
		CreatedAt: clock.Now(),
	}
}

// Transition moves the process to state to, enforcing the state machine.
func (p *Process) Transition(to State) error {
	for _, allowed := range transitions[p.State] {
		if allowed == to {
			p.State = to
			if to == StateZombie || to == StateDead {
				if p.FinishedAt.IsZero() {
					p.FinishedAt = clock.Now()
				}
			}
			return nil
		}
	}
	return errors.Wrapf(ErrInvalidState, "pid %d: %v -> %v", p.PID, p.State, to)
}

// ChildPIDs returns the children in ascending order.
func (p *Process) ChildPIDs() []int {
	ret := make([]int, 0, len(p.Children))
	for pid := range p.Children {
		ret = append(ret, pid)
	}
	sort.Ints(ret)
	return ret
}

// SetReturn writes a syscall result into v0.
func (p *Process) SetReturn(value int32) {
	p.Context.Regs[isa.V0] = value
}

// Alive reports whether the process may still run.
func (p *Process) Alive() bool {
	switch p.State {
	case StateZombie, StateDead:
		return false
	}
	return true
}

// Info is a read-only snapshot of a process.
type Info struct {
	PID           int       `json:"pid" yaml:"pid"`
	Name          string    `json:"name" yaml:"name"`
	Args          []string  `json:"args,omitempty" yaml:"args,omitempty"`
	State         State     `json:"state" yaml:"state"`
	ParentPID     int       `json:"parentPid,omitempty" yaml:"parentPid,omitempty"`
	Children      []int     `json:"children,omitempty" yaml:"children,omitempty"`
	ExitStatus    int32     `json:"exitStatus" yaml:"exitStatus"`
	Fault         string    `json:"fault,omitempty" yaml:"fault,omitempty"`
	ResidentPages int       `json:"residentPages" yaml:"residentPages"`
	CreatedAt     time.Time `json:"createdAt" yaml:"createdAt"`
}

// Info returns a snapshot of the process.
func (p *Process) Info() Info {
	ret := Info{
		PID:        p.PID,
		Name:       p.Name,
		Args:       append([]string{}, p.Args...),
		State:      p.State,
		ParentPID:  p.ParentPID,
		Children:   p.ChildPIDs(),
		ExitStatus: p.ExitStatus,
		Fault:      p.Fault,
		CreatedAt:  p.CreatedAt,
	}
	if p.Space != nil && !p.Space.Destroyed() {
		ret.ResidentPages = p.Space.ResidentPages()
	}
	return ret
}
