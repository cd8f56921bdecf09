package machine

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/viant/nanokernel/model/isa"
)

// ErrDivideByZero faults a div or rem with a zero divisor.
var ErrDivideByZero = errors.New("division by zero")

// Memory is the view of the active address space used by the CPU.
type Memory interface {
	Fetch(addr uint32) (isa.Instruction, error)
	LoadWord(addr uint32) (int32, error)
	StoreWord(addr uint32, value int32) error
	LoadByte(addr uint32) (byte, error)
	StoreByte(addr uint32, value byte) error
}

// Context is a saved register file and program counter.
type Context struct {
	Regs [isa.Registers]int32
	PC   uint32
}

// TrapKind says why the CPU stopped.
type TrapKind int

const (
	// TrapTimer means the instruction budget ran out.
	TrapTimer TrapKind = iota
	// TrapSyscall means a syscall instruction executed; PC already points
	// past it.
	TrapSyscall
	// TrapFault means the current instruction could not complete; PC still
	// points at it.
	TrapFault
)

func (k TrapKind) String() string {
	switch k {
	case TrapTimer:
		return "timer"
	case TrapSyscall:
		return "syscall"
	case TrapFault:
		return "fault"
	}
	return fmt.Sprintf("trap(%d)", int(k))
}

// Trap is the result of Run.
type Trap struct {
	Kind     TrapKind
	Executed int
	Err      error
}

// CPU is a single core interpreter.
type CPU struct {
	memory Memory
	ctx    Context
}

// New creates a CPU executing against memory.
func New(memory Memory) *CPU {
	return &CPU{memory: memory}
}

// Restore loads a saved context into the CPU.
func (c *CPU) Restore(ctx Context) {
	c.ctx = ctx
}

// Save returns the current context.
func (c *CPU) Save() Context {
	return c.ctx
}

// Run executes at most budget instructions.
func (c *CPU) Run(budget int) Trap {
	regs := &c.ctx.Regs
	for executed := 0; executed < budget; executed++ {
		pc := c.ctx.PC
		in, err := c.memory.Fetch(pc)
		if err != nil {
			return Trap{Kind: TrapFault, Executed: executed, Err: err}
		}
		next := pc + isa.InstructionSize
		rs, rt := regs[in.Rs], regs[in.Rt]
		switch in.Op {
		case isa.OpNop:
		case isa.OpLi:
			regs[in.Rd] = in.Imm
		case isa.OpMov:
			regs[in.Rd] = rs
		case isa.OpAdd:
			regs[in.Rd] = rs + rt
		case isa.OpSub:
			regs[in.Rd] = rs - rt
		case isa.OpMul:
			regs[in.Rd] = rs * rt
		case isa.OpDiv, isa.OpRem:
			if rt == 0 {
				return Trap{Kind: TrapFault, Executed: executed, Err: errors.Wrapf(ErrDivideByZero, "pc %#08x", pc)}
			}
			if in.Op == isa.OpDiv {
				regs[in.Rd] = rs / rt
			} else {
				regs[in.Rd] = rs % rt
			}
		case isa.OpAnd:
			regs[in.Rd] = rs & rt
		case isa.OpOr:
			regs[in.Rd] = rs | rt
		case isa.OpXor:
			regs[in.Rd] = rs ^ rt
		case isa.OpSll:
			regs[in.Rd] = rs << (uint32(rt) & 31)
		case isa.OpSrl:
			regs[in.Rd] = int32(uint32(rs) >> (uint32(rt) & 31))
		case isa.OpSlt:
			if rs < rt {
				regs[in.Rd] = 1
			} else {
				regs[in.Rd] = 0
			}
		case isa.OpAddi:
			regs[in.Rd] = rs + in.Imm
		case isa.OpLw:
			value, err := c.memory.LoadWord(uint32(rs + in.Imm))
			if err != nil {
				return Trap{Kind: TrapFault, Executed: executed, Err: err}
			}
			regs[in.Rd] = value
		case isa.OpLb:
			value, err := c.memory.LoadByte(uint32(rs + in.Imm))
			if err != nil {
				return Trap{Kind: TrapFault, Executed: executed, Err: err}
			}
			regs[in.Rd] = int32(int8(value))
		case isa.OpSw:
			if err := c.memory.StoreWord(uint32(rs+in.Imm), rt); err != nil {
				return Trap{Kind: TrapFault, Executed: executed, Err: err}
			}
		case isa.OpSb:
			if err := c.memory.StoreByte(uint32(rs+in.Imm), byte(rt)); err != nil {
				return Trap{Kind: TrapFault, Executed: executed, Err: err}
			}
		case isa.OpBeq:
			if rs == rt {
				next = uint32(in.Imm)
			}
		case isa.OpBne:
			if rs != rt {
				next = uint32(in.Imm)
			}
		case isa.OpBlt:
			if rs < rt {
				next = uint32(in.Imm)
			}
		case isa.OpBge:
			if rs >= rt {
				next = uint32(in.Imm)
			}
		case isa.OpJ:
			next = uint32(in.Imm)
		case isa.OpJal:
			regs[isa.RA] = int32(next)
			next = uint32(in.Imm)
		case isa.OpJr:
			next = uint32(rs)
		case isa.OpSyscall:
			c.ctx.PC = next
			regs[isa.Zero] = 0
			return Trap{Kind: TrapSyscall, Executed: executed + 1}
		}
		regs[isa.Zero] = 0
		c.ctx.PC = next
	}
	return Trap{Kind: TrapTimer, Executed: budget}
}
