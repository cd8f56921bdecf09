package isa

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrTruncated is returned when fewer than InstructionSize bytes are decoded.
	ErrTruncated = errors.New("truncated instruction")
	// ErrIllegalInstruction is returned for an unknown opcode or register.
	ErrIllegalInstruction = errors.New("illegal instruction")
)

const (
	// InstructionSize is the fixed width of an encoded instruction.
	InstructionSize = 8
	// WordSize is the natural word size of the machine.
	WordSize = 4
	// Registers is the number of general purpose registers.
	Registers = 16
)

// Register aliases used by the calling convention.
const (
	Zero = 0
	V0   = 1
	A0   = 2
	A1   = 3
	A2   = 4
	A3   = 5
	T0   = 6
	SP   = 14
	RA   = 15
)

// Opcode identifies an instruction.
type Opcode uint8

const (
	OpNop Opcode = iota
	OpLi
	OpMov
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpRem
	OpAnd
	OpOr
	OpXor
	OpSll
	OpSrl
	OpSlt
	OpAddi
	OpLw
	OpSw
	OpLb
	OpSb
	OpBeq
	OpBne
	OpBlt
	OpBge
	OpJ
	OpJal
	OpJr
	OpSyscall
	opCount
)

var mnemonics = [...]string{
	OpNop:     "nop",
	OpLi:      "li",
	OpMov:     "mov",
	OpAdd:     "add",
	OpSub:     "sub",
	OpMul:     "mul",
	OpDiv:     "div",
	OpRem:     "rem",
	OpAnd:     "and",
	OpOr:      "or",
	OpXor:     "xor",
	OpSll:     "sll",
	OpSrl:     "srl",
	OpSlt:     "slt",
	OpAddi:    "addi",
	OpLw:      "lw",
	OpSw:      "sw",
	OpLb:      "lb",
	OpSb:      "sb",
	OpBeq:     "beq",
	OpBne:     "bne",
	OpBlt:     "blt",
	OpBge:     "bge",
	OpJ:       "j",
	OpJal:     "jal",
	OpJr:      "jr",
	OpSyscall: "syscall",
}

var opcodes = func() map[string]Opcode {
	ret := make(map[string]Opcode, len(mnemonics))
	for i, name := range mnemonics {
		ret[name] = Opcode(i)
	}
	return ret
}()

// Valid reports whether op is a known opcode.
func (o Opcode) Valid() bool {
	return o < opCount
}

func (o Opcode) String() string {
	if !o.Valid() {
		return fmt.Sprintf("op(%d)", uint8(o))
	}
	return mnemonics[o]
}

// LookupOpcode returns the opcode for a mnemonic.
func LookupOpcode(mnemonic string) (Opcode, bool) {
	op, ok := opcodes[mnemonic]
	return op, ok
}

// Instruction is a decoded machine instruction.
//
// Register operands: rd is the destination, rs the first source (or base
// address), rt the second source (or the value stored by sw/sb). Branch and
// jump targets are absolute addresses carried in Imm.
type Instruction struct {
	Op  Opcode
	Rd  uint8
	Rs  uint8
	Rt  uint8
	Imm int32
}

// Encode writes the instruction into dest, which must hold InstructionSize bytes.
func (i Instruction) Encode(dest []byte) {
	dest[0] = byte(i.Op)
	dest[1] = i.Rd
	dest[2] = i.Rs
	dest[3] = i.Rt
	binary.LittleEndian.PutUint32(dest[4:], uint32(i.Imm))
}

// Bytes returns the encoded instruction.
func (i Instruction) Bytes() []byte {
	ret := make([]byte, InstructionSize)
	i.Encode(ret)
	return ret
}

// Decode decodes an instruction, validating opcode and register fields.
func Decode(src []byte) (Instruction, error) {
	if len(src) < InstructionSize {
		return Instruction{}, errors.Wrapf(ErrTruncated, "%d bytes", len(src))
	}
	ret := Instruction{
		Op:  Opcode(src[0]),
		Rd:  src[1],
		Rs:  src[2],
		Rt:  src[3],
		Imm: int32(binary.LittleEndian.Uint32(src[4:])),
	}
	if !ret.Op.Valid() {
		return ret, errors.Wrapf(ErrIllegalInstruction, "opcode %d", src[0])
	}
	if ret.Rd >= Registers || ret.Rs >= Registers || ret.Rt >= Registers {
		return ret, errors.Wrapf(ErrIllegalInstruction, "register in %v", ret.Op)
	}
	return ret, nil
}

func (i Instruction) String() string {
	return fmt.Sprintf("%v r%d, r%d, r%d, %d", i.Op, i.Rd, i.Rs, i.Rt, i.Imm)
}
