package assembler

import (
	"encoding/binary"
	"strings"

	"github.com/pkg/errors"
	"github.com/viant/nanokernel/model/image"
	"github.com/viant/nanokernel/model/isa"
)

// StartSymbol is the entry label; when a program does not define it a
// start stub calling MainSymbol is emitted.
const (
	StartSymbol = "_start"
	MainSymbol  = "main"
)

type section int

const (
	sectionText section = iota
	sectionData
	sectionBSS
)

func (s section) String() string {
	switch s {
	case sectionText:
		return ".text"
	case sectionData:
		return ".data"
	}
	return ".bss"
}

type location struct {
	section section
	offset  uint32
}

var formats = map[isa.Opcode]string{
	isa.OpNop:     "",
	isa.OpSyscall: "",
	isa.OpLi:      "ri",
	isa.OpMov:     "rr",
	isa.OpAddi:    "rri",
	isa.OpLw:      "rm",
	isa.OpLb:      "rm",
	isa.OpSw:      "rm",
	isa.OpSb:      "rm",
	isa.OpBeq:     "rri",
	isa.OpBne:     "rri",
	isa.OpBlt:     "rri",
	isa.OpBge:     "rri",
	isa.OpJ:       "i",
	isa.OpJal:     "i",
	isa.OpJr:      "r",
}

// start calls main with the loader provided argc/argv and exits with its
// return value.
var start = []string{
	"jal " + MainSymbol,
	"mov a0, v0",
	"li v0, SYS_EXIT",
	"syscall",
}

type assembler struct {
	labels    map[string]location
	constants map[string]int32
	section   section
	offsets   [3]uint32
	resolve   bool
	dataBase  uint32
	dataSize  uint32
	code      []byte
	data      []byte
}

// Assemble translates source into a program image.
func Assemble(source []byte) (*image.Image, error) {
	statements, err := parse(source)
	if err != nil {
		return nil, err
	}
	a := &assembler{labels: map[string]location{}, constants: map[string]int32{}}
	if !defines(statements, StartSymbol) {
		stub, err := parse([]byte(strings.Join(start, "\n")))
		if err != nil {
			return nil, err
		}
		for _, stmt := range stub {
			stmt.line = 0
		}
		statements = append(stub, statements...)
	}
	if err = a.pass(statements); err != nil {
		return nil, err
	}
	a.resolve = true
	a.dataBase = image.DataBase(a.offsets[sectionText])
	a.dataSize = a.offsets[sectionData]
	bss := a.offsets[sectionBSS]
	if err = a.pass(statements); err != nil {
		return nil, err
	}
	entry, ok := a.labels[StartSymbol]
	if !ok {
		entry = location{section: sectionText}
		if target, ok := a.labels[MainSymbol]; !ok || target.section != sectionText {
			return nil, errors.Wrapf(ErrUndefined, "%s", MainSymbol)
		}
	}
	if entry.section != sectionText {
		return nil, errors.Wrapf(ErrSection, "%s is not in %v", StartSymbol, sectionText)
	}
	ret := &image.Image{Entry: entry.offset, Code: a.code, Data: a.data, BSS: bss}
	if err = ret.Validate(); err != nil {
		return nil, err
	}
	return ret, nil
}

func defines(statements []*statement, label string) bool {
	for _, stmt := range statements {
		for _, candidate := range stmt.labels {
			if candidate == label {
				return true
			}
		}
	}
	return false
}

// pass walks the program once. The first pass assigns label offsets, the
// second emits bytes with every symbol resolved.
func (a *assembler) pass(statements []*statement) error {
	a.section = sectionText
	a.offsets = [3]uint32{}
	for _, stmt := range statements {
		if err := a.statement(stmt); err != nil {
			if stmt.line == 0 {
				return err
			}
			return lineError(stmt.line, err)
		}
	}
	return nil
}

func (a *assembler) statement(stmt *statement) error {
	if strings.HasPrefix(stmt.mnemonic, ".") {
		switch stmt.mnemonic {
		case ".text", ".data", ".bss":
			if err := a.define(stmt.labels); err != nil {
				return err
			}
			if len(stmt.operands) > 0 {
				return errors.Wrapf(ErrOperand, "%s takes no operands", stmt.mnemonic)
			}
			a.section = map[string]section{".text": sectionText, ".data": sectionData, ".bss": sectionBSS}[stmt.mnemonic]
			return nil
		case ".globl", ".global":
			return a.define(stmt.labels)
		case ".equ", ".set":
			if err := a.define(stmt.labels); err != nil {
				return err
			}
			return a.equ(stmt)
		}
		return a.directive(stmt)
	}
	if err := a.define(stmt.labels); err != nil {
		return err
	}
	if stmt.empty() {
		return nil
	}
	if a.section != sectionText {
		return errors.Wrapf(ErrSection, "instruction %s in %v", stmt.mnemonic, a.section)
	}
	instructions, err := a.instruction(stmt)
	if err != nil {
		return err
	}
	for _, in := range instructions {
		if a.resolve {
			a.code = append(a.code, in.Bytes()...)
		}
		a.offsets[sectionText] += isa.InstructionSize
	}
	return nil
}

func (a *assembler) define(labels []string) error {
	for _, label := range labels {
		loc := location{section: a.section, offset: a.offsets[a.section]}
		if a.resolve {
			a.labels[label] = loc
			continue
		}
		if _, ok := a.labels[label]; ok {
			return errors.Wrapf(ErrDuplicate, "%s", label)
		}
		if _, ok := a.constants[label]; ok {
			return errors.Wrapf(ErrDuplicate, "%s", label)
		}
		a.labels[label] = loc
	}
	return nil
}

func (a *assembler) equ(stmt *statement) error {
	if len(stmt.operands) != 2 || stmt.operands[0].kind != operandSymbol {
		return errors.Wrapf(ErrOperand, "%s expects name, value", stmt.mnemonic)
	}
	name := stmt.operands[0].symbol
	if a.resolve {
		return nil
	}
	if _, ok := a.labels[name]; ok {
		return errors.Wrapf(ErrDuplicate, "%s", name)
	}
	if _, ok := a.constants[name]; ok {
		return errors.Wrapf(ErrDuplicate, "%s", name)
	}
	value, err := a.constant(stmt.operands[1])
	if err != nil {
		return err
	}
	a.constants[name] = value
	return nil
}

// constant evaluates an operand that must be known in the first pass.
func (a *assembler) constant(op *operand) (int32, error) {
	switch op.kind {
	case operandNumber:
		return op.value, nil
	case operandSymbol:
		if value, ok := a.predefined(op.symbol); ok {
			return value, nil
		}
		return 0, errors.Wrapf(ErrUndefined, "%s", op.symbol)
	}
	return 0, errors.Wrapf(ErrOperand, "constant expected, got %v", op.kind)
}

func (a *assembler) predefined(name string) (int32, bool) {
	if value, ok := a.constants[name]; ok {
		return value, true
	}
	if value, ok := isa.SyscallNames[name]; ok {
		return value, true
	}
	value, ok := isa.ErrnoNames[name]
	return value, ok
}

// value resolves a number or symbol. Symbols resolve to 0 during the first
// pass.
func (a *assembler) value(op *operand) (int32, error) {
	if op.kind == operandNumber || (op.kind == operandMemory && op.symbol == "") {
		return op.value, nil
	}
	if op.kind != operandSymbol && op.kind != operandMemory {
		return 0, errors.Wrapf(ErrOperand, "immediate expected, got %v", op.kind)
	}
	if value, ok := a.predefined(op.symbol); ok {
		return value, nil
	}
	if !a.resolve {
		return 0, nil
	}
	loc, ok := a.labels[op.symbol]
	if !ok {
		return 0, errors.Wrapf(ErrUndefined, "%s", op.symbol)
	}
	return int32(a.address(loc)), nil
}

func (a *assembler) address(loc location) uint32 {
	switch loc.section {
	case sectionText:
		return image.CodeBase + loc.offset
	case sectionData:
		return a.dataBase + loc.offset
	}
	return a.dataBase + a.dataSize + loc.offset
}

func (a *assembler) directive(stmt *statement) error {
	size := uint32(0)
	align := uint32(1)
	switch stmt.mnemonic {
	case ".word":
		for _, op := range stmt.operands {
			if op.kind == operandString {
				return errors.Wrapf(ErrOperand, "%s expects numbers or symbols", stmt.mnemonic)
			}
		}
		size, align = isa.WordSize*uint32(len(stmt.operands)), isa.WordSize
	case ".byte":
		for _, op := range stmt.operands {
			if op.kind == operandString {
				size += uint32(len(op.text))
				continue
			}
			size++
		}
	case ".ascii", ".asciz":
		for _, op := range stmt.operands {
			if op.kind != operandString {
				return errors.Wrapf(ErrOperand, "%s expects strings", stmt.mnemonic)
			}
			size += uint32(len(op.text))
			if stmt.mnemonic == ".asciz" {
				size++
			}
		}
	case ".space", ".align":
		if len(stmt.operands) != 1 {
			return errors.Wrapf(ErrOperand, "%s expects one operand", stmt.mnemonic)
		}
		n, err := a.constant(stmt.operands[0])
		if err != nil {
			return err
		}
		if n < 0 || (stmt.mnemonic == ".align" && (n == 0 || n&(n-1) != 0)) {
			return errors.Wrapf(ErrOperand, "%s %d", stmt.mnemonic, n)
		}
		if stmt.mnemonic == ".space" {
			size = uint32(n)
		} else {
			align = uint32(n)
		}
	default:
		return errors.Wrapf(ErrUnknownMnemonic, "%s", stmt.mnemonic)
	}
	if a.section == sectionText {
		return errors.Wrapf(ErrSection, "%s in %v", stmt.mnemonic, a.section)
	}
	if a.section == sectionBSS && stmt.mnemonic != ".space" && stmt.mnemonic != ".align" {
		return errors.Wrapf(ErrSection, "%s in %v", stmt.mnemonic, a.section)
	}
	pad := image.AlignUp(a.offsets[a.section], align) - a.offsets[a.section]
	a.reserve(pad)
	if err := a.define(stmt.labels); err != nil {
		return err
	}
	if !a.resolve || a.section == sectionBSS || stmt.mnemonic == ".space" || stmt.mnemonic == ".align" {
		a.reserve(size)
		return nil
	}
	return a.emit(stmt)
}

// reserve advances the current section by n zero bytes.
func (a *assembler) reserve(n uint32) {
	if a.resolve && a.section == sectionData {
		a.data = append(a.data, make([]byte, n)...)
	}
	a.offsets[a.section] += n
}

func (a *assembler) emit(stmt *statement) error {
	start := len(a.data)
	for _, op := range stmt.operands {
		switch {
		case op.kind == operandString:
			a.data = append(a.data, op.text...)
			if stmt.mnemonic == ".asciz" {
				a.data = append(a.data, 0)
			}
		case stmt.mnemonic == ".word":
			value, err := a.value(op)
			if err != nil {
				return err
			}
			a.data = binary.LittleEndian.AppendUint32(a.data, uint32(value))
		default:
			value, err := a.value(op)
			if err != nil {
				return err
			}
			if value < -128 || value > 255 {
				return errors.Wrapf(ErrOperand, "byte value %d", value)
			}
			a.data = append(a.data, byte(value))
		}
	}
	a.offsets[sectionData] += uint32(len(a.data) - start)
	return nil
}

func (a *assembler) instruction(stmt *statement) ([]isa.Instruction, error) {
	ops := stmt.operands
	switch stmt.mnemonic {
	case "push":
		if err := expect(stmt, "r"); err != nil {
			return nil, err
		}
		return []isa.Instruction{
			{Op: isa.OpAddi, Rd: isa.SP, Rs: isa.SP, Imm: -isa.WordSize},
			{Op: isa.OpSw, Rs: isa.SP, Rt: ops[0].reg},
		}, nil
	case "pop":
		if err := expect(stmt, "r"); err != nil {
			return nil, err
		}
		return []isa.Instruction{
			{Op: isa.OpLw, Rd: ops[0].reg, Rs: isa.SP},
			{Op: isa.OpAddi, Rd: isa.SP, Rs: isa.SP, Imm: isa.WordSize},
		}, nil
	case "la":
		return a.instruction(&statement{line: stmt.line, mnemonic: "li", operands: ops})
	case "call":
		return a.instruction(&statement{line: stmt.line, mnemonic: "jal", operands: ops})
	case "ret":
		if err := expect(stmt, ""); err != nil {
			return nil, err
		}
		return []isa.Instruction{{Op: isa.OpJr, Rs: isa.RA}}, nil
	}
	op, ok := isa.LookupOpcode(stmt.mnemonic)
	if !ok {
		return nil, errors.Wrapf(ErrUnknownMnemonic, "%s", stmt.mnemonic)
	}
	format, ok := formats[op]
	if !ok {
		format = "rrr"
	}
	if err := expect(stmt, format); err != nil {
		return nil, err
	}
	ret := isa.Instruction{Op: op}
	var err error
	switch format {
	case "rrr":
		ret.Rd, ret.Rs, ret.Rt = ops[0].reg, ops[1].reg, ops[2].reg
	case "rr":
		ret.Rd, ret.Rs = ops[0].reg, ops[1].reg
	case "r":
		ret.Rs = ops[0].reg
	case "ri":
		ret.Rd = ops[0].reg
		ret.Imm, err = a.value(ops[1])
	case "i":
		ret.Imm, err = a.value(ops[0])
	case "rri":
		if op == isa.OpAddi {
			ret.Rd, ret.Rs = ops[0].reg, ops[1].reg
		} else {
			ret.Rs, ret.Rt = ops[0].reg, ops[1].reg
		}
		ret.Imm, err = a.value(ops[2])
	case "rm":
		ret.Rs = ops[1].reg
		if op == isa.OpSw || op == isa.OpSb {
			ret.Rt = ops[0].reg
		} else {
			ret.Rd = ops[0].reg
		}
		ret.Imm, err = a.value(ops[1])
	}
	if err != nil {
		return nil, err
	}
	return []isa.Instruction{ret}, nil
}

// expect checks operand kinds: r register, i number or symbol, m memory.
func expect(stmt *statement, format string) error {
	if len(stmt.operands) != len(format) {
		return errors.Wrapf(ErrOperand, "%s expects %d operands, got %d", stmt.mnemonic, len(format), len(stmt.operands))
	}
	for i, op := range stmt.operands {
		var ok bool
		switch format[i] {
		case 'r':
			ok = op.kind == operandRegister
		case 'i':
			ok = op.kind == operandNumber || op.kind == operandSymbol
		case 'm':
			ok = op.kind == operandMemory
		}
		if !ok {
			return errors.Wrapf(ErrOperand, "%s operand %d: unexpected %v", stmt.mnemonic, i+1, op.kind)
		}
	}
	return nil
}
