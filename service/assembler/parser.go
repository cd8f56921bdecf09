package assembler

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/viant/nanokernel/model/isa"
	"github.com/viant/parsly"
)

type operandKind int

const (
	operandRegister operandKind = iota
	operandNumber
	operandSymbol
	operandMemory
	operandString
)

func (k operandKind) String() string {
	switch k {
	case operandRegister:
		return "register"
	case operandNumber:
		return "number"
	case operandSymbol:
		return "symbol"
	case operandMemory:
		return "memory"
	}
	return "string"
}

// operand is a parsed instruction or directive argument. A memory operand
// keeps its offset in value or symbol and its base in reg.
type operand struct {
	kind   operandKind
	reg    uint8
	value  int32
	symbol string
	text   string
}

// statement is one source line after parsing.
type statement struct {
	line     int
	labels   []string
	mnemonic string
	operands []*operand
}

func (s *statement) empty() bool {
	return s.mnemonic == ""
}

// parse splits source into statements, one per line.
func parse(source []byte) ([]*statement, error) {
	var ret []*statement
	for i, text := range strings.Split(string(source), "\n") {
		stmt, err := parseLine(i+1, []byte(strings.TrimRight(text, "\r")))
		if err != nil {
			return nil, lineError(i+1, err)
		}
		if stmt.empty() && len(stmt.labels) == 0 {
			continue
		}
		ret = append(ret, stmt)
	}
	return ret, nil
}

func parseLine(line int, input []byte) (*statement, error) {
	cursor := parsly.NewCursor("", input, 0)
	ret := &statement{line: line}
	for {
		matched := cursor.MatchAfterOptional(whitespaceToken, identifierToken, commentToken)
		switch matched.Code {
		case identifierCode:
		case commentCode, parsly.EOF:
			return ret, nil
		default:
			return nil, errors.WithMessage(ErrSyntax, cursor.NewError(identifierToken).Error())
		}
		name := matched.Text(cursor)
		if cursor.MatchOne(colonToken).Code == colonCode {
			ret.labels = append(ret.labels, name)
			continue
		}
		ret.mnemonic = strings.ToLower(name)
		break
	}
	for {
		op, err := parseOperand(cursor)
		if err != nil {
			return nil, err
		}
		if op == nil {
			if len(ret.operands) > 0 {
				return nil, errors.WithMessage(ErrSyntax, "operand expected after ','")
			}
			return ret, nil
		}
		ret.operands = append(ret.operands, op)
		matched := cursor.MatchAfterOptional(whitespaceToken, commaToken, commentToken)
		switch matched.Code {
		case commaCode:
			continue
		case commentCode, parsly.EOF:
			return ret, nil
		default:
			return nil, errors.WithMessage(ErrSyntax, cursor.NewError(commaToken).Error())
		}
	}
}

// parseOperand returns nil at the end of the line.
func parseOperand(cursor *parsly.Cursor) (*operand, error) {
	matched := cursor.MatchAfterOptional(whitespaceToken, numberToken, charToken, stringToken, identifierToken, openParenToken, commentToken)
	switch matched.Code {
	case parsly.EOF, commentCode:
		return nil, nil
	case openParenCode:
		ret := &operand{kind: operandMemory}
		return ret, parseBase(cursor, ret)
	case stringCode:
		text, err := strconv.Unquote(matched.Text(cursor))
		if err != nil {
			return nil, errors.Wrapf(ErrSyntax, "string %s: %v", matched.Text(cursor), err)
		}
		return &operand{kind: operandString, text: text}, nil
	case numberCode:
		value, err := parseNumber(matched.Text(cursor))
		if err != nil {
			return nil, err
		}
		ret := &operand{kind: operandNumber, value: value}
		return ret, parseOptionalBase(cursor, ret)
	case identifierCode:
		name := matched.Text(cursor)
		if reg, ok := isa.LookupRegister(name); ok {
			return &operand{kind: operandRegister, reg: reg}, nil
		}
		ret := &operand{kind: operandSymbol, symbol: name}
		return ret, parseOptionalBase(cursor, ret)
	}
	return nil, errors.WithMessage(ErrSyntax, cursor.NewError(numberToken, stringToken, identifierToken).Error())
}

func parseOptionalBase(cursor *parsly.Cursor, op *operand) error {
	if cursor.MatchOne(openParenToken).Code != openParenCode {
		return nil
	}
	op.kind = operandMemory
	return parseBase(cursor, op)
}

// parseBase reads "reg)" after an opening parenthesis.
func parseBase(cursor *parsly.Cursor, op *operand) error {
	matched := cursor.MatchAfterOptional(whitespaceToken, identifierToken)
	if matched.Code != identifierCode {
		return errors.WithMessage(ErrSyntax, cursor.NewError(identifierToken).Error())
	}
	reg, ok := isa.LookupRegister(matched.Text(cursor))
	if !ok {
		return errors.Wrapf(ErrOperand, "%q is not a register", matched.Text(cursor))
	}
	op.reg = reg
	if cursor.MatchAfterOptional(whitespaceToken, closeParenToken).Code != closeParenCode {
		return errors.WithMessage(ErrSyntax, cursor.NewError(closeParenToken).Error())
	}
	return nil
}

// parseNumber accepts decimal, hexadecimal and character literals. Values
// up to 0xFFFFFFFF are taken as their 32-bit pattern.
func parseNumber(text string) (int32, error) {
	if strings.HasPrefix(text, "'") {
		value, err := strconv.Unquote(text)
		if err != nil || len(value) != 1 {
			return 0, errors.Wrapf(ErrSyntax, "invalid character %s", text)
		}
		return int32(value[0]), nil
	}
	value, err := strconv.ParseInt(text, 0, 64)
	if err != nil || value < -1<<31 || value > 1<<32-1 {
		return 0, errors.Wrapf(ErrOperand, "number %s out of range", text)
	}
	return int32(uint32(value)), nil
}
