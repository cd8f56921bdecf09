package assembler

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrSyntax is returned for a line that cannot be tokenized or parsed.
	ErrSyntax = errors.New("syntax error")
	// ErrUnknownMnemonic is returned for an unknown instruction or directive.
	ErrUnknownMnemonic = errors.New("unknown mnemonic")
	// ErrOperand is returned when operands do not fit an instruction.
	ErrOperand = errors.New("invalid operand")
	// ErrUndefined is returned for a reference to an undefined symbol.
	ErrUndefined = errors.New("undefined symbol")
	// ErrDuplicate is returned when a symbol is defined twice.
	ErrDuplicate = errors.New("duplicate symbol")
	// ErrSection is returned for a statement placed in the wrong section.
	ErrSection = errors.New("misplaced statement")
)

// Error locates an assembly error.
type Error struct {
	Line int
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func lineError(line int, err error) error {
	return &Error{Line: line, Err: err}
}
