package syscall

import "github.com/pkg/errors"

var (
	// ErrUnknownSyscall faults a process that traps with an unknown number.
	ErrUnknownSyscall = errors.New("syscall: unknown syscall")
	// ErrArgs is returned when an argument vector cannot be read.
	ErrArgs = errors.New("syscall: invalid argument vector")
)
