package lifecycle

import (
	"github.com/pkg/errors"
	"github.com/viant/nanokernel/model/isa"
	"github.com/viant/nanokernel/runtime/process"
	"github.com/viant/nanokernel/runtime/vm"
	"github.com/viant/nanokernel/service/fileio"
	"github.com/viant/nanokernel/service/table"
)

// Kernel error taxonomy. Every one of them is recoverable by the calling
// process and surfaces as a negative syscall result.
var (
	ErrOutOfMemory    = vm.ErrOutOfMemory
	ErrLoad           = vm.ErrLoad
	ErrInvalidPointer = vm.ErrInvalidPointer
	ErrInvalidState   = process.ErrInvalidState
	ErrNotAChild      = errors.New("lifecycle: not a child")
	ErrNoSuchChild    = errors.New("lifecycle: no such child")
	ErrPermission     = errors.New("lifecycle: operation not permitted")
	ErrHalted         = errors.New("lifecycle: system halted")
)

// Code maps an error to the negative value returned to user code.
func Code(err error) int32 {
	var fault *vm.Fault
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrOutOfMemory):
		return isa.ENOMEM
	case errors.Is(err, fileio.ErrNotFound):
		return isa.ENOENT
	case errors.Is(err, ErrLoad):
		return isa.ENOEXEC
	case errors.Is(err, ErrNotAChild):
		return isa.ECHILD
	case errors.Is(err, ErrNoSuchChild), errors.Is(err, table.ErrNotFound):
		return isa.ESRCH
	case errors.Is(err, ErrInvalidPointer), errors.As(err, &fault):
		return isa.EFAULT
	case errors.Is(err, fileio.ErrBadDescriptor):
		return isa.EBADF
	case errors.Is(err, fileio.ErrTooManyFiles):
		return isa.EMFILE
	case errors.Is(err, fileio.ErrInvalidName):
		return isa.EINVAL
	case errors.Is(err, ErrPermission):
		return isa.EPERM
	}
	return isa.EFAIL
}
