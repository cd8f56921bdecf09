package vm

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrOutOfMemory is returned when physical frames run out.
	ErrOutOfMemory = errors.New("vm: out of memory")
	// ErrLoad is matched by every LoadError.
	ErrLoad = errors.New("vm: load error")
	// ErrInvalidPointer is returned when releasing something that is not a
	// live heap block.
	ErrInvalidPointer = errors.New("vm: invalid pointer")
	// ErrDestroyed is returned when using a destroyed address space.
	ErrDestroyed = errors.New("vm: address space destroyed")
)

// LoadError reports a program image that could not be turned into an
// address space.
type LoadError struct {
	Err error
}

func (e *LoadError) Error() string {
	return "load error: " + e.Err.Error()
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// Is makes every LoadError match ErrLoad.
func (e *LoadError) Is(target error) bool {
	return target == ErrLoad
}

// Fault is an illegal memory access by user code.
type Fault struct {
	Addr   uint32
	Access Perm
	Reason string
	Err    error
}

func (f *Fault) Error() string {
	return fmt.Sprintf("%v fault at %#08x: %s", f.Access, f.Addr, f.Reason)
}

func (f *Fault) Unwrap() error {
	return f.Err
}
