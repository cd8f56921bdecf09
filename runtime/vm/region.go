package vm

import "strings"

// Perm is a set of access permissions.
type Perm uint8

const (
	PermRead Perm = 1 << iota
	PermWrite
	PermExec
)

func (p Perm) String() string {
	var sb strings.Builder
	for _, flag := range []struct {
		perm Perm
		code byte
	}{{PermRead, 'r'}, {PermWrite, 'w'}, {PermExec, 'x'}} {
		if p&flag.perm != 0 {
			sb.WriteByte(flag.code)
		} else {
			sb.WriteByte('-')
		}
	}
	return sb.String()
}

// Kind identifies what backs a region.
type Kind uint8

const (
	KindCode Kind = iota
	KindData
	KindHeap
	KindStack
	KindArgs
)

func (k Kind) String() string {
	switch k {
	case KindCode:
		return "code"
	case KindData:
		return "data"
	case KindHeap:
		return "heap"
	case KindStack:
		return "stack"
	case KindArgs:
		return "args"
	}
	return "unknown"
}

// Region is a contiguous, page aligned range of virtual addresses.
type Region struct {
	Kind   Kind
	Base   uint32
	Length uint32
	Perm   Perm
}

// End returns the first address past the region.
func (r *Region) End() uint32 {
	return r.Base + r.Length
}

// Contains reports whether addr falls inside the region.
func (r *Region) Contains(addr uint32) bool {
	return addr >= r.Base && addr-r.Base < r.Length
}

func alignUp(v uint32) uint32 {
	return (v + PageSize - 1) &^ (PageSize - 1)
}

func alignDown(v uint32) uint32 {
	return v &^ (PageSize - 1)
}
