package vm

import (
	"encoding/binary"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"github.com/viant/nanokernel/model/isa"
)

type tlbEntry struct {
	ppn  int
	perm Perm
}

// TLBStats are translation counters.
type TLBStats struct {
	Hits       uint64
	Misses     uint64
	PageFaults uint64
}

// MMU translates the virtual addresses of the active address space. It
// caches translations in a TLB that is flushed on every Activate and
// whenever the active space unmaps a page.
type MMU struct {
	space      *AddressSpace
	tlb        *lru.Cache[uint32, tlbEntry]
	generation uint64
	stats      TLBStats
}

// NewMMU creates an MMU with a TLB of the given number of entries.
func NewMMU(entries int) (*MMU, error) {
	tlb, err := lru.New[uint32, tlbEntry](entries)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create tlb with %d entries", entries)
	}
	return &MMU{tlb: tlb}, nil
}

// Activate installs space as the current mapping.
func (m *MMU) Activate(space *AddressSpace) {
	m.space = space
	m.tlb.Purge()
	if space != nil {
		m.generation = space.generation
	}
}

// Active returns the current address space.
func (m *MMU) Active() *AddressSpace {
	return m.space
}

// Stats returns the translation counters.
func (m *MMU) Stats() TLBStats {
	return m.stats
}

func (m *MMU) frame(addr uint32, access Perm) ([]byte, error) {
	space := m.space
	if space == nil {
		return nil, &Fault{Addr: addr, Access: access, Reason: "no active address space"}
	}
	if space.generation != m.generation {
		m.tlb.Purge()
		m.generation = space.generation
	}
	vpn := addr / PageSize
	if entry, ok := m.tlb.Get(vpn); ok && entry.perm&access == access {
		m.stats.Hits++
		return space.pool.Frame(entry.ppn), nil
	}
	m.stats.Misses++
	ppn, perm, faulted, err := space.translate(addr, access)
	if err != nil {
		return nil, err
	}
	if faulted {
		m.stats.PageFaults++
	}
	m.tlb.Add(vpn, tlbEntry{ppn: ppn, perm: perm})
	return space.pool.Frame(ppn), nil
}

func misaligned(addr uint32, access Perm) error {
	return &Fault{Addr: addr, Access: access, Reason: "misaligned access"}
}

// Fetch reads and decodes the instruction at addr.
func (m *MMU) Fetch(addr uint32) (isa.Instruction, error) {
	if addr%isa.InstructionSize != 0 {
		return isa.Instruction{}, misaligned(addr, PermExec)
	}
	frame, err := m.frame(addr, PermExec)
	if err != nil {
		return isa.Instruction{}, err
	}
	offset := addr % PageSize
	instruction, err := isa.Decode(frame[offset : offset+isa.InstructionSize])
	if err != nil {
		return instruction, &Fault{Addr: addr, Access: PermExec, Reason: err.Error()}
	}
	return instruction, nil
}

// LoadWord reads an aligned word.
func (m *MMU) LoadWord(addr uint32) (int32, error) {
	if addr%isa.WordSize != 0 {
		return 0, misaligned(addr, PermRead)
	}
	frame, err := m.frame(addr, PermRead)
	if err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(frame[addr%PageSize:])), nil
}

// StoreWord writes an aligned word.
func (m *MMU) StoreWord(addr uint32, value int32) error {
	if addr%isa.WordSize != 0 {
		return misaligned(addr, PermWrite)
	}
	frame, err := m.frame(addr, PermWrite)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(frame[addr%PageSize:], uint32(value))
	return nil
}

// LoadByte reads one byte.
func (m *MMU) LoadByte(addr uint32) (byte, error) {
	frame, err := m.frame(addr, PermRead)
	if err != nil {
		return 0, err
	}
	return frame[addr%PageSize], nil
}

// StoreByte writes one byte.
func (m *MMU) StoreByte(addr uint32, value byte) error {
	frame, err := m.frame(addr, PermWrite)
	if err != nil {
		return err
	}
	frame[addr%PageSize] = value
	return nil
}
