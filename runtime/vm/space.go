package vm

import (
	"encoding/binary"
	"sort"

	"github.com/pkg/errors"
	"github.com/viant/nanokernel/model/image"
	"github.com/viant/nanokernel/runtime/heap"
)

// Layout holds the per address space sizing policy.
type Layout struct {
	// HeapCeiling bounds how far the heap may grow.
	HeapCeiling uint32
	// StackSize is the fixed size of the stack region.
	StackSize uint32
}

// Validate checks the layout.
func (l Layout) Validate() error {
	if l.StackSize == 0 || l.StackSize%PageSize != 0 {
		return errors.Errorf("stack size %d must be a positive multiple of %d", l.StackSize, PageSize)
	}
	if l.StackSize >= image.StackTop-image.CodeBase {
		return errors.Errorf("stack size %d too large", l.StackSize)
	}
	if l.HeapCeiling%PageSize != 0 {
		return errors.Errorf("heap ceiling %d must be a multiple of %d", l.HeapCeiling, PageSize)
	}
	return nil
}

// AddressSpace is the set of regions owned by one process together with the
// page table mapping its resident pages onto physical frames. Pages are
// materialised zero-filled on first touch.
type AddressSpace struct {
	pool       *FramePool
	layout     Layout
	regions    []*Region
	heapRegion *Region
	heap       *heap.Allocator
	pages      map[uint32]int
	entry      uint32
	argc       int
	generation uint64
	destroyed  bool
}

// Entry returns the initial program counter.
func (s *AddressSpace) Entry() uint32 {
	return s.entry
}

// Argc returns the number of arguments marshalled into the argument page.
func (s *AddressSpace) Argc() int {
	return s.argc
}

// Argv returns the address of the argument vector.
func (s *AddressSpace) Argv() uint32 {
	return image.StackTop
}

// StackPointer returns the initial stack pointer.
func (s *AddressSpace) StackPointer() uint32 {
	return image.StackTop
}

// Regions returns a copy of the regions in address order.
func (s *AddressSpace) Regions() []Region {
	ret := make([]Region, 0, len(s.regions))
	for _, region := range s.regions {
		ret = append(ret, *region)
	}
	return ret
}

// ResidentPages returns the number of mapped pages.
func (s *AddressSpace) ResidentPages() int {
	return len(s.pages)
}

// Heap returns the heap allocator.
func (s *AddressSpace) Heap() *heap.Allocator {
	return s.heap
}

// HeapBase returns the first heap address.
func (s *AddressSpace) HeapBase() uint32 {
	return s.heapRegion.Base
}

// Destroyed reports whether the backing storage has been released.
func (s *AddressSpace) Destroyed() bool {
	return s.destroyed
}

func (s *AddressSpace) addRegion(region *Region) error {
	for _, existing := range s.regions {
		if region.Base < existing.Base+existing.Length && existing.Base < region.Base+region.Length {
			return errors.Errorf("%v region [%#x,%#x) overlaps %v region [%#x,%#x)", region.Kind, region.Base, region.End(), existing.Kind, existing.Base, existing.End())
		}
	}
	s.regions = append(s.regions, region)
	sort.Slice(s.regions, func(i, j int) bool { return s.regions[i].Base < s.regions[j].Base })
	return nil
}

func (s *AddressSpace) regionOf(addr uint32) *Region {
	for _, region := range s.regions {
		if region.Contains(addr) {
			return region
		}
	}
	return nil
}

// translate resolves addr for the given access, mapping a zero page on
// first touch. faulted reports whether a page had to be mapped.
func (s *AddressSpace) translate(addr uint32, access Perm) (ppn int, perm Perm, faulted bool, err error) {
	if s.destroyed {
		return 0, 0, false, &Fault{Addr: addr, Access: access, Reason: "address space destroyed", Err: ErrDestroyed}
	}
	region := s.regionOf(addr)
	if region == nil {
		return 0, 0, false, &Fault{Addr: addr, Access: access, Reason: "unmapped address"}
	}
	if region.Perm&access != access {
		return 0, 0, false, &Fault{Addr: addr, Access: access, Reason: "access to " + region.Kind.String() + " region (" + region.Perm.String() + ")"}
	}
	vpn := addr / PageSize
	if ppn, ok := s.pages[vpn]; ok {
		return ppn, region.Perm, false, nil
	}
	if ppn, err = s.pool.Allocate(); err != nil {
		return 0, 0, false, &Fault{Addr: addr, Access: access, Reason: "no free frame", Err: err}
	}
	s.pages[vpn] = ppn
	return ppn, region.Perm, true, nil
}

// transfer walks [addr, addr+n) page by page with user access checks.
func (s *AddressSpace) transfer(addr uint32, n int, access Perm, fn func(frame []byte, done int)) error {
	if n < 0 || uint64(addr)+uint64(n) > 1<<32 {
		return &Fault{Addr: addr, Access: access, Reason: "range wraps address space"}
	}
	done := 0
	for done < n {
		current := addr + uint32(done)
		ppn, _, _, err := s.translate(current, access)
		if err != nil {
			return err
		}
		offset := current % PageSize
		chunk := PageSize - int(offset)
		if chunk > n-done {
			chunk = n - done
		}
		fn(s.pool.Frame(ppn)[offset:int(offset)+chunk], done)
		done += chunk
	}
	return nil
}

// Read copies n bytes at addr out of the address space.
func (s *AddressSpace) Read(addr uint32, n int) ([]byte, error) {
	ret := make([]byte, n)
	err := s.transfer(addr, n, PermRead, func(frame []byte, done int) {
		copy(ret[done:], frame)
	})
	return ret, err
}

// Write copies data into the address space at addr.
func (s *AddressSpace) Write(addr uint32, data []byte) error {
	return s.transfer(addr, len(data), PermWrite, func(frame []byte, done int) {
		copy(frame, data[done:])
	})
}

// Writable checks that [addr, addr+n) accepts user writes, mapping
// untouched pages the way a write would.
func (s *AddressSpace) Writable(addr uint32, n int) error {
	return s.transfer(addr, n, PermWrite, func([]byte, int) {})
}

// ReadWord reads a little endian word.
func (s *AddressSpace) ReadWord(addr uint32) (int32, error) {
	data, err := s.Read(addr, 4)
	if err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(data)), nil
}

// WriteWord writes a little endian word.
func (s *AddressSpace) WriteWord(addr uint32, value int32) error {
	data := make([]byte, 4)
	binary.LittleEndian.PutUint32(data, uint32(value))
	return s.Write(addr, data)
}

// ReadString reads a NUL terminated string of at most limit bytes.
func (s *AddressSpace) ReadString(addr uint32, limit int) (string, error) {
	var ret []byte
	for len(ret) < limit {
		chunk := PageSize - int((addr+uint32(len(ret)))%PageSize)
		if chunk > limit-len(ret) {
			chunk = limit - len(ret)
		}
		data, err := s.Read(addr+uint32(len(ret)), chunk)
		if err != nil {
			return "", err
		}
		for i, b := range data {
			if b == 0 {
				return string(append(ret, data[:i]...)), nil
			}
		}
		ret = append(ret, data...)
	}
	return "", errors.Errorf("string at %#x longer than %d bytes", addr, limit)
}

// poke writes data ignoring region permissions; used while loading.
func (s *AddressSpace) poke(addr uint32, data []byte) error {
	for done := 0; done < len(data); {
		current := addr + uint32(done)
		vpn := current / PageSize
		ppn, ok := s.pages[vpn]
		if !ok {
			var err error
			if ppn, err = s.pool.Allocate(); err != nil {
				return err
			}
			s.pages[vpn] = ppn
		}
		offset := current % PageSize
		done += copy(s.pool.Frame(ppn)[offset:], data[done:])
	}
	return nil
}

// Allocate reserves size bytes of heap and returns the block address. The
// heap region grows to cover the block; frames are only mapped on touch.
func (s *AddressSpace) Allocate(size uint32) (uint32, error) {
	if s.destroyed {
		return 0, ErrDestroyed
	}
	offset, err := s.heap.Allocate(size)
	if err != nil {
		if errors.Is(err, heap.ErrOutOfMemory) {
			return 0, errors.WithMessage(ErrOutOfMemory, err.Error())
		}
		return 0, err
	}
	s.heapRegion.Length = alignUp(s.heap.HighWater())
	return s.heapRegion.Base + offset, nil
}

// Release frees the heap block at addr. Pages lying entirely inside the
// resulting free interval are returned to the frame pool.
func (s *AddressSpace) Release(addr uint32) error {
	if s.destroyed {
		return ErrDestroyed
	}
	base := s.heapRegion.Base
	if addr < base || addr-base >= s.heap.Ceiling() {
		return errors.Wrapf(ErrInvalidPointer, "%#x outside heap", addr)
	}
	interval, err := s.heap.Release(addr - base)
	if err != nil {
		return errors.Wrapf(ErrInvalidPointer, "%#x: %v", addr, err)
	}
	s.unmap(alignUp(base+interval.Offset), alignDown(base+interval.End()))
	s.heapRegion.Length = alignUp(s.heap.HighWater())
	return nil
}

func (s *AddressSpace) unmap(from, to uint32) {
	if from >= to {
		return
	}
	first, last := from/PageSize, to/PageSize
	release := func(vpn uint32) {
		if ppn, ok := s.pages[vpn]; ok {
			s.pool.Release(ppn)
			delete(s.pages, vpn)
			s.generation++
		}
	}
	if int(last-first) > len(s.pages) {
		for vpn := range s.pages {
			if vpn >= first && vpn < last {
				release(vpn)
			}
		}
		return
	}
	for vpn := first; vpn < last; vpn++ {
		release(vpn)
	}
}

// Duplicate returns a deep copy of every region at the same virtual
// addresses. Frame availability is checked up front so a shortage leaves
// both the pool and the source untouched.
func (s *AddressSpace) Duplicate() (*AddressSpace, error) {
	if s.destroyed {
		return nil, ErrDestroyed
	}
	if available := s.pool.Available(); available < len(s.pages) {
		return nil, errors.Wrapf(ErrOutOfMemory, "duplicate needs %d frames, %d available", len(s.pages), available)
	}
	ret := &AddressSpace{
		pool:   s.pool,
		layout: s.layout,
		heap:   s.heap.Clone(),
		pages:  make(map[uint32]int, len(s.pages)),
		entry:  s.entry,
		argc:   s.argc,
	}
	for _, region := range s.regions {
		clone := *region
		ret.regions = append(ret.regions, &clone)
		if region == s.heapRegion {
			ret.heapRegion = &clone
		}
	}
	for vpn, ppn := range s.pages {
		target, err := s.pool.Allocate()
		if err != nil {
			ret.Destroy()
			return nil, err
		}
		copy(s.pool.Frame(target), s.pool.Frame(ppn))
		ret.pages[vpn] = target
	}
	return ret, nil
}

// Destroy releases every frame. It is safe to call more than once.
func (s *AddressSpace) Destroy() {
	if s.destroyed {
		return
	}
	for _, ppn := range s.pages {
		s.pool.Release(ppn)
	}
	s.pages = map[uint32]int{}
	s.destroyed = true
	s.generation++
}
