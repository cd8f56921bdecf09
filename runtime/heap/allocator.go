package heap

import (
	"sort"

	"github.com/pkg/errors"
	"github.com/viant/nanokernel/model/isa"
)

var (
	// ErrOutOfMemory is returned when no free interval can hold a request.
	ErrOutOfMemory = errors.New("heap: out of memory")
	// ErrInvalidPointer is returned when releasing an offset that is not the
	// head of a live allocation.
	ErrInvalidPointer = errors.New("heap: invalid pointer")
	// ErrInvalidSize is returned for zero or oversize requests.
	ErrInvalidSize = errors.New("heap: invalid size")
)

// Interval is a half open byte range [Offset, Offset+Size) of the heap.
type Interval struct {
	Offset uint32
	Size   uint32
}

// End returns the first offset past the interval.
func (i Interval) End() uint32 {
	return i.Offset + i.Size
}

// Allocator manages the logical byte range of one heap using a first-fit
// free list sorted by offset. Offsets are relative to the heap base.
type Allocator struct {
	ceiling   uint32
	free      []Interval
	live      map[uint32]uint32
	inUse     uint32
	highWater uint32
}

// New creates an allocator over [0, ceiling).
func New(ceiling uint32) *Allocator {
	ceiling = ceiling &^ (isa.WordSize - 1)
	ret := &Allocator{ceiling: ceiling, live: map[uint32]uint32{}}
	if ceiling > 0 {
		ret.free = []Interval{{Offset: 0, Size: ceiling}}
	}
	return ret
}

// Allocate reserves size bytes, rounded up to the word size, and returns
// the offset of the block. The lowest fitting free interval is used so the
// result only depends on the call sequence.
func (a *Allocator) Allocate(size uint32) (uint32, error) {
	if size == 0 || size > a.ceiling {
		return 0, errors.Wrapf(ErrInvalidSize, "size %d (ceiling %d)", size, a.ceiling)
	}
	size = (size + isa.WordSize - 1) &^ (isa.WordSize - 1)
	for i := range a.free {
		candidate := &a.free[i]
		if candidate.Size < size {
			continue
		}
		offset := candidate.Offset
		candidate.Offset += size
		candidate.Size -= size
		if candidate.Size == 0 {
			a.free = append(a.free[:i], a.free[i+1:]...)
		}
		a.live[offset] = size
		a.inUse += size
		if end := offset + size; end > a.highWater {
			a.highWater = end
		}
		return offset, nil
	}
	return 0, errors.Wrapf(ErrOutOfMemory, "no free interval for %d bytes (in use %d of %d)", size, a.inUse, a.ceiling)
}

// Release frees the block starting at offset and returns the coalesced free
// interval now containing it. Releasing anything but the head of a live
// block fails with ErrInvalidPointer and leaves the allocator untouched.
func (a *Allocator) Release(offset uint32) (Interval, error) {
	size, ok := a.live[offset]
	if !ok {
		return Interval{}, errors.Wrapf(ErrInvalidPointer, "offset %#x", offset)
	}
	delete(a.live, offset)
	a.inUse -= size

	index := sort.Search(len(a.free), func(i int) bool { return a.free[i].Offset > offset })
	a.free = append(a.free, Interval{})
	copy(a.free[index+1:], a.free[index:])
	a.free[index] = Interval{Offset: offset, Size: size}

	if index+1 < len(a.free) && a.free[index].End() == a.free[index+1].Offset {
		a.free[index].Size += a.free[index+1].Size
		a.free = append(a.free[:index+1], a.free[index+2:]...)
	}
	if index > 0 && a.free[index-1].End() == a.free[index].Offset {
		a.free[index-1].Size += a.free[index].Size
		a.free = append(a.free[:index], a.free[index+1:]...)
		index--
	}
	merged := a.free[index]
	if merged.End() == a.ceiling && merged.Offset < a.highWater {
		a.highWater = merged.Offset
	}
	return merged, nil
}

// SizeOf returns the size of a live block.
func (a *Allocator) SizeOf(offset uint32) (uint32, bool) {
	size, ok := a.live[offset]
	return size, ok
}

// HighWater returns the end of the highest block ever kept live, lowered
// again when the tail of the heap is released.
func (a *Allocator) HighWater() uint32 {
	return a.highWater
}

// InUse returns the number of allocated bytes.
func (a *Allocator) InUse() uint32 {
	return a.inUse
}

// Live returns the number of live blocks.
func (a *Allocator) Live() int {
	return len(a.live)
}

// Ceiling returns the size of the managed range.
func (a *Allocator) Ceiling() uint32 {
	return a.ceiling
}

// FreeIntervals returns a copy of the free list.
func (a *Allocator) FreeIntervals() []Interval {
	return append([]Interval{}, a.free...)
}

// Clone returns an independent copy of the allocator state.
func (a *Allocator) Clone() *Allocator {
	ret := &Allocator{
		ceiling:   a.ceiling,
		free:      append([]Interval{}, a.free...),
		live:      make(map[uint32]uint32, len(a.live)),
		inUse:     a.inUse,
		highWater: a.highWater,
	}
	for k, v := range a.live {
		ret.live[k] = v
	}
	return ret
}
