package vm

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/viant/nanokernel/model/image"
)

// PageSize is the size of a page and of a physical frame.
const PageSize = image.PageSize

// FramePool hands out physical page frames up to a fixed system-wide limit.
// Frames are materialised on first use and recycled through a free list.
type FramePool struct {
	mu     sync.Mutex
	limit  int
	frames [][]byte
	free   []int
	used   int
	peak   int
}

// NewFramePool creates a pool of at most limit frames.
func NewFramePool(limit int) *FramePool {
	return &FramePool{limit: limit}
}

// Allocate returns a zeroed frame.
func (p *FramePool) Allocate() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.used >= p.limit {
		return 0, errors.Wrapf(ErrOutOfMemory, "all %d frames in use", p.limit)
	}
	var ppn int
	if n := len(p.free); n > 0 {
		ppn = p.free[n-1]
		p.free = p.free[:n-1]
	} else {
		ppn = len(p.frames)
		p.frames = append(p.frames, make([]byte, PageSize))
	}
	p.used++
	if p.used > p.peak {
		p.peak = p.used
	}
	return ppn, nil
}

// Release returns a frame to the pool.
func (p *FramePool) Release(ppn int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	clear(p.frames[ppn])
	p.free = append(p.free, ppn)
	p.used--
}

// Frame returns the backing storage of a frame.
func (p *FramePool) Frame(ppn int) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frames[ppn]
}

// Available returns the number of frames that can still be allocated.
func (p *FramePool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.limit - p.used
}

// InUse returns the number of allocated frames.
func (p *FramePool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.used
}

// Peak returns the highest number of frames in use at once.
func (p *FramePool) Peak() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peak
}

// Limit returns the pool capacity.
func (p *FramePool) Limit() int {
	return p.limit
}
