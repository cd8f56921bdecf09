package vm

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/viant/nanokernel/model/image"
	"github.com/viant/nanokernel/runtime/heap"
)

// CreateFromImage decodes a program image and builds a fresh address space:
// code (read, execute), data and bss (read, write), an empty heap, a fixed
// stack and one argument page holding argv pointers followed by the
// argument strings. Any failure releases what was built and returns a
// LoadError.
func CreateFromImage(pool *FramePool, layout Layout, data []byte, args []string) (*AddressSpace, error) {
	img, err := image.Decode(data)
	if err != nil {
		return nil, &LoadError{Err: err}
	}
	ret, err := build(pool, layout, img, args)
	if err != nil {
		return nil, &LoadError{Err: err}
	}
	return ret, nil
}

func build(pool *FramePool, layout Layout, img *image.Image, args []string) (*AddressSpace, error) {
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	argPage, err := marshalArgs(args)
	if err != nil {
		return nil, err
	}
	codeBase, dataBase := image.CodeBase, img.DataBase()
	heapBase := alignUp(img.DataEnd())
	stackBase := image.StackTop - layout.StackSize
	if uint64(heapBase)+uint64(layout.HeapCeiling) > uint64(stackBase) {
		return nil, errors.Errorf("heap [%#x,+%d) collides with stack at %#x", heapBase, layout.HeapCeiling, stackBase)
	}
	// code, data and the argument page are materialised eagerly
	needed := int(alignUp(uint32(len(img.Code)))/PageSize) + int((alignUp(dataBase+uint32(len(img.Data)))-dataBase)/PageSize) + 1
	if available := pool.Available(); available < needed {
		return nil, errors.Wrapf(ErrOutOfMemory, "image needs %d frames, %d available", needed, available)
	}

	ret := &AddressSpace{
		pool:   pool,
		layout: layout,
		heap:   heap.New(layout.HeapCeiling),
		pages:  map[uint32]int{},
		entry:  img.EntryPoint(),
		argc:   len(args),
	}
	ret.heapRegion = &Region{Kind: KindHeap, Base: heapBase, Perm: PermRead | PermWrite}
	regions := []*Region{
		{Kind: KindCode, Base: codeBase, Length: alignUp(uint32(len(img.Code))), Perm: PermRead | PermExec},
		ret.heapRegion,
		{Kind: KindStack, Base: stackBase, Length: layout.StackSize, Perm: PermRead | PermWrite},
		{Kind: KindArgs, Base: image.StackTop, Length: PageSize, Perm: PermRead | PermWrite},
	}
	if dataLen := heapBase - dataBase; dataLen > 0 {
		regions = append(regions, &Region{Kind: KindData, Base: dataBase, Length: dataLen, Perm: PermRead | PermWrite})
	}
	for _, region := range regions {
		if err := ret.addRegion(region); err != nil {
			return nil, err
		}
	}
	for _, section := range []struct {
		base uint32
		data []byte
	}{{codeBase, img.Code}, {dataBase, img.Data}, {image.StackTop, argPage}} {
		if err := ret.poke(section.base, section.data); err != nil {
			ret.Destroy()
			return nil, err
		}
	}
	return ret, nil
}

// marshalArgs lays out the argument page: argc+1 word pointers (NULL
// terminated) followed by the NUL terminated strings.
func marshalArgs(args []string) ([]byte, error) {
	size := 4 * (len(args) + 1)
	for _, arg := range args {
		size += len(arg) + 1
	}
	if size > PageSize {
		return nil, errors.Errorf("argument list too long: %d bytes", size)
	}
	ret := make([]byte, size)
	next := uint32(4 * (len(args) + 1))
	for i, arg := range args {
		binary.LittleEndian.PutUint32(ret[4*i:], image.StackTop+next)
		copy(ret[next:], arg)
		next += uint32(len(arg)) + 1
	}
	return ret, nil
}
