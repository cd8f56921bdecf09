package vm

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/nanokernel/model/image"
	"github.com/viant/nanokernel/model/isa"
)

func TestMMU_Activate(t *testing.T) {
	pool := NewFramePool(64)
	first := newSpace(t, pool)
	second, err := first.Duplicate()
	require.NoError(t, err)

	mmu, err := NewMMU(8)
	require.NoError(t, err)

	mmu.Activate(first)
	require.NoError(t, mmu.StoreWord(0x2000, 10))
	mmu.Activate(second)
	require.NoError(t, mmu.StoreWord(0x2000, 20))

	mmu.Activate(first)
	value, err := mmu.LoadWord(0x2000)
	require.NoError(t, err)
	assert.EqualValues(t, 10, value)
	mmu.Activate(second)
	value, err = mmu.LoadWord(0x2000)
	require.NoError(t, err)
	assert.EqualValues(t, 20, value)
}

func TestMMU_Access(t *testing.T) {
	pool := NewFramePool(64)
	space := newSpace(t, pool)
	mmu, err := NewMMU(8)
	require.NoError(t, err)

	_, err = mmu.Fetch(image.CodeBase)
	assert.Error(t, err, "no active space")

	mmu.Activate(space)
	instruction, err := mmu.Fetch(image.CodeBase)
	require.NoError(t, err)
	assert.Equal(t, isa.OpLi, instruction.Op)
	_, err = mmu.Fetch(image.CodeBase + 8)
	require.NoError(t, err)
	stats := mmu.Stats()
	assert.EqualValues(t, 1, stats.Hits)
	assert.EqualValues(t, 1, stats.Misses)

	testCases := []struct {
		description string
		run         func() error
	}{
		{description: "fetch from data", run: func() error { _, err := mmu.Fetch(0x2000); return err }},
		{description: "misaligned fetch", run: func() error { _, err := mmu.Fetch(image.CodeBase + 4); return err }},
		{description: "misaligned word", run: func() error { _, err := mmu.LoadWord(0x2001); return err }},
		{description: "store to code", run: func() error { return mmu.StoreByte(image.CodeBase, 1) }},
		{description: "fetch past code", run: func() error { _, err := mmu.Fetch(image.CodeBase + PageSize); return err }},
	}
	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			err := tc.run()
			fault := &Fault{}
			assert.True(t, errors.As(err, &fault), tc.description)
		})
	}

	require.NoError(t, mmu.StoreByte(image.StackTop-1, 'x'))
	b, err := mmu.LoadByte(image.StackTop - 1)
	require.NoError(t, err)
	assert.Equal(t, byte('x'), b)
	assert.EqualValues(t, 1, mmu.Stats().PageFaults)
}

func TestMMU_Unmap(t *testing.T) {
	pool := NewFramePool(64)
	space := newSpace(t, pool)
	mmu, err := NewMMU(8)
	require.NoError(t, err)
	mmu.Activate(space)

	ptr, err := space.Allocate(3 * PageSize)
	require.NoError(t, err)
	require.NoError(t, mmu.StoreWord(ptr+PageSize, 5))
	require.NoError(t, space.Release(ptr))

	// the cached translation must not survive the unmap
	_, err = mmu.LoadWord(ptr + PageSize)
	assert.Error(t, err)
}
