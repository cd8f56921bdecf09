package heap

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocator_Allocate(t *testing.T) {
	testCases := []struct {
		description string
		ceiling     uint32
		sizes       []uint32
		expect      []uint32
		expectErr   error
	}{
		{
			description: "word aligned sequential blocks",
			ceiling:     1024,
			sizes:       []uint32{1, 4, 7, 8},
			expect:      []uint32{0, 4, 8, 16},
		},
		{
			description: "exact fit",
			ceiling:     64,
			sizes:       []uint32{32, 32},
			expect:      []uint32{0, 32},
		},
		{
			description: "exhausted",
			ceiling:     64,
			sizes:       []uint32{32, 32, 4},
			expect:      []uint32{0, 32},
			expectErr:   ErrOutOfMemory,
		},
		{
			description: "zero size",
			ceiling:     64,
			sizes:       []uint32{0},
			expectErr:   ErrInvalidSize,
		},
		{
			description: "over ceiling",
			ceiling:     64,
			sizes:       []uint32{65},
			expectErr:   ErrInvalidSize,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			allocator := New(tc.ceiling)
			var actual []uint32
			var err error
			for _, size := range tc.sizes {
				var offset uint32
				if offset, err = allocator.Allocate(size); err != nil {
					break
				}
				actual = append(actual, offset)
			}
			if tc.expectErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tc.expectErr))
			} else {
				require.NoError(t, err)
			}
			assert.EqualValues(t, tc.expect, actual)
		})
	}
}

func TestAllocator_Release(t *testing.T) {
	allocator := New(4096)
	a, _ := allocator.Allocate(16)
	b, _ := allocator.Allocate(16)
	c, _ := allocator.Allocate(16)
	assert.EqualValues(t, 48, allocator.HighWater())

	// freeing a then b coalesces into one interval
	_, err := allocator.Release(a)
	require.NoError(t, err)
	merged, err := allocator.Release(b)
	require.NoError(t, err)
	assert.Equal(t, Interval{Offset: 0, Size: 32}, merged)

	// reuse picks the lowest fitting interval
	d, err := allocator.Allocate(24)
	require.NoError(t, err)
	assert.EqualValues(t, 0, d)

	// double free is rejected and does not touch live blocks
	_, err = allocator.Release(b)
	assert.True(t, errors.Is(err, ErrInvalidPointer))
	size, ok := allocator.SizeOf(c)
	assert.True(t, ok)
	assert.EqualValues(t, 16, size)

	// interior pointers are foreign
	_, err = allocator.Release(d + 4)
	assert.True(t, errors.Is(err, ErrInvalidPointer))

	// releasing the tail lowers the high water mark
	merged, err = allocator.Release(c)
	require.NoError(t, err)
	assert.Equal(t, Interval{Offset: 24, Size: 4096 - 24}, merged)
	assert.EqualValues(t, 24, allocator.HighWater())
	assert.Equal(t, 1, allocator.Live())
	assert.EqualValues(t, 24, allocator.InUse())
}

func TestAllocator_RoundTrip(t *testing.T) {
	allocator := New(256 << 20)
	p, err := allocator.Allocate(100 << 20)
	require.NoError(t, err)
	_, err = allocator.Release(p)
	require.NoError(t, err)
	q, err := allocator.Allocate(100 << 20)
	require.NoError(t, err)
	assert.Equal(t, p, q)
	assert.Equal(t, []Interval{{Offset: 100 << 20, Size: 156 << 20}}, allocator.FreeIntervals())
}

func TestAllocator_Clone(t *testing.T) {
	allocator := New(1024)
	a, _ := allocator.Allocate(8)
	clone := allocator.Clone()

	_, err := clone.Release(a)
	require.NoError(t, err)
	_, ok := allocator.SizeOf(a)
	assert.True(t, ok, "release in clone must not affect the original")

	b, _ := allocator.Allocate(8)
	c, _ := clone.Allocate(8)
	assert.EqualValues(t, 8, b)
	assert.EqualValues(t, 0, c)
}
