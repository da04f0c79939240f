package blockcache_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/mcu-app/pkg/blockcache"
)

func newIndex(t *testing.T, blocks, slots int) *blockcache.Index {
	t.Helper()

	idx, err := blockcache.NewIndex(make([]byte, 2*blocks), make([]byte, 2*slots))
	require.NoError(t, err)

	return idx
}

func Test_NewIndex_Marks_All_Entries_Unassigned_When_Created(t *testing.T) {
	t.Parallel()

	idx := newIndex(t, 8, 3)

	for b := range uint32(8) {
		_, ok := idx.Slot(b)
		assert.False(t, ok, "block %d", b)
	}

	assert.Equal(t, 0, idx.Occupied())
	require.NoError(t, idx.Check())
}

func Test_NewIndex_Returns_ErrGeometry_When_Array_Length_Odd(t *testing.T) {
	t.Parallel()

	_, err := blockcache.NewIndex(make([]byte, 3), make([]byte, 2))
	require.ErrorIs(t, err, blockcache.ErrGeometry)
}

func Test_Index_Assign_Clears_Previous_Owners_When_Slot_Or_Block_Reused(t *testing.T) {
	t.Parallel()

	idx := newIndex(t, 8, 3)

	idx.Assign(4, 0)
	idx.Assign(5, 1)

	// Block 4 moves to slot 1, displacing block 5.
	idx.Assign(4, 1)

	_, ok := idx.Slot(5)
	assert.False(t, ok)

	_, ok = idx.Block(0)
	assert.False(t, ok)

	slot, ok := idx.Slot(4)
	require.True(t, ok)
	assert.Equal(t, uint16(1), slot)

	if got, want := idx.Occupied(), 1; got != want {
		t.Fatalf("occupied=%d, want=%d", got, want)
	}

	require.NoError(t, idx.Check())
}

func Test_Index_Unassign_Reports_False_When_Block_Not_Cached(t *testing.T) {
	t.Parallel()

	idx := newIndex(t, 8, 3)

	assert.False(t, idx.Unassign(2))
	assert.False(t, idx.Unassign(100))

	idx.Assign(2, 2)
	assert.True(t, idx.Unassign(2))

	_, ok := idx.Block(2)
	assert.False(t, ok)
}

func Test_Index_Assign_Panics_When_Out_Of_Range(t *testing.T) {
	t.Parallel()

	idx := newIndex(t, 4, 2)

	assert.Panics(t, func() { idx.Assign(4, 0) })
	assert.Panics(t, func() { idx.Assign(0, 2) })
}

func Test_Index_Check_Returns_ErrIndexCorrupt_When_Maps_Disagree(t *testing.T) {
	t.Parallel()

	blocks := make([]byte, 2*4)
	slots := make([]byte, 2*2)

	idx, err := blockcache.NewIndex(blocks, slots)
	require.NoError(t, err)

	idx.Assign(1, 0)

	// Point block 1 at slot 1 behind the index's back.
	blocks[2], blocks[3] = 1, 0

	require.ErrorIs(t, idx.Check(), blockcache.ErrIndexCorrupt)
}

func Test_Index_Reset_Empties_Both_Maps_When_Called(t *testing.T) {
	t.Parallel()

	idx := newIndex(t, 4, 2)
	idx.Assign(0, 0)
	idx.Assign(3, 1)

	idx.Reset()

	assert.Equal(t, 0, idx.Occupied())

	_, ok := idx.Slot(3)
	assert.False(t, ok)
	require.NoError(t, idx.Check())
}
