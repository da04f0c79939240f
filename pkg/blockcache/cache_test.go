package blockcache_test

import (
	"bytes"
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/mcu-app/pkg/blockcache"
	"github.com/calvinalkan/mcu-app/pkg/blockdev"
)

var testGeometry = blockdev.Geometry{BlockSize: 32, BlockCount: 16}

// scriptedRand returns its values in order and then repeats the last one.
type scriptedRand struct {
	values []int
	calls  int
}

func (r *scriptedRand) IntN(n int) int {
	i := min(r.calls, len(r.values)-1)
	r.calls++

	return r.values[i] % n
}

func newCache(t *testing.T, dev blockdev.Device, slots uint32, r blockcache.Rand) *blockcache.Cache {
	t.Helper()

	c, err := blockcache.New(dev, blockcache.Options{
		Geometry:    testGeometry,
		CacheBlocks: slots,
		Rand:        r,
	})
	require.NoError(t, err)

	return c
}

func patterned(t *testing.T) *blockdev.Mem {
	t.Helper()

	image := make([]byte, testGeometry.Size())
	for i := range image {
		image[i] = byte(i * 7)
	}

	dev, err := blockdev.NewMemFrom(testGeometry, image)
	require.NoError(t, err)

	return dev
}

func Test_New_Returns_ErrGeometry_When_Options_Invalid(t *testing.T) {
	t.Parallel()

	dev := patterned(t)

	cases := []struct {
		name string
		opts blockcache.Options
	}{
		{"zero slots", blockcache.Options{Geometry: testGeometry, CacheBlocks: 0}},
		{"more slots than blocks", blockcache.Options{Geometry: testGeometry, CacheBlocks: 17}},
		{"empty geometry", blockcache.Options{CacheBlocks: 1}},
		{"too many blocks", blockcache.Options{
			Geometry:    blockdev.Geometry{BlockSize: 1, BlockCount: 0x10000},
			CacheBlocks: 1,
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := blockcache.New(dev, tc.opts)
			require.ErrorIs(t, err, blockcache.ErrGeometry)
		})
	}
}

func Test_Cache_Allocates_Nothing_When_Never_Read(t *testing.T) {
	t.Parallel()

	budget := &blockcache.Budget{Bulk: 1 << 20, Internal: 1 << 20}

	c, err := blockcache.New(patterned(t), blockcache.Options{
		Geometry:    testGeometry,
		CacheBlocks: 4,
		Allocator:   budget,
	})
	require.NoError(t, err)

	require.NoError(t, c.EraseBlock(2))

	if got, want := budget.Bulk, 1<<20; got != want {
		t.Fatalf("bulk left=%d, want=%d", got, want)
	}

	assert.Nil(t, c.Index())
}

func Test_Cache_Serves_Second_Read_From_Slot_When_Block_Cached(t *testing.T) {
	t.Parallel()

	dev := patterned(t)
	c := newCache(t, dev, 4, nil)

	first := make([]byte, 8)
	require.NoError(t, c.ReadBlock(3, 5, first))

	readsAfterMiss := dev.Stats().Reads

	second := make([]byte, 8)
	require.NoError(t, c.ReadBlock(3, 5, second))

	if got, want := dev.Stats().Reads, readsAfterMiss; got != want {
		t.Fatalf("device reads=%d, want=%d", got, want)
	}

	assert.Equal(t, first, second)

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, 1, stats.Occupied)
}

func Test_Cache_Splits_Read_When_Range_Crosses_Blocks(t *testing.T) {
	t.Parallel()

	dev := patterned(t)
	c := newCache(t, dev, 4, nil)

	got := make([]byte, 70)
	require.NoError(t, c.ReadBlock(1, 20, got))

	want := make([]byte, 70)
	require.NoError(t, dev.ReadBlock(1, 20, want))

	if !bytes.Equal(got, want) {
		t.Fatalf("read=%x, want=%x", got, want)
	}

	if got, want := c.Stats().Misses, uint64(3); got != want {
		t.Fatalf("misses=%d, want=%d", got, want)
	}
}

func Test_Cache_Normalises_Offset_When_Offset_Exceeds_Block_Size(t *testing.T) {
	t.Parallel()

	dev := patterned(t)
	c := newCache(t, dev, 4, nil)

	got := make([]byte, 4)
	require.NoError(t, c.ReadBlock(0, 2*testGeometry.BlockSize+3, got))

	want := make([]byte, 4)
	require.NoError(t, dev.ReadBlock(2, 3, want))

	assert.Equal(t, want, got)

	slot, ok := c.Index().Slot(2)
	require.True(t, ok)
	assert.Equal(t, uint16(0), slot)
}

func Test_Cache_Passes_Read_Through_When_Block_Beyond_Cached_Geometry(t *testing.T) {
	t.Parallel()

	// The device is larger than the cached geometry.
	big := blockdev.Geometry{BlockSize: testGeometry.BlockSize, BlockCount: 2 * testGeometry.BlockCount}

	dev, err := blockdev.NewMem(big)
	require.NoError(t, err)

	require.NoError(t, dev.ProgramBlock(testGeometry.BlockCount+1, 0, []byte("tail")))

	c := newCache(t, dev, 4, nil)

	got := make([]byte, 4)
	require.NoError(t, c.ReadBlock(testGeometry.BlockCount+1, 0, got))

	assert.Equal(t, []byte("tail"), got)

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Passthrough)
	assert.Equal(t, 0, stats.Occupied)
}

func Test_Cache_Passes_Remainder_Through_When_Read_Runs_Past_Cached_Geometry(t *testing.T) {
	t.Parallel()

	big := blockdev.Geometry{BlockSize: testGeometry.BlockSize, BlockCount: testGeometry.BlockCount + 1}

	dev, err := blockdev.NewMem(big)
	require.NoError(t, err)

	c := newCache(t, dev, 4, nil)

	buf := make([]byte, 2*testGeometry.BlockSize)
	require.NoError(t, c.ReadBlock(testGeometry.BlockCount-1, 0, buf))

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, uint64(1), stats.Passthrough)
	assert.Equal(t, 1, stats.Occupied)
}

func Test_Cache_Returns_Device_Error_When_Read_Past_Device_End(t *testing.T) {
	t.Parallel()

	c := newCache(t, patterned(t), 4, nil)

	err := c.ReadBlock(testGeometry.BlockCount, 0, make([]byte, 1))
	require.ErrorIs(t, err, blockdev.ErrOutOfRange)
}

func Test_Cache_Replaces_Chosen_Slot_When_Full(t *testing.T) {
	t.Parallel()

	dev := patterned(t)
	r := &scriptedRand{values: []int{1}}
	c := newCache(t, dev, 2, r)

	buf := make([]byte, 1)
	require.NoError(t, c.ReadBlock(0, 0, buf)) // slot 0
	require.NoError(t, c.ReadBlock(1, 0, buf)) // slot 1
	require.NoError(t, c.ReadBlock(5, 0, buf)) // replaces slot 1

	idx := c.Index()

	_, ok := idx.Slot(1)
	assert.False(t, ok, "block 1 should have been replaced")

	slot, ok := idx.Slot(5)
	require.True(t, ok)
	assert.Equal(t, uint16(1), slot)

	slot, ok = idx.Slot(0)
	require.True(t, ok)
	assert.Equal(t, uint16(0), slot)

	assert.Equal(t, 1, r.calls)
	assert.Equal(t, uint64(1), c.Stats().Replacements)
	require.NoError(t, c.Check())
}

func Test_Cache_Evicts_Block_When_Programmed(t *testing.T) {
	t.Parallel()

	dev, err := blockdev.NewMem(testGeometry)
	require.NoError(t, err)

	c := newCache(t, dev, 4, nil)

	buf := make([]byte, 4)
	require.NoError(t, c.ReadBlock(2, 0, buf))
	assert.Equal(t, []byte{0xFF, 0xFF, 0xFF, 0xFF}, buf)

	require.NoError(t, c.ProgramBlock(2, 1, []byte{0x12}))
	require.NoError(t, c.ReadBlock(2, 0, buf))

	assert.Equal(t, []byte{0xFF, 0x12, 0xFF, 0xFF}, buf)
	assert.Equal(t, uint64(1), c.Stats().Invalidations)
}

func Test_Cache_Evicts_Every_Touched_Block_When_Program_Spans_Blocks(t *testing.T) {
	t.Parallel()

	dev, err := blockdev.NewMem(testGeometry)
	require.NoError(t, err)

	c := newCache(t, dev, 8, nil)

	buf := make([]byte, 4*testGeometry.BlockSize)
	require.NoError(t, c.ReadBlock(0, 0, buf))

	// Bytes 30..33 of block 1 touch blocks 1 and 2 only.
	require.NoError(t, c.ProgramBlock(1, testGeometry.BlockSize-2, []byte{0, 0, 0, 0}))

	idx := c.Index()

	for block, cached := range []bool{true, false, false, true} {
		_, ok := idx.Slot(uint32(block))
		if got, want := ok, cached; got != want {
			t.Fatalf("block %d cached=%v, want=%v", block, got, want)
		}
	}
}

func Test_Cache_Evicts_Block_When_Erased(t *testing.T) {
	t.Parallel()

	dev := patterned(t)
	c := newCache(t, dev, 4, nil)

	buf := make([]byte, 4)
	require.NoError(t, c.ReadBlock(6, 0, buf))
	require.NoError(t, c.EraseBlock(6))
	require.NoError(t, c.ReadBlock(6, 0, buf))

	assert.Equal(t, []byte{0xFF, 0xFF, 0xFF, 0xFF}, buf)
}

func Test_Cache_Ignores_Evict_When_Range_Past_Device_End(t *testing.T) {
	t.Parallel()

	c := newCache(t, patterned(t), 4, nil)

	require.NoError(t, c.ReadBlock(testGeometry.BlockCount-1, 0, make([]byte, 1)))

	c.Evict(testGeometry.BlockCount-1, 0, 10*int(testGeometry.BlockSize))

	assert.Equal(t, 0, c.Stats().Occupied)
	require.NoError(t, c.Check())
}

func Test_Cache_Leaves_Index_Clean_When_Device_Read_Fails(t *testing.T) {
	t.Parallel()

	faulty := blockdev.NewFaulty(patterned(t))
	c := newCache(t, faulty, 4, nil)

	faulty.Inject(blockdev.FailBlock(blockdev.OpRead, 3))

	err := c.ReadBlock(3, 0, make([]byte, 4))
	require.Error(t, err)
	assert.True(t, blockdev.IsInjected(err), "device error must be returned unchanged")

	_, ok := c.Index().Slot(3)
	assert.False(t, ok)
	require.NoError(t, c.Check())

	faulty.Reset()

	got := make([]byte, 4)
	require.NoError(t, c.ReadBlock(3, 0, got))

	want := make([]byte, 4)
	require.NoError(t, faulty.ReadBlock(3, 0, want))
	assert.Equal(t, want, got)
}

func Test_Cache_Disables_Itself_When_Bulk_Allocation_Fails(t *testing.T) {
	t.Parallel()

	dev := patterned(t)

	c, err := blockcache.New(dev, blockcache.Options{
		Geometry:    testGeometry,
		CacheBlocks: 4,
		Allocator:   &blockcache.Budget{Bulk: 10, Internal: 1 << 10},
	})
	require.NoError(t, err)

	got := make([]byte, 16)
	require.NoError(t, c.ReadBlock(4, 0, got))
	require.NoError(t, c.ReadBlock(4, 0, got))

	want := make([]byte, 16)
	require.NoError(t, dev.ReadBlock(4, 0, want))
	assert.Equal(t, want, got)

	stats := c.Stats()
	assert.True(t, stats.Disabled)
	assert.Equal(t, uint64(2), stats.Passthrough)
	require.ErrorIs(t, c.InitErr(), blockcache.ErrNoMemory)

	require.NoError(t, c.ProgramBlock(4, 0, []byte{0}))
}

func Test_Cache_Disables_Itself_When_Index_Allocation_Fails(t *testing.T) {
	t.Parallel()

	c, err := blockcache.New(patterned(t), blockcache.Options{
		Geometry:    testGeometry,
		CacheBlocks: 4,
		// Enough for the block map but not the slot map.
		Allocator: &blockcache.Budget{Bulk: 1 << 10, Internal: 2 * int(testGeometry.BlockCount)},
	})
	require.NoError(t, err)

	require.NoError(t, c.ReadBlock(0, 0, make([]byte, 1)))

	require.ErrorIs(t, c.InitErr(), blockcache.ErrNoMemory)
	assert.Nil(t, c.Index())
}

func Test_Cache_Refills_From_Slot_Zero_When_Invalidated(t *testing.T) {
	t.Parallel()

	c := newCache(t, patterned(t), 2, &scriptedRand{values: []int{0}})

	buf := make([]byte, 1)
	require.NoError(t, c.ReadBlock(0, 0, buf))
	require.NoError(t, c.ReadBlock(1, 0, buf))

	c.InvalidateAll()
	assert.Equal(t, 0, c.Stats().Occupied)

	require.NoError(t, c.ReadBlock(9, 0, buf))

	slot, ok := c.Index().Slot(9)
	require.True(t, ok)
	assert.Equal(t, uint16(0), slot)
}

// Random reads, programs and erases through the cache must observe exactly
// what a second, uncached device holds.
func Test_Cache_Matches_Uncached_Device_When_Operations_Random(t *testing.T) {
	t.Parallel()

	for _, seed := range []uint64{1, 2, 3, 42, 1337} {
		rng := rand.New(rand.NewPCG(seed, seed^0x9E3779B97F4A7C15))

		cached, err := blockdev.NewMem(testGeometry)
		require.NoError(t, err)

		plain, err := blockdev.NewMem(testGeometry)
		require.NoError(t, err)

		c := newCache(t, cached, 3, rand.New(rand.NewPCG(seed, seed)))
		size := int(testGeometry.Size())

		for step := range 2000 {
			pos := rng.IntN(size)
			n := 1 + rng.IntN(min(size-pos, 3*int(testGeometry.BlockSize)))
			block := uint32(pos) / testGeometry.BlockSize
			off := uint32(pos) % testGeometry.BlockSize

			switch op := rng.IntN(10); {
			case op < 6:
				got := make([]byte, n)
				want := make([]byte, n)

				require.NoError(t, c.ReadBlock(block, off, got))
				require.NoError(t, plain.ReadBlock(block, off, want))

				if !bytes.Equal(got, want) {
					t.Fatalf("seed=%d step=%d read(%d,%d,%d)=%x, want=%x", seed, step, block, off, n, got, want)
				}
			case op < 9:
				data := make([]byte, n)
				for i := range data {
					data[i] = byte(rng.Uint32())
				}

				require.NoError(t, c.ProgramBlock(block, off, data))
				require.NoError(t, plain.ProgramBlock(block, off, data))
			default:
				require.NoError(t, c.EraseBlock(block))
				require.NoError(t, plain.EraseBlock(block))
			}

			err := c.Check()
			if err != nil {
				t.Fatalf("seed=%d step=%d: %v", seed, step, err)
			}

			if got, limit := c.Stats().Occupied, c.Capacity(); got > limit {
				t.Fatalf("seed=%d step=%d occupied=%d, want<=%d", seed, step, got, limit)
			}
		}

		if !bytes.Equal(cached.Bytes(), plain.Bytes()) {
			t.Fatalf("seed=%d: device contents diverged", seed)
		}
	}
}

func Test_Cache_Returns_Device_Error_When_Program_Fails(t *testing.T) {
	t.Parallel()

	faulty := blockdev.NewFaulty(patterned(t))
	c := newCache(t, faulty, 4, nil)

	require.NoError(t, c.ReadBlock(2, 0, make([]byte, 1)))

	faulty.Inject(blockdev.FailAll(blockdev.OpProgram))

	err := c.ProgramBlock(2, 0, []byte{0})
	require.True(t, errors.Is(err, blockdev.ErrInjected))

	// Eviction happened before the failed program.
	_, ok := c.Index().Slot(2)
	assert.False(t, ok)
}
