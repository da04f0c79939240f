package flashfs_test

import (
	"bytes"
	"errors"
	"io"
	"os"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/mcu-app/pkg/blockcache"
	"github.com/calvinalkan/mcu-app/pkg/blockdev"
	"github.com/calvinalkan/mcu-app/pkg/flashfs"
)

var testGeometry = blockdev.Geometry{BlockSize: 256, BlockCount: 16}

func newDevice(t *testing.T) *blockdev.Mem {
	t.Helper()

	dev, err := blockdev.NewMem(testGeometry)
	require.NoError(t, err)

	return dev
}

func mounted(t *testing.T, dev blockdev.Device) *flashfs.FS {
	t.Helper()

	fsys := flashfs.New(dev, testGeometry, flashfs.Options{FormatOnFail: true})
	require.NoError(t, fsys.Mount())

	return fsys
}

func remount(t *testing.T, dev blockdev.Device) *flashfs.FS {
	t.Helper()

	fsys := flashfs.New(dev, testGeometry, flashfs.Options{})
	require.NoError(t, fsys.Mount())

	return fsys
}

func Test_Mount_Returns_ErrCorrupt_When_Device_Blank(t *testing.T) {
	t.Parallel()

	fsys := flashfs.New(newDevice(t), testGeometry, flashfs.Options{})

	err := fsys.Mount()
	require.ErrorIs(t, err, flashfs.ErrCorrupt)
	assert.False(t, fsys.Mounted())
}

func Test_Mount_Formats_Device_When_FormatOnFail_Set(t *testing.T) {
	t.Parallel()

	dev := newDevice(t)
	fsys := mounted(t, dev)

	infos, err := fsys.ReadDir("/")
	require.NoError(t, err)
	assert.Empty(t, infos)

	vol, err := fsys.Volume()
	require.NoError(t, err)

	// The formatted volume is found again without FormatOnFail.
	again := remount(t, dev)

	got, err := again.Volume()
	require.NoError(t, err)
	assert.Equal(t, vol, got)
}

func Test_Mount_Does_Not_Format_When_Metadata_Read_Fails(t *testing.T) {
	t.Parallel()

	faulty := blockdev.NewFaulty(newDevice(t))
	faulty.Inject(blockdev.FailAll(blockdev.OpRead))

	fsys := flashfs.New(faulty, testGeometry, flashfs.Options{FormatOnFail: true})

	err := fsys.Mount()
	require.Error(t, err)
	assert.True(t, blockdev.IsInjected(err))
	assert.False(t, errors.Is(err, flashfs.ErrCorrupt))

	if got, want := faulty.Calls(blockdev.OpErase), 0; got != want {
		t.Fatalf("erases=%d, want=%d", got, want)
	}
}

func Test_Mount_Returns_ErrGeometry_When_Device_Too_Small(t *testing.T) {
	t.Parallel()

	geo := blockdev.Geometry{BlockSize: 256, BlockCount: 2}

	dev, err := blockdev.NewMem(geo)
	require.NoError(t, err)

	err = flashfs.New(dev, geo, flashfs.Options{FormatOnFail: true}).Mount()
	require.ErrorIs(t, err, flashfs.ErrGeometry)
}

func Test_WriteFile_Persists_Contents_When_Remounted(t *testing.T) {
	t.Parallel()

	dev := newDevice(t)
	fsys := mounted(t, dev)

	data := bytes.Repeat([]byte("0123456789"), 70) // spans three blocks
	require.NoError(t, fsys.WriteFile("/data.bin", data))
	require.NoError(t, fsys.WriteFile("/empty", nil))
	require.NoError(t, fsys.Unmount())

	again := remount(t, dev)

	got, err := again.ReadFile("/data.bin")
	require.NoError(t, err)

	if !bytes.Equal(got, data) {
		t.Fatalf("contents differ after remount: got %d bytes, want %d", len(got), len(data))
	}

	got, err = again.ReadFile("/empty")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func Test_WriteFile_Keeps_Old_Contents_When_Program_Fails(t *testing.T) {
	t.Parallel()

	faulty := blockdev.NewFaulty(newDevice(t))
	fsys := mounted(t, faulty)

	require.NoError(t, fsys.WriteFile("/config.cbor", []byte("old")))

	faulty.Inject(blockdev.FailAll(blockdev.OpProgram))

	err := fsys.WriteFile("/config.cbor", []byte("new"))
	require.Error(t, err)
	assert.True(t, blockdev.IsInjected(err))

	faulty.Reset()

	got, err := fsys.ReadFile("/config.cbor")
	require.NoError(t, err)
	assert.Equal(t, []byte("old"), got)

	got, err = remount(t, faulty).ReadFile("/config.cbor")
	require.NoError(t, err)
	assert.Equal(t, []byte("old"), got)
}

func Test_Mount_Uses_Previous_Directory_When_Metadata_Commit_Torn(t *testing.T) {
	t.Parallel()

	dev := newDevice(t)
	faulty := blockdev.NewFaulty(dev)
	fsys := mounted(t, faulty)

	// format -> block 0 active; first write -> block 1 active.
	require.NoError(t, fsys.WriteFile("/a", []byte("v1")))

	// The next commit targets block 0: let the erase through, fail the
	// program, as if power was lost between the two.
	faulty.Inject(blockdev.FailBlock(blockdev.OpProgram, 0))

	err := fsys.WriteFile("/a", []byte("v2"))
	require.Error(t, err)

	got, err := remount(t, dev).ReadFile("/a")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), got)
}

func Test_Mount_Falls_Back_To_Older_Copy_When_Newest_Metadata_Corrupt(t *testing.T) {
	t.Parallel()

	dev := newDevice(t)
	fsys := mounted(t, dev)

	require.NoError(t, fsys.WriteFile("/a", []byte("v1"))) // seq 2 in block 1
	require.NoError(t, fsys.WriteFile("/b", []byte("v1"))) // seq 3 in block 0

	// Clear bits inside block 0's checksum-covered header.
	require.NoError(t, dev.ProgramBlock(0, 0x18, []byte{0x00}))

	again := remount(t, dev)

	infos, err := again.ReadDir("/")
	require.NoError(t, err)

	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name)
	}

	if diff := cmp.Diff([]string{"/a"}, names); diff != "" {
		t.Fatalf("names mismatch (-want +got):\n%s", diff)
	}
}

func Test_WriteFile_Returns_ErrNoSpace_When_No_Contiguous_Run(t *testing.T) {
	t.Parallel()

	fsys := mounted(t, newDevice(t))

	// 14 data blocks. Copy-on-write needs room for the new extent while the
	// old one is still live.
	big := make([]byte, 8*int(testGeometry.BlockSize))
	require.NoError(t, fsys.WriteFile("/big", big))

	err := fsys.WriteFile("/big", big)
	require.ErrorIs(t, err, flashfs.ErrNoSpace)

	err = fsys.WriteFile("/huge", make([]byte, testGeometry.Size()+1))
	require.ErrorIs(t, err, flashfs.ErrNoSpace)
}

func Test_WriteFile_Returns_ErrNoSpace_When_Directory_Outgrows_Metadata_Block(t *testing.T) {
	t.Parallel()

	fsys := mounted(t, newDevice(t))

	var err error

	for i := 0; i < 64 && err == nil; i++ {
		err = fsys.WriteFile("/file-with-a-fairly-long-name-"+string(rune('a'+i%26))+string(rune('a'+i/26)), nil)
	}

	require.ErrorIs(t, err, flashfs.ErrNoSpace)
}

func Test_FS_Rejects_Name_When_Not_Flat_Absolute(t *testing.T) {
	t.Parallel()

	fsys := mounted(t, newDevice(t))

	require.ErrorIs(t, fsys.WriteFile("relative", nil), flashfs.ErrInvalidName)
	require.ErrorIs(t, fsys.WriteFile("/", nil), flashfs.ErrInvalidName)
	require.ErrorIs(t, fsys.WriteFile("/dir/file", nil), flashfs.ErrUnsupported)

	_, err := fsys.ReadDir("/dir")
	require.ErrorIs(t, err, flashfs.ErrUnsupported)
}

func Test_ReadFile_Returns_ErrNotExist_When_Missing(t *testing.T) {
	t.Parallel()

	fsys := mounted(t, newDevice(t))

	_, err := fsys.ReadFile("/nope")
	require.ErrorIs(t, err, flashfs.ErrNotExist)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func Test_FS_Returns_ErrNotMounted_When_Unmounted(t *testing.T) {
	t.Parallel()

	fsys := flashfs.New(newDevice(t), testGeometry, flashfs.Options{})

	_, err := fsys.ReadFile("/x")
	require.ErrorIs(t, err, flashfs.ErrNotMounted)
	require.ErrorIs(t, fsys.WriteFile("/x", nil), flashfs.ErrNotMounted)
	require.ErrorIs(t, fsys.Unmount(), flashfs.ErrNotMounted)

	_, err = fsys.Usage()
	require.ErrorIs(t, err, flashfs.ErrNotMounted)
}

func Test_Rename_Replaces_Target_When_Target_Exists(t *testing.T) {
	t.Parallel()

	fsys := mounted(t, newDevice(t))

	require.NoError(t, fsys.WriteFile("/a", []byte("from a")))
	require.NoError(t, fsys.WriteFile("/b", []byte("from b")))
	require.NoError(t, fsys.Rename("/a", "/b"))

	_, err := fsys.Stat("/a")
	require.ErrorIs(t, err, flashfs.ErrNotExist)

	got, err := fsys.ReadFile("/b")
	require.NoError(t, err)
	assert.Equal(t, []byte("from a"), got)
}

func Test_Copy_Creates_Independent_File_When_Source_Exists(t *testing.T) {
	t.Parallel()

	fsys := mounted(t, newDevice(t))

	require.NoError(t, fsys.WriteFile("/config.cbor", []byte("primary")))
	require.NoError(t, fsys.Copy("/config.cbor", "/config.cbor~"))
	require.NoError(t, fsys.WriteFile("/config.cbor", []byte("changed")))

	got, err := fsys.ReadFile("/config.cbor~")
	require.NoError(t, err)
	assert.Equal(t, []byte("primary"), got)

	src, err := fsys.Stat("/config.cbor")
	require.NoError(t, err)

	dst, err := fsys.Stat("/config.cbor~")
	require.NoError(t, err)
	assert.NotEqual(t, src.Start, dst.Start)
}

func Test_Remove_Frees_Blocks_When_File_Deleted(t *testing.T) {
	t.Parallel()

	fsys := mounted(t, newDevice(t))

	require.NoError(t, fsys.WriteFile("/a", make([]byte, 3*testGeometry.BlockSize)))

	before, err := fsys.Usage()
	require.NoError(t, err)

	require.NoError(t, fsys.Remove("/a"))

	after, err := fsys.Usage()
	require.NoError(t, err)

	if got, want := before.UsedBlocks-after.UsedBlocks, uint32(3); got != want {
		t.Fatalf("freed=%d, want=%d", got, want)
	}

	assert.Equal(t, 0, after.Files)
	assert.Equal(t, testGeometry.Size(), after.TotalBytes())
}

func Test_Format_Empties_Mounted_FS_When_Called(t *testing.T) {
	t.Parallel()

	fsys := mounted(t, newDevice(t))

	require.NoError(t, fsys.WriteFile("/a", []byte("x")))

	vol, err := fsys.Volume()
	require.NoError(t, err)

	require.NoError(t, fsys.Format())
	assert.True(t, fsys.Mounted())

	infos, err := fsys.ReadDir("/")
	require.NoError(t, err)
	assert.Empty(t, infos)

	again, err := fsys.Volume()
	require.NoError(t, err)
	assert.NotEqual(t, vol, again)
}

func Test_File_Reads_And_Seeks_When_Opened(t *testing.T) {
	t.Parallel()

	fsys := mounted(t, newDevice(t))

	data := bytes.Repeat([]byte("abcdefgh"), 100)
	require.NoError(t, fsys.WriteFile("/f", data))

	f, err := fsys.Open("/f")
	require.NoError(t, err)

	assert.Equal(t, "/f", f.Name())
	assert.Equal(t, int64(len(data)), f.Size())

	all, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, data, all)

	pos, err := f.Seek(-3, io.SeekEnd)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)-3), pos)

	tail := make([]byte, 8)
	n, err := f.Read(tail)
	require.NoError(t, err)
	assert.Equal(t, "fgh", string(tail[:n]))

	_, err = f.Read(tail)
	require.ErrorIs(t, err, io.EOF)

	mid := make([]byte, 4)
	_, err = f.ReadAt(mid, 258)
	require.NoError(t, err)
	assert.Equal(t, "cdef", string(mid))

	require.NoError(t, f.Close())
	require.ErrorIs(t, f.Close(), flashfs.ErrClosed)

	_, err = f.ReadAt(mid, 0)
	require.ErrorIs(t, err, flashfs.ErrClosed)
}

func Test_FS_Reads_Current_Data_When_Mounted_On_Cache(t *testing.T) {
	t.Parallel()

	dev := newDevice(t)

	cache, err := blockcache.New(dev, blockcache.Options{Geometry: testGeometry, CacheBlocks: 4})
	require.NoError(t, err)

	fsys := mounted(t, cache)

	for i := range 20 {
		want := bytes.Repeat([]byte{byte(i)}, 300+i)
		require.NoError(t, fsys.WriteFile("/config.cbor", want))

		got, err := fsys.ReadFile("/config.cbor")
		require.NoError(t, err)

		if !bytes.Equal(got, want) {
			t.Fatalf("iteration %d: stale read through cache", i)
		}

		again, err := fsys.ReadFile("/config.cbor")
		require.NoError(t, err)
		assert.Equal(t, want, again)

		require.NoError(t, cache.Check())
	}

	assert.NotZero(t, cache.Stats().Hits)
}
