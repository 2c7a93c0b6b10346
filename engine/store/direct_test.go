package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zhukovaskychina/hare-storage/engine/basic"
	"github.com/zhukovaskychina/hare-storage/engine/pages"
)

// testTx tags the mutations the store tests perform.
var testTx = basic.NewTransactionId()

func newTestFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.hare")
	require.NoError(t, CreatePageFile(path, pages.DefaultPageShift))
	return path
}

func fillPage(page *pages.Page, seed int64) {
	for off := 0; off+8 <= page.Size(); off += 8 {
		page.PutLong(off, seed+int64(off))
	}
}

func TestCreatePageFileLayout(t *testing.T) {
	path := newTestFile(t)
	info, err := os.Stat(path)
	require.NoError(t, err)
	// header page plus free stack page
	assert.Equal(t, int64(2*4096), info.Size())
}

func TestDirectAllocateSequentialIds(t *testing.T) {
	path := newTestFile(t)
	disk, err := OpenDirect(path, nil)
	require.NoError(t, err)
	defer disk.Close()

	for want := basic.PageId(1); want <= 70; want++ {
		got, err := disk.Allocate(testTx)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	assert.Equal(t, int64(70), disk.Pages())
}

func TestDirectUpdateRead(t *testing.T) {
	path := newTestFile(t)
	disk, err := OpenDirect(path, nil)
	require.NoError(t, err)
	defer disk.Close()

	pageId, err := disk.Allocate(testTx)
	require.NoError(t, err)

	page := pages.NewPage(disk.PageShift())
	fillPage(page, 1000)
	require.NoError(t, disk.Update(testTx, pageId, page))

	read := pages.NewPage(disk.PageShift())
	require.NoError(t, disk.Read(pageId, read))
	assert.Equal(t, page.Data(), read.Data())
}

func TestDirectFreshPageReadsZero(t *testing.T) {
	path := newTestFile(t)
	disk, err := OpenDirect(path, nil)
	require.NoError(t, err)
	defer disk.Close()

	pageId, err := disk.Allocate(testTx)
	require.NoError(t, err)
	page := pages.NewPage(disk.PageShift())
	fillPage(page, 7)
	require.NoError(t, disk.Read(pageId, page))
	for off := 0; off < page.Size(); off += 8 {
		require.Equal(t, int64(0), page.GetLong(off))
	}
}

func TestDirectReusedPageReadsZero(t *testing.T) {
	path := newTestFile(t)
	disk, err := OpenDirect(path, nil)
	require.NoError(t, err)
	defer disk.Close()

	first, err := disk.Allocate(testTx)
	require.NoError(t, err)
	second, err := disk.Allocate(testTx)
	require.NoError(t, err)
	_ = second

	page := pages.NewPage(disk.PageShift())
	fillPage(page, 55)
	require.NoError(t, disk.Update(testTx, first, page))
	require.NoError(t, disk.Free(testTx, first))

	// the free stack is LIFO, so the freed id comes straight back
	again, err := disk.Allocate(testTx)
	require.NoError(t, err)
	assert.Equal(t, first, again)

	require.NoError(t, disk.Read(again, page))
	for off := 0; off < page.Size(); off += 8 {
		require.Equal(t, int64(0), page.GetLong(off))
	}
}

func TestDirectReadRange(t *testing.T) {
	path := newTestFile(t)
	disk, err := OpenDirect(path, nil)
	require.NoError(t, err)
	defer disk.Close()

	for i := 0; i < 8; i++ {
		pageId, err := disk.Allocate(testTx)
		require.NoError(t, err)
		page := pages.NewPage(disk.PageShift())
		fillPage(page, int64(pageId)*100)
		require.NoError(t, disk.Update(testTx, pageId, page))
	}

	ps := make([]*pages.Page, 4)
	for i := range ps {
		ps[i] = pages.NewPage(disk.PageShift())
	}
	require.NoError(t, disk.ReadRange(3, ps))
	for i, p := range ps {
		assert.Equal(t, int64(3+i)*100, p.GetLong(0))
	}
}

func TestDirectFreeTerminalTruncates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trunc.hare")
	require.NoError(t, CreatePageFile(path, pages.DefaultPageShift))
	// preallocation off, so the terminal page is exactly the last allocation
	disk, err := OpenDirect(path, &Options{PreallocatePages: 1})
	require.NoError(t, err)
	defer disk.Close()

	var last basic.PageId
	for i := 0; i < 5; i++ {
		last, err = disk.Allocate(testTx)
		require.NoError(t, err)
	}
	assert.Equal(t, basic.PageId(5), last)
	assert.Equal(t, basic.PageId(5), disk.MaximumPageId())

	sizeBefore, err := os.Stat(path)
	require.NoError(t, err)

	require.NoError(t, disk.Free(testTx, last))
	assert.Equal(t, basic.PageId(4), disk.MaximumPageId())
	assert.Equal(t, int64(4), disk.Pages())

	sizeAfter, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, sizeBefore.Size()-4096, sizeAfter.Size())
}

func TestDirectDoubleFree(t *testing.T) {
	path := newTestFile(t)
	disk, err := OpenDirect(path, &Options{PreallocatePages: 1})
	require.NoError(t, err)
	defer disk.Close()

	_, err = disk.Allocate(testTx)
	require.NoError(t, err)
	middle, err := disk.Allocate(testTx)
	require.NoError(t, err)
	_, err = disk.Allocate(testTx)
	require.NoError(t, err)

	require.NoError(t, disk.Free(testTx, middle))
	assert.ErrorIs(t, disk.Free(testTx, middle), basic.ErrDoubleFree)
}

func TestDirectPageOutOfBounds(t *testing.T) {
	path := newTestFile(t)
	disk, err := OpenDirect(path, nil)
	require.NoError(t, err)
	defer disk.Close()

	page := pages.NewPage(disk.PageShift())
	assert.ErrorIs(t, disk.Read(0, page), basic.ErrPageOutOfBounds)
	assert.ErrorIs(t, disk.Read(-1, page), basic.ErrPageOutOfBounds)
	assert.ErrorIs(t, disk.Update(testTx, 999, page), basic.ErrPageOutOfBounds)
	assert.ErrorIs(t, disk.Free(testTx, 999), basic.ErrPageOutOfBounds)
}

func TestDirectCleanCloseAndReopen(t *testing.T) {
	path := newTestFile(t)
	disk, err := OpenDirect(path, nil)
	require.NoError(t, err)

	pageId, err := disk.Allocate(testTx)
	require.NoError(t, err)
	page := pages.NewPage(disk.PageShift())
	fillPage(page, 31337)
	require.NoError(t, disk.Update(testTx, pageId, page))
	require.NoError(t, disk.Close())

	disk, err = OpenDirect(path, nil)
	require.NoError(t, err)
	defer disk.Close()
	read := pages.NewPage(disk.PageShift())
	require.NoError(t, disk.Read(pageId, read))
	assert.Equal(t, page.Data(), read.Data())
}

func TestDirectChecksumMismatchAbortsOpen(t *testing.T) {
	path := newTestFile(t)
	disk, err := OpenDirect(path, nil)
	require.NoError(t, err)
	pageId, err := disk.Allocate(testTx)
	require.NoError(t, err)
	page := pages.NewPage(disk.PageShift())
	fillPage(page, 11)
	require.NoError(t, disk.Update(testTx, pageId, page))
	require.NoError(t, disk.Close())

	// flip the consistency bit off and corrupt a data page behind the
	// header's back
	raw, err := os.OpenFile(path, os.O_RDWR, 0644)
	require.NoError(t, err)
	headerPage := pages.NewPage(pages.DefaultPageShift)
	_, err = raw.ReadAt(headerPage.Data(), 0)
	require.NoError(t, err)
	header := pages.NewFileHeader(headerPage)
	header.SetConsistent(false)
	_, err = raw.WriteAt(headerPage.Data(), 0)
	require.NoError(t, err)
	_, err = raw.WriteAt([]byte{0xFF, 0xFF, 0xFF, 0xFF}, int64(2*4096)+128)
	require.NoError(t, err)
	require.NoError(t, raw.Close())

	_, err = OpenDirect(path, nil)
	assert.ErrorIs(t, err, basic.ErrDataCorruption)
}

func TestDirectClosedOperationsFail(t *testing.T) {
	path := newTestFile(t)
	disk, err := OpenDirect(path, nil)
	require.NoError(t, err)
	require.NoError(t, disk.Close())
	// close is idempotent
	require.NoError(t, disk.Close())

	page := pages.NewPage(pages.DefaultPageShift)
	assert.ErrorIs(t, disk.Read(1, page), basic.ErrResourceClosed)
	assert.ErrorIs(t, disk.Update(testTx, 1, page), basic.ErrResourceClosed)
	_, err = disk.Allocate(testTx)
	assert.ErrorIs(t, err, basic.ErrResourceClosed)
	assert.ErrorIs(t, disk.Free(testTx, 1), basic.ErrResourceClosed)
}

func TestDirectDelete(t *testing.T) {
	path := newTestFile(t)
	disk, err := OpenDirect(path, nil)
	require.NoError(t, err)
	require.NoError(t, disk.Delete())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
