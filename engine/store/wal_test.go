package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zhukovaskychina/hare-storage/engine/basic"
	"github.com/zhukovaskychina/hare-storage/engine/pages"
	"github.com/zhukovaskychina/hare-storage/util"
)

// newPopulatedFile creates a page file holding count pages, each filled with
// a pattern derived from its page id.
func newPopulatedFile(t *testing.T, count int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wal_test.hare")
	require.NoError(t, CreatePageFile(path, pages.DefaultPageShift))
	disk, err := OpenDirect(path, &Options{PreallocatePages: 1})
	require.NoError(t, err)
	page := pages.NewPage(disk.PageShift())
	for i := 1; i <= count; i++ {
		pageId, err := disk.Allocate(testTx)
		require.NoError(t, err)
		require.Equal(t, basic.PageId(i), pageId)
		fillPage(page, int64(i)*1000)
		require.NoError(t, disk.Update(testTx, pageId, page))
	}
	require.NoError(t, disk.Close())
	return path
}

func readHeaderRaw(t *testing.T, path string) pages.FileHeader {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	headerPage := pages.NewPage(pages.DefaultPageShift)
	copy(headerPage.Data(), raw[:4096])
	return pages.NewFileHeader(headerPage)
}

func TestWalRollbackRestoresOriginal(t *testing.T) {
	path := newPopulatedFile(t, 100)

	w, err := OpenWalManager(path, &Options{PreallocatePages: 1})
	require.NoError(t, err)

	newPage := pages.NewPage(w.PageShift())
	fillPage(newPage, 999999)
	require.NoError(t, w.Update(testTx, 50, newPage))
	require.True(t, w.HasPendingWal())

	require.NoError(t, w.Rollback(testTx))
	require.False(t, w.HasPendingWal())
	require.NoError(t, w.Close())

	// no .wal sibling remains and the header is consistent again
	exists, err := util.PathExists(WalPath(path))
	require.NoError(t, err)
	assert.False(t, exists)
	assert.True(t, readHeaderRaw(t, path).IsConsistent())

	disk, err := OpenDirect(path, nil)
	require.NoError(t, err)
	defer disk.Close()
	read := pages.NewPage(disk.PageShift())
	require.NoError(t, disk.Read(50, read))
	expected := pages.NewPage(disk.PageShift())
	fillPage(expected, 50*1000)
	assert.Equal(t, expected.Data(), read.Data())
}

func TestWalCommitAppliesUpdates(t *testing.T) {
	path := newPopulatedFile(t, 10)

	w, err := OpenWalManager(path, &Options{PreallocatePages: 1})
	require.NoError(t, err)

	newPage := pages.NewPage(w.PageShift())
	fillPage(newPage, 424242)
	require.NoError(t, w.Update(testTx, 3, newPage))

	// before commit the main file still holds the original bytes
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	original := pages.NewPage(w.PageShift())
	fillPage(original, 3*1000)
	assert.Equal(t, original.Data(), raw[4*4096:5*4096])

	// but reads through the manager already see the logged image
	read := pages.NewPage(w.PageShift())
	require.NoError(t, w.Read(3, read))
	assert.Equal(t, newPage.Data(), read.Data())

	require.NoError(t, w.Commit(testTx))
	require.NoError(t, w.Close())

	disk, err := OpenDirect(path, nil)
	require.NoError(t, err)
	defer disk.Close()
	require.NoError(t, disk.Read(3, read))
	assert.Equal(t, newPage.Data(), read.Data())
}

func TestWalAllocateAndFree(t *testing.T) {
	path := newPopulatedFile(t, 5)

	w, err := OpenWalManager(path, &Options{PreallocatePages: 1})
	require.NoError(t, err)

	pageId, err := w.Allocate(testTx)
	require.NoError(t, err)
	assert.Equal(t, basic.PageId(6), pageId)
	assert.Equal(t, int64(6), w.Pages())

	newPage := pages.NewPage(w.PageShift())
	fillPage(newPage, 777)
	require.NoError(t, w.Update(testTx, pageId, newPage))
	require.NoError(t, w.Free(testTx, 2))
	assert.Equal(t, int64(5), w.Pages())

	require.NoError(t, w.Commit(testTx))
	require.NoError(t, w.Close())

	disk, err := OpenDirect(path, &Options{PreallocatePages: 1})
	require.NoError(t, err)
	defer disk.Close()
	assert.Equal(t, int64(5), disk.Pages())
	assert.Equal(t, basic.PageId(6), disk.MaximumPageId())

	read := pages.NewPage(disk.PageShift())
	require.NoError(t, disk.Read(6, read))
	assert.Equal(t, newPage.Data(), read.Data())

	// the freed page is back on the stack, so it is the next allocation
	again, err := disk.Allocate(testTx)
	require.NoError(t, err)
	assert.Equal(t, basic.PageId(2), again)
}

func TestWalDoubleFree(t *testing.T) {
	path := newPopulatedFile(t, 5)
	w, err := OpenWalManager(path, &Options{PreallocatePages: 1})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Free(testTx, 2))
	assert.ErrorIs(t, w.Free(testTx, 2), basic.ErrDoubleFree)
}

func TestWalFreshAllocationReadsZero(t *testing.T) {
	path := newPopulatedFile(t, 3)
	w, err := OpenWalManager(path, &Options{PreallocatePages: 1})
	require.NoError(t, err)
	defer w.Close()

	pageId, err := w.Allocate(testTx)
	require.NoError(t, err)
	read := pages.NewPage(w.PageShift())
	fillPage(read, 1)
	require.NoError(t, w.Read(pageId, read))
	for off := 0; off < read.Size(); off += 8 {
		require.Equal(t, int64(0), read.GetLong(off))
	}
}

func TestWalCommitCrashRecovery(t *testing.T) {
	path := newPopulatedFile(t, 20)

	w, err := OpenWalManager(path, &Options{PreallocatePages: 1})
	require.NoError(t, err)

	newPage := pages.NewPage(w.PageShift())
	fillPage(newPage, 31415926)
	require.NoError(t, w.Update(testTx, 7, newPage))
	require.NoError(t, w.Update(testTx, 13, newPage))

	// simulate a crash immediately after logCommit: the log is sealed but
	// the main file was never touched and the process dies
	require.NoError(t, w.wal.LogCommit())
	require.NoError(t, w.wal.Close())
	w.mu.Lock()
	require.NoError(t, w.closeLocked(false))
	w.mu.Unlock()

	assert.False(t, readHeaderRaw(t, path).IsConsistent())

	// reopen: the committed WAL is detected and kept
	w, err = OpenWalManager(path, &Options{PreallocatePages: 1})
	require.NoError(t, err)
	require.True(t, w.HasPendingWal())

	require.NoError(t, w.Commit(testTx))
	require.NoError(t, w.Close())

	exists, err := util.PathExists(WalPath(path))
	require.NoError(t, err)
	assert.False(t, exists)

	// the checksum must validate on a fresh open after recovery
	disk, err := OpenDirect(path, nil)
	require.NoError(t, err)
	defer disk.Close()
	disk.mu.Lock()
	err = disk.verifyChecksumLocked()
	disk.mu.Unlock()
	require.NoError(t, err)
	read := pages.NewPage(disk.PageShift())
	require.NoError(t, disk.Read(7, read))
	assert.Equal(t, newPage.Data(), read.Data())
	require.NoError(t, disk.Read(13, read))
	assert.Equal(t, newPage.Data(), read.Data())
}

func TestWalCrashBeforeCommitDiscardsLog(t *testing.T) {
	path := newPopulatedFile(t, 10)

	w, err := OpenWalManager(path, &Options{PreallocatePages: 1})
	require.NoError(t, err)

	newPage := pages.NewPage(w.PageShift())
	fillPage(newPage, 5555)
	require.NoError(t, w.Update(testTx, 4, newPage))

	// crash with the log still OPEN
	require.NoError(t, w.wal.Close())
	w.mu.Lock()
	require.NoError(t, w.closeLocked(false))
	w.mu.Unlock()

	w, err = OpenWalManager(path, &Options{PreallocatePages: 1})
	require.NoError(t, err)
	require.False(t, w.HasPendingWal())
	read := pages.NewPage(w.PageShift())
	require.NoError(t, w.Read(4, read))
	original := pages.NewPage(w.PageShift())
	fillPage(original, 4*1000)
	assert.Equal(t, original.Data(), read.Data())
	require.NoError(t, w.Close())
}

func TestWalOwnershipEnforced(t *testing.T) {
	path := newPopulatedFile(t, 5)
	w, err := OpenWalManager(path, &Options{PreallocatePages: 1})
	require.NoError(t, err)
	defer w.Close()

	newPage := pages.NewPage(w.PageShift())
	fillPage(newPage, 1)
	require.NoError(t, w.Update(testTx, 1, newPage))

	// the pending log belongs to the first mutating transaction
	owner, pending := w.PendingOwner()
	require.True(t, pending)
	assert.Equal(t, testTx, owner)

	other := basic.NewTransactionId()
	assert.ErrorIs(t, w.Update(other, 2, newPage), basic.ErrTransactionConflict)
	_, err = w.Allocate(other)
	assert.ErrorIs(t, err, basic.ErrTransactionConflict)
	assert.ErrorIs(t, w.Free(other, 2), basic.ErrTransactionConflict)
	assert.ErrorIs(t, w.Commit(other), basic.ErrTransactionConflict)
	assert.ErrorIs(t, w.Rollback(other), basic.ErrTransactionConflict)

	// the owner can still resolve the log
	require.NoError(t, w.Rollback(testTx))
	_, pending = w.PendingOwner()
	assert.False(t, pending)
}

func TestWalHeaderRecordsOwner(t *testing.T) {
	path := newPopulatedFile(t, 3)
	w, err := OpenWalManager(path, &Options{PreallocatePages: 1})
	require.NoError(t, err)
	defer w.Close()

	newPage := pages.NewPage(w.PageShift())
	fillPage(newPage, 22)
	require.NoError(t, w.Update(testTx, 1, newPage))

	raw, err := os.ReadFile(WalPath(path))
	require.NoError(t, err)
	var tagged basic.TransactionId
	copy(tagged[:], raw[walOffTxId:walOffTxId+16])
	assert.Equal(t, testTx, tagged)

	require.NoError(t, w.Rollback(testTx))
}

func TestWalCompressionCodecs(t *testing.T) {
	for _, codec := range []string{"none", "snappy", "lz4"} {
		t.Run(codec, func(t *testing.T) {
			path := newPopulatedFile(t, 5)
			w, err := OpenWalManager(path, &Options{PreallocatePages: 1, WalCodec: codec})
			require.NoError(t, err)

			// one highly compressible page, one page of varied content
			compressible := pages.NewPage(w.PageShift())
			for off := 0; off+8 <= compressible.Size(); off += 8 {
				compressible.PutLong(off, 7)
			}
			varied := pages.NewPage(w.PageShift())
			fillPage(varied, 918273645)

			require.NoError(t, w.Update(testTx, 1, compressible))
			require.NoError(t, w.Update(testTx, 2, varied))
			require.NoError(t, w.Commit(testTx))
			require.NoError(t, w.Close())

			disk, err := OpenDirect(path, nil)
			require.NoError(t, err)
			defer disk.Close()
			read := pages.NewPage(disk.PageShift())
			require.NoError(t, disk.Read(1, read))
			assert.Equal(t, compressible.Data(), read.Data())
			require.NoError(t, disk.Read(2, read))
			assert.Equal(t, varied.Data(), read.Data())
		})
	}
}

func TestWriteAheadLogSealing(t *testing.T) {
	dir := t.TempDir()
	walPath := filepath.Join(dir, "seal.wal")
	codec, err := CodecByName("none")
	require.NoError(t, err)
	wal, err := CreateWal(walPath, 4096, codec, basic.NewTransactionId())
	require.NoError(t, err)
	defer wal.Remove()

	page := pages.NewPage(pages.DefaultPageShift)
	require.NoError(t, wal.LogUpdate(1, page))
	require.NoError(t, wal.LogCommit())

	assert.ErrorIs(t, wal.LogUpdate(2, page), basic.ErrWalSealed)
	assert.ErrorIs(t, wal.LogAbort(), basic.ErrWalSealed)
	assert.Equal(t, WalStateCommitted, wal.State())
	assert.Equal(t, int64(1), wal.Entries())
}

func TestWriteAheadLogReopenValidatesChecksum(t *testing.T) {
	dir := t.TempDir()
	walPath := filepath.Join(dir, "crc.wal")
	codec, err := CodecByName("none")
	require.NoError(t, err)
	wal, err := CreateWal(walPath, 4096, codec, basic.NewTransactionId())
	require.NoError(t, err)

	page := pages.NewPage(pages.DefaultPageShift)
	page.PutLong(0, 12345)
	require.NoError(t, wal.LogUpdate(9, page))
	require.NoError(t, wal.LogCommit())
	require.NoError(t, wal.Close())

	reopened, err := OpenWal(walPath, 4096)
	require.NoError(t, err)
	assert.Equal(t, WalStateCommitted, reopened.State())
	assert.Equal(t, int64(1), reopened.Entries())
	require.NoError(t, reopened.Close())

	// flip one payload byte; the checksum must catch it
	raw, err := os.OpenFile(walPath, os.O_RDWR, 0644)
	require.NoError(t, err)
	_, err = raw.WriteAt([]byte{0xAA}, 128+24+100)
	require.NoError(t, err)
	require.NoError(t, raw.Close())

	_, err = OpenWal(walPath, 4096)
	assert.ErrorIs(t, err, basic.ErrDataCorruption)
}
