package store

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/zhukovaskychina/hare-storage/engine/basic"
	"github.com/zhukovaskychina/hare-storage/engine/pages"
	"github.com/zhukovaskychina/hare-storage/util"
)

// DiskManager owns the file handle, file lock, header and free-page stack of
// a page file and mediates every page-granular I/O operation. Two variants
// exist: the direct manager writes through to the file, the WAL manager
// stages mutations in a sibling log until commit.
//
// Every mutating operation names the transaction performing it (the id of
// the buffer pool driving the mutation). The direct manager ignores the tag;
// the WAL manager stamps the first writer's id into the log header as the
// write-ownership tag and rejects mutations, commits and rollbacks issued
// under a different id while that log is pending.
type DiskManager interface {
	// Read fills page with the on-disk content of pageId.
	Read(pageId basic.PageId, page *pages.Page) error

	// ReadRange fills ps with the consecutive region starting at startId.
	// The direct manager reads it in a single bulk I/O; the WAL manager does
	// so only when no page of the region carries a pending image.
	ReadRange(startId basic.PageId, ps []*pages.Page) error

	// Update replaces the on-disk content of an allocated page on behalf of
	// txId.
	Update(txId basic.TransactionId, pageId basic.PageId, page *pages.Page) error

	// Allocate hands out a new page id on behalf of txId, preferring the
	// free-page stack.
	Allocate(txId basic.TransactionId) (basic.PageId, error)

	// Free returns a page id to the free-page stack on behalf of txId,
	// truncating the file when the terminal page is freed.
	Free(txId basic.TransactionId, pageId basic.PageId) error

	// Commit durably persists the changes pending under txId.
	Commit(txId basic.TransactionId) error

	// Rollback discards the changes pending under txId.
	Rollback(txId basic.TransactionId) error

	// Close flushes the header and checksum and releases the file lock.
	Close() error

	// Delete closes the manager and removes the backing file.
	Delete() error

	// Pages returns the number of currently allocated pages.
	Pages() int64

	// MaximumPageId returns the highest logical page id the file covers,
	// including preallocated ids still on the free-page stack.
	MaximumPageId() basic.PageId

	// PageSize returns the page size in bytes.
	PageSize() int

	// PageShift returns the page shift of the file.
	PageShift() int
}

// Options tunes the disk manager variants.
type Options struct {
	// LockTimeout bounds the wait for the exclusive OS file lock.
	LockTimeout time.Duration

	// PreallocatePages is the number of trailing pages created in one file
	// extension when allocation grows the file.
	PreallocatePages int

	// WalCodec names the compression codec for WAL update payloads.
	WalCodec string
}

// DefaultOptions returns the option defaults.
func DefaultOptions() *Options {
	return &Options{
		LockTimeout:      5 * time.Second,
		PreallocatePages: 32,
		WalCodec:         "none",
	}
}

func (o *Options) normalized() *Options {
	out := DefaultOptions()
	if o == nil {
		return out
	}
	if o.LockTimeout > 0 {
		out.LockTimeout = o.LockTimeout
	}
	if o.PreallocatePages > 0 {
		out.PreallocatePages = o.PreallocatePages
	}
	if o.WalCodec != "" {
		out.WalCodec = o.WalCodec
	}
	return out
}

// CreatePageFile initialises an empty page file: physical page 0 carries the
// file header, physical page 1 the free-page stack. The file is left closed.
func CreatePageFile(path string, pageShift int) error {
	if pageShift < pages.MinPageShift || pageShift > pages.MaxPageShift {
		return errors.Errorf("page shift %d outside [%d, %d]", pageShift, pages.MinPageShift, pages.MaxPageShift)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0644)
	if err != nil {
		return errors.Trace(err)
	}
	defer file.Close()

	headerPage := pages.NewPage(pageShift)
	header := pages.NewFileHeader(headerPage)
	header.Init(pages.FileTypeDefault, int32(pageShift))

	stackPage := pages.NewPage(pageShift)
	stack := pages.NewLongStack(stackPage)
	stack.Init()

	pageSize := 1 << pageShift
	if _, err := file.WriteAt(headerPage.Data(), 0); err != nil {
		return errors.Trace(err)
	}
	if _, err := file.WriteAt(stackPage.Data(), int64(pageSize)); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(file.Sync())
}

// diskManagerBase carries the state both variants share: the synchronous
// file handle, the OS lock, the header and free-stack views, and the logical
// page id to file offset translation.
type diskManagerBase struct {
	path  string
	file  *os.File
	flock *FileLock

	pageShift int
	pageSize  int

	headerPage *pages.Page
	header     pages.FileHeader
	stackPage  *pages.Page
	stack      pages.LongStack

	preallocate int

	mu     sync.Mutex
	closed bool
}

// openBase opens the page file, takes the OS lock and loads header and free
// stack. The caller owns consistency handling.
func openBase(path string, opts *Options) (*diskManagerBase, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_SYNC, 0644)
	if err != nil {
		return nil, errors.Trace(err)
	}
	flock, err := AcquireFileLock(file, opts.LockTimeout)
	if err != nil {
		file.Close()
		return nil, errors.Trace(err)
	}

	// header lives in the first physical page; the page shift is read from
	// the fixed-size prefix before the full page can be sized
	prefix := make([]byte, pages.HeaderSize)
	if _, err := file.ReadAt(prefix, 0); err != nil {
		flock.Release()
		file.Close()
		return nil, errors.Annotatef(basic.ErrDataCorruption, "short file header: %v", err)
	}
	probe := pages.NewFileHeader(pages.Wrap(padToPage(prefix)))
	pageShift := int(probe.PageShift())
	if pageShift < pages.MinPageShift || pageShift > pages.MaxPageShift {
		flock.Release()
		file.Close()
		return nil, errors.Annotatef(basic.ErrDataCorruption, "page shift %d out of range", pageShift)
	}

	b := &diskManagerBase{
		path:        path,
		file:        file,
		flock:       flock,
		pageShift:   pageShift,
		pageSize:    1 << pageShift,
		preallocate: opts.PreallocatePages,
	}
	b.headerPage = pages.NewPage(pageShift)
	b.header = pages.NewFileHeader(b.headerPage)
	b.stackPage = pages.NewPage(pageShift)
	b.stack = pages.NewLongStack(b.stackPage)

	if _, err := file.ReadAt(b.headerPage.Data(), 0); err != nil {
		b.releaseFile()
		return nil, errors.Annotatef(basic.ErrDataCorruption, "reading file header: %v", err)
	}
	if err := b.header.Validate(pages.FileTypeDefault); err != nil {
		b.releaseFile()
		return nil, errors.Trace(err)
	}
	if _, err := file.ReadAt(b.stackPage.Data(), int64(b.pageSize)); err != nil {
		b.releaseFile()
		return nil, errors.Annotatef(basic.ErrDataCorruption, "reading free page stack: %v", err)
	}
	return b, nil
}

func padToPage(prefix []byte) []byte {
	buf := make([]byte, 1<<pages.MinPageShift)
	copy(buf, prefix)
	return buf
}

func (b *diskManagerBase) releaseFile() {
	b.flock.Release()
	b.file.Close()
}

// offset translates a logical page id to its file offset. The two leading
// physical pages are the header and the free stack, so logical id p starts
// at physical page p+1.
func (b *diskManagerBase) offset(pageId basic.PageId) int64 {
	return (int64(pageId) + 1) << b.pageShift
}

func (b *diskManagerBase) validatePageId(pageId basic.PageId) error {
	if pageId < 1 || int64(pageId) > b.header.MaximumPageId() {
		return errors.Annotatef(basic.ErrPageOutOfBounds, "page %d, maximum %d", pageId, b.header.MaximumPageId())
	}
	return nil
}

func (b *diskManagerBase) readPageLocked(pageId basic.PageId, page *pages.Page) error {
	n, err := b.file.ReadAt(page.Data(), b.offset(pageId))
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return errors.Annotatef(err, "reading page %d", pageId)
	}
	// a preallocated page past the current file end reads back as zeroes
	page.Zero(n, page.Size()-n)
	return nil
}

func (b *diskManagerBase) writePageLocked(pageId basic.PageId, data []byte) error {
	if _, err := b.file.WriteAt(data, b.offset(pageId)); err != nil {
		return errors.Annotatef(err, "writing page %d", pageId)
	}
	return nil
}

func (b *diskManagerBase) readRangeLocked(startId basic.PageId, ps []*pages.Page) error {
	buf := make([]byte, len(ps)*b.pageSize)
	if _, err := b.file.ReadAt(buf, b.offset(startId)); err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return errors.Annotatef(err, "reading pages [%d, %d)", startId, int64(startId)+int64(len(ps)))
	}
	for i, p := range ps {
		copy(p.Data(), buf[i*b.pageSize:(i+1)*b.pageSize])
	}
	return nil
}

func (b *diskManagerBase) flushHeaderLocked() error {
	return errors.Trace(b.writeAt(b.headerPage.Data(), 0))
}

func (b *diskManagerBase) flushStackLocked() error {
	return errors.Trace(b.writeAt(b.stackPage.Data(), int64(b.pageSize)))
}

func (b *diskManagerBase) writeAt(data []byte, off int64) error {
	_, err := b.file.WriteAt(data, off)
	return err
}

// allocateLocked implements the shared allocation policy: pop the free
// stack when possible, otherwise grow the file by preallocate pages in one
// extension and hand out the first new id. Preallocated ids are pushed in
// descending order so that subsequent pops come out ascending.
func (b *diskManagerBase) allocateLocked() (basic.PageId, error) {
	if b.stack.Count() > 0 {
		top, err := b.stack.Pop()
		if err != nil {
			return basic.NoPageId, errors.Trace(err)
		}
		pageId := basic.PageId(top)
		// a reused page must read back as zeroes
		if err := b.writePageLocked(pageId, make([]byte, b.pageSize)); err != nil {
			return basic.NoPageId, errors.Trace(err)
		}
		b.header.SetAllocatedPages(b.header.AllocatedPages() + 1)
		if err := b.flushStackLocked(); err != nil {
			return basic.NoPageId, errors.Trace(err)
		}
		if err := b.flushHeaderLocked(); err != nil {
			return basic.NoPageId, errors.Trace(err)
		}
		return pageId, nil
	}

	pageId := basic.PageId(b.header.MaximumPageId() + 1)
	extra := b.preallocate - 1
	if free := b.stack.Capacity() - b.stack.Count(); extra > free {
		extra = free
	}
	if extra < 0 {
		extra = 0
	}
	newMax := int64(pageId) + int64(extra)

	// a one-byte marker at the last offset extends the file in one operation
	end := b.offset(basic.PageId(newMax)) + int64(b.pageSize)
	if err := b.writeAt([]byte{0}, end-1); err != nil {
		return basic.NoPageId, errors.Trace(err)
	}
	for id := newMax; id > int64(pageId); id-- {
		b.stack.Offer(id)
	}
	b.header.SetMaximumPageId(newMax)
	b.header.SetAllocatedPages(b.header.AllocatedPages() + 1)
	if err := b.flushStackLocked(); err != nil {
		return basic.NoPageId, errors.Trace(err)
	}
	if err := b.flushHeaderLocked(); err != nil {
		return basic.NoPageId, errors.Trace(err)
	}
	return pageId, nil
}

// freeLocked implements the shared free policy: truncate when the terminal
// page is freed, otherwise push onto the stack, otherwise count the page as
// dangling.
func (b *diskManagerBase) freeLocked(pageId basic.PageId) error {
	if err := b.validatePageId(pageId); err != nil {
		return errors.Trace(err)
	}
	if b.stack.Contains(int64(pageId)) {
		return errors.Annotatef(basic.ErrDoubleFree, "page %d", pageId)
	}

	if int64(pageId) == b.header.MaximumPageId() {
		b.header.SetAllocatedPages(b.header.AllocatedPages() - 1)
		b.header.SetMaximumPageId(int64(pageId) - 1)
		if err := b.file.Truncate(b.offset(pageId)); err != nil {
			return errors.Annotatef(err, "truncating page %d", pageId)
		}
		return errors.Trace(b.flushHeaderLocked())
	}

	if b.stack.Offer(int64(pageId)) {
		b.header.SetAllocatedPages(b.header.AllocatedPages() - 1)
		if err := b.flushStackLocked(); err != nil {
			return errors.Trace(err)
		}
		return errors.Trace(b.flushHeaderLocked())
	}

	// TODO: file needs compaction; the page is leaked until then
	b.header.SetDanglingPages(b.header.DanglingPages() + 1)
	b.header.SetAllocatedPages(b.header.AllocatedPages() - 1)
	return errors.Trace(b.flushHeaderLocked())
}

// checksumLocked streams every byte after the physical header page through
// CRC32C.
func (b *diskManagerBase) checksumLocked() (uint32, error) {
	var crc uint32
	buf := make([]byte, 64*1024)
	off := int64(b.pageSize)
	for {
		n, err := b.file.ReadAt(buf, off)
		if n > 0 {
			crc = util.Crc32CUpdate(crc, buf[:n])
			off += int64(n)
		}
		if err == io.EOF {
			return crc, nil
		}
		if err != nil {
			return 0, errors.Trace(err)
		}
	}
}

// verifyChecksumLocked recomputes the data checksum and compares it to the
// header.
func (b *diskManagerBase) verifyChecksumLocked() error {
	crc, err := b.checksumLocked()
	if err != nil {
		return errors.Trace(err)
	}
	if int64(crc) != b.header.Checksum() {
		return errors.Annotatef(basic.ErrDataCorruption, "checksum mismatch: computed %d, stored %d", crc, b.header.Checksum())
	}
	return nil
}

// finalizeLocked stamps the file consistent: checksum, consistency bit,
// header write, sync.
func (b *diskManagerBase) finalizeLocked() error {
	crc, err := b.checksumLocked()
	if err != nil {
		return errors.Trace(err)
	}
	b.header.SetChecksum(int64(crc))
	b.header.SetConsistent(true)
	if err := b.flushHeaderLocked(); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(b.file.Sync())
}

func (b *diskManagerBase) closeLocked(finalize bool) error {
	if b.closed {
		return nil
	}
	if finalize {
		if err := b.finalizeLocked(); err != nil {
			return errors.Trace(err)
		}
	}
	b.closed = true
	if err := b.flock.Release(); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(b.file.Close())
}
