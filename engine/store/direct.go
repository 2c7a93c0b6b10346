package store

import (
	"os"

	"github.com/juju/errors"
	"github.com/zhukovaskychina/hare-storage/engine/basic"
	"github.com/zhukovaskychina/hare-storage/engine/pages"
	"github.com/zhukovaskychina/hare-storage/logger"
	"github.com/zhukovaskychina/hare-storage/util"
)

// DirectDiskManager performs every mutation against the page file within
// the call that requested it. Commit and rollback are no-ops; there is no
// atomicity across mutations.
type DirectDiskManager struct {
	*diskManagerBase
}

var _ DiskManager = (*DirectDiskManager)(nil)

// OpenDirect opens a page file with write-through semantics. A file that was
// not closed cleanly is checksum-verified before use.
func OpenDirect(path string, opts *Options) (*DirectDiskManager, error) {
	opts = opts.normalized()
	base, err := openBase(path, opts)
	if err != nil {
		return nil, errors.Trace(err)
	}
	d := &DirectDiskManager{diskManagerBase: base}

	if !base.header.IsConsistent() {
		if exists, _ := util.PathExists(WalPath(path)); exists {
			base.releaseFile()
			return nil, errors.Annotatef(basic.ErrDataCorruption,
				"%s has a pending write-ahead log; open it with the WAL disk manager", path)
		}
		logger.Warnf("page file %s was not closed cleanly, verifying checksum", path)
		if err := base.verifyChecksumLocked(); err != nil {
			base.releaseFile()
			return nil, errors.Trace(err)
		}
	}
	logger.Debugf("opened page file %s (pageShift=%d, allocated=%d)", path, base.pageShift, base.header.AllocatedPages())
	return d, nil
}

// Read fills page with the on-disk content of pageId.
func (d *DirectDiskManager) Read(pageId basic.PageId, page *pages.Page) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return basic.ErrResourceClosed
	}
	if err := d.validatePageId(pageId); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(d.readPageLocked(pageId, page))
}

// ReadRange fills ps with the consecutive region starting at startId.
func (d *DirectDiskManager) ReadRange(startId basic.PageId, ps []*pages.Page) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return basic.ErrResourceClosed
	}
	if len(ps) == 0 {
		return nil
	}
	if err := d.validatePageId(startId); err != nil {
		return errors.Trace(err)
	}
	if err := d.validatePageId(startId + basic.PageId(len(ps)) - 1); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(d.readRangeLocked(startId, ps))
}

// Update replaces the on-disk content of an allocated page. The direct
// variant writes within the call; the transaction tag is not recorded.
func (d *DirectDiskManager) Update(txId basic.TransactionId, pageId basic.PageId, page *pages.Page) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return basic.ErrResourceClosed
	}
	if err := d.validatePageId(pageId); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(d.writePageLocked(pageId, page.Data()))
}

// Allocate hands out a new page id and persists header and stack.
func (d *DirectDiskManager) Allocate(txId basic.TransactionId) (basic.PageId, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return basic.NoPageId, basic.ErrResourceClosed
	}
	return d.allocateLocked()
}

// Free returns pageId to the free stack or truncates the file.
func (d *DirectDiskManager) Free(txId basic.TransactionId, pageId basic.PageId) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return basic.ErrResourceClosed
	}
	return errors.Trace(d.freeLocked(pageId))
}

// Commit syncs the file; direct mutations are already on disk.
func (d *DirectDiskManager) Commit(txId basic.TransactionId) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return basic.ErrResourceClosed
	}
	return errors.Trace(d.file.Sync())
}

// Rollback is a no-op for the direct variant.
func (d *DirectDiskManager) Rollback(txId basic.TransactionId) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return basic.ErrResourceClosed
	}
	return nil
}

// Close stamps the file consistent and releases the lock. Idempotent.
func (d *DirectDiskManager) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return errors.Trace(d.closeLocked(true))
}

// Delete closes the manager and removes the backing file.
func (d *DirectDiskManager) Delete() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.closeLocked(false); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(os.Remove(d.path))
}

// Pages returns the number of currently allocated pages.
func (d *DirectDiskManager) Pages() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.header.AllocatedPages()
}

// MaximumPageId returns the highest logical page id the file covers,
// including preallocated ids still on the free-page stack.
func (d *DirectDiskManager) MaximumPageId() basic.PageId {
	d.mu.Lock()
	defer d.mu.Unlock()
	return basic.PageId(d.header.MaximumPageId())
}

// PageSize returns the page size in bytes.
func (d *DirectDiskManager) PageSize() int {
	return d.pageSize
}

// PageShift returns the page shift of the file.
func (d *DirectDiskManager) PageShift() int {
	return d.pageShift
}
