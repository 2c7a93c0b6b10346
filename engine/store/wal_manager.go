package store

import (
	"os"

	"github.com/juju/errors"
	"github.com/zhukovaskychina/hare-storage/engine/basic"
	"github.com/zhukovaskychina/hare-storage/engine/pages"
	"github.com/zhukovaskychina/hare-storage/logger"
	"github.com/zhukovaskychina/hare-storage/util"
)

// WalDiskManager stages every mutation in a sibling .wal file and only
// touches the page file when the log commits. It keeps shadow copies of the
// header counters and the free-page stack so that allocation decisions made
// while logging are reproduced bit-for-bit when the log replays.
//
// The first transaction that mutates through the manager becomes the owner
// of the pending log; its id is stamped into the WAL header as the
// write-ownership tag, and mutations, commits and rollbacks issued under any
// other id are rejected until the log is resolved.
type WalDiskManager struct {
	*diskManagerBase

	codec Codec

	// wal is the pending log, when one exists; owner is the id of the
	// transaction it belongs to.
	wal   *WriteAheadLog
	owner basic.TransactionId

	// pending maps page ids touched by this log to their newest image; a
	// nil value stands for an all-zero page (fresh allocation).
	pending map[basic.PageId][]byte

	shadowStackPage *pages.Page
	shadowStack     pages.LongStack
	shadowAllocated int64
	shadowMax       int64
	shadowDangling  int64
}

var _ DiskManager = (*WalDiskManager)(nil)

// OpenWalManager opens a page file with write-ahead-logged semantics and
// performs crash recovery: a committed log is kept for the caller to finish
// via Commit, an aborted or incomplete log is discarded.
func OpenWalManager(path string, opts *Options) (*WalDiskManager, error) {
	opts = opts.normalized()
	codec, err := CodecByName(opts.WalCodec)
	if err != nil {
		return nil, errors.Trace(err)
	}
	base, err := openBase(path, opts)
	if err != nil {
		return nil, errors.Trace(err)
	}
	w := &WalDiskManager{
		diskManagerBase: base,
		codec:           codec,
	}
	w.resetShadowLocked()

	walPath := WalPath(path)
	if exists, _ := util.PathExists(walPath); exists {
		wal, err := OpenWal(walPath, w.pageSize)
		switch {
		case err == nil && wal.State() == WalStateCommitted:
			// crash between commit and full transfer; finish on Commit
			logger.Infof("found committed WAL for %s (%d/%d entries transferred)", path, wal.Transferred(), wal.Entries())
			w.wal = wal
			w.owner = wal.TransactionId()
		case err == nil:
			// OPEN or ABORTED: the main file was never touched
			logger.Infof("discarding %s WAL in state %d", path, wal.State())
			if rmErr := wal.Remove(); rmErr != nil {
				w.releaseFile()
				return nil, errors.Trace(rmErr)
			}
			if rstErr := w.restoreConsistencyLocked(); rstErr != nil {
				w.releaseFile()
				return nil, errors.Trace(rstErr)
			}
		default:
			logger.Warnf("discarding unreadable WAL for %s: %v", path, err)
			if rmErr := os.Remove(walPath); rmErr != nil {
				w.releaseFile()
				return nil, errors.Trace(rmErr)
			}
			if rstErr := w.restoreConsistencyLocked(); rstErr != nil {
				w.releaseFile()
				return nil, errors.Trace(rstErr)
			}
		}
	} else if !w.header.IsConsistent() {
		logger.Warnf("page file %s was not closed cleanly and has no WAL, verifying checksum", path)
		if err := w.verifyChecksumLocked(); err != nil {
			w.releaseFile()
			return nil, errors.Trace(err)
		}
	}
	return w, nil
}

func (w *WalDiskManager) restoreConsistencyLocked() error {
	w.header.SetConsistent(true)
	if err := w.flushHeaderLocked(); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(w.file.Sync())
}

// resetShadowLocked re-seeds the shadow state from the on-disk header and
// free stack and drops the log ownership.
func (w *WalDiskManager) resetShadowLocked() {
	w.shadowStackPage = pages.NewPage(w.pageShift)
	w.shadowStackPage.CopyFrom(w.stackPage)
	w.shadowStack = pages.NewLongStack(w.shadowStackPage)
	w.shadowAllocated = w.header.AllocatedPages()
	w.shadowMax = w.header.MaximumPageId()
	w.shadowDangling = w.header.DanglingPages()
	w.pending = make(map[basic.PageId][]byte)
}

// ensureWalLocked lazily creates the log on the first mutation, stamping the
// mutating transaction as its owner and flipping the main file's consistency
// bit to 0. Mutations by any other transaction are rejected while the log is
// pending.
func (w *WalDiskManager) ensureWalLocked(txId basic.TransactionId) error {
	if w.wal != nil {
		if w.owner != txId {
			return errors.Annotatef(basic.ErrTransactionConflict,
				"log owned by %s, mutation by %s", w.owner, txId)
		}
		return nil
	}
	w.header.SetConsistent(false)
	if err := w.flushHeaderLocked(); err != nil {
		return errors.Trace(err)
	}
	if err := w.file.Sync(); err != nil {
		return errors.Trace(err)
	}
	wal, err := CreateWal(WalPath(w.path), w.pageSize, w.codec, txId)
	if err != nil {
		return errors.Trace(err)
	}
	w.wal = wal
	w.owner = txId
	return nil
}

func (w *WalDiskManager) validateShadowPageId(pageId basic.PageId) error {
	if pageId < 1 || int64(pageId) > w.shadowMax {
		return errors.Annotatef(basic.ErrPageOutOfBounds, "page %d, maximum %d", pageId, w.shadowMax)
	}
	return nil
}

// Read serves the newest logged image of pageId, falling back to the main
// file for pages this log has not touched.
func (w *WalDiskManager) Read(pageId basic.PageId, page *pages.Page) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return basic.ErrResourceClosed
	}
	if err := w.validateShadowPageId(pageId); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(w.readShadowLocked(pageId, page))
}

func (w *WalDiskManager) readShadowLocked(pageId basic.PageId, page *pages.Page) error {
	if img, ok := w.pending[pageId]; ok {
		if img == nil {
			page.Clear()
			return nil
		}
		copy(page.Data(), img)
		return nil
	}
	return errors.Trace(w.readPageLocked(pageId, page))
}

// ReadRange reads a consecutive region; runs as one bulk I/O when no page of
// the region carries a pending image.
func (w *WalDiskManager) ReadRange(startId basic.PageId, ps []*pages.Page) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return basic.ErrResourceClosed
	}
	if len(ps) == 0 {
		return nil
	}
	if err := w.validateShadowPageId(startId); err != nil {
		return errors.Trace(err)
	}
	if err := w.validateShadowPageId(startId + basic.PageId(len(ps)) - 1); err != nil {
		return errors.Trace(err)
	}
	bulk := true
	for i := range ps {
		if _, ok := w.pending[startId+basic.PageId(i)]; ok {
			bulk = false
			break
		}
	}
	if bulk {
		return errors.Trace(w.readRangeLocked(startId, ps))
	}
	for i, p := range ps {
		if err := w.readShadowLocked(startId+basic.PageId(i), p); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// Update logs the full new page image on behalf of txId; the main file
// stays untouched until commit.
func (w *WalDiskManager) Update(txId basic.TransactionId, pageId basic.PageId, page *pages.Page) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return basic.ErrResourceClosed
	}
	if err := w.validateShadowPageId(pageId); err != nil {
		return errors.Trace(err)
	}
	if err := w.ensureWalLocked(txId); err != nil {
		return errors.Trace(err)
	}
	if err := w.wal.LogUpdate(pageId, page); err != nil {
		return errors.Trace(err)
	}
	img := make([]byte, w.pageSize)
	copy(img, page.Data())
	w.pending[pageId] = img
	return nil
}

// Allocate runs the shared allocation policy against the shadow state and
// records whether the id came off the free stack or grew the file.
func (w *WalDiskManager) Allocate(txId basic.TransactionId) (basic.PageId, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return basic.NoPageId, basic.ErrResourceClosed
	}
	if err := w.ensureWalLocked(txId); err != nil {
		return basic.NoPageId, errors.Trace(err)
	}

	if w.shadowStack.Count() > 0 {
		top, err := w.shadowStack.Pop()
		if err != nil {
			return basic.NoPageId, errors.Trace(err)
		}
		pageId := basic.PageId(top)
		if err := w.wal.LogAllocateReuse(pageId); err != nil {
			return basic.NoPageId, errors.Trace(err)
		}
		w.shadowAllocated++
		w.pending[pageId] = nil
		return pageId, nil
	}

	pageId := basic.PageId(w.shadowMax + 1)
	extra := w.preallocate - 1
	if free := w.shadowStack.Capacity() - w.shadowStack.Count(); extra > free {
		extra = free
	}
	if extra < 0 {
		extra = 0
	}
	newMax := int64(pageId) + int64(extra)
	for id := newMax; id > int64(pageId); id-- {
		w.shadowStack.Offer(id)
	}
	w.shadowMax = newMax
	w.shadowAllocated++
	if err := w.wal.LogAllocateAppend(pageId); err != nil {
		return basic.NoPageId, errors.Trace(err)
	}
	w.pending[pageId] = nil
	return pageId, nil
}

// Free applies the shared free policy to the shadow state and logs the
// operation on behalf of txId.
func (w *WalDiskManager) Free(txId basic.TransactionId, pageId basic.PageId) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return basic.ErrResourceClosed
	}
	if err := w.validateShadowPageId(pageId); err != nil {
		return errors.Trace(err)
	}
	if w.shadowStack.Contains(int64(pageId)) {
		return errors.Annotatef(basic.ErrDoubleFree, "page %d", pageId)
	}
	if err := w.ensureWalLocked(txId); err != nil {
		return errors.Trace(err)
	}
	if err := w.wal.LogFree(pageId); err != nil {
		return errors.Trace(err)
	}
	if int64(pageId) == w.shadowMax {
		w.shadowAllocated--
		w.shadowMax--
	} else if w.shadowStack.Offer(int64(pageId)) {
		w.shadowAllocated--
	} else {
		w.shadowDangling++
		w.shadowAllocated--
	}
	delete(w.pending, pageId)
	return nil
}

// Commit seals the log, replays every entry against the main file in
// sequence order, stamps the file consistent and deletes the log. Only the
// owning transaction may commit an open log; a log recovered in COMMITTED
// state may be completed by any transaction.
func (w *WalDiskManager) Commit(txId basic.TransactionId) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return basic.ErrResourceClosed
	}
	if w.wal == nil {
		return nil
	}
	if w.wal.State() == WalStateOpen {
		if w.owner != txId {
			return errors.Annotatef(basic.ErrTransactionConflict,
				"log owned by %s, commit by %s", w.owner, txId)
		}
		if err := w.wal.LogCommit(); err != nil {
			return errors.Trace(err)
		}
	}
	return errors.Trace(w.commitLocked())
}

// commitLocked replays a sealed log into the main file and removes it.
func (w *WalDiskManager) commitLocked() error {
	err := w.wal.Replay(func(entry WalEntry, payload *pages.Page) error {
		switch entry.Action {
		case ActionUpdate:
			return errors.Trace(w.writePageLocked(entry.PageId, payload.Data()))
		case ActionAllocateAppend, ActionAllocateReuse:
			pageId, err := w.allocateLocked()
			if err != nil {
				return errors.Trace(err)
			}
			if pageId != entry.PageId {
				return errors.Annotatef(basic.ErrDataCorruption,
					"WAL replay allocated page %d, log recorded %d", pageId, entry.PageId)
			}
			return nil
		case ActionFree:
			return errors.Trace(w.freeLocked(entry.PageId))
		}
		return errors.Annotatef(basic.ErrDataCorruption, "unknown WAL action %d", entry.Action)
	})
	if err != nil {
		// the WAL stays intact; a later commit retries from transferred
		return errors.Trace(err)
	}
	if err := w.finalizeLocked(); err != nil {
		return errors.Trace(err)
	}
	if err := w.wal.Remove(); err != nil {
		return errors.Trace(err)
	}
	w.wal = nil
	w.resetShadowLocked()
	return nil
}

// Rollback discards the log and restores the consistency bit; the main file
// was never modified. Only the owning transaction may roll an open log back,
// and a log already sealed COMMITTED can no longer be discarded.
func (w *WalDiskManager) Rollback(txId basic.TransactionId) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return basic.ErrResourceClosed
	}
	if w.wal == nil {
		return nil
	}
	if w.wal.State() == WalStateCommitted {
		return errors.Annotatef(basic.ErrTransactionConflict,
			"committed log must be completed with Commit")
	}
	if w.owner != txId {
		return errors.Annotatef(basic.ErrTransactionConflict,
			"log owned by %s, rollback by %s", w.owner, txId)
	}
	return errors.Trace(w.rollbackLocked())
}

func (w *WalDiskManager) rollbackLocked() error {
	if w.wal == nil {
		return nil
	}
	if w.wal.State() == WalStateOpen {
		if err := w.wal.LogAbort(); err != nil {
			return errors.Trace(err)
		}
	}
	if err := w.wal.Remove(); err != nil {
		return errors.Trace(err)
	}
	w.wal = nil
	if err := w.restoreConsistencyLocked(); err != nil {
		return errors.Trace(err)
	}
	w.resetShadowLocked()
	return nil
}

// Close resolves a pending log (completing a committed one, discarding an
// open one), stamps the file consistent and releases the lock. Idempotent.
func (w *WalDiskManager) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	if w.wal != nil {
		if w.wal.State() == WalStateCommitted {
			if err := w.commitLocked(); err != nil {
				return errors.Trace(err)
			}
		} else if err := w.rollbackLocked(); err != nil {
			return errors.Trace(err)
		}
	}
	return errors.Trace(w.closeLocked(true))
}

// Delete closes the manager and removes the page file and any log.
func (w *WalDiskManager) Delete() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.closed {
		if w.wal != nil {
			w.wal.Remove()
			w.wal = nil
		}
		if err := w.closeLocked(false); err != nil {
			return errors.Trace(err)
		}
	}
	if exists, _ := util.PathExists(WalPath(w.path)); exists {
		os.Remove(WalPath(w.path))
	}
	return errors.Trace(os.Remove(w.path))
}

// Pages returns the allocated page count as seen by this log.
func (w *WalDiskManager) Pages() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.shadowAllocated
}

// MaximumPageId returns the highest page id as seen by this log.
func (w *WalDiskManager) MaximumPageId() basic.PageId {
	w.mu.Lock()
	defer w.mu.Unlock()
	return basic.PageId(w.shadowMax)
}

// PageSize returns the page size in bytes.
func (w *WalDiskManager) PageSize() int {
	return w.pageSize
}

// PageShift returns the page shift of the file.
func (w *WalDiskManager) PageShift() int {
	return w.pageShift
}

// PendingOwner returns the id of the transaction owning the pending log,
// when one exists.
func (w *WalDiskManager) PendingOwner() (basic.TransactionId, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.wal == nil {
		return basic.TransactionId{}, false
	}
	return w.owner, true
}

// HasPendingWal reports whether a log is currently attached.
func (w *WalDiskManager) HasPendingWal() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.wal != nil
}
