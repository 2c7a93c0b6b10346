package column

import (
	"reflect"
	"sync"

	"github.com/juju/errors"
	"github.com/zhukovaskychina/hare-storage/engine/basic"
	"github.com/zhukovaskychina/hare-storage/engine/buffer_pool"
	"github.com/zhukovaskychina/hare-storage/engine/pages"
)

// ColumnWriter is a per-transaction write handle. It holds the column gate
// exclusively, so it never runs concurrently with readers or other writers
// on the same file; page latches still guard every mutation.
type ColumnWriter struct {
	file   *FixedColumnFile
	pool   *buffer_pool.BufferPool
	handle int64

	mu     sync.Mutex
	closed bool
}

// TransactionId returns the id of the writer's buffer pool.
func (w *ColumnWriter) TransactionId() basic.TransactionId {
	return w.pool.TransactionId()
}

func (w *ColumnWriter) headerRef() (pages.ColumnHeader, *buffer_pool.PageRef, error) {
	ref, err := w.pool.Get(HeaderPageId, buffer_pool.PriorityHigh)
	if err != nil {
		return pages.ColumnHeader{}, nil, errors.Trace(err)
	}
	return pages.NewColumnHeader(ref), ref, nil
}

func (w *ColumnWriter) checkBounds(tupleId basic.TupleId) error {
	header, ref, err := w.headerRef()
	if err != nil {
		return errors.Trace(err)
	}
	ref.Latch().Shared()
	max := header.MaxTupleId()
	ref.Latch().ReleaseShared()
	ref.Release()
	if int64(tupleId) < 0 || int64(tupleId) > max {
		return errors.Annotatef(basic.ErrTupleIdOutOfBounds, "tuple %d, maximum %d", tupleId, max)
	}
	return nil
}

// writeEntry writes flags and payload for a value; the caller holds the
// page latch exclusively.
func (w *ColumnWriter) writeEntry(ref *buffer_pool.PageRef, off int, flags int32, value interface{}) error {
	if value == nil {
		ref.Zero(off+EntryHeaderSize, w.file.entrySize-EntryHeaderSize)
		ref.PutInt(off, (flags|FlagNull)&^FlagDeleted)
		return nil
	}
	if err := w.file.ser.Serialize(ref, off+EntryHeaderSize, value); err != nil {
		return errors.Trace(err)
	}
	ref.PutInt(off, flags&^(FlagNull|FlagDeleted))
	return nil
}

// Update replaces the value stored under tupleId. A nil value marks the
// entry null; on a non-nullable column that fails with NullValueNotAllowed.
func (w *ColumnWriter) Update(tupleId basic.TupleId, value interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return basic.ErrResourceClosed
	}
	if value == nil && !w.file.def.Nullable {
		return errors.Annotatef(basic.ErrNullValueNotAllowed, "column %s", w.file.def.Name)
	}
	if err := w.checkBounds(tupleId); err != nil {
		return errors.Trace(err)
	}
	address := w.file.ToAddress(tupleId)
	ref, err := w.pool.Get(address.PageId(), buffer_pool.PriorityDefault)
	if err != nil {
		return errors.Trace(err)
	}
	defer ref.Release()
	off := int(address.SlotId()) * w.file.entrySize

	ref.Latch().Exclusive()
	defer ref.Latch().ReleaseExclusive()
	flags := ref.GetInt(off)
	if flags&FlagDeleted != 0 {
		return errors.Annotatef(basic.ErrEntryDeleted, "tuple %d", tupleId)
	}
	return errors.Trace(w.writeEntry(ref, off, flags, value))
}

// CompareAndUpdate replaces the value only when the current value equals
// expected; it returns whether the swap happened. The comparison and the
// update run under the same exclusive page latch.
func (w *ColumnWriter) CompareAndUpdate(tupleId basic.TupleId, expected interface{}, value interface{}) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return false, basic.ErrResourceClosed
	}
	if value == nil && !w.file.def.Nullable {
		return false, errors.Annotatef(basic.ErrNullValueNotAllowed, "column %s", w.file.def.Name)
	}
	if err := w.checkBounds(tupleId); err != nil {
		return false, errors.Trace(err)
	}
	address := w.file.ToAddress(tupleId)
	ref, err := w.pool.Get(address.PageId(), buffer_pool.PriorityDefault)
	if err != nil {
		return false, errors.Trace(err)
	}
	defer ref.Release()
	off := int(address.SlotId()) * w.file.entrySize

	ref.Latch().Exclusive()
	defer ref.Latch().ReleaseExclusive()
	flags := ref.GetInt(off)
	if flags&FlagDeleted != 0 {
		return false, errors.Annotatef(basic.ErrEntryDeleted, "tuple %d", tupleId)
	}
	var current interface{}
	if flags&FlagNull == 0 {
		current = w.file.ser.Deserialize(ref, off+EntryHeaderSize)
	}
	if !reflect.DeepEqual(current, expected) {
		return false, nil
	}
	if err := w.writeEntry(ref, off, flags, value); err != nil {
		return false, errors.Trace(err)
	}
	return true, nil
}

// Delete marks the entry deleted, zeroes its payload and returns the
// previous value. The header page is updated under its exclusive latch.
func (w *ColumnWriter) Delete(tupleId basic.TupleId) (interface{}, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, basic.ErrResourceClosed
	}
	header, headerRef, err := w.headerRef()
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer headerRef.Release()
	headerRef.Latch().Exclusive()
	defer headerRef.Latch().ReleaseExclusive()
	if int64(tupleId) < 0 || int64(tupleId) > header.MaxTupleId() {
		return nil, errors.Annotatef(basic.ErrTupleIdOutOfBounds, "tuple %d, maximum %d", tupleId, header.MaxTupleId())
	}

	address := w.file.ToAddress(tupleId)
	ref, err := w.pool.Get(address.PageId(), buffer_pool.PriorityDefault)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer ref.Release()
	off := int(address.SlotId()) * w.file.entrySize

	ref.Latch().Exclusive()
	defer ref.Latch().ReleaseExclusive()
	flags := ref.GetInt(off)
	if flags&FlagDeleted != 0 {
		return nil, errors.Annotatef(basic.ErrEntryDeleted, "tuple %d", tupleId)
	}
	var previous interface{}
	if flags&FlagNull == 0 {
		previous = w.file.ser.Deserialize(ref, off+EntryHeaderSize)
	}
	ref.PutInt(off, FlagDeleted)
	ref.Zero(off+EntryHeaderSize, w.file.entrySize-EntryHeaderSize)

	header.SetCount(header.Count() - 1)
	header.SetDeleted(header.Deleted() + 1)
	return previous, nil
}

// Append writes value under a fresh tuple id and returns it. The header
// page stays exclusively latched for the whole operation; a new data page is
// appended through the buffer pool when the entry crosses a page boundary.
func (w *ColumnWriter) Append(value interface{}) (basic.TupleId, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return -1, basic.ErrResourceClosed
	}
	if value == nil && !w.file.def.Nullable {
		return -1, errors.Annotatef(basic.ErrNullValueNotAllowed, "column %s", w.file.def.Name)
	}
	header, headerRef, err := w.headerRef()
	if err != nil {
		return -1, errors.Trace(err)
	}
	defer headerRef.Release()
	headerRef.Latch().Exclusive()
	defer headerRef.Latch().ReleaseExclusive()

	tupleId := basic.TupleId(header.MaxTupleId() + 1)
	address := w.file.ToAddress(tupleId)

	if int64(address.PageId()) > w.file.disk.Pages() {
		scratch, err := w.pool.Detach()
		if err != nil {
			return -1, errors.Trace(err)
		}
		newPageId, err := w.pool.Append(scratch)
		scratch.Release()
		if err != nil {
			return -1, errors.Trace(err)
		}
		if newPageId != address.PageId() {
			return -1, errors.Annotatef(basic.ErrDataCorruption,
				"appended page %d, tuple %d maps to page %d", newPageId, tupleId, address.PageId())
		}
	}

	ref, err := w.pool.Get(address.PageId(), buffer_pool.PriorityDefault)
	if err != nil {
		return -1, errors.Trace(err)
	}
	defer ref.Release()
	off := int(address.SlotId()) * w.file.entrySize

	ref.Latch().Exclusive()
	if err := w.writeEntry(ref, off, 0, value); err != nil {
		ref.Latch().ReleaseExclusive()
		return -1, errors.Trace(err)
	}
	ref.Latch().ReleaseExclusive()

	header.SetMaxTupleId(int64(tupleId))
	header.SetCount(header.Count() + 1)
	return tupleId, nil
}

// Commit flushes the buffer pool and commits the disk manager under the
// pool's transaction id.
func (w *ColumnWriter) Commit() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return basic.ErrResourceClosed
	}
	if err := w.pool.Flush(); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(w.file.disk.Commit(w.pool.TransactionId()))
}

// Rollback discards the pending disk state, then re-reads every dirty page
// so the pool reflects the restored file.
func (w *ColumnWriter) Rollback() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return basic.ErrResourceClosed
	}
	if err := w.file.disk.Rollback(w.pool.TransactionId()); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(w.pool.Synchronize())
}

// Close ends the transaction without committing: whatever the pool flushed
// into a still-pending log is rolled back, then the column gate and the
// buffer pool are released. Idempotent.
func (w *ColumnWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	txId := w.pool.TransactionId()
	if err := w.pool.Close(); err != nil {
		return errors.Trace(err)
	}
	if err := w.file.disk.Rollback(txId); err != nil {
		return errors.Trace(err)
	}
	w.file.gate.release(w.handle)
	return nil
}
