package column

import (
	"sync"

	"github.com/juju/errors"
	"github.com/zhukovaskychina/hare-storage/engine/basic"
	"github.com/zhukovaskychina/hare-storage/engine/buffer_pool"
	"github.com/zhukovaskychina/hare-storage/engine/pages"
)

// ColumnReader is a per-transaction read handle. Every access takes the
// reader's local lock shared and the touched page's latch shared, so
// concurrent gets on the same page are safe while writers on the same page
// serialise at the latch.
type ColumnReader struct {
	file   *FixedColumnFile
	pool   *buffer_pool.BufferPool
	handle int64

	mu     sync.RWMutex
	closed bool
}

// TransactionId returns the id of the reader's buffer pool.
func (r *ColumnReader) TransactionId() basic.TransactionId {
	return r.pool.TransactionId()
}

func (r *ColumnReader) headerView() (pages.ColumnHeader, *buffer_pool.PageRef, error) {
	ref, err := r.pool.Get(HeaderPageId, buffer_pool.PriorityHigh)
	if err != nil {
		return pages.ColumnHeader{}, nil, errors.Trace(err)
	}
	return pages.NewColumnHeader(ref), ref, nil
}

func (r *ColumnReader) checkBounds(tupleId basic.TupleId) error {
	header, ref, err := r.headerView()
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

// Get returns the value stored under tupleId, nil for a null entry.
// Reading a deleted entry fails with EntryDeleted.
func (r *ColumnReader) Get(tupleId basic.TupleId) (interface{}, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, basic.ErrResourceClosed
	}
	if err := r.checkBounds(tupleId); err != nil {
		return nil, errors.Trace(err)
	}
	address := r.file.ToAddress(tupleId)
	ref, err := r.pool.Get(address.PageId(), buffer_pool.PriorityDefault)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer ref.Release()
	off := int(address.SlotId()) * r.file.entrySize

	ref.Latch().Shared()
	defer ref.Latch().ReleaseShared()
	flags := ref.GetInt(off)
	if flags&FlagDeleted != 0 {
		return nil, errors.Annotatef(basic.ErrEntryDeleted, "tuple %d", tupleId)
	}
	if flags&FlagNull != 0 {
		return nil, nil
	}
	return r.file.ser.Deserialize(ref, off+EntryHeaderSize), nil
}

// Count returns the number of non-deleted entries.
func (r *ColumnReader) Count() (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return 0, basic.ErrResourceClosed
	}
	header, ref, err := r.headerView()
	if err != nil {
		return 0, errors.Trace(err)
	}
	ref.Latch().Shared()
	count := header.Count()
	ref.Latch().ReleaseShared()
	ref.Release()
	return count, nil
}

// MaxTupleId returns the highest valid tuple id (-1 for an empty column).
func (r *ColumnReader) MaxTupleId() (basic.TupleId, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return -1, basic.ErrResourceClosed
	}
	header, ref, err := r.headerView()
	if err != nil {
		return -1, errors.Trace(err)
	}
	ref.Latch().Shared()
	max := header.MaxTupleId()
	ref.Latch().ReleaseShared()
	ref.Release()
	return basic.TupleId(max), nil
}

func (r *ColumnReader) entryFlags(tupleId basic.TupleId) (int32, error) {
	if err := r.checkBounds(tupleId); err != nil {
		return 0, errors.Trace(err)
	}
	address := r.file.ToAddress(tupleId)
	ref, err := r.pool.Get(address.PageId(), buffer_pool.PriorityDefault)
	if err != nil {
		return 0, errors.Trace(err)
	}
	defer ref.Release()
	off := int(address.SlotId()) * r.file.entrySize
	ref.Latch().Shared()
	defer ref.Latch().ReleaseShared()
	return ref.GetInt(off), nil
}

// IsNull reports whether the entry's NULL flag is set.
func (r *ColumnReader) IsNull(tupleId basic.TupleId) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return false, basic.ErrResourceClosed
	}
	flags, err := r.entryFlags(tupleId)
	if err != nil {
		return false, errors.Trace(err)
	}
	return flags&FlagNull != 0, nil
}

// IsDeleted reports whether the entry's DELETED flag is set.
func (r *ColumnReader) IsDeleted(tupleId basic.TupleId) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return false, basic.ErrResourceClosed
	}
	flags, err := r.entryFlags(tupleId)
	if err != nil {
		return false, errors.Trace(err)
	}
	return flags&FlagDeleted != 0, nil
}

// Prefetch schedules a background read of the pages covering
// [startTupleId, startTupleId+count).
func (r *ColumnReader) Prefetch(startTupleId basic.TupleId, count int64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed || count <= 0 {
		return
	}
	first := r.file.ToAddress(startTupleId).PageId()
	last := r.file.ToAddress(startTupleId + basic.TupleId(count) - 1).PageId()
	r.pool.Prefetch(first, int(last-first)+1)
}

// Close releases the column gate and the buffer pool. Idempotent.
func (r *ColumnReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if err := r.pool.Close(); err != nil {
		return errors.Trace(err)
	}
	r.file.gate.release(r.handle)
	return nil
}
