package buffer_pool

import (
	"sync/atomic"

	"github.com/zhukovaskychina/hare-storage/engine/basic"
	"github.com/zhukovaskychina/hare-storage/engine/latch"
	"github.com/zhukovaskychina/hare-storage/engine/pages"
)

// Priority hints the eviction policy about the value of a cached page.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityDefault
	PriorityHigh
)

const refDisposed = -1

// PageRef pins one of the pool's pre-allocated page buffers to a page id.
// A reference is handed to callers retained (refCount >= 1); every Retain
// must be paired with exactly one Release. A reference whose count reaches
// -1 is disposed and its buffer slot may be re-pointed at another page.
//
// Each reference holds a pointer to its pool and the fixed index of the
// pool buffer slot it wraps.
type PageRef struct {
	pool  *BufferPool
	index int

	page *pages.Page

	pageId   basic.PageId
	priority Priority

	dirty    int32
	refCount int32
	token    uint64
}

// PageId returns the page id this reference currently points at, or
// basic.NoPageId for a detached scratch buffer.
func (r *PageRef) PageId() basic.PageId {
	return r.pageId
}

// Priority returns the eviction priority the reference was retrieved with.
func (r *PageRef) Priority() Priority {
	return r.priority
}

// Latch returns the per-page latch.
func (r *PageRef) Latch() *latch.Latch {
	return r.page.Latch()
}

// Page exposes the wrapped page.
func (r *PageRef) Page() *pages.Page {
	return r.page
}

// IsDirty reports whether the in-memory content differs from disk.
func (r *PageRef) IsDirty() bool {
	return atomic.LoadInt32(&r.dirty) != 0
}

func (r *PageRef) markDirty() {
	atomic.StoreInt32(&r.dirty, 1)
}

func (r *PageRef) clearDirty() {
	atomic.StoreInt32(&r.dirty, 0)
}

// RefCount returns the current pin count (-1 when disposed).
func (r *PageRef) RefCount() int {
	return int(atomic.LoadInt32(&r.refCount))
}

// Retain pins the reference. Retaining a disposed reference fails.
func (r *PageRef) Retain() error {
	for {
		cur := atomic.LoadInt32(&r.refCount)
		if cur == refDisposed {
			return basic.ErrAlreadyDisposed
		}
		if atomic.CompareAndSwapInt32(&r.refCount, cur, cur+1) {
			if cur == 0 {
				r.pool.queue.RemoveCandidate(r)
			}
			atomic.StoreUint64(&r.token, r.pool.nextToken())
			return nil
		}
	}
}

// Release unpins the reference; at zero the reference becomes an eviction
// candidate. Releasing a disposed reference reports AlreadyDisposed.
func (r *PageRef) Release() error {
	for {
		cur := atomic.LoadInt32(&r.refCount)
		if cur == refDisposed {
			return basic.ErrAlreadyDisposed
		}
		if cur == 0 {
			return basic.ErrResourceClosed
		}
		if atomic.CompareAndSwapInt32(&r.refCount, cur, cur-1) {
			if cur == 1 {
				r.pool.queue.OfferCandidate(r)
			}
			return nil
		}
	}
}

// tryClaim atomically transitions an unpinned reference to disposed; the
// claimer owns the buffer slot afterwards.
func (r *PageRef) tryClaim() bool {
	return atomic.CompareAndSwapInt32(&r.refCount, 0, refDisposed)
}

// dispose force-disposes the reference regardless of pin count. Only the
// pool uses this, while closing.
func (r *PageRef) dispose() {
	atomic.StoreInt32(&r.refCount, refDisposed)
}

// reset re-points the reference at a new page id. The slot must have been
// claimed first.
func (r *PageRef) reset(pageId basic.PageId, priority Priority, pinned bool) {
	r.pageId = pageId
	r.priority = priority
	r.clearDirty()
	atomic.StoreUint64(&r.token, r.pool.nextToken())
	if pinned {
		atomic.StoreInt32(&r.refCount, 1)
	} else {
		atomic.StoreInt32(&r.refCount, 0)
	}
}

// Typed accessors. Every mutating accessor sets the dirty flag; reads do
// not.

func (r *PageRef) GetByte(off int) byte          { return r.page.GetByte(off) }
func (r *PageRef) GetShort(off int) int16        { return r.page.GetShort(off) }
func (r *PageRef) GetInt(off int) int32          { return r.page.GetInt(off) }
func (r *PageRef) GetLong(off int) int64         { return r.page.GetLong(off) }
func (r *PageRef) GetFloat(off int) float32      { return r.page.GetFloat(off) }
func (r *PageRef) GetDouble(off int) float64     { return r.page.GetDouble(off) }
func (r *PageRef) GetBytes(off, length int) []byte { return r.page.GetBytes(off, length) }

func (r *PageRef) PutByte(off int, v byte) {
	r.page.PutByte(off, v)
	r.markDirty()
}

func (r *PageRef) PutShort(off int, v int16) {
	r.page.PutShort(off, v)
	r.markDirty()
}

func (r *PageRef) PutInt(off int, v int32) {
	r.page.PutInt(off, v)
	r.markDirty()
}

func (r *PageRef) PutLong(off int, v int64) {
	r.page.PutLong(off, v)
	r.markDirty()
}

func (r *PageRef) PutFloat(off int, v float32) {
	r.page.PutFloat(off, v)
	r.markDirty()
}

func (r *PageRef) PutDouble(off int, v float64) {
	r.page.PutDouble(off, v)
	r.markDirty()
}

func (r *PageRef) PutBytes(off int, v []byte) {
	r.page.PutBytes(off, v)
	r.markDirty()
}

func (r *PageRef) Zero(off, length int) {
	r.page.Zero(off, length)
	r.markDirty()
}

var _ pages.Typed = (*PageRef)(nil)
