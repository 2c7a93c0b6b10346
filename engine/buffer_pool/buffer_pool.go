package buffer_pool

import (
	"sync"
	"sync/atomic"

	"github.com/juju/errors"
	"github.com/zhukovaskychina/hare-storage/engine/basic"
	"github.com/zhukovaskychina/hare-storage/engine/pages"
	"github.com/zhukovaskychina/hare-storage/engine/store"
	"github.com/zhukovaskychina/hare-storage/logger"
)

// BufferPool caches pages of one disk manager in a contiguous slab of
// pre-allocated page buffers. Pages are pinned through reference counting
// and recycled through a pluggable eviction queue. Every pool carries its
// own transaction id.
type BufferPool struct {
	txId basic.TransactionId
	disk store.DiskManager

	size     int
	pageSize int
	memory   []byte
	refs     []*PageRef

	// directory 将页面号映射到缓冲区槽位
	directory map[basic.PageId]*PageRef
	dirMu     sync.RWMutex

	closeMu sync.RWMutex
	closed  bool

	queue     EvictionQueue
	tokenSeq  uint64
	collector MetricsCollector
	stats     *BufferPoolStats

	prefetcher *prefetcher
}

// BufferPoolConfig contains configuration for a buffer pool.
type BufferPoolConfig struct {
	Size              int
	Policy            EvictionPolicy
	Collector         MetricsCollector
	PrefetchWorkers   int
	PrefetchQueueSize int
}

// NewBufferPool builds a pool of config.Size page buffers over disk.
func NewBufferPool(disk store.DiskManager, config *BufferPoolConfig) *BufferPool {
	if config.Size <= 0 {
		panic("buffer pool size must be positive")
	}
	policy := config.Policy
	if policy == nil {
		policy = LruPolicy{}
	}
	stats := NewBufferPoolStats()
	collector := config.Collector
	if collector == nil {
		collector = stats
	}

	pageSize := disk.PageSize()
	bp := &BufferPool{
		txId:      basic.NewTransactionId(),
		disk:      disk,
		size:      config.Size,
		pageSize:  pageSize,
		memory:    make([]byte, config.Size*pageSize),
		refs:      make([]*PageRef, config.Size),
		directory: make(map[basic.PageId]*PageRef),
		queue:     policy.NewQueue(),
		collector: collector,
		stats:     stats,
	}
	for i := 0; i < config.Size; i++ {
		ref := &PageRef{
			pool:   bp,
			index:  i,
			page:   pages.Wrap(bp.memory[i*pageSize : (i+1)*pageSize]),
			pageId: basic.NoPageId,
		}
		bp.refs[i] = ref
		bp.queue.OfferCandidate(ref)
	}
	bp.prefetcher = newPrefetcher(bp, config.PrefetchWorkers, config.PrefetchQueueSize)
	return bp
}

// TransactionId returns the pool's transaction id.
func (bp *BufferPool) TransactionId() basic.TransactionId {
	return bp.txId
}

// Stats returns the pool's statistics block.
func (bp *BufferPool) Stats() *BufferPoolStats {
	return bp.stats
}

// Size returns the number of page buffers.
func (bp *BufferPool) Size() int {
	return bp.size
}

func (bp *BufferPool) nextToken() uint64 {
	return atomic.AddUint64(&bp.tokenSeq, 1)
}

// Get returns a retained reference to pageId, reading the page from disk on
// a miss. The caller must Release the reference exactly once.
func (bp *BufferPool) Get(pageId basic.PageId, priority Priority) (*PageRef, error) {
	bp.closeMu.RLock()
	defer bp.closeMu.RUnlock()
	if bp.closed {
		return nil, basic.ErrResourceClosed
	}
	bp.collector.RecordPageAccess()

	// fast path: page already cached
	for {
		bp.dirMu.RLock()
		ref, ok := bp.directory[pageId]
		bp.dirMu.RUnlock()
		if !ok {
			break
		}
		if err := ref.Retain(); err == nil {
			if ref.PageId() == pageId {
				return ref, nil
			}
			// the slot was re-pointed between lookup and retain
			ref.Release()
			continue
		}
		// the reference was claimed for eviction; retry the lookup
	}

	bp.collector.RecordPageMiss()

	bp.dirMu.Lock()
	defer bp.dirMu.Unlock()
	// somebody may have loaded the page while we upgraded the lock
	if ref, ok := bp.directory[pageId]; ok {
		if err := ref.Retain(); err == nil {
			return ref, nil
		}
	}

	victim, err := bp.claimVictimLocked()
	if err != nil {
		return nil, errors.Trace(err)
	}
	victim.reset(pageId, priority, true)
	if err := bp.disk.Read(pageId, victim.page); err != nil {
		// return the buffer slot to the free pool
		victim.reset(basic.NoPageId, PriorityDefault, false)
		bp.queue.OfferCandidate(victim)
		return nil, errors.Trace(err)
	}
	bp.stats.RecordPageRead()
	bp.directory[pageId] = victim
	return victim, nil
}

// claimVictimLocked polls the eviction queue for a claimable reference,
// flushes it when dirty and unlinks it from the directory.
func (bp *BufferPool) claimVictimLocked() (*PageRef, error) {
	victim := bp.queue.Poll()
	if victim.pageId != basic.NoPageId {
		if victim.IsDirty() {
			if err := bp.disk.Update(bp.txId, victim.pageId, victim.page); err != nil {
				// a page that cannot be flushed must not be recycled
				victim.reset(victim.pageId, victim.priority, false)
				bp.queue.OfferCandidate(victim)
				return nil, errors.Annotatef(err, "flushing dirty page %d before eviction", victim.pageId)
			}
			victim.clearDirty()
			bp.stats.RecordPageWrite()
		}
		delete(bp.directory, victim.pageId)
		bp.stats.RecordPageEviction()
	}
	return victim, nil
}

// Detach evicts a buffer slot and hands it out as a retained scratch buffer
// with no page id. The buffer counts toward the pool size.
func (bp *BufferPool) Detach() (*PageRef, error) {
	bp.closeMu.RLock()
	defer bp.closeMu.RUnlock()
	if bp.closed {
		return nil, basic.ErrResourceClosed
	}
	bp.dirMu.Lock()
	defer bp.dirMu.Unlock()
	victim, err := bp.claimVictimLocked()
	if err != nil {
		return nil, errors.Trace(err)
	}
	victim.reset(basic.NoPageId, PriorityDefault, true)
	victim.page.Clear()
	victim.clearDirty()
	return victim, nil
}

// Append allocates a fresh page on disk and writes the detached buffer's
// content to it.
func (bp *BufferPool) Append(ref *PageRef) (basic.PageId, error) {
	bp.closeMu.RLock()
	defer bp.closeMu.RUnlock()
	if bp.closed {
		return basic.NoPageId, basic.ErrResourceClosed
	}
	pageId, err := bp.disk.Allocate(bp.txId)
	if err != nil {
		return basic.NoPageId, errors.Trace(err)
	}
	if err := bp.disk.Update(bp.txId, pageId, ref.page); err != nil {
		return basic.NoPageId, errors.Trace(err)
	}
	bp.stats.RecordPageWrite()
	return pageId, nil
}

// Prefetch schedules a background bulk read of [startId, startId+count).
// The pages are registered in the directory but not retained.
func (bp *BufferPool) Prefetch(startId basic.PageId, count int) {
	bp.closeMu.RLock()
	defer bp.closeMu.RUnlock()
	if bp.closed || count <= 0 {
		return
	}
	bp.prefetcher.trigger(startId, count)
}

// loadRange performs the prefetch I/O: evict enough slots to hold the
// range, bulk-read it, and register the pages unpinned.
func (bp *BufferPool) loadRange(startId basic.PageId, count int) {
	if count > bp.size {
		count = bp.size
	}
	bp.closeMu.RLock()
	defer bp.closeMu.RUnlock()
	if bp.closed {
		return
	}
	bp.dirMu.Lock()
	defer bp.dirMu.Unlock()

	var missing []basic.PageId
	for i := 0; i < count; i++ {
		pageId := startId + basic.PageId(i)
		if _, ok := bp.directory[pageId]; !ok {
			missing = append(missing, pageId)
		}
	}
	if len(missing) == 0 {
		return
	}

	victims := make([]*PageRef, 0, len(missing))
	ps := make([]*pages.Page, 0, len(missing))
	for range missing {
		victim, err := bp.claimVictimLocked()
		if err != nil {
			logger.Warnf("prefetch aborted: %v", err)
			break
		}
		victims = append(victims, victim)
		ps = append(ps, victim.page)
	}

	contiguous := len(victims) == count
	if contiguous {
		if err := bp.disk.ReadRange(startId, ps); err != nil {
			logger.Warnf("prefetch bulk read failed: %v", err)
			contiguous = false
		}
	}
	for i, victim := range victims {
		pageId := missing[i]
		if !contiguous {
			if err := bp.disk.Read(pageId, victim.page); err != nil {
				logger.Warnf("prefetch of page %d failed: %v", pageId, err)
				victim.reset(basic.NoPageId, PriorityDefault, false)
				bp.queue.OfferCandidate(victim)
				continue
			}
		}
		victim.reset(pageId, PriorityLow, false)
		bp.directory[pageId] = victim
		bp.queue.OfferCandidate(victim)
		bp.stats.RecordPageRead()
	}
}

// Flush writes every dirty page back to disk and clears the dirty flags.
func (bp *BufferPool) Flush() error {
	bp.closeMu.RLock()
	defer bp.closeMu.RUnlock()
	if bp.closed {
		return basic.ErrResourceClosed
	}
	bp.dirMu.RLock()
	defer bp.dirMu.RUnlock()
	return errors.Trace(bp.flushLocked())
}

func (bp *BufferPool) flushLocked() error {
	for pageId, ref := range bp.directory {
		if !ref.IsDirty() {
			continue
		}
		if err := bp.disk.Update(bp.txId, pageId, ref.page); err != nil {
			return errors.Annotatef(err, "flushing page %d", pageId)
		}
		ref.clearDirty()
		bp.stats.RecordPageWrite()
	}
	return nil
}

// Synchronize re-reads every dirty page from disk, discarding in-memory
// modifications.
func (bp *BufferPool) Synchronize() error {
	bp.closeMu.RLock()
	defer bp.closeMu.RUnlock()
	if bp.closed {
		return basic.ErrResourceClosed
	}
	bp.dirMu.RLock()
	defer bp.dirMu.RUnlock()
	for pageId, ref := range bp.directory {
		if !ref.IsDirty() {
			continue
		}
		if err := bp.disk.Read(pageId, ref.page); err != nil {
			return errors.Annotatef(err, "synchronizing page %d", pageId)
		}
		ref.clearDirty()
		bp.stats.RecordPageRead()
	}
	return nil
}

// Close flushes dirty pages and disposes every reference. Idempotent.
func (bp *BufferPool) Close() error {
	// drain the prefetch workers before the close lock; they take it shared
	bp.prefetcher.stop()
	bp.closeMu.Lock()
	defer bp.closeMu.Unlock()
	if bp.closed {
		return nil
	}
	bp.dirMu.Lock()
	defer bp.dirMu.Unlock()
	if err := bp.flushLocked(); err != nil {
		return errors.Trace(err)
	}
	for _, ref := range bp.refs {
		ref.dispose()
	}
	bp.directory = make(map[basic.PageId]*PageRef)
	bp.closed = true
	return nil
}
