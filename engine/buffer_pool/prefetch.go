package buffer_pool

import (
	"sync"

	"github.com/zhukovaskychina/hare-storage/engine/basic"
	"github.com/zhukovaskychina/hare-storage/logger"
)

// prefetchRequest 预读请求
type prefetchRequest struct {
	startId basic.PageId
	count   int
}

// prefetcher forwards Prefetch calls over a bounded channel to dedicated
// I/O workers, so foreground callers never wait for the bulk read.
type prefetcher struct {
	pool     *BufferPool
	requests chan prefetchRequest
	wg       sync.WaitGroup
	mu       sync.RWMutex
	stopped  bool
}

func newPrefetcher(pool *BufferPool, workers int, queueSize int) *prefetcher {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 32
	}
	p := &prefetcher{
		pool:     pool,
		requests: make(chan prefetchRequest, queueSize),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// trigger enqueues a request; when the queue is full the request is dropped
// rather than blocking the caller.
func (p *prefetcher) trigger(startId basic.PageId, count int) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return
	}
	select {
	case p.requests <- prefetchRequest{startId: startId, count: count}:
	default:
		logger.Debugf("prefetch queue full, dropping request for pages [%d, %d)", startId, int64(startId)+int64(count))
	}
}

// worker 预读工作线程
func (p *prefetcher) worker() {
	defer p.wg.Done()
	for req := range p.requests {
		p.pool.loadRange(req.startId, req.count)
	}
}

func (p *prefetcher) stop() {
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		close(p.requests)
	}
	p.mu.Unlock()
	p.wg.Wait()
}
