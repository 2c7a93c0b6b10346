package column

import (
	"sync"

	"github.com/juju/errors"
	"github.com/zhukovaskychina/hare-storage/engine/basic"
	"github.com/zhukovaskychina/hare-storage/engine/buffer_pool"
)

// ColumnCursor iterates tuple ids of a window forward-only, skipping
// deleted entries. The window end is captured at construction, so appends
// made afterwards stay invisible. The cursor never reads payloads; it is
// meant to drive a reader.
type ColumnCursor struct {
	file   *FixedColumnFile
	pool   *buffer_pool.BufferPool
	handle int64

	start   basic.TupleId
	end     basic.TupleId
	current basic.TupleId

	mu     sync.Mutex
	closed bool
}

// HasNext advances to the next non-deleted tuple id inside the window and
// reports whether one exists.
func (c *ColumnCursor) HasNext() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	for next := c.current + 1; next <= c.end; next++ {
		deleted, err := c.isDeleted(next)
		if err != nil {
			return false
		}
		if !deleted {
			c.current = next
			return true
		}
	}
	c.current = c.end + 1
	return false
}

// Next returns the tuple id HasNext advanced to.
func (c *ColumnCursor) Next() basic.TupleId {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *ColumnCursor) isDeleted(tupleId basic.TupleId) (bool, error) {
	address := c.file.ToAddress(tupleId)
	ref, err := c.pool.Get(address.PageId(), buffer_pool.PriorityLow)
	if err != nil {
		return false, errors.Trace(err)
	}
	defer ref.Release()
	off := int(address.SlotId()) * c.file.entrySize
	ref.Latch().Shared()
	defer ref.Latch().ReleaseShared()
	return ref.GetInt(off)&FlagDeleted != 0, nil
}

// Close releases the column gate and the buffer pool. Idempotent.
func (c *ColumnCursor) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if err := c.pool.Close(); err != nil {
		return errors.Trace(err)
	}
	c.file.gate.release(c.handle)
	return nil
}
