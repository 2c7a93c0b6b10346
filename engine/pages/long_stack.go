package pages

import (
	"github.com/zhukovaskychina/hare-storage/engine/basic"
)

const (
	stackCountOff = 0
	stackEntryOff = 4
	stackEntrySz  = 8
)

// LongStack is a bounded LIFO stack of 64-bit integers stored inside a
// page-sized buffer. The page file uses one to hold its free page ids: the
// first 4 bytes carry the element count, followed by count big-endian longs.
type LongStack struct {
	page *Page
}

// NewLongStack wraps a page buffer as a stack view.
func NewLongStack(page *Page) LongStack {
	return LongStack{page: page}
}

// Init resets the stack to empty.
func (s LongStack) Init() {
	s.page.Clear()
	s.page.PutInt(stackCountOff, 0)
}

// Page returns the underlying page buffer.
func (s LongStack) Page() *Page {
	return s.page
}

// Count returns the number of entries on the stack.
func (s LongStack) Count() int {
	return int(s.page.GetInt(stackCountOff))
}

// Capacity returns the maximum number of entries the stack can hold.
func (s LongStack) Capacity() int {
	return (s.page.Size() - stackEntryOff) / stackEntrySz
}

// Offer pushes v onto the stack. It returns false when the stack is full.
func (s LongStack) Offer(v int64) bool {
	count := s.Count()
	if count >= s.Capacity() {
		return false
	}
	s.page.PutLong(stackEntryOff+count*stackEntrySz, v)
	s.page.PutInt(stackCountOff, int32(count+1))
	return true
}

// Pop removes and returns the topmost entry. Popping an empty stack is an
// error.
func (s LongStack) Pop() (int64, error) {
	count := s.Count()
	if count == 0 {
		return 0, basic.ErrStackEmpty
	}
	v := s.page.GetLong(stackEntryOff + (count-1)*stackEntrySz)
	s.page.PutInt(stackCountOff, int32(count-1))
	return v, nil
}

// Peek returns the topmost entry without removing it.
func (s LongStack) Peek() (int64, error) {
	count := s.Count()
	if count == 0 {
		return 0, basic.ErrStackEmpty
	}
	return s.page.GetLong(stackEntryOff + (count-1)*stackEntrySz), nil
}

// Contains scans the stack for v. O(n).
func (s LongStack) Contains(v int64) bool {
	count := s.Count()
	for i := 0; i < count; i++ {
		if s.page.GetLong(stackEntryOff+i*stackEntrySz) == v {
			return true
		}
	}
	return false
}
