package basic

import (
	"github.com/google/uuid"
)

// PageId identifies a logical page within a page file. Logical id 1 maps to
// the third physical page of the file; the first two physical pages hold the
// file header and the free-page stack.
type PageId int64

// NoPageId 表示"没有页面"
const NoPageId PageId = -1

// SlotId identifies a fixed-size slot within a data page.
type SlotId uint16

// TupleId is the stable external identifier of a column entry. Tuple ids are
// handed out monotonically by the column writer and never reused.
type TupleId int64

// Address packs a (PageId, SlotId) pair into a single 64-bit value. The low
// 16 bits hold the slot, the remaining bits the page id.
type Address int64

const slotBits = 16

// NewAddress packs pageId and slotId into an Address.
func NewAddress(pageId PageId, slotId SlotId) Address {
	return Address(int64(pageId)<<slotBits | int64(slotId))
}

// PageId recovers the page half of the address.
func (a Address) PageId() PageId {
	return PageId(a >> slotBits)
}

// SlotId recovers the slot half of the address.
func (a Address) SlotId() SlotId {
	return SlotId(a & 0xFFFF)
}

// TransactionId is the 128-bit identifier attached to every buffer pool and
// recorded in the write-ahead log as the write-ownership tag.
type TransactionId = uuid.UUID

// NewTransactionId mints a fresh random transaction id.
func NewTransactionId() TransactionId {
	return uuid.New()
}
