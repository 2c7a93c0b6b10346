package pages

import (
	"github.com/juju/errors"
	"github.com/zhukovaskychina/hare-storage/engine/basic"
)

// PageTypeFixedColumnHeader tags logical page 1 of a fixed column file.
const PageTypeFixedColumnHeader int32 = 1

// Column header field offsets within logical page 1.
const (
	colOffPageType    = 0
	colOffTypeOrdinal = 4
	colOffLogicalSize = 8
	colOffEntrySize   = 12
	colOffFlags       = 16
	colOffCount       = 24
	colOffDeleted     = 32
	colOffMaxTupleId  = 40
)

const colFlagNullable int64 = 1 << 0

// ColumnHeader is a typed view of the column header page. It works on any
// Typed target, so callers can route it through a buffer pool page reference
// and have mutations tracked by the dirty flag.
type ColumnHeader struct {
	p Typed
}

// NewColumnHeader wraps a typed page as a column header view.
func NewColumnHeader(p Typed) ColumnHeader {
	return ColumnHeader{p: p}
}

// Init writes a fresh column header.
func (h ColumnHeader) Init(typeOrdinal int32, logicalSize int32, entrySize int32, nullable bool) {
	h.p.PutInt(colOffPageType, PageTypeFixedColumnHeader)
	h.p.PutInt(colOffTypeOrdinal, typeOrdinal)
	h.p.PutInt(colOffLogicalSize, logicalSize)
	h.p.PutInt(colOffEntrySize, entrySize)
	var flags int64
	if nullable {
		flags |= colFlagNullable
	}
	h.p.PutLong(colOffFlags, flags)
	h.p.PutLong(colOffCount, 0)
	h.p.PutLong(colOffDeleted, 0)
	h.p.PutLong(colOffMaxTupleId, -1)
}

// TypeOrdinal returns the registry ordinal of the column type.
func (h ColumnHeader) TypeOrdinal() int32 {
	return h.p.GetInt(colOffTypeOrdinal)
}

// LogicalSize returns the structural element count (-1 for scalars).
func (h ColumnHeader) LogicalSize() int32 {
	return h.p.GetInt(colOffLogicalSize)
}

// EntrySize returns the physical entry size in bytes, including the 4-byte
// entry header.
func (h ColumnHeader) EntrySize() int32 {
	return h.p.GetInt(colOffEntrySize)
}

// Nullable reports whether the column accepts null values.
func (h ColumnHeader) Nullable() bool {
	return h.p.GetLong(colOffFlags)&colFlagNullable != 0
}

// Count returns the number of live plus null entries.
func (h ColumnHeader) Count() int64 {
	return h.p.GetLong(colOffCount)
}

// SetCount updates the live plus null entry counter.
func (h ColumnHeader) SetCount(v int64) {
	h.p.PutLong(colOffCount, v)
}

// Deleted returns the number of deleted entries.
func (h ColumnHeader) Deleted() int64 {
	return h.p.GetLong(colOffDeleted)
}

// SetDeleted updates the deleted entry counter.
func (h ColumnHeader) SetDeleted(v int64) {
	h.p.PutLong(colOffDeleted, v)
}

// MaxTupleId returns the highest valid tuple id (-1 when the column is
// empty).
func (h ColumnHeader) MaxTupleId() int64 {
	return h.p.GetLong(colOffMaxTupleId)
}

// SetMaxTupleId updates the highest tuple id.
func (h ColumnHeader) SetMaxTupleId(v int64) {
	h.p.PutLong(colOffMaxTupleId, v)
}

// Validate sanity-checks the header page.
func (h ColumnHeader) Validate() error {
	if h.p.GetInt(colOffPageType) != PageTypeFixedColumnHeader {
		return errors.Annotatef(basic.ErrDataCorruption, "page 1 is not a column header page")
	}
	if h.EntrySize() <= 4 {
		return errors.Annotatef(basic.ErrDataCorruption, "invalid entry size %d", h.EntrySize())
	}
	if h.Count() < 0 || h.Deleted() < 0 || h.MaxTupleId() < -1 {
		return errors.Annotatef(basic.ErrDataCorruption, "negative counter in column header")
	}
	return nil
}
