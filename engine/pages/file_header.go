package pages

import (
	"bytes"

	"github.com/juju/errors"
	"github.com/zhukovaskychina/hare-storage/engine/basic"
)

// Magic is the file identifier "HARE" as four UTF-16 big-endian characters.
var Magic = []byte{0x00, 0x48, 0x00, 0x41, 0x00, 0x52, 0x00, 0x45}

// File type tags persisted in the header.
const (
	FileTypeDefault int32 = 0
	FileTypeWal     int32 = 1
)

// FileVersion is the current on-disk format version.
const FileVersion int32 = 1

// Header field offsets within the first physical page.
const (
	offMagic         = 0
	offFileType      = 8
	offVersion       = 12
	offPageShift     = 16
	offFlags         = 20
	offAllocated     = 28
	offMaximumPageId = 36
	offDangling      = 44
	offChecksum      = 52
)

// HeaderSize is the number of meaningful header bytes; the rest of the page
// is reserved and zero.
const HeaderSize = 60

const flagConsistent int64 = 1 << 0

// FileHeader is a typed view of the first physical page of a page file.
type FileHeader struct {
	page *Page
}

// NewFileHeader wraps a page-sized buffer as a file header view.
func NewFileHeader(page *Page) FileHeader {
	return FileHeader{page: page}
}

// Init writes a fresh header for an empty file of the given type.
func (h FileHeader) Init(fileType int32, pageShift int32) {
	h.page.Clear()
	h.page.PutBytes(offMagic, Magic)
	h.page.PutInt(offFileType, fileType)
	h.page.PutInt(offVersion, FileVersion)
	h.page.PutInt(offPageShift, pageShift)
	h.page.PutLong(offFlags, flagConsistent)
	h.page.PutLong(offAllocated, 0)
	h.page.PutLong(offMaximumPageId, 0)
	h.page.PutLong(offDangling, 0)
	h.page.PutLong(offChecksum, 0)
}

// Page returns the underlying page buffer.
func (h FileHeader) Page() *Page {
	return h.page
}

// FileType returns the file type tag.
func (h FileHeader) FileType() int32 {
	return h.page.GetInt(offFileType)
}

// Version returns the format version.
func (h FileHeader) Version() int32 {
	return h.page.GetInt(offVersion)
}

// PageShift returns the page shift the file was created with.
func (h FileHeader) PageShift() int32 {
	return h.page.GetInt(offPageShift)
}

// Flags returns the raw flags word.
func (h FileHeader) Flags() int64 {
	return h.page.GetLong(offFlags)
}

// IsConsistent reports the state of the consistency bit.
func (h FileHeader) IsConsistent() bool {
	return h.Flags()&flagConsistent != 0
}

// SetConsistent flips the consistency bit.
func (h FileHeader) SetConsistent(consistent bool) {
	flags := h.Flags()
	if consistent {
		flags |= flagConsistent
	} else {
		flags &^= flagConsistent
	}
	h.page.PutLong(offFlags, flags)
}

// AllocatedPages returns the number of currently allocated pages.
func (h FileHeader) AllocatedPages() int64 {
	return h.page.GetLong(offAllocated)
}

// SetAllocatedPages updates the allocated page counter.
func (h FileHeader) SetAllocatedPages(v int64) {
	h.page.PutLong(offAllocated, v)
}

// MaximumPageId returns the highest logical page id the file covers,
// including preallocated ids still on the free-page stack.
func (h FileHeader) MaximumPageId() int64 {
	return h.page.GetLong(offMaximumPageId)
}

// SetMaximumPageId updates the maximum page id.
func (h FileHeader) SetMaximumPageId(v int64) {
	h.page.PutLong(offMaximumPageId, v)
}

// DanglingPages returns the number of freed pages that could not be returned
// to the free stack.
func (h FileHeader) DanglingPages() int64 {
	return h.page.GetLong(offDangling)
}

// SetDanglingPages updates the dangling page counter.
func (h FileHeader) SetDanglingPages(v int64) {
	h.page.PutLong(offDangling, v)
}

// Checksum returns the stored CRC32C of all pages after the header page.
func (h FileHeader) Checksum() int64 {
	return h.page.GetLong(offChecksum)
}

// SetChecksum stores the data checksum.
func (h FileHeader) SetChecksum(v int64) {
	h.page.PutLong(offChecksum, v)
}

// Validate checks magic, type, version and counter sanity. A failure means
// the file cannot be opened.
func (h FileHeader) Validate(expectedType int32) error {
	if !bytes.Equal(h.page.GetBytes(offMagic, len(Magic)), Magic) {
		return errors.Annotatef(basic.ErrDataCorruption, "bad magic in file header")
	}
	if h.FileType() != expectedType {
		return errors.Annotatef(basic.ErrDataCorruption, "unexpected file type %d", h.FileType())
	}
	if h.Version() != FileVersion {
		return errors.Annotatef(basic.ErrDataCorruption, "unsupported version %d", h.Version())
	}
	if h.PageShift() < MinPageShift || h.PageShift() > MaxPageShift {
		return errors.Annotatef(basic.ErrDataCorruption, "page shift %d out of range", h.PageShift())
	}
	if h.AllocatedPages() < 0 || h.MaximumPageId() < 0 || h.DanglingPages() < 0 {
		return errors.Annotatef(basic.ErrDataCorruption, "negative counter in file header")
	}
	return nil
}
