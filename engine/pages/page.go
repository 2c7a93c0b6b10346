package pages

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/zhukovaskychina/hare-storage/engine/latch"
)

const (
	// MinPageShift is the smallest page shift a page file accepts.
	MinPageShift = 10
	// MaxPageShift is the largest page shift a page file accepts.
	MaxPageShift = 22
	// DefaultPageShift yields 4 KiB pages.
	DefaultPageShift = 12
)

// Typed is the typed accessor surface shared by Page and the buffer pool's
// page references. All multi-byte values are big-endian.
type Typed interface {
	GetByte(off int) byte
	GetShort(off int) int16
	GetInt(off int) int32
	GetLong(off int) int64
	GetFloat(off int) float32
	GetDouble(off int) float64
	GetBytes(off int, length int) []byte

	PutByte(off int, v byte)
	PutShort(off int, v int16)
	PutInt(off int, v int32)
	PutLong(off int, v int64)
	PutFloat(off int, v float32)
	PutDouble(off int, v float64)
	PutBytes(off int, v []byte)
	Zero(off int, length int)
}

// Page is a fixed-size byte container of exactly 2^pageShift bytes. A page
// carries its own latch; the buffer pool uses it to coordinate concurrent
// typed access.
type Page struct {
	data  []byte
	latch *latch.Latch
}

// NewPage allocates a zeroed page of size 1<<pageShift.
func NewPage(pageShift int) *Page {
	if pageShift < MinPageShift || pageShift > MaxPageShift {
		panic(fmt.Sprintf("page shift %d outside [%d, %d]", pageShift, MinPageShift, MaxPageShift))
	}
	return &Page{
		data:  make([]byte, 1<<pageShift),
		latch: latch.New(),
	}
}

// Wrap builds a page view over an existing buffer. The buffer length must be
// a power of two; ownership stays with the caller.
func Wrap(data []byte) *Page {
	if len(data) == 0 || len(data)&(len(data)-1) != 0 {
		panic(fmt.Sprintf("page buffer length %d is not a power of two", len(data)))
	}
	return &Page{
		data:  data,
		latch: latch.New(),
	}
}

// Size returns the page size in bytes.
func (p *Page) Size() int {
	return len(p.data)
}

// Data exposes the backing buffer.
func (p *Page) Data() []byte {
	return p.data
}

// Latch returns the per-page latch.
func (p *Page) Latch() *latch.Latch {
	return p.latch
}

func (p *Page) check(off int, length int) {
	if off < 0 || length < 0 || off+length > len(p.data) {
		panic(fmt.Sprintf("page access [%d, %d) outside page of size %d", off, off+length, len(p.data)))
	}
}

// GetByte reads one byte at off.
func (p *Page) GetByte(off int) byte {
	p.check(off, 1)
	return p.data[off]
}

// GetShort reads a big-endian int16 at off.
func (p *Page) GetShort(off int) int16 {
	p.check(off, 2)
	return int16(binary.BigEndian.Uint16(p.data[off:]))
}

// GetInt reads a big-endian int32 at off.
func (p *Page) GetInt(off int) int32 {
	p.check(off, 4)
	return int32(binary.BigEndian.Uint32(p.data[off:]))
}

// GetLong reads a big-endian int64 at off.
func (p *Page) GetLong(off int) int64 {
	p.check(off, 8)
	return int64(binary.BigEndian.Uint64(p.data[off:]))
}

// GetFloat reads a big-endian float32 at off.
func (p *Page) GetFloat(off int) float32 {
	p.check(off, 4)
	return math.Float32frombits(binary.BigEndian.Uint32(p.data[off:]))
}

// GetDouble reads a big-endian float64 at off.
func (p *Page) GetDouble(off int) float64 {
	p.check(off, 8)
	return math.Float64frombits(binary.BigEndian.Uint64(p.data[off:]))
}

// GetBytes copies length bytes starting at off out of the page.
func (p *Page) GetBytes(off int, length int) []byte {
	p.check(off, length)
	out := make([]byte, length)
	copy(out, p.data[off:off+length])
	return out
}

// PutByte writes one byte at off.
func (p *Page) PutByte(off int, v byte) {
	p.check(off, 1)
	p.data[off] = v
}

// PutShort writes a big-endian int16 at off.
func (p *Page) PutShort(off int, v int16) {
	p.check(off, 2)
	binary.BigEndian.PutUint16(p.data[off:], uint16(v))
}

// PutInt writes a big-endian int32 at off.
func (p *Page) PutInt(off int, v int32) {
	p.check(off, 4)
	binary.BigEndian.PutUint32(p.data[off:], uint32(v))
}

// PutLong writes a big-endian int64 at off.
func (p *Page) PutLong(off int, v int64) {
	p.check(off, 8)
	binary.BigEndian.PutUint64(p.data[off:], uint64(v))
}

// PutFloat writes a big-endian float32 at off.
func (p *Page) PutFloat(off int, v float32) {
	p.check(off, 4)
	binary.BigEndian.PutUint32(p.data[off:], math.Float32bits(v))
}

// PutDouble writes a big-endian float64 at off.
func (p *Page) PutDouble(off int, v float64) {
	p.check(off, 8)
	binary.BigEndian.PutUint64(p.data[off:], math.Float64bits(v))
}

// PutBytes copies v into the page starting at off.
func (p *Page) PutBytes(off int, v []byte) {
	p.check(off, len(v))
	copy(p.data[off:], v)
}

// Zero clears length bytes starting at off.
func (p *Page) Zero(off int, length int) {
	p.check(off, length)
	for i := off; i < off+length; i++ {
		p.data[i] = 0
	}
}

// Clear zeroes the whole page.
func (p *Page) Clear() {
	for i := range p.data {
		p.data[i] = 0
	}
}

// CopyFrom replaces the page content with the content of other. Both pages
// must be the same size.
func (p *Page) CopyFrom(other *Page) {
	if len(p.data) != len(other.data) {
		panic(fmt.Sprintf("page size mismatch: %d vs %d", len(p.data), len(other.data)))
	}
	copy(p.data, other.data)
}
