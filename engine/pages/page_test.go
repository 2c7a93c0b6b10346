package pages

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPageTypedAccessors(t *testing.T) {
	page := NewPage(DefaultPageShift)
	assert.Equal(t, 4096, page.Size())

	page.PutByte(0, 0xAB)
	page.PutShort(1, -1234)
	page.PutInt(3, 123456789)
	page.PutLong(7, -987654321012345)
	page.PutFloat(15, 3.5)
	page.PutDouble(19, -2.25)
	page.PutBytes(27, []byte{1, 2, 3, 4})

	assert.Equal(t, byte(0xAB), page.GetByte(0))
	assert.Equal(t, int16(-1234), page.GetShort(1))
	assert.Equal(t, int32(123456789), page.GetInt(3))
	assert.Equal(t, int64(-987654321012345), page.GetLong(7))
	assert.Equal(t, float32(3.5), page.GetFloat(15))
	assert.Equal(t, -2.25, page.GetDouble(19))
	assert.Equal(t, []byte{1, 2, 3, 4}, page.GetBytes(27, 4))
}

func TestPageBigEndianLayout(t *testing.T) {
	page := NewPage(DefaultPageShift)
	page.PutInt(0, 0x01020304)
	assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x04}, page.GetBytes(0, 4))

	page.PutLong(8, 0x0102030405060708)
	assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}, page.GetBytes(8, 8))
}

func TestPageOutOfRangePanics(t *testing.T) {
	page := NewPage(DefaultPageShift)
	assert.Panics(t, func() { page.GetLong(page.Size() - 4) })
	assert.Panics(t, func() { page.PutInt(-1, 7) })
	assert.Panics(t, func() { page.GetBytes(page.Size(), 1) })
}

func TestPageZeroAndCopy(t *testing.T) {
	page := NewPage(DefaultPageShift)
	page.PutLong(0, 42)
	page.Zero(0, 8)
	assert.Equal(t, int64(0), page.GetLong(0))

	other := NewPage(DefaultPageShift)
	other.PutLong(16, 77)
	page.CopyFrom(other)
	assert.Equal(t, int64(77), page.GetLong(16))
}

func TestWrapRejectsOddSizes(t *testing.T) {
	assert.Panics(t, func() { Wrap(make([]byte, 1000)) })
	require.NotNil(t, Wrap(make([]byte, 1024)))
}
