package pages

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zhukovaskychina/hare-storage/engine/basic"
)

func TestFileHeaderInit(t *testing.T) {
	header := NewFileHeader(NewPage(DefaultPageShift))
	header.Init(FileTypeDefault, DefaultPageShift)

	require.NoError(t, header.Validate(FileTypeDefault))
	assert.Equal(t, FileTypeDefault, header.FileType())
	assert.Equal(t, FileVersion, header.Version())
	assert.Equal(t, int32(DefaultPageShift), header.PageShift())
	assert.True(t, header.IsConsistent())
	assert.Equal(t, int64(0), header.AllocatedPages())
	assert.Equal(t, int64(0), header.MaximumPageId())
	assert.Equal(t, int64(0), header.DanglingPages())
}

func TestFileHeaderMagicLayout(t *testing.T) {
	page := NewPage(DefaultPageShift)
	header := NewFileHeader(page)
	header.Init(FileTypeDefault, DefaultPageShift)

	// "HARE" as UTF-16 big-endian
	assert.Equal(t, []byte{0x00, 'H', 0x00, 'A', 0x00, 'R', 0x00, 'E'}, page.GetBytes(0, 8))
}

func TestFileHeaderConsistencyBit(t *testing.T) {
	header := NewFileHeader(NewPage(DefaultPageShift))
	header.Init(FileTypeDefault, DefaultPageShift)

	header.SetConsistent(false)
	assert.False(t, header.IsConsistent())
	header.SetConsistent(true)
	assert.True(t, header.IsConsistent())
}

func TestFileHeaderValidateRejectsCorruption(t *testing.T) {
	page := NewPage(DefaultPageShift)
	header := NewFileHeader(page)
	header.Init(FileTypeDefault, DefaultPageShift)

	page.PutByte(1, 'X')
	assert.ErrorIs(t, header.Validate(FileTypeDefault), basic.ErrDataCorruption)

	header.Init(FileTypeDefault, DefaultPageShift)
	assert.ErrorIs(t, header.Validate(FileTypeWal), basic.ErrDataCorruption)

	header.Init(FileTypeDefault, DefaultPageShift)
	header.SetAllocatedPages(-3)
	assert.ErrorIs(t, header.Validate(FileTypeDefault), basic.ErrDataCorruption)
}

func TestColumnHeaderRoundTrip(t *testing.T) {
	page := NewPage(DefaultPageShift)
	header := NewColumnHeader(page)
	header.Init(5, -1, 12, true)

	require.NoError(t, header.Validate())
	assert.Equal(t, int32(5), header.TypeOrdinal())
	assert.Equal(t, int32(-1), header.LogicalSize())
	assert.Equal(t, int32(12), header.EntrySize())
	assert.True(t, header.Nullable())
	assert.Equal(t, int64(0), header.Count())
	assert.Equal(t, int64(0), header.Deleted())
	assert.Equal(t, int64(-1), header.MaxTupleId())

	header.SetCount(10)
	header.SetDeleted(2)
	header.SetMaxTupleId(11)
	assert.Equal(t, int64(10), header.Count())
	assert.Equal(t, int64(2), header.Deleted())
	assert.Equal(t, int64(11), header.MaxTupleId())
}
