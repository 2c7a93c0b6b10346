package serializer

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zhukovaskychina/hare-storage/engine/basic"
	"github.com/zhukovaskychina/hare-storage/engine/pages"
)

func roundTrip(t *testing.T, columnType basic.ColumnType, logicalSize int, value interface{}) {
	t.Helper()
	ser, err := ForType(columnType, logicalSize)
	require.NoError(t, err)
	page := pages.NewPage(pages.DefaultPageShift)
	require.NoError(t, ser.Serialize(page, 16, value))
	assert.Equal(t, value, ser.Deserialize(page, 16))
}

func TestScalarRoundTrips(t *testing.T) {
	roundTrip(t, basic.BOOLEAN, -1, true)
	roundTrip(t, basic.BOOLEAN, -1, false)
	roundTrip(t, basic.BYTE, -1, int8(-100))
	roundTrip(t, basic.SHORT, -1, int16(-31000))
	roundTrip(t, basic.INTEGER, -1, int32(2000000001))
	roundTrip(t, basic.LONG, -1, int64(-9000000000000000000))
	roundTrip(t, basic.FLOAT, -1, float32(1.5))
	roundTrip(t, basic.DOUBLE, -1, -123.456)
	roundTrip(t, basic.DATE, -1, int64(1700000000000))
}

func TestDecimalRoundTrip(t *testing.T) {
	roundTrip(t, basic.DECIMAL, -1, decimal.New(1234567, -4))
	roundTrip(t, basic.DECIMAL, -1, decimal.New(-42, 3))
}

func TestDecimalOverflowRejected(t *testing.T) {
	ser, err := ForType(basic.DECIMAL, -1)
	require.NoError(t, err)
	page := pages.NewPage(pages.DefaultPageShift)
	huge := decimal.RequireFromString("123456789012345678901234567890")
	assert.ErrorIs(t, ser.Serialize(page, 0, huge), basic.ErrInvalidValue)
}

func TestVectorRoundTrips(t *testing.T) {
	roundTrip(t, basic.INT_VECTOR, 4, []int32{1, -2, 3, -4})
	roundTrip(t, basic.LONG_VECTOR, 3, []int64{9, -8, 7})
	roundTrip(t, basic.FLOAT_VECTOR, 5, []float32{0.5, 1, -1.5, 2, -2.5})
	roundTrip(t, basic.DOUBLE_VECTOR, 2, []float64{3.25, -7.75})
	roundTrip(t, basic.BOOLEAN_VECTOR, 11, []bool{true, false, true, true, false, false, true, false, true, true, false})
}

func TestVectorRequiresPositiveSize(t *testing.T) {
	for _, columnType := range []basic.ColumnType{
		basic.INT_VECTOR, basic.LONG_VECTOR, basic.FLOAT_VECTOR, basic.DOUBLE_VECTOR, basic.BOOLEAN_VECTOR,
	} {
		_, err := ForType(columnType, 0)
		assert.ErrorIs(t, err, basic.ErrInvalidValue, columnType.Name())
		_, err = ForType(columnType, -1)
		assert.ErrorIs(t, err, basic.ErrInvalidValue, columnType.Name())
	}
}

func TestVectorLengthMismatchRejected(t *testing.T) {
	ser, err := ForType(basic.FLOAT_VECTOR, 4)
	require.NoError(t, err)
	page := pages.NewPage(pages.DefaultPageShift)
	assert.ErrorIs(t, ser.Serialize(page, 0, []float32{1, 2}), basic.ErrInvalidValue)
}

func TestWrongValueTypeRejected(t *testing.T) {
	ser, err := ForType(basic.INTEGER, -1)
	require.NoError(t, err)
	page := pages.NewPage(pages.DefaultPageShift)
	assert.ErrorIs(t, ser.Serialize(page, 0, "not an int"), basic.ErrInvalidValue)
}

func TestPhysicalSizes(t *testing.T) {
	cases := []struct {
		columnType  basic.ColumnType
		logicalSize int
		want        int
	}{
		{basic.BOOLEAN, -1, 1},
		{basic.SHORT, -1, 2},
		{basic.INTEGER, -1, 4},
		{basic.LONG, -1, 8},
		{basic.FLOAT, -1, 4},
		{basic.DOUBLE, -1, 8},
		{basic.DECIMAL, -1, 12},
		{basic.INT_VECTOR, 10, 40},
		{basic.DOUBLE_VECTOR, 16, 128},
		{basic.BOOLEAN_VECTOR, 9, 2},
	}
	for _, c := range cases {
		ser, err := ForType(c.columnType, c.logicalSize)
		require.NoError(t, err)
		assert.Equal(t, c.want, ser.PhysicalSize(), c.columnType.Name())
	}
}
