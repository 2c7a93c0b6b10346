package serializer

import (
	"github.com/juju/errors"
	"github.com/shopspring/decimal"
	"github.com/zhukovaskychina/hare-storage/engine/basic"
	"github.com/zhukovaskychina/hare-storage/engine/pages"
)

func badValue(columnType basic.ColumnType, v interface{}) error {
	return errors.Annotatef(basic.ErrInvalidValue, "%T is not a %s value", v, columnType.Name())
}

type booleanSerializer struct{}

func (booleanSerializer) Type() basic.ColumnType { return basic.BOOLEAN }
func (booleanSerializer) LogicalSize() int       { return -1 }
func (booleanSerializer) PhysicalSize() int      { return 1 }

func (s booleanSerializer) Serialize(p pages.Typed, off int, v interface{}) error {
	b, ok := v.(bool)
	if !ok {
		return badValue(basic.BOOLEAN, v)
	}
	if b {
		p.PutByte(off, 1)
	} else {
		p.PutByte(off, 0)
	}
	return nil
}

func (booleanSerializer) Deserialize(p pages.Typed, off int) interface{} {
	return p.GetByte(off) != 0
}

type byteSerializer struct{}

func (byteSerializer) Type() basic.ColumnType { return basic.BYTE }
func (byteSerializer) LogicalSize() int       { return -1 }
func (byteSerializer) PhysicalSize() int      { return 1 }

func (s byteSerializer) Serialize(p pages.Typed, off int, v interface{}) error {
	b, ok := v.(int8)
	if !ok {
		return badValue(basic.BYTE, v)
	}
	p.PutByte(off, byte(b))
	return nil
}

func (byteSerializer) Deserialize(p pages.Typed, off int) interface{} {
	return int8(p.GetByte(off))
}

type shortSerializer struct{}

func (shortSerializer) Type() basic.ColumnType { return basic.SHORT }
func (shortSerializer) LogicalSize() int       { return -1 }
func (shortSerializer) PhysicalSize() int      { return 2 }

func (s shortSerializer) Serialize(p pages.Typed, off int, v interface{}) error {
	x, ok := v.(int16)
	if !ok {
		return badValue(basic.SHORT, v)
	}
	p.PutShort(off, x)
	return nil
}

func (shortSerializer) Deserialize(p pages.Typed, off int) interface{} {
	return p.GetShort(off)
}

type integerSerializer struct{}

func (integerSerializer) Type() basic.ColumnType { return basic.INTEGER }
func (integerSerializer) LogicalSize() int       { return -1 }
func (integerSerializer) PhysicalSize() int      { return 4 }

func (s integerSerializer) Serialize(p pages.Typed, off int, v interface{}) error {
	x, ok := v.(int32)
	if !ok {
		return badValue(basic.INTEGER, v)
	}
	p.PutInt(off, x)
	return nil
}

func (integerSerializer) Deserialize(p pages.Typed, off int) interface{} {
	return p.GetInt(off)
}

type longSerializer struct{}

func (longSerializer) Type() basic.ColumnType { return basic.LONG }
func (longSerializer) LogicalSize() int       { return -1 }
func (longSerializer) PhysicalSize() int      { return 8 }

func (s longSerializer) Serialize(p pages.Typed, off int, v interface{}) error {
	x, ok := v.(int64)
	if !ok {
		return badValue(basic.LONG, v)
	}
	p.PutLong(off, x)
	return nil
}

func (longSerializer) Deserialize(p pages.Typed, off int) interface{} {
	return p.GetLong(off)
}

type floatSerializer struct{}

func (floatSerializer) Type() basic.ColumnType { return basic.FLOAT }
func (floatSerializer) LogicalSize() int       { return -1 }
func (floatSerializer) PhysicalSize() int      { return 4 }

func (s floatSerializer) Serialize(p pages.Typed, off int, v interface{}) error {
	x, ok := v.(float32)
	if !ok {
		return badValue(basic.FLOAT, v)
	}
	p.PutFloat(off, x)
	return nil
}

func (floatSerializer) Deserialize(p pages.Typed, off int) interface{} {
	return p.GetFloat(off)
}

type doubleSerializer struct{}

func (doubleSerializer) Type() basic.ColumnType { return basic.DOUBLE }
func (doubleSerializer) LogicalSize() int       { return -1 }
func (doubleSerializer) PhysicalSize() int      { return 8 }

func (s doubleSerializer) Serialize(p pages.Typed, off int, v interface{}) error {
	x, ok := v.(float64)
	if !ok {
		return badValue(basic.DOUBLE, v)
	}
	p.PutDouble(off, x)
	return nil
}

func (doubleSerializer) Deserialize(p pages.Typed, off int) interface{} {
	return p.GetDouble(off)
}

// dateSerializer stores epoch milliseconds as an int64.
type dateSerializer struct{}

func (dateSerializer) Type() basic.ColumnType { return basic.DATE }
func (dateSerializer) LogicalSize() int       { return -1 }
func (dateSerializer) PhysicalSize() int      { return 8 }

func (s dateSerializer) Serialize(p pages.Typed, off int, v interface{}) error {
	x, ok := v.(int64)
	if !ok {
		return badValue(basic.DATE, v)
	}
	p.PutLong(off, x)
	return nil
}

func (dateSerializer) Deserialize(p pages.Typed, off int) interface{} {
	return p.GetLong(off)
}

// decimalSerializer stores a decimal as its int64 coefficient plus the
// int32 exponent. Values whose coefficient does not fit an int64 are
// rejected.
type decimalSerializer struct{}

func (decimalSerializer) Type() basic.ColumnType { return basic.DECIMAL }
func (decimalSerializer) LogicalSize() int       { return -1 }
func (decimalSerializer) PhysicalSize() int      { return 12 }

func (s decimalSerializer) Serialize(p pages.Typed, off int, v interface{}) error {
	d, ok := v.(decimal.Decimal)
	if !ok {
		return badValue(basic.DECIMAL, v)
	}
	coefficient := d.Coefficient()
	if !coefficient.IsInt64() {
		return errors.Annotatef(basic.ErrInvalidValue, "decimal coefficient %s exceeds 64 bits", coefficient.String())
	}
	p.PutLong(off, coefficient.Int64())
	p.PutInt(off+8, d.Exponent())
	return nil
}

func (decimalSerializer) Deserialize(p pages.Typed, off int) interface{} {
	return decimal.New(p.GetLong(off), p.GetInt(off+8))
}
