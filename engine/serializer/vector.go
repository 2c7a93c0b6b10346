package serializer

import (
	"github.com/juju/errors"
	"github.com/zhukovaskychina/hare-storage/engine/basic"
	"github.com/zhukovaskychina/hare-storage/engine/pages"
)

func badLength(columnType basic.ColumnType, want int, got int) error {
	return errors.Annotatef(basic.ErrInvalidValue, "%s value has %d elements, column holds %d", columnType.Name(), got, want)
}

type intVectorSerializer struct {
	size int
}

func (s intVectorSerializer) Type() basic.ColumnType { return basic.INT_VECTOR }
func (s intVectorSerializer) LogicalSize() int       { return s.size }
func (s intVectorSerializer) PhysicalSize() int      { return 4 * s.size }

func (s intVectorSerializer) Serialize(p pages.Typed, off int, v interface{}) error {
	vec, ok := v.([]int32)
	if !ok {
		return badValue(basic.INT_VECTOR, v)
	}
	if len(vec) != s.size {
		return badLength(basic.INT_VECTOR, s.size, len(vec))
	}
	for i, x := range vec {
		p.PutInt(off+4*i, x)
	}
	return nil
}

func (s intVectorSerializer) Deserialize(p pages.Typed, off int) interface{} {
	vec := make([]int32, s.size)
	for i := range vec {
		vec[i] = p.GetInt(off + 4*i)
	}
	return vec
}

type longVectorSerializer struct {
	size int
}

func (s longVectorSerializer) Type() basic.ColumnType { return basic.LONG_VECTOR }
func (s longVectorSerializer) LogicalSize() int       { return s.size }
func (s longVectorSerializer) PhysicalSize() int      { return 8 * s.size }

func (s longVectorSerializer) Serialize(p pages.Typed, off int, v interface{}) error {
	vec, ok := v.([]int64)
	if !ok {
		return badValue(basic.LONG_VECTOR, v)
	}
	if len(vec) != s.size {
		return badLength(basic.LONG_VECTOR, s.size, len(vec))
	}
	for i, x := range vec {
		p.PutLong(off+8*i, x)
	}
	return nil
}

func (s longVectorSerializer) Deserialize(p pages.Typed, off int) interface{} {
	vec := make([]int64, s.size)
	for i := range vec {
		vec[i] = p.GetLong(off + 8*i)
	}
	return vec
}

type floatVectorSerializer struct {
	size int
}

func (s floatVectorSerializer) Type() basic.ColumnType { return basic.FLOAT_VECTOR }
func (s floatVectorSerializer) LogicalSize() int       { return s.size }
func (s floatVectorSerializer) PhysicalSize() int      { return 4 * s.size }

func (s floatVectorSerializer) Serialize(p pages.Typed, off int, v interface{}) error {
	vec, ok := v.([]float32)
	if !ok {
		return badValue(basic.FLOAT_VECTOR, v)
	}
	if len(vec) != s.size {
		return badLength(basic.FLOAT_VECTOR, s.size, len(vec))
	}
	for i, x := range vec {
		p.PutFloat(off+4*i, x)
	}
	return nil
}

func (s floatVectorSerializer) Deserialize(p pages.Typed, off int) interface{} {
	vec := make([]float32, s.size)
	for i := range vec {
		vec[i] = p.GetFloat(off + 4*i)
	}
	return vec
}

type doubleVectorSerializer struct {
	size int
}

func (s doubleVectorSerializer) Type() basic.ColumnType { return basic.DOUBLE_VECTOR }
func (s doubleVectorSerializer) LogicalSize() int       { return s.size }
func (s doubleVectorSerializer) PhysicalSize() int      { return 8 * s.size }

func (s doubleVectorSerializer) Serialize(p pages.Typed, off int, v interface{}) error {
	vec, ok := v.([]float64)
	if !ok {
		return badValue(basic.DOUBLE_VECTOR, v)
	}
	if len(vec) != s.size {
		return badLength(basic.DOUBLE_VECTOR, s.size, len(vec))
	}
	for i, x := range vec {
		p.PutDouble(off+8*i, x)
	}
	return nil
}

func (s doubleVectorSerializer) Deserialize(p pages.Typed, off int) interface{} {
	vec := make([]float64, s.size)
	for i := range vec {
		vec[i] = p.GetDouble(off + 8*i)
	}
	return vec
}

// booleanVectorSerializer packs the vector into a bitset of ceil(size/8)
// bytes.
type booleanVectorSerializer struct {
	size int
}

func (s booleanVectorSerializer) Type() basic.ColumnType { return basic.BOOLEAN_VECTOR }
func (s booleanVectorSerializer) LogicalSize() int       { return s.size }
func (s booleanVectorSerializer) PhysicalSize() int      { return (s.size + 7) / 8 }

func (s booleanVectorSerializer) Serialize(p pages.Typed, off int, v interface{}) error {
	vec, ok := v.([]bool)
	if !ok {
		return badValue(basic.BOOLEAN_VECTOR, v)
	}
	if len(vec) != s.size {
		return badLength(basic.BOOLEAN_VECTOR, s.size, len(vec))
	}
	bytes := make([]byte, s.PhysicalSize())
	for i, b := range vec {
		if b {
			bytes[i/8] |= 1 << uint(i%8)
		}
	}
	p.PutBytes(off, bytes)
	return nil
}

func (s booleanVectorSerializer) Deserialize(p pages.Typed, off int) interface{} {
	bytes := p.GetBytes(off, s.PhysicalSize())
	vec := make([]bool, s.size)
	for i := range vec {
		vec[i] = bytes[i/8]&(1<<uint(i%8)) != 0
	}
	return vec
}
