package serializer

import (
	"github.com/juju/errors"
	"github.com/zhukovaskychina/hare-storage/engine/basic"
	"github.com/zhukovaskychina/hare-storage/engine/pages"
)

// Serializer converts a single column value to and from its fixed-size
// on-page representation. The contract is referentially transparent:
// Deserialize(Serialize(v)) == v for every in-domain value.
type Serializer interface {
	// Type returns the column type this serializer handles.
	Type() basic.ColumnType

	// LogicalSize returns the structural element count (-1 for scalars).
	LogicalSize() int

	// PhysicalSize returns the number of bytes a value occupies on disk,
	// excluding the entry header.
	PhysicalSize() int

	// Serialize writes v at off.
	Serialize(p pages.Typed, off int, v interface{}) error

	// Deserialize reads the value at off.
	Deserialize(p pages.Typed, off int) interface{}
}

// ForColumn resolves the serializer for a column definition.
func ForColumn(def basic.ColumnDef) (Serializer, error) {
	return ForType(def.Type, def.LogicalSize)
}

// ForType resolves a serializer by type tag. Vector types require a
// positive logical size; scalars ignore it.
func ForType(columnType basic.ColumnType, logicalSize int) (Serializer, error) {
	if columnType.IsVector() {
		if logicalSize <= 0 {
			return nil, errors.Annotatef(basic.ErrInvalidValue,
				"vector type %s requires a positive logical size, got %d", columnType.Name(), logicalSize)
		}
		switch columnType {
		case basic.INT_VECTOR:
			return intVectorSerializer{size: logicalSize}, nil
		case basic.LONG_VECTOR:
			return longVectorSerializer{size: logicalSize}, nil
		case basic.FLOAT_VECTOR:
			return floatVectorSerializer{size: logicalSize}, nil
		case basic.DOUBLE_VECTOR:
			return doubleVectorSerializer{size: logicalSize}, nil
		case basic.BOOLEAN_VECTOR:
			return booleanVectorSerializer{size: logicalSize}, nil
		}
		return nil, errors.Annotatef(basic.ErrUnsupportedType, "%s", columnType.Name())
	}
	switch columnType {
	case basic.BOOLEAN:
		return booleanSerializer{}, nil
	case basic.BYTE:
		return byteSerializer{}, nil
	case basic.SHORT:
		return shortSerializer{}, nil
	case basic.INTEGER:
		return integerSerializer{}, nil
	case basic.LONG:
		return longSerializer{}, nil
	case basic.FLOAT:
		return floatSerializer{}, nil
	case basic.DOUBLE:
		return doubleSerializer{}, nil
	case basic.DATE:
		return dateSerializer{}, nil
	case basic.DECIMAL:
		return decimalSerializer{}, nil
	}
	return nil, errors.Annotatef(basic.ErrUnsupportedType, "%s", columnType.Name())
}
