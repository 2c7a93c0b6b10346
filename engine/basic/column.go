package basic

import (
	"strings"
)

// ColumnType enumerates the column types known to the serializer registry.
// The ordinal is persisted in the column header page, so the order of this
// block is part of the on-disk format.
type ColumnType int32

const (
	BOOLEAN ColumnType = iota
	BYTE
	SHORT
	INTEGER
	LONG
	FLOAT
	DOUBLE
	DATE
	DECIMAL
	INT_VECTOR
	LONG_VECTOR
	FLOAT_VECTOR
	DOUBLE_VECTOR
	BOOLEAN_VECTOR
)

var columnTypeNames = map[ColumnType]string{
	BOOLEAN:        "BOOLEAN",
	BYTE:           "BYTE",
	SHORT:          "SHORT",
	INTEGER:        "INTEGER",
	LONG:           "LONG",
	FLOAT:          "FLOAT",
	DOUBLE:         "DOUBLE",
	DATE:           "DATE",
	DECIMAL:        "DECIMAL",
	INT_VECTOR:     "INT_VECTOR",
	LONG_VECTOR:    "LONG_VECTOR",
	FLOAT_VECTOR:   "FLOAT_VECTOR",
	DOUBLE_VECTOR:  "DOUBLE_VECTOR",
	BOOLEAN_VECTOR: "BOOLEAN_VECTOR",
}

// Name returns the symbolic name of the column type.
func (t ColumnType) Name() string {
	if name, ok := columnTypeNames[t]; ok {
		return name
	}
	return "UNKNOWN"
}

// IsVector reports whether the type is one of the vector family. Vector
// types require a positive logical size.
func (t ColumnType) IsVector() bool {
	switch t {
	case INT_VECTOR, LONG_VECTOR, FLOAT_VECTOR, DOUBLE_VECTOR, BOOLEAN_VECTOR:
		return true
	}
	return false
}

// ColumnTypeOf resolves a symbolic type name back to its ColumnType.
func ColumnTypeOf(name string) (ColumnType, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for t, n := range columnTypeNames {
		if n == upper {
			return t, nil
		}
	}
	return 0, ErrUnsupportedType
}

// ColumnDef describes a single column file.
type ColumnDef struct {
	Name        string
	Type        ColumnType
	LogicalSize int // 向量长度；标量为 -1
	Nullable    bool
}

// NewColumnDef creates a scalar column definition.
func NewColumnDef(name string, columnType ColumnType, nullable bool) ColumnDef {
	return ColumnDef{Name: name, Type: columnType, LogicalSize: -1, Nullable: nullable}
}

// NewVectorColumnDef creates a vector column definition of the given length.
func NewVectorColumnDef(name string, columnType ColumnType, logicalSize int, nullable bool) ColumnDef {
	return ColumnDef{Name: name, Type: columnType, LogicalSize: logicalSize, Nullable: nullable}
}
