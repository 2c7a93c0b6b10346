package catalog

import (
	"os"

	"github.com/juju/errors"
	"github.com/pelletier/go-toml"
	"github.com/zhukovaskychina/hare-storage/engine/basic"
)

/**
[[columns]]
name     = "feature"
type     = "FLOAT_VECTOR"
size     = 128
nullable = false

[[columns]]
name     = "score"
type     = "DOUBLE"
nullable = true
*/
type columnEntry struct {
	Name     string `toml:"name"`
	Type     string `toml:"type"`
	Size     int    `toml:"size"`
	Nullable bool   `toml:"nullable"`
}

type catalogFile struct {
	Columns []columnEntry `toml:"columns"`
}

// Load parses a TOML catalog file into column definitions.
func Load(path string) ([]basic.ColumnDef, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return Parse(data)
}

// Parse parses TOML catalog content.
func Parse(data []byte) ([]basic.ColumnDef, error) {
	var cat catalogFile
	if err := toml.Unmarshal(data, &cat); err != nil {
		return nil, errors.Annotatef(err, "parsing column catalog")
	}
	if len(cat.Columns) == 0 {
		return nil, errors.Errorf("column catalog defines no columns")
	}
	defs := make([]basic.ColumnDef, 0, len(cat.Columns))
	for _, entry := range cat.Columns {
		if entry.Name == "" {
			return nil, errors.Errorf("column catalog entry without a name")
		}
		columnType, err := basic.ColumnTypeOf(entry.Type)
		if err != nil {
			return nil, errors.Annotatef(err, "column %s", entry.Name)
		}
		logicalSize := -1
		if columnType.IsVector() {
			if entry.Size <= 0 {
				return nil, errors.Annotatef(basic.ErrInvalidValue,
					"vector column %s requires a positive size", entry.Name)
			}
			logicalSize = entry.Size
		}
		defs = append(defs, basic.ColumnDef{
			Name:        entry.Name,
			Type:        columnType,
			LogicalSize: logicalSize,
			Nullable:    entry.Nullable,
		})
	}
	return defs, nil
}
