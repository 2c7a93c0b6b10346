package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/shopspring/decimal"
	"github.com/zhukovaskychina/hare-storage/catalog"
	"github.com/zhukovaskychina/hare-storage/conf"
	"github.com/zhukovaskychina/hare-storage/engine/basic"
	"github.com/zhukovaskychina/hare-storage/engine/column"
	"github.com/zhukovaskychina/hare-storage/logger"
	"github.com/zhukovaskychina/hare-storage/util"
)

func main() {
	configPath := flag.String("config", "", "path to an INI engine configuration")
	catalogPath := flag.String("catalog", "", "path to a TOML column catalog")
	dataDir := flag.String("datadir", "", "data directory (overrides the configuration)")
	useWal := flag.Bool("wal", true, "use the write-ahead-logged disk manager")
	rows := flag.Int("rows", 1000, "number of rows to append per column")
	flag.Parse()

	cfg := conf.NewCfg()
	if *configPath != "" {
		if _, err := cfg.Load(*configPath); err != nil {
			fmt.Printf("ERROR: loading configuration: %v\n", err)
			os.Exit(1)
		}
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	logger.Setup(logger.Config{Level: cfg.LogLevel})

	defs := defaultCatalog()
	if *catalogPath != "" {
		loaded, err := catalog.Load(*catalogPath)
		if err != nil {
			fmt.Printf("ERROR: loading catalog: %v\n", err)
			os.Exit(1)
		}
		defs = loaded
	}

	fmt.Println("=== HARE column store demo ===")
	for _, def := range defs {
		if err := runColumn(cfg, def, *useWal, *rows); err != nil {
			fmt.Printf("ERROR: column %s: %v\n", def.Name, err)
			os.Exit(1)
		}
	}
	fmt.Println("=== done ===")
}

func defaultCatalog() []basic.ColumnDef {
	return []basic.ColumnDef{
		basic.NewColumnDef("score", basic.DOUBLE, false),
		basic.NewColumnDef("flag", basic.INTEGER, true),
	}
}

func runColumn(cfg *conf.Cfg, def basic.ColumnDef, useWal bool, rows int) error {
	if err := util.CreateDirIfAbsent(cfg.DataDir); err != nil {
		return err
	}
	path := filepath.Join(cfg.DataDir, def.Name+column.FileSuffix)
	os.Remove(path)
	os.Remove(path + ".wal")

	if err := column.CreateDirect(path, def); err != nil {
		return err
	}
	file, err := column.Open(path, column.OptionsFromConfig(cfg, useWal))
	if err != nil {
		return err
	}
	defer file.Close()

	writer, err := file.NewWriter()
	if err != nil {
		return err
	}
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < rows; i++ {
		if _, err := writer.Append(randomValue(rng, def)); err != nil {
			writer.Close()
			return err
		}
	}
	if err := writer.Commit(); err != nil {
		writer.Close()
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}

	reader, err := file.NewReader()
	if err != nil {
		return err
	}
	defer reader.Close()
	cursor, err := file.NewCursor(0, -1)
	if err != nil {
		return err
	}
	defer cursor.Close()

	var visited int64
	for cursor.HasNext() {
		if _, err := reader.Get(cursor.Next()); err != nil {
			return err
		}
		visited++
	}
	count, err := reader.Count()
	if err != nil {
		return err
	}
	fmt.Printf("column %-8s type=%-14s rows=%d visited=%d entrySize=%d\n",
		def.Name, def.Type.Name(), count, visited, file.EntrySize())
	return nil
}

func randomValue(rng *rand.Rand, def basic.ColumnDef) interface{} {
	if def.Nullable && rng.Intn(10) == 0 {
		return nil
	}
	switch def.Type {
	case basic.BOOLEAN:
		return rng.Intn(2) == 1
	case basic.BYTE:
		return int8(rng.Intn(256) - 128)
	case basic.SHORT:
		return int16(rng.Intn(1 << 16))
	case basic.INTEGER:
		return rng.Int31()
	case basic.LONG, basic.DATE:
		return rng.Int63()
	case basic.DECIMAL:
		return decimal.New(rng.Int63n(1_000_000_000), int32(rng.Intn(7))-3)
	case basic.FLOAT:
		return rng.Float32()
	case basic.DOUBLE:
		return rng.Float64()
	case basic.INT_VECTOR:
		vec := make([]int32, def.LogicalSize)
		for i := range vec {
			vec[i] = rng.Int31()
		}
		return vec
	case basic.LONG_VECTOR:
		vec := make([]int64, def.LogicalSize)
		for i := range vec {
			vec[i] = rng.Int63()
		}
		return vec
	case basic.FLOAT_VECTOR:
		vec := make([]float32, def.LogicalSize)
		for i := range vec {
			vec[i] = rng.Float32()
		}
		return vec
	case basic.DOUBLE_VECTOR:
		vec := make([]float64, def.LogicalSize)
		for i := range vec {
			vec[i] = rng.Float64()
		}
		return vec
	case basic.BOOLEAN_VECTOR:
		vec := make([]bool, def.LogicalSize)
		for i := range vec {
			vec[i] = rng.Intn(2) == 1
		}
		return vec
	}
	return rng.Int63()
}
