package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/zhukovaskychina/hare-storage/engine/basic"
	"github.com/zhukovaskychina/hare-storage/engine/buffer_pool"
	"github.com/zhukovaskychina/hare-storage/engine/pages"
	"github.com/zhukovaskychina/hare-storage/engine/store"
	"github.com/zhukovaskychina/hare-storage/logger"
)

const (
	filePages = 100
	poolSize  = 4
)

func main() {
	logger.Setup(logger.Config{Level: "info"})
	fmt.Println("=== Buffer pool eviction demo ===")

	path := filepath.Join(os.TempDir(), "hare_demo_pool.hare")
	os.Remove(path)
	defer os.Remove(path)

	if err := store.CreatePageFile(path, pages.DefaultPageShift); err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
	disk, err := store.OpenDirect(path, nil)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
	defer disk.Close()

	fmt.Printf("\n1. Allocating %d pages...\n", filePages)
	demoTx := basic.NewTransactionId()
	page := pages.NewPage(disk.PageShift())
	for i := 0; i < filePages; i++ {
		pageId, err := disk.Allocate(demoTx)
		if err != nil {
			fmt.Printf("ERROR: %v\n", err)
			os.Exit(1)
		}
		page.Clear()
		page.PutLong(0, int64(pageId))
		if err := disk.Update(demoTx, pageId, page); err != nil {
			fmt.Printf("ERROR: %v\n", err)
			os.Exit(1)
		}
	}

	fmt.Printf("\n2. Sweeping through a pool of %d buffers...\n", poolSize)
	pool := buffer_pool.NewBufferPool(disk, &buffer_pool.BufferPoolConfig{
		Size:   poolSize,
		Policy: buffer_pool.LruPolicy{},
	})
	defer pool.Close()

	for i := 1; i <= filePages; i++ {
		ref, err := pool.Get(basic.PageId(i), buffer_pool.PriorityDefault)
		if err != nil {
			fmt.Printf("ERROR: %v\n", err)
			os.Exit(1)
		}
		if got := ref.GetLong(0); got != int64(i) {
			fmt.Printf("ERROR: page %d contains %d\n", i, got)
			os.Exit(1)
		}
		ref.Release()
	}

	stats := pool.Stats()
	fmt.Printf("\naccesses=%d misses=%d hitRate=%.2f evictions=%d\n",
		stats.Accesses(), stats.Misses(), stats.HitRate(), stats.Evictions())
	fmt.Println("\n=== done ===")
}
