package column

import (
	"path/filepath"
	"strings"
	"sync"

	"github.com/juju/errors"
	"github.com/zhukovaskychina/hare-storage/conf"
	"github.com/zhukovaskychina/hare-storage/engine/basic"
	"github.com/zhukovaskychina/hare-storage/engine/buffer_pool"
	"github.com/zhukovaskychina/hare-storage/engine/pages"
	"github.com/zhukovaskychina/hare-storage/engine/serializer"
	"github.com/zhukovaskychina/hare-storage/engine/store"
	"github.com/zhukovaskychina/hare-storage/logger"
)

const (
	// HeaderPageId is the logical page carrying the column header.
	HeaderPageId basic.PageId = 1
	// FirstDataPageId is the logical page of tuple 0.
	FirstDataPageId basic.PageId = 2

	// EntryHeaderSize is the 4-byte flags word preceding every payload.
	EntryHeaderSize = 4

	// Entry flag bits.
	FlagNull    int32 = 2
	FlagDeleted int32 = 4

	// FileSuffix is the extension of column files.
	FileSuffix = ".hare"
)

// Page shifts considered when bootstrapping a column file.
const (
	MinColumnPageShift = 12
	MaxColumnPageShift = 22
)

// Options tunes how a column file is opened.
type Options struct {
	// UseWal selects the write-ahead-logged disk manager.
	UseWal bool

	// BufferPoolSize is the per-transaction buffer pool size in pages.
	BufferPoolSize int

	// Policy picks the eviction queue; nil means LRU.
	Policy buffer_pool.EvictionPolicy

	// Collector receives buffer pool metrics; nil uses the pool's own stats.
	Collector buffer_pool.MetricsCollector

	PrefetchWorkers   int
	PrefetchQueueSize int

	// Disk tunes the underlying disk manager.
	Disk *store.Options
}

// DefaultColumnOptions returns the option defaults.
func DefaultColumnOptions() *Options {
	return &Options{
		BufferPoolSize: 64,
		Disk:           store.DefaultOptions(),
	}
}

// OptionsFromConfig derives column options from the engine configuration.
func OptionsFromConfig(cfg *conf.Cfg, useWal bool) *Options {
	return &Options{
		UseWal:            useWal,
		BufferPoolSize:    cfg.BufferPoolSize,
		Policy:            buffer_pool.PolicyByName(cfg.EvictionPolicy),
		PrefetchWorkers:   cfg.PrefetchWorkers,
		PrefetchQueueSize: cfg.PrefetchQueueSize,
		Disk: &store.Options{
			LockTimeout:      cfg.LockTimeout,
			PreallocatePages: cfg.PreallocatePages,
			WalCodec:         cfg.WalCompression,
		},
	}
}

func (o *Options) normalized() *Options {
	out := DefaultColumnOptions()
	if o == nil {
		return out
	}
	out.UseWal = o.UseWal
	if o.BufferPoolSize > 0 {
		out.BufferPoolSize = o.BufferPoolSize
	}
	// an append keeps the header pinned while it holds a detached scratch
	// buffer and then a data page; keep enough slack for eviction to make
	// progress
	if out.BufferPoolSize < 8 {
		out.BufferPoolSize = 8
	}
	out.Policy = o.Policy
	out.Collector = o.Collector
	out.PrefetchWorkers = o.PrefetchWorkers
	out.PrefetchQueueSize = o.PrefetchQueueSize
	if o.Disk != nil {
		out.Disk = o.Disk
	}
	return out
}

// FixedColumnFile is a column of fixed-size entries layered on a page file:
// logical page 1 describes the column, logical pages 2+ hold back-to-back
// entries of (4-byte flags word + payload). Access happens through
// per-transaction readers, writers and cursors that coexist under a
// multi-reader single-writer gate.
type FixedColumnFile struct {
	path string
	def  basic.ColumnDef
	ser  serializer.Serializer
	disk store.DiskManager
	opts *Options

	entrySize    int
	slotsPerPage int64

	gate        *lockGate
	registryKey uint64

	mu     sync.Mutex
	closed bool
}

// CreateDirect bootstraps an empty column file: it picks the page shift
// that wastes the fewest bytes per page, writes the column header to
// logical page 1 and allocates the first empty data page.
func CreateDirect(path string, def basic.ColumnDef) error {
	ser, err := serializer.ForColumn(def)
	if err != nil {
		return errors.Trace(err)
	}
	entrySize := ser.PhysicalSize() + EntryHeaderSize
	pageShift := choosePageShift(entrySize)

	if err := store.CreatePageFile(path, pageShift); err != nil {
		return errors.Trace(err)
	}
	disk, err := store.OpenDirect(path, nil)
	if err != nil {
		return errors.Trace(err)
	}
	bootstrapTx := basic.NewTransactionId()

	headerId, err := disk.Allocate(bootstrapTx)
	if err != nil {
		disk.Close()
		return errors.Trace(err)
	}
	if headerId != HeaderPageId {
		disk.Close()
		return errors.Annotatef(basic.ErrDataCorruption, "fresh file allocated page %d for the header", headerId)
	}
	headerPage := pages.NewPage(pageShift)
	header := pages.NewColumnHeader(headerPage)
	header.Init(int32(def.Type), int32(def.LogicalSize), int32(entrySize), def.Nullable)
	if err := disk.Update(bootstrapTx, HeaderPageId, headerPage); err != nil {
		disk.Close()
		return errors.Trace(err)
	}

	dataId, err := disk.Allocate(bootstrapTx)
	if err != nil {
		disk.Close()
		return errors.Trace(err)
	}
	if dataId != FirstDataPageId {
		disk.Close()
		return errors.Annotatef(basic.ErrDataCorruption, "fresh file allocated page %d for the first data page", dataId)
	}
	logger.Infof("created column file %s (%s, entrySize=%d, pageShift=%d)", path, def.Type.Name(), entrySize, pageShift)
	return errors.Trace(disk.Close())
}

// choosePageShift returns the smallest shift in the allowed window that
// minimises the wasted bytes per page (pageSize mod entrySize).
func choosePageShift(entrySize int) int {
	best := MinColumnPageShift
	bestWaste := -1
	for shift := MinColumnPageShift; shift <= MaxColumnPageShift; shift++ {
		pageSize := 1 << shift
		if pageSize < entrySize {
			continue
		}
		waste := pageSize % entrySize
		if bestWaste < 0 || waste < bestWaste {
			best = shift
			bestWaste = waste
		}
		if waste == 0 {
			break
		}
	}
	return best
}

// Open opens an existing column file. The column definition is read back
// from the header page.
func Open(path string, opts *Options) (*FixedColumnFile, error) {
	opts = opts.normalized()
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	registryKey, err := registerOpenFile(absPath)
	if err != nil {
		return nil, errors.Trace(err)
	}

	var disk store.DiskManager
	if opts.UseWal {
		disk, err = store.OpenWalManager(path, opts.Disk)
	} else {
		disk, err = store.OpenDirect(path, opts.Disk)
	}
	if err != nil {
		unregisterOpenFile(registryKey)
		return nil, errors.Trace(err)
	}

	headerPage := pages.NewPage(disk.PageShift())
	if err := disk.Read(HeaderPageId, headerPage); err != nil {
		disk.Close()
		unregisterOpenFile(registryKey)
		return nil, errors.Trace(err)
	}
	header := pages.NewColumnHeader(headerPage)
	if err := header.Validate(); err != nil {
		disk.Close()
		unregisterOpenFile(registryKey)
		return nil, errors.Trace(err)
	}

	def := basic.ColumnDef{
		Name:        strings.TrimSuffix(filepath.Base(path), FileSuffix),
		Type:        basic.ColumnType(header.TypeOrdinal()),
		LogicalSize: int(header.LogicalSize()),
		Nullable:    header.Nullable(),
	}
	ser, err := serializer.ForColumn(def)
	if err != nil {
		disk.Close()
		unregisterOpenFile(registryKey)
		return nil, errors.Trace(err)
	}
	entrySize := int(header.EntrySize())
	if entrySize != ser.PhysicalSize()+EntryHeaderSize {
		disk.Close()
		unregisterOpenFile(registryKey)
		return nil, errors.Annotatef(basic.ErrDataCorruption,
			"header entry size %d does not match serializer size %d", entrySize, ser.PhysicalSize()+EntryHeaderSize)
	}

	f := &FixedColumnFile{
		path:         path,
		def:          def,
		ser:          ser,
		disk:         disk,
		opts:         opts,
		entrySize:    entrySize,
		slotsPerPage: int64(disk.PageSize() / entrySize),
		gate:         newLockGate(),
		registryKey:  registryKey,
	}
	return f, nil
}

// Definition returns the column definition.
func (f *FixedColumnFile) Definition() basic.ColumnDef {
	return f.def
}

// EntrySize returns the physical entry size including the entry header.
func (f *FixedColumnFile) EntrySize() int {
	return f.entrySize
}

// SlotsPerPage returns the number of entries a data page holds.
func (f *FixedColumnFile) SlotsPerPage() int64 {
	return f.slotsPerPage
}

// DiskManager exposes the underlying disk manager.
func (f *FixedColumnFile) DiskManager() store.DiskManager {
	return f.disk
}

// ToAddress translates a tuple id into its (page, slot) address.
func (f *FixedColumnFile) ToAddress(tupleId basic.TupleId) basic.Address {
	pageId := basic.PageId(int64(tupleId)/f.slotsPerPage) + FirstDataPageId
	slotId := basic.SlotId(int64(tupleId) % f.slotsPerPage)
	return basic.NewAddress(pageId, slotId)
}

// ObtainLock takes the column gate; shared for readers, exclusive for
// writers. The returned handle releases it.
func (f *FixedColumnFile) ObtainLock(exclusive bool) int64 {
	return f.gate.obtain(exclusive)
}

// ReleaseLock gives a lock handle back. Idempotent.
func (f *FixedColumnFile) ReleaseLock(handle int64) {
	f.gate.release(handle)
}

func (f *FixedColumnFile) newPool() *buffer_pool.BufferPool {
	return buffer_pool.NewBufferPool(f.disk, &buffer_pool.BufferPoolConfig{
		Size:              f.opts.BufferPoolSize,
		Policy:            f.opts.Policy,
		Collector:         f.opts.Collector,
		PrefetchWorkers:   f.opts.PrefetchWorkers,
		PrefetchQueueSize: f.opts.PrefetchQueueSize,
	})
}

func (f *FixedColumnFile) checkOpen() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return basic.ErrResourceClosed
	}
	return nil
}

// NewReader opens a per-transaction reader; it holds the gate shared until
// closed.
func (f *FixedColumnFile) NewReader() (*ColumnReader, error) {
	if err := f.checkOpen(); err != nil {
		return nil, errors.Trace(err)
	}
	handle := f.gate.obtain(false)
	return &ColumnReader{
		file:   f,
		pool:   f.newPool(),
		handle: handle,
	}, nil
}

// NewWriter opens a per-transaction writer; it holds the gate exclusively
// until closed.
func (f *FixedColumnFile) NewWriter() (*ColumnWriter, error) {
	if err := f.checkOpen(); err != nil {
		return nil, errors.Trace(err)
	}
	handle := f.gate.obtain(true)
	return &ColumnWriter{
		file:   f,
		pool:   f.newPool(),
		handle: handle,
	}, nil
}

// NewCursor opens a forward-only cursor over [start, end]. A negative end
// captures the column's maxTupleId at construction time, making later
// appends invisible to the cursor.
func (f *FixedColumnFile) NewCursor(start basic.TupleId, end basic.TupleId) (*ColumnCursor, error) {
	if err := f.checkOpen(); err != nil {
		return nil, errors.Trace(err)
	}
	handle := f.gate.obtain(false)
	pool := f.newPool()
	if end < 0 {
		headerRef, err := pool.Get(HeaderPageId, buffer_pool.PriorityDefault)
		if err != nil {
			pool.Close()
			f.gate.release(handle)
			return nil, errors.Trace(err)
		}
		headerRef.Latch().Shared()
		end = basic.TupleId(pages.NewColumnHeader(headerRef).MaxTupleId())
		headerRef.Latch().ReleaseShared()
		headerRef.Release()
	}
	if start < 0 {
		start = 0
	}
	return &ColumnCursor{
		file:    f,
		pool:    pool,
		handle:  handle,
		start:   start,
		end:     end,
		current: start - 1,
	}, nil
}

// Close closes the disk manager and unregisters the file. Idempotent.
func (f *FixedColumnFile) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	unregisterOpenFile(f.registryKey)
	return errors.Trace(f.disk.Close())
}

// Delete closes the column file and removes it from disk.
func (f *FixedColumnFile) Delete() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return basic.ErrResourceClosed
	}
	f.closed = true
	unregisterOpenFile(f.registryKey)
	return errors.Trace(f.disk.Delete())
}
