package conf

import (
	"time"

	"gopkg.in/ini.v1"
)

/**
[hare]
datadir             = /var/lib/hare
buffer_pool_size    = 64
eviction_policy     = lru
prefetch_workers    = 1
prefetch_queue_size = 32
lock_timeout        = 5s
preallocate_pages   = 32
wal_compression     = none
log_level           = info
*/
type Cfg struct {
	Raw *ini.File

	DataDir string

	// buffer pool
	BufferPoolSize    int
	EvictionPolicy    string
	PrefetchWorkers   int
	PrefetchQueueSize int

	// disk manager
	LockTimeout      time.Duration
	PreallocatePages int
	WalCompression   string

	LogLevel string
}

// NewCfg returns a configuration populated with the engine defaults.
func NewCfg() *Cfg {
	return &Cfg{
		Raw:               ini.Empty(),
		DataDir:           ".",
		BufferPoolSize:    64,
		EvictionPolicy:    "lru",
		PrefetchWorkers:   1,
		PrefetchQueueSize: 32,
		LockTimeout:       5 * time.Second,
		PreallocatePages:  32,
		WalCompression:    "none",
		LogLevel:          "info",
	}
}

// Load 从配置文件中加载引擎配置
func (cfg *Cfg) Load(configPath string) (*Cfg, error) {
	iniFile, err := ini.Load(configPath)
	if err != nil {
		return nil, err
	}
	cfg.Raw = iniFile

	cfg.parseHareCfg(cfg.Raw.Section("hare"))
	return cfg, nil
}

func (cfg *Cfg) parseHareCfg(section *ini.Section) *Cfg {
	cfg.DataDir = section.Key("datadir").MustString(cfg.DataDir)
	cfg.BufferPoolSize = section.Key("buffer_pool_size").MustInt(cfg.BufferPoolSize)
	cfg.EvictionPolicy = section.Key("eviction_policy").MustString(cfg.EvictionPolicy)
	cfg.PrefetchWorkers = section.Key("prefetch_workers").MustInt(cfg.PrefetchWorkers)
	cfg.PrefetchQueueSize = section.Key("prefetch_queue_size").MustInt(cfg.PrefetchQueueSize)
	cfg.LockTimeout = section.Key("lock_timeout").MustDuration(cfg.LockTimeout)
	cfg.PreallocatePages = section.Key("preallocate_pages").MustInt(cfg.PreallocatePages)
	cfg.WalCompression = section.Key("wal_compression").MustString(cfg.WalCompression)
	cfg.LogLevel = section.Key("log_level").MustString(cfg.LogLevel)
	return cfg
}
