package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/BurntSushi/toml"
	"github.com/docker/go-units"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
)

const (
	EngineMemory  = "memory"
	EngineBadger  = "badger"
	EnginePebble  = "pebble"
	EngineLevelDB = "leveldb"
)

type Config struct {
	StoreID    uint64 `toml:"store-id"`
	StatusAddr string `toml:"status-addr"`

	Log       log.Config `toml:"log"`
	Scheduler Scheduler  `toml:"scheduler"`
	Engine    Engine     `toml:"engine"`
	Import    Import     `toml:"import"`
}

type Scheduler struct {
	// Number of latch slots, rounded up to a power of two. Keys hashing to one slot are serialized.
	LatchSlots int `toml:"latch-slots"`
	// Workers running normal and low priority commands.
	WorkerPoolSize int `toml:"worker-pool-size"`
	// Workers running high priority commands.
	HighPriorityPoolSize int `toml:"high-priority-pool-size"`
}

type Engine struct {
	Kind   string `toml:"kind"`
	DBPath string `toml:"db-path"` // Directory to store the data in. Should exist and be writable.

	// Badger: if value size >= this threshold, only store value offsets in tree.
	ValueThreshold int      `toml:"value-threshold"`
	MaxTableSize   ByteSize `toml:"max-table-size"`
	NumCompactors  int      `toml:"num-compactors"`
	// Sync all writes to disk.
	SyncWrites bool `toml:"sync-writes"`
}

type Import struct {
	ImportDir string `toml:"import-dir"`
	// Upload throughput limit, zero for unlimited.
	UploadRateLimit ByteSize `toml:"upload-rate-limit"`
}

// ByteSize is a size that reads from strings like "64MB" or "1GiB".
type ByteSize uint64

func (b ByteSize) String() string {
	return units.BytesSize(float64(b))
}

func (b *ByteSize) UnmarshalText(text []byte) error {
	v, err := units.RAMInBytes(string(text))
	if err != nil {
		return errors.Annotatef(err, "invalid size %q", text)
	}
	*b = ByteSize(v)
	return nil
}

func (b ByteSize) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

const (
	KB uint64 = 1024
	MB uint64 = 1024 * 1024
)

func (c *Config) Validate() error {
	if c.Scheduler.LatchSlots <= 0 {
		return fmt.Errorf("latch slots must be greater than 0")
	}
	if c.Scheduler.WorkerPoolSize <= 0 || c.Scheduler.HighPriorityPoolSize <= 0 {
		return fmt.Errorf("scheduler pool sizes must be greater than 0")
	}
	switch c.Engine.Kind {
	case EngineMemory:
	case EngineBadger, EnginePebble, EngineLevelDB:
		if c.Engine.DBPath == "" {
			return fmt.Errorf("engine %s needs a db-path", c.Engine.Kind)
		}
	default:
		return fmt.Errorf("unknown engine kind %q", c.Engine.Kind)
	}
	if c.Import.ImportDir == "" {
		return fmt.Errorf("import dir must not be empty")
	}
	return nil
}

// LoadFile overlays the TOML file at path on c. Keys the config does not know are rejected.
func (c *Config) LoadFile(path string) error {
	meta, err := toml.DecodeFile(path, c)
	if err != nil {
		return errors.WithStack(err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return errors.Errorf("config contains undefined item: %v", undecoded)
	}
	return nil
}

func getLogLevel() (logLevel string) {
	logLevel = "info"
	if l := os.Getenv("LOG_LEVEL"); len(l) != 0 {
		logLevel = l
	}
	return
}

func NewDefaultConfig() *Config {
	return &Config{
		StoreID:    1,
		StatusAddr: "127.0.0.1:20180",
		Log:        log.Config{Level: getLogLevel()},
		Scheduler: Scheduler{
			LatchSlots:           2048000,
			WorkerPoolSize:       maxInt(runtime.NumCPU(), 4),
			HighPriorityPoolSize: 2,
		},
		Engine: Engine{
			Kind:           EngineBadger,
			DBPath:         "/tmp/txnkv",
			ValueThreshold: 256,
			MaxTableSize:   ByteSize(64 * MB),
			NumCompactors:  1,
			SyncWrites:     true,
		},
		Import: Import{
			ImportDir:       filepath.Join("/tmp/txnkv", "import"),
			UploadRateLimit: ByteSize(64 * MB),
		},
	}
}

func NewTestConfig() *Config {
	return &Config{
		StoreID:    1,
		StatusAddr: "127.0.0.1:0",
		Log:        log.Config{Level: getLogLevel()},
		Scheduler: Scheduler{
			LatchSlots:           256,
			WorkerPoolSize:       4,
			HighPriorityPoolSize: 1,
		},
		Engine: Engine{
			Kind:           EngineMemory,
			ValueThreshold: 32,
			MaxTableSize:   ByteSize(4 * MB),
			NumCompactors:  1,
		},
		Import: Import{
			ImportDir: filepath.Join(os.TempDir(), "txnkv-import"),
		},
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
