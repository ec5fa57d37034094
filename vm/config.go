package vm

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/caffeineduck/atomhost/hostfunc"
	"github.com/caffeineduck/atomhost/term"
)

// Engine selects the wazero execution engine.
type Engine string

const (
	// EngineAuto uses the compiler where supported, else the interpreter.
	EngineAuto        Engine = ""
	EngineCompiler    Engine = "compiler"
	EngineInterpreter Engine = "interpreter"
)

// Limits and defaults of Config fields.
const (
	MinHeapSize          = 64 << 10
	MaxHeapSize          = 1 << 30
	DefaultMaxTermDepth  = term.DefaultMaxDepth
	MaxTermDepthLimit    = 1 << 16
	DefaultMaxListLength = term.DefaultMaxListLength
	DefaultMaxAtoms      = term.DefaultAtomLimit
	MinAtoms             = 64
	MaxMemoryLimitPages  = 1 << 16
)

// Config holds the boot options of a VM. The zero value of a numeric field
// selects its default.
type Config struct {
	// HeapSize is the boundary heap size in bytes. It bounds the boxed
	// terms alive during one call.
	HeapSize int `toml:"heap_size"`
	// EnableTrace logs every boundary crossing at debug level.
	EnableTrace bool `toml:"enable_trace"`
	// MaxTermDepth bounds nesting in encoded and decoded terms.
	MaxTermDepth int `toml:"max_term_depth"`
	// MaxListLength bounds the length of any list crossing the boundary.
	MaxListLength int `toml:"max_list_length"`
	// MaxAtoms is the capacity of the atom table.
	MaxAtoms int `toml:"max_atoms"`
	// MemoryLimitPages caps guest linear memory, in 64 KiB pages.
	MemoryLimitPages uint32 `toml:"memory_limit_pages"`
	Engine           Engine `toml:"engine"`
	// CacheDir enables the on-disk compilation cache.
	CacheDir string `toml:"cache_dir"`

	// Functions are the native functions guests reach through term.call.
	Functions *hostfunc.Registry `toml:"-"`
	Logger    *zap.Logger        `toml:"-"`
}

// DefaultConfig returns a Config with every default filled in.
func DefaultConfig() Config {
	return Config{}.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.HeapSize == 0 {
		c.HeapSize = MinHeapSize
	}
	if c.MaxTermDepth == 0 {
		c.MaxTermDepth = DefaultMaxTermDepth
	}
	if c.MaxListLength == 0 {
		c.MaxListLength = DefaultMaxListLength
	}
	if c.MaxAtoms == 0 {
		c.MaxAtoms = DefaultMaxAtoms
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Validate reports the first invalid field or combination. Zero values
// are valid and select defaults.
func (c Config) Validate() error {
	c = c.withDefaults()
	switch {
	case c.HeapSize < MinHeapSize || c.HeapSize > MaxHeapSize:
		return fmt.Errorf("%w: heap_size %d outside [%d, %d]", ErrInvalidConfig, c.HeapSize, MinHeapSize, MaxHeapSize)
	case c.MaxTermDepth < 1 || c.MaxTermDepth > MaxTermDepthLimit:
		return fmt.Errorf("%w: max_term_depth %d outside [1, %d]", ErrInvalidConfig, c.MaxTermDepth, MaxTermDepthLimit)
	case c.MaxListLength < 1:
		return fmt.Errorf("%w: max_list_length %d below 1", ErrInvalidConfig, c.MaxListLength)
	case c.MaxAtoms < MinAtoms:
		return fmt.Errorf("%w: max_atoms %d below %d", ErrInvalidConfig, c.MaxAtoms, MinAtoms)
	case c.MemoryLimitPages > MaxMemoryLimitPages:
		return fmt.Errorf("%w: memory_limit_pages %d above %d", ErrInvalidConfig, c.MemoryLimitPages, MaxMemoryLimitPages)
	}
	switch c.Engine {
	case EngineAuto, EngineCompiler:
	case EngineInterpreter:
		if c.CacheDir != "" {
			return fmt.Errorf("%w: cache_dir requires the compiler engine", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown engine %q", ErrInvalidConfig, c.Engine)
	}
	return nil
}
