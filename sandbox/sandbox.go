// Package sandbox runs a single function of a module in a throwaway host.
package sandbox

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/caffeineduck/atomhost/bytecode"
	"github.com/caffeineduck/atomhost/host"
	"github.com/caffeineduck/atomhost/hostfunc"
	"github.com/caffeineduck/atomhost/term"
	"github.com/caffeineduck/atomhost/vm"
)

// Result holds the value and metadata of one run.
type Result struct {
	Value    term.Value
	Module   string
	Duration time.Duration
	Error    error
}

// Config controls one run.
type Config struct {
	Timeout time.Duration
	VM      vm.Config
	// Functions defaults to hostfunc.Builtins.
	Functions *hostfunc.Registry
	// KV, if set, is registered into Functions so state can outlive the run.
	KV          *hostfunc.KV
	DefaultName string
	Logger      *zap.Logger
}

// DefaultConfig returns a 30 second timeout and default VM settings.
func DefaultConfig() Config {
	return Config{
		Timeout: 30 * time.Second,
		VM:      vm.DefaultConfig(),
	}
}

// Run boots a host, loads wasm, calls function with args and closes the
// host again. Every failure is reported in Result.Error.
func Run(ctx context.Context, wasm []byte, function string, args []term.Value, cfg Config) Result {
	start := time.Now()

	registry := cfg.Functions
	if registry == nil {
		registry = hostfunc.Builtins()
	}
	if cfg.KV != nil {
		cfg.KV.Register(registry)
	}
	vmCfg := cfg.VM
	vmCfg.Functions = registry

	h := host.New(host.WithLogger(cfg.Logger), host.WithCallTimeout(cfg.Timeout))
	defer h.Close(context.Background())

	if err := h.Boot(ctx, vmCfg); err != nil {
		return Result{Error: err, Duration: time.Since(start)}
	}

	var opts []bytecode.Option
	if cfg.DefaultName != "" {
		opts = append(opts, bytecode.WithDefaultName(cfg.DefaultName))
	}
	id, err := h.Load(ctx, wasm, opts...)
	if err != nil {
		return Result{Error: err, Duration: time.Since(start)}
	}

	result := Result{}
	if mods := h.Modules(); len(mods) == 1 {
		result.Module = mods[0].Name
	}
	result.Value, result.Error = h.Execute(ctx, id, function, args...)
	result.Duration = time.Since(start)
	return result
}
