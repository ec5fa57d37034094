package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/caffeineduck/atomhost/bytecode"
	"github.com/caffeineduck/atomhost/config"
	"github.com/caffeineduck/atomhost/hostfunc"
	"github.com/caffeineduck/atomhost/term"
	"github.com/caffeineduck/atomhost/vm"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "atomhost",
		Short: "Host for WebAssembly modules exchanging tagged terms",
		Long: `atomhost - Load WebAssembly modules and call their functions with
tagged terms such as {ok, [1, 2]}, #{a => 1} or <<"bin">>.

Modules are validated before they are loaded. A failing call is reported
as a trap; only timeouts, halts and native panics fault the host.`,
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "Config file (default: atomhost.toml in the current or a parent directory)")
	flags.Int("heap-size", 0, "Boundary heap size in bytes")
	flags.Int("max-depth", 0, "Maximum term nesting depth")
	flags.Bool("trace", false, "Log every boundary crossing at debug level")
	flags.String("log-level", "", "Log level: debug, info, warn, error")
	flags.String("log-file", "", "Also write logs to this file, rotated")
	flags.Bool("no-cache", false, "Disable the compilation cache")

	root.AddCommand(newValidateCmd(), newCallCmd(), newReplCmd(), newServeCmd())
	return root
}

// Execute runs the root command.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// loadSettings reads the config file and applies flag overrides.
func loadSettings(cmd *cobra.Command) (*config.Config, error) {
	flags := cmd.Flags()
	path, _ := flags.GetString("config")

	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.FindAndLoad(".")
	}
	if err != nil {
		return nil, err
	}

	if flags.Changed("heap-size") {
		cfg.VM.HeapSize, _ = flags.GetInt("heap-size")
	}
	if flags.Changed("max-depth") {
		cfg.VM.MaxTermDepth, _ = flags.GetInt("max-depth")
	}
	if flags.Changed("trace") {
		cfg.VM.EnableTrace, _ = flags.GetBool("trace")
	}
	if flags.Changed("log-level") {
		cfg.Log.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-file") {
		cfg.Log.File, _ = flags.GetString("log-file")
	}
	if noCache, _ := flags.GetBool("no-cache"); noCache {
		cfg.VM.CacheDir = ""
	} else if cfg.VM.CacheDir == "" && cfg.VM.Engine != vm.EngineInterpreter {
		cfg.VM.CacheDir = config.DefaultCacheDir()
	}
	if cfg.VM.EnableTrace && !flags.Changed("log-level") {
		cfg.Log.Level = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// functions returns the built-in natives plus the key-value store when
// enabled.
func functions(cfg *config.Config) *hostfunc.Registry {
	r := hostfunc.Builtins()
	if cfg.KV.Enabled {
		hostfunc.NewKV(cfg.KV.Options()...).Register(r)
	}
	return r
}

func readModule(path string) ([]byte, *bytecode.Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	mod, err := bytecode.Validate(data, bytecode.WithDefaultName(moduleName(path)))
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return data, mod, nil
}

// moduleName derives a module name from a file name: dir/calc.wasm is calc.
func moduleName(path string) string {
	base := path[strings.LastIndexAny(path, `/\`)+1:]
	return strings.TrimSuffix(base, ".wasm")
}

func parseArgs(args []string) ([]term.Value, error) {
	values := make([]term.Value, len(args))
	for i, a := range args {
		v, err := term.Parse(a)
		if err != nil {
			return nil, fmt.Errorf("argument %d %q: %w", i+1, a, err)
		}
		values[i] = v
	}
	return values, nil
}

func setupLogger(cmd *cobra.Command, cfg *config.Config) (*zap.Logger, error) {
	return newLogger(cfg.Log, cmd.ErrOrStderr())
}
