package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/caffeineduck/atomhost/hostfunc"
	"github.com/caffeineduck/atomhost/sandbox"
)

func newCallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "call FILE FUNCTION [ARGS...]",
		Short: "Call one function of a module (stateless)",
		Long: `Load FILE into a fresh host, call FUNCTION and print the result.

Each argument is one term in text notation:
  atomhost call calc.wasm add 1 2
  atomhost call calc.wasm first '{ok, [1, 2]}'
  atomhost call calc.wasm size '<<"bytes">>'`,
		Args: cobra.MinimumNArgs(2),
		RunE: runCall,
	}
	cmd.Flags().Duration("timeout", 30*time.Second, "Call timeout")
	cmd.Flags().String("name", "", "Module name when the file has none (default: file name)")
	cmd.Flags().Bool("kv", false, "Enable the key-value natives")
	cmd.Flags().Bool("json", false, "Print the result as JSON")
	return cmd
}

type callOutput struct {
	Module     string `json:"module"`
	Function   string `json:"function"`
	Result     string `json:"result,omitempty"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

func runCall(cmd *cobra.Command, args []string) error {
	cfg, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	log, err := setupLogger(cmd, cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	path, function := args[0], args[1]
	wasm, _, err := readModule(path)
	if err != nil {
		return err
	}
	values, err := parseArgs(args[2:])
	if err != nil {
		return err
	}

	timeout, _ := cmd.Flags().GetDuration("timeout")
	name, _ := cmd.Flags().GetString("name")
	enableKV, _ := cmd.Flags().GetBool("kv")
	asJSON, _ := cmd.Flags().GetBool("json")
	if name == "" {
		name = moduleName(path)
	}

	sc := sandbox.Config{
		Timeout:     timeout,
		VM:          cfg.VM,
		Functions:   hostfunc.Builtins(),
		DefaultName: name,
		Logger:      log,
	}
	if enableKV || cfg.KV.Enabled {
		sc.KV = hostfunc.NewKV(cfg.KV.Options()...)
	}

	result := sandbox.Run(cmd.Context(), wasm, function, values, sc)

	out := cmd.OutOrStdout()
	if asJSON {
		o := callOutput{Module: result.Module, Function: function, DurationMs: result.Duration.Milliseconds()}
		if result.Error != nil {
			o.Error = result.Error.Error()
		} else {
			o.Result = result.Value.String()
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(o); err != nil {
			return err
		}
		if result.Error != nil {
			return result.Error
		}
		return nil
	}

	if result.Error != nil {
		return result.Error
	}
	fmt.Fprintln(out, result.Value)
	return nil
}
