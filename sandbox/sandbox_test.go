package sandbox

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/caffeineduck/atomhost/bytecode"
	"github.com/caffeineduck/atomhost/host"
	"github.com/caffeineduck/atomhost/hostfunc"
	"github.com/caffeineduck/atomhost/internal/wasmtest"
	"github.com/caffeineduck/atomhost/term"
	"github.com/caffeineduck/atomhost/vm"
)

func TestRunAdd(t *testing.T) {
	result := Run(context.Background(), wasmtest.Calc(), "add", []term.Value{term.Int(2), term.Int(3)}, DefaultConfig())
	if result.Error != nil {
		t.Fatalf("unexpected error: %v", result.Error)
	}
	if !term.Equal(result.Value, term.Int(5)) {
		t.Errorf("expected 5, got %s", result.Value)
	}
	if result.Module != "calc" {
		t.Errorf("expected module calc, got %q", result.Module)
	}
	if result.Duration <= 0 {
		t.Error("duration not recorded")
	}
}

func TestRunNativeFunction(t *testing.T) {
	args := []term.Value{term.Atom("list_sum"), term.List(term.List(term.Int(1), term.Int(2), term.Int(3)))}
	result := Run(context.Background(), wasmtest.Calc(), "apply", args, DefaultConfig())
	if result.Error != nil {
		t.Fatalf("unexpected error: %v", result.Error)
	}
	if !term.Equal(result.Value, term.Int(6)) {
		t.Errorf("expected 6, got %s", result.Value)
	}
}

func TestRunKVPersistsAcrossRuns(t *testing.T) {
	kv := hostfunc.NewKV()
	cfg := DefaultConfig()
	cfg.KV = kv

	set := []term.Value{term.Atom("kv_set"), term.List(term.String("key"), term.Atom("value"))}
	if r := Run(context.Background(), wasmtest.Calc(), "apply", set, cfg); r.Error != nil {
		t.Fatalf("kv_set: %v", r.Error)
	}

	cfg.Functions = nil
	get := []term.Value{term.Atom("kv_get"), term.List(term.String("key"))}
	r := Run(context.Background(), wasmtest.Calc(), "apply", get, cfg)
	if r.Error != nil {
		t.Fatalf("kv_get: %v", r.Error)
	}
	if !term.Equal(r.Value, term.Atom("value")) {
		t.Errorf("expected value, got %s", r.Value)
	}
	if kv.Len() != 1 {
		t.Errorf("expected 1 entry, got %d", kv.Len())
	}
}

func TestRunKVIsolationWithoutStore(t *testing.T) {
	get := []term.Value{term.Atom("kv_get"), term.List(term.String("key"))}
	r := Run(context.Background(), wasmtest.Calc(), "apply", get, DefaultConfig())
	if !errors.Is(r.Error, vm.ErrTrap) {
		t.Fatalf("expected undef trap without a store, got %v", r.Error)
	}
}

func TestRunTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timeout = 50 * time.Millisecond
	result := Run(context.Background(), wasmtest.Calc(), "spin", nil, cfg)
	if result.Error == nil {
		t.Fatal("expected timeout error")
	}
	if !errors.Is(result.Error, host.ErrHostFaulted) {
		t.Errorf("expected host fault, got %v", result.Error)
	}
	if !strings.Contains(result.Error.Error(), "timeout") {
		t.Errorf("expected timeout in message, got %v", result.Error)
	}
}

func TestRunInvalidModule(t *testing.T) {
	result := Run(context.Background(), []byte("not wasm"), "add", nil, DefaultConfig())
	if !errors.Is(result.Error, host.ErrInvalid) || !errors.Is(result.Error, bytecode.ErrBadMagic) {
		t.Fatalf("expected bad magic, got %v", result.Error)
	}
}

func TestRunDefaultName(t *testing.T) {
	b := wasmtest.Module{Funcs: []wasmtest.Func{wasmtest.TermFunc("two", 0, wasmtest.I64Const(16)...)}}.Bytes()
	cfg := DefaultConfig()
	cfg.DefaultName = "anonymous"

	result := Run(context.Background(), b, "two", nil, cfg)
	if result.Error != nil {
		t.Fatalf("unexpected error: %v", result.Error)
	}
	if result.Module != "anonymous" {
		t.Errorf("expected module anonymous, got %q", result.Module)
	}
	if !term.Equal(result.Value, term.Int(2)) {
		t.Errorf("expected 2, got %s", result.Value)
	}
}

func TestRunBadConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.VM.HeapSize = 10
	result := Run(context.Background(), wasmtest.Calc(), "add", nil, cfg)
	if !errors.Is(result.Error, vm.ErrInvalidConfig) {
		t.Fatalf("expected invalid config, got %v", result.Error)
	}
}
