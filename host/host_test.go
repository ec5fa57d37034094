package host_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/caffeineduck/atomhost/bytecode"
	"github.com/caffeineduck/atomhost/host"
	"github.com/caffeineduck/atomhost/hostfunc"
	"github.com/caffeineduck/atomhost/internal/wasmtest"
	"github.com/caffeineduck/atomhost/observe"
	"github.com/caffeineduck/atomhost/registry"
	"github.com/caffeineduck/atomhost/term"
	"github.com/caffeineduck/atomhost/vm"
)

// Shared host with calc loaded. Tests that fault or close a host build
// their own.
var (
	sharedHost *host.Host
	calcID     vm.ModuleID
)

func TestMain(m *testing.M) {
	ctx := context.Background()
	sharedHost = host.New(host.WithTracerProvider(oteltrace.NewNoopTracerProvider()))
	if err := sharedHost.Boot(ctx, vm.Config{Functions: hostfunc.Builtins()}); err != nil {
		panic("failed to boot shared host: " + err.Error())
	}
	var err error
	calcID, err = sharedHost.Load(ctx, wasmtest.Calc())
	if err != nil {
		panic("failed to load calc: " + err.Error())
	}

	code := m.Run()

	sharedHost.Close(ctx)
	os.Exit(code)
}

func newCalcHost(t *testing.T, opts ...host.Option) (*host.Host, vm.ModuleID) {
	t.Helper()
	ctx := context.Background()
	h := host.New(opts...)
	if err := h.Boot(ctx, vm.Config{Functions: hostfunc.Builtins()}); err != nil {
		t.Fatalf("boot: %v", err)
	}
	t.Cleanup(func() { h.Close(ctx) })
	id, err := h.Load(ctx, wasmtest.Calc())
	if err != nil {
		t.Fatalf("load calc: %v", err)
	}
	return h, id
}

// =============================================================================
// LIFECYCLE
// =============================================================================

func TestBootLoadExecute(t *testing.T) {
	ctx := context.Background()
	h := host.New()
	defer h.Close(ctx)

	if got := h.State(); got != host.Unbooted {
		t.Fatalf("new host state = %s, want unbooted", got)
	}
	if err := h.Boot(ctx, vm.DefaultConfig()); err != nil {
		t.Fatalf("boot: %v", err)
	}
	if got := h.State(); got != host.Booted {
		t.Fatalf("state after boot = %s, want booted", got)
	}

	id, err := h.Load(ctx, wasmtest.Adder("adder"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := h.State(); got != host.Loaded {
		t.Fatalf("state after load = %s, want loaded", got)
	}

	got, err := h.Execute(ctx, id, "add", term.Int(2), term.Int(3))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !term.Equal(got, term.Int(5)) {
		t.Errorf("add(2, 3) = %s, want 5", got)
	}
	if got := h.State(); got != host.Loaded {
		t.Errorf("state after execute = %s, want loaded", got)
	}
}

func TestOperationsBeforeBoot(t *testing.T) {
	ctx := context.Background()
	h := host.New()

	if _, err := h.Load(ctx, wasmtest.Adder("adder")); !errors.Is(err, host.ErrNotBooted) {
		t.Errorf("load before boot: got %v, want ErrNotBooted", err)
	}
	if _, err := h.Execute(ctx, vm.ModuleID{}, "add"); !errors.Is(err, host.ErrNotBooted) {
		t.Errorf("execute before boot: got %v, want ErrNotBooted", err)
	}
	if _, err := h.Call(ctx, "adder", "add"); !errors.Is(err, host.ErrNotBooted) {
		t.Errorf("call before boot: got %v, want ErrNotBooted", err)
	}
}

func TestBootTwice(t *testing.T) {
	err := sharedHost.Boot(context.Background(), vm.Config{})
	if !errors.Is(err, host.ErrAlreadyBooted) {
		t.Fatalf("second boot: got %v, want ErrAlreadyBooted", err)
	}
}

func TestBootFailureStaysUnbooted(t *testing.T) {
	ctx := context.Background()
	h := host.New()
	err := h.Boot(ctx, vm.Config{HeapSize: 1})
	if !errors.Is(err, host.ErrBoot) || !errors.Is(err, vm.ErrInvalidConfig) {
		t.Fatalf("boot with bad config: got %v", err)
	}
	if got := h.State(); got != host.Unbooted {
		t.Fatalf("state = %s, want unbooted", got)
	}
	if err := h.Boot(ctx, vm.Config{}); err != nil {
		t.Fatalf("boot after failure: %v", err)
	}
	h.Close(ctx)
}

func TestExecuteBeforeLoad(t *testing.T) {
	ctx := context.Background()
	h := host.New()
	defer h.Close(ctx)
	if err := h.Boot(ctx, vm.Config{}); err != nil {
		t.Fatalf("boot: %v", err)
	}
	_, err := h.Execute(ctx, calcID, "add", term.Int(1), term.Int(2))
	if !errors.Is(err, host.ErrNotLoaded) {
		t.Fatalf("got %v, want ErrNotLoaded", err)
	}
}

func TestClose(t *testing.T) {
	ctx := context.Background()
	h, id := newCalcHost(t)

	if err := h.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := h.Close(ctx); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if got := h.State(); got != host.Closed {
		t.Fatalf("state = %s, want closed", got)
	}
	if _, err := h.Execute(ctx, id, "add", term.Int(1), term.Int(1)); !errors.Is(err, host.ErrClosed) {
		t.Errorf("execute after close: got %v, want ErrClosed", err)
	}
	if err := h.Boot(ctx, vm.Config{}); !errors.Is(err, host.ErrClosed) {
		t.Errorf("boot after close: got %v, want ErrClosed", err)
	}
}

func TestCloseUnbooted(t *testing.T) {
	if err := host.New().Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
}

// =============================================================================
// LOAD
// =============================================================================

func TestLoadInvalid(t *testing.T) {
	ctx := context.Background()
	h, _ := newCalcHost(t)

	tests := []struct {
		name  string
		bytes []byte
		want  error
	}{
		{"truncated", wasmtest.Calc()[:4], bytecode.ErrTruncated},
		{"bad magic", []byte("\x00wasm\x01\x00\x00\x00"), bytecode.ErrBadMagic},
		{"version", wasmtest.Header(2), bytecode.ErrUnsupportedVersion},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := h.Modules()
			_, err := h.Load(ctx, tt.bytes)
			if !errors.Is(err, host.ErrInvalid) || !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want ErrInvalid wrapping %v", err, tt.want)
			}
			if got := h.State(); got != host.Loaded {
				t.Errorf("state changed to %s", got)
			}
			if len(h.Modules()) != len(before) {
				t.Errorf("modules changed after invalid load")
			}
		})
	}
}

func TestLoadDuplicateName(t *testing.T) {
	_, err := sharedHost.Load(context.Background(), wasmtest.Calc())
	if !errors.Is(err, host.ErrLoad) || !errors.Is(err, registry.ErrAlreadyLoaded) {
		t.Fatalf("got %v, want ErrLoad wrapping ErrAlreadyLoaded", err)
	}
	var dup *registry.AlreadyLoadedError
	if !errors.As(err, &dup) || dup.ID != calcID {
		t.Errorf("expected AlreadyLoadedError naming %s, got %v", calcID, err)
	}
}

func TestLoadForeignFailureRegistersNothing(t *testing.T) {
	ctx := context.Background()
	h, _ := newCalcHost(t)
	b := wasmtest.Module{
		Name:    "needs_env",
		Imports: []wasmtest.Import{wasmtest.TermImport("env", "missing", 1)},
		Funcs:   []wasmtest.Func{wasmtest.TermFunc("f", 0, wasmtest.I64Const(0)...)},
	}.Bytes()

	_, err := h.Load(ctx, b)
	if !errors.Is(err, host.ErrLoad) || !errors.Is(err, vm.ErrInvalidModule) {
		t.Fatalf("got %v, want ErrLoad wrapping vm.ErrInvalidModule", err)
	}
	if _, err := h.Call(ctx, "needs_env", "f"); !errors.Is(err, host.ErrNotLoaded) {
		t.Errorf("call into failed module: got %v, want ErrNotLoaded", err)
	}
}

func TestLoadDefaultName(t *testing.T) {
	ctx := context.Background()
	h, _ := newCalcHost(t)
	b := wasmtest.Module{Funcs: []wasmtest.Func{wasmtest.TermFunc("one", 0, wasmtest.I64Const(8)...)}}.Bytes()

	if _, err := h.Load(ctx, b); !errors.Is(err, bytecode.ErrMalformed) {
		t.Fatalf("load without name: got %v, want ErrMalformed", err)
	}
	if _, err := h.Load(ctx, b, bytecode.WithDefaultName("anon")); err != nil {
		t.Fatalf("load with default name: %v", err)
	}
	got, err := h.Call(ctx, "anon", "one")
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if !term.Equal(got, term.Int(1)) {
		t.Errorf("one() = %s, want 1", got)
	}
}

// =============================================================================
// EXECUTE
// =============================================================================

func TestExamples(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		function string
		args     string
		want     string
	}{
		{"add", `[2, 3]`, `5`},
		{"mul", `[-4, 8]`, `-32`},
		{"identity", `[{ok, #{name => <<"atomhost">>, tags => [a, b]}}]`, `{ok, #{name => <<"atomhost">>, tags => [a, b]}}`},
		{"pair", `[left, right]`, `{left, right}`},
		{"len", `[[1, 2, 3, 4]]`, `4`},
		{"lookup", `[tags, #{tags => [x]}]`, `[x]`},
		{"apply", `[list_sum, [[10, 20, 30]]]`, `60`},
	}
	for _, tt := range tests {
		args, _ := term.MustParse(tt.args).Elements()
		got, err := sharedHost.Call(ctx, "calc", tt.function, args...)
		if err != nil {
			t.Errorf("%s%s: %v", tt.function, tt.args, err)
			continue
		}
		if want := term.MustParse(tt.want); !term.Equal(got, want) {
			t.Errorf("%s%s = %s, want %s", tt.function, tt.args, got, want)
		}
	}
}

func TestRegistryAccuracy(t *testing.T) {
	ctx := context.Background()
	var calc registry.ModuleInfo
	for _, m := range sharedHost.Modules() {
		if m.Name == "calc" {
			calc = m
		}
	}
	if len(calc.Functions) == 0 {
		t.Fatal("calc not listed")
	}

	for _, f := range calc.Functions {
		// Every other arity is rejected before reaching the VM.
		for _, arity := range []int{f.Arity + 1, f.Arity + 2} {
			args := make([]term.Value, arity)
			for i := range args {
				args[i] = term.Int(0)
			}
			_, err := sharedHost.Execute(ctx, calcID, f.Name, args...)
			if !errors.Is(err, vm.ErrNotFound) {
				t.Errorf("%s/%d: got %v, want vm.ErrNotFound", f.Name, arity, err)
			}
		}
	}
	if _, err := sharedHost.Execute(ctx, calcID, "missing"); !errors.Is(err, vm.ErrNotFound) {
		t.Errorf("unknown function: got %v", err)
	}
}

func TestCallFailuresAreLocal(t *testing.T) {
	ctx := context.Background()
	h, id := newCalcHost(t)

	failures := []struct {
		name     string
		function string
		args     []term.Value
		want     error
	}{
		{"trap", "crash", nil, vm.ErrTrap},
		{"divide by zero", "div", []term.Value{term.Int(1), term.Int(0)}, vm.ErrTrap},
		{"stack overflow", "recurse", []term.Value{term.Int(1)}, vm.ErrResourceExhausted},
		{"bad result", "bad_pointer", nil, vm.ErrTrap},
		{"unknown native", "apply", []term.Value{term.Atom("nope"), term.Nil()}, vm.ErrTrap},
		{"unencodable argument", "identity", []term.Value{term.Resource(999)}, term.ErrUnknownResource},
	}
	for _, f := range failures {
		_, err := h.Execute(ctx, id, f.function, f.args...)
		if !errors.Is(err, host.ErrCall) || !errors.Is(err, f.want) {
			t.Errorf("%s: got %v, want ErrCall wrapping %v", f.name, err, f.want)
		}
	}

	if got := h.State(); got != host.Loaded {
		t.Fatalf("state = %s after local failures, want loaded", got)
	}
	got, err := h.Execute(ctx, id, "add", term.Int(20), term.Int(22))
	if err != nil || !term.Equal(got, term.Int(42)) {
		t.Fatalf("add after failures = %v, %v", got, err)
	}
}

func TestTimeoutFaultsHost(t *testing.T) {
	ctx := context.Background()
	h, id := newCalcHost(t, host.WithCallTimeout(50*time.Millisecond))

	_, err := h.Execute(ctx, id, "spin")
	if !errors.Is(err, host.ErrHostFaulted) || !errors.Is(err, vm.ErrFatal) {
		t.Fatalf("spin: got %v, want ErrHostFaulted wrapping vm.ErrFatal", err)
	}
	if got := h.State(); got != host.Faulted {
		t.Fatalf("state = %s, want faulted", got)
	}

	if _, err := h.Execute(ctx, id, "add", term.Int(1), term.Int(1)); !errors.Is(err, host.ErrHostFaulted) {
		t.Errorf("execute after fault: got %v", err)
	}
	if _, err := h.Load(ctx, wasmtest.Adder("other")); !errors.Is(err, host.ErrHostFaulted) {
		t.Errorf("load after fault: got %v", err)
	}

	snap := h.Observe()
	if snap.State != host.Faulted || snap.Health.Status != observe.Critical {
		t.Errorf("snapshot after fault: state=%s health=%s", snap.State, snap.Health.Status)
	}
}

func TestContextDeadlineFaultsHost(t *testing.T) {
	h, id := newCalcHost(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := h.Execute(ctx, id, "spin"); !errors.Is(err, host.ErrHostFaulted) {
		t.Fatalf("got %v, want ErrHostFaulted", err)
	}
}

// =============================================================================
// HEAP AND OBSERVATION
// =============================================================================

// Repeated crossings in both directions must not grow the heap.
func TestPingPongHeapStable(t *testing.T) {
	ctx := context.Background()
	h, id := newCalcHost(t)

	value := term.MustParse(`{ping, [1, 2, 3], #{hop => 0}, <<"payload">>, 3.25}`)
	for i := 0; i < 200; i++ {
		got, err := h.Execute(ctx, id, "identity", value)
		if err != nil {
			t.Fatalf("hop %d: %v", i, err)
		}
		if !term.Equal(got, value) {
			t.Fatalf("hop %d: got %s", i, got)
		}
		value = got
		if words := h.Observe().Heap.Words; words != 0 {
			t.Fatalf("hop %d: %d heap words still in use", i, words)
		}
	}

	snap := h.Observe()
	if snap.Heap.Peak == 0 {
		t.Error("heap peak not recorded")
	}
	if snap.Calls != 200 {
		t.Errorf("calls = %d, want 200", snap.Calls)
	}
}

func TestObserve(t *testing.T) {
	ctx := context.Background()
	reg, metrics, err := observe.NewMetrics("test")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	h, id := newCalcHost(t, host.WithMetrics(metrics), host.WithEventLimit(8))

	if _, err := h.Execute(ctx, id, "add", term.Int(1), term.Int(2)); err != nil {
		t.Fatalf("add: %v", err)
	}
	h.Execute(ctx, id, "crash")

	snap := h.Observe()
	if snap.State != host.Loaded {
		t.Errorf("state = %s", snap.State)
	}
	if len(snap.Modules) != 1 || snap.Modules[0].Name != "calc" {
		t.Errorf("modules = %+v", snap.Modules)
	}
	if snap.Atoms == 0 {
		t.Error("atom count missing")
	}
	if snap.Health.Calls != 2 || snap.Health.Errors != 1 {
		t.Errorf("health = %+v", snap.Health)
	}
	if snap.BootedAt.IsZero() {
		t.Error("boot time missing")
	}

	var types []observe.EventType
	for _, e := range snap.Events {
		types = append(types, e.Type)
	}
	want := []observe.EventType{observe.EventBoot, observe.EventLoad, observe.EventCall, observe.EventCall}
	if len(types) != len(want) {
		t.Fatalf("events = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("events = %v, want %v", types, want)
		}
	}
	if snap.Events[3].Error == "" {
		t.Error("failed call event has no error")
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "test_calls_total" {
			found = true
		}
	}
	if !found {
		t.Error("calls counter not exported")
	}
}

func TestEventSubscription(t *testing.T) {
	ctx := context.Background()
	h, id := newCalcHost(t)
	ch, cancel := h.Events().Subscribe(4)
	defer cancel()

	if _, err := h.Execute(ctx, id, "identity", term.Atom("x")); err != nil {
		t.Fatalf("identity: %v", err)
	}
	select {
	case e := <-ch:
		if e.Type != observe.EventCall || e.Function != "identity" || e.Module != "calc" {
			t.Errorf("unexpected event %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("no event")
	}
}

func TestLoggerReceivesLifecycle(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	newCalcHost(t, host.WithLogger(zap.New(core)))

	for _, msg := range []string{"host booted", "module loaded"} {
		if logs.FilterMessage(msg).Len() != 1 {
			t.Errorf("expected one %q entry, got %d", msg, logs.FilterMessage(msg).Len())
		}
	}
}

func TestStateStrings(t *testing.T) {
	for s, want := range map[host.State]string{
		host.Unbooted:  "unbooted",
		host.Executing: "executing",
		host.Faulted:   "faulted",
		host.State(42): "state(42)",
	} {
		if got := s.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", int32(s), got, want)
		}
	}
}
