// Package bench measures the cost of crossing the host boundary.
//
// Run with: go test -v -run=Test ./bench/
// Benchmarks: go test -bench=. ./bench/
package bench

import (
	"context"
	"fmt"
	"runtime"
	"testing"
	"time"

	"github.com/caffeineduck/atomhost/bytecode"
	"github.com/caffeineduck/atomhost/host"
	"github.com/caffeineduck/atomhost/hostfunc"
	"github.com/caffeineduck/atomhost/internal/wasmtest"
	"github.com/caffeineduck/atomhost/pool"
	"github.com/caffeineduck/atomhost/term"
	"github.com/caffeineduck/atomhost/vm"
)

// sample is a mid-sized term: a record-like map holding a list of tuples
// and a binary.
var sample = term.MustMap(
	term.Pair{Key: term.Atom("id"), Value: term.Int(42)},
	term.Pair{Key: term.Atom("name"), Value: term.String("benchmark")},
	term.Pair{Key: term.Atom("items"), Value: term.List(
		term.Tuple(term.Atom("a"), term.Int(1), term.Float(1.5)),
		term.Tuple(term.Atom("b"), term.Int(2), term.Float(2.5)),
		term.Tuple(term.Atom("c"), term.Int(3), term.Float(3.5)),
	)},
)

func bootCalc(tb testing.TB, cfg vm.Config) *host.Host {
	tb.Helper()
	ctx := context.Background()
	cfg.Functions = hostfunc.Builtins()
	h := host.New()
	if err := h.Boot(ctx, cfg); err != nil {
		tb.Fatal(err)
	}
	if _, err := h.Load(ctx, wasmtest.Calc()); err != nil {
		tb.Fatal(err)
	}
	return h
}

// --- Validation and codec ---

func BenchmarkValidate(b *testing.B) {
	wasm := wasmtest.Calc()
	b.SetBytes(int64(len(wasm)))
	for i := 0; i < b.N; i++ {
		if _, err := bytecode.Validate(wasm); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkCodec_RoundTrip(b *testing.B) {
	heap := vm.NewHeap(1 << 16)
	codec := &term.Codec{Arena: heap, Atoms: term.NewAtoms(term.DefaultAtomLimit)}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		mark := heap.Mark()
		t, err := codec.Encode(sample)
		if err != nil {
			b.Fatal(err)
		}
		if _, err := codec.Decode(t); err != nil {
			b.Fatal(err)
		}
		heap.Release(mark)
	}
}

func BenchmarkFormatParse(b *testing.B) {
	for i := 0; i < b.N; i++ {
		if _, err := term.Parse(term.Format(sample)); err != nil {
			b.Fatal(err)
		}
	}
}

// --- Host: cold start (new host each time) ---

func BenchmarkHost_ColdStart(b *testing.B) {
	ctx := context.Background()
	for i := 0; i < b.N; i++ {
		h := bootCalc(b, vm.Config{})
		h.Call(ctx, "calc", "add", term.Int(1), term.Int(2))
		h.Close(ctx)
	}
}

// --- Host: warm calls (reuse host) ---

func BenchmarkHost_WarmCall(b *testing.B) {
	ctx := context.Background()
	h := bootCalc(b, vm.Config{})
	defer h.Close(ctx)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := h.Call(ctx, "calc", "add", term.Int(1), term.Int(2)); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkHost_WarmCall_Identity(b *testing.B) {
	ctx := context.Background()
	h := bootCalc(b, vm.Config{})
	defer h.Close(ctx)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := h.Call(ctx, "calc", "identity", sample); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkHost_WarmCall_Native(b *testing.B) {
	ctx := context.Background()
	h := bootCalc(b, vm.Config{})
	defer h.Close(ctx)
	args := term.List(term.Int(20), term.Int(22))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := h.Call(ctx, "calc", "apply", term.Atom("add"), args); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkPool_Parallel(b *testing.B) {
	ctx := context.Background()
	p, err := pool.New(ctx, vm.Config{Functions: hostfunc.Builtins()}, pool.WithSize(runtime.GOMAXPROCS(0)))
	if err != nil {
		b.Fatal(err)
	}
	defer p.Close(ctx)
	if _, err := p.Load(ctx, wasmtest.Calc()); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := p.Call(ctx, "calc", "add", term.Int(1), term.Int(2)); err != nil {
				b.Error(err)
				return
			}
		}
	})
}

// =============================================================================
// HEAP STABILITY
// =============================================================================

func TestHeapStaysFlat(t *testing.T) {
	ctx := context.Background()
	h := bootCalc(t, vm.Config{})
	defer h.Close(ctx)

	var m runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&m)
	before := m.Alloc

	v := sample
	for i := 0; i < 1000; i++ {
		var err error
		if v, err = h.Call(ctx, "calc", "identity", v); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}

	stats := h.Observe().Heap
	if stats.Words != 0 {
		t.Errorf("heap should be empty between calls, holds %d words", stats.Words)
	}

	runtime.GC()
	runtime.ReadMemStats(&m)
	t.Logf("Go heap before: %d KB, after 1000 calls: %d KB", before/1024, m.Alloc/1024)
	t.Logf("Boundary heap peak: %d words, %d allocations", stats.Peak, stats.Allocs)
}

// =============================================================================
// DISK CACHE BENEFIT (simulates CLI usage)
// =============================================================================

func TestDiskCacheBenefit(t *testing.T) {
	cacheDir := t.TempDir()

	var times []time.Duration
	// Simulate 5 separate CLI invocations, each booting a new host.
	for i := 0; i < 5; i++ {
		start := time.Now()
		h := bootCalc(t, vm.Config{CacheDir: cacheDir})
		if _, err := h.Call(context.Background(), "calc", "add", term.Int(1), term.Int(2)); err != nil {
			t.Fatal(err)
		}
		h.Close(context.Background())
		times = append(times, time.Since(start))
	}

	fmt.Println()
	fmt.Println("=== Disk Cache Benefit (simulated CLI calls) ===")
	for i, d := range times {
		label := "cached"
		if i == 0 {
			label = "compile"
		}
		fmt.Printf("Call %d (%s): %v\n", i+1, label, d)
	}
	fmt.Printf("Speedup: %.1fx after first call\n", float64(times[0])/float64(times[1]))
	fmt.Println()
}
