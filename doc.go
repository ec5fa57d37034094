// Package atomhost hosts WebAssembly modules that exchange tagged terms
// with the embedding Go program.
//
// # Overview
//
// Guests see every value as one 64-bit word: small integers, atoms and
// other immediates live in the word itself, while tuples, lists, maps and
// binaries are boxed on a boundary heap owned by the host. The [term]
// package converts between those words and Go values; the [vm] package runs
// the guest code under wazero and exposes term primitives to it.
//
// # Basic Usage
//
//	h := host.New(host.WithCallTimeout(5 * time.Second))
//	defer h.Close(ctx)
//
//	if err := h.Boot(ctx, vm.Config{Functions: hostfunc.Builtins()}); err != nil {
//	    return err
//	}
//	if _, err := h.Load(ctx, wasm); err != nil {
//	    return err
//	}
//
//	v, err := h.Call(ctx, "calc", "add", term.Int(1), term.Int(2))
//	fmt.Println(v) // 3
//
// # Failures
//
// A trap or a raised error fails only the call. Timeouts, halts and native
// panics are fatal: the host moves to the faulted state and refuses further
// work. [pool.Pool] replaces faulted hosts automatically.
//
// # Natives
//
// Guests call Go functions through term.call. [hostfunc.Builtins] provides
// arithmetic, counters and time; [hostfunc.KV] adds a key-value store.
//
// See the [host], [vm], [term], [bytecode], [hostfunc], [pool] and
// [sandbox] packages for detailed API documentation.
package atomhost
