// Package host is the runtime host: it boots one VM, validates and loads
// modules into it, and executes exported functions on term values.
//
//	h := host.New(host.WithLogger(logger), host.WithCallTimeout(time.Second))
//	defer h.Close(ctx)
//
//	if err := h.Boot(ctx, vm.DefaultConfig()); err != nil {
//	    return err
//	}
//	id, err := h.Load(ctx, wasmBytes)
//	if err != nil {
//	    return err
//	}
//	v, err := h.Execute(ctx, id, "add", term.Int(2), term.Int(3))
//
// A host moves through Unbooted, Booted, Loaded and Executing. A fatal VM
// failure such as a timeout moves it to Faulted, from which nothing but
// Observe and Close succeeds; recovery means booting a new host. Failures
// that are not fatal stay local to the call that caused them.
package host
