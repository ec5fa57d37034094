// Package vm wraps the wazero runtime as a term-oriented virtual machine.
//
// A Handle owns one runtime, the boundary heap boxed terms live in, the
// atom table and the resource table. Guests exchange terms as tagged
// 64-bit words through the wasm i64 calling convention and reach boxed
// structure through the "term" host module:
//
//	tuple_size(t)          element(i, t)        make_tuple(n, init)
//	setelement(i, t, v)    cons(h, t)           hd(l)   tl(l)
//	length(l)              map_get(k, m)        binary_size(b)
//	call(name, args)       raise(code)
//
// call runs a native function from the configured hostfunc.Registry.
// raise aborts the guest with an error code.
//
// # Errors
//
// Every error returned by the package is an *Error carrying a Kind and a
// numeric Code. Kinds are matched with errors.Is:
//
//	_, err := h.Invoke(ctx, id, "div", args)
//	if errors.Is(err, vm.ErrTrap) {
//	    // guest trapped; the handle is still usable
//	}
//
// A fatal error (timeout, cancellation, halt, host panic) leaves the
// handle faulted and every later call fails with ErrFatal.
package vm
