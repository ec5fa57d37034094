// Package hostfunc provides native functions guest code can call.
//
// Guests reach a native function through the term host module: they pass
// the function name as an atom and the arguments as a list, the VM decodes
// them into a [Call], runs the [Func] and encodes its result back.
//
// # Registry
//
//	registry := hostfunc.Builtins()
//	registry.Register("greet", func(ctx context.Context, call hostfunc.Call) (term.Value, error) {
//	    if err := call.Arity("greet", 1); err != nil {
//	        return term.Value{}, err
//	    }
//	    return term.Tuple(term.Atom("hello"), call.Args[0]), nil
//	})
//
// # Built-in Functions
//
// Math: add, multiply, list_sum and tuple_to_list, with integer overflow
// reported as [ErrOverflow].
//
// Counters: counter_new returns a resource handle; counter_get,
// counter_increment, counter_decrement and counter_reset take it.
//
// Key-value store: [KV] registers kv_get, kv_set, kv_delete and kv_keys,
// bounded by key size, value size and entry count. kv_put and kv_entry
// exchange whole entries as kv_entry records (see [EntrySchema]).
//
//	kv := hostfunc.NewKV(hostfunc.WithMaxEntries(100))
//	kv.Register(registry)
package hostfunc
