package hostfunc

import (
	"context"

	"go.uber.org/atomic"

	"github.com/caffeineduck/atomhost/term"
)

// CounterType is the resource type name of counters.
const CounterType = "counter"

// Counter is a native integer cell guests address through a resource
// handle.
type Counter struct {
	value atomic.Int64
}

// Value returns the current count.
func (c *Counter) Value() int64 { return c.value.Load() }

// RegisterCounters adds counter_new, counter_get, counter_increment,
// counter_decrement and counter_reset to r.
func RegisterCounters(r *Registry) {
	r.Register("counter_new", CounterNew)
	r.Register("counter_get", counterOp("counter_get", func(c *Counter) int64 { return c.value.Load() }))
	r.Register("counter_increment", counterOp("counter_increment", func(c *Counter) int64 { return c.value.Inc() }))
	r.Register("counter_decrement", counterOp("counter_decrement", func(c *Counter) int64 { return c.value.Dec() }))
	r.Register("counter_reset", counterOp("counter_reset", func(c *Counter) int64 {
		c.value.Store(0)
		return 0
	}))
}

// CounterNew creates a counter, optionally with an initial value, and
// returns its resource handle.
func CounterNew(_ context.Context, call Call) (term.Value, error) {
	if call.Resources == nil {
		return term.Value{}, &ArgError{Func: "counter_new", Want: "no resource table"}
	}
	c := &Counter{}
	switch len(call.Args) {
	case 0:
	case 1:
		n, ok := call.Args[0].AsInt()
		if !ok {
			return term.Value{}, &ArgError{Func: "counter_new", Index: 1, Want: "integer", Got: call.Args[0]}
		}
		c.value.Store(n)
	default:
		return term.Value{}, &ArgError{Func: "counter_new", Want: "takes 0 or 1 arguments"}
	}
	return call.Resources.Register(CounterType, c), nil
}

func counterOp(name string, op func(*Counter) int64) Func {
	return func(_ context.Context, call Call) (term.Value, error) {
		if err := call.Arity(name, 1); err != nil {
			return term.Value{}, err
		}
		c, err := lookupCounter(name, call)
		if err != nil {
			return term.Value{}, err
		}
		return term.Int(op(c)), nil
	}
}

func lookupCounter(name string, call Call) (*Counter, error) {
	if call.Resources == nil {
		return nil, &ArgError{Func: name, Want: "no resource table"}
	}
	entry, ok := call.Resources.Get(call.Args[0])
	if !ok || entry.Type != CounterType {
		return nil, &ArgError{Func: name, Index: 1, Want: "counter", Got: call.Args[0]}
	}
	return entry.Object.(*Counter), nil
}
