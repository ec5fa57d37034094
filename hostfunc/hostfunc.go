package hostfunc

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/caffeineduck/atomhost/term"
)

// Errors returned by native functions. The VM maps them to guest error
// codes: ErrBadArg to badarg, ErrOverflow to badarith, ErrLimit to
// system_limit.
var (
	ErrBadArg   = errors.New("hostfunc: bad argument")
	ErrOverflow = errors.New("hostfunc: arithmetic overflow")
	ErrLimit    = errors.New("hostfunc: limit exceeded")
)

// ArgError reports an argument of the wrong shape.
type ArgError struct {
	Func  string
	Index int
	Want  string
	Got   term.Value
}

func (e *ArgError) Error() string {
	if e.Index == 0 {
		return fmt.Sprintf("hostfunc: %s: %s", e.Func, e.Want)
	}
	return fmt.Sprintf("hostfunc: %s: argument %d: expected %s, got %s", e.Func, e.Index, e.Want, e.Got)
}

func (e *ArgError) Unwrap() error { return ErrBadArg }

// Call carries the decoded arguments of one native call and the resource
// table of the calling VM.
type Call struct {
	Args      []term.Value
	Resources *term.Resources
}

// Arity checks the number of arguments.
func (c Call) Arity(name string, n int) error {
	if len(c.Args) != n {
		return &ArgError{Func: name, Want: fmt.Sprintf("takes %d arguments, got %d", n, len(c.Args))}
	}
	return nil
}

// Func is a native function callable from guest code.
type Func func(ctx context.Context, call Call) (term.Value, error)

// Registry maps names to native functions.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]Func)}
}

// Register adds fn under name, replacing any previous function.
func (r *Registry) Register(name string, fn Func) {
	r.mu.Lock()
	r.funcs[name] = fn
	r.mu.Unlock()
}

// Get returns the function registered under name.
func (r *Registry) Get(name string) (Func, bool) {
	r.mu.RLock()
	fn, ok := r.funcs[name]
	r.mu.RUnlock()
	return fn, ok
}

// List returns the registered names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered functions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.funcs)
}

// Builtins returns a registry holding the math, counter and clock
// functions.
func Builtins() *Registry {
	r := NewRegistry()
	RegisterMath(r)
	RegisterCounters(r)
	r.Register("time_now", TimeNow)
	return r
}
