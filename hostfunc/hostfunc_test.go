package hostfunc

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/caffeineduck/atomhost/term"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register("b", TimeNow)
	r.Register("a", TimeNow)

	if _, ok := r.Get("a"); !ok {
		t.Fatal("expected a to be registered")
	}
	if _, ok := r.Get("missing"); ok {
		t.Fatal("unexpected function")
	}
	if got := r.List(); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("expected sorted names, got %v", got)
	}
}

func TestBuiltins(t *testing.T) {
	r := Builtins()
	for _, name := range []string{"add", "multiply", "list_sum", "tuple_to_list", "counter_new", "counter_increment", "time_now"} {
		if _, ok := r.Get(name); !ok {
			t.Errorf("missing builtin %s", name)
		}
	}
}

func TestAdd(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		a, b term.Value
		want string
		err  error
	}{
		{term.Int(2), term.Int(3), "5", nil},
		{term.Int(2), term.Float(0.5), "2.5", nil},
		{term.Int(math.MaxInt64), term.Int(1), "", ErrOverflow},
		{term.Int(math.MinInt64), term.Int(-1), "", ErrOverflow},
		{term.Atom("x"), term.Int(1), "", ErrBadArg},
	}
	for _, tt := range tests {
		got, err := Add(ctx, Call{Args: []term.Value{tt.a, tt.b}})
		if tt.err != nil {
			if !errors.Is(err, tt.err) {
				t.Errorf("add(%s, %s): expected %v, got %v", tt.a, tt.b, tt.err, err)
			}
			continue
		}
		if err != nil || term.Format(got) != tt.want {
			t.Errorf("add(%s, %s) = %s, %v; want %s", tt.a, tt.b, got, err, tt.want)
		}
	}
}

func TestMultiplyOverflow(t *testing.T) {
	ctx := context.Background()
	got, err := Multiply(ctx, Call{Args: []term.Value{term.Int(-4), term.Int(5)}})
	if err != nil || !term.Equal(got, term.Int(-20)) {
		t.Fatalf("multiply(-4, 5) = %s, %v", got, err)
	}
	for _, args := range [][2]int64{{math.MaxInt64, 2}, {math.MinInt64, -1}, {-1, math.MinInt64}, {1 << 32, 1 << 32}} {
		_, err := Multiply(ctx, Call{Args: []term.Value{term.Int(args[0]), term.Int(args[1])}})
		if !errors.Is(err, ErrOverflow) {
			t.Errorf("multiply(%d, %d): expected overflow, got %v", args[0], args[1], err)
		}
	}
}

func TestListSum(t *testing.T) {
	ctx := context.Background()
	got, err := ListSum(ctx, Call{Args: []term.Value{term.List(term.Int(1), term.Int(2), term.Int(3))}})
	if err != nil || !term.Equal(got, term.Int(6)) {
		t.Fatalf("list_sum = %s, %v", got, err)
	}
	got, err = ListSum(ctx, Call{Args: []term.Value{term.Nil()}})
	if err != nil || !term.Equal(got, term.Int(0)) {
		t.Fatalf("list_sum([]) = %s, %v", got, err)
	}
	_, err = ListSum(ctx, Call{Args: []term.Value{term.List(term.Int(math.MaxInt64), term.Int(1))}})
	if !errors.Is(err, ErrOverflow) {
		t.Errorf("expected overflow, got %v", err)
	}
	_, err = ListSum(ctx, Call{Args: []term.Value{term.List(term.Atom("a"))}})
	if !errors.Is(err, ErrBadArg) {
		t.Errorf("expected bad argument, got %v", err)
	}
}

func TestTupleToList(t *testing.T) {
	got, err := TupleToList(context.Background(), Call{Args: []term.Value{term.Tuple(term.Int(1), term.Atom("a"))}})
	if err != nil || term.Format(got) != "[1, a]" {
		t.Fatalf("tuple_to_list = %s, %v", got, err)
	}
	got, err = TupleToList(context.Background(), Call{Args: []term.Value{term.Tuple()}})
	if err != nil || !term.Equal(got, term.Nil()) {
		t.Fatalf("tuple_to_list({}) = %s, %v", got, err)
	}
}

func TestArity(t *testing.T) {
	_, err := Add(context.Background(), Call{Args: []term.Value{term.Int(1)}})
	if !errors.Is(err, ErrBadArg) {
		t.Errorf("expected bad argument, got %v", err)
	}
}

func TestCounters(t *testing.T) {
	ctx := context.Background()
	r := Builtins()
	res := term.NewResources()
	call := func(name string, args ...term.Value) term.Value {
		t.Helper()
		fn, _ := r.Get(name)
		v, err := fn(ctx, Call{Args: args, Resources: res})
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		return v
	}

	c := call("counter_new", term.Int(10))
	call("counter_increment", c)
	call("counter_increment", c)
	call("counter_decrement", c)
	if got := call("counter_get", c); !term.Equal(got, term.Int(11)) {
		t.Errorf("expected 11, got %s", got)
	}
	if got := call("counter_reset", c); !term.Equal(got, term.Int(0)) {
		t.Errorf("expected 0 after reset, got %s", got)
	}

	fn, _ := r.Get("counter_get")
	if _, err := fn(ctx, Call{Args: []term.Value{term.Resource(999)}, Resources: res}); !errors.Is(err, ErrBadArg) {
		t.Errorf("expected bad argument for unknown counter, got %v", err)
	}
}
