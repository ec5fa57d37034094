package hostfunc

import (
	"context"
	"math"
	"time"

	"github.com/caffeineduck/atomhost/term"
)

// RegisterMath adds add, multiply, list_sum and tuple_to_list to r.
func RegisterMath(r *Registry) {
	r.Register("add", Add)
	r.Register("multiply", Multiply)
	r.Register("list_sum", ListSum)
	r.Register("tuple_to_list", TupleToList)
}

// Add returns the sum of two numbers. Integer overflow is an error, never
// a wrapped result.
func Add(_ context.Context, call Call) (term.Value, error) {
	if err := call.Arity("add", 2); err != nil {
		return term.Value{}, err
	}
	return arith("add", call.Args[0], call.Args[1], addInt, func(a, b float64) float64 { return a + b })
}

// Multiply returns the product of two numbers.
func Multiply(_ context.Context, call Call) (term.Value, error) {
	if err := call.Arity("multiply", 2); err != nil {
		return term.Value{}, err
	}
	return arith("multiply", call.Args[0], call.Args[1], mulInt, func(a, b float64) float64 { return a * b })
}

// ListSum returns the sum of a list of integers.
func ListSum(_ context.Context, call Call) (term.Value, error) {
	if err := call.Arity("list_sum", 1); err != nil {
		return term.Value{}, err
	}
	if k := call.Args[0].Kind(); k != term.KindList && k != term.KindNil {
		return term.Value{}, &ArgError{Func: "list_sum", Index: 1, Want: "list", Got: call.Args[0]}
	}
	elems, _ := call.Args[0].Elements()
	var sum int64
	for _, e := range elems {
		n, ok := e.AsInt()
		if !ok {
			return term.Value{}, &ArgError{Func: "list_sum", Index: 1, Want: "list of integers", Got: call.Args[0]}
		}
		s, ok := addInt(sum, n)
		if !ok {
			return term.Value{}, ErrOverflow
		}
		sum = s
	}
	return term.Int(sum), nil
}

// TupleToList returns the elements of a tuple as a list.
func TupleToList(_ context.Context, call Call) (term.Value, error) {
	if err := call.Arity("tuple_to_list", 1); err != nil {
		return term.Value{}, err
	}
	if call.Args[0].Kind() != term.KindTuple {
		return term.Value{}, &ArgError{Func: "tuple_to_list", Index: 1, Want: "tuple", Got: call.Args[0]}
	}
	elems, _ := call.Args[0].Elements()
	return term.List(elems...), nil
}

// TimeNow returns the wall clock as float seconds since the epoch.
func TimeNow(_ context.Context, call Call) (term.Value, error) {
	if err := call.Arity("time_now", 0); err != nil {
		return term.Value{}, err
	}
	return term.Float(float64(time.Now().UnixNano()) / 1e9), nil
}

func arith(name string, a, b term.Value, ints func(int64, int64) (int64, bool), floats func(float64, float64) float64) (term.Value, error) {
	x, xInt := a.AsInt()
	y, yInt := b.AsInt()
	if xInt && yInt {
		r, ok := ints(x, y)
		if !ok {
			return term.Value{}, ErrOverflow
		}
		return term.Int(r), nil
	}

	fx, ok := number(a)
	if !ok {
		return term.Value{}, &ArgError{Func: name, Index: 1, Want: "number", Got: a}
	}
	fy, ok := number(b)
	if !ok {
		return term.Value{}, &ArgError{Func: name, Index: 2, Want: "number", Got: b}
	}
	r := floats(fx, fy)
	if math.IsInf(r, 0) || math.IsNaN(r) {
		return term.Value{}, ErrOverflow
	}
	return term.Float(r), nil
}

func number(v term.Value) (float64, bool) {
	if n, ok := v.AsInt(); ok {
		return float64(n), true
	}
	return v.AsFloat()
}

func addInt(a, b int64) (int64, bool) {
	s := a + b
	if (a > 0 && b > 0 && s < 0) || (a < 0 && b < 0 && s >= 0) {
		return 0, false
	}
	return s, true
}

func mulInt(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	p := a * b
	if p/b != a || (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) {
		return 0, false
	}
	return p, true
}
