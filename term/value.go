package term

import (
	"fmt"
	"math"
	"sort"
)

// Kind identifies the variant held by a Value.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindInt
	KindAtom
	KindNil
	KindPid
	KindPort
	KindRef
	KindTuple
	KindList
	KindMap
	KindBinary
	KindFloat
	KindResource
)

var kindNames = [...]string{
	KindInvalid:  "invalid",
	KindInt:      "integer",
	KindAtom:     "atom",
	KindNil:      "nil",
	KindPid:      "pid",
	KindPort:     "port",
	KindRef:      "reference",
	KindTuple:    "tuple",
	KindList:     "list",
	KindMap:      "map",
	KindBinary:   "binary",
	KindFloat:    "float",
	KindResource: "resource",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Value is the host-side representation of a term. It owns its data
// independently of any VM heap. The zero Value is the invalid marker.
type Value struct {
	kind  Kind
	num   uint64 // int bits, float bits or handle id
	name  string // atom name
	bytes []byte
	elems []Value // tuple and list elements
	pairs []Pair
}

// Pair is one map entry.
type Pair struct {
	Key   Value
	Value Value
}

// Int returns an integer value.
func Int(n int64) Value { return Value{kind: KindInt, num: uint64(n)} }

// Atom returns an atom value.
func Atom(name string) Value { return Value{kind: KindAtom, name: name} }

// Nil returns the empty list.
func Nil() Value { return Value{kind: KindNil} }

// Pid returns a process identifier handle.
func Pid(id uint64) Value { return Value{kind: KindPid, num: id} }

// Port returns a port handle.
func Port(id uint64) Value { return Value{kind: KindPort, num: id} }

// Ref returns a reference handle.
func Ref(id uint64) Value { return Value{kind: KindRef, num: id} }

// Resource returns a resource handle.
func Resource(id uint64) Value { return Value{kind: KindResource, num: id} }

// Float returns a float value. The bit pattern of f, including NaN
// payloads, is preserved across the boundary.
func Float(f float64) Value { return Value{kind: KindFloat, num: math.Float64bits(f)} }

// Invalid returns the explicit invalid marker.
func Invalid() Value { return Value{} }

// Binary returns a binary holding a copy of b.
func Binary(b []byte) Value {
	cp := make([]byte, len(b))
	copy(cp, b)
	return Value{kind: KindBinary, bytes: cp}
}

// String returns a binary holding the UTF-8 bytes of s.
func String(s string) Value { return Value{kind: KindBinary, bytes: []byte(s)} }

// Tuple returns a tuple of the given elements.
func Tuple(elems ...Value) Value {
	cp := make([]Value, len(elems))
	copy(cp, elems)
	return Value{kind: KindTuple, elems: cp}
}

// List returns a proper list of the given elements. An empty list is Nil.
func List(elems ...Value) Value {
	if len(elems) == 0 {
		return Nil()
	}
	cp := make([]Value, len(elems))
	copy(cp, elems)
	return Value{kind: KindList, elems: cp}
}

// Map returns a map of the given pairs, sorted by key in standard term
// order. Duplicate keys are rejected with ErrMalformed.
func Map(pairs ...Pair) (Value, error) {
	cp := make([]Pair, len(pairs))
	copy(cp, pairs)
	sort.SliceStable(cp, func(i, j int) bool { return Compare(cp[i].Key, cp[j].Key) < 0 })
	for i := 1; i < len(cp); i++ {
		if Equal(cp[i-1].Key, cp[i].Key) {
			return Value{}, fmt.Errorf("%w: duplicate map key %s", ErrMalformed, Format(cp[i].Key))
		}
	}
	return Value{kind: KindMap, pairs: cp}, nil
}

// MustMap is like Map but panics on duplicate keys. Intended for literals
// in tests and initializers.
func MustMap(pairs ...Pair) Value {
	v, err := Map(pairs...)
	if err != nil {
		panic(err)
	}
	return v
}

// Bool returns the atom true or false.
func Bool(b bool) Value {
	if b {
		return Atom("true")
	}
	return Atom("false")
}

// Kind returns the variant of v.
func (v Value) Kind() Kind { return v.kind }

// IsValid reports whether v is anything other than the invalid marker.
func (v Value) IsValid() bool { return v.kind != KindInvalid }

// AsInt returns the integer held by v.
func (v Value) AsInt() (int64, bool) {
	if v.kind != KindInt {
		return 0, false
	}
	return int64(v.num), true
}

// AsFloat returns the float held by v.
func (v Value) AsFloat() (float64, bool) {
	if v.kind != KindFloat {
		return 0, false
	}
	return math.Float64frombits(v.num), true
}

// AsAtom returns the atom name held by v.
func (v Value) AsAtom() (string, bool) {
	if v.kind != KindAtom {
		return "", false
	}
	return v.name, true
}

// AsBinary returns the bytes held by v. The slice must not be modified.
func (v Value) AsBinary() ([]byte, bool) {
	if v.kind != KindBinary {
		return nil, false
	}
	return v.bytes, true
}

// ID returns the id of a pid, port, reference or resource handle.
func (v Value) ID() (uint64, bool) {
	switch v.kind {
	case KindPid, KindPort, KindRef, KindResource:
		return v.num, true
	}
	return 0, false
}

// Elements returns the elements of a tuple or list. Nil has no elements.
// The slice must not be modified.
func (v Value) Elements() ([]Value, bool) {
	switch v.kind {
	case KindTuple, KindList:
		return v.elems, true
	case KindNil:
		return nil, true
	}
	return nil, false
}

// Pairs returns the entries of a map in key order. The slice must not be
// modified.
func (v Value) Pairs() ([]Pair, bool) {
	if v.kind != KindMap {
		return nil, false
	}
	return v.pairs, true
}

// Get returns the value stored under key in a map.
func (v Value) Get(key Value) (Value, bool) {
	for _, p := range v.pairs {
		if Equal(p.Key, key) {
			return p.Value, true
		}
	}
	return Value{}, false
}

func (v Value) String() string { return Format(v) }
