package bytecode

import "slices"

// ExternKind is the kind of an import or export.
type ExternKind byte

const (
	ExternFunc   ExternKind = 0
	ExternTable  ExternKind = 1
	ExternMemory ExternKind = 2
	ExternGlobal ExternKind = 3
)

func (k ExternKind) String() string {
	switch k {
	case ExternFunc:
		return "func"
	case ExternTable:
		return "table"
	case ExternMemory:
		return "memory"
	case ExternGlobal:
		return "global"
	}
	return "unknown"
}

// ValueType is a wasm value type byte.
type ValueType byte

const (
	I32       ValueType = 0x7f
	I64       ValueType = 0x7e
	F32       ValueType = 0x7d
	F64       ValueType = 0x7c
	V128      ValueType = 0x7b
	FuncRef   ValueType = 0x70
	ExternRef ValueType = 0x6f
)

func validValueType(b byte) bool {
	switch ValueType(b) {
	case I32, I64, F32, F64, V128, FuncRef, ExternRef:
		return true
	}
	return false
}

// FuncType is a function signature.
type FuncType struct {
	Params  []ValueType
	Results []ValueType
}

// termArity returns the arity of a signature that takes and returns terms
// only: (i64 ... i64) -> i64.
func (t FuncType) termArity() (int, bool) {
	if len(t.Results) != 1 || t.Results[0] != I64 {
		return 0, false
	}
	for _, p := range t.Params {
		if p != I64 {
			return 0, false
		}
	}
	return len(t.Params), true
}

// Import is one entry of the import section.
type Import struct {
	Module string
	Name   string
	Kind   ExternKind
	// Type is the signature of a function import.
	Type FuncType
}

// Export is one entry of the export section.
type Export struct {
	Name  string
	Kind  ExternKind
	Index uint32
}

// Function is a callable export: a function taking and returning terms.
type Function struct {
	Name  string
	Arity int
}

// Module is a buffer proven structurally well-formed by Validate. It is a
// view over the input: the caller must not modify the buffer afterwards.
type Module struct {
	raw       []byte
	name      string
	imports   []Import
	exports   []Export
	functions []Function
}

// Valid reports whether m was produced by Validate.
func (m *Module) Valid() bool { return m != nil && m.raw != nil }

// Bytes returns the validated buffer.
func (m *Module) Bytes() []byte { return m.raw }

// Name returns the module name.
func (m *Module) Name() string { return m.name }

// Size returns the length of the buffer in bytes.
func (m *Module) Size() int { return len(m.raw) }

// Imports returns a copy of the imports in declaration order.
func (m *Module) Imports() []Import {
	out := slices.Clone(m.imports)
	for i := range out {
		out[i].Type = FuncType{
			Params:  slices.Clone(out[i].Type.Params),
			Results: slices.Clone(out[i].Type.Results),
		}
	}
	return out
}

// Exports returns a copy of every export in declaration order.
func (m *Module) Exports() []Export { return slices.Clone(m.exports) }

// Functions returns a copy of the callable exports in declaration order.
func (m *Module) Functions() []Function { return slices.Clone(m.functions) }
