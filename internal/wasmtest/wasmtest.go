// Package wasmtest assembles small WebAssembly modules for tests.
package wasmtest

import "encoding/binary"

// Value types.
const (
	I32 byte = 0x7f
	I64 byte = 0x7e
	F64 byte = 0x7c
)

// Instructions used by the fixtures.
const (
	OpUnreachable byte = 0x00
	OpLoop        byte = 0x03
	OpBr          byte = 0x0c
	OpEnd         byte = 0x0b
	OpCall        byte = 0x10
	OpDrop        byte = 0x1a
	OpLocalGet    byte = 0x20
	OpI64Const    byte = 0x42
	OpI64Add      byte = 0x7c
	OpI64Sub      byte = 0x7d
	OpI64Mul      byte = 0x7e
	OpI64DivS     byte = 0x7f
	OpI64Shl      byte = 0x86
	OpI64ShrS     byte = 0x87
)

// Import is an imported function.
type Import struct {
	Module  string
	Name    string
	Params  []byte
	Results []byte
}

// Func is a defined function. Body holds its instructions without the
// trailing end opcode. An empty Export leaves it unexported.
type Func struct {
	Export  string
	Params  []byte
	Results []byte
	Body    []byte
}

// Module describes a module to assemble. An empty Name omits the name
// section.
type Module struct {
	Name    string
	Imports []Import
	Funcs   []Func
}

// I64s returns n i64 value types.
func I64s(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = I64
	}
	return out
}

// TermImport imports a function taking and returning terms.
func TermImport(module, name string, arity int) Import {
	return Import{Module: module, Name: name, Params: I64s(arity), Results: I64s(1)}
}

// TermFunc defines an exported function taking and returning terms.
func TermFunc(name string, arity int, body ...byte) Func {
	return Func{Export: name, Params: I64s(arity), Results: I64s(1), Body: body}
}

// Bytes assembles the module.
func (m Module) Bytes() []byte {
	out := []byte{0x00, 'a', 's', 'm', 0x01, 0x00, 0x00, 0x00}

	var types []byte
	for _, imp := range m.Imports {
		types = append(types, funcType(imp.Params, imp.Results)...)
	}
	for _, f := range m.Funcs {
		types = append(types, funcType(f.Params, f.Results)...)
	}
	out = Section(out, 1, Vec(len(m.Imports)+len(m.Funcs), types))

	if len(m.Imports) > 0 {
		var imports []byte
		for i, imp := range m.Imports {
			imports = append(imports, Name(imp.Module)...)
			imports = append(imports, Name(imp.Name)...)
			imports = append(imports, 0x00)
			imports = append(imports, ULEB(uint32(i))...)
		}
		out = Section(out, 2, Vec(len(m.Imports), imports))
	}

	var funcs []byte
	for i := range m.Funcs {
		funcs = append(funcs, ULEB(uint32(len(m.Imports)+i))...)
	}
	out = Section(out, 3, Vec(len(m.Funcs), funcs))

	var exports []byte
	exported := 0
	for i, f := range m.Funcs {
		if f.Export == "" {
			continue
		}
		exports = append(exports, Name(f.Export)...)
		exports = append(exports, 0x00)
		exports = append(exports, ULEB(uint32(len(m.Imports)+i))...)
		exported++
	}
	out = Section(out, 7, Vec(exported, exports))

	var code []byte
	for _, f := range m.Funcs {
		body := append([]byte{0x00}, f.Body...)
		body = append(body, OpEnd)
		code = append(code, ULEB(uint32(len(body)))...)
		code = append(code, body...)
	}
	out = Section(out, 10, Vec(len(m.Funcs), code))

	if m.Name != "" {
		sub := Name(m.Name)
		payload := append([]byte{0x00}, ULEB(uint32(len(sub)))...)
		payload = append(payload, sub...)
		out = Custom(out, "name", payload)
	}
	return out
}

func funcType(params, results []byte) []byte {
	t := []byte{0x60}
	t = append(t, Vec(len(params), params)...)
	return append(t, Vec(len(results), results)...)
}

// Section appends a section with the given id and payload to out.
func Section(out []byte, id byte, payload []byte) []byte {
	out = append(out, id)
	out = append(out, ULEB(uint32(len(payload)))...)
	return append(out, payload...)
}

// Custom appends a custom section to out.
func Custom(out []byte, name string, payload []byte) []byte {
	body := append(Name(name), payload...)
	return Section(out, 0, body)
}

// Vec prefixes already encoded elements with their count.
func Vec(n int, elems []byte) []byte {
	return append(ULEB(uint32(n)), elems...)
}

// Name encodes a length-prefixed string.
func Name(s string) []byte {
	return append(ULEB(uint32(len(s))), s...)
}

// ULEB encodes an unsigned LEB128 value.
func ULEB(v uint32) []byte {
	var buf []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			return append(buf, b)
		}
		buf = append(buf, b|0x80)
	}
}

// SLEB encodes a signed LEB128 value.
func SLEB(v int64) []byte {
	var buf []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(buf, b)
		}
		buf = append(buf, b|0x80)
	}
}

// LocalGet returns local.get i.
func LocalGet(i uint32) []byte { return append([]byte{OpLocalGet}, ULEB(i)...) }

// I64Const returns i64.const v.
func I64Const(v int64) []byte { return append([]byte{OpI64Const}, SLEB(v)...) }

// Call returns call f.
func Call(f uint32) []byte { return append([]byte{OpCall}, ULEB(f)...) }

// Seq concatenates instruction sequences.
func Seq(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// Header returns the eight header bytes with the given version.
func Header(version uint32) []byte {
	out := []byte{0x00, 'a', 's', 'm', 0, 0, 0, 0}
	binary.LittleEndian.PutUint32(out[4:], version)
	return out
}
