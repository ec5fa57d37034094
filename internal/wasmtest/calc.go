package wasmtest

// TermModule is the name of the host module guests import term primitives
// from.
const TermModule = "term"

// calcImports are the term primitives the calc fixture imports, in function
// index order.
var calcImports = []Import{
	TermImport(TermModule, "raise", 1),
	TermImport(TermModule, "element", 2),
	TermImport(TermModule, "make_tuple", 2),
	TermImport(TermModule, "setelement", 3),
	TermImport(TermModule, "call", 2),
	TermImport(TermModule, "length", 1),
	TermImport(TermModule, "binary_size", 1),
	TermImport(TermModule, "map_get", 2),
	TermImport(TermModule, "hd", 1),
	TermImport(TermModule, "tl", 1),
	TermImport(TermModule, "cons", 2),
	TermImport(TermModule, "tuple_size", 1),
}

func importIndex(name string) uint32 {
	for i, imp := range calcImports {
		if imp.Name == name {
			return uint32(i)
		}
	}
	panic("wasmtest: no import " + name)
}

// smallInt is the boundary word of a small integer.
func smallInt(n int64) int64 { return n << 3 }

// calcFuncs are the functions of the calc fixture. Small integers carry a
// zero tag, so add and sub work on words directly.
func calcFuncs() []Func {
	recurseIndex := uint32(len(calcImports))
	return []Func{
		// Must stay first: it calls itself by index.
		TermFunc("recurse", 1, Seq(LocalGet(0), Call(recurseIndex))...),
		TermFunc("add", 2, Seq(LocalGet(0), LocalGet(1), []byte{OpI64Add})...),
		TermFunc("sub", 2, Seq(LocalGet(0), LocalGet(1), []byte{OpI64Sub})...),
		TermFunc("mul", 2, Seq(LocalGet(0), LocalGet(1), I64Const(3), []byte{OpI64ShrS, OpI64Mul})...),
		TermFunc("div", 2, Seq(LocalGet(0), LocalGet(1), []byte{OpI64DivS}, I64Const(3), []byte{OpI64Shl})...),
		TermFunc("identity", 1, LocalGet(0)...),
		TermFunc("crash", 0, OpUnreachable),
		TermFunc("spin", 0, Seq([]byte{OpLoop, 0x40, OpBr, 0x00, OpEnd}, I64Const(0))...),
		TermFunc("bad_pointer", 0, I64Const(1<<43|6)...),
		TermFunc("raise", 1, Seq(LocalGet(0), Call(importIndex("raise")))...),
		TermFunc("first", 1, Seq(I64Const(smallInt(1)), LocalGet(0), Call(importIndex("element")))...),
		// setelement(2, make_tuple(2, a), b)
		TermFunc("pair", 2, Seq(
			I64Const(smallInt(2)),
			I64Const(smallInt(2)), LocalGet(0), Call(importIndex("make_tuple")),
			LocalGet(1), Call(importIndex("setelement")),
		)...),
		TermFunc("apply", 2, Seq(LocalGet(0), LocalGet(1), Call(importIndex("call")))...),
		TermFunc("len", 1, Seq(LocalGet(0), Call(importIndex("length")))...),
		TermFunc("size", 1, Seq(LocalGet(0), Call(importIndex("binary_size")))...),
		TermFunc("lookup", 2, Seq(LocalGet(0), LocalGet(1), Call(importIndex("map_get")))...),
		TermFunc("head", 1, Seq(LocalGet(0), Call(importIndex("hd")))...),
		TermFunc("tail", 1, Seq(LocalGet(0), Call(importIndex("tl")))...),
		TermFunc("prepend", 2, Seq(LocalGet(0), LocalGet(1), Call(importIndex("cons")))...),
		TermFunc("arity", 1, Seq(LocalGet(0), Call(importIndex("tuple_size")))...),
		{Export: "raw32", Params: []byte{I32}, Results: []byte{I32}, Body: LocalGet(0)},
	}
}

// Calc returns a module named "calc" exercising arithmetic on words, the
// term primitives and the trap paths.
func Calc() []byte {
	return Module{Name: "calc", Imports: calcImports, Funcs: calcFuncs()}.Bytes()
}

// CalcFunctions lists the callable exports of Calc with their arities.
func CalcFunctions() map[string]int {
	out := make(map[string]int)
	for _, f := range calcFuncs() {
		if len(f.Results) == 1 && f.Results[0] == I64 {
			out[f.Export] = len(f.Params)
		}
	}
	return out
}

// Adder returns a minimal module exporting add/2 under the given name.
func Adder(name string) []byte {
	return Module{
		Name:  name,
		Funcs: []Func{TermFunc("add", 2, Seq(LocalGet(0), LocalGet(1), []byte{OpI64Add})...)},
	}.Bytes()
}
