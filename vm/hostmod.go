package vm

import (
	"context"
	"errors"
	"fmt"

	"github.com/tetratelabs/wazero/api"

	"github.com/caffeineduck/atomhost/hostfunc"
	"github.com/caffeineduck/atomhost/term"
)

// TermModule is the name of the host module guests import term
// primitives from.
const TermModule = "term"

// termFunc is one export of the term host module. Every parameter and
// result is a term word.
type termFunc struct {
	name   string
	params []string
	fn     func(ctx context.Context, stack []uint64) term.Term
}

func (h *Handle) termFuncs() []termFunc {
	return []termFunc{
		{"tuple_size", []string{"tuple"}, h.tupleSize},
		{"element", []string{"index", "tuple"}, h.element},
		{"make_tuple", []string{"arity", "init"}, h.makeTuple},
		{"setelement", []string{"index", "tuple", "value"}, h.setElement},
		{"cons", []string{"head", "tail"}, h.cons},
		{"hd", []string{"list"}, h.hd},
		{"tl", []string{"list"}, h.tl},
		{"length", []string{"list"}, h.length},
		{"map_get", []string{"key", "map"}, h.mapGet},
		{"binary_size", []string{"binary"}, h.binarySize},
		{"call", []string{"name", "args"}, h.callNative},
		{"raise", []string{"code"}, h.raise},
	}
}

func (h *Handle) instantiateTermModule(ctx context.Context) error {
	builder := h.runtime.NewHostModuleBuilder(TermModule)
	for _, f := range h.termFuncs() {
		fn := f.fn
		params := make([]api.ValueType, len(f.params))
		for i := range params {
			params[i] = api.ValueTypeI64
		}
		builder = builder.NewFunctionBuilder().
			WithGoFunction(api.GoFunc(func(ctx context.Context, stack []uint64) {
				stack[0] = uint64(fn(ctx, stack))
			}), params, []api.ValueType{api.ValueTypeI64}).
			WithParameterNames(f.params...).
			Export(f.name)
	}
	_, err := builder.Instantiate(ctx)
	return err
}

// fail aborts the guest call. wazero recovers the panic and returns the
// error from the call, where classify unwraps it.
func fail(op string, code Code, format string, args ...any) {
	panic(newError("term."+op, code, format, args...))
}

func (h *Handle) smallInt(op string, w term.Term) int64 {
	if w.Tag() != term.TagInt {
		fail(op, CodeBadArg, "expected integer, got %s", w)
	}
	return w.Int()
}

func (h *Handle) makeInt(op string, n int64) term.Term {
	w, ok := term.MakeInt(n)
	if !ok {
		fail(op, CodeSystemLimit, "integer %d out of range", n)
	}
	return w
}

// object resolves a boxed word of the given kind to its header index and
// size. A pointer that does not address a complete object is a bad term.
func (h *Handle) object(op string, w term.Term, kind term.BoxKind) (uint64, uint64) {
	if w.Tag() != term.TagBoxed {
		fail(op, CodeBadArg, "expected %s, got %s", kind, w)
	}
	ptr := w.Payload()
	hw, ok := h.heap.Word(ptr)
	if !ok {
		fail(op, CodeBadTerm, "%s points outside the heap", w)
	}
	k, size, ok := hw.Header()
	if !ok {
		fail(op, CodeBadTerm, "%s does not point at an object", w)
	}
	if k != kind {
		fail(op, CodeBadArg, "expected %s, got %s", kind, k)
	}
	body := size
	switch kind {
	case term.BoxMap:
		body = 2 * size
	case term.BoxBinary:
		body = (size + 7) / 8
	}
	if body >= uint64(h.heap.Len())-ptr {
		fail(op, CodeBadTerm, "%s of size %d runs past the heap", kind, size)
	}
	return ptr, size
}

func (h *Handle) word(op string, index uint64) term.Term {
	w, ok := h.heap.Word(index)
	if !ok {
		fail(op, CodeBadTerm, "word %d outside the heap", index)
	}
	return w
}

func (h *Handle) alloc(op string, words []term.Term) term.Term {
	ptr, err := h.heap.Alloc(words)
	if err != nil {
		fail(op, CodeOutOfMemory, "%v", err)
	}
	return ptr
}

func (h *Handle) header(op string, kind term.BoxKind, size uint64) term.Term {
	hw, ok := term.MakeHeader(kind, size)
	if !ok {
		fail(op, CodeSystemLimit, "%s of size %d", kind, size)
	}
	return hw
}

func (h *Handle) tupleSize(_ context.Context, stack []uint64) term.Term {
	_, size := h.object("tuple_size", term.Term(stack[0]), term.BoxTuple)
	return h.makeInt("tuple_size", int64(size))
}

func (h *Handle) element(_ context.Context, stack []uint64) term.Term {
	const op = "element"
	i := h.smallInt(op, term.Term(stack[0]))
	ptr, size := h.object(op, term.Term(stack[1]), term.BoxTuple)
	if i < 1 || uint64(i) > size {
		fail(op, CodeBadArg, "index %d outside tuple of size %d", i, size)
	}
	return h.word(op, ptr+uint64(i))
}

func (h *Handle) makeTuple(_ context.Context, stack []uint64) term.Term {
	const op = "make_tuple"
	n := h.smallInt(op, term.Term(stack[0]))
	if n < 0 {
		fail(op, CodeBadArg, "negative arity %d", n)
	}
	if n > int64(h.heap.Stats().Limit) {
		fail(op, CodeOutOfMemory, "tuple of %d elements exceeds the heap", n)
	}
	init := term.Term(stack[1])
	words := make([]term.Term, n+1)
	words[0] = h.header(op, term.BoxTuple, uint64(n))
	for i := int64(1); i <= n; i++ {
		words[i] = init
	}
	return h.alloc(op, words)
}

func (h *Handle) setElement(_ context.Context, stack []uint64) term.Term {
	const op = "setelement"
	i := h.smallInt(op, term.Term(stack[0]))
	ptr, size := h.object(op, term.Term(stack[1]), term.BoxTuple)
	if i < 1 || uint64(i) > size {
		fail(op, CodeBadArg, "index %d outside tuple of size %d", i, size)
	}
	words := make([]term.Term, size+1)
	for j := uint64(0); j <= size; j++ {
		words[j] = h.word(op, ptr+j)
	}
	copyPtr := h.alloc(op, words)
	if err := h.heap.Store(copyPtr.Payload()+uint64(i), term.Term(stack[2])); err != nil {
		fail(op, CodeBadTerm, "%v", err)
	}
	return copyPtr
}

func (h *Handle) cons(_ context.Context, stack []uint64) term.Term {
	const op = "cons"
	head, tail := term.Term(stack[0]), term.Term(stack[1])
	if !tail.IsNil() {
		h.object(op, tail, term.BoxCons)
	}
	return h.alloc(op, []term.Term{h.header(op, term.BoxCons, 2), head, tail})
}

func (h *Handle) hd(_ context.Context, stack []uint64) term.Term {
	ptr, _ := h.object("hd", term.Term(stack[0]), term.BoxCons)
	return h.word("hd", ptr+1)
}

func (h *Handle) tl(_ context.Context, stack []uint64) term.Term {
	ptr, _ := h.object("tl", term.Term(stack[0]), term.BoxCons)
	return h.word("tl", ptr+2)
}

func (h *Handle) length(_ context.Context, stack []uint64) term.Term {
	const op = "length"
	n := 0
	for cur := term.Term(stack[0]); !cur.IsNil(); n++ {
		if n >= h.cfg.MaxListLength {
			fail(op, CodeSystemLimit, "list longer than %d", h.cfg.MaxListLength)
		}
		ptr, _ := h.object(op, cur, term.BoxCons)
		cur = h.word(op, ptr+2)
	}
	return h.makeInt(op, int64(n))
}

func (h *Handle) mapGet(_ context.Context, stack []uint64) term.Term {
	const op = "map_get"
	key, err := h.codec.Decode(term.Term(stack[0]))
	if err != nil {
		fail(op, nativeCode(err), "key: %v", err)
	}
	ptr, size := h.object(op, term.Term(stack[1]), term.BoxMap)
	for i := uint64(0); i < size; i++ {
		k, err := h.codec.Decode(h.word(op, ptr+1+2*i))
		if err != nil {
			fail(op, CodeBadTerm, "map key %d: %v", i, err)
		}
		if term.Equal(k, key) {
			return h.word(op, ptr+2+2*i)
		}
	}
	fail(op, CodeBadArg, "key %s not found", key)
	return 0
}

func (h *Handle) binarySize(_ context.Context, stack []uint64) term.Term {
	_, size := h.object("binary_size", term.Term(stack[0]), term.BoxBinary)
	return h.makeInt("binary_size", int64(size))
}

// callNative runs a native function named by an atom with a list of
// arguments and encodes its result onto the heap.
func (h *Handle) callNative(ctx context.Context, stack []uint64) term.Term {
	const op = "call"
	nameWord := term.Term(stack[0])
	if nameWord.Tag() != term.TagAtom {
		fail(op, CodeBadArg, "function name must be an atom, got %s", nameWord)
	}
	name, ok := h.atoms.Name(nameWord.Payload())
	if !ok {
		fail(op, CodeBadTerm, "unknown atom %s", nameWord)
	}
	fn, ok := h.functions.Get(name)
	if !ok {
		fail(op, CodeUndef, "no native function %q", name)
	}

	argv, err := h.codec.Decode(term.Term(stack[1]))
	if err != nil {
		fail(op, nativeCode(err), "%s arguments: %v", name, err)
	}
	args, ok := argv.Elements()
	if !ok || argv.Kind() == term.KindTuple {
		fail(op, CodeBadArg, "%s arguments must be a list, got %s", name, argv)
	}

	result, err := runNative(ctx, fn, hostfunc.Call{Args: args, Resources: h.resources})
	if err != nil {
		var vmErr *Error
		if errors.As(err, &vmErr) {
			panic(vmErr)
		}
		fail(op, nativeCode(err), "%s: %w", name, err)
	}
	w, err := h.codec.Encode(result)
	if err != nil {
		fail(op, nativeCode(err), "%s result: %v", name, err)
	}
	return w
}

// runNative converts a panic inside a native function into a fatal error.
func runNative(ctx context.Context, fn hostfunc.Func, call hostfunc.Call) (v term.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &Error{Op: "term.call", Kind: KindFatal, Code: CodeHostPanic, Err: fmt.Errorf("native function panicked: %v", r)}
		}
	}()
	return fn(ctx, call)
}

func (h *Handle) raise(_ context.Context, stack []uint64) term.Term {
	w := term.Term(stack[0])
	if w.Tag() != term.TagInt {
		fail("raise", CodeBadArg, "error code must be an integer, got %s", w)
	}
	panic(raised("term.raise", Code(w.Int())))
}
