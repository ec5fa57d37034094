package term

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Arena is the boundary heap boxed terms are written to and read from. It is
// provided by the VM that owns the words; the codec never allocates any
// other way.
type Arena interface {
	// Alloc appends words to the arena and returns a boxed pointer to the
	// first one.
	Alloc(words []Term) (Term, error)
	// Word returns the arena word at index.
	Word(index uint64) (Term, bool)
}

// Default limits applied when a Codec field is zero.
const (
	DefaultMaxDepth      = 1000
	DefaultMaxListLength = 1 << 20
)

// Codec converts between Value and Term against one arena.
type Codec struct {
	Arena     Arena
	Atoms     AtomTable
	Resources ResourceTable

	// MaxDepth bounds the nesting of compound terms.
	MaxDepth int
	// MaxListLength bounds the number of cons cells in one list.
	MaxListLength int
}

func (c *Codec) maxDepth() int {
	if c.MaxDepth > 0 {
		return c.MaxDepth
	}
	return DefaultMaxDepth
}

func (c *Codec) maxListLength() int {
	if c.MaxListLength > 0 {
		return c.MaxListLength
	}
	return DefaultMaxListLength
}

// maxNodes bounds the compound children one term may have in total, counted
// the same way by Encode and Decode so every encodable value decodes.
func (c *Codec) maxNodes() int { return 4 * c.maxListLength() }

// spend charges n child nodes against the remaining budget.
func (c *Codec) spend(budget *int, n int) error {
	if *budget -= n; *budget < 0 {
		return fmt.Errorf("%w: term expands past %d nodes", ErrSystemLimit, c.maxNodes())
	}
	return nil
}

// Encode writes v into the arena and returns its boundary word. It never
// truncates: any value it cannot represent fails with a typed error.
func (c *Codec) Encode(v Value) (Term, error) {
	budget := c.maxNodes()
	return c.encode(v, 1, &budget)
}

// EncodeAll encodes each value in order.
func (c *Codec) EncodeAll(vs []Value) ([]Term, error) {
	out := make([]Term, len(vs))
	for i, v := range vs {
		t, err := c.Encode(v)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i+1, err)
		}
		out[i] = t
	}
	return out, nil
}

func (c *Codec) encode(v Value, depth int, budget *int) (Term, error) {
	if depth > c.maxDepth() {
		return 0, fmt.Errorf("%w: nesting exceeds %d", ErrTooDeep, c.maxDepth())
	}

	switch v.kind {
	case KindInvalid:
		return InvalidWord, nil
	case KindNil:
		return NilWord, nil
	case KindInt:
		n := int64(v.num)
		if t, ok := MakeInt(n); ok {
			return t, nil
		}
		return c.alloc(BoxBigInt, 1, Term(v.num))
	case KindAtom:
		if c.Atoms == nil {
			return 0, fmt.Errorf("%w: no atom table", ErrSystemLimit)
		}
		id, err := c.Atoms.Intern(v.name)
		if err != nil {
			return 0, err
		}
		return c.immediate(TagAtom, id)
	case KindPid:
		return c.immediate(TagPid, v.num)
	case KindPort:
		return c.immediate(TagPort, v.num)
	case KindRef:
		return c.immediate(TagRef, v.num)
	case KindResource:
		if c.Resources == nil || !c.Resources.Has(v.num) {
			return 0, fmt.Errorf("%w: #Resource<%d>", ErrUnknownResource, v.num)
		}
		return c.alloc(BoxResource, 1, Term(v.num))
	case KindFloat:
		return c.alloc(BoxFloat, 1, Term(v.num))
	case KindBinary:
		return c.encodeBinary(v.bytes)
	case KindTuple:
		words, err := c.encodeSeq(v.elems, depth, budget)
		if err != nil {
			return 0, err
		}
		return c.alloc(BoxTuple, uint64(len(words)), words...)
	case KindList:
		return c.encodeList(v.elems, depth, budget)
	case KindMap:
		return c.encodeMap(v.pairs, depth, budget)
	}
	return 0, fmt.Errorf("%w: cannot encode %s", ErrTypeMismatch, v.kind)
}

func (c *Codec) immediate(tag Tag, payload uint64) (Term, error) {
	t, ok := MakeImmediate(tag, payload)
	if !ok {
		return 0, fmt.Errorf("%w: id %d exceeds %d", ErrSystemLimit, payload, uint64(MaxID))
	}
	return t, nil
}

func (c *Codec) alloc(kind BoxKind, size uint64, body ...Term) (Term, error) {
	h, ok := MakeHeader(kind, size)
	if !ok {
		return 0, fmt.Errorf("%w: %s of size %d", ErrSystemLimit, kind, size)
	}
	words := make([]Term, 0, len(body)+1)
	words = append(words, h)
	words = append(words, body...)
	t, err := c.Arena.Alloc(words)
	if err != nil {
		return 0, fmt.Errorf("%w: %s of %d words: %v", ErrOutOfMemory, kind, len(words), err)
	}
	return t, nil
}

func (c *Codec) encodeSeq(elems []Value, depth int, budget *int) ([]Term, error) {
	if err := c.spend(budget, len(elems)); err != nil {
		return nil, err
	}
	words := make([]Term, len(elems))
	for i, e := range elems {
		t, err := c.encode(e, depth+1, budget)
		if err != nil {
			return nil, err
		}
		words[i] = t
	}
	return words, nil
}

func (c *Codec) encodeList(elems []Value, depth int, budget *int) (Term, error) {
	if len(elems) > c.maxListLength() {
		return 0, fmt.Errorf("%w: list of %d elements exceeds %d", ErrTooDeep, len(elems), c.maxListLength())
	}
	heads, err := c.encodeSeq(elems, depth, budget)
	if err != nil {
		return 0, err
	}
	tail := NilWord
	for i := len(heads) - 1; i >= 0; i-- {
		tail, err = c.alloc(BoxCons, 2, heads[i], tail)
		if err != nil {
			return 0, err
		}
	}
	return tail, nil
}

func (c *Codec) encodeMap(pairs []Pair, depth int, budget *int) (Term, error) {
	if err := c.spend(budget, 2*len(pairs)); err != nil {
		return 0, err
	}
	words := make([]Term, 0, 2*len(pairs))
	for i, p := range pairs {
		if i > 0 && Equal(pairs[i-1].Key, p.Key) {
			return 0, fmt.Errorf("%w: duplicate map key %s", ErrMalformed, Format(p.Key))
		}
		k, err := c.encode(p.Key, depth+1, budget)
		if err != nil {
			return 0, err
		}
		v, err := c.encode(p.Value, depth+1, budget)
		if err != nil {
			return 0, err
		}
		words = append(words, k, v)
	}
	return c.alloc(BoxMap, uint64(len(pairs)), words...)
}

func (c *Codec) encodeBinary(b []byte) (Term, error) {
	n := (len(b) + 7) / 8
	words := make([]Term, n)
	var chunk [8]byte
	for i := 0; i < n; i++ {
		chunk = [8]byte{}
		copy(chunk[:], b[i*8:])
		words[i] = Term(binary.LittleEndian.Uint64(chunk[:]))
	}
	return c.alloc(BoxBinary, uint64(len(b)), words...)
}

// frame is one compound term being assembled by Decode.
type frame struct {
	kind     Kind
	word     Term
	children []Term
	next     int
	out      []Value
	depth    int
}

// Decode reads the term rooted at t back into a Value. It walks compound
// terms with an explicit stack, so adversarial nesting is bounded by
// MaxDepth and MaxListLength rather than by the goroutine stack.
func (c *Codec) Decode(t Term) (Value, error) {
	v, f, err := c.decodeNode(t, 1)
	if err != nil || f == nil {
		return v, err
	}

	// Shared subterms are expanded on decode; bound the total work.
	budget := c.maxNodes()
	stack := []*frame{f}
	for {
		top := stack[len(stack)-1]
		if top.next == len(top.children) {
			done, err := top.finish()
			if err != nil {
				return Value{}, err
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return done, nil
			}
			parent := stack[len(stack)-1]
			parent.out = append(parent.out, done)
			continue
		}

		child := top.children[top.next]
		top.next++
		if budget--; budget < 0 {
			return Value{}, decodeErr(ErrSystemLimit, t, "term expands past %d nodes", c.maxNodes())
		}
		v, f, err := c.decodeNode(child, top.depth+1)
		if err != nil {
			return Value{}, err
		}
		if f != nil {
			stack = append(stack, f)
			continue
		}
		top.out = append(top.out, v)
	}
}

// DecodeAll decodes each word in order.
func (c *Codec) DecodeAll(ts []Term) ([]Value, error) {
	out := make([]Value, len(ts))
	for i, t := range ts {
		v, err := c.Decode(t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// decodeNode decodes a scalar directly or returns a frame for a compound.
func (c *Codec) decodeNode(t Term, depth int) (Value, *frame, error) {
	if depth > c.maxDepth() {
		return Value{}, nil, decodeErr(ErrTooDeep, t, "nesting exceeds %d", c.maxDepth())
	}

	switch t.Tag() {
	case TagInt:
		return Int(t.Int()), nil, nil
	case TagAtom:
		if c.Atoms == nil {
			return Value{}, nil, decodeErr(ErrMalformed, t, "no atom table")
		}
		name, ok := c.Atoms.Name(t.Payload())
		if !ok {
			return Value{}, nil, decodeErr(ErrMalformed, t, "unknown atom index %d", t.Payload())
		}
		return Atom(name), nil, nil
	case TagSpecial:
		switch t {
		case NilWord:
			return Nil(), nil, nil
		case InvalidWord:
			return Invalid(), nil, nil
		}
		return Value{}, nil, decodeErr(ErrTypeMismatch, t, "unknown special %d", t.Payload())
	case TagPid:
		return Pid(t.Payload()), nil, nil
	case TagPort:
		return Port(t.Payload()), nil, nil
	case TagRef:
		return Ref(t.Payload()), nil, nil
	case TagBoxed:
		return c.decodeBoxed(t, depth)
	}
	return Value{}, nil, decodeErr(ErrTypeMismatch, t, "header word used as a term")
}

func (c *Codec) decodeBoxed(t Term, depth int) (Value, *frame, error) {
	ptr := t.Payload()
	hw, ok := c.Arena.Word(ptr)
	if !ok {
		return Value{}, nil, decodeErr(ErrMalformed, t, "pointer outside arena")
	}
	kind, size, ok := hw.Header()
	if !ok {
		return Value{}, nil, decodeErr(ErrMalformed, t, "pointer does not address a header")
	}

	switch kind {
	case BoxTuple:
		children, err := c.body(t, ptr, size, true)
		if err != nil {
			return Value{}, nil, err
		}
		return Value{}, &frame{kind: KindTuple, word: t, children: children, depth: depth}, nil
	case BoxMap:
		if size > MaxBoxSize/2 {
			return Value{}, nil, decodeErr(ErrMalformed, t, "map size %d", size)
		}
		children, err := c.body(t, ptr, 2*size, true)
		if err != nil {
			return Value{}, nil, err
		}
		return Value{}, &frame{kind: KindMap, word: t, children: children, depth: depth}, nil
	case BoxCons:
		heads, err := c.walkList(t)
		if err != nil {
			return Value{}, nil, err
		}
		return Value{}, &frame{kind: KindList, word: t, children: heads, depth: depth}, nil
	case BoxBinary:
		words, err := c.body(t, ptr, (size+7)/8, false)
		if err != nil {
			return Value{}, nil, err
		}
		b := make([]byte, len(words)*8)
		for i, w := range words {
			binary.LittleEndian.PutUint64(b[i*8:], uint64(w))
		}
		return Value{kind: KindBinary, bytes: b[:size]}, nil, nil
	case BoxFloat:
		w, err := c.single(t, ptr, size)
		if err != nil {
			return Value{}, nil, err
		}
		return Float(math.Float64frombits(uint64(w))), nil, nil
	case BoxBigInt:
		w, err := c.single(t, ptr, size)
		if err != nil {
			return Value{}, nil, err
		}
		return Int(int64(w)), nil, nil
	case BoxResource:
		w, err := c.single(t, ptr, size)
		if err != nil {
			return Value{}, nil, err
		}
		if c.Resources == nil || !c.Resources.Has(uint64(w)) {
			return Value{}, nil, decodeErr(ErrUnknownResource, t, "#Resource<%d>", uint64(w))
		}
		return Resource(uint64(w)), nil, nil
	}
	return Value{}, nil, decodeErr(ErrTypeMismatch, t, "unsupported %s", kind)
}

// body returns the n words after the header at ptr. When terms is set, an
// embedded header means the declared size runs into the next object.
func (c *Codec) body(t Term, ptr, n uint64, terms bool) ([]Term, error) {
	words := make([]Term, 0, min(n, 1024))
	for i := uint64(1); i <= n; i++ {
		w, ok := c.Arena.Word(ptr + i)
		if !ok {
			return nil, decodeErr(ErrMalformed, t, "declared size %d runs past the arena after %d words", n, i-1)
		}
		if terms && w.Tag() == TagHeader {
			return nil, decodeErr(ErrMalformed, t, "declared size %d disagrees with %d elements", n, i-1)
		}
		words = append(words, w)
	}
	return words, nil
}

func (c *Codec) single(t Term, ptr, size uint64) (Term, error) {
	if size != 1 {
		return 0, decodeErr(ErrMalformed, t, "scalar box of size %d", size)
	}
	w, ok := c.Arena.Word(ptr + 1)
	if !ok {
		return 0, decodeErr(ErrMalformed, t, "scalar box runs past the arena")
	}
	return w, nil
}

// walkList collects the heads of a proper list iteratively.
func (c *Codec) walkList(t Term) ([]Term, error) {
	var heads []Term
	limit := c.maxListLength()
	cur := t
	for !cur.IsNil() {
		if len(heads) >= limit {
			return nil, decodeErr(ErrTooDeep, t, "list longer than %d", limit)
		}
		if cur.Tag() != TagBoxed {
			return nil, decodeErr(ErrMalformed, t, "improper list tail %s", cur)
		}
		ptr := cur.Payload()
		hw, ok := c.Arena.Word(ptr)
		if !ok {
			return nil, decodeErr(ErrMalformed, cur, "pointer outside arena")
		}
		kind, size, ok := hw.Header()
		if !ok || kind != BoxCons {
			return nil, decodeErr(ErrMalformed, t, "improper list tail %s", cur)
		}
		if size != 2 {
			return nil, decodeErr(ErrMalformed, cur, "cons cell of size %d", size)
		}
		cell, err := c.body(cur, ptr, 2, true)
		if err != nil {
			return nil, err
		}
		heads = append(heads, cell[0])
		cur = cell[1]
	}
	return heads, nil
}

func (f *frame) finish() (Value, error) {
	switch f.kind {
	case KindTuple:
		return Value{kind: KindTuple, elems: f.out}, nil
	case KindList:
		return Value{kind: KindList, elems: f.out}, nil
	case KindMap:
		pairs := make([]Pair, 0, len(f.out)/2)
		for i := 0; i+1 < len(f.out); i += 2 {
			pairs = append(pairs, Pair{Key: f.out[i], Value: f.out[i+1]})
		}
		v, err := Map(pairs...)
		if err != nil {
			return Value{}, &DecodeError{Word: f.word, Reason: "duplicate map key", Err: ErrMalformed}
		}
		return v, nil
	}
	return Value{}, decodeErr(ErrTypeMismatch, f.word, "unexpected frame %s", f.kind)
}
