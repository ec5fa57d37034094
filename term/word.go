package term

import "fmt"

// Term is the boundary representation of a value: a tagged 64-bit word
// passed through the wasm i64 calling convention.
//
// Encoding scheme (low 3 bits are the tag):
//   - 000 small integer, signed 61-bit payload
//   - 001 atom, atom table index
//   - 010 special: nil or the invalid marker
//   - 011 pid, 100 port, 101 reference: 61-bit ids
//   - 110 boxed pointer: word index into the arena
//   - 111 header: only valid in the arena at a boxed pointer target
//
// A zero tag for integers means i64.add and i64.sub on two small integers
// produce the correctly tagged result.
type Term uint64

// Tag identifies the immediate class of a Term.
type Tag uint8

const (
	TagInt     Tag = 0
	TagAtom    Tag = 1
	TagSpecial Tag = 2
	TagPid     Tag = 3
	TagPort    Tag = 4
	TagRef     Tag = 5
	TagBoxed   Tag = 6
	TagHeader  Tag = 7
)

const (
	tagBits    = 3
	tagMask    = 1<<tagBits - 1
	payloadMax = 1<<(64-tagBits) - 1

	// MaxSmallInt and MinSmallInt bound integers stored as immediates.
	MaxSmallInt = 1<<(63-tagBits) - 1
	MinSmallInt = -(1 << (63 - tagBits))

	// MaxID bounds pid, port, reference and atom payloads.
	MaxID = payloadMax
)

// Special payloads.
const (
	specialNil     = 0
	specialInvalid = 1
)

// Predefined words.
const (
	NilWord     Term = specialNil<<tagBits | Term(TagSpecial)
	InvalidWord Term = specialInvalid<<tagBits | Term(TagSpecial)
)

// BoxKind identifies the layout of a boxed object in the arena.
type BoxKind uint8

const (
	BoxTuple    BoxKind = 1
	BoxCons     BoxKind = 2
	BoxMap      BoxKind = 3
	BoxBinary   BoxKind = 4
	BoxFloat    BoxKind = 5
	BoxBigInt   BoxKind = 6
	BoxResource BoxKind = 7
)

func (k BoxKind) String() string {
	switch k {
	case BoxTuple:
		return "tuple"
	case BoxCons:
		return "cons"
	case BoxMap:
		return "map"
	case BoxBinary:
		return "binary"
	case BoxFloat:
		return "float"
	case BoxBigInt:
		return "bigint"
	case BoxResource:
		return "resource"
	default:
		return fmt.Sprintf("box(%d)", uint8(k))
	}
}

const (
	headerKindBits = 8
	headerKindMask = 1<<headerKindBits - 1
	headerSizeShft = tagBits + headerKindBits

	// MaxBoxSize bounds the size field of a header word.
	MaxBoxSize = 1<<(64-headerSizeShft) - 1
)

// Tag returns the tag bits of t.
func (t Term) Tag() Tag { return Tag(t & tagMask) }

// Payload returns the unsigned payload of t.
func (t Term) Payload() uint64 { return uint64(t) >> tagBits }

// IsNil reports whether t is the nil word.
func (t Term) IsNil() bool { return t == NilWord }

// MakeInt returns the immediate word for n, or false when n does not fit in
// a small integer.
func MakeInt(n int64) (Term, bool) {
	if n < MinSmallInt || n > MaxSmallInt {
		return 0, false
	}
	return Term(uint64(n) << tagBits), true
}

// Int returns the signed payload of a small integer word.
func (t Term) Int() int64 { return int64(t) >> tagBits }

// MakeImmediate builds an immediate word with the given tag and payload.
func MakeImmediate(tag Tag, payload uint64) (Term, bool) {
	if payload > payloadMax || tag == TagHeader {
		return 0, false
	}
	return Term(payload<<tagBits | uint64(tag)), true
}

// MakeBoxed returns a boxed pointer to the arena word at index.
func MakeBoxed(index uint64) (Term, bool) {
	return MakeImmediate(TagBoxed, index)
}

// MakeHeader builds an arena header word.
func MakeHeader(kind BoxKind, size uint64) (Term, bool) {
	if size > MaxBoxSize {
		return 0, false
	}
	return Term(size<<headerSizeShft | uint64(kind)<<tagBits | uint64(TagHeader)), true
}

// Header decodes an arena header word.
func (t Term) Header() (BoxKind, uint64, bool) {
	if t.Tag() != TagHeader {
		return 0, 0, false
	}
	kind := BoxKind((uint64(t) >> tagBits) & headerKindMask)
	return kind, uint64(t) >> headerSizeShft, true
}

func (t Term) String() string {
	switch t.Tag() {
	case TagInt:
		return fmt.Sprintf("int(%d)", t.Int())
	case TagAtom:
		return fmt.Sprintf("atom#%d", t.Payload())
	case TagSpecial:
		switch t {
		case NilWord:
			return "nil"
		case InvalidWord:
			return "invalid"
		}
	case TagPid:
		return fmt.Sprintf("pid#%d", t.Payload())
	case TagPort:
		return fmt.Sprintf("port#%d", t.Payload())
	case TagRef:
		return fmt.Sprintf("ref#%d", t.Payload())
	case TagBoxed:
		return fmt.Sprintf("box@%d", t.Payload())
	case TagHeader:
		kind, size, _ := t.Header()
		return fmt.Sprintf("header(%s,%d)", kind, size)
	}
	return fmt.Sprintf("term(%#x)", uint64(t))
}
