package bytecode

import (
	"encoding/binary"
	"fmt"
	"unicode/utf8"
)

// HeaderSize is the length of the magic and version fields.
const HeaderSize = 8

// Version is the only supported binary format version.
const Version = 1

var magic = [4]byte{0x00, 'a', 's', 'm'}

const (
	sectionCustom    = 0
	sectionType      = 1
	sectionImport    = 2
	sectionFunction  = 3
	sectionTable     = 4
	sectionMemory    = 5
	sectionGlobal    = 6
	sectionExport    = 7
	sectionStart     = 8
	sectionElement   = 9
	sectionCode      = 10
	sectionData      = 11
	sectionDataCount = 12
)

// sectionRank orders known sections; data count sits between element and
// code.
var sectionRank = map[byte]int{
	sectionType:      1,
	sectionImport:    2,
	sectionFunction:  3,
	sectionTable:     4,
	sectionMemory:    5,
	sectionGlobal:    6,
	sectionExport:    7,
	sectionStart:     8,
	sectionElement:   9,
	sectionDataCount: 10,
	sectionCode:      11,
	sectionData:      12,
}

type options struct {
	defaultName string
}

// Option configures Validate.
type Option func(*options)

// WithDefaultName names modules that carry no name section.
func WithDefaultName(name string) Option {
	return func(o *options) {
		o.defaultName = name
	}
}

// Validate checks that b is a structurally well-formed module and returns a
// view over it. Checks run in order and stop at the first failure:
// length, magic, version, then every section. It never reads outside b and
// never panics, whatever the input.
func Validate(b []byte, opts ...Option) (*Module, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	if len(b) < HeaderSize {
		return nil, &TruncatedError{Min: HeaderSize, Actual: len(b)}
	}
	var found [4]byte
	copy(found[:], b[:4])
	if found != magic {
		return nil, &BadMagicError{Found: found}
	}
	if v := binary.LittleEndian.Uint32(b[4:8]); v != Version {
		return nil, &UnsupportedVersionError{Found: v}
	}

	p := &parser{buf: b}
	if err := p.sections(); err != nil {
		return nil, err
	}
	if err := p.resolve(); err != nil {
		return nil, err
	}

	name := p.name
	if name == "" {
		name = o.defaultName
	}
	if name == "" {
		return nil, &MalformedError{Field: "name section", Offset: len(b), Reason: "module has no name"}
	}

	return &Module{
		raw:       b[:len(b):len(b)],
		name:      name,
		imports:   p.imports,
		exports:   p.exports,
		functions: p.functions,
	}, nil
}

// parser accumulates what the section walk learns about the module.
type parser struct {
	buf []byte

	types       []FuncType
	imports     []Import
	importFuncs int
	funcTypes   []uint32
	exports     []Export
	exportAt    []int
	sawCode     bool
	name        string

	functions []Function
}

func (p *parser) sections() error {
	r := newReader(p.buf, HeaderSize, len(p.buf))
	lastRank := 0
	for !r.done() {
		idAt := r.off
		id, err := r.byte("section id")
		if err != nil {
			return err
		}
		size, err := r.length(fmt.Sprintf("section %d size", id))
		if err != nil {
			return err
		}
		start := r.off
		r.skip(size)

		if id != sectionCustom {
			rank, ok := sectionRank[id]
			if !ok {
				return &MalformedError{Field: "section id", Offset: idAt, Reason: fmt.Sprintf("unknown section %d", id)}
			}
			if rank <= lastRank {
				return &MalformedError{Field: "section id", Offset: idAt, Reason: fmt.Sprintf("section %d out of order", id)}
			}
			lastRank = rank
		}

		sr := newReader(p.buf, start, start+size)
		if err := p.section(id, sr); err != nil {
			return err
		}
	}
	return nil
}

func (p *parser) section(id byte, r *reader) error {
	var err error
	switch id {
	case sectionCustom:
		err = p.custom(r)
	case sectionType:
		err = p.typeSection(r)
	case sectionImport:
		err = p.importSection(r)
	case sectionFunction:
		err = p.functionSection(r)
	case sectionExport:
		err = p.exportSection(r)
	case sectionCode:
		err = p.codeSection(r)
	default:
		// Contents are left to the engine; the bounds were checked above.
		return nil
	}
	if err != nil {
		return err
	}
	if !r.done() {
		return &MalformedError{Field: fmt.Sprintf("section %d", id), Offset: r.off, Reason: "trailing bytes"}
	}
	return nil
}

func (p *parser) readName(r *reader, field string) (string, error) {
	at := r.off
	b, err := r.bytes(field)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", &MalformedError{Field: field, Offset: at, Reason: "invalid UTF-8"}
	}
	return string(b), nil
}

func (p *parser) valueTypes(r *reader, field string) ([]ValueType, error) {
	n, err := r.count(field)
	if err != nil {
		return nil, err
	}
	out := make([]ValueType, n)
	for i := range out {
		at := r.off
		b, err := r.byte(field)
		if err != nil {
			return nil, err
		}
		if !validValueType(b) {
			return nil, &MalformedError{Field: field, Offset: at, Reason: fmt.Sprintf("unknown value type %#x", b)}
		}
		out[i] = ValueType(b)
	}
	return out, nil
}

func (p *parser) typeSection(r *reader) error {
	n, err := r.count("type count")
	if err != nil {
		return err
	}
	p.types = make([]FuncType, 0, n)
	for i := 0; i < n; i++ {
		at := r.off
		form, err := r.byte("type form")
		if err != nil {
			return err
		}
		if form != 0x60 {
			return &MalformedError{Field: "type form", Offset: at, Reason: fmt.Sprintf("expected 0x60, found %#x", form)}
		}
		params, err := p.valueTypes(r, "type params")
		if err != nil {
			return err
		}
		results, err := p.valueTypes(r, "type results")
		if err != nil {
			return err
		}
		p.types = append(p.types, FuncType{Params: params, Results: results})
	}
	return nil
}

func (p *parser) typeIndex(r *reader, field string) (uint32, error) {
	at := r.off
	idx, err := r.u32(field)
	if err != nil {
		return 0, err
	}
	if uint64(idx) >= uint64(len(p.types)) {
		return 0, &MalformedError{Field: field, Offset: at, Reason: fmt.Sprintf("type index %d out of range (%d types)", idx, len(p.types))}
	}
	return idx, nil
}

func (p *parser) limits(r *reader, field string) error {
	at := r.off
	flag, err := r.byte(field)
	if err != nil {
		return err
	}
	if flag > 3 {
		return &MalformedError{Field: field, Offset: at, Reason: fmt.Sprintf("unknown limits flag %#x", flag)}
	}
	if _, err := r.u32(field + " min"); err != nil {
		return err
	}
	if flag&1 != 0 {
		if _, err := r.u32(field + " max"); err != nil {
			return err
		}
	}
	return nil
}

func (p *parser) importSection(r *reader) error {
	n, err := r.count("import count")
	if err != nil {
		return err
	}
	p.imports = make([]Import, 0, n)
	for i := 0; i < n; i++ {
		mod, err := p.readName(r, "import module")
		if err != nil {
			return err
		}
		name, err := p.readName(r, "import name")
		if err != nil {
			return err
		}
		at := r.off
		kind, err := r.byte("import kind")
		if err != nil {
			return err
		}
		imp := Import{Module: mod, Name: name, Kind: ExternKind(kind)}
		switch imp.Kind {
		case ExternFunc:
			idx, err := p.typeIndex(r, "import type")
			if err != nil {
				return err
			}
			imp.Type = p.types[idx]
			p.importFuncs++
		case ExternTable:
			if _, err := r.byte("import table type"); err != nil {
				return err
			}
			if err := p.limits(r, "import table limits"); err != nil {
				return err
			}
		case ExternMemory:
			if err := p.limits(r, "import memory limits"); err != nil {
				return err
			}
		case ExternGlobal:
			if _, err := r.byte("import global type"); err != nil {
				return err
			}
			if _, err := r.byte("import global mutability"); err != nil {
				return err
			}
		default:
			return &MalformedError{Field: "import kind", Offset: at, Reason: fmt.Sprintf("unknown kind %d", kind)}
		}
		p.imports = append(p.imports, imp)
	}
	return nil
}

func (p *parser) functionSection(r *reader) error {
	n, err := r.count("function count")
	if err != nil {
		return err
	}
	p.funcTypes = make([]uint32, 0, n)
	for i := 0; i < n; i++ {
		idx, err := p.typeIndex(r, "function type")
		if err != nil {
			return err
		}
		p.funcTypes = append(p.funcTypes, idx)
	}
	return nil
}

func (p *parser) exportSection(r *reader) error {
	n, err := r.count("export count")
	if err != nil {
		return err
	}
	seen := make(map[string]struct{}, n)
	p.exports = make([]Export, 0, n)
	for i := 0; i < n; i++ {
		at := r.off
		name, err := p.readName(r, "export name")
		if err != nil {
			return err
		}
		if _, dup := seen[name]; dup {
			return &MalformedError{Field: "export name", Offset: at, Reason: fmt.Sprintf("duplicate export %q", name)}
		}
		seen[name] = struct{}{}

		kindAt := r.off
		kind, err := r.byte("export kind")
		if err != nil {
			return err
		}
		if kind > byte(ExternGlobal) {
			return &MalformedError{Field: "export kind", Offset: kindAt, Reason: fmt.Sprintf("unknown kind %d", kind)}
		}
		idx, err := r.u32("export index")
		if err != nil {
			return err
		}
		p.exports = append(p.exports, Export{Name: name, Kind: ExternKind(kind), Index: idx})
		p.exportAt = append(p.exportAt, at)
	}
	return nil
}

func (p *parser) codeSection(r *reader) error {
	at := r.off
	n, err := r.count("code count")
	if err != nil {
		return err
	}
	if n != len(p.funcTypes) {
		return &MalformedError{Field: "code count", Offset: at,
			Reason: fmt.Sprintf("%d bodies for %d functions", n, len(p.funcTypes))}
	}
	for i := 0; i < n; i++ {
		size, err := r.length("function body size")
		if err != nil {
			return err
		}
		if size == 0 {
			return &MalformedError{Field: "function body", Offset: r.off, Reason: "empty body"}
		}
		r.skip(size)
	}
	p.sawCode = true
	return nil
}

// custom reads a custom section. Only the module name subsection of the
// name section is interpreted; its lengths are checked like any other.
func (p *parser) custom(r *reader) error {
	name, err := p.readName(r, "custom section name")
	if err != nil {
		return err
	}
	if name != "name" {
		r.skip(r.remaining())
		return nil
	}
	for !r.done() {
		id, err := r.byte("name subsection id")
		if err != nil {
			return err
		}
		size, err := r.length("name subsection size")
		if err != nil {
			return err
		}
		if id != 0 {
			r.skip(size)
			continue
		}
		sub := newReader(p.buf, r.off, r.off+size)
		modName, err := p.readName(sub, "module name")
		if err != nil {
			return err
		}
		if !sub.done() {
			return &MalformedError{Field: "module name", Offset: sub.off, Reason: "trailing bytes"}
		}
		p.name = modName
		r.skip(size)
	}
	return nil
}

// resolve checks cross-section references and derives the callable
// exports.
func (p *parser) resolve() error {
	if len(p.funcTypes) > 0 && !p.sawCode {
		return &MalformedError{Field: "code section", Offset: len(p.buf),
			Reason: fmt.Sprintf("%d functions declared without bodies", len(p.funcTypes))}
	}

	total := uint64(p.importFuncs) + uint64(len(p.funcTypes))
	for i, e := range p.exports {
		if e.Kind != ExternFunc {
			continue
		}
		if uint64(e.Index) >= total {
			return &MalformedError{Field: "export index", Offset: p.exportAt[i],
				Reason: fmt.Sprintf("function index %d out of range (%d functions)", e.Index, total)}
		}
		if arity, ok := p.funcType(e.Index).termArity(); ok {
			p.functions = append(p.functions, Function{Name: e.Name, Arity: arity})
		}
	}
	return nil
}

func (p *parser) funcType(index uint32) FuncType {
	if int(index) < p.importFuncs {
		n := 0
		for _, imp := range p.imports {
			if imp.Kind != ExternFunc {
				continue
			}
			if n == int(index) {
				return imp.Type
			}
			n++
		}
	}
	return p.types[p.funcTypes[int(index)-p.importFuncs]]
}
