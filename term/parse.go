package term

import (
	"fmt"
	"strconv"
	"strings"
)

// Parse reads one value in the notation produced by Format:
//
//	42  -1.5  ok  'hello world'  []  [1, 2]  {ok, 1}  #{a => 1}
//	"text"  <<"text">>  <<1,2,3>>  #Pid<3>  #Port<1>  #Ref<9>  #Resource<2>
//
// A double-quoted string is a binary. Surrounding whitespace is ignored.
func Parse(s string) (Value, error) {
	p := &parser{src: s}
	p.skipSpace()
	v, err := p.value(1)
	if err != nil {
		return Value{}, err
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return Value{}, p.errorf("unexpected %q after value", p.rest(8))
	}
	return v, nil
}

// MustParse is like Parse but panics on error.
func MustParse(s string) Value {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

type parser struct {
	src string
	pos int
}

func (p *parser) errorf(format string, args ...any) error {
	return &SyntaxError{Offset: p.pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) rest(n int) string {
	end := min(p.pos+n, len(p.src))
	return p.src[p.pos:end]
}

func (p *parser) peek() byte {
	if p.pos < len(p.src) {
		return p.src[p.pos]
	}
	return 0
}

func (p *parser) skipSpace() {
	for p.pos < len(p.src) {
		switch p.src[p.pos] {
		case ' ', '\t', '\n', '\r':
			p.pos++
		default:
			return
		}
	}
}

func (p *parser) consume(tok string) bool {
	if strings.HasPrefix(p.src[p.pos:], tok) {
		p.pos += len(tok)
		return true
	}
	return false
}

func (p *parser) expect(tok string) error {
	p.skipSpace()
	if !p.consume(tok) {
		if p.pos == len(p.src) {
			return p.errorf("expected %q, found end of input", tok)
		}
		return p.errorf("expected %q, found %q", tok, p.rest(len(tok)))
	}
	return nil
}

func (p *parser) value(depth int) (Value, error) {
	if depth > DefaultMaxDepth {
		return Value{}, p.errorf("nesting exceeds %d", DefaultMaxDepth)
	}
	p.skipSpace()
	c := p.peek()
	switch {
	case p.pos == len(p.src):
		return Value{}, p.errorf("unexpected end of input")
	case c == '-' || c >= '0' && c <= '9':
		return p.number()
	case c >= 'a' && c <= 'z':
		start := p.pos
		for p.pos < len(p.src) && isAtomChar(p.src[p.pos]) {
			p.pos++
		}
		return Atom(p.src[start:p.pos]), nil
	case c == '\'':
		name, err := p.quoted('\'')
		if err != nil {
			return Value{}, err
		}
		return Atom(name), nil
	case c == '"':
		s, err := p.quoted('"')
		if err != nil {
			return Value{}, err
		}
		return String(s), nil
	case c == '{':
		p.pos++
		elems, err := p.seq('}', depth)
		if err != nil {
			return Value{}, err
		}
		return Value{kind: KindTuple, elems: elems}, nil
	case c == '[':
		p.pos++
		elems, err := p.seq(']', depth)
		if err != nil {
			return Value{}, err
		}
		return List(elems...), nil
	case c == '<':
		return p.binary()
	case c == '#':
		return p.hash(depth)
	}
	return Value{}, p.errorf("unexpected %q", p.rest(1))
}

func (p *parser) seq(closer byte, depth int) ([]Value, error) {
	var elems []Value
	p.skipSpace()
	if p.peek() == closer {
		p.pos++
		return elems, nil
	}
	for {
		v, err := p.value(depth + 1)
		if err != nil {
			return nil, err
		}
		elems = append(elems, v)
		p.skipSpace()
		switch p.peek() {
		case ',':
			p.pos++
		case closer:
			p.pos++
			return elems, nil
		case '|':
			return nil, p.errorf("improper lists are not supported")
		default:
			return nil, p.errorf("expected ',' or %q", closer)
		}
	}
}

func (p *parser) number() (Value, error) {
	start := p.pos
	if p.peek() == '-' {
		p.pos++
	}
	digits := p.pos
	for p.pos < len(p.src) && p.src[p.pos] >= '0' && p.src[p.pos] <= '9' {
		p.pos++
	}
	if p.pos == digits {
		return Value{}, p.errorf("expected digits")
	}
	isFloat := false
	if p.peek() == '.' && p.pos+1 < len(p.src) && p.src[p.pos+1] >= '0' && p.src[p.pos+1] <= '9' {
		isFloat = true
		p.pos++
		for p.pos < len(p.src) && p.src[p.pos] >= '0' && p.src[p.pos] <= '9' {
			p.pos++
		}
	}
	if c := p.peek(); c == 'e' || c == 'E' {
		isFloat = true
		p.pos++
		if c := p.peek(); c == '+' || c == '-' {
			p.pos++
		}
		for p.pos < len(p.src) && p.src[p.pos] >= '0' && p.src[p.pos] <= '9' {
			p.pos++
		}
	}
	lit := p.src[start:p.pos]
	if isFloat {
		f, err := strconv.ParseFloat(lit, 64)
		if err != nil {
			return Value{}, &SyntaxError{Offset: start, Msg: fmt.Sprintf("float %q: %v", lit, err)}
		}
		return Float(f), nil
	}
	n, err := strconv.ParseInt(lit, 10, 64)
	if err != nil {
		return Value{}, &SyntaxError{Offset: start, Msg: fmt.Sprintf("integer %q out of range", lit)}
	}
	return Int(n), nil
}

func (p *parser) quoted(q byte) (string, error) {
	start := p.pos
	p.pos++
	var b strings.Builder
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		p.pos++
		switch c {
		case q:
			return b.String(), nil
		case '\\':
			if p.pos >= len(p.src) {
				return "", p.errorf("unterminated escape")
			}
			e := p.src[p.pos]
			p.pos++
			switch e {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case 'r':
				b.WriteByte('\r')
			case 'x':
				if p.pos+2 > len(p.src) {
					return "", p.errorf("short \\x escape")
				}
				n, err := strconv.ParseUint(p.src[p.pos:p.pos+2], 16, 8)
				if err != nil {
					return "", p.errorf("bad \\x escape %q", p.src[p.pos:p.pos+2])
				}
				b.WriteByte(byte(n))
				p.pos += 2
			default:
				b.WriteByte(e)
			}
		default:
			b.WriteByte(c)
		}
	}
	return "", &SyntaxError{Offset: start, Msg: "unterminated quoted text"}
}

func (p *parser) binary() (Value, error) {
	if !p.consume("<<") {
		return Value{}, p.errorf("expected \"<<\"")
	}
	var data []byte
	p.skipSpace()
	if p.consume(">>") {
		return Value{kind: KindBinary, bytes: []byte{}}, nil
	}
	for {
		p.skipSpace()
		if p.peek() == '"' {
			s, err := p.quoted('"')
			if err != nil {
				return Value{}, err
			}
			data = append(data, s...)
		} else {
			start := p.pos
			for p.pos < len(p.src) && p.src[p.pos] >= '0' && p.src[p.pos] <= '9' {
				p.pos++
			}
			n, err := strconv.ParseUint(p.src[start:p.pos], 10, 8)
			if err != nil {
				return Value{}, &SyntaxError{Offset: start, Msg: "binary segment must be a byte or a string"}
			}
			data = append(data, byte(n))
		}
		p.skipSpace()
		if p.consume(">>") {
			return Value{kind: KindBinary, bytes: data}, nil
		}
		if !p.consume(",") {
			return Value{}, p.errorf("expected ',' or \">>\"")
		}
	}
}

func (p *parser) hash(depth int) (Value, error) {
	p.pos++
	if p.consume("{") {
		return p.mapBody(depth)
	}
	if p.consume("Invalid") {
		return Invalid(), nil
	}
	for _, h := range []struct {
		name string
		make func(uint64) Value
	}{
		{"Pid<", Pid},
		{"Port<", Port},
		{"Ref<", Ref},
		{"Resource<", Resource},
		{"Float<", func(bits uint64) Value { return Value{kind: KindFloat, num: bits} }},
	} {
		if !p.consume(h.name) {
			continue
		}
		start := p.pos
		end := strings.IndexByte(p.src[p.pos:], '>')
		if end < 0 {
			return Value{}, p.errorf("unterminated #%s", h.name)
		}
		lit := p.src[start : start+end]
		n, err := strconv.ParseUint(lit, 0, 64)
		if err != nil {
			return Value{}, &SyntaxError{Offset: start, Msg: fmt.Sprintf("bad id %q", lit)}
		}
		if h.name != "Float<" && n > MaxID {
			return Value{}, &SyntaxError{Offset: start, Msg: fmt.Sprintf("id %d exceeds %d", n, uint64(MaxID))}
		}
		p.pos = start + end + 1
		return h.make(n), nil
	}
	return Value{}, p.errorf("unknown #%s", p.rest(8))
}

func (p *parser) mapBody(depth int) (Value, error) {
	var pairs []Pair
	p.skipSpace()
	if p.consume("}") {
		return Map()
	}
	for {
		k, err := p.value(depth + 1)
		if err != nil {
			return Value{}, err
		}
		if err := p.expect("=>"); err != nil {
			return Value{}, err
		}
		v, err := p.value(depth + 1)
		if err != nil {
			return Value{}, err
		}
		pairs = append(pairs, Pair{Key: k, Value: v})
		p.skipSpace()
		if p.consume("}") {
			break
		}
		if !p.consume(",") {
			return Value{}, p.errorf("expected ',' or '}'")
		}
	}
	m, err := Map(pairs...)
	if err != nil {
		return Value{}, &SyntaxError{Offset: p.pos, Msg: err.Error()}
	}
	return m, nil
}
