package term

import (
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Format renders v in the text notation accepted by Parse.
func Format(v Value) string {
	var b strings.Builder
	format(&b, v)
	return b.String()
}

func format(b *strings.Builder, v Value) {
	switch v.kind {
	case KindInvalid:
		b.WriteString("#Invalid")
	case KindInt:
		b.WriteString(strconv.FormatInt(int64(v.num), 10))
	case KindFloat:
		formatFloat(b, v.num)
	case KindAtom:
		formatAtom(b, v.name)
	case KindNil:
		b.WriteString("[]")
	case KindPid:
		formatHandle(b, "Pid", v.num)
	case KindPort:
		formatHandle(b, "Port", v.num)
	case KindRef:
		formatHandle(b, "Ref", v.num)
	case KindResource:
		formatHandle(b, "Resource", v.num)
	case KindTuple:
		b.WriteByte('{')
		formatSeq(b, v.elems)
		b.WriteByte('}')
	case KindList:
		b.WriteByte('[')
		formatSeq(b, v.elems)
		b.WriteByte(']')
	case KindMap:
		b.WriteString("#{")
		for i, p := range v.pairs {
			if i > 0 {
				b.WriteString(", ")
			}
			format(b, p.Key)
			b.WriteString(" => ")
			format(b, p.Value)
		}
		b.WriteByte('}')
	case KindBinary:
		formatBinary(b, v.bytes)
	}
}

func formatSeq(b *strings.Builder, elems []Value) {
	for i, e := range elems {
		if i > 0 {
			b.WriteString(", ")
		}
		format(b, e)
	}
}

func formatHandle(b *strings.Builder, name string, id uint64) {
	b.WriteString("#")
	b.WriteString(name)
	b.WriteByte('<')
	b.WriteString(strconv.FormatUint(id, 10))
	b.WriteByte('>')
}

// formatFloat writes finite floats in decimal and everything else by bit
// pattern, so NaN payloads survive a Format/Parse round trip.
func formatFloat(b *strings.Builder, bits uint64) {
	f := math.Float64frombits(bits)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		b.WriteString("#Float<0x")
		b.WriteString(strconv.FormatUint(bits, 16))
		b.WriteByte('>')
		return
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	b.WriteString(s)
}

func formatAtom(b *strings.Builder, name string) {
	if bareAtom(name) {
		b.WriteString(name)
		return
	}
	b.WriteByte('\'')
	writeEscaped(b, name, '\'')
	b.WriteByte('\'')
}

func bareAtom(name string) bool {
	if name == "" || name[0] < 'a' || name[0] > 'z' {
		return false
	}
	for i := 1; i < len(name); i++ {
		if !isAtomChar(name[i]) {
			return false
		}
	}
	return true
}

func isAtomChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_' || c == '@'
}

func formatBinary(b *strings.Builder, data []byte) {
	b.WriteString("<<")
	if printable(data) {
		if len(data) > 0 {
			b.WriteByte('"')
			writeEscaped(b, string(data), '"')
			b.WriteByte('"')
		}
	} else {
		for i, c := range data {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(strconv.Itoa(int(c)))
		}
	}
	b.WriteString(">>")
}

func printable(data []byte) bool {
	if !utf8.Valid(data) {
		return false
	}
	for _, r := range string(data) {
		if r < 0x20 && r != '\n' && r != '\t' || r == 0x7f {
			return false
		}
	}
	return true
}

func writeEscaped(b *strings.Builder, s string, quote byte) {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == quote || c == '\\':
			b.WriteByte('\\')
			b.WriteByte(c)
		case c == '\n':
			b.WriteString(`\n`)
		case c == '\t':
			b.WriteString(`\t`)
		case c < 0x20 || c == 0x7f:
			b.WriteString(`\x`)
			b.WriteString(strconv.FormatUint(uint64(c)>>4, 16))
			b.WriteString(strconv.FormatUint(uint64(c)&0xf, 16))
		default:
			b.WriteByte(c)
		}
	}
}

// MarshalText implements encoding.TextMarshaler using Format.
func (v Value) MarshalText() ([]byte, error) {
	return []byte(Format(v)), nil
}

// UnmarshalText implements encoding.TextUnmarshaler using Parse.
func (v *Value) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}
