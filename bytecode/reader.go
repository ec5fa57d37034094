package bytecode

// reader walks a region of the input. Offsets are absolute so errors point
// into the original buffer; every read is bounds-checked against end.
type reader struct {
	buf []byte
	off int
	end int
}

func newReader(buf []byte, off, end int) *reader {
	return &reader{buf: buf, off: off, end: end}
}

func (r *reader) remaining() int { return r.end - r.off }

func (r *reader) done() bool { return r.off >= r.end }

func (r *reader) byte(field string) (byte, error) {
	if r.off >= r.end {
		return 0, &MalformedLengthError{Field: field, Offset: r.off, Declared: 1, Available: 0}
	}
	b := r.buf[r.off]
	r.off++
	return b, nil
}

// u32 reads an unsigned LEB128 value of at most five bytes.
func (r *reader) u32(field string) (uint32, error) {
	start := r.off
	var result uint32
	for i := 0; i < 5; i++ {
		if r.off >= r.end {
			return 0, &MalformedError{Field: field, Offset: start, Reason: "unterminated LEB128"}
		}
		b := r.buf[r.off]
		r.off++
		if i == 4 && b&0xf0 != 0 {
			return 0, &MalformedError{Field: field, Offset: start, Reason: "LEB128 overflows 32 bits"}
		}
		result |= uint32(b&0x7f) << (7 * i)
		if b&0x80 == 0 {
			return result, nil
		}
	}
	return 0, &MalformedError{Field: field, Offset: start, Reason: "LEB128 longer than 5 bytes"}
}

// length reads a length prefix and checks that the region it declares fits
// in what remains.
func (r *reader) length(field string) (int, error) {
	at := r.off
	n, err := r.u32(field)
	if err != nil {
		return 0, err
	}
	if uint64(n) > uint64(r.remaining()) {
		return 0, &MalformedLengthError{Field: field, Offset: at, Declared: uint64(n), Available: r.remaining()}
	}
	return int(n), nil
}

// count reads a vector count. Every element takes at least one byte, so a
// count larger than the remaining bytes is rejected before any allocation.
func (r *reader) count(field string) (int, error) {
	return r.length(field)
}

func (r *reader) bytes(field string) ([]byte, error) {
	n, err := r.length(field)
	if err != nil {
		return nil, err
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *reader) skip(n int) {
	r.off += n
}
