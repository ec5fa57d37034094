package term

import (
	"bytes"
	"math"
	"strings"
)

// order ranks kinds in standard term order:
// number < atom < reference < port < pid < tuple < map < nil < list < binary.
// Resources sort with references; the invalid marker sorts first.
var order = [...]int{
	KindInvalid:  0,
	KindInt:      1,
	KindFloat:    1,
	KindAtom:     2,
	KindRef:      3,
	KindResource: 4,
	KindPort:     5,
	KindPid:      6,
	KindTuple:    7,
	KindMap:      8,
	KindNil:      9,
	KindList:     10,
	KindBinary:   11,
}

// Equal reports whether a and b are the same term. Integers and floats are
// never equal to each other, and floats compare by bit pattern.
func Equal(a, b Value) bool { return Compare(a, b) == 0 }

// Compare orders a and b in standard term order and returns -1, 0 or 1.
// It returns 0 only when Equal would.
func Compare(a, b Value) int {
	ra, rb := order[a.kind], order[b.kind]
	if ra != rb {
		return cmpInt(ra, rb)
	}
	switch a.kind {
	case KindInt, KindFloat:
		return compareNumbers(a, b)
	case KindAtom:
		return strings.Compare(a.name, b.name)
	case KindRef, KindResource, KindPort, KindPid:
		return cmpUint(a.num, b.num)
	case KindTuple:
		if len(a.elems) != len(b.elems) {
			return cmpInt(len(a.elems), len(b.elems))
		}
		return compareSeq(a.elems, b.elems)
	case KindList:
		if c := compareSeq(a.elems, b.elems); c != 0 {
			return c
		}
		return cmpInt(len(a.elems), len(b.elems))
	case KindMap:
		if len(a.pairs) != len(b.pairs) {
			return cmpInt(len(a.pairs), len(b.pairs))
		}
		for i := range a.pairs {
			if c := Compare(a.pairs[i].Key, b.pairs[i].Key); c != 0 {
				return c
			}
		}
		for i := range a.pairs {
			if c := Compare(a.pairs[i].Value, b.pairs[i].Value); c != 0 {
				return c
			}
		}
		return 0
	case KindBinary:
		return bytes.Compare(a.bytes, b.bytes)
	}
	return 0
}

func compareSeq(a, b []Value) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if c := Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	return 0
}

// compareNumbers orders integers and floats by numeric value. Every NaN
// sorts after every other number, NaNs among themselves by bit pattern.
// On numeric ties the integer sorts first, and -0.0 before 0.0.
func compareNumbers(a, b Value) int {
	switch {
	case a.kind == KindInt && b.kind == KindInt:
		return cmpInt64(int64(a.num), int64(b.num))
	case a.kind == KindFloat && b.kind == KindFloat:
		return compareFloats(a.num, b.num)
	case a.kind == KindInt:
		return -compareFloatInt(math.Float64frombits(b.num), int64(a.num))
	default:
		return compareFloatInt(math.Float64frombits(a.num), int64(b.num))
	}
}

func compareFloats(a, b uint64) int {
	if a == b {
		return 0
	}
	fa, fb := math.Float64frombits(a), math.Float64frombits(b)
	na, nb := math.IsNaN(fa), math.IsNaN(fb)
	switch {
	case na && nb:
		return cmpUint(a, b)
	case na:
		return 1
	case nb:
		return -1
	case fa < fb:
		return -1
	case fa > fb:
		return 1
	}
	// Only the two zeros are numerically equal with different bits.
	if math.Signbit(fa) {
		return -1
	}
	return 1
}

// twoTo63 is the smallest float at or above every int64.
const twoTo63 = 9223372036854775808.0

// compareFloatInt orders a float against an integer exactly, without
// rounding n to a float. It never returns 0.
func compareFloatInt(f float64, n int64) int {
	switch {
	case math.IsNaN(f), f >= twoTo63:
		return 1
	case f < -twoTo63:
		return -1
	}
	// f is now in [-2^63, 2^63) so truncation is exact, and so is the
	// fractional part since any float of 2^53 or more is integral.
	i := int64(f)
	if i != n {
		return cmpInt64(i, n)
	}
	if frac := f - float64(i); frac < 0 {
		return -1
	}
	return 1
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cmpUint(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
