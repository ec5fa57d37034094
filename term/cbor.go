package term

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// wireTerm is the CBOR external form of a Value. Floats travel as their
// bit pattern so NaN payloads are not normalized by the encoder.
type wireTerm struct {
	Kind  Kind       `cbor:"1,keyasint"`
	Int   int64      `cbor:"2,keyasint,omitempty"`
	ID    uint64     `cbor:"3,keyasint,omitempty"`
	Name  string     `cbor:"4,keyasint,omitempty"`
	Bytes []byte     `cbor:"5,keyasint,omitempty"`
	Elems []wireTerm `cbor:"6,keyasint,omitempty"`
}

var (
	cborEncMode cbor.EncMode
	cborDecMode cbor.DecMode
)

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("term: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em

	// Each term level is a CBOR map holding an array.
	dm, err := cbor.DecOptions{MaxNestedLevels: 2*DefaultMaxDepth + 4}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("term: failed to create CBOR dec mode: %v", err))
	}
	cborDecMode = dm
}

// MarshalCBOR implements cbor.Marshaler.
func (v Value) MarshalCBOR() ([]byte, error) {
	return cborEncMode.Marshal(toWire(v))
}

// UnmarshalCBOR implements cbor.Unmarshaler.
func (v *Value) UnmarshalCBOR(data []byte) error {
	var w wireTerm
	if err := cborDecMode.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("term: unmarshal cbor: %w", err)
	}
	out, err := fromWire(w)
	if err != nil {
		return err
	}
	*v = out
	return nil
}

func toWire(v Value) wireTerm {
	w := wireTerm{Kind: v.kind}
	switch v.kind {
	case KindInt:
		w.Int = int64(v.num)
	case KindFloat, KindPid, KindPort, KindRef, KindResource:
		w.ID = v.num
	case KindAtom:
		w.Name = v.name
	case KindBinary:
		w.Bytes = v.bytes
	case KindTuple, KindList:
		w.Elems = make([]wireTerm, len(v.elems))
		for i, e := range v.elems {
			w.Elems[i] = toWire(e)
		}
	case KindMap:
		w.Elems = make([]wireTerm, 0, 2*len(v.pairs))
		for _, p := range v.pairs {
			w.Elems = append(w.Elems, toWire(p.Key), toWire(p.Value))
		}
	}
	return w
}

func fromWire(w wireTerm) (Value, error) {
	switch w.Kind {
	case KindInvalid:
		return Invalid(), nil
	case KindNil:
		return Nil(), nil
	case KindInt:
		return Int(w.Int), nil
	case KindFloat:
		return Value{kind: KindFloat, num: w.ID}, nil
	case KindPid, KindPort, KindRef, KindResource:
		if w.ID > MaxID {
			return Value{}, fmt.Errorf("%w: %s id %d", ErrSystemLimit, w.Kind, w.ID)
		}
		return Value{kind: w.Kind, num: w.ID}, nil
	case KindAtom:
		if len(w.Name) > MaxAtomLength {
			return Value{}, fmt.Errorf("%w: atom name of %d bytes", ErrSystemLimit, len(w.Name))
		}
		return Atom(w.Name), nil
	case KindBinary:
		return Binary(w.Bytes), nil
	case KindTuple, KindList:
		elems := make([]Value, len(w.Elems))
		for i, e := range w.Elems {
			v, err := fromWire(e)
			if err != nil {
				return Value{}, err
			}
			elems[i] = v
		}
		if w.Kind == KindTuple {
			return Value{kind: KindTuple, elems: elems}, nil
		}
		if len(elems) == 0 {
			return Value{}, fmt.Errorf("%w: empty list must be nil", ErrMalformed)
		}
		return Value{kind: KindList, elems: elems}, nil
	case KindMap:
		if len(w.Elems)%2 != 0 {
			return Value{}, fmt.Errorf("%w: map with %d elements", ErrMalformed, len(w.Elems))
		}
		pairs := make([]Pair, 0, len(w.Elems)/2)
		for i := 0; i < len(w.Elems); i += 2 {
			k, err := fromWire(w.Elems[i])
			if err != nil {
				return Value{}, err
			}
			v, err := fromWire(w.Elems[i+1])
			if err != nil {
				return Value{}, err
			}
			pairs = append(pairs, Pair{Key: k, Value: v})
		}
		return Map(pairs...)
	}
	return Value{}, fmt.Errorf("%w: wire kind %d", ErrTypeMismatch, w.Kind)
}
