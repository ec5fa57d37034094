// Package term converts values between their host representation and the
// tagged 64-bit words that cross the VM boundary.
//
// # Values and words
//
// A [Value] owns its data and is independent of any VM. A [Term] is a single
// word: small integers, atoms, handles and nil are immediates; tuples, lists,
// maps, binaries, floats, large integers and resources are boxed and live in
// an [Arena] owned by the VM.
//
//	codec := &term.Codec{Arena: heap, Atoms: atoms, Resources: resources}
//	w, err := codec.Encode(term.Tuple(term.Atom("ok"), term.Int(42)))
//	v, err := codec.Decode(w)
//
// Decoding treats the arena as untrusted: out-of-range pointers, arities
// that disagree with the stored elements and improper lists fail with
// [ErrMalformed], and nesting past the configured depth fails with
// [ErrTooDeep].
//
// # Notation
//
// [Format] and [Parse] use a compact text notation ({ok, [1, 2]},
// #{a => 1}, <<"bin">>, #Pid<3>). Values also marshal to CBOR.
package term
