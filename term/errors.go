package term

import (
	"errors"
	"fmt"
)

// Codec errors. Structured errors below unwrap to one of these.
var (
	ErrOutOfMemory     = errors.New("term: out of memory")
	ErrSystemLimit     = errors.New("term: system limit")
	ErrTypeMismatch    = errors.New("term: type mismatch")
	ErrMalformed       = errors.New("term: malformed term")
	ErrTooDeep         = errors.New("term: too deep")
	ErrTagMismatch     = errors.New("term: tag mismatch")
	ErrMissingField    = errors.New("term: missing field")
	ErrUnknownResource = errors.New("term: unknown resource")
	ErrSyntax          = errors.New("term: syntax error")
)

// TagMismatchError reports a structured value whose discriminator atom is
// not the one the schema expects.
type TagMismatchError struct {
	Expected string
	Found    Value
}

func (e *TagMismatchError) Error() string {
	return fmt.Sprintf("term: tag mismatch: expected %s, found %s", e.Expected, Format(e.Found))
}

func (e *TagMismatchError) Unwrap() error { return ErrTagMismatch }

// MissingFieldError reports a required field absent from a structured value.
type MissingFieldError struct {
	Name string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("term: missing field %q", e.Name)
}

func (e *MissingFieldError) Unwrap() error { return ErrMissingField }

// DecodeError locates a decoding failure at a boundary word.
type DecodeError struct {
	Word   Term
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%v: %s at %s", e.Err, e.Reason, e.Word)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func decodeErr(sentinel error, w Term, format string, args ...any) error {
	return &DecodeError{Word: w, Reason: fmt.Sprintf(format, args...), Err: sentinel}
}

// SyntaxError locates a failure to parse the text notation.
type SyntaxError struct {
	Offset int
	Msg    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("term: syntax error at offset %d: %s", e.Offset, e.Msg)
}

func (e *SyntaxError) Unwrap() error { return ErrSyntax }
