package bytecode

import (
	"errors"
	"fmt"
)

// Validation errors. Each structured error below unwraps to one of these.
var (
	ErrTruncated          = errors.New("bytecode: truncated")
	ErrBadMagic           = errors.New("bytecode: bad magic")
	ErrUnsupportedVersion = errors.New("bytecode: unsupported version")
	ErrMalformedLength    = errors.New("bytecode: malformed length")
	ErrMalformed          = errors.New("bytecode: malformed module")
)

// TruncatedError reports a buffer shorter than the fixed header.
type TruncatedError struct {
	Min    int
	Actual int
}

func (e *TruncatedError) Error() string {
	return fmt.Sprintf("bytecode: truncated: need at least %d bytes, have %d", e.Min, e.Actual)
}

func (e *TruncatedError) Unwrap() error { return ErrTruncated }

// BadMagicError reports a header that does not start with the wasm magic.
type BadMagicError struct {
	Found [4]byte
}

func (e *BadMagicError) Error() string {
	return fmt.Sprintf("bytecode: bad magic % x", e.Found[:])
}

func (e *BadMagicError) Unwrap() error { return ErrBadMagic }

// UnsupportedVersionError reports a binary format version other than 1.
type UnsupportedVersionError struct {
	Found uint32
}

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("bytecode: unsupported version %d", e.Found)
}

func (e *UnsupportedVersionError) Unwrap() error { return ErrUnsupportedVersion }

// MalformedLengthError reports a length prefix that claims more bytes than
// remain in its enclosing region.
type MalformedLengthError struct {
	Field     string
	Offset    int
	Declared  uint64
	Available int
}

func (e *MalformedLengthError) Error() string {
	return fmt.Sprintf("bytecode: malformed length: %s at offset %d declares %d, %d available",
		e.Field, e.Offset, e.Declared, e.Available)
}

func (e *MalformedLengthError) Unwrap() error { return ErrMalformedLength }

// MalformedError reports any other structural defect.
type MalformedError struct {
	Field  string
	Offset int
	Reason string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("bytecode: malformed %s at offset %d: %s", e.Field, e.Offset, e.Reason)
}

func (e *MalformedError) Unwrap() error { return ErrMalformed }
