package host

import (
	"errors"
	"fmt"
)

// Kind classifies a host failure.
type Kind int

const (
	KindInvalid Kind = iota + 1
	KindNotLoaded
	KindHostFaulted
	KindNotBooted
	KindAlreadyBooted
	KindClosed
	KindBoot
	KindLoad
	KindCall
)

var (
	ErrInvalid       = errors.New("host: invalid module")
	ErrNotLoaded     = errors.New("host: module not loaded")
	ErrHostFaulted   = errors.New("host: faulted")
	ErrNotBooted     = errors.New("host: not booted")
	ErrAlreadyBooted = errors.New("host: already booted")
	ErrClosed        = errors.New("host: closed")
	ErrBoot          = errors.New("host: boot failed")
	ErrLoad          = errors.New("host: load failed")
	ErrCall          = errors.New("host: call failed")
)

func (k Kind) sentinel() error {
	switch k {
	case KindInvalid:
		return ErrInvalid
	case KindNotLoaded:
		return ErrNotLoaded
	case KindHostFaulted:
		return ErrHostFaulted
	case KindNotBooted:
		return ErrNotBooted
	case KindAlreadyBooted:
		return ErrAlreadyBooted
	case KindClosed:
		return ErrClosed
	case KindBoot:
		return ErrBoot
	case KindLoad:
		return ErrLoad
	case KindCall:
		return ErrCall
	}
	return nil
}

// Error is returned by every Host operation. Err is the underlying cause
// from the bytecode, registry, term or vm package, if any.
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind.sentinel(), e.Op)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel of the error's kind.
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}
