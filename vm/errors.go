package vm

import (
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/tetratelabs/wazero/sys"

	"github.com/caffeineduck/atomhost/hostfunc"
	"github.com/caffeineduck/atomhost/term"
)

// Kind classifies a VM failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidConfig
	KindNotFound
	KindTrap
	KindResourceExhausted
	KindInvalidModule
	KindFatal
	KindClosed
	KindBusy
)

// Sentinels matched by errors.Is against an *Error of the same kind.
var (
	ErrUnknown           = errors.New("vm: unknown failure")
	ErrInvalidConfig     = errors.New("vm: invalid config")
	ErrNotFound          = errors.New("vm: not found")
	ErrTrap              = errors.New("vm: trap")
	ErrResourceExhausted = errors.New("vm: resource exhausted")
	ErrInvalidModule     = errors.New("vm: invalid module")
	ErrFatal             = errors.New("vm: fatal")
	ErrClosed            = errors.New("vm: closed")
	ErrBusy              = errors.New("vm: busy")
)

var kindErrors = [...]error{
	KindUnknown:           ErrUnknown,
	KindInvalidConfig:     ErrInvalidConfig,
	KindNotFound:          ErrNotFound,
	KindTrap:              ErrTrap,
	KindResourceExhausted: ErrResourceExhausted,
	KindInvalidModule:     ErrInvalidModule,
	KindFatal:             ErrFatal,
	KindClosed:            ErrClosed,
	KindBusy:              ErrBusy,
}

func (k Kind) sentinel() error {
	if k >= 0 && int(k) < len(kindErrors) {
		return kindErrors[k]
	}
	return ErrUnknown
}

func (k Kind) String() string {
	return strings.TrimPrefix(k.sentinel().Error(), "vm: ")
}

// Code is the numeric error code of a failure. Codes 1 to 99 are raised by
// guest code through term.raise; codes from 100 come from the engine.
type Code int

const (
	CodeNone           Code = 0
	CodeBadArg         Code = 1
	CodeBadArith       Code = 2
	CodeBadMatch       Code = 3
	CodeFunctionClause Code = 4
	CodeCaseClause     Code = 5
	CodeUndef          Code = 6
	CodeSystemLimit    Code = 7
	CodeOutOfMemory    Code = 8
	CodeHalt           Code = 9

	CodeUnreachable   Code = 100
	CodeStackOverflow Code = 101
	CodeMemoryFault   Code = 102
	CodeBadFun        Code = 103
	CodeTimeout       Code = 110
	CodeCanceled      Code = 111
	CodeExit          Code = 112
	CodeHostPanic     Code = 113
	CodeBadTerm       Code = 120
)

var codeNames = map[Code]string{
	CodeNone:           "none",
	CodeBadArg:         "badarg",
	CodeBadArith:       "badarith",
	CodeBadMatch:       "badmatch",
	CodeFunctionClause: "function_clause",
	CodeCaseClause:     "case_clause",
	CodeUndef:          "undef",
	CodeSystemLimit:    "system_limit",
	CodeOutOfMemory:    "out_of_memory",
	CodeHalt:           "halt",
	CodeUnreachable:    "unreachable",
	CodeStackOverflow:  "stack_overflow",
	CodeMemoryFault:    "memory_fault",
	CodeBadFun:         "badfun",
	CodeTimeout:        "timeout",
	CodeCanceled:       "canceled",
	CodeExit:           "exit",
	CodeHostPanic:      "host_panic",
	CodeBadTerm:        "bad_term",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("code(%d)", int(c))
}

// Known reports whether c is a defined code.
func (c Code) Known() bool {
	_, ok := codeNames[c]
	return ok
}

// Kind maps a code to its failure class. Undefined codes map to
// KindUnknown and keep their value in the Error.
func (c Code) Kind() Kind {
	switch c {
	case CodeBadArg, CodeBadArith, CodeBadMatch, CodeFunctionClause, CodeCaseClause, CodeUndef,
		CodeUnreachable, CodeMemoryFault, CodeBadFun, CodeBadTerm:
		return KindTrap
	case CodeSystemLimit, CodeOutOfMemory, CodeStackOverflow:
		return KindResourceExhausted
	case CodeHalt, CodeTimeout, CodeCanceled, CodeExit, CodeHostPanic:
		return KindFatal
	}
	return KindUnknown
}

// Error is the only error type the package returns.
type Error struct {
	Op   string
	Kind Kind
	Code Code
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("vm: ")
	b.WriteString(e.Op)
	b.WriteString(": ")
	b.WriteString(e.Kind.String())
	if e.Code != CodeNone {
		b.WriteString(" (")
		b.WriteString(e.Code.String())
		b.WriteByte(')')
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel of the error's kind.
func (e *Error) Is(target error) bool { return target == e.Kind.sentinel() }

// Fatal reports whether the VM state can no longer be trusted.
func (e *Error) Fatal() bool { return e.Kind == KindFatal }

// IsFatal reports whether err carries a fatal VM failure.
func IsFatal(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Fatal()
}

func newError(op string, code Code, format string, args ...any) *Error {
	return &Error{Op: op, Kind: code.Kind(), Code: code, Err: fmt.Errorf(format, args...)}
}

// raised is the error a guest raises with an arbitrary code.
func raised(op string, code Code) *Error {
	return &Error{Op: op, Kind: code.Kind(), Code: code, Err: fmt.Errorf("raised %s", code)}
}

// wasmTraps maps wazero runtime error messages to codes.
var wasmTraps = []struct {
	msg  string
	code Code
}{
	{"stack overflow", CodeStackOverflow},
	{"unreachable", CodeUnreachable},
	{"integer divide by zero", CodeBadArith},
	{"integer overflow", CodeBadArith},
	{"invalid conversion to integer", CodeBadArith},
	{"out of bounds memory access", CodeMemoryFault},
	{"unaligned atomic", CodeMemoryFault},
	{"invalid table access", CodeBadFun},
	{"indirect call type mismatch", CodeBadFun},
}

// classify turns an error from a wazero call into an *Error.
func classify(op string, err error) *Error {
	var vmErr *Error
	if errors.As(err, &vmErr) {
		return &Error{Op: op, Kind: vmErr.Kind, Code: vmErr.Code, Err: fmt.Errorf("%s: %w", vmErr.Op, vmErr.Err)}
	}

	var exitErr *sys.ExitError
	if errors.As(err, &exitErr) {
		switch exitErr.ExitCode() {
		case sys.ExitCodeDeadlineExceeded:
			return &Error{Op: op, Kind: KindFatal, Code: CodeTimeout, Err: err}
		case sys.ExitCodeContextCanceled:
			return &Error{Op: op, Kind: KindFatal, Code: CodeCanceled, Err: err}
		}
		return &Error{Op: op, Kind: KindFatal, Code: CodeExit, Err: err}
	}

	var rtErr runtime.Error
	if errors.As(err, &rtErr) {
		return &Error{Op: op, Kind: KindFatal, Code: CodeHostPanic, Err: rtErr}
	}

	msg := err.Error()
	if first, _, _ := strings.Cut(msg, "\n"); strings.HasPrefix(first, "wasm error: ") {
		for _, trap := range wasmTraps {
			if strings.Contains(first, trap.msg) {
				return &Error{Op: op, Kind: trap.code.Kind(), Code: trap.code, Err: errors.New(first)}
			}
		}
	}
	return &Error{Op: op, Kind: KindUnknown, Code: CodeNone, Err: err}
}

// nativeCode maps an error from a native function to a guest code.
func nativeCode(err error) Code {
	switch {
	case errors.Is(err, hostfunc.ErrOverflow):
		return CodeBadArith
	case errors.Is(err, hostfunc.ErrLimit), errors.Is(err, term.ErrSystemLimit), errors.Is(err, term.ErrTooDeep):
		return CodeSystemLimit
	case errors.Is(err, term.ErrOutOfMemory):
		return CodeOutOfMemory
	}
	return CodeBadArg
}
