package zkvm

import (
	"errors"
	"fmt"
)

// ErrorKind classifies proving and verification failures.
type ErrorKind int

const (
	// KindSerialization covers encoding guest inputs or public values.
	KindSerialization ErrorKind = iota + 1
	// KindGuestExecution covers guest traps, unknown programs and backend
	// failures while proving.
	KindGuestExecution
	// KindVerification covers proofs that do not verify, including key and
	// public value mismatches.
	KindVerification
	// KindDecode covers malformed proofs, keys and public values.
	KindDecode
)

func (k ErrorKind) String() string {
	switch k {
	case KindSerialization:
		return "serialization"
	case KindGuestExecution:
		return "guest execution"
	case KindVerification:
		return "verification"
	case KindDecode:
		return "decode"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is the error type returned by hosts, builders and verifiers.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

// Sentinels for errors.Is matching on kind.
var (
	ErrSerialization  = &Error{Kind: KindSerialization}
	ErrGuestExecution = &Error{Kind: KindGuestExecution}
	ErrVerification   = &Error{Kind: KindVerification}
	ErrDecode         = &Error{Kind: KindDecode}
)

// NewError wraps err with a kind and the failing operation.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds an Error with a formatted cause.
func Errorf(kind ErrorKind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	msg := e.Kind.String() + " error"
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// KindOf returns the kind of the first *Error in err's chain, or zero.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
