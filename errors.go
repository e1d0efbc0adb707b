package zipkit

import "fmt"

// ErrorKind classifies the errors zipkit returns, per the wire-level
// error taxonomy (truncated input, bad signatures, corrupt fields,
// unsupported features, Zip64 overflow under Never mode, guarded
// memory limits, and caller misuse).
type ErrorKind int

const (
	// ErrTruncated indicates an unexpected end of input.
	ErrTruncated ErrorKind = iota
	// ErrBadSignature indicates an expected record signature was not present.
	ErrBadSignature
	// ErrCorruptField indicates a malformed length, size, offset, or DOS time.
	ErrCorruptField
	// ErrUnsupportedFeature indicates split archives without opt-in, an
	// unimplemented compression method, or encryption.
	ErrUnsupportedFeature
	// ErrZip64Required indicates the writer rejected an overflow under Zip64Never.
	ErrZip64Required
	// ErrMemoryLimit indicates a guarded allocation would exceed the configured cap.
	ErrMemoryLimit
	// ErrInvalidUsage indicates caller misuse: double finish, write after close, etc.
	ErrInvalidUsage
)

func (k ErrorKind) String() string {
	switch k {
	case ErrTruncated:
		return "truncated"
	case ErrBadSignature:
		return "bad signature"
	case ErrCorruptField:
		return "corrupt field"
	case ErrUnsupportedFeature:
		return "unsupported feature"
	case ErrZip64Required:
		return "zip64 required"
	case ErrMemoryLimit:
		return "memory limit"
	case ErrInvalidUsage:
		return "invalid usage"
	default:
		return "unknown"
	}
}

// Error is the error type returned by every fallible zipkit operation.
//
// It never carries a stack trace, a source file path, or archive
// content; Entry is the entry name when known, empty otherwise.
type Error struct {
	Kind  ErrorKind
	Entry string
	Msg   string
	Err   error
}

func (e *Error) Error() string {
	if e.Entry != "" {
		return fmt.Sprintf("zipkit: %s: %s: %s", e.Entry, e.Kind, e.Msg)
	}
	return fmt.Sprintf("zipkit: %s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(kind ErrorKind, entry, msg string) error {
	return &Error{Kind: kind, Entry: entry, Msg: msg}
}

func wrapErr(kind ErrorKind, entry, msg string, err error) error {
	return &Error{Kind: kind, Entry: entry, Msg: msg, Err: err}
}

// KindOf returns the ErrorKind of err if it (or something it wraps) is
// a *Error, and ok=false otherwise.
func KindOf(err error) (kind ErrorKind, ok bool) {
	var zerr *Error
	for err != nil {
		if e, is := err.(*Error); is {
			zerr = e
			break
		}
		u, is := err.(interface{ Unwrap() error })
		if !is {
			break
		}
		err = u.Unwrap()
	}
	if zerr == nil {
		return 0, false
	}
	return zerr.Kind, true
}
