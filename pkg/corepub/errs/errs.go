// Package errs defines the closed error-kind taxonomy shared by every
// corepub package. The core never logs; it returns a single *Error per
// failed call, leaving presentation to the host. The deflate and jpeg
// decoders raise their own errors internally with panic and recover them
// into that returned *Error before the exported call returns.
package errs

import "fmt"

// Kind is one of a small, closed set of failure categories. Host code
// switches on Kind (via errors.As) rather than matching message text.
type Kind string

const (
	Read           Kind = "read"            // host read callback failed
	Write          Kind = "write"           // host output/sink callback failed
	Truncated      Kind = "truncated"       // unexpected EOF in a structural header
	BadSignature   Kind = "bad_signature"   // magic bytes did not match
	BadFormat      Kind = "bad_format"      // malformed header/field in otherwise sane structure
	Unsupported    Kind = "unsupported"     // feature known to exist but not implemented here
	Crc            Kind = "crc"             // CRC32/checksum mismatch
	Deflate        Kind = "deflate"         // invalid compressed stream
	BufferTooSmall Kind = "buffer_too_small"
	NotFound       Kind = "not_found"
	PathTooLong    Kind = "path_too_long"
	NameTooLong    Kind = "name_too_long"
)

// Error wraps an underlying cause (if any) with a Kind and the operation
// that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the same Kind, so callers can write
// errors.Is(err, errs.NotFound) directly against a Kind value.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && e.Kind == k
}

// Error satisfies the error interface for bare Kind values so that
// errors.Is(err, errs.NotFound) works without constructing an *Error.
func (k Kind) Error() string { return string(k) }

// New builds an *Error for the given kind and operation, optionally
// wrapping a lower-level cause.
func New(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}
