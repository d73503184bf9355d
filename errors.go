// Package moss contains the shared error domain type used across the
// metadata and state subsystem: [stone], [meta], [state], [registry],
// [remote], [cobble], and [installed].
package moss

import (
	"errors"
	"strings"
)

// Error is the moss error domain type.
//
// Errors coming from moss components should be inspectable as ([errors.As])
// an *Error at some point in the error chain.
//
// Implementers of moss components should create an Error at the system
// boundary (e.g. when using the KV store or reading a stone archive) and
// intermediate layers should not wrap in another Error except to add
// additional [ErrorKind] information. Prefer [fmt.Errorf] with a "%w" verb
// over constructing a containing Error.
type Error struct {
	Inner   error
	Kind    ErrorKind
	Message string
	Op      string
}

var (
	_ error                       = (*Error)(nil)
	_ interface{ Is(error) bool } = (*Error)(nil)
	_ interface{ Unwrap() error } = (*Error)(nil)
)

// Error implements error.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(" ")
	}
	b.WriteString("[")
	switch e.Kind {
	case ErrNotFound,
		ErrCorrupt,
		ErrIO,
		ErrMalformedEntry,
		ErrTransactionAborted:
		b.WriteString(string(e.Kind))
	default:
		b.WriteString("???")
	}
	b.WriteString("]: ")
	if e.Message != "" {
		b.WriteString(e.Message)
	}
	if e.Message != "" && e.Inner != nil {
		b.WriteString(": ")
	}
	if e.Op == "" && e.Message == "" {
		b.Reset()
	}
	if e.Inner != nil {
		b.WriteString(e.Inner.Error())
	}
	return b.String()
}

// Is enables [errors.Is]. Callers should compare against a declared
// [ErrorKind] rather than a specific *Error value.
func (e *Error) Is(kind error) bool {
	return errors.Is(e.Kind, kind)
}

// Unwrap enables [errors.Unwrap].
func (e *Error) Unwrap() error {
	return e.Inner
}

// ErrorKind represents classes of errors to be checked against, per spec §7.
//
// If unsure which kind applies, use ErrIO for system-boundary failures and
// ErrCorrupt for unparseable data.
type ErrorKind string

// Defined error kinds.
var (
	ErrNotFound           = ErrorKind("not found")           // key/path absent
	ErrCorrupt            = ErrorKind("corrupt")             // unparseable archive or KV row
	ErrIO                 = ErrorKind("io error")            // underlying filesystem/KV failure
	ErrMalformedEntry     = ErrorKind("malformed entry")     // semantic invariant violated
	ErrTransactionAborted = ErrorKind("transaction aborted") // write transaction could not commit
)

// Error implements error.
func (e ErrorKind) Error() string {
	return string(e)
}
