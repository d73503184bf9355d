package stone

import "errors"

// Sentinel errors a [Reader] can fail with, per spec.md §4.1. Wrap these
// with fmt.Errorf("%w: ...") rather than discarding them, so callers can
// still errors.Is against the sentinel.
var (
	ErrInvalidMagic       = errors.New("stone: invalid magic")
	ErrUnsupportedVersion = errors.New("stone: unsupported version")
	ErrCompression        = errors.New("stone: compression error")
	ErrTruncatedPayload   = errors.New("stone: truncated payload")
)
