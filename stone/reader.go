package stone

import (
	"fmt"
	"io"
)

// Payload is the decoded body of one archive payload. Only [*MetaPayload]
// offers further structure; Layout and Index payloads are exposed as opaque
// bytes via [RawPayload] since this spec doesn't consume them (spec.md
// §4.1).
type Payload interface {
	Kind() Kind
}

// RawPayload is an undecoded Layout or Index payload body.
type RawPayload struct {
	kind Kind
	Data []byte
}

// Kind implements [Payload].
func (r RawPayload) Kind() Kind { return r.kind }

// Kind implements [Payload] for MetaPayload.
func (p *MetaPayload) Kind() Kind { return Meta }

// Reader parses a stone archive: a fixed [ArchiveHeader] followed by a lazy
// sequence of ([PayloadHeader], [Payload]) pairs.
//
// Reader holds the input for its lifetime; callers must call [Reader.Close]
// on every exit path, including after a parse failure (spec.md §5).
type Reader struct {
	src    io.Reader
	closer io.Closer

	header ArchiveHeader
	seen   uint16

	cur     PayloadHeader
	payload Payload
	err     error
}

// NewReader reads and validates the archive header from src, then returns a
// Reader ready to iterate payloads with [Reader.Next].
//
// NewReader fails with [ErrInvalidMagic] or [ErrUnsupportedVersion] if src
// doesn't look like a stone archive this package understands.
func NewReader(src io.Reader) (*Reader, error) {
	h, err := readArchiveHeader(src)
	if err != nil {
		return nil, err
	}
	r := &Reader{src: src, header: h}
	if c, ok := src.(io.Closer); ok {
		r.closer = c
	}
	return r, nil
}

// ArchiveHeader returns the archive's fixed header.
func (r *Reader) ArchiveHeader() ArchiveHeader { return r.header }

// Next advances to the next payload, decoding it into the appropriate
// [Payload] implementation. It reports false when there are no more
// payloads or a parse error occurred; check [Reader.Err] to distinguish the
// two.
func (r *Reader) Next() bool {
	if r.err != nil || r.seen >= r.header.NumPayloads {
		return false
	}
	ph, err := readPayloadHeader(r.src)
	if err != nil {
		r.err = err
		return false
	}
	plain, err := decompress(r.src, ph.Compression, ph.StoredSize, ph.PlainSize)
	if err != nil {
		r.err = err
		return false
	}

	switch ph.Type {
	case Meta:
		r.payload = newMetaPayload(ph.NumRecords, plain)
	case Layout, Index:
		r.payload = RawPayload{kind: ph.Type, Data: plain}
	default:
		r.err = fmt.Errorf("stone: unrecognized payload type %d", ph.Type)
		return false
	}

	r.cur = ph
	r.seen++
	return true
}

// PayloadHeader returns the header of the payload last yielded by [Reader.Next].
func (r *Reader) PayloadHeader() PayloadHeader { return r.cur }

// Payload returns the payload last yielded by [Reader.Next].
func (r *Reader) Payload() Payload { return r.payload }

// Err returns the first error encountered by [Reader.Next], if any.
func (r *Reader) Err() error { return r.err }

// Close releases the underlying source, if it implements io.Closer. Close
// is idempotent.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	c := r.closer
	r.closer = nil
	return c.Close()
}
