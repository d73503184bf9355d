// Package stone parses the stone archive format: a fixed header followed by
// N typed, optionally-compressed payloads (spec.md §6). This package only
// reads archives; writing a stone archive is out of scope (spec.md §1).
package stone

import (
	"encoding/binary"
	"fmt"
	"io"
)

// magic identifies a stone archive. Chosen to be unambiguous in a hex dump
// and to fail fast on anything else handed to [NewReader].
var magic = [4]byte{'m', 'o', 's', 1}

// version is the only archive version this reader understands.
const version = uint16(1)

// ArchiveType identifies what kind of archive this is. A repository index
// archive (spec.md §6) must have Type == Repository.
type ArchiveType uint8

const (
	Binary ArchiveType = iota
	Repository
	Delta
)

func (t ArchiveType) String() string {
	switch t {
	case Binary:
		return "Binary"
	case Repository:
		return "Repository"
	case Delta:
		return "Delta"
	default:
		return fmt.Sprintf("ArchiveType(%d)", uint8(t))
	}
}

// ArchiveHeader is the fixed header at the start of every stone archive.
type ArchiveHeader struct {
	Version     uint16
	Type        ArchiveType
	NumPayloads uint16
}

const archiveHeaderSize = 4 /*magic*/ + 2 /*version*/ + 1 /*type*/ + 2 /*numPayloads*/ + 1 /*pad*/

func readArchiveHeader(r io.Reader) (ArchiveHeader, error) {
	var buf [archiveHeaderSize]byte
	if _, err := io.ReadFull(r, buf[:len(magic)]); err != nil {
		return ArchiveHeader{}, fmt.Errorf("%w: reading archive header: %v", ErrTruncatedPayload, err)
	}
	if buf[0] != magic[0] || buf[1] != magic[1] || buf[2] != magic[2] || buf[3] != magic[3] {
		return ArchiveHeader{}, ErrInvalidMagic
	}
	if _, err := io.ReadFull(r, buf[len(magic):]); err != nil {
		return ArchiveHeader{}, fmt.Errorf("%w: reading archive header: %v", ErrTruncatedPayload, err)
	}
	h := ArchiveHeader{
		Version:     binary.BigEndian.Uint16(buf[4:6]),
		Type:        ArchiveType(buf[6]),
		NumPayloads: binary.BigEndian.Uint16(buf[7:9]),
	}
	if h.Version != version {
		return ArchiveHeader{}, fmt.Errorf("%w: got version %d", ErrUnsupportedVersion, h.Version)
	}
	return h, nil
}

// Compression identifies how a payload body is compressed on disk.
type Compression uint8

const (
	NoCompression Compression = iota
	Zstd
	Xz
)

func (c Compression) String() string {
	switch c {
	case NoCompression:
		return "none"
	case Zstd:
		return "zstd"
	case Xz:
		return "xz"
	default:
		return fmt.Sprintf("Compression(%d)", uint8(c))
	}
}

// Kind identifies the payload's content type. Only Meta is decoded any
// further by this package; Layout and Index are exposed as opaque bodies.
type Kind uint8

const (
	Meta Kind = iota
	Layout
	Index
)

func (k Kind) String() string {
	switch k {
	case Meta:
		return "Meta"
	case Layout:
		return "Layout"
	case Index:
		return "Index"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// PayloadHeader precedes every payload body in the archive.
type PayloadHeader struct {
	Type        Kind
	Compression Compression
	NumRecords  uint32
	StoredSize  uint64
	PlainSize   uint64
	Checksum    uint64
}

const payloadHeaderSize = 1 + 1 + 4 + 8 + 8 + 8

func readPayloadHeader(r io.Reader) (PayloadHeader, error) {
	var buf [payloadHeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return PayloadHeader{}, fmt.Errorf("%w: reading payload header: %v", ErrTruncatedPayload, err)
	}
	return PayloadHeader{
		Type:        Kind(buf[0]),
		Compression: Compression(buf[1]),
		NumRecords:  binary.BigEndian.Uint32(buf[2:6]),
		StoredSize:  binary.BigEndian.Uint64(buf[6:14]),
		PlainSize:   binary.BigEndian.Uint64(buf[14:22]),
		Checksum:    binary.BigEndian.Uint64(buf[22:30]),
	}, nil
}
