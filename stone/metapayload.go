package stone

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"iter"

	"github.com/serpent-os/moss/provider"
)

// Tag identifies what a MetaPayload record describes. Unknown and Conflicts
// are tolerated and ignored by consumers (spec.md §4.1).
type Tag uint16

const (
	TagName Tag = iota
	TagVersion
	TagRelease
	TagBuildRelease
	TagArchitecture
	TagSummary
	TagDescription
	TagHomepage
	TagLicense
	TagSourceID
	TagDepends
	TagProvides
	TagConflicts
	TagPackageURI
	TagPackageHash
	TagPackageSize
	TagUnknown
)

func (t Tag) String() string {
	names := [...]string{
		"Name", "Version", "Release", "BuildRelease", "Architecture",
		"Summary", "Description", "Homepage", "License", "SourceID",
		"Depends", "Provides", "Conflicts", "PackageURI", "PackageHash",
		"PackageSize", "Unknown",
	}
	if int(t) < len(names) {
		return names[t]
	}
	return fmt.Sprintf("Tag(%d)", uint16(t))
}

// RecordType selects how a record's value bytes are decoded.
type RecordType uint8

const (
	TypeInt8 RecordType = iota
	TypeUint64
	TypeString
	TypeDependency
	TypeProvider
)

// MetaRecord is one (tag, type, value) triple from a MetaPayload body.
// Value holds an int8, uint64, string, or provider.Provider depending on
// Type, or the raw []byte for an unrecognized Type under TagUnknown.
type MetaRecord struct {
	Tag   Tag
	Type  RecordType
	Value any
}

// MetaPayload is the decompressed body of a Kind==Meta payload: a sequence
// of NumRecords (tag, type, value) triples describing one package build.
type MetaPayload struct {
	numRecords uint32
	body       []byte
}

// newMetaPayload wraps an already-decompressed Meta payload body.
func newMetaPayload(numRecords uint32, body []byte) *MetaPayload {
	return &MetaPayload{numRecords: numRecords, body: body}
}

// All iterates the payload's records in on-disk order. Iteration stops and
// reports an error if a record is truncated or carries an unrecognized
// RecordType under any tag other than TagUnknown.
func (p *MetaPayload) All() iter.Seq2[MetaRecord, error] {
	return func(yield func(MetaRecord, error) bool) {
		b := p.body
		for i := uint32(0); i < p.numRecords; i++ {
			rec, rest, err := decodeRecord(b)
			if err != nil {
				yield(MetaRecord{}, err)
				return
			}
			b = rest
			if !yield(rec, nil) {
				return
			}
		}
	}
}

const recordHeaderSize = 2 + 1 + 4 // tag, type, length

func decodeRecord(b []byte) (MetaRecord, []byte, error) {
	if len(b) < recordHeaderSize {
		return MetaRecord{}, nil, fmt.Errorf("%w: short record header", ErrTruncatedPayload)
	}
	tag := Tag(binary.BigEndian.Uint16(b[0:2]))
	typ := RecordType(b[2])
	length := binary.BigEndian.Uint32(b[3:7])
	b = b[recordHeaderSize:]
	if uint32(len(b)) < length {
		return MetaRecord{}, nil, fmt.Errorf("%w: record value truncated", ErrTruncatedPayload)
	}
	value := b[:length]
	rest := b[length:]

	var v any
	switch typ {
	case TypeInt8:
		if len(value) != 1 {
			return MetaRecord{}, nil, fmt.Errorf("%w: int8 record with length %d", ErrTruncatedPayload, len(value))
		}
		v = int8(value[0])
	case TypeUint64:
		if len(value) != 8 {
			return MetaRecord{}, nil, fmt.Errorf("%w: uint64 record with length %d", ErrTruncatedPayload, len(value))
		}
		v = binary.BigEndian.Uint64(value)
	case TypeString:
		v = string(value)
	case TypeDependency, TypeProvider:
		p, err := decodeProvider(value)
		if err != nil {
			return MetaRecord{}, nil, err
		}
		v = p
	default:
		// Tolerate unrecognized value encodings under an Unknown tag;
		// reject them everywhere else since we can't interpret the bytes.
		if tag != TagUnknown {
			return MetaRecord{}, nil, fmt.Errorf("stone: record tag %s has unrecognized type %d", tag, typ)
		}
		v = value
	}

	return MetaRecord{Tag: tag, Type: typ, Value: v}, rest, nil
}

// decodeProvider decodes the {type: u8, identifier_len: u16, identifier}
// encoding used for Dependency/Provider record values (spec.md §6).
func decodeProvider(b []byte) (provider.Provider, error) {
	if len(b) < 3 {
		return provider.Provider{}, fmt.Errorf("%w: short provider value", ErrTruncatedPayload)
	}
	kind := provider.Kind(b[0])
	idLen := binary.BigEndian.Uint16(b[1:3])
	b = b[3:]
	if uint16(len(b)) < idLen {
		return provider.Provider{}, fmt.Errorf("%w: provider identifier truncated", ErrTruncatedPayload)
	}
	return provider.Provider{Kind: kind, Identifier: string(b[:idLen])}, nil
}

// decoded is the minimal projection of a MetaPayload's fields needed to
// compute a stable pkgID (spec.md §4.1 getPkgID).
type decoded struct {
	name, version, release, buildRelease, architecture string
}

// GetPkgID computes a stable identifier from the payload's identity fields:
// same (name, version, release, buildRelease, architecture) always yields
// the same pkgID.
func (p *MetaPayload) GetPkgID() (string, error) {
	var d decoded
	for rec, err := range p.All() {
		if err != nil {
			return "", err
		}
		switch rec.Tag {
		case TagName:
			d.name, _ = rec.Value.(string)
		case TagVersion:
			d.version, _ = rec.Value.(string)
		case TagRelease:
			d.release = fmt.Sprint(rec.Value)
		case TagBuildRelease:
			d.buildRelease = fmt.Sprint(rec.Value)
		case TagArchitecture:
			d.architecture, _ = rec.Value.(string)
		}
	}
	h := sha256.New()
	io.WriteString(h, d.name)
	io.WriteString(h, "\x00")
	io.WriteString(h, d.version)
	io.WriteString(h, "\x00")
	io.WriteString(h, d.release)
	io.WriteString(h, "\x00")
	io.WriteString(h, d.buildRelease)
	io.WriteString(h, "\x00")
	io.WriteString(h, d.architecture)
	return hex.EncodeToString(h.Sum(nil)), nil
}
