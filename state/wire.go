package state

import (
	"encoding/binary"
	"fmt"
)

// wireHeaderSize is the fixed portion of StateEntryBinary (spec.md §4.3):
// stateID(8) + idLen(2) + flags(4) + type(1) + reserved(1).
const wireHeaderSize = 8 + 2 + 4 + 1 + 1

// encode serializes e into the StateEntryBinary wire format: a 16-byte
// fixed header followed by the NUL-terminated identifier.
func encode(e StateEntry) []byte {
	idLen := len(e.Identifier) + 1 // includes trailing NUL
	buf := make([]byte, wireHeaderSize+idLen)

	binary.BigEndian.PutUint64(buf[0:8], e.StateID)
	binary.BigEndian.PutUint16(buf[8:10], uint16(idLen))
	binary.BigEndian.PutUint32(buf[10:14], uint32(e.Flags))
	buf[14] = byte(e.Type)
	buf[15] = 0 // reserved

	copy(buf[wireHeaderSize:], e.Identifier)
	buf[len(buf)-1] = 0 // trailing NUL

	return buf
}

// decode inverts [encode].
func decode(buf []byte) (StateEntry, error) {
	if len(buf) < wireHeaderSize {
		return StateEntry{}, fmt.Errorf("state: short StateEntryBinary header (%d bytes)", len(buf))
	}

	stateID := binary.BigEndian.Uint64(buf[0:8])
	idLen := binary.BigEndian.Uint16(buf[8:10])
	flags := binary.BigEndian.Uint32(buf[10:14])
	typ := buf[14]
	if buf[15] != 0 {
		return StateEntry{}, fmt.Errorf("state: reserved byte must be 0, got %d", buf[15])
	}

	want := wireHeaderSize + int(idLen)
	if len(buf) != want {
		return StateEntry{}, fmt.Errorf("state: idLen %d doesn't match buffer length %d (want %d)", idLen, len(buf), want)
	}
	if idLen == 0 || buf[len(buf)-1] != 0 {
		return StateEntry{}, fmt.Errorf("state: identifier missing trailing NUL")
	}
	identifier := string(buf[wireHeaderSize : len(buf)-1])

	return StateEntry{
		StateID:    stateID,
		Identifier: identifier,
		Type:       SelectionType(typ),
		Flags:      Flag(flags),
	}, nil
}
