// Package state implements the StateDB: an append-only log of installation
// states and the per-state package selections within them (spec.md §4.3).
package state

import (
	"fmt"
)

// SelectionType distinguishes where a selection's build came from.
type SelectionType uint8

const (
	Source SelectionType = iota
	Binary
)

func (t SelectionType) String() string {
	switch t {
	case Source:
		return "Source"
	case Binary:
		return "Binary"
	default:
		return fmt.Sprintf("SelectionType(%d)", uint8(t))
	}
}

// Flag is a bitmask of policy bits attached to a [StateEntry].
type Flag uint32

const (
	DefaultPolicy Flag = 1 << iota
	UserInstalled
	DepInstalled
	Hold
	PreferSource
)

// Has reports whether all bits in want are set.
func (f Flag) Has(want Flag) bool { return f&want == want }

// Validate enforces spec.md §3: at least one of UserInstalled/DepInstalled
// must be set, and they're mutually exclusive.
func (f Flag) Validate() error {
	user, dep := f.Has(UserInstalled), f.Has(DepInstalled)
	switch {
	case user && dep:
		return fmt.Errorf("state: flags carry both UserInstalled and DepInstalled")
	case !user && !dep:
		return fmt.Errorf("state: flags carry neither UserInstalled nor DepInstalled")
	}
	return nil
}

// RecordType classifies a [StateRecord].
type RecordType uint8

const (
	Transaction RecordType = iota
	Snapshot
	Automatic
)

func (t RecordType) String() string {
	switch t {
	case Transaction:
		return "Transaction"
	case Snapshot:
		return "Snapshot"
	case Automatic:
		return "Automatic"
	default:
		return fmt.Sprintf("RecordType(%d)", uint8(t))
	}
}

// StateRecord is one installation transaction (spec.md §3).
type StateRecord struct {
	StateID     uint64
	Name        string
	Description string
	Type        RecordType
	Timestamp   int64 // seconds since epoch
}

// StateEntry is a selection within a state: the composite key
// (StateID, Identifier) is unique (spec.md §3).
type StateEntry struct {
	StateID    uint64
	Identifier string
	Type       SelectionType
	Flags      Flag
}
