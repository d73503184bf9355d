// Package provider implements the capability sum type shared by MetaEntry's
// providers and dependencies (spec.md §3): a closed set of capability kinds
// with a canonical string form, replacing the source's stringly-typed
// ProviderType integers at API boundaries (spec.md §9 REDESIGN FLAGS).
package provider

import (
	"fmt"
	"strings"
)

// Kind is the fixed enum of capability types a package can provide or
// depend on.
type Kind uint8

const (
	// PackageName is the implicit provider every MetaEntry carries for its
	// own name, and the most common explicit Kind besides.
	PackageName Kind = iota
	SharedLibrary
	PkgConfig
	Interpreter
	CMake
	BinaryName
	SystemBinary
	PkgConfig32
)

// kindNames is indexed by Kind and gives the prefix used in String()/Parse,
// except PackageName which stringifies as a bare identifier.
var kindNames = [...]string{
	PackageName:   "name",
	SharedLibrary: "soname",
	PkgConfig:     "pkgconfig",
	Interpreter:   "interpreter",
	CMake:         "cmake",
	BinaryName:    "binary",
	SystemBinary:  "sysbinary",
	PkgConfig32:   "pkgconfig32",
}

// String returns the enum's wire/display name, e.g. "pkgconfig".
func (k Kind) String() string {
	if int(k) < len(kindNames) && kindNames[k] != "" {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// ParseKind inverts [Kind.String].
func ParseKind(s string) (Kind, bool) {
	for k, name := range kindNames {
		if name == s {
			return Kind(k), true
		}
	}
	return 0, false
}

// Provider is a capability a package offers, e.g. (PkgConfig, "foo") or
// (PackageName, "bash"). A [Dependency] has the identical shape and
// represents "requires something that provides this".
type Provider struct {
	Kind       Kind
	Identifier string
}

// Dependency is an alias of Provider: spec.md §3 gives it the same shape
// with "requires" semantics instead of "offers" semantics.
type Dependency = Provider

// New builds a Provider, validating that identifier is non-empty.
func New(kind Kind, identifier string) (Provider, error) {
	if identifier == "" {
		return Provider{}, fmt.Errorf("provider: empty identifier for kind %s", kind)
	}
	return Provider{Kind: kind, Identifier: identifier}, nil
}

// String renders the canonical toString form used as the ProviderMap
// primary key: "type(identifier)", except PackageName which stringifies as
// the plain identifier (spec.md §3).
func (p Provider) String() string {
	if p.Kind == PackageName {
		return p.Identifier
	}
	return fmt.Sprintf("%s(%s)", p.Kind, p.Identifier)
}

// Parse inverts [Provider.String]. A bare string with no "kind(...)"
// wrapper parses as a PackageName provider.
func Parse(s string) (Provider, error) {
	open := strings.IndexByte(s, '(')
	if open < 0 {
		if s == "" {
			return Provider{}, fmt.Errorf("provider: empty string")
		}
		return Provider{Kind: PackageName, Identifier: s}, nil
	}
	if !strings.HasSuffix(s, ")") {
		return Provider{}, fmt.Errorf("provider: malformed %q: missing closing paren", s)
	}
	kind, ok := ParseKind(s[:open])
	if !ok {
		return Provider{}, fmt.Errorf("provider: unknown kind in %q", s)
	}
	ident := s[open+1 : len(s)-1]
	if ident == "" {
		return Provider{}, fmt.Errorf("provider: empty identifier in %q", s)
	}
	return Provider{Kind: kind, Identifier: ident}, nil
}
