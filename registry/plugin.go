package registry

import (
	"context"

	"github.com/serpent-os/moss/meta"
	"github.com/serpent-os/moss/provider"
)

// ItemFlags describes the state of a [RegistryItem] relative to the plugin
// that produced it.
type ItemFlags uint8

const (
	Available ItemFlags = 1 << iota
	Installed
)

// Has reports whether all bits in want are set.
func (f ItemFlags) Has(want ItemFlags) bool { return f&want == want }

// RegistryItem is the transient view a query returns: a pkgID plus the
// plugin that can act on it (spec.md §3). The item borrows the plugin; the
// plugin must outlive any item handed out by it.
type RegistryItem struct {
	PkgID  string
	Plugin Plugin
	Flags  ItemFlags
}

// Plugin is the capability interface a package source implements to
// participate in a [Registry] (spec.md §4.4), replacing the source's
// inheritance-from-base-class plugin model with a trait object held behind
// an ordered slice (spec.md §9 REDESIGN FLAGS).
type Plugin interface {
	// Name identifies the plugin, e.g. a remote's configured ID.
	Name() string

	// QueryProviders resolves candidates offering (kind, matcher).
	QueryProviders(ctx context.Context, kind provider.Kind, matcher string, flags ItemFlags) ([]RegistryItem, error)
	// QueryID resolves a single pkgID, ok==false if absent.
	QueryID(ctx context.Context, pkgID string) (RegistryItem, bool, error)
	// Dependencies lists what pkgID requires.
	Dependencies(ctx context.Context, pkgID string) ([]provider.Dependency, error)
	// Providers lists what pkgID offers.
	Providers(ctx context.Context, pkgID string) ([]provider.Provider, error)
	// Info returns a human-facing projection of pkgID, empty if absent.
	Info(ctx context.Context, pkgID string) (meta.ItemInfo, error)
	// List returns every item the plugin holds. The plugins in this module
	// do not filter on flags.
	List(ctx context.Context, flags ItemFlags) ([]RegistryItem, error)
	// FetchItem enqueues the work needed to materialize pkgID locally.
	FetchItem(ctx context.Context, fc FetchContext, pkgID string) error
	// Close releases any resources the plugin holds. Close is idempotent.
	Close() error
}

// Fetchable is a single unit of fetch work: retrieve uri and deliver it to
// destination, invoking Callback on the controller thread once the transfer
// completes (spec.md §5: "the callback is the only place a DB write may
// occur in response to network I/O").
type Fetchable struct {
	URI          string
	Destination  string
	ExpectedSize uint64
	Callback     func(localPath string, err error)
}

// FetchContext is the abstract enqueue sink for fetch work (spec.md §1):
// an out-of-scope HTTP/cache layer that eventually produces a local file.
// Plugins depend only on this interface, never on a concrete transport.
type FetchContext interface {
	Enqueue(Fetchable) error
}

// CachePool is the abstract content-addressed blob pool (spec.md §1):
// staging and final paths are keyed by hash, with rename-into-place left to
// the out-of-scope cache layer.
type CachePool interface {
	StagingPath(hash string) string
	FinalPath(hash string) string
}
