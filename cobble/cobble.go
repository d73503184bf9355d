// Package cobble implements the [Plugin] for side-loaded local archives
// ("install ./some.stone"): an in-memory map from pkgID to candidate, with
// no backing KV store (spec.md §4.4). Grounded on
// internal/vulnstore/jsonblob/jsonblob.go's guarded-map Store shape, reused
// here to hold stone-parsed candidates instead of JSON-decoded entries.
package cobble

import (
	"context"
	"os"
	"sync"

	"github.com/serpent-os/moss"
	"github.com/serpent-os/moss/meta"
	"github.com/serpent-os/moss/provider"
	"github.com/serpent-os/moss/registry"
	"github.com/serpent-os/moss/stone"
)

// candidate is one loaded local archive: its catalog entry plus the file
// path it was parsed from, so FetchItem can hand back a local copy instead
// of enqueuing a network fetch.
type candidate struct {
	entry meta.MetaEntry
	path  string
}

// Plugin is the in-memory [registry.Plugin] backing locally side-loaded
// stone archives.
type Plugin struct {
	mu         sync.RWMutex
	candidates map[string]candidate
}

var _ registry.Plugin = (*Plugin)(nil)

// New returns an empty Plugin.
func New() *Plugin {
	return &Plugin{candidates: make(map[string]candidate)}
}

func (p *Plugin) Name() string { return "cobble" }

// Load parses the stone archive at path, extracts its MetaPayload, and
// registers the resulting candidate. Every prior CobbleDB.load in the
// source was a no-op stub (spec.md §9 Open Questions); this is the
// concrete implementation the spec's §4.4 behavior description calls for.
func (p *Plugin) Load(ctx context.Context, path string) (pkgID string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", &moss.Error{Op: "cobble.Load", Kind: moss.ErrIO, Inner: err}
	}
	defer f.Close()

	r, err := stone.NewReader(f)
	if err != nil {
		return "", &moss.Error{Op: "cobble.Load", Kind: moss.ErrCorrupt, Inner: err}
	}
	defer r.Close()

	for r.Next() {
		mp, ok := r.Payload().(*stone.MetaPayload)
		if !ok {
			continue
		}
		entry, err := meta.MaterializeEntry(mp)
		if err != nil {
			return "", &moss.Error{Op: "cobble.Load", Kind: moss.ErrCorrupt, Inner: err}
		}

		p.mu.Lock()
		p.candidates[entry.PkgID] = candidate{entry: entry, path: path}
		p.mu.Unlock()
		return entry.PkgID, nil
	}
	if err := r.Err(); err != nil {
		return "", &moss.Error{Op: "cobble.Load", Kind: moss.ErrCorrupt, Inner: err}
	}
	return "", &moss.Error{Op: "cobble.Load", Kind: moss.ErrMalformedEntry, Message: "no Meta payload in archive"}
}

func (p *Plugin) QueryProviders(ctx context.Context, kind provider.Kind, matcher string, flags registry.ItemFlags) ([]registry.RegistryItem, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var out []registry.RegistryItem
	for pkgID, c := range p.candidates {
		for _, prov := range c.entry.Providers {
			if prov.Kind == kind && prov.Identifier == matcher {
				out = append(out, registry.RegistryItem{PkgID: pkgID, Plugin: p, Flags: registry.Available})
				break
			}
		}
		if kind == provider.PackageName && c.entry.Name == matcher {
			out = append(out, registry.RegistryItem{PkgID: pkgID, Plugin: p, Flags: registry.Available})
		}
	}
	return out, nil
}

func (p *Plugin) QueryID(ctx context.Context, pkgID string) (registry.RegistryItem, bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if _, ok := p.candidates[pkgID]; !ok {
		return registry.RegistryItem{}, false, nil
	}
	return registry.RegistryItem{PkgID: pkgID, Plugin: p, Flags: registry.Available}, true, nil
}

func (p *Plugin) Dependencies(ctx context.Context, pkgID string) ([]provider.Dependency, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.candidates[pkgID].entry.Dependencies, nil
}

func (p *Plugin) Providers(ctx context.Context, pkgID string) ([]provider.Provider, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.candidates[pkgID].entry.Providers, nil
}

func (p *Plugin) Info(ctx context.Context, pkgID string) (meta.ItemInfo, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.candidates[pkgID]
	if !ok {
		return meta.ItemInfo{}, nil
	}
	return meta.ItemInfo{
		Name:          c.entry.Name,
		Summary:       c.entry.Summary,
		Description:   c.entry.Description,
		SourceRelease: c.entry.SourceRelease,
		Version:       c.entry.VersionIdentifier,
		Homepage:      c.entry.Homepage,
		Licenses:      c.entry.Licenses,
	}, nil
}

func (p *Plugin) List(ctx context.Context, flags registry.ItemFlags) ([]registry.RegistryItem, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]registry.RegistryItem, 0, len(p.candidates))
	for pkgID := range p.candidates {
		out = append(out, registry.RegistryItem{PkgID: pkgID, Plugin: p, Flags: registry.Available})
	}
	return out, nil
}

// FetchItem is a no-op: a cobbled candidate already lives on local disk, so
// there's nothing to enqueue. The caller copies from the recorded path.
func (p *Plugin) FetchItem(ctx context.Context, fc registry.FetchContext, pkgID string) error {
	return nil
}

// Path returns the local file pkgID was loaded from, or ok==false if
// pkgID is unknown.
func (p *Plugin) Path(pkgID string) (path string, ok bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.candidates[pkgID]
	return c.path, ok
}

func (p *Plugin) Close() error { return nil }
