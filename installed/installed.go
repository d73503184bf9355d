// Package installed implements the [Plugin] reflecting currently-installed
// packages: a [meta.DB] catalog whose visible entries are restricted to
// whatever the active [state.DB] state selects (spec.md §4.4). Grounded on
// libindex/libindex.go's pattern of wrapping a store behind a narrow query
// surface scoped to "what's currently present."
package installed

import (
	"context"

	"github.com/serpent-os/moss/meta"
	"github.com/serpent-os/moss/provider"
	"github.com/serpent-os/moss/registry"
	"github.com/serpent-os/moss/state"
)

// Plugin composes a [meta.DB] (the installed-package catalog) and a
// [state.DB] (the selection history); its query results track whichever
// pkgIDs the active state currently selects.
type Plugin struct {
	meta  *meta.DB
	state *state.DB
}

var _ registry.Plugin = (*Plugin)(nil)

// Open wraps an already-connected meta/state DB pair.
func Open(metaDB *meta.DB, stateDB *state.DB) *Plugin {
	return &Plugin{meta: metaDB, state: stateDB}
}

func (p *Plugin) Name() string { return "installed" }

// active returns the set of pkgIDs selected by the active state. An empty
// set (not an error) is returned when the state log is empty.
func (p *Plugin) active(ctx context.Context) (map[string]struct{}, error) {
	out := make(map[string]struct{})
	id, ok, err := p.state.ActiveState(ctx)
	if err != nil || !ok {
		return out, err
	}
	for e, err := range p.state.Entries(ctx, id) {
		if err != nil {
			return nil, err
		}
		out[e.Identifier] = struct{}{}
	}
	return out, nil
}

func (p *Plugin) QueryProviders(ctx context.Context, kind provider.Kind, matcher string, flags registry.ItemFlags) ([]registry.RegistryItem, error) {
	active, err := p.active(ctx)
	if err != nil {
		return nil, err
	}
	ids, err := p.meta.ByProvider(ctx, kind, matcher)
	if err != nil {
		return nil, err
	}
	out := make([]registry.RegistryItem, 0, len(ids))
	for _, id := range ids {
		if _, ok := active[id]; !ok {
			continue
		}
		out = append(out, registry.RegistryItem{PkgID: id, Plugin: p, Flags: registry.Installed})
	}
	return out, nil
}

func (p *Plugin) QueryID(ctx context.Context, pkgID string) (registry.RegistryItem, bool, error) {
	active, err := p.active(ctx)
	if err != nil {
		return registry.RegistryItem{}, false, err
	}
	if _, ok := active[pkgID]; !ok {
		return registry.RegistryItem{}, false, nil
	}
	has, err := p.meta.HasID(ctx, pkgID)
	if err != nil || !has {
		return registry.RegistryItem{}, false, err
	}
	return registry.RegistryItem{PkgID: pkgID, Plugin: p, Flags: registry.Installed}, true, nil
}

func (p *Plugin) Dependencies(ctx context.Context, pkgID string) ([]provider.Dependency, error) {
	e, ok, err := p.meta.Entry(ctx, pkgID)
	if err != nil || !ok {
		return nil, err
	}
	return e.Dependencies, nil
}

func (p *Plugin) Providers(ctx context.Context, pkgID string) ([]provider.Provider, error) {
	e, ok, err := p.meta.Entry(ctx, pkgID)
	if err != nil || !ok {
		return nil, err
	}
	return e.Providers, nil
}

func (p *Plugin) Info(ctx context.Context, pkgID string) (meta.ItemInfo, error) {
	return p.meta.Info(ctx, pkgID)
}

func (p *Plugin) List(ctx context.Context, flags registry.ItemFlags) ([]registry.RegistryItem, error) {
	active, err := p.active(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := p.meta.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]registry.RegistryItem, 0, len(active))
	for _, e := range entries {
		if _, ok := active[e.PkgID]; !ok {
			continue
		}
		out = append(out, registry.RegistryItem{PkgID: e.PkgID, Plugin: p, Flags: registry.Installed})
	}
	return out, nil
}

// FetchItem is a no-op: an installed package is already materialized on
// disk by definition.
func (p *Plugin) FetchItem(ctx context.Context, fc registry.FetchContext, pkgID string) error {
	return nil
}

// Close closes both underlying DBs, returning the first error encountered.
func (p *Plugin) Close() error {
	merr := p.meta.Close()
	serr := p.state.Close()
	if merr != nil {
		return merr
	}
	return serr
}
