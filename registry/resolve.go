package registry

import (
	"context"
	"sort"

	"github.com/Masterminds/semver"
)

// Resolve queries ByName and dedups the result by pkgID, keeping one
// [RegistryItem] per pkgID chosen by preference order: a plugin named
// earlier in preference wins over one named later, and a plugin not
// listed in preference at all loses to every plugin that is (spec.md §4.4:
// "downstream resolvers may dedupe by pkgID with policy"). This is kept
// separate from ByName itself, which must not dedupe. Within the same
// preference rank, the item with the newer semver version wins.
func (r *Registry) Resolve(ctx context.Context, name string, preference []string) ([]RegistryItem, error) {
	items, err := r.ByName(ctx, name)
	if err != nil {
		return nil, err
	}

	rank := make(map[string]int, len(preference))
	for i, n := range preference {
		rank[n] = i
	}
	rankOf := func(item RegistryItem) int {
		if i, ok := rank[item.Plugin.Name()]; ok {
			return i
		}
		return len(preference)
	}

	best := make(map[string]RegistryItem, len(items))
	for _, item := range items {
		cur, ok := best[item.PkgID]
		if !ok {
			best[item.PkgID] = item
			continue
		}
		switch ri, ci := rankOf(item), rankOf(cur); {
		case ri < ci:
			best[item.PkgID] = item
		case ri == ci && newerVersion(ctx, item, cur):
			best[item.PkgID] = item
		}
	}

	out := make([]RegistryItem, 0, len(best))
	for _, item := range best {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PkgID < out[j].PkgID })
	return out, nil
}

// newerVersion reports whether a's VersionIdentifier outranks b's under
// semver ordering. Plugins whose Info errors, or whose version string
// doesn't parse as semver, never outrank the incumbent — this is a
// best-effort tie-break, not a correctness requirement.
func newerVersion(ctx context.Context, a, b RegistryItem) bool {
	ai, err := a.Plugin.Info(ctx, a.PkgID)
	if err != nil {
		return false
	}
	bi, err := b.Plugin.Info(ctx, b.PkgID)
	if err != nil {
		return false
	}
	av, err := semver.NewVersion(ai.Version)
	if err != nil {
		return false
	}
	bv, err := semver.NewVersion(bi.Version)
	if err != nil {
		return false
	}
	return av.Compare(bv) > 0
}
