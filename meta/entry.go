// Package meta implements the MetaDB catalog: a transactional, KV-backed
// index of available packages with a secondary provider index enabling
// capability-based lookup (spec.md §4.2).
package meta

import (
	"encoding/json"
	"fmt"

	"github.com/package-url/packageurl-go"

	"github.com/serpent-os/moss/provider"
)

// MetaEntry is the catalog row for one package build (spec.md §3).
type MetaEntry struct {
	PkgID             string
	Name              string
	VersionIdentifier string
	SourceRelease     int64
	BuildRelease      int64
	Architecture      string

	Summary     string
	Description string
	Homepage    string

	SourceID string

	Licenses     []string
	Dependencies []provider.Dependency
	Providers    []provider.Provider

	// Remote-fetch hints; zero-valued for installed-local entries.
	URI          string
	Hash         string
	DownloadSize uint64
}

// encode serializes an entry for storage in the entries table.
func (e MetaEntry) encode() ([]byte, error) {
	return json.Marshal(e)
}

// decodeEntry inverts [MetaEntry.encode].
func decodeEntry(b []byte) (MetaEntry, error) {
	var e MetaEntry
	if err := json.Unmarshal(b, &e); err != nil {
		return MetaEntry{}, fmt.Errorf("meta: decode entry: %w", err)
	}
	return e, nil
}

// implicitProviders returns E.Providers plus the implicit (PackageName,
// E.Name) provider every entry carries (spec.md §3 invariant).
func (e MetaEntry) implicitProviders() []provider.Provider {
	out := make([]provider.Provider, 0, len(e.Providers)+1)
	out = append(out, provider.Provider{Kind: provider.PackageName, Identifier: e.Name})
	out = append(out, e.Providers...)
	return out
}

// ItemInfo is the human-facing projection of a MetaEntry returned by
// [DB.Info] (spec.md §4.2).
type ItemInfo struct {
	Name          string
	Summary       string
	Description   string
	SourceRelease int64
	Version       string
	Homepage      string
	Licenses      []string
}

func infoFromEntry(e MetaEntry) ItemInfo {
	return ItemInfo{
		Name:          e.Name,
		Summary:       e.Summary,
		Description:   e.Description,
		SourceRelease: e.SourceRelease,
		Version:       e.VersionIdentifier,
		Homepage:      e.Homepage,
		Licenses:      e.Licenses,
	}
}

// PackageURL derives a best-effort package URL for interop with external
// tooling, per SPEC_FULL.md's packageurl-go wiring. It returns the empty
// string if the entry doesn't carry enough information to build one.
func (e MetaEntry) PackageURL() string {
	if e.Name == "" {
		return ""
	}
	p := packageurl.PackageURL{
		Type:    "generic",
		Name:    e.Name,
		Version: e.VersionIdentifier,
		Qualifiers: packageurl.QualifiersFromMap(map[string]string{
			"arch": e.Architecture,
		}),
	}
	return p.ToString()
}
