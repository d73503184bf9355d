// Package installation carries the single runtime input this module needs:
// the filesystem root the on-disk layout in spec.md §6 is rooted at.
package installation

import "path/filepath"

// Installation describes a moss root and the layout of the metadata/state
// subsystem beneath it.
//
// It's passed by value or reference through constructors rather than read
// from a package-level global, per the REDESIGN FLAGS note on the source's
// global context singleton.
type Installation struct {
	// Root is the filesystem root. Defaults to "/" when zero-valued; use
	// [New] to get that default applied.
	Root string
}

// New returns an Installation rooted at root. An empty root means "/".
func New(root string) Installation {
	if root == "" {
		root = "/"
	}
	return Installation{Root: root}
}

// MetaDBPath is the installed-package catalog: <root>/var/lib/moss/db/meta.db.
func (i Installation) MetaDBPath() string {
	return filepath.Join(i.Root, "var", "lib", "moss", "db", "meta.db")
}

// StateDBPath is the state log: <root>/var/lib/moss/db/state.db.
func (i Installation) StateDBPath() string {
	return filepath.Join(i.Root, "var", "lib", "moss", "db", "state.db")
}

// RemoteDBPath is a per-remote MetaDB: <root>/var/lib/moss/remotes/<remoteID>/db.
func (i Installation) RemoteDBPath(remoteID string) string {
	return filepath.Join(i.Root, "var", "lib", "moss", "remotes", remoteID, "db")
}

// RemoteCachePath is the last-fetched index file for a remote:
// <root>/var/lib/moss/remotes/<remoteID>/cache/stone.index.
func (i Installation) RemoteCachePath(remoteID string) string {
	return filepath.Join(i.Root, "var", "lib", "moss", "remotes", remoteID, "cache", "stone.index")
}
