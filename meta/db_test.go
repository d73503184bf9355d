package meta

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/serpent-os/moss/provider"
	"github.com/serpent-os/moss/stone"
)

// testPackage describes one package build to bake into a fixture index.
type testPackage struct {
	name, version string
	release       uint64
	providers     []provider.Provider
}

// writeIndex builds a minimal stone repository index containing pkgs and
// writes it to dir/stone.index, returning its path.
func writeIndex(t *testing.T, dir string, pkgs []testPackage) string {
	t.Helper()
	var archive bytes.Buffer
	archive.Write([]byte{'m', 'o', 's', 1})
	var hdr [6]byte
	binary.BigEndian.PutUint16(hdr[0:2], 1) // version
	hdr[2] = byte(stone.Repository)
	binary.BigEndian.PutUint16(hdr[3:5], uint16(len(pkgs)))
	archive.Write(hdr[:])

	for _, p := range pkgs {
		var body bytes.Buffer
		writeStringRecord(&body, stone.TagName, p.name)
		writeStringRecord(&body, stone.TagVersion, p.version)
		writeUint64Record(&body, stone.TagRelease, p.release)
		writeUint64Record(&body, stone.TagBuildRelease, 1)
		writeStringRecord(&body, stone.TagArchitecture, "x86_64")
		n := uint32(5)
		for _, prov := range p.providers {
			writeProviderRecord(&body, stone.TagProvides, prov)
			n++
		}

		var ph [30]byte
		ph[0] = byte(stone.Meta)
		ph[1] = byte(stone.NoCompression)
		binary.BigEndian.PutUint32(ph[2:6], n)
		binary.BigEndian.PutUint64(ph[6:14], uint64(body.Len()))
		binary.BigEndian.PutUint64(ph[14:22], uint64(body.Len()))
		archive.Write(ph[:])
		archive.Write(body.Bytes())
	}

	path := filepath.Join(dir, "stone.index")
	if err := os.WriteFile(path, archive.Bytes(), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func writeStringRecord(b *bytes.Buffer, tag stone.Tag, s string) {
	var h [7]byte
	binary.BigEndian.PutUint16(h[0:2], uint16(tag))
	h[2] = byte(stone.TypeString)
	binary.BigEndian.PutUint32(h[3:7], uint32(len(s)))
	b.Write(h[:])
	b.WriteString(s)
}

func writeUint64Record(b *bytes.Buffer, tag stone.Tag, v uint64) {
	var h [7]byte
	binary.BigEndian.PutUint16(h[0:2], uint16(tag))
	h[2] = byte(stone.TypeUint64)
	binary.BigEndian.PutUint32(h[3:7], 8)
	b.Write(h[:])
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	b.Write(tmp[:])
}

func writeProviderRecord(b *bytes.Buffer, tag stone.Tag, p provider.Provider) {
	var h [7]byte
	binary.BigEndian.PutUint16(h[0:2], uint16(tag))
	h[2] = byte(stone.TypeProvider)
	binary.BigEndian.PutUint32(h[3:7], uint32(3+len(p.Identifier)))
	b.Write(h[:])
	b.WriteByte(byte(p.Kind))
	var idLen [2]byte
	binary.BigEndian.PutUint16(idLen[:], uint16(len(p.Identifier)))
	b.Write(idLen[:])
	b.WriteString(p.Identifier)
}

func openTestDB(t *testing.T) *DB {
	t.Helper()
	dir := t.TempDir()
	db, err := Connect(context.Background(), filepath.Join(dir, "meta.db"), ReadWrite)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// Scenario #1 from spec.md §8.
func TestLoadFromIndexAndQuery(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	dir := t.TempDir()

	path := writeIndex(t, dir, []testPackage{
		{name: "A", version: "1.0", release: 1},
		{name: "B", version: "2.0", release: 1},
	})
	if err := db.LoadFromIndex(ctx, path); err != nil {
		t.Fatalf("LoadFromIndex: %v", err)
	}

	entries, err := db.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}

	ids, err := db.ByProvider(ctx, provider.PackageName, "A")
	if err != nil {
		t.Fatalf("ByProvider: %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("got %d pkgIDs for A, want 1", len(ids))
	}
}

// Scenario #2: reload wipes prior state.
func TestLoadFromIndexIsAtomicReplace(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	dir := t.TempDir()

	p1 := writeIndex(t, dir, []testPackage{{name: "A", version: "1.0", release: 1}, {name: "B", version: "2.0", release: 1}})
	if err := db.LoadFromIndex(ctx, p1); err != nil {
		t.Fatalf("LoadFromIndex #1: %v", err)
	}

	p2 := writeIndex(t, dir, []testPackage{{name: "A", version: "1.1", release: 2}})
	if err := db.LoadFromIndex(ctx, p2); err != nil {
		t.Fatalf("LoadFromIndex #2: %v", err)
	}

	entries, err := db.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 || entries[0].VersionIdentifier != "1.1" {
		t.Fatalf("got %+v, want a single A@1.1 entry", entries)
	}

	ids, err := db.ByProvider(ctx, provider.PackageName, "B")
	if err != nil {
		t.Fatalf("ByProvider: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("got %v, want no results for B after reload", ids)
	}
}

// A reload that fails partway through must leave the catalog empty, not
// reverted to its pre-reload contents (spec.md §4.5).
func TestLoadFromIndexFailureLeavesCatalogEmpty(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	dir := t.TempDir()

	good := writeIndex(t, dir, []testPackage{{name: "A", version: "1.0", release: 1}})
	if err := db.LoadFromIndex(ctx, good); err != nil {
		t.Fatalf("LoadFromIndex #1: %v", err)
	}

	bad := writeTruncatedIndex(t, dir, []testPackage{{name: "B", version: "2.0", release: 1}})
	if err := db.LoadFromIndex(ctx, bad); err == nil {
		t.Fatal("expected LoadFromIndex to fail on a truncated archive")
	}

	entries, err := db.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("got %d entries after a failed reload, want 0", len(entries))
	}
}

// writeTruncatedIndex builds a valid index via writeIndex, then truncates
// the file so a payload body is shorter than its declared storedSize,
// forcing [stone.Reader] to fail mid-payload.
func writeTruncatedIndex(t *testing.T, dir string, pkgs []testPackage) string {
	t.Helper()
	full := writeIndex(t, dir, pkgs)
	data, err := os.ReadFile(full)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(data) < 5 {
		t.Fatalf("fixture archive too short to truncate: %d bytes", len(data))
	}
	path := filepath.Join(dir, "truncated.index")
	if err := os.WriteFile(path, data[:len(data)-5], 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

// Scenario #3: explicit shared-library provider round-trips.
func TestByProviderSharedLibrary(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	dir := t.TempDir()

	path := writeIndex(t, dir, []testPackage{
		{
			name: "libfoo", version: "1.0", release: 1,
			providers: []provider.Provider{{Kind: provider.SharedLibrary, Identifier: "libfoo.so.1"}},
		},
	})
	if err := db.LoadFromIndex(ctx, path); err != nil {
		t.Fatalf("LoadFromIndex: %v", err)
	}

	ids, err := db.ByProvider(ctx, provider.SharedLibrary, "libfoo.so.1")
	if err != nil {
		t.Fatalf("ByProvider: %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("got %d pkgIDs, want 1", len(ids))
	}

	entries, err := db.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []provider.Provider{{Kind: provider.SharedLibrary, Identifier: "libfoo.so.1"}}
	if diff := cmp.Diff(want, entries[0].Providers); diff != "" {
		t.Fatalf("Providers mismatch (-want +got):\n%s", diff)
	}
}

func TestInfoMissingIsEmpty(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	info, err := db.Info(ctx, "does-not-exist")
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if diff := cmp.Diff(ItemInfo{}, info); diff != "" {
		t.Fatalf("Info mismatch (-want +got):\n%s", diff)
	}
}

func TestConnectReadOnlyMissingFails(t *testing.T) {
	dir := t.TempDir()
	_, err := Connect(context.Background(), filepath.Join(dir, "nope.db"), ReadOnly)
	if err == nil {
		t.Fatal("expected error opening missing DB read-only")
	}
}
