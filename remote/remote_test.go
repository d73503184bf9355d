package remote

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/serpent-os/moss"
	"github.com/serpent-os/moss/installation"
	"github.com/serpent-os/moss/provider"
	"github.com/serpent-os/moss/registry"
	"github.com/serpent-os/moss/stone"
)

type fetchPkg struct {
	name, version string
	release       uint64
	uri, hash     string
	size          uint64
}

// buildIndex writes a minimal stone repository index archive containing
// pkgs to dir/name and returns its path.
func buildIndex(t *testing.T, dir, name string, pkgs []fetchPkg) string {
	t.Helper()
	var archive bytes.Buffer
	archive.Write([]byte{'m', 'o', 's', 1})
	var hdr [6]byte
	binary.BigEndian.PutUint16(hdr[0:2], 1)
	hdr[2] = byte(stone.Repository)
	binary.BigEndian.PutUint16(hdr[3:5], uint16(len(pkgs)))
	archive.Write(hdr[:])

	for _, p := range pkgs {
		var body bytes.Buffer
		writeString(&body, stone.TagName, p.name)
		writeString(&body, stone.TagVersion, p.version)
		writeUint64(&body, stone.TagRelease, p.release)
		writeUint64(&body, stone.TagBuildRelease, 1)
		writeString(&body, stone.TagArchitecture, "x86_64")
		n := uint32(5)
		if p.uri != "" {
			writeString(&body, stone.TagPackageURI, p.uri)
			n++
		}
		if p.hash != "" {
			writeString(&body, stone.TagPackageHash, p.hash)
			n++
		}
		if p.size != 0 {
			writeUint64(&body, stone.TagPackageSize, p.size)
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

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, archive.Bytes(), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func writeString(buf *bytes.Buffer, tag stone.Tag, s string) {
	var hdr [7]byte
	binary.BigEndian.PutUint16(hdr[0:2], uint16(tag))
	hdr[2] = byte(stone.TypeString)
	binary.BigEndian.PutUint32(hdr[3:7], uint32(len(s)))
	buf.Write(hdr[:])
	buf.WriteString(s)
}

func writeUint64(buf *bytes.Buffer, tag stone.Tag, v uint64) {
	var hdr [7]byte
	binary.BigEndian.PutUint16(hdr[0:2], uint16(tag))
	hdr[2] = byte(stone.TypeUint64)
	binary.BigEndian.PutUint32(hdr[3:7], 8)
	buf.Write(hdr[:])
	var val [8]byte
	binary.BigEndian.PutUint64(val[:], v)
	buf.Write(val[:])
}

// syncFetchContext runs its callback immediately, as if the fetch had
// already completed, so tests don't need a real transport.
type syncFetchContext struct {
	last registry.Fetchable
	path string // local file to hand the callback instead of Destination
	err  error
}

func (f *syncFetchContext) Enqueue(fb registry.Fetchable) error {
	f.last = fb
	if fb.Callback != nil {
		fb.Callback(f.path, f.err)
	}
	return nil
}

type fakePool struct{ prefix string }

func (p fakePool) StagingPath(hash string) string { return p.prefix + "/staging/" + hash }
func (p fakePool) FinalPath(hash string) string   { return p.prefix + "/final/" + hash }

func TestFetchItemDerivesPkgURI(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	indexDir := t.TempDir()
	buildIndex(t, indexDir, "stone.index", []fetchPkg{
		{name: "foo", version: "1.0", release: 1, uri: "stone/foo.stone", hash: "abc", size: 1024},
	})

	inst := installation.New(root)
	p, err := Open(ctx, inst, "test", "https://r/stone.index", fakePool{prefix: "cache"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p.Close()

	fc := &syncFetchContext{path: filepath.Join(indexDir, "stone.index")}
	if err := p.Refresh(ctx, fc); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	items, err := p.QueryProviders(ctx, provider.PackageName, "foo", registry.Available)
	if err != nil || len(items) != 1 {
		t.Fatalf("QueryProviders: %v, items=%v", err, items)
	}
	pkgID := items[0].PkgID

	fc2 := &syncFetchContext{}
	if err := p.FetchItem(ctx, fc2, pkgID); err != nil {
		t.Fatalf("FetchItem: %v", err)
	}
	if fc2.last.URI != "https://r/stone/foo.stone" {
		t.Fatalf("got URI %q, want %q", fc2.last.URI, "https://r/stone/foo.stone")
	}
	if fc2.last.Destination != "cache/staging/abc" {
		t.Fatalf("got destination %q, want %q", fc2.last.Destination, "cache/staging/abc")
	}
	if fc2.last.ExpectedSize != 1024 {
		t.Fatalf("got size %d, want 1024", fc2.last.ExpectedSize)
	}
}

func TestFetchItemRejectsMalformedEntry(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	indexDir := t.TempDir()
	buildIndex(t, indexDir, "stone.index", []fetchPkg{
		{name: "foo", version: "1.0", release: 1, uri: "stone/foo.stone"}, // no hash, no size
	})

	inst := installation.New(root)
	p, err := Open(ctx, inst, "test", "https://r/stone.index", nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p.Close()

	fc := &syncFetchContext{path: filepath.Join(indexDir, "stone.index")}
	if err := p.Refresh(ctx, fc); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	items, err := p.QueryProviders(ctx, provider.PackageName, "foo", registry.Available)
	if err != nil || len(items) != 1 {
		t.Fatalf("QueryProviders: %v, items=%v", err, items)
	}

	err = p.FetchItem(ctx, &syncFetchContext{}, items[0].PkgID)
	var me *moss.Error
	if !errors.As(err, &me) || me.Kind != moss.ErrMalformedEntry {
		t.Fatalf("expected MalformedEntry, got %v", err)
	}
}

func TestRefreshIsUnchangedOnSecondCall(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	indexDir := t.TempDir()
	buildIndex(t, indexDir, "stone.index", []fetchPkg{
		{name: "foo", version: "1.0", release: 1},
	})

	inst := installation.New(root)
	p, err := Open(ctx, inst, "test", "https://r/stone.index", nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p.Close()

	fc := &syncFetchContext{path: filepath.Join(indexDir, "stone.index")}
	if err := p.Refresh(ctx, fc); err != nil {
		t.Fatalf("Refresh #1: %v", err)
	}
	if err := p.Refresh(ctx, fc); err != nil {
		t.Fatalf("Refresh #2: %v", err)
	}

	items, err := p.QueryProviders(ctx, provider.PackageName, "foo", registry.Available)
	if err != nil || len(items) != 1 {
		t.Fatalf("QueryProviders after repeat refresh: %v, items=%v", err, items)
	}
}
