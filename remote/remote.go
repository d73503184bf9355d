// Package remote implements the [Plugin] backing a federated repository:
// a [meta.DB] kept in sync with a remote stone.index, grounded on
// internal/updater/controller.go's fingerprint-gated fetch/parse/store
// cycle (spec.md §4.4).
package remote

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/serpent-os/moss"
	"github.com/serpent-os/moss/installation"
	"github.com/serpent-os/moss/meta"
	"github.com/serpent-os/moss/provider"
	"github.com/serpent-os/moss/registry"
)

var refreshCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "moss",
		Subsystem: "remote",
		Name:      "refresh_total",
		Help:      "Total number of RemotePlugin refresh attempts, by outcome.",
	},
	[]string{"outcome"},
)

// Plugin is a [registry.Plugin] wrapping a [meta.DB] keyed by a remote ID
// and a stone.index URI (spec.md §4.4).
type Plugin struct {
	id  string
	uri string

	dbPath    string
	cachePath string
	pool      registry.CachePool

	mu sync.Mutex
	db *meta.DB

	lastFingerprint string
}

var _ registry.Plugin = (*Plugin)(nil)

// Open connects the remote's MetaDB, creating it if absent. pool is where
// FetchItem stages downloaded package archives; it may be nil if the
// caller only intends to call Refresh.
func Open(ctx context.Context, inst installation.Installation, id, uri string, pool registry.CachePool) (*Plugin, error) {
	dbPath := inst.RemoteDBPath(id)
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, &moss.Error{Op: "remote.Open", Kind: moss.ErrIO, Inner: err}
	}
	db, err := meta.Connect(ctx, dbPath, meta.ReadWrite)
	if err != nil {
		return nil, err
	}
	return &Plugin{
		id:        id,
		uri:       uri,
		dbPath:    dbPath,
		cachePath: inst.RemoteCachePath(id),
		pool:      pool,
		db:        db,
	}, nil
}

func (p *Plugin) Name() string { return p.id }

// Refresh enqueues a fetch of the remote's stone.index. The fetch
// completion callback runs on the controller thread (spec.md §5) and, if
// the fetched contents changed since the last refresh, closes and reopens
// the MetaDB and feeds it through [meta.DB.LoadFromIndex].
//
// The fingerprint check mirrors driveUpdater's Unchanged short-circuit: an
// unchanged index is not an error, just a no-op.
func (p *Plugin) Refresh(ctx context.Context, fc registry.FetchContext) error {
	return fc.Enqueue(registry.Fetchable{
		URI:         p.uri,
		Destination: p.cachePath,
		Callback: func(localPath string, err error) {
			if err != nil {
				refreshCounter.WithLabelValues("fetch_error").Inc()
				slog.ErrorContext(ctx, "remote refresh fetch failed", "remote", p.id, "error", err)
				return
			}
			if rerr := p.reload(ctx, localPath); rerr != nil {
				refreshCounter.WithLabelValues("reload_error").Inc()
				slog.ErrorContext(ctx, "remote refresh reload failed", "remote", p.id, "error", rerr)
			}
		},
	})
}

func (p *Plugin) reload(ctx context.Context, localPath string) error {
	fp, err := fingerprint(localPath)
	if err != nil {
		return &moss.Error{Op: "remote.reload", Kind: moss.ErrIO, Inner: err}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if fp == p.lastFingerprint {
		refreshCounter.WithLabelValues("unchanged").Inc()
		slog.InfoContext(ctx, "remote index unchanged", "remote", p.id)
		return nil
	}

	if err := p.db.Close(); err != nil {
		return err
	}
	db, err := meta.Connect(ctx, p.dbPath, meta.ReadWrite)
	if err != nil {
		return err
	}
	p.db = db

	if err := db.LoadFromIndex(ctx, localPath); err != nil {
		return err
	}
	p.lastFingerprint = fp
	refreshCounter.WithLabelValues("loaded").Inc()
	return nil
}

// fingerprint hashes a file's contents; comparing fingerprints across
// refreshes is how Refresh decides whether the remote's catalog changed.
func fingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (p *Plugin) QueryProviders(ctx context.Context, kind provider.Kind, matcher string, flags registry.ItemFlags) ([]registry.RegistryItem, error) {
	p.mu.Lock()
	db := p.db
	p.mu.Unlock()

	ids, err := db.ByProvider(ctx, kind, matcher)
	if err != nil {
		return nil, err
	}
	out := make([]registry.RegistryItem, 0, len(ids))
	for _, id := range ids {
		out = append(out, registry.RegistryItem{PkgID: id, Plugin: p, Flags: registry.Available})
	}
	return out, nil
}

func (p *Plugin) QueryID(ctx context.Context, pkgID string) (registry.RegistryItem, bool, error) {
	p.mu.Lock()
	db := p.db
	p.mu.Unlock()

	ok, err := db.HasID(ctx, pkgID)
	if err != nil || !ok {
		return registry.RegistryItem{}, false, err
	}
	return registry.RegistryItem{PkgID: pkgID, Plugin: p, Flags: registry.Available}, true, nil
}

func (p *Plugin) Dependencies(ctx context.Context, pkgID string) ([]provider.Dependency, error) {
	p.mu.Lock()
	db := p.db
	p.mu.Unlock()

	e, ok, err := db.Entry(ctx, pkgID)
	if err != nil || !ok {
		return nil, err
	}
	return e.Dependencies, nil
}

func (p *Plugin) Providers(ctx context.Context, pkgID string) ([]provider.Provider, error) {
	p.mu.Lock()
	db := p.db
	p.mu.Unlock()

	e, ok, err := db.Entry(ctx, pkgID)
	if err != nil || !ok {
		return nil, err
	}
	return e.Providers, nil
}

func (p *Plugin) Info(ctx context.Context, pkgID string) (meta.ItemInfo, error) {
	p.mu.Lock()
	db := p.db
	p.mu.Unlock()
	return db.Info(ctx, pkgID)
}

func (p *Plugin) List(ctx context.Context, flags registry.ItemFlags) ([]registry.RegistryItem, error) {
	p.mu.Lock()
	db := p.db
	p.mu.Unlock()

	entries, err := db.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]registry.RegistryItem, 0, len(entries))
	for _, e := range entries {
		out = append(out, registry.RegistryItem{PkgID: e.PkgID, Plugin: p, Flags: registry.Available})
	}
	return out, nil
}

// FetchItem derives the remote download location for pkgID and enqueues it
// into the plugin's [registry.CachePool] staging area (spec.md §4.4).
// pkgURI is dirname(uri) + "/" + entry.URI; a missing hash, non-.stone
// suffix, or zero size is a fatal MalformedEntry, since those conditions
// mean the catalog entry itself is broken, not merely that the fetch will
// fail.
func (p *Plugin) FetchItem(ctx context.Context, fc registry.FetchContext, pkgID string) error {
	p.mu.Lock()
	db := p.db
	p.mu.Unlock()

	entry, ok, err := db.Entry(ctx, pkgID)
	if err != nil {
		return err
	}
	if !ok {
		return &moss.Error{Op: "remote.FetchItem", Kind: moss.ErrNotFound, Message: pkgID}
	}

	pkgURI := dirname(p.uri) + "/" + entry.URI
	switch {
	case !strings.HasSuffix(pkgURI, ".stone"):
		return &moss.Error{Op: "remote.FetchItem", Kind: moss.ErrMalformedEntry,
			Message: fmt.Sprintf("pkgURI %q does not end in .stone", pkgURI)}
	case entry.Hash == "":
		return &moss.Error{Op: "remote.FetchItem", Kind: moss.ErrMalformedEntry,
			Message: fmt.Sprintf("entry %q has no hash", pkgID)}
	case entry.DownloadSize == 0:
		return &moss.Error{Op: "remote.FetchItem", Kind: moss.ErrMalformedEntry,
			Message: fmt.Sprintf("entry %q has zero download size", pkgID)}
	}

	dest := entry.Hash
	if p.pool != nil {
		dest = p.pool.StagingPath(entry.Hash)
	}
	return fc.Enqueue(registry.Fetchable{
		URI:          pkgURI,
		Destination:  dest,
		ExpectedSize: entry.DownloadSize,
	})
}

// dirname returns uri with its final "/"-separated component removed,
// without path.Dir's URL-mangling slash collapsing (spec.md §4.4 scenario
// #6: "https://r/stone.index" must dirname to "https://r", not "https:/r").
func dirname(uri string) string {
	if i := strings.LastIndexByte(uri, '/'); i >= 0 {
		return uri[:i]
	}
	return uri
}

// Close releases the underlying MetaDB. Close is idempotent.
func (p *Plugin) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.db.Close()
}
