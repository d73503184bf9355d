package meta

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	_ "modernc.org/sqlite" // register the "sqlite" driver

	"github.com/serpent-os/moss"
	"github.com/serpent-os/moss/provider"
	"github.com/serpent-os/moss/stone"
)

var (
	opCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "moss",
			Subsystem: "meta",
			Name:      "operations_total",
			Help:      "Total number of MetaDB operations.",
		},
		[]string{"op"},
	)
)

// Mutability selects whether [Connect] may create missing schema.
type Mutability bool

const (
	ReadOnly  Mutability = false
	ReadWrite Mutability = true
)

// DB is the MetaDB catalog: an embedded, ordered KV store with an
// `entries` table keyed by pkgID and a `providers` reverse index keyed by
// [provider.Provider.String] (spec.md §4.2).
type DB struct {
	sql *sql.DB
}

// Connect opens the catalog at path. If mutability is ReadWrite and the
// schema doesn't exist, it's created. If mutability is ReadOnly and no file
// exists at path, Connect fails with [moss.ErrNotFound].
func Connect(ctx context.Context, path string, mutability Mutability) (*DB, error) {
	if mutability == ReadOnly {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return nil, &moss.Error{Op: "meta.Connect", Kind: moss.ErrNotFound, Message: path}
		}
	}
	u := url.URL{
		Scheme: "file",
		Opaque: path,
		RawQuery: url.Values{
			"_pragma": {"foreign_keys(1)", "busy_timeout(5000)"},
		}.Encode(),
	}
	sqlDB, err := sql.Open("sqlite", u.String())
	if err != nil {
		return nil, &moss.Error{Op: "meta.Connect", Kind: moss.ErrIO, Inner: err}
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, &moss.Error{Op: "meta.Connect", Kind: moss.ErrIO, Inner: err}
	}
	db := &DB{sql: sqlDB}
	if mutability == ReadWrite {
		if err := db.createSchema(ctx); err != nil {
			sqlDB.Close()
			return nil, err
		}
	}
	return db, nil
}

func (db *DB) createSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS entries (
	pkg_id TEXT PRIMARY KEY,
	data   BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS providers (
	provider TEXT NOT NULL,
	pkg_id   TEXT NOT NULL,
	PRIMARY KEY (provider, pkg_id)
);
`
	if _, err := db.sql.ExecContext(ctx, ddl); err != nil {
		return &moss.Error{Op: "meta.createSchema", Kind: moss.ErrIO, Inner: err}
	}
	return nil
}

// Close releases the underlying store. Close is idempotent.
func (db *DB) Close() error {
	if db.sql == nil {
		return nil
	}
	s := db.sql
	db.sql = nil
	return s.Close()
}

// Info returns the ItemInfo projection for pkgID, or the empty value if
// absent. Info never fails on a missing key (spec.md §4.2).
func (db *DB) Info(ctx context.Context, pkgID string) (ItemInfo, error) {
	opCounter.WithLabelValues("info").Inc()
	e, ok, err := db.get(ctx, pkgID)
	if err != nil {
		return ItemInfo{}, err
	}
	if !ok {
		return ItemInfo{}, nil
	}
	return infoFromEntry(e), nil
}

// Entry returns the full MetaEntry for pkgID, or ok==false if absent.
func (db *DB) Entry(ctx context.Context, pkgID string) (MetaEntry, bool, error) {
	opCounter.WithLabelValues("entry").Inc()
	return db.get(ctx, pkgID)
}

// HasID reports whether pkgID is present in the catalog.
func (db *DB) HasID(ctx context.Context, pkgID string) (bool, error) {
	opCounter.WithLabelValues("hasid").Inc()
	_, ok, err := db.get(ctx, pkgID)
	return ok, err
}

// GetValue returns the requested field of pkgID's entry, selected by
// [stone.Tag], or ok==false if the entry is absent.
func (db *DB) GetValue(ctx context.Context, pkgID string, tag stone.Tag) (value any, ok bool, err error) {
	opCounter.WithLabelValues("getvalue").Inc()
	e, ok, err := db.get(ctx, pkgID)
	if err != nil || !ok {
		return nil, false, err
	}
	switch tag {
	case stone.TagName:
		return e.Name, true, nil
	case stone.TagVersion:
		return e.VersionIdentifier, true, nil
	case stone.TagRelease:
		return e.SourceRelease, true, nil
	case stone.TagBuildRelease:
		return e.BuildRelease, true, nil
	case stone.TagArchitecture:
		return e.Architecture, true, nil
	case stone.TagSummary:
		return e.Summary, true, nil
	case stone.TagDescription:
		return e.Description, true, nil
	case stone.TagHomepage:
		return e.Homepage, true, nil
	case stone.TagSourceID:
		return e.SourceID, true, nil
	case stone.TagPackageURI:
		return e.URI, true, nil
	case stone.TagPackageHash:
		return e.Hash, true, nil
	case stone.TagPackageSize:
		return e.DownloadSize, true, nil
	default:
		return nil, false, nil
	}
}

func (db *DB) get(ctx context.Context, pkgID string) (MetaEntry, bool, error) {
	var data []byte
	err := db.sql.QueryRowContext(ctx, `SELECT data FROM entries WHERE pkg_id = ?`, pkgID).Scan(&data)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return MetaEntry{}, false, nil
	case err != nil:
		return MetaEntry{}, false, &moss.Error{Op: "meta.get", Kind: moss.ErrIO, Inner: err}
	}
	e, err := decodeEntry(data)
	if err != nil {
		return MetaEntry{}, false, &moss.Error{Op: "meta.get", Kind: moss.ErrCorrupt, Inner: err}
	}
	return e, true, nil
}

// List returns every entry in the catalog. Iteration is stable under
// concurrent read-only access (spec.md §4.2).
func (db *DB) List(ctx context.Context) ([]MetaEntry, error) {
	opCounter.WithLabelValues("list").Inc()
	rows, err := db.sql.QueryContext(ctx, `SELECT data FROM entries ORDER BY pkg_id`)
	if err != nil {
		return nil, &moss.Error{Op: "meta.List", Kind: moss.ErrIO, Inner: err}
	}
	defer rows.Close()

	var out []MetaEntry
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, &moss.Error{Op: "meta.List", Kind: moss.ErrIO, Inner: err}
		}
		e, err := decodeEntry(data)
		if err != nil {
			return nil, &moss.Error{Op: "meta.List", Kind: moss.ErrCorrupt, Inner: err}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, &moss.Error{Op: "meta.List", Kind: moss.ErrIO, Inner: err}
	}
	return out, nil
}

// ByProvider looks up the ProviderMap row for (kind, matcher) and returns
// the pkgIDs it lists, in no particular order.
func (db *DB) ByProvider(ctx context.Context, kind provider.Kind, matcher string) ([]string, error) {
	opCounter.WithLabelValues("byprovider").Inc()
	key := (provider.Provider{Kind: kind, Identifier: matcher}).String()
	rows, err := db.sql.QueryContext(ctx, `SELECT pkg_id FROM providers WHERE provider = ?`, key)
	if err != nil {
		return nil, &moss.Error{Op: "meta.ByProvider", Kind: moss.ErrIO, Inner: err}
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, &moss.Error{Op: "meta.ByProvider", Kind: moss.ErrIO, Inner: err}
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Stats returns row counts for the entries and providers tables.
func (db *DB) Stats(ctx context.Context) (entries, providers int64, err error) {
	row := db.sql.QueryRowContext(ctx, `SELECT (SELECT count(*) FROM entries), (SELECT count(*) FROM providers)`)
	if err := row.Scan(&entries, &providers); err != nil {
		return 0, 0, &moss.Error{Op: "meta.Stats", Kind: moss.ErrIO, Inner: err}
	}
	return entries, providers, nil
}

// LoadFromIndex replaces the catalog's contents with the packages described
// by the stone repository index at path (spec.md §4.2).
//
// The wipe and repopulation run in a single transaction so a concurrent
// reader never observes the catalog mid-reload (spec.md §4.2: "all-or-
// nothing"). If that transaction fails partway through, it rolls back to
// the pre-reload catalog; LoadFromIndex then forces an explicit wipe in a
// second transaction so the DB still ends up empty on failure, matching
// spec.md §4.5 ("a post-failure DB [needs] re-fetch") without holding the
// main transaction open any longer than the successful-reload path needs.
// See DESIGN.md for why §4.2's and §4.5's wording can't both be taken
// completely literally.
func (db *DB) LoadFromIndex(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return &moss.Error{Op: "meta.LoadFromIndex", Kind: moss.ErrIO, Inner: err}
	}
	defer f.Close()

	r, err := stone.NewReader(f)
	if err != nil {
		return &moss.Error{Op: "meta.LoadFromIndex", Kind: moss.ErrCorrupt, Inner: err}
	}
	defer r.Close()

	if r.ArchiveHeader().Type != stone.Repository {
		return &moss.Error{Op: "meta.LoadFromIndex", Kind: moss.ErrCorrupt,
			Message: fmt.Sprintf("expected Repository archive, got %s", r.ArchiveHeader().Type)}
	}

	if err := db.reloadTx(ctx, r, path); err != nil {
		if werr := db.wipe(ctx); werr != nil {
			slog.ErrorContext(ctx, "failed to force-clear catalog after aborted reload", "error", werr)
		}
		return err
	}
	return nil
}

// reloadTx wipes and repopulates the catalog within one transaction.
func (db *DB) reloadTx(ctx context.Context, r *stone.Reader, path string) error {
	tx, err := db.sql.BeginTx(ctx, nil)
	if err != nil {
		return &moss.Error{Op: "meta.LoadFromIndex", Kind: moss.ErrTransactionAborted, Inner: err}
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM entries`); err != nil {
		return wrapAbort("clearing entries", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM providers`); err != nil {
		return wrapAbort("clearing providers", err)
	}

	n := 0
	for r.Next() {
		mp, ok := r.Payload().(*stone.MetaPayload)
		if !ok {
			continue
		}
		entry, err := MaterializeEntry(mp)
		if err != nil {
			return wrapAbort("materializing entry", err)
		}

		data, err := entry.encode()
		if err != nil {
			return wrapAbort("encoding entry", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO entries (pkg_id, data) VALUES (?, ?)`, entry.PkgID, data); err != nil {
			return wrapAbort("inserting entry", err)
		}

		for _, p := range entry.implicitProviders() {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO providers (provider, pkg_id) VALUES (?, ?)`,
				p.String(), entry.PkgID); err != nil {
				return wrapAbort("indexing provider", err)
			}
		}
		n++
	}
	if err := r.Err(); err != nil {
		return wrapAbort("reading index", err)
	}

	if err := tx.Commit(); err != nil {
		return &moss.Error{Op: "meta.LoadFromIndex", Kind: moss.ErrTransactionAborted, Inner: err}
	}
	slog.DebugContext(ctx, "loaded repository index", "path", path, "entries", n)
	return nil
}

// wipe force-clears both catalog tables in their own transaction. Called
// after a failed [DB.reloadTx] to guarantee the catalog ends up empty
// rather than reverted to its pre-reload contents (spec.md §4.5).
func (db *DB) wipe(ctx context.Context) error {
	tx, err := db.sql.BeginTx(ctx, nil)
	if err != nil {
		return &moss.Error{Op: "meta.LoadFromIndex", Kind: moss.ErrTransactionAborted, Inner: err}
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM entries`); err != nil {
		return wrapAbort("clearing entries", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM providers`); err != nil {
		return wrapAbort("clearing providers", err)
	}
	if err := tx.Commit(); err != nil {
		return &moss.Error{Op: "meta.LoadFromIndex", Kind: moss.ErrTransactionAborted, Inner: err}
	}
	return nil
}

func wrapAbort(message string, err error) error {
	return &moss.Error{Op: "meta.LoadFromIndex", Kind: moss.ErrTransactionAborted, Message: message, Inner: err}
}

// MaterializeEntry walks a MetaPayload's records into a MetaEntry, deriving
// PkgID from [stone.MetaPayload.GetPkgID]. Exported so plugins that parse a
// stone archive directly (e.g. cobble) can build entries the same way
// LoadFromIndex does.
func MaterializeEntry(mp *stone.MetaPayload) (MetaEntry, error) {
	var e MetaEntry
	for rec, err := range mp.All() {
		if err != nil {
			return MetaEntry{}, err
		}
		switch rec.Tag {
		case stone.TagName:
			e.Name, _ = rec.Value.(string)
		case stone.TagVersion:
			e.VersionIdentifier, _ = rec.Value.(string)
		case stone.TagRelease:
			e.SourceRelease = toInt64(rec.Value)
		case stone.TagBuildRelease:
			e.BuildRelease = toInt64(rec.Value)
		case stone.TagArchitecture:
			e.Architecture, _ = rec.Value.(string)
		case stone.TagSummary:
			e.Summary, _ = rec.Value.(string)
		case stone.TagDescription:
			e.Description, _ = rec.Value.(string)
		case stone.TagHomepage:
			e.Homepage, _ = rec.Value.(string)
		case stone.TagSourceID:
			e.SourceID, _ = rec.Value.(string)
		case stone.TagLicense:
			if s, ok := rec.Value.(string); ok {
				e.Licenses = append(e.Licenses, s)
			}
		case stone.TagDepends:
			if p, ok := rec.Value.(provider.Provider); ok {
				e.Dependencies = append(e.Dependencies, p)
			}
		case stone.TagProvides:
			if p, ok := rec.Value.(provider.Provider); ok {
				e.Providers = append(e.Providers, p)
			}
		case stone.TagPackageURI:
			e.URI, _ = rec.Value.(string)
		case stone.TagPackageHash:
			e.Hash, _ = rec.Value.(string)
		case stone.TagPackageSize:
			if v, ok := rec.Value.(uint64); ok {
				e.DownloadSize = v
			}
		case stone.TagConflicts, stone.TagUnknown:
			// Tolerated and ignored per spec.md §4.1.
		}
	}
	id, err := mp.GetPkgID()
	if err != nil {
		return MetaEntry{}, err
	}
	e.PkgID = id
	return e, nil
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int8:
		return int64(n)
	case uint64:
		return int64(n)
	default:
		return 0
	}
}
