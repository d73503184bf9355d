package state

import (
	"context"
	"database/sql"
	"errors"
	"iter"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	_ "modernc.org/sqlite" // register the "sqlite" driver

	"github.com/serpent-os/moss"
)

var opCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "moss",
		Subsystem: "state",
		Name:      "operations_total",
		Help:      "Total number of StateDB operations.",
	},
	[]string{"op"},
)

// DB is the StateDB: an append-only log of [StateRecord]s plus the
// per-state [StateEntry] selections (spec.md §4.3).
type DB struct {
	sql *sql.DB
}

// Connect opens (creating if absent) the state log at path.
func Connect(ctx context.Context, path string) (*DB, error) {
	u := url.URL{
		Scheme: "file",
		Opaque: path,
		RawQuery: url.Values{
			"_pragma": {"foreign_keys(1)", "busy_timeout(5000)"},
		}.Encode(),
	}
	sqlDB, err := sql.Open("sqlite", u.String())
	if err != nil {
		return nil, &moss.Error{Op: "state.Connect", Kind: moss.ErrIO, Inner: err}
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, &moss.Error{Op: "state.Connect", Kind: moss.ErrIO, Inner: err}
	}
	db := &DB{sql: sqlDB}
	if err := db.createSchema(ctx); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

func (db *DB) createSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS states (
	state_id    INTEGER PRIMARY KEY,
	name        TEXT NOT NULL,
	description TEXT NOT NULL,
	type        INTEGER NOT NULL,
	timestamp   INTEGER NOT NULL,
	correlation_id TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS selections (
	state_id   INTEGER NOT NULL,
	identifier TEXT NOT NULL,
	data       BLOB NOT NULL,
	PRIMARY KEY (state_id, identifier)
);
`
	if _, err := db.sql.ExecContext(ctx, ddl); err != nil {
		return &moss.Error{Op: "state.createSchema", Kind: moss.ErrIO, Inner: err}
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

// NewState allocates stateID = max(existing)+1, persists the new record and
// returns its ID (spec.md §4.3). Allocation and persistence happen in one
// write transaction, so a reader never observes a gap.
func (db *DB) NewState(ctx context.Context, name, description string, typ RecordType) (uint64, error) {
	opCounter.WithLabelValues("newstate").Inc()
	tx, err := db.sql.BeginTx(ctx, nil)
	if err != nil {
		return 0, &moss.Error{Op: "state.NewState", Kind: moss.ErrTransactionAborted, Inner: err}
	}
	defer tx.Rollback()

	var maxID sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT max(state_id) FROM states`).Scan(&maxID); err != nil {
		return 0, &moss.Error{Op: "state.NewState", Kind: moss.ErrIO, Inner: err}
	}
	stateID := uint64(maxID.Int64) + 1

	_, err = tx.ExecContext(ctx,
		`INSERT INTO states (state_id, name, description, type, timestamp, correlation_id) VALUES (?, ?, ?, ?, ?, ?)`,
		stateID, name, description, typ, time.Now().Unix(), uuid.New().String())
	if err != nil {
		return 0, &moss.Error{Op: "state.NewState", Kind: moss.ErrTransactionAborted, Inner: err}
	}
	if err := tx.Commit(); err != nil {
		return 0, &moss.Error{Op: "state.NewState", Kind: moss.ErrTransactionAborted, Inner: err}
	}
	slog.DebugContext(ctx, "allocated state", "state_id", stateID, "name", name)
	return stateID, nil
}

// MarkSelection upserts a selection: writing the same (stateID, identifier)
// twice replaces the prior entry (spec.md §4.3).
func (db *DB) MarkSelection(ctx context.Context, stateID uint64, identifier string, typ SelectionType, flags Flag) error {
	opCounter.WithLabelValues("markselection").Inc()
	if err := flags.Validate(); err != nil {
		return &moss.Error{Op: "state.MarkSelection", Kind: moss.ErrMalformedEntry, Inner: err}
	}
	entry := StateEntry{StateID: stateID, Identifier: identifier, Type: typ, Flags: flags}
	data := encode(entry)
	_, err := db.sql.ExecContext(ctx,
		`INSERT INTO selections (state_id, identifier, data) VALUES (?, ?, ?)
		 ON CONFLICT (state_id, identifier) DO UPDATE SET data = excluded.data`,
		stateID, identifier, data)
	if err != nil {
		return &moss.Error{Op: "state.MarkSelection", Kind: moss.ErrIO, Inner: err}
	}
	return nil
}

// UnmarkSelection deletes the selection identified by (stateID, identifier).
// Deleting an absent selection is a no-op.
func (db *DB) UnmarkSelection(ctx context.Context, stateID uint64, identifier string) error {
	opCounter.WithLabelValues("unmarkselection").Inc()
	_, err := db.sql.ExecContext(ctx,
		`DELETE FROM selections WHERE state_id = ? AND identifier = ?`, stateID, identifier)
	if err != nil {
		return &moss.Error{Op: "state.UnmarkSelection", Kind: moss.ErrIO, Inner: err}
	}
	return nil
}

// Entries iterates the selections for stateID in identifier order.
func (db *DB) Entries(ctx context.Context, stateID uint64) iter.Seq2[StateEntry, error] {
	return func(yield func(StateEntry, error) bool) {
		rows, err := db.sql.QueryContext(ctx,
			`SELECT data FROM selections WHERE state_id = ? ORDER BY identifier`, stateID)
		if err != nil {
			yield(StateEntry{}, &moss.Error{Op: "state.Entries", Kind: moss.ErrIO, Inner: err})
			return
		}
		defer rows.Close()
		for rows.Next() {
			var data []byte
			if err := rows.Scan(&data); err != nil {
				yield(StateEntry{}, &moss.Error{Op: "state.Entries", Kind: moss.ErrIO, Inner: err})
				return
			}
			e, err := decode(data)
			if err != nil {
				yield(StateEntry{}, &moss.Error{Op: "state.Entries", Kind: moss.ErrCorrupt, Inner: err})
				return
			}
			if !yield(e, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(StateEntry{}, &moss.Error{Op: "state.Entries", Kind: moss.ErrIO, Inner: err})
		}
	}
}

// ActiveState returns the greatest stateID, or ok==false if the log is
// empty (spec.md §3: "the active state is the StateRecord with the largest
// stateID").
func (db *DB) ActiveState(ctx context.Context) (id uint64, ok bool, err error) {
	opCounter.WithLabelValues("activestate").Inc()
	var maxID sql.NullInt64
	if err := db.sql.QueryRowContext(ctx, `SELECT max(state_id) FROM states`).Scan(&maxID); err != nil {
		return 0, false, &moss.Error{Op: "state.ActiveState", Kind: moss.ErrIO, Inner: err}
	}
	if !maxID.Valid {
		return 0, false, nil
	}
	return uint64(maxID.Int64), true, nil
}

// Record returns the StateRecord for stateID.
func (db *DB) Record(ctx context.Context, stateID uint64) (StateRecord, bool, error) {
	row := db.sql.QueryRowContext(ctx,
		`SELECT state_id, name, description, type, timestamp FROM states WHERE state_id = ?`, stateID)
	var r StateRecord
	err := row.Scan(&r.StateID, &r.Name, &r.Description, &r.Type, &r.Timestamp)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return StateRecord{}, false, nil
	case err != nil:
		return StateRecord{}, false, &moss.Error{Op: "state.Record", Kind: moss.ErrIO, Inner: err}
	}
	return r, true, nil
}

// Rollback creates a new state whose selections mirror targetStateID's,
// rather than reopening it: state IDs are never recycled (spec.md §4.3).
func (db *DB) Rollback(ctx context.Context, targetStateID uint64, name, description string) (uint64, error) {
	newID, err := db.NewState(ctx, name, description, Snapshot)
	if err != nil {
		return 0, err
	}
	for e, err := range db.Entries(ctx, targetStateID) {
		if err != nil {
			return 0, err
		}
		if err := db.MarkSelection(ctx, newID, e.Identifier, e.Type, e.Flags); err != nil {
			return 0, err
		}
	}
	return newID, nil
}
