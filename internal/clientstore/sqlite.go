package clientstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ppiankov/trustgate/internal/model"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps records in a single SQLite table.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database file at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("clientstore: create directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("clientstore: open %s: %w", path, err)
	}
	// One writer at a time; transactions below rely on it.
	db.SetMaxOpenConns(1)
	s, err := NewSQLiteStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteStore wraps an already opened database and applies the schema.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("clientstore: migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS clients (
		identity TEXT PRIMARY KEY,
		level TEXT NOT NULL,
		pre_admin_level TEXT NOT NULL DEFAULT '',
		requests INTEGER NOT NULL DEFAULT 0,
		successes INTEGER NOT NULL DEFAULT 0,
		failures INTEGER NOT NULL DEFAULT 0,
		first_seen TEXT NOT NULL,
		last_seen TEXT NOT NULL,
		metadata JSON
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

const selectColumns = `identity, level, pre_admin_level, requests, successes, failures, first_seen, last_seen, metadata`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (model.ClientRecord, error) {
	var (
		rec       model.ClientRecord
		identity  string
		level     string
		preAdmin  string
		firstSeen string
		lastSeen  string
		metadata  sql.NullString
	)
	if err := row.Scan(&identity, &level, &preAdmin, &rec.Requests, &rec.Successes, &rec.Failures, &firstSeen, &lastSeen, &metadata); err != nil {
		return model.ClientRecord{}, err
	}
	rec.Identity = model.ClientIdentity(identity)
	rec.Level = model.TrustLevel(level)
	rec.PreAdminLevel = model.TrustLevel(preAdmin)
	rec.FirstSeen, _ = time.Parse(time.RFC3339Nano, firstSeen)
	rec.LastSeen, _ = time.Parse(time.RFC3339Nano, lastSeen)
	if metadata.Valid && metadata.String != "" && metadata.String != "null" {
		if err := json.Unmarshal([]byte(metadata.String), &rec.Metadata); err != nil {
			return model.ClientRecord{}, fmt.Errorf("decode metadata for %s: %w", rec.Identity.Short(), err)
		}
	}
	return rec, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func getRecord(ctx context.Context, q queryer, id model.ClientIdentity) (model.ClientRecord, bool, error) {
	row := q.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM clients WHERE identity = ?`, string(id))
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ClientRecord{}, false, nil
	}
	if err != nil {
		return model.ClientRecord{}, false, fmt.Errorf("clientstore: get %s: %w", id.Short(), err)
	}
	return rec, true, nil
}

func putRecord(ctx context.Context, q queryer, rec model.ClientRecord) error {
	var metaJSON []byte
	if len(rec.Metadata) > 0 {
		var err error
		if metaJSON, err = json.Marshal(rec.Metadata); err != nil {
			return fmt.Errorf("clientstore: encode metadata: %w", err)
		}
	}
	_, err := q.ExecContext(ctx, `
	INSERT INTO clients (identity, level, pre_admin_level, requests, successes, failures, first_seen, last_seen, metadata)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(identity) DO UPDATE SET
		level = excluded.level,
		pre_admin_level = excluded.pre_admin_level,
		requests = excluded.requests,
		successes = excluded.successes,
		failures = excluded.failures,
		first_seen = excluded.first_seen,
		last_seen = excluded.last_seen,
		metadata = excluded.metadata`,
		string(rec.Identity), string(rec.Level), string(rec.PreAdminLevel),
		rec.Requests, rec.Successes, rec.Failures,
		rec.FirstSeen.UTC().Format(time.RFC3339Nano), rec.LastSeen.UTC().Format(time.RFC3339Nano),
		string(metaJSON),
	)
	if err != nil {
		return fmt.Errorf("clientstore: put %s: %w", rec.Identity.Short(), err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id model.ClientIdentity) (model.ClientRecord, bool, error) {
	return getRecord(ctx, s.db, id)
}

func (s *SQLiteStore) Put(ctx context.Context, rec model.ClientRecord) error {
	return putRecord(ctx, s.db, rec)
}

// update runs fn on the current record inside a transaction and stores the result.
func (s *SQLiteStore) update(ctx context.Context, id model.ClientIdentity, fn func(rec *model.ClientRecord, found bool) error) (model.ClientRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.ClientRecord{}, fmt.Errorf("clientstore: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rec, found, err := getRecord(ctx, tx, id)
	if err != nil {
		return model.ClientRecord{}, err
	}
	if err := fn(&rec, found); err != nil {
		return model.ClientRecord{}, err
	}
	if err := putRecord(ctx, tx, rec); err != nil {
		return model.ClientRecord{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.ClientRecord{}, fmt.Errorf("clientstore: commit: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) Touch(ctx context.Context, id model.ClientIdentity, now time.Time) (model.ClientRecord, error) {
	return s.update(ctx, id, func(rec *model.ClientRecord, found bool) error {
		if !found {
			*rec = model.NewClientRecord(id, now)
		}
		rec.Requests++
		rec.LastSeen = now.UTC()
		return nil
	})
}

func (s *SQLiteStore) UpdateLevel(ctx context.Context, id model.ClientIdentity, level, preAdmin model.TrustLevel, now time.Time) (model.ClientRecord, error) {
	return s.update(ctx, id, func(rec *model.ClientRecord, found bool) error {
		if !found {
			*rec = model.NewClientRecord(id, now)
		}
		rec.Level = level
		rec.PreAdminLevel = preAdmin
		return nil
	})
}

func (s *SQLiteStore) RecordOutcome(ctx context.Context, id model.ClientIdentity, allowed bool, at time.Time) (model.ClientRecord, error) {
	return s.update(ctx, id, func(rec *model.ClientRecord, found bool) error {
		if !found {
			return ErrNotFound
		}
		if allowed {
			rec.Successes++
		} else {
			rec.Failures++
		}
		rec.LastSeen = at.UTC()
		return nil
	})
}

func (s *SQLiteStore) List(ctx context.Context) ([]model.ClientRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM clients ORDER BY identity`)
	if err != nil {
		return nil, fmt.Errorf("clientstore: list: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.ClientRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("clientstore: list: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
