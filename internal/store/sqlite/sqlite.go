package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loykin/appstate/internal/store"
)

// DB implements store.Store for SQLite (modernc.org/sqlite driver, CGO-free).
// DSN is a filesystem path to the SQLite database file. Use ":memory:" for in-memory.
type DB struct {
	db *sql.DB
}

var _ store.Store = (*DB)(nil)

// New opens a SQLite database at path.
func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// each :memory: connection is its own database
	if p == ":memory:" {
		d.SetMaxOpenConns(1)
	}
	// busy timeout helps with short concurrent locks
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	return &DB{db: d}, nil
}

func (s *DB) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS app_state(
			name TEXT PRIMARY KEY,
			version TEXT NOT NULL,
			pid INTEGER NOT NULL,
			event_counter INTEGER NOT NULL,
			status TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);`)
	return err
}

func (s *DB) Close() error { return s.db.Close() }

func (s *DB) Record(ctx context.Context, rec store.Record) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_state(name, version, pid, event_counter, status, updated_at)
		VALUES(?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			version=excluded.version,
			pid=excluded.pid,
			event_counter=excluded.event_counter,
			status=excluded.status,
			updated_at=excluded.updated_at;`,
		rec.Name, rec.Version, int64(rec.PID), int64(rec.EventCounter), rec.Status, rec.UpdatedAt.UTC())
	return err
}

func (s *DB) GetByName(ctx context.Context, name string) (store.Record, error) {
	var (
		r            store.Record
		pid, counter int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT name, version, pid, event_counter, status, updated_at
		FROM app_state WHERE name=?;`, name).
		Scan(&r.Name, &r.Version, &pid, &counter, &r.Status, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Record{}, store.ErrNotFound
	}
	if err != nil {
		return store.Record{}, err
	}
	r.PID = uint32(pid)
	r.EventCounter = uint32(counter)
	return r, nil
}

func (s *DB) Delete(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM app_state WHERE name=?;`, name)
	return err
}
