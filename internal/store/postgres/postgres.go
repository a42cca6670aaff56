package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/loykin/appstate/internal/store"
)

type DB struct {
	db *sql.DB
}

var _ store.Store = (*DB)(nil)

// New prepares a pgx-backed pool; no connection is made until first use.
func New(dsn string) (*DB, error) {
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &DB{db: d}, nil
}

func (p *DB) EnsureSchema(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS app_state(
			name TEXT PRIMARY KEY,
			version TEXT NOT NULL,
			pid BIGINT NOT NULL,
			event_counter BIGINT NOT NULL,
			status TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);`)
	return err
}

func (p *DB) Close() error { return p.db.Close() }

func (p *DB) Record(ctx context.Context, rec store.Record) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO app_state(name, version, pid, event_counter, status, updated_at)
		VALUES($1,$2,$3,$4,$5,$6)
		ON CONFLICT(name) DO UPDATE SET
			version=EXCLUDED.version,
			pid=EXCLUDED.pid,
			event_counter=EXCLUDED.event_counter,
			status=EXCLUDED.status,
			updated_at=EXCLUDED.updated_at;`,
		rec.Name, rec.Version, int64(rec.PID), int64(rec.EventCounter), rec.Status, rec.UpdatedAt.UTC())
	return err
}

func (p *DB) GetByName(ctx context.Context, name string) (store.Record, error) {
	var (
		r            store.Record
		pid, counter int64
	)
	err := p.db.QueryRowContext(ctx, `
		SELECT name, version, pid, event_counter, status, updated_at
		FROM app_state WHERE name=$1;`, name).
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

func (p *DB) Delete(ctx context.Context, name string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM app_state WHERE name=$1;`, name)
	return err
}
