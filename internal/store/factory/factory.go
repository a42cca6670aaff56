package factory

import (
	"context"
	"errors"
	"strings"

	"github.com/loykin/appstate/internal/store"
	pg "github.com/loykin/appstate/internal/store/postgres"
	sq "github.com/loykin/appstate/internal/store/sqlite"
)

// NewFromDSN selects a store implementation based on DSN.
// Supported:
//   - sqlite:  "sqlite://<path>" or bare filepath (treated as sqlite)
//   - postgres: DSN starting with "postgres://" or "postgresql://"
func NewFromDSN(dsn string) (store.Store, error) {
	d := strings.TrimSpace(dsn)
	ld := strings.ToLower(d)
	if ld == "" {
		return nil, errors.New("empty DSN")
	}
	if strings.HasPrefix(ld, "postgres://") || strings.HasPrefix(ld, "postgresql://") {
		return pg.New(d)
	}
	if strings.HasPrefix(ld, "sqlite://") {
		return sq.New(d[len("sqlite://"):])
	}
	if strings.Contains(ld, "://") {
		return nil, errors.New("unsupported store DSN: " + d)
	}
	return sq.New(d)
}

// Open is NewFromDSN followed by EnsureSchema. The store is closed if the
// schema cannot be created.
func Open(ctx context.Context, dsn string) (store.Store, error) {
	s, err := NewFromDSN(dsn)
	if err != nil {
		return nil, err
	}
	if err := s.EnsureSchema(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}
