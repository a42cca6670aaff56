package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by GetByName when no checkpoint exists for the name.
var ErrNotFound = errors.New("store: record not found")

// Record is the last known checkpoint of a named application.
// Name is unique across all records. UpdatedAt should be in UTC.
type Record struct {
	Name         string    `json:"name"`
	Version      string    `json:"version"`
	PID          uint32    `json:"pid"`
	EventCounter uint32    `json:"event_counter"`
	Status       string    `json:"status"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Store keeps the latest checkpoint per application name.
type Store interface {
	EnsureSchema(ctx context.Context) error
	Record(ctx context.Context, rec Record) error
	GetByName(ctx context.Context, name string) (Record, error)
	Delete(ctx context.Context, name string) error
	Close() error
}
