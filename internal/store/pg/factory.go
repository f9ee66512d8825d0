package pg

import (
	"fmt"

	"github.com/nextlevelbuilder/pinchy/internal/store"
)

// NewStores opens a Postgres connection pool at dsn, ensures the session
// schema exists, and wires up all three Postgres-backed stores.
func NewStores(dsn string) (*store.Stores, error) {
	db, err := OpenDB(dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := EnsureSchema(db); err != nil {
		return nil, fmt.Errorf("ensure session schema: %w", err)
	}
	memStore, err := NewMemoryStore(db)
	if err != nil {
		return nil, err
	}
	cronStore, err := NewCronStore(db)
	if err != nil {
		return nil, err
	}
	return &store.Stores{
		Sessions: NewSessionStore(db),
		Memory:   memStore,
		Cron:     cronStore,
	}, nil
}
