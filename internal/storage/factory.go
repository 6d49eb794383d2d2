package storage

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ProjectRStore/itemsync/internal/config"
	"github.com/ProjectRStore/itemsync/internal/storage/memory"
	"github.com/ProjectRStore/itemsync/internal/storage/postgres"
	sqlitestorage "github.com/ProjectRStore/itemsync/internal/storage/sqlite"
)

// Compile-time interface checks.
var (
	_ Backend = (*memory.Backend)(nil)
	_ Backend = (*sqlitestorage.Backend)(nil)
	_ Backend = (*postgres.Backend)(nil)
)

// NewBackend creates a storage backend based on configuration.
func NewBackend(cfg config.StorageConfig, log zerolog.Logger) (Backend, error) {
	switch cfg.Type {
	case "postgres":
		return postgres.New(cfg.Postgres, log), nil
	case "sqlite":
		return sqlitestorage.New(cfg.SQLite, log), nil
	case "memory", "":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
