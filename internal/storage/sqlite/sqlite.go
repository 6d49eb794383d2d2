// Package sqlitestorage stores buffered messages in SQLite, either in a file
// or in a private in-memory database.
package sqlitestorage

import (
	"github.com/rs/zerolog"

	"github.com/ProjectRStore/itemsync/internal/config"
	"github.com/ProjectRStore/itemsync/internal/database"
	gormstorage "github.com/ProjectRStore/itemsync/internal/storage/gorm"
)

// Backend wraps the gorm backend with a SQLite connection it owns.
type Backend struct {
	*gormstorage.Backend
	manager *database.Manager
	cfg     config.SQLiteConfig
}

// New creates an unconnected backend; Init opens the database.
func New(cfg config.SQLiteConfig, log zerolog.Logger) *Backend {
	return &Backend{
		manager: database.NewManager(log.With().Str("backend", "sqlite").Logger()),
		cfg:     cfg,
	}
}

// Init connects and migrates.
func (b *Backend) Init() error {
	if err := b.manager.ConnectSqlite(b.cfg.Path); err != nil {
		return err
	}
	b.Backend = gormstorage.New(b.manager.DB)
	return b.Backend.Init()
}

// Close closes the connection.
func (b *Backend) Close() error {
	return b.manager.Close()
}
