// Package postgres stores buffered messages in PostgreSQL so several relay
// processes can share late-join state.
package postgres

import (
	"github.com/rs/zerolog"

	"github.com/ProjectRStore/itemsync/internal/config"
	"github.com/ProjectRStore/itemsync/internal/database"
	gormstorage "github.com/ProjectRStore/itemsync/internal/storage/gorm"
)

// Backend wraps the gorm backend with a Postgres connection it owns.
type Backend struct {
	*gormstorage.Backend
	manager *database.Manager
	cfg     config.PostgresConfig
}

// New creates an unconnected backend; Init opens the connection.
func New(cfg config.PostgresConfig, log zerolog.Logger) *Backend {
	return &Backend{
		manager: database.NewManager(log.With().Str("backend", "postgres").Logger()),
		cfg:     cfg,
	}
}

// Init connects and migrates.
func (b *Backend) Init() error {
	if err := b.manager.ConnectPostgres(b.cfg); err != nil {
		return err
	}
	b.Backend = gormstorage.New(b.manager.DB)
	return b.Backend.Init()
}

// Close closes the connection.
func (b *Backend) Close() error {
	return b.manager.Close()
}
