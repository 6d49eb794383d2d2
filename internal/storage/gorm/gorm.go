// Package gormstorage implements storage.Backend on any gorm dialect.
// The sqlite and postgres packages only differ in how they connect.
package gormstorage

import (
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/ProjectRStore/itemsync/pkg/core"
	"github.com/ProjectRStore/itemsync/pkg/streaming"
)

// Header is the routing part of a stored envelope.
type Header struct {
	Type   string           `json:"type"`
	From   core.ActorID     `json:"from"`
	To     core.ActorID     `json:"to,omitempty"`
	Target streaming.Target `json:"target"`

	ByCoordinator bool `json:"byCoordinator,omitempty"`
}

// BufferedMessage is one stored envelope. The payload is kept as raw bytes
// because it may be msgpack.
type BufferedMessage struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	CreatedAt time.Time
	Session   string                     `gorm:"size:128;not null;index:idx_buffered_session_key,priority:1"`
	Key       string                     `gorm:"size:128;index:idx_buffered_session_key,priority:2"`
	Header    datatypes.JSONType[Header] `gorm:"not null"`
	Payload   []byte
}

// TableName pins the table name.
func (BufferedMessage) TableName() string {
	return "buffered_messages"
}

// Models lists every table this backend needs.
var Models = []any{&BufferedMessage{}}

func fromEnvelope(session string, env streaming.Envelope) BufferedMessage {
	return BufferedMessage{
		Session: session,
		Key:     env.Key,
		Header: datatypes.NewJSONType(Header{
			Type:   env.Type,
			From:   env.From,
			To:     env.To,
			Target: env.Target,

			ByCoordinator: env.ByCoordinator,
		}),
		Payload: env.Payload,
	}
}

// Envelope rebuilds the stored message.
func (m BufferedMessage) Envelope() streaming.Envelope {
	h := m.Header.Data()
	return streaming.Envelope{
		Type:     h.Type,
		From:     h.From,
		To:       h.To,
		Target:   h.Target,
		Buffered: true,
		Key:      m.Key,
		Payload:  m.Payload,

		ByCoordinator: h.ByCoordinator,
	}
}

// Backend implements storage.Backend on a gorm connection.
type Backend struct {
	db *gorm.DB
}

// New wraps an open connection. Init migrates the schema.
func New(db *gorm.DB) *Backend {
	return &Backend{db: db}
}

// Init migrates the schema.
func (b *Backend) Init() error {
	if b.db == nil {
		return fmt.Errorf("gorm backend has no connection")
	}
	if err := b.db.AutoMigrate(Models...); err != nil {
		return fmt.Errorf("migrating buffered messages: %w", err)
	}
	return nil
}

// Close is a no-op; the owner of the connection closes it.
func (b *Backend) Close() error {
	return nil
}

// AppendBuffered stores env; a keyed message replaces its predecessor in
// the same transaction.
func (b *Backend) AppendBuffered(session string, env streaming.Envelope) error {
	rec := fromEnvelope(session, env)
	err := b.db.Transaction(func(tx *gorm.DB) error {
		if env.Key != "" {
			if err := tx.Where("session = ? AND key = ?", session, env.Key).Delete(&BufferedMessage{}).Error; err != nil {
				return err
			}
		}
		return tx.Create(&rec).Error
	})
	if err != nil {
		return fmt.Errorf("storing buffered %s for %s: %w", env.Type, session, err)
	}
	return nil
}

// Buffered returns the session's messages in insertion order.
func (b *Backend) Buffered(session string) ([]streaming.Envelope, error) {
	var rows []BufferedMessage
	if err := b.db.Where("session = ?", session).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("loading buffered messages for %s: %w", session, err)
	}
	out := make([]streaming.Envelope, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Envelope())
	}
	return out, nil
}

// ClearBuffered removes the keyed message.
func (b *Backend) ClearBuffered(session, key string) error {
	err := b.db.Where("session = ? AND key = ?", session, key).Delete(&BufferedMessage{}).Error
	if err != nil {
		return fmt.Errorf("clearing %s for %s: %w", key, session, err)
	}
	return nil
}

// DropSession deletes every message of a session.
func (b *Backend) DropSession(session string) error {
	if err := b.db.Where("session = ?", session).Delete(&BufferedMessage{}).Error; err != nil {
		return fmt.Errorf("dropping session %s: %w", session, err)
	}
	return nil
}
