// Package database wires the chatdemo application's persistence and
// cache layer: a gorm-managed Postgres store for chat history and a
// Redis client shared by the rate limiter. The demo owns its schema
// from scratch, so AutoMigrate is all the migration it needs.
package database

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"chansock/internal/demo/config"
)

// ChatMessage persists one delivered chat event. The
// core channel-socket has no persistence of its own, but nothing stops
// the application calling out to Postgres from within its own event
// handler before or after calling Push.
type ChatMessage struct {
	ID        uint   `gorm:"primaryKey"`
	FromUID   string `gorm:"index;not null"`
	ToUID     string `gorm:"index;not null"`
	Body      string `gorm:"not null"`
	CreatedAt time.Time
}

// NewPostgres opens a GORM connection and migrates the demo's one table.
func NewPostgres(cfg config.PostgresConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Warn),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("database: connect postgres: %w", err)
	}
	if err := db.AutoMigrate(&ChatMessage{}); err != nil {
		return nil, fmt.Errorf("database: migrate: %w", err)
	}
	return db, nil
}

// HistoryStore persists and replays ChatMessage rows for a uid.
type HistoryStore struct {
	db *gorm.DB
}

func NewHistoryStore(db *gorm.DB) *HistoryStore {
	return &HistoryStore{db: db}
}

func (s *HistoryStore) Record(fromUID, toUID, body string) error {
	return s.db.Create(&ChatMessage{FromUID: fromUID, ToUID: toUID, Body: body}).Error
}

// Recent returns the last n messages either sent to or from uid, oldest
// first, so a freshly (re)connected client can backfill its view.
func (s *HistoryStore) Recent(uid string, n int) ([]ChatMessage, error) {
	var rows []ChatMessage
	err := s.db.
		Where("from_uid = ? OR to_uid = ?", uid, uid).
		Order("created_at DESC").
		Limit(n).
		Find(&rows).Error
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return rows, err
}
