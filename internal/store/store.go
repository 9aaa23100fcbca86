// Package store persists frames relayed by the development server.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Frame is one relayed WebSocket message
type Frame struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	ClientID  string    `gorm:"index;type:varchar(36)" json:"client_id"`
	Binary    bool      `json:"binary"`
	Payload   []byte    `json:"payload"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

// BeforeCreate assigns an ID when none is set
func (f *Frame) BeforeCreate(tx *gorm.DB) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	return nil
}

// Store is a gorm-backed frame log
type Store struct {
	db *gorm.DB
}

// Open connects to dsn. Postgres URLs and key=value DSNs use the postgres
// driver; anything else is a SQLite path (":memory:" included).
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(dialector(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if isSQLite(dsn) {
		// One connection keeps an in-memory database alive and shared
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetMaxOpenConns(20)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	return &Store{db: db}, nil
}

func isSQLite(dsn string) bool {
	return !strings.HasPrefix(dsn, "postgres://") &&
		!strings.HasPrefix(dsn, "postgresql://") &&
		!strings.Contains(dsn, "host=")
}

func dialector(dsn string) gorm.Dialector {
	if isSQLite(dsn) {
		return sqlite.Open(dsn)
	}
	return postgres.Open(dsn)
}

// Migrate creates or updates the frames table
func (s *Store) Migrate() error {
	if err := s.db.AutoMigrate(&Frame{}); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// SaveFrame inserts f, filling ID and CreatedAt when empty
func (s *Store) SaveFrame(ctx context.Context, f *Frame) error {
	return s.db.WithContext(ctx).Create(f).Error
}

// RecentFrames returns up to limit frames, newest first
func (s *Store) RecentFrames(ctx context.Context, limit int) ([]Frame, error) {
	var frames []Frame
	err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&frames).Error
	return frames, err
}

// CountFrames returns the number of stored frames
func (s *Store) CountFrames(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&Frame{}).Count(&n).Error
	return n, err
}

// Close releases the database connection
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
