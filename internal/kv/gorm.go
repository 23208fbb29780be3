package kv

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pathakanu/medimate/internal/config"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Blob is one stored value.
type Blob struct {
	Key       string    `gorm:"primaryKey;size:191"`
	Value     string    `gorm:"type:text;not null"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// GormStore keeps blobs in a SQL table through GORM.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a GORM database connection.
// When a database URL is provided PostgreSQL is used, otherwise SQLite is used.
func NewGormStore(cfg config.StorageConfig, log logrus.FieldLogger) (*GormStore, error) {
	var (
		db  *gorm.DB
		err error
	)

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	}

	if cfg.Backend == config.BackendPostgres {
		db, err = gorm.Open(postgres.Open(cfg.DatabaseURL), gormConfig)
	} else {
		db, err = gorm.Open(sqlite.Open(cfg.SQLitePath), gormConfig)
	}
	if err != nil {
		return nil, fmt.Errorf("kv: open database: %w", err)
	}

	store, err := NewGormStoreWithDB(db)
	if err != nil {
		return nil, err
	}
	logBackend(db, log)
	return store, nil
}

// NewGormStoreWithDB wraps an existing connection and migrates the blob table.
func NewGormStoreWithDB(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&Blob{}); err != nil {
		return nil, fmt.Errorf("kv: migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) Get(ctx context.Context, key string) (string, error) {
	var blob Blob
	err := s.db.WithContext(ctx).Where("key = ?", key).Take(&blob).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("kv: get %s: %w", key, err)
	}
	return blob.Value, nil
}

func (s *GormStore) Set(ctx context.Context, key, value string) error {
	blob := Blob{Key: key, Value: value}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&blob).Error
	if err != nil {
		return fmt.Errorf("kv: set %s: %w", key, err)
	}
	return nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func logBackend(db *gorm.DB, log logrus.FieldLogger) {
	dialector := db.Dialector.Name()
	switch strings.ToLower(dialector) {
	case "postgres":
		log.Info("kv: connected to PostgreSQL")
	case "sqlite":
		log.Info("kv: using SQLite")
	default:
		log.Infof("kv: connected via %s", dialector)
	}
}
