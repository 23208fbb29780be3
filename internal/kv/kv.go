// Package kv provides the string-keyed blob store the app persists whole
// collections into. Values are opaque serialized text.
package kv

import (
	"context"
	"errors"
	"fmt"

	"github.com/pathakanu/medimate/internal/config"
	"github.com/sirupsen/logrus"
)

// Keys used by the app.
const (
	KeyReminders   = "reminders"
	KeyChatHistory = "chatHistory"
)

// ErrNotFound is returned by Get when the key holds no value.
var ErrNotFound = errors.New("kv: key not found")

// Store is a string-keyed blob store.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Close() error
}

// Open creates the backend selected by cfg.
func Open(ctx context.Context, cfg config.StorageConfig, log logrus.FieldLogger) (Store, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		log.Info("kv: using in-memory store")
		return NewMemoryStore(), nil
	case config.BackendSQLite, config.BackendPostgres:
		return NewGormStore(cfg, log)
	case config.BackendPgx:
		return NewPgxStore(ctx, cfg.DatabaseURL, log)
	case config.BackendRedis:
		return NewRedisStore(ctx, cfg.RedisURL, cfg.RedisPrefix, log)
	default:
		return nil, fmt.Errorf("kv: unknown backend %q", cfg.Backend)
	}
}
