package data

import (
	"context"
	"fmt"

	"github.com/PLark-droid/lark-slack-connector/internal/biz/repo"
)

// Store backends
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

// StoreConfig selects and configures the ledger/cache store
type StoreConfig struct {
	Backend    string
	RedisURL   string
	SQLitePath string
}

// Cleaner is implemented by stores whose expired entries must be removed explicitly
type Cleaner interface {
	Cleanup(ctx context.Context) (int64, error)
}

// NewStore creates the configured store
func NewStore(ctx context.Context, cfg StoreConfig) (repo.Store, error) {
	switch cfg.Backend {
	case "", BackendMemory:
		return NewMemoryStore(nil), nil
	case BackendRedis:
		return NewRedisStore(ctx, cfg.RedisURL)
	case BackendSQLite:
		return NewSQLiteStore(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
