package repo

import (
	"context"
	"time"
)

// Store is the key-value store behind the ledger and the identity cache.
// A ttl of zero stores the value without expiry; expired keys read as missing.
type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Put(ctx context.Context, key, value string, ttl time.Duration) error

	// PutIfAbsent stores value only when key is missing or expired and reports
	// whether it did
	PutIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	Delete(ctx context.Context, key string) error
	Close() error
}
