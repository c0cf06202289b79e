package db

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Load when no value is stored under the key.
var ErrNotFound = errors.New("blob not found")

// BlobStore is the local persistence collaborator: independently addressable
// string values. Implementations must be safe for concurrent use.
type BlobStore interface {
	Load(ctx context.Context, key string) (string, error)
	Save(ctx context.Context, key, value string) error
	Close() error
}

// Options selects and configures a BlobStore backend.
type Options struct {
	Backend string // sqlite (default), bolt, redis, memory

	SQLitePath string
	BoltPath   string

	RedisAddress  string
	RedisPassword string
	RedisDatabase int
	RedisPrefix   string
}

// Open opens the backend named in opts.
func Open(ctx context.Context, opts Options) (BlobStore, error) {
	switch opts.Backend {
	case "", "sqlite":
		return New(opts.SQLitePath)
	case "bolt":
		return NewBoltStore(opts.BoltPath)
	case "redis":
		return NewRedisStore(ctx, opts.RedisAddress, opts.RedisPassword, opts.RedisDatabase, opts.RedisPrefix)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", opts.Backend)
	}
}
