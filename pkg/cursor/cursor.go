// Package cursor persists per-asset listing continuation tokens.
//
// A cursor exists only while a listing pass for its asset is part-way
// through its result set. Loading a missing cursor is not an error;
// it yields the zero Cursor, which means "start from the beginning".
package cursor

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Cursor is the resumption point of one asset.
type Cursor struct {
	// ContinuationToken is the opaque token of the next page to fetch.
	ContinuationToken string `json:"continuation_token"`

	// LastKey is the last key already delivered from the page that
	// ContinuationToken fetches. Empty means the whole page is pending.
	LastKey string `json:"last_key,omitempty"`

	// UpdatedAt is when the token was last written.
	UpdatedAt time.Time `json:"updated_at"`
}

// IsZero reports whether the cursor holds no resumption point.
func (c Cursor) IsZero() bool {
	return c.ContinuationToken == "" && c.LastKey == ""
}

// Store persists cursors keyed by asset name. Implementations are scoped to
// one generator namespace and must be safe for concurrent use.
type Store interface {
	// Load returns the asset's cursor, or the zero Cursor when none is stored.
	Load(ctx context.Context, asset string) (Cursor, error)

	// Save stores a continuation token for the asset.
	Save(ctx context.Context, asset string, c Cursor) error

	// Delete removes the asset's cursor. Deleting a missing cursor is a no-op.
	Delete(ctx context.Context, asset string) error

	// List returns every stored cursor by asset name.
	List(ctx context.Context) (map[string]Cursor, error)

	// Close releases resources held by the store.
	Close() error
}

// ErrClosed is returned by stores used after Close.
var ErrClosed = errors.New("cursor store closed")

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Config selects and configures a Store backend.
type Config struct {
	// Backend is one of memory, sqlite or redis. Empty means memory.
	Backend string

	// Namespace separates cursors of different generators sharing a backend.
	Namespace string

	// Path is a SQLite file path, file: DSN, or libsql:// URL.
	Path string

	// AuthToken is appended to libsql URLs.
	AuthToken string

	// URL is a redis:// URL. Empty means 127.0.0.1:6379.
	URL string

	// TTL expires Redis cursors; zero keeps them until cleared.
	TTL time.Duration
}

// Open builds the configured Store.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", BackendMemory:
		return NewMemoryStore(), nil
	case BackendSQLite:
		return OpenSQLStore(ctx, SQLConfig{Path: cfg.Path, AuthToken: cfg.AuthToken, Namespace: cfg.Namespace})
	case BackendRedis:
		return OpenRedisStore(ctx, RedisConfig{URL: cfg.URL, Namespace: cfg.Namespace, TTL: cfg.TTL})
	default:
		return nil, fmt.Errorf("unknown cursor backend %q", cfg.Backend)
	}
}
