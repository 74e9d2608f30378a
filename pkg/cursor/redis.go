package cursor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisKeyPrefix = "nimbusgen:cursor:"

// RedisConfig configures a RedisStore.
type RedisConfig struct {
	// URL is a redis:// or rediss:// URL. Empty connects to Addr.
	URL string

	// Addr is host:port used when URL is empty. Defaults to 127.0.0.1:6379.
	Addr     string
	Password string
	DB       int

	// Namespace scopes keys to one generator.
	Namespace string

	// TTL expires cursors that are not refreshed. Zero disables expiry.
	TTL time.Duration
}

// RedisStore persists cursors as JSON values in Redis.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ Store = (*RedisStore)(nil)

// OpenRedisStore connects and pings the server.
func OpenRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	opts, err := buildRedisOptions(cfg)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewRedisStore(client, cfg.Namespace, cfg.TTL), nil
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client, namespace string, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: keyPrefix(namespace), ttl: ttl}
}

func keyPrefix(namespace string) string {
	if namespace == "" {
		return defaultRedisKeyPrefix
	}
	return defaultRedisKeyPrefix + namespace + ":"
}

func buildRedisOptions(cfg RedisConfig) (*redis.Options, error) {
	if cfg.URL != "" {
		opt, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		return opt, nil
	}

	addr := cfg.Addr
	if addr == "" {
		addr = net.JoinHostPort("127.0.0.1", "6379")
	}
	return &redis.Options{Addr: addr, Password: cfg.Password, DB: cfg.DB}, nil
}

// globEscaper quotes the characters SCAN MATCH treats as pattern syntax.
var globEscaper = strings.NewReplacer(`\`, `\\`, "*", `\*`, "?", `\?`, "[", `\[`, "]", `\]`)

// matchPattern returns the SCAN MATCH pattern for every key under prefix.
func matchPattern(prefix string) string {
	return globEscaper.Replace(prefix) + "*"
}

func (s *RedisStore) key(asset string) string {
	return s.prefix + asset
}

// Load returns the stored cursor, or the zero Cursor when the key is absent.
func (s *RedisStore) Load(ctx context.Context, asset string) (Cursor, error) {
	raw, err := s.client.Get(ctx, s.key(asset)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Cursor{}, nil
	}
	if err != nil {
		return Cursor{}, fmt.Errorf("load cursor %s: %w", asset, err)
	}
	var c Cursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return Cursor{}, fmt.Errorf("decode cursor %s: %w", asset, err)
	}
	return c, nil
}

// Save writes c as JSON, refreshing the TTL. A zero cursor deletes the key.
func (s *RedisStore) Save(ctx context.Context, asset string, c Cursor) error {
	if c.IsZero() {
		return s.Delete(ctx, asset)
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode cursor %s: %w", asset, err)
	}
	if err := s.client.Set(ctx, s.key(asset), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("save cursor %s: %w", asset, err)
	}
	return nil
}

// Delete removes the asset's key.
func (s *RedisStore) Delete(ctx context.Context, asset string) error {
	if err := s.client.Del(ctx, s.key(asset)).Err(); err != nil {
		return fmt.Errorf("delete cursor %s: %w", asset, err)
	}
	return nil
}

// List scans the namespace's keys and loads each cursor.
func (s *RedisStore) List(ctx context.Context) (map[string]Cursor, error) {
	out := make(map[string]Cursor)
	var scanCursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, scanCursor, matchPattern(s.prefix), 100).Result()
		if err != nil {
			return nil, fmt.Errorf("redis scan failed: %w", err)
		}
		for _, k := range keys {
			asset := strings.TrimPrefix(k, s.prefix)
			c, err := s.Load(ctx, asset)
			if err != nil {
				return nil, err
			}
			if !c.IsZero() {
				out[asset] = c
			}
		}
		scanCursor = next
		if scanCursor == 0 {
			break
		}
	}
	return out, nil
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
