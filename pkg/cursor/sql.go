package cursor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const schemaVersion = 2

// SQLConfig configures a SQLStore.
type SQLConfig struct {
	// Path is a local database path, a file: DSN, ":memory:", or a libsql URL.
	Path string

	// AuthToken is appended to URL DSNs as authToken=... when not already present.
	AuthToken string

	// Namespace scopes rows to one generator.
	Namespace string
}

// SQLStore persists cursors in a SQLite or libsql database.
type SQLStore struct {
	db        *sql.DB
	namespace string
}

var _ Store = (*SQLStore)(nil)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS cursor_meta (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		schema_version INTEGER NOT NULL,
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS asset_cursors (
		namespace TEXT NOT NULL,
		asset TEXT NOT NULL,
		continuation_token TEXT NOT NULL,
		last_key TEXT NOT NULL DEFAULT '',
		updated_at TEXT NOT NULL,
		PRIMARY KEY (namespace, asset)
	)`,
}

// OpenSQLStore opens the database and creates the schema if needed.
func OpenSQLStore(ctx context.Context, cfg SQLConfig) (*SQLStore, error) {
	dsn, err := buildDSN(cfg)
	if err != nil {
		return nil, err
	}
	db, err := openDB(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLStore{db: db, namespace: cfg.Namespace}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init cursor schema: %w", err)
		}
	}
	_, err := db.ExecContext(ctx,
		`INSERT OR IGNORE INTO cursor_meta (id, schema_version, created_at) VALUES (1, ?, ?)`,
		schemaVersion, formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("record cursor schema version: %w", err)
	}

	var version int
	if err := db.QueryRowContext(ctx, `SELECT schema_version FROM cursor_meta WHERE id = 1`).Scan(&version); err != nil {
		return fmt.Errorf("read cursor schema version: %w", err)
	}
	if version < 2 {
		if _, err := db.ExecContext(ctx, `ALTER TABLE asset_cursors ADD COLUMN last_key TEXT NOT NULL DEFAULT ''`); err != nil {
			return fmt.Errorf("add last_key column: %w", err)
		}
		if _, err := db.ExecContext(ctx, `UPDATE cursor_meta SET schema_version = ? WHERE id = 1`, schemaVersion); err != nil {
			return fmt.Errorf("record cursor schema version: %w", err)
		}
	}
	return nil
}

// Load returns the stored cursor, or the zero Cursor.
func (s *SQLStore) Load(ctx context.Context, asset string) (Cursor, error) {
	var token, lastKey, updated string
	err := s.db.QueryRowContext(ctx,
		`SELECT continuation_token, last_key, updated_at FROM asset_cursors WHERE namespace = ? AND asset = ?`,
		s.namespace, asset,
	).Scan(&token, &lastKey, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Cursor{}, nil
	}
	if err != nil {
		return Cursor{}, fmt.Errorf("load cursor %s: %w", asset, err)
	}
	return Cursor{ContinuationToken: token, LastKey: lastKey, UpdatedAt: parseTime(updated)}, nil
}

// Save upserts c for asset. A zero cursor deletes the row instead.
func (s *SQLStore) Save(ctx context.Context, asset string, c Cursor) error {
	if c.IsZero() {
		return s.Delete(ctx, asset)
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO asset_cursors (namespace, asset, continuation_token, last_key, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(namespace, asset) DO UPDATE SET
			continuation_token=excluded.continuation_token,
			last_key=excluded.last_key,
			updated_at=excluded.updated_at
	`, s.namespace, asset, c.ContinuationToken, c.LastKey, formatTime(c.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save cursor %s: %w", asset, err)
	}
	return nil
}

// Delete removes the asset's row.
func (s *SQLStore) Delete(ctx context.Context, asset string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM asset_cursors WHERE namespace = ? AND asset = ?`, s.namespace, asset,
	); err != nil {
		return fmt.Errorf("delete cursor %s: %w", asset, err)
	}
	return nil
}

// List returns every cursor in the store's namespace.
func (s *SQLStore) List(ctx context.Context) (map[string]Cursor, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT asset, continuation_token, last_key, updated_at FROM asset_cursors WHERE namespace = ? ORDER BY asset`,
		s.namespace,
	)
	if err != nil {
		return nil, fmt.Errorf("list cursors: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]Cursor)
	for rows.Next() {
		var asset, token, lastKey, updated string
		if err := rows.Scan(&asset, &token, &lastKey, &updated); err != nil {
			return nil, fmt.Errorf("scan cursor: %w", err)
		}
		out[asset] = Cursor{ContinuationToken: token, LastKey: lastKey, UpdatedAt: parseTime(updated)}
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(v string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, v)
	return t
}

func isRemote(dsn string) bool {
	return strings.HasPrefix(dsn, "libsql://") || strings.HasPrefix(dsn, "https://")
}

// buildDSN turns SQLConfig.Path into a driver DSN. Plain paths become file:
// DSNs and the parent directory of any local database is created.
func buildDSN(cfg SQLConfig) (string, error) {
	path := strings.TrimSpace(cfg.Path)
	switch {
	case path == "":
		return "", errors.New("cursor store path is required")
	case path == ":memory:":
		return path, nil
	case isRemote(path):
		return withAuthToken(path, cfg.AuthToken)
	}

	dsn := path
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + filepath.Clean(path)
	}
	if err := mkdirFor(localFile(dsn)); err != nil {
		return "", err
	}
	return dsn, nil
}

// localFile strips the file: scheme and any query from a DSN.
func localFile(dsn string) string {
	p, _, _ := strings.Cut(strings.TrimPrefix(dsn, "file:"), "?")
	return strings.TrimPrefix(p, "//")
}

func withAuthToken(dsn, token string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return dsn, nil
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid cursor store url: %w", err)
	}
	q := u.Query()
	if q.Has("authToken") {
		return dsn, nil
	}
	q.Set("authToken", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

var localPragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
}

// configureLocal pins local databases to a single connection. In-memory
// databases exist per connection; files additionally get WAL and a busy
// timeout.
func configureLocal(ctx context.Context, db *sql.DB, dsn string) error {
	if isRemote(dsn) {
		return nil
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if dsn == ":memory:" {
		db.SetConnMaxLifetime(0)
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for _, pragma := range localPragmas {
		// Both pragmas return a row; libsql rejects them through Exec.
		var ignored any
		if err := db.QueryRowContext(ctx, pragma).Scan(&ignored); err != nil {
			return fmt.Errorf("%s: %w", strings.ToLower(pragma), err)
		}
	}
	return nil
}

func mkdirFor(path string) error {
	dir := filepath.Dir(filepath.Clean(path))
	if dir == "." || dir == string(filepath.Separator) {
		return nil
	}
	// #nosec G301 -- cursor directories may be shared between users
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cursor store directory: %w", err)
	}
	return nil
}
