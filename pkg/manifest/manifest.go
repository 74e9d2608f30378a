// Package manifest provides loading and validation of nimbusgen generator
// manifests.
//
// A generator manifest is a YAML or JSON file that configures the storage
// connection, generator defaults, the named assets, and where listing
// cursors are persisted.
//
// Manifests are validated against an embedded JSON Schema before they are
// decoded. The schema enforces strict typing and disallows unknown properties.
//
// Example manifest (YAML):
//
//	version: "1.0"
//	connection:
//	  provider: s3
//	  bucket: my-data-bucket
//	  region: us-east-1
//	generator:
//	  name: logs
//	  reader_method: csv
//	  reader_options:
//	    sep: "~"
//	assets:
//	  access_logs:
//	    prefix: access_logs/
//	    regex_filter: "access_logs/2019.*\\.csv\\.gz"
//	    partition_regex: "access_logs/(\\d{4}-\\d{2}-\\d{2})"
//	cursor:
//	  backend: sqlite
//	  path: .nimbusgen/cursors.db
package manifest

import (
	"fmt"
	"time"

	"github.com/3leaps/nimbusgen/pkg/batch"
	"github.com/3leaps/nimbusgen/pkg/cursor"
	"github.com/3leaps/nimbusgen/pkg/generator"
)

// Manifest represents a validated generator manifest.
type Manifest struct {
	// Schema is an optional JSON Schema reference for editor support.
	Schema string `json:"$schema,omitempty" yaml:"$schema,omitempty"`

	// Version is the manifest schema version. Must be "1.0".
	Version string `json:"version" yaml:"version"`

	// Connection configures the storage provider.
	Connection ConnectionConfig `json:"connection" yaml:"connection"`

	// Generator holds generator-wide defaults (optional).
	Generator GeneratorConfig `json:"generator,omitempty" yaml:"generator,omitempty"`

	// Assets maps asset names to their configuration. When omitted a single
	// "default" asset covers the whole bucket.
	Assets map[string]generator.AssetConfig `json:"assets,omitempty" yaml:"assets,omitempty"`

	// Cursor configures where continuation tokens are persisted (optional).
	Cursor CursorConfig `json:"cursor,omitempty" yaml:"cursor,omitempty"`
}

// ConnectionConfig configures the storage provider connection.
type ConnectionConfig struct {
	// Provider is one of "s3", "minio" or "file". Default: "s3".
	Provider string `json:"provider,omitempty" yaml:"provider,omitempty"`

	// Bucket is the bucket descriptors point into.
	Bucket string `json:"bucket" yaml:"bucket"`

	// Region is the AWS region. Optional.
	Region string `json:"region,omitempty" yaml:"region,omitempty"`

	// Endpoint is a custom endpoint. For s3 it is a URL; for minio a host:port.
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`

	// Profile is the AWS credential profile name (s3 only).
	Profile string `json:"profile,omitempty" yaml:"profile,omitempty"`

	// UseSSL selects HTTPS for minio. Default: true.
	UseSSL *bool `json:"use_ssl,omitempty" yaml:"use_ssl,omitempty"`

	// BaseDir is the root directory for the file provider.
	BaseDir string `json:"base_dir,omitempty" yaml:"base_dir,omitempty"`

	// MaxAttempts caps SDK retries per listing request (s3 only). Zero keeps
	// the SDK default.
	MaxAttempts int `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty"`
}

// GeneratorConfig holds generator-wide defaults.
type GeneratorConfig struct {
	Name              string             `json:"name,omitempty" yaml:"name,omitempty"`
	Delimiter         string             `json:"delimiter,omitempty" yaml:"delimiter,omitempty"`
	MaxKeys           int                `json:"max_keys,omitempty" yaml:"max_keys,omitempty"`
	ReaderMethod      batch.ReaderMethod `json:"reader_method,omitempty" yaml:"reader_method,omitempty"`
	ReaderOptions     map[string]any     `json:"reader_options,omitempty" yaml:"reader_options,omitempty"`
	InferReaderMethod bool               `json:"infer_reader_method,omitempty" yaml:"infer_reader_method,omitempty"`

	// RateLimit caps page fetches per second (0 = unlimited).
	RateLimit float64 `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`
}

// CursorConfig selects the cursor store backend.
type CursorConfig struct {
	// Backend is "memory", "sqlite" or "redis". Default: "memory".
	Backend string `json:"backend,omitempty" yaml:"backend,omitempty"`

	// Path is the SQLite file or libsql:// URL.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// URL is the redis:// URL.
	URL string `json:"url,omitempty" yaml:"url,omitempty"`

	// TTL expires Redis cursors, as a Go duration string.
	TTL string `json:"ttl,omitempty" yaml:"ttl,omitempty"`
}

// Default values for optional configuration fields.
const (
	DefaultVersion  = "1.0"
	DefaultProvider = "s3"
	DefaultBackend  = cursor.BackendMemory
)

// ApplyDefaults fills in default values for optional fields.
func (m *Manifest) ApplyDefaults() {
	if m.Version == "" {
		m.Version = DefaultVersion
	}
	if m.Connection.Provider == "" {
		m.Connection.Provider = DefaultProvider
	}
	if m.Connection.Provider == "minio" && m.Connection.UseSSL == nil {
		useSSL := true
		m.Connection.UseSSL = &useSSL
	}
	if m.Generator.Name == "" {
		m.Generator.Name = generator.DefaultName
	}
	if m.Generator.Delimiter == "" {
		m.Generator.Delimiter = generator.DefaultDelimiter
	}
	if m.Generator.MaxKeys == 0 {
		m.Generator.MaxKeys = generator.DefaultMaxKeys
	}
	if m.Cursor.Backend == "" {
		m.Cursor.Backend = DefaultBackend
	}
}

// UseSSLEnabled returns whether minio connections use HTTPS.
func (c *ConnectionConfig) UseSSLEnabled() bool {
	if c.UseSSL == nil {
		return true
	}
	return *c.UseSSL
}

// ToGeneratorConfig converts the manifest into a generator configuration.
func (m *Manifest) ToGeneratorConfig() generator.Config {
	return generator.Config{
		Name:              m.Generator.Name,
		Bucket:            m.Connection.Bucket,
		Delimiter:         m.Generator.Delimiter,
		MaxKeys:           m.Generator.MaxKeys,
		ReaderMethod:      m.Generator.ReaderMethod,
		ReaderOptions:     m.Generator.ReaderOptions,
		InferReaderMethod: m.Generator.InferReaderMethod,
		RateLimit:         m.Generator.RateLimit,
		Assets:            m.Assets,
	}
}

// CursorStoreConfig converts the cursor section into a cursor.Config. The
// generator name namespaces the stored cursors.
func (m *Manifest) CursorStoreConfig() (cursor.Config, error) {
	cfg := cursor.Config{
		Backend:   m.Cursor.Backend,
		Namespace: m.Generator.Name,
		Path:      m.Cursor.Path,
		URL:       m.Cursor.URL,
	}
	if m.Cursor.TTL != "" {
		ttl, err := time.ParseDuration(m.Cursor.TTL)
		if err != nil {
			return cursor.Config{}, fmt.Errorf("invalid cursor ttl %q: %w", m.Cursor.TTL, err)
		}
		cfg.TTL = ttl
	}
	return cfg, nil
}
