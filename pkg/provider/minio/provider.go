// Package minio implements delimiter listing on top of the MinIO Go client.
package minio

import (
	"context"
	"errors"
	"net/http"
	"strings"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/3leaps/nimbusgen/pkg/provider"
)

// DefaultMaxKeys is the page size used when a request does not set one.
const DefaultMaxKeys = 1000

// Config configures a MinIO provider.
type Config struct {
	// Endpoint is host[:port] without scheme, e.g. "localhost:9000".
	Endpoint string

	// Bucket is the bucket name (required).
	Bucket string

	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool

	// MaxKeys is the default page size. Zero uses 1000.
	MaxKeys int
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Endpoint) == "":
		return &ConfigError{Field: "Endpoint", Message: "endpoint is required"}
	case strings.Contains(c.Endpoint, "://"):
		return &ConfigError{Field: "Endpoint", Message: "endpoint must not include a scheme; use UseSSL"}
	case strings.TrimSpace(c.Bucket) == "":
		return &ConfigError{Field: "Bucket", Message: "bucket name is required"}
	}
	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "minio config: " + e.Field + ": " + e.Message
}

// coreAPI is the subset of minio.Core used by the provider.
type coreAPI interface {
	ListObjectsV2(bucketName, objectPrefix, startAfter, continuationToken, delimiter string, maxkeys int) (miniogo.ListBucketV2Result, error)
}

// Provider implements provider.Provider using MinIO's low-level Core API,
// which exposes raw ListObjectsV2 pages and continuation tokens.
type Provider struct {
	core    coreAPI
	bucket  string
	maxKeys int
}

var _ provider.Provider = (*Provider)(nil)

// New creates a MinIO provider. No network call is made until the first listing.
func New(cfg Config) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	core, err := miniogo.NewCore(cfg.Endpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, &provider.ProviderError{Op: "New", Provider: provider.ProviderMinIO, Bucket: cfg.Bucket, Err: err}
	}

	maxKeys := cfg.MaxKeys
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}
	return &Provider{core: core, bucket: cfg.Bucket, maxKeys: maxKeys}, nil
}

// ListWithDelimiter returns one ListObjectsV2 page.
func (p *Provider) ListWithDelimiter(ctx context.Context, opts provider.ListWithDelimiterOptions) (*provider.ListWithDelimiterResult, error) {
	// The Core listing call takes no context; honor cancellation up front.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	maxKeys := opts.MaxKeys
	if maxKeys <= 0 {
		maxKeys = p.maxKeys
	}

	out, err := p.core.ListObjectsV2(p.bucket, opts.Prefix, "", opts.ContinuationToken, opts.Delimiter, maxKeys)
	if err != nil {
		return nil, p.wrapError("ListWithDelimiter", opts.Prefix, err)
	}

	result := &provider.ListWithDelimiterResult{
		Objects:     make([]provider.ObjectSummary, 0, len(out.Contents)),
		IsTruncated: out.IsTruncated,
	}
	for _, obj := range out.Contents {
		result.Objects = append(result.Objects, provider.ObjectSummary{
			Key:          obj.Key,
			Size:         obj.Size,
			ETag:         strings.Trim(obj.ETag, "\""),
			LastModified: obj.LastModified,
		})
	}
	for _, cp := range out.CommonPrefixes {
		result.CommonPrefixes = append(result.CommonPrefixes, cp.Prefix)
	}
	if out.IsTruncated {
		result.ContinuationToken = out.NextContinuationToken
	}
	return result, nil
}

// Close is a no-op; the client holds no persistent connections.
func (p *Provider) Close() error { return nil }

func (p *Provider) wrapError(op, key string, err error) error {
	wrapped := &provider.ProviderError{Op: op, Provider: provider.ProviderMinIO, Bucket: p.bucket, Key: key, Err: err}
	if sentinel := mapError(err); sentinel != nil {
		wrapped.Err = sentinel
	}
	return wrapped
}

// mapError translates a MinIO ErrorResponse into a provider sentinel.
// Codes are checked before status so NoSuchBucket is not reported as a plain 404.
func mapError(err error) error {
	var resp miniogo.ErrorResponse
	if !errors.As(err, &resp) {
		return nil
	}

	switch resp.Code {
	case "NoSuchBucket":
		return provider.ErrBucketNotFound
	case "NoSuchKey":
		return provider.ErrNotFound
	case "AccessDenied":
		return provider.ErrAccessDenied
	case "InvalidAccessKeyId", "SignatureDoesNotMatch":
		return provider.ErrInvalidCredentials
	case "SlowDown", "SlowDownRead", "XMinioServerBusy":
		return provider.ErrThrottled
	case "ServiceUnavailable", "InternalError", "XMinioServerNotInitialized":
		return provider.ErrProviderUnavailable
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		return provider.ErrNotFound
	case http.StatusForbidden:
		return provider.ErrAccessDenied
	case http.StatusUnauthorized:
		return provider.ErrInvalidCredentials
	case http.StatusTooManyRequests:
		return provider.ErrThrottled
	case http.StatusServiceUnavailable, http.StatusBadGateway:
		return provider.ErrProviderUnavailable
	}
	return nil
}
