// Package s3 implements delimiter listing for AWS S3 and S3-compatible storage.
package s3

import (
	"errors"
	"net/url"
	"strings"
)

const (
	// DefaultMaxKeys is the page size used when neither the request nor the
	// config sets one.
	DefaultMaxKeys = 1000

	// MaxAllowedKeys is the largest page ListObjectsV2 returns.
	MaxAllowedKeys = 1000

	// DefaultAWSRegion applies to AWS S3 when nothing else resolves a region.
	DefaultAWSRegion = "us-east-1"
)

// Config configures a Provider.
//
// Credentials resolve in SDK order: a static key pair from the config, then
// AWS_* environment variables, then shared config files (optionally under
// Profile), then instance or task roles.
type Config struct {
	Bucket string
	Region string

	// Endpoint is an absolute URL for S3-compatible stores such as
	// http://localhost:9000. Empty means AWS S3.
	Endpoint string
	Profile  string

	// AccessKeyID and SecretAccessKey must be set together.
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	// ForcePathStyle puts the bucket in the path instead of the host.
	ForcePathStyle bool

	// MaxKeys is the page size for requests that do not set one. Values
	// above MaxAllowedKeys are clamped.
	MaxKeys int

	// MaxAttempts overrides the SDK retry budget per request. Zero keeps
	// the SDK default.
	MaxAttempts int
}

// Validate reports every problem with the config at once.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Bucket) == "" {
		errs = append(errs, &ConfigError{Field: "Bucket", Message: "bucket name is required"})
	}
	if (c.AccessKeyID == "") != (c.SecretAccessKey == "") {
		errs = append(errs, &ConfigError{
			Field:   "AccessKeyID/SecretAccessKey",
			Message: "access key ID and secret access key must be provided together",
		})
	}
	if c.SessionToken != "" && c.AccessKeyID == "" {
		errs = append(errs, &ConfigError{Field: "SessionToken", Message: "requires a static access key"})
	}
	if c.Endpoint != "" {
		if u, err := url.Parse(c.Endpoint); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, &ConfigError{Field: "Endpoint", Message: "endpoint must be an absolute URL (scheme://host)"})
		}
	}
	if c.MaxAttempts < 0 {
		errs = append(errs, &ConfigError{Field: "MaxAttempts", Message: "must not be negative"})
	}
	return errors.Join(errs...)
}

// ConfigError names the invalid field.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "s3 config: " + e.Field + ": " + e.Message
}
