// Package provider defines the object storage listing capability consumed by
// the generator.
//
// A provider is bound to one bucket and its credentials at construction and
// exposes a single paged, delimiter-aware listing call. Credentials come
// from each SDK's default chain.
package provider

import "time"

// Provider is a DelimiterLister that owns resources. Implementations are
// safe for concurrent use and return opaque continuation tokens.
type Provider interface {
	DelimiterLister
	Close() error
}

// ObjectSummary is the listing metadata of one object.
type ObjectSummary struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

// ProviderType names a storage backend as it appears in manifests.
type ProviderType string

const (
	// ProviderS3 covers AWS S3 and S3-compatible endpoints.
	ProviderS3    ProviderType = "s3"
	ProviderMinIO ProviderType = "minio"

	// ProviderFile treats a local directory as a bucket.
	ProviderFile ProviderType = "file"
)

func (p ProviderType) String() string { return string(p) }

// ParseProviderType resolves a manifest value; empty means ProviderS3.
func ParseProviderType(s string) (ProviderType, bool) {
	switch t := ProviderType(s); t {
	case "":
		return ProviderS3, true
	case ProviderS3, ProviderMinIO, ProviderFile:
		return t, true
	}
	return "", false
}
