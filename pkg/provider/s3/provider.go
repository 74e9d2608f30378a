package s3

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/3leaps/nimbusgen/pkg/provider"
)

type listAPI interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Provider lists one bucket with ListObjectsV2.
type Provider struct {
	client  listAPI
	bucket  string
	maxKeys int
}

var _ provider.Provider = (*Provider)(nil)

// New validates cfg and builds an SDK client. Credentials come from the
// SDK default chain unless cfg carries a static key pair.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOptions(cfg)...)
	if err != nil {
		return nil, &provider.ProviderError{Op: "New", Provider: provider.ProviderS3, Bucket: cfg.Bucket, Err: err}
	}
	awsCfg.Region = resolveRegion(cfg.Endpoint, awsCfg.Region)

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ForcePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return newWithClient(client, cfg.Bucket, cfg.MaxKeys), nil
}

func newWithClient(client listAPI, bucket string, maxKeys int) *Provider {
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}
	return &Provider{client: client, bucket: bucket, maxKeys: maxKeys}
}

// loadOptions pins only what cfg sets so environment and profile
// resolution still apply to the rest.
func loadOptions(cfg Config) []func(*config.LoadOptions) error {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)))
	}
	if cfg.MaxAttempts > 0 {
		opts = append(opts, config.WithRetryMaxAttempts(cfg.MaxAttempts))
	}
	return opts
}

// Bucket returns the bucket this provider lists.
func (p *Provider) Bucket() string {
	return p.bucket
}

// ListWithDelimiter fetches one ListObjectsV2 page.
func (p *Provider) ListWithDelimiter(ctx context.Context, opts provider.ListWithDelimiterOptions) (*provider.ListWithDelimiterResult, error) {
	out, err := p.client.ListObjectsV2(ctx, p.listInput(opts))
	if err != nil {
		return nil, p.wrapError("ListWithDelimiter", opts.Prefix, err)
	}
	return toResult(out), nil
}

func (p *Provider) listInput(opts provider.ListWithDelimiterOptions) *s3.ListObjectsV2Input {
	optional := func(v string) *string {
		if v == "" {
			return nil
		}
		return aws.String(v)
	}
	return &s3.ListObjectsV2Input{
		Bucket:            aws.String(p.bucket),
		Prefix:            optional(opts.Prefix),
		Delimiter:         optional(opts.Delimiter),
		ContinuationToken: optional(opts.ContinuationToken),
		MaxKeys:           aws.Int32(int32(clampMaxKeys(opts.MaxKeys, p.maxKeys))),
	}
}

func toResult(out *s3.ListObjectsV2Output) *provider.ListWithDelimiterResult {
	result := &provider.ListWithDelimiterResult{
		Objects:           make([]provider.ObjectSummary, 0, len(out.Contents)),
		IsTruncated:       aws.ToBool(out.IsTruncated),
		ContinuationToken: aws.ToString(out.NextContinuationToken),
	}
	for _, obj := range out.Contents {
		result.Objects = append(result.Objects, provider.ObjectSummary{
			Key:          aws.ToString(obj.Key),
			Size:         aws.ToInt64(obj.Size),
			ETag:         cleanETag(aws.ToString(obj.ETag)),
			LastModified: aws.ToTime(obj.LastModified),
		})
	}
	for _, cp := range out.CommonPrefixes {
		if cp.Prefix != nil {
			result.CommonPrefixes = append(result.CommonPrefixes, *cp.Prefix)
		}
	}
	return result
}

// Close is a no-op; the SDK client holds no resources.
func (p *Provider) Close() error {
	return nil
}

// wrapError returns a ProviderError whose cause is a provider sentinel when
// the SDK error is recognized, and the SDK error otherwise.
func (p *Provider) wrapError(op, prefix string, err error) error {
	cause := err
	if sentinel := classify(err); sentinel != nil {
		cause = sentinel
	}
	return &provider.ProviderError{
		Op:       op,
		Provider: provider.ProviderS3,
		Bucket:   p.bucket,
		Key:      prefix,
		Err:      cause,
	}
}

var apiErrorCodes = map[string]error{
	"NoSuchKey":             provider.ErrNotFound,
	"NotFound":              provider.ErrNotFound,
	"NoSuchBucket":          provider.ErrBucketNotFound,
	"AccessDenied":          provider.ErrAccessDenied,
	"Forbidden":             provider.ErrAccessDenied,
	"InvalidAccessKeyId":    provider.ErrInvalidCredentials,
	"SignatureDoesNotMatch": provider.ErrInvalidCredentials,
	"ExpiredToken":          provider.ErrInvalidCredentials,
	"SlowDown":              provider.ErrThrottled,
	"Throttling":            provider.ErrThrottled,
	"RequestLimitExceeded":  provider.ErrThrottled,
	"ServiceUnavailable":    provider.ErrProviderUnavailable,
	"InternalError":         provider.ErrProviderUnavailable,
}

var httpStatuses = map[int]error{
	http.StatusNotFound:           provider.ErrNotFound,
	http.StatusForbidden:          provider.ErrAccessDenied,
	http.StatusTooManyRequests:    provider.ErrThrottled,
	http.StatusServiceUnavailable: provider.ErrProviderUnavailable,
}

// messageHints classify errors that reach us without typed detail. Order
// matters: bucket errors mention the key-level 404 text too.
var messageHints = []struct {
	hint     string
	sentinel error
}{
	{"NoSuchBucket", provider.ErrBucketNotFound},
	{"NoSuchKey", provider.ErrNotFound},
	{"StatusCode: 404", provider.ErrNotFound},
	{"AccessDenied", provider.ErrAccessDenied},
	{"Forbidden", provider.ErrAccessDenied},
	{"StatusCode: 403", provider.ErrAccessDenied},
	{"InvalidAccessKeyId", provider.ErrInvalidCredentials},
	{"SignatureDoesNotMatch", provider.ErrInvalidCredentials},
	{"SlowDown", provider.ErrThrottled},
	{"Throttling", provider.ErrThrottled},
	{"StatusCode: 429", provider.ErrThrottled},
	{"ServiceUnavailable", provider.ErrProviderUnavailable},
	{"StatusCode: 503", provider.ErrProviderUnavailable},
}

// classify maps an SDK error to a provider sentinel, or nil when unknown.
func classify(err error) error {
	var (
		noSuchBucket *types.NoSuchBucket
		noSuchKey    *types.NoSuchKey
		notFound     *types.NotFound
	)
	switch {
	case errors.As(err, &noSuchBucket):
		return provider.ErrBucketNotFound
	case errors.As(err, &noSuchKey), errors.As(err, &notFound):
		return provider.ErrNotFound
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErrorCodes[apiErr.ErrorCode()]
	}

	var status interface{ HTTPStatusCode() int }
	if errors.As(err, &status) {
		if sentinel, ok := httpStatuses[status.HTTPStatusCode()]; ok {
			return sentinel
		}
	}

	msg := err.Error()
	for _, h := range messageHints {
		if strings.Contains(msg, h.hint) {
			return h.sentinel
		}
	}
	return nil
}

func cleanETag(etag string) string {
	return strings.Trim(etag, `"`)
}

// clampMaxKeys falls back to the provider default and caps at the S3 limit.
func clampMaxKeys(requested, providerDefault int) int {
	if requested <= 0 {
		requested = providerDefault
	}
	return min(requested, MaxAllowedKeys)
}

// resolveRegion falls back to us-east-1 for AWS S3 only, after the SDK has
// tried explicit, environment and profile regions.
func resolveRegion(endpoint, sdkRegion string) string {
	switch {
	case sdkRegion != "":
		return sdkRegion
	case endpoint == "":
		return DefaultAWSRegion
	default:
		return ""
	}
}
