package minio

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/nimbusgen/pkg/provider"
)

type listCall struct {
	bucket, prefix, token, delimiter string
	maxKeys                          int
}

type fakeCore struct {
	calls  []listCall
	result miniogo.ListBucketV2Result
	err    error
}

func (f *fakeCore) ListObjectsV2(bucket, prefix, _, token, delimiter string, maxKeys int) (miniogo.ListBucketV2Result, error) {
	f.calls = append(f.calls, listCall{bucket: bucket, prefix: prefix, token: token, delimiter: delimiter, maxKeys: maxKeys})
	return f.result, f.err
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"missing endpoint", Config{Bucket: "b"}, "endpoint is required"},
		{"scheme in endpoint", Config{Endpoint: "http://localhost:9000", Bucket: "b"}, "must not include a scheme"},
		{"missing bucket", Config{Endpoint: "localhost:9000"}, "bucket name is required"},
		{"valid", Config{Endpoint: "localhost:9000", Bucket: "b"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Contains(t, err.Error(), "minio config:")
		})
	}
}

func TestNew_BuildsCore(t *testing.T) {
	p, err := New(Config{Endpoint: "localhost:9000", Bucket: "assets", AccessKey: "minioadmin", SecretKey: "minioadmin"})
	require.NoError(t, err)
	assert.Equal(t, "assets", p.bucket)
	assert.Equal(t, DefaultMaxKeys, p.maxKeys)
	require.NoError(t, p.Close())
}

func TestListWithDelimiter_MapsPage(t *testing.T) {
	modified := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	core := &fakeCore{result: miniogo.ListBucketV2Result{
		Contents: []miniogo.ObjectInfo{
			{Key: "raw/a.parquet", Size: 42, ETag: `"etag"`, LastModified: modified},
		},
		CommonPrefixes:        []miniogo.CommonPrefix{{Prefix: "raw/2024/"}},
		IsTruncated:           true,
		NextContinuationToken: "tok-2",
	}}
	p := &Provider{core: core, bucket: "assets", maxKeys: 50}

	result, err := p.ListWithDelimiter(context.Background(), provider.ListWithDelimiterOptions{
		Prefix: "raw/", Delimiter: "/", ContinuationToken: "tok-1",
	})
	require.NoError(t, err)

	require.Len(t, core.calls, 1)
	assert.Equal(t, listCall{bucket: "assets", prefix: "raw/", token: "tok-1", delimiter: "/", maxKeys: 50}, core.calls[0])
	assert.Equal(t, []provider.ObjectSummary{{Key: "raw/a.parquet", Size: 42, ETag: "etag", LastModified: modified}}, result.Objects)
	assert.Equal(t, []string{"raw/2024/"}, result.CommonPrefixes)
	assert.True(t, result.IsTruncated)
	assert.Equal(t, "tok-2", result.ContinuationToken)
}

func TestListWithDelimiter_DropsTokenOnLastPage(t *testing.T) {
	core := &fakeCore{result: miniogo.ListBucketV2Result{NextContinuationToken: "stale"}}
	p := &Provider{core: core, bucket: "assets", maxKeys: 10}

	result, err := p.ListWithDelimiter(context.Background(), provider.ListWithDelimiterOptions{MaxKeys: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, core.calls[0].maxKeys)
	assert.False(t, result.IsTruncated)
	assert.Empty(t, result.ContinuationToken)
}

func TestListWithDelimiter_CanceledContext(t *testing.T) {
	core := &fakeCore{}
	p := &Provider{core: core, bucket: "assets", maxKeys: 10}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.ListWithDelimiter(ctx, provider.ListWithDelimiterOptions{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, core.calls)
}

func TestListWithDelimiter_WrapsErrors(t *testing.T) {
	core := &fakeCore{err: miniogo.ErrorResponse{Code: "NoSuchBucket", StatusCode: http.StatusNotFound}}
	p := &Provider{core: core, bucket: "missing", maxKeys: 10}

	_, err := p.ListWithDelimiter(context.Background(), provider.ListWithDelimiterOptions{Prefix: "x/"})
	require.Error(t, err)

	var provErr *provider.ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, provider.ProviderMinIO, provErr.Provider)
	assert.Equal(t, "missing", provErr.Bucket)
	assert.True(t, provider.IsBucketNotFound(err))
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"no such key", miniogo.ErrorResponse{Code: "NoSuchKey"}, provider.ErrNotFound},
		{"access denied", miniogo.ErrorResponse{Code: "AccessDenied"}, provider.ErrAccessDenied},
		{"bad signature", miniogo.ErrorResponse{Code: "SignatureDoesNotMatch"}, provider.ErrInvalidCredentials},
		{"slow down", miniogo.ErrorResponse{Code: "SlowDown"}, provider.ErrThrottled},
		{"internal", miniogo.ErrorResponse{Code: "InternalError"}, provider.ErrProviderUnavailable},
		{"status 404", miniogo.ErrorResponse{StatusCode: http.StatusNotFound}, provider.ErrNotFound},
		{"status 403", miniogo.ErrorResponse{StatusCode: http.StatusForbidden}, provider.ErrAccessDenied},
		{"status 401", miniogo.ErrorResponse{StatusCode: http.StatusUnauthorized}, provider.ErrInvalidCredentials},
		{"status 429", miniogo.ErrorResponse{StatusCode: http.StatusTooManyRequests}, provider.ErrThrottled},
		{"status 503", miniogo.ErrorResponse{StatusCode: http.StatusServiceUnavailable}, provider.ErrProviderUnavailable},
		{"unknown response", miniogo.ErrorResponse{Code: "Weird", StatusCode: http.StatusTeapot}, nil},
		{"not a response", errors.New("dial tcp: refused"), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, mapError(tt.err))
		})
	}
}
