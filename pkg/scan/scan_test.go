package scan

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/nimbusgen/pkg/generator"
	"github.com/3leaps/nimbusgen/pkg/output"
	"github.com/3leaps/nimbusgen/pkg/provider"
)

// pagedLister serves scripted pages per prefix. The continuation token is
// the index of the next page.
type pagedLister struct {
	mu    sync.Mutex
	pages map[string][]provider.ListWithDelimiterResult
	errs  map[string]error
	calls int
}

func (l *pagedLister) ListWithDelimiter(ctx context.Context, opts provider.ListWithDelimiterOptions) (*provider.ListWithDelimiterResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := l.errs[opts.Prefix]; err != nil {
		return nil, err
	}
	pages := l.pages[opts.Prefix]
	idx := 0
	if opts.ContinuationToken != "" {
		idx, _ = strconv.Atoi(opts.ContinuationToken)
	}
	if idx >= len(pages) {
		return &provider.ListWithDelimiterResult{}, nil
	}
	page := pages[idx]
	if idx+1 < len(pages) {
		page.IsTruncated = true
		page.ContinuationToken = strconv.Itoa(idx + 1)
	}
	return &page, nil
}

func objects(keys ...string) []provider.ObjectSummary {
	out := make([]provider.ObjectSummary, len(keys))
	for i, k := range keys {
		out[i] = provider.ObjectSummary{Key: k, Size: 1}
	}
	return out
}

// recordingWriter captures records in memory.
type recordingWriter struct {
	mu       sync.Mutex
	batches  []output.BatchRecord
	errors   []output.ErrorRecord
	progress []output.ProgressRecord
	summary  *output.SummaryRecord
	failWith error
}

func (w *recordingWriter) WriteBatch(_ context.Context, b *output.BatchRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failWith != nil {
		return w.failWith
	}
	w.batches = append(w.batches, *b)
	return nil
}

func (w *recordingWriter) WriteError(_ context.Context, e *output.ErrorRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.errors = append(w.errors, *e)
	return nil
}

func (w *recordingWriter) WriteProgress(_ context.Context, p *output.ProgressRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.progress = append(w.progress, *p)
	return nil
}

func (w *recordingWriter) WriteSummary(_ context.Context, s *output.SummaryRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.summary = s
	return nil
}

func (w *recordingWriter) Close() error { return nil }

func (w *recordingWriter) batchKeys(asset string) []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	var keys []string
	for _, b := range w.batches {
		if b.Asset == asset {
			keys = append(keys, b.Key)
		}
	}
	return keys
}

func newGenerator(t *testing.T, lister provider.DelimiterLister, assets map[string]generator.AssetConfig) *generator.Generator {
	t.Helper()
	g, err := generator.New(lister, generator.Config{
		Name:   "scan-test",
		Bucket: "bucket",
		Assets: assets,
	})
	require.NoError(t, err)
	return g
}

func twoAssetLister() *pagedLister {
	return &pagedLister{
		pages: map[string][]provider.ListWithDelimiterResult{
			"logs/": {
				{Objects: objects("logs/2019-08-01.csv", "logs/2019-08-02.csv")},
				{Objects: objects("logs/2019-08-03.csv")},
			},
			"events/": {
				{Objects: objects("events/a.json")},
			},
		},
	}
}

func twoAssets() map[string]generator.AssetConfig {
	return map[string]generator.AssetConfig{
		"logs":   {Prefix: "logs/", RegexFilter: `logs/.*\.csv`},
		"events": {Prefix: "events/"},
	}
}

func TestScanner_Run(t *testing.T) {
	g := newGenerator(t, twoAssetLister(), twoAssets())
	w := &recordingWriter{}

	summary, err := New(g, w, Config{}, nil).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(4), summary.Batches)
	assert.Equal(t, int64(3), summary.Pages)
	assert.Zero(t, summary.Errors)
	assert.Equal(t, output.AssetSummary{Batches: 3, Pages: 2}, summary.Assets["logs"])
	assert.Equal(t, output.AssetSummary{Batches: 1, Pages: 1}, summary.Assets["events"])

	assert.Equal(t, []string{"logs/2019-08-01.csv", "logs/2019-08-02.csv", "logs/2019-08-03.csv"}, w.batchKeys("logs"))
	assert.Equal(t, []string{"events/a.json"}, w.batchKeys("events"))

	require.NotNil(t, w.summary)
	assert.Equal(t, int64(4), w.summary.Batches)
	assert.NotEmpty(t, w.summary.DurationHuman)

	for _, b := range w.batches {
		if b.Key == "logs/2019-08-01.csv" {
			assert.Equal(t, "2019-08-01.csv", b.PartitionID)
			assert.Equal(t, "s3a://bucket/logs/2019-08-01.csv", b.Descriptor.Location)
		}
	}
}

func TestScanner_SelectedAssets(t *testing.T) {
	lister := twoAssetLister()
	g := newGenerator(t, lister, twoAssets())
	w := &recordingWriter{}

	summary, err := New(g, w, Config{Assets: []string{"events", "events"}}, nil).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(1), summary.Batches)
	assert.Len(t, summary.Assets, 1)
	assert.Empty(t, w.batchKeys("logs"))
}

func TestScanner_UnknownAssetFailsBeforeListing(t *testing.T) {
	lister := twoAssetLister()
	g := newGenerator(t, lister, twoAssets())
	w := &recordingWriter{}

	_, err := New(g, w, Config{Assets: []string{"logs", "missing"}}, nil).Run(context.Background())
	require.Error(t, err)
	assert.True(t, generator.IsUnknownAsset(err))
	assert.Zero(t, lister.calls)
	assert.Nil(t, w.summary)
}

func TestScanner_RecoverableErrorsSkipAsset(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(l *pagedLister, assets map[string]generator.AssetConfig)
		wantCode string
	}{
		{
			name: "access denied",
			mutate: func(l *pagedLister, _ map[string]generator.AssetConfig) {
				l.errs = map[string]error{"events/": &provider.ProviderError{
					Op: "ListWithDelimiter", Provider: provider.ProviderS3, Bucket: "bucket", Err: provider.ErrAccessDenied,
				}}
			},
			wantCode: "ACCESS_DENIED",
		},
		{
			name: "directory mode without prefixes",
			mutate: func(_ *pagedLister, assets map[string]generator.AssetConfig) {
				a := assets["events"]
				a.DirectoryAssets = true
				assets["events"] = a
			},
			wantCode: generator.CodeAssetMisconfigured,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lister := twoAssetLister()
			assets := twoAssets()
			tt.mutate(lister, assets)
			g := newGenerator(t, lister, assets)
			w := &recordingWriter{}

			summary, err := New(g, w, Config{Concurrency: 1}, nil).Run(context.Background())
			require.NoError(t, err)

			assert.Equal(t, int64(1), summary.Errors)
			assert.Equal(t, int64(3), summary.Batches)
			assert.Equal(t, tt.wantCode, summary.Assets["events"].Error)

			require.Len(t, w.errors, 1)
			assert.Equal(t, tt.wantCode, w.errors[0].Code)
			assert.Equal(t, "events", w.errors[0].Asset)
			require.NotNil(t, w.summary)
			assert.Equal(t, int64(1), w.summary.Errors)
		})
	}
}

func TestScanner_MisconfigurationDetails(t *testing.T) {
	assets := twoAssets()
	a := assets["events"]
	a.DirectoryAssets = true
	assets["events"] = a
	g := newGenerator(t, twoAssetLister(), assets)
	w := &recordingWriter{}

	_, err := New(g, w, Config{Assets: []string{"events"}}, nil).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, w.errors, 1)
	details, ok := w.errors[0].Details.(map[string]any)
	require.True(t, ok)
	assert.Len(t, details["objects"], 1)
}

func TestScanner_FatalErrorAborts(t *testing.T) {
	lister := twoAssetLister()
	lister.errs = map[string]error{"logs/": errors.New("socket closed")}
	g := newGenerator(t, lister, twoAssets())
	w := &recordingWriter{}

	summary, err := New(g, w, Config{}, nil).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "socket closed")
	assert.Nil(t, summary)
	assert.Nil(t, w.summary)
}

func TestScanner_WriteFailureAborts(t *testing.T) {
	g := newGenerator(t, twoAssetLister(), twoAssets())
	w := &recordingWriter{failWith: errors.New("disk full")}

	_, err := New(g, w, Config{}, nil).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestScanner_Progress(t *testing.T) {
	g := newGenerator(t, twoAssetLister(), twoAssets())
	w := &recordingWriter{}

	_, err := New(g, w, Config{Assets: []string{"logs"}, ProgressEvery: 2}, nil).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, w.progress, 1)
	assert.Equal(t, output.ProgressRecord{Asset: "logs", Batches: 2, Pages: 1}, w.progress[0])
}

func TestScanner_BatchOptions(t *testing.T) {
	g := newGenerator(t, twoAssetLister(), twoAssets())
	w := &recordingWriter{}

	cfg := Config{
		Assets: []string{"events"},
		Batch:  generator.BatchOptions{ReaderOptions: map[string]any{"lines": true}, Limit: 10},
	}
	_, err := New(g, w, cfg, nil).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, w.batches, 1)
	assert.Equal(t, true, w.batches[0].Descriptor.ReaderOptions["lines"])
	assert.Equal(t, 10, w.batches[0].Descriptor.Limit)
}

func TestScanner_Cancelled(t *testing.T) {
	g := newGenerator(t, twoAssetLister(), twoAssets())
	w := &recordingWriter{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := New(g, w, Config{}, nil).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, summary)
	assert.Zero(t, summary.Batches)
	assert.Nil(t, w.summary)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, 1000, cfg.ProgressEvery)
	assert.Empty(t, cfg.Assets)
}
