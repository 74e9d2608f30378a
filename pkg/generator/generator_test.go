package generator

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/3leaps/nimbusgen/pkg/batch"
	"github.com/3leaps/nimbusgen/pkg/cursor"
	"github.com/3leaps/nimbusgen/pkg/match"
	"github.com/3leaps/nimbusgen/pkg/provider"
)

// fakeLister emulates delimiter listing over an in-memory key set. Tokens
// are the index of the next entry so tests can reason about them.
type fakeLister struct {
	mu      sync.Mutex
	objects map[string]int64
	calls   []provider.ListWithDelimiterOptions
	failOn  int // 1-based call number that fails; 0 never
	failErr error
}

func newFakeLister(objects map[string]int64) *fakeLister {
	return &fakeLister{objects: objects}
}

func (f *fakeLister) ListWithDelimiter(ctx context.Context, opts provider.ListWithDelimiterOptions) (*provider.ListWithDelimiterResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.calls = append(f.calls, opts)
	if f.failOn > 0 && len(f.calls) == f.failOn {
		return nil, f.failErr
	}

	type entry struct {
		key    string
		prefix bool
	}
	seen := map[string]bool{}
	var entries []entry
	for key := range f.objects {
		if !strings.HasPrefix(key, opts.Prefix) {
			continue
		}
		rest := key[len(opts.Prefix):]
		if opts.Delimiter != "" {
			if i := strings.Index(rest, opts.Delimiter); i >= 0 {
				p := opts.Prefix + rest[:i+len(opts.Delimiter)]
				if !seen[p] {
					seen[p] = true
					entries = append(entries, entry{key: p, prefix: true})
				}
				continue
			}
		}
		entries = append(entries, entry{key: key})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].key < entries[j].key })

	start := 0
	if opts.ContinuationToken != "" {
		n, err := strconv.Atoi(opts.ContinuationToken)
		if err != nil {
			return nil, &provider.ProviderError{Op: "ListWithDelimiter", Err: provider.ErrNotFound}
		}
		start = n
	}
	end := len(entries)
	if opts.MaxKeys > 0 && start+opts.MaxKeys < end {
		end = start + opts.MaxKeys
	}

	res := &provider.ListWithDelimiterResult{}
	for _, e := range entries[start:end] {
		if e.prefix {
			res.CommonPrefixes = append(res.CommonPrefixes, e.key)
		} else {
			res.Objects = append(res.Objects, provider.ObjectSummary{Key: e.key, Size: f.objects[e.key]})
		}
	}
	if end < len(entries) {
		res.IsTruncated = true
		res.ContinuationToken = strconv.Itoa(end)
	}
	return res, nil
}

func (f *fakeLister) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func logKeys() map[string]int64 {
	return map[string]int64{
		"logs/2019-08-01.csv": 10,
		"logs/2019-08-02.csv": 10,
		"logs/2019-08-03.csv": 0,
		"logs/2019-08-04.csv": 10,
		"logs/2019-08-05.txt": 10,
		"logs/2019-08-06.csv": 10,
		"other/a.csv":         1,
	}
}

func collectKeys(t *testing.T, g *Generator, assetName string) []string {
	t.Helper()
	it, err := g.Keys(assetName)
	require.NoError(t, err)
	var keys []string
	for it.Next(context.Background()) {
		keys = append(keys, it.Key())
	}
	require.NoError(t, it.Err())
	return keys
}

func newLogsGenerator(t *testing.T, lister provider.DelimiterLister, maxKeys int, opts ...Option) *Generator {
	t.Helper()
	g, err := New(lister, Config{
		Name:    "test",
		Bucket:  "bucket",
		MaxKeys: maxKeys,
		Assets: map[string]AssetConfig{
			"logs": {Prefix: "logs/", RegexFilter: `logs/2019-08-0\d\.csv`},
		},
	}, opts...)
	require.NoError(t, err)
	return g
}

func TestNew_Validation(t *testing.T) {
	lister := newFakeLister(nil)

	_, err := New(nil, Config{Bucket: "b"})
	assert.Error(t, err)

	_, err = New(lister, Config{})
	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "bucket", ce.Field)

	_, err = New(lister, Config{Bucket: "b", ReaderMethod: "avro"})
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "reader_method", ce.Field)

	_, err = New(lister, Config{Bucket: "b", Assets: map[string]AssetConfig{"x": {RegexFilter: "("}}})
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "assets.x.filter", ce.Field)

	_, err = New(lister, Config{Bucket: "b", Assets: map[string]AssetConfig{"x": {PartitionRegex: "(["}}})
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "assets.x.partition_regex", ce.Field)

	neg := -1
	_, err = New(lister, Config{Bucket: "b", Assets: map[string]AssetConfig{"x": {MatchGroupID: &neg}}})
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "assets.x.match_group_id", ce.Field)
}

func TestNew_DefaultAsset(t *testing.T) {
	g, err := New(newFakeLister(nil), Config{Bucket: "b"})
	require.NoError(t, err)

	assert.Equal(t, DefaultName, g.Name())
	assert.Equal(t, []string{DefaultAssetName}, g.AssetNames())

	a, err := g.Asset(DefaultAssetName)
	require.NoError(t, err)
	assert.Equal(t, "", a.Prefix)
	assert.Equal(t, match.DefaultRegex, a.RegexFilter)
}

func TestAssetNames_Sorted(t *testing.T) {
	g, err := New(newFakeLister(nil), Config{Bucket: "b", Assets: map[string]AssetConfig{
		"zeta": {}, "alpha": {}, "mid": {},
	}})
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, g.AssetNames())
}

func TestUnknownAsset(t *testing.T) {
	g := newLogsGenerator(t, newFakeLister(logKeys()), 0)
	ctx := context.Background()

	_, err := g.Keys("missing")
	assert.True(t, IsUnknownAsset(err))
	assert.EqualError(t, err, "unknown asset_name missing")

	_, err = g.BuildBatchKwargs("missing", "k", BatchOptions{})
	assert.True(t, IsUnknownAsset(err))

	_, err = g.PartitionIDs(ctx, "missing")
	assert.True(t, IsUnknownAsset(err))

	_, err = g.BuildBatchKwargsFromPartitionID(ctx, "missing", "x", BatchOptions{})
	assert.True(t, IsUnknownAsset(err))

	assert.True(t, IsUnknownAsset(g.ResetCursor(ctx, "missing")))
}

func TestKeys_FiltersAcrossPages(t *testing.T) {
	lister := newFakeLister(logKeys())
	g := newLogsGenerator(t, lister, 2)

	keys := collectKeys(t, g, "logs")
	assert.Equal(t, []string{
		"logs/2019-08-01.csv",
		"logs/2019-08-02.csv",
		"logs/2019-08-04.csv",
		"logs/2019-08-06.csv",
	}, keys, "zero-size objects and non-matching keys are skipped")

	assert.Equal(t, 3, lister.callCount())
	for _, c := range lister.calls {
		assert.Equal(t, "logs/", c.Prefix)
		assert.Equal(t, "/", c.Delimiter)
		assert.Equal(t, 2, c.MaxKeys)
	}
	assert.Equal(t, "", lister.calls[0].ContinuationToken)
	assert.Equal(t, "2", lister.calls[1].ContinuationToken)
}

func TestKeys_IsLazy(t *testing.T) {
	lister := newFakeLister(logKeys())
	g := newLogsGenerator(t, lister, 2)

	it, err := g.Keys("logs")
	require.NoError(t, err)
	assert.Equal(t, 0, lister.callCount(), "no listing before Next")

	require.True(t, it.Next(context.Background()))
	assert.Equal(t, 1, lister.callCount())
	assert.Equal(t, 1, it.Pages())
}

func TestKeys_CursorLifecycle(t *testing.T) {
	ctx := context.Background()
	lister := newFakeLister(logKeys())
	store := cursor.NewMemoryStore()
	g := newLogsGenerator(t, lister, 2, WithCursorStore(store))

	it, err := g.Keys("logs")
	require.NoError(t, err)

	var firstPass []string
	for i := 0; i < 2; i++ {
		require.True(t, it.Next(ctx))
		firstPass = append(firstPass, it.Key())
	}
	c, err := g.Cursor(ctx, "logs")
	require.NoError(t, err)
	assert.True(t, c.IsZero(), "cursor is written only once a page is drained")

	// Draining page one fetches page two and stores its token.
	require.True(t, it.Next(ctx))
	assert.Equal(t, "logs/2019-08-04.csv", it.Key())
	firstPass = append(firstPass, it.Key())
	c, err = g.Cursor(ctx, "logs")
	require.NoError(t, err)
	assert.Equal(t, "2", c.ContinuationToken)

	for it.Next(ctx) {
		firstPass = append(firstPass, it.Key())
	}
	require.NoError(t, it.Err())
	assert.True(t, it.Exhausted())

	c, err = g.Cursor(ctx, "logs")
	require.NoError(t, err)
	assert.True(t, c.IsZero(), "a complete pass clears the cursor")

	// A fresh pass starts from the beginning and repeats the same order.
	assert.Equal(t, firstPass, collectKeys(t, g, "logs"))
}

func TestKeys_FreshPassesAreIdentical(t *testing.T) {
	g := newLogsGenerator(t, newFakeLister(logKeys()), 2)

	first := collectKeys(t, g, "logs")
	second := collectKeys(t, g, "logs")
	assert.Equal(t, []string{
		"logs/2019-08-01.csv",
		"logs/2019-08-02.csv",
		"logs/2019-08-04.csv",
		"logs/2019-08-06.csv",
	}, first)
	assert.Equal(t, first, second)
}

// takeAndCheckpoint takes up to n keys from a new iterator, the way bounded
// callers do, then checkpoints.
func takeAndCheckpoint(t *testing.T, g *Generator, n int) ([]string, bool) {
	t.Helper()
	ctx := context.Background()
	it, err := g.Keys("logs")
	require.NoError(t, err)
	var keys []string
	for len(keys) < n && it.Next(ctx) {
		keys = append(keys, it.Key())
	}
	require.NoError(t, it.Err())
	require.NoError(t, it.Checkpoint(ctx))
	return keys, it.Exhausted()
}

func TestKeys_CheckpointAdvancesBoundedCalls(t *testing.T) {
	all := []string{"logs/2019-08-01.csv", "logs/2019-08-02.csv", "logs/2019-08-04.csv", "logs/2019-08-06.csv"}

	tests := []struct {
		name     string
		take     int
		wantRuns int
	}{
		{"below page size", 1, 4},
		{"equal to page size", 2, 2},
		{"spans pages", 3, 2},
		{"whole asset", 4, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newLogsGenerator(t, newFakeLister(logKeys()), 2)

			var got []string
			runs := 0
			for exhausted := false; !exhausted; {
				runs++
				require.LessOrEqual(t, runs, len(all), "iteration must move forward")
				var keys []string
				keys, exhausted = takeAndCheckpoint(t, g, tt.take)
				require.NotEmpty(t, keys, "run %d", runs)
				got = append(got, keys...)
			}
			assert.Equal(t, all, got, "every key exactly once, in order")
			assert.Equal(t, tt.wantRuns, runs)

			c, err := g.Cursor(context.Background(), "logs")
			require.NoError(t, err)
			assert.True(t, c.IsZero())
		})
	}
}

func TestKeys_CheckpointInsidePage(t *testing.T) {
	ctx := context.Background()
	objects := logKeys()
	lister := newFakeLister(objects)
	g := newLogsGenerator(t, lister, 2)

	keys, exhausted := takeAndCheckpoint(t, g, 1)
	assert.Equal(t, []string{"logs/2019-08-01.csv"}, keys)
	assert.False(t, exhausted)

	c, err := g.Cursor(ctx, "logs")
	require.NoError(t, err)
	assert.Equal(t, cursor.Cursor{LastKey: "logs/2019-08-01.csv", UpdatedAt: c.UpdatedAt}, c)

	// The delivered key may disappear before the next pass; later keys
	// are still served exactly once.
	lister.mu.Lock()
	delete(objects, "logs/2019-08-01.csv")
	lister.mu.Unlock()

	assert.Equal(t, []string{"logs/2019-08-02.csv", "logs/2019-08-04.csv", "logs/2019-08-06.csv"}, collectKeys(t, g, "logs"))
}

func TestKeys_CheckpointNoop(t *testing.T) {
	ctx := context.Background()
	store := cursor.NewMemoryStore()
	g := newLogsGenerator(t, newFakeLister(logKeys()), 2, WithCursorStore(store))

	it, err := g.Keys("logs")
	require.NoError(t, err)
	require.NoError(t, it.Checkpoint(ctx), "before the first Next")
	assert.False(t, it.Exhausted())

	for it.Next(ctx) {
	}
	require.NoError(t, it.Checkpoint(ctx), "after completion")
	assert.True(t, it.Exhausted())

	all, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestKeys_ResumesAfterEarlyStop(t *testing.T) {
	ctx := context.Background()
	lister := newFakeLister(logKeys())
	g := newLogsGenerator(t, lister, 2)

	it, err := g.Keys("logs")
	require.NoError(t, err)
	var first []string
	for it.Next(ctx) {
		first = append(first, it.Key())
		if len(first) == 3 {
			break
		}
	}
	require.NoError(t, it.Err())

	// Page one was drained; page two was not, so its keys are listed again.
	second := collectKeys(t, g, "logs")
	assert.Equal(t, []string{"logs/2019-08-04.csv", "logs/2019-08-06.csv"}, second)
	assert.Equal(t, "2", lister.calls[2].ContinuationToken, "second pass starts from the stored token")
}

func TestResetCursor(t *testing.T) {
	ctx := context.Background()
	g := newLogsGenerator(t, newFakeLister(logKeys()), 2)

	it, err := g.Keys("logs")
	require.NoError(t, err)
	for i := 0; i < 3 && it.Next(ctx); i++ {
	}
	c, err := g.Cursor(ctx, "logs")
	require.NoError(t, err)
	require.False(t, c.IsZero())

	require.NoError(t, g.ResetCursor(ctx, "logs"))
	assert.Len(t, collectKeys(t, g, "logs"), 4)
}

func TestKeys_CursorsAreIndependentPerAsset(t *testing.T) {
	ctx := context.Background()
	g, err := New(newFakeLister(logKeys()), Config{
		Bucket:  "b",
		MaxKeys: 1,
		Assets: map[string]AssetConfig{
			"logs":  {Prefix: "logs/"},
			"other": {Prefix: "other/"},
		},
	})
	require.NoError(t, err)

	it, err := g.Keys("logs")
	require.NoError(t, err)
	require.True(t, it.Next(ctx))
	require.True(t, it.Next(ctx))

	assert.Equal(t, []string{"other/a.csv"}, collectKeys(t, g, "other"))

	c, err := g.Cursor(ctx, "logs")
	require.NoError(t, err)
	assert.False(t, c.IsZero(), "completing another asset leaves this cursor alone")
}

func TestKeys_DirectoryAssets(t *testing.T) {
	objects := map[string]int64{
		"tables/a/part-0.parquet": 1,
		"tables/b/part-0.parquet": 1,
		"tables/c/part-0.parquet": 1,
		"tables/tmp_x/":           0,
	}
	g, err := New(newFakeLister(objects), Config{
		Bucket:  "b",
		MaxKeys: 2,
		Assets: map[string]AssetConfig{
			"tables": {Prefix: "tables/", RegexFilter: `tables/[a-z]/`, DirectoryAssets: true, ReaderMethod: batch.ReaderDelta},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"tables/a/", "tables/b/", "tables/c/"}, collectKeys(t, g, "tables"))

	d, err := g.BuildBatchKwargs("tables", "tables/a/", BatchOptions{})
	require.NoError(t, err)
	assert.Equal(t, "s3a://b/tables/a/", d.Location)
	assert.Equal(t, batch.ReaderDelta, d.ReaderMethod)
}

func TestKeys_DirectoryModeWithoutPrefixes(t *testing.T) {
	objects := map[string]int64{"flat/a.csv": 1, "flat/b.csv": 1}
	g, err := New(newFakeLister(objects), Config{
		Bucket: "b",
		Assets: map[string]AssetConfig{"flat": {Prefix: "flat/", DirectoryAssets: true}},
	})
	require.NoError(t, err)

	it, err := g.Keys("flat")
	require.NoError(t, err)
	assert.False(t, it.Next(context.Background()))

	var ce *AssetConfigurationError
	require.ErrorAs(t, it.Err(), &ce)
	assert.ErrorIs(t, it.Err(), match.ErrNoCommonPrefixes)
	assert.True(t, IsAssetConfiguration(it.Err()))
	assert.Equal(t, "flat", ce.Asset)
	assert.True(t, ce.Config.DirectoryAssets)
	assert.Len(t, ce.Objects, 2)
	assert.Empty(t, ce.CommonPrefixes)
}

func TestKeys_ObjectModeWithOnlyPrefixes(t *testing.T) {
	objects := map[string]int64{"nested/a/x.csv": 1, "nested/b/y.csv": 1}
	g, err := New(newFakeLister(objects), Config{
		Bucket: "b",
		Assets: map[string]AssetConfig{"nested": {Prefix: "nested/"}},
	})
	require.NoError(t, err)

	it, err := g.Keys("nested")
	require.NoError(t, err)
	assert.False(t, it.Next(context.Background()))

	var ce *AssetConfigurationError
	require.ErrorAs(t, it.Err(), &ce)
	assert.ErrorIs(t, it.Err(), match.ErrNoObjects)
	assert.Equal(t, []string{"nested/a/", "nested/b/"}, ce.CommonPrefixes)
	assert.Empty(t, ce.Objects)
}

func TestKeys_EmptyListingIsNotAnError(t *testing.T) {
	g, err := New(newFakeLister(nil), Config{Bucket: "b", Assets: map[string]AssetConfig{"none": {Prefix: "none/"}}})
	require.NoError(t, err)
	assert.Empty(t, collectKeys(t, g, "none"))
}

func TestKeys_AssetDelimiterOverride(t *testing.T) {
	objects := logKeys()
	objects["logs/daily/x.csv"] = 5
	lister := newFakeLister(objects)
	empty := ""
	g, err := New(lister, Config{
		Bucket: "b",
		Assets: map[string]AssetConfig{"all": {Prefix: "logs/", Delimiter: &empty, MaxKeys: 50}},
	})
	require.NoError(t, err)

	keys := collectKeys(t, g, "all")
	assert.Contains(t, keys, "logs/daily/x.csv", "no delimiter lists nested keys")
	assert.Equal(t, "", lister.calls[0].Delimiter)
	assert.Equal(t, 50, lister.calls[0].MaxKeys)
}

func TestKeys_StorageErrorPassesThrough(t *testing.T) {
	ctx := context.Background()
	lister := newFakeLister(logKeys())
	lister.failOn = 2
	lister.failErr = &provider.ProviderError{Op: "ListWithDelimiter", Bucket: "bucket", Err: provider.ErrAccessDenied}
	g := newLogsGenerator(t, lister, 2)

	it, err := g.Keys("logs")
	require.NoError(t, err)
	var keys []string
	for it.Next(ctx) {
		keys = append(keys, it.Key())
	}
	assert.Len(t, keys, 2)
	assert.Same(t, lister.failErr, it.Err())
	assert.True(t, provider.IsAccessDenied(it.Err()))
	assert.False(t, it.Next(ctx), "iterator stays finished")

	c, err := g.Cursor(ctx, "logs")
	require.NoError(t, err)
	assert.Equal(t, "2", c.ContinuationToken, "progress before the failure is kept")
}

type failingStore struct {
	*cursor.MemoryStore
	err error
}

func (s failingStore) Save(context.Context, string, cursor.Cursor) error { return s.err }

func TestKeys_CursorStoreErrorIsWrapped(t *testing.T) {
	boom := errors.New("disk full")
	g := newLogsGenerator(t, newFakeLister(logKeys()), 2,
		WithCursorStore(failingStore{MemoryStore: cursor.NewMemoryStore(), err: boom}))

	it, err := g.Keys("logs")
	require.NoError(t, err)
	for it.Next(context.Background()) {
	}
	require.Error(t, it.Err())
	assert.ErrorIs(t, it.Err(), boom)
	assert.Contains(t, it.Err().Error(), "save cursor for asset logs")
}

func TestPing(t *testing.T) {
	g := newLogsGenerator(t, newFakeLister(logKeys()), 2)
	assert.NoError(t, g.Ping(context.Background()))

	store := cursor.NewMemoryStore()
	require.NoError(t, store.Close())
	g = newLogsGenerator(t, newFakeLister(logKeys()), 2, WithCursorStore(store))
	err := g.Ping(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, cursor.ErrClosed)
}

func TestKeys_ContextCancelled(t *testing.T) {
	g := newLogsGenerator(t, newFakeLister(logKeys()), 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	it, err := g.Keys("logs")
	require.NoError(t, err)
	assert.False(t, it.Next(ctx))
	assert.ErrorIs(t, it.Err(), context.Canceled)
}

func TestKeys_RateLimitHonoursContext(t *testing.T) {
	g, err := New(newFakeLister(logKeys()), Config{
		Bucket:    "b",
		MaxKeys:   1,
		RateLimit: 0.001,
		Assets:    map[string]AssetConfig{"logs": {Prefix: "logs/"}},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	it, err := g.Keys("logs")
	require.NoError(t, err)
	require.True(t, it.Next(ctx), "first page uses the initial burst")
	for it.Next(ctx) {
	}
	require.Error(t, it.Err())
}

func TestBuildBatchKwargs_OptionPrecedence(t *testing.T) {
	genOpts := map[string]any{"sep": ",", "header": 0}
	assetOpts := map[string]any{"sep": "~"}
	g, err := New(newFakeLister(nil), Config{
		Bucket:        "bucket",
		ReaderMethod:  batch.ReaderCSV,
		ReaderOptions: genOpts,
		Assets: map[string]AssetConfig{
			"logs":    {Prefix: "logs/", ReaderOptions: assetOpts},
			"parquet": {Prefix: "pq/", ReaderMethod: batch.ReaderParquet},
		},
	})
	require.NoError(t, err)

	callOpts := map[string]any{"header": nil}
	d, err := g.BuildBatchKwargs("logs", "logs/a.csv", BatchOptions{ReaderOptions: callOpts, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, "s3a://bucket/logs/a.csv", d.Location)
	assert.Equal(t, batch.ReaderCSV, d.ReaderMethod)
	assert.Equal(t, map[string]any{"sep": "~", "header": nil}, d.ReaderOptions)
	assert.Equal(t, 10, d.Limit)

	d, err = g.BuildBatchKwargs("parquet", "pq/a.parquet", BatchOptions{})
	require.NoError(t, err)
	assert.Equal(t, batch.ReaderParquet, d.ReaderMethod, "asset method overrides generator")
	assert.Equal(t, map[string]any{"sep": ",", "header": 0}, d.ReaderOptions)
	assert.Zero(t, d.Limit, "limit only attached when positive")

	d.ReaderOptions["sep"] = "|"
	assert.Equal(t, ",", genOpts["sep"], "descriptor options never alias configuration")
	assert.Equal(t, map[string]any{"header": nil}, callOpts)
	assert.Equal(t, map[string]any{"sep": "~"}, assetOpts)

	d, err = g.BuildBatchKwargs("parquet", "pq/b.parquet", BatchOptions{Limit: -1})
	require.NoError(t, err)
	assert.Equal(t, ",", d.ReaderOptions["sep"])
	assert.Zero(t, d.Limit)
}

func TestBuildBatchKwargs_InferReaderMethod(t *testing.T) {
	g, err := New(newFakeLister(nil), Config{
		Bucket:            "b",
		InferReaderMethod: true,
		Assets: map[string]AssetConfig{
			"mixed": {},
			"fixed": {ReaderMethod: batch.ReaderJSON},
		},
	})
	require.NoError(t, err)

	d, err := g.BuildBatchKwargs("mixed", "a/b.parquet", BatchOptions{})
	require.NoError(t, err)
	assert.Equal(t, batch.ReaderParquet, d.ReaderMethod)

	d, err = g.BuildBatchKwargs("mixed", "a/b.unknown", BatchOptions{})
	require.NoError(t, err)
	assert.Empty(t, d.ReaderMethod)

	d, err = g.BuildBatchKwargs("fixed", "a/b.csv", BatchOptions{})
	require.NoError(t, err)
	assert.Equal(t, batch.ReaderJSON, d.ReaderMethod, "configured method wins over inference")
}

func TestBatches(t *testing.T) {
	g, err := New(newFakeLister(logKeys()), Config{
		Bucket:       "bucket",
		MaxKeys:      3,
		ReaderMethod: batch.ReaderCSV,
		Assets:       map[string]AssetConfig{"logs": {Prefix: "logs/", RegexFilter: `.*\.csv$`}},
	})
	require.NoError(t, err)

	it, err := g.Batches("logs", BatchOptions{Limit: 100})
	require.NoError(t, err)
	var locations []string
	for it.Next(context.Background()) {
		d := it.Descriptor()
		assert.Equal(t, batch.ReaderCSV, d.ReaderMethod)
		assert.Equal(t, 100, d.Limit)
		assert.Equal(t, "s3a://bucket/"+it.Key(), d.Location)
		locations = append(locations, d.Location)
	}
	require.NoError(t, it.Err())
	assert.Equal(t, []string{
		"s3a://bucket/logs/2019-08-01.csv",
		"s3a://bucket/logs/2019-08-02.csv",
		"s3a://bucket/logs/2019-08-04.csv",
		"s3a://bucket/logs/2019-08-06.csv",
	}, locations)
	assert.Nil(t, it.Descriptor())
	assert.Positive(t, it.Pages())
}

func TestPartitionIDs(t *testing.T) {
	g, err := New(newFakeLister(logKeys()), Config{
		Bucket:  "b",
		MaxKeys: 2,
		Assets: map[string]AssetConfig{
			"logs":    {Prefix: "logs/", RegexFilter: `.*\.csv$`},
			"byMonth": {Prefix: "logs/", RegexFilter: `.*\.csv$`, PartitionRegex: `logs/(\d{4}-\d{2})`},
		},
	})
	require.NoError(t, err)
	ctx := context.Background()

	ids, err := g.PartitionIDs(ctx, "logs")
	require.NoError(t, err)
	assert.Equal(t, []string{"2019-08-01.csv", "2019-08-02.csv", "2019-08-04.csv", "2019-08-06.csv"}, ids)

	ids, err = g.PartitionIDs(ctx, "byMonth")
	require.NoError(t, err)
	assert.Equal(t, []string{"2019-08", "2019-08", "2019-08", "2019-08"}, ids, "duplicates are kept in listing order")

	id, err := g.PartitionID("byMonth", "logs/2020-01-01.csv")
	require.NoError(t, err)
	assert.Equal(t, "2020-01", id)
}

func TestPartitionID_FallbackUsesClockAndLogger(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	clock := func() time.Time { return time.Date(2024, 5, 6, 7, 8, 9, 10000, time.UTC) }
	g, err := New(newFakeLister(nil), Config{
		Name:   "test",
		Bucket: "b",
		Assets: map[string]AssetConfig{"logs": {PartitionRegex: `logs/(\d+)`}},
	}, WithClock(clock), WithLogger(zap.New(core)))
	require.NoError(t, err)

	id, err := g.PartitionID("logs", "other/1")
	require.NoError(t, err)
	assert.Equal(t, "20240506T070809.000010Z__unmatched", id)
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "test", logs.All()[0].ContextMap()["generator"])
}

func TestBuildBatchKwargsFromPartitionID(t *testing.T) {
	ctx := context.Background()
	g, err := New(newFakeLister(logKeys()), Config{
		Bucket:  "bucket",
		MaxKeys: 2,
		Assets: map[string]AssetConfig{
			"logs":    {Prefix: "logs/", RegexFilter: `.*\.csv$`},
			"byMonth": {Prefix: "logs/", RegexFilter: `.*\.csv$`, PartitionRegex: `logs/(\d{4}-\d{2})`},
		},
	})
	require.NoError(t, err)

	d, err := g.BuildBatchKwargsFromPartitionID(ctx, "logs", "2019-08-02.csv", BatchOptions{Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, "s3a://bucket/logs/2019-08-02.csv", d.Location)
	assert.Equal(t, 3, d.Limit)

	d, err = g.BuildBatchKwargsFromPartitionID(ctx, "byMonth", "2019-08", BatchOptions{})
	require.NoError(t, err)
	assert.Equal(t, "s3a://bucket/logs/2019-08-06.csv", d.Location, "last listed key wins")

	_, err = g.BuildBatchKwargsFromPartitionID(ctx, "logs", "2020-01-01.csv", BatchOptions{})
	assert.True(t, IsPartitionNotFound(err))
	assert.EqualError(t, err, "unable to identify partition 2020-01-01.csv for asset logs")

	c, err := g.Cursor(ctx, "logs")
	require.NoError(t, err)
	assert.True(t, c.IsZero(), "full scans leave no cursor behind")
}

func TestAsset_ReturnsCopy(t *testing.T) {
	g, err := New(newFakeLister(nil), Config{
		Bucket: "b",
		Assets: map[string]AssetConfig{"logs": {Prefix: "logs/", ReaderOptions: map[string]any{"sep": ","}}},
	})
	require.NoError(t, err)

	a, err := g.Asset("logs")
	require.NoError(t, err)
	a.ReaderOptions["sep"] = "|"

	b, err := g.Asset("logs")
	require.NoError(t, err)
	assert.Equal(t, ",", b.ReaderOptions["sep"])
}

func TestConcurrentAssets(t *testing.T) {
	objects := map[string]int64{}
	for i := 0; i < 20; i++ {
		objects["a/"+strconv.Itoa(100+i)] = 1
		objects["b/"+strconv.Itoa(100+i)] = 1
	}
	g, err := New(newFakeLister(objects), Config{
		Bucket:  "b",
		MaxKeys: 3,
		Assets:  map[string]AssetConfig{"a": {Prefix: "a/"}, "b": {Prefix: "b/"}},
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([][]string, 2)
	errs := make([]error, 2)
	for i, name := range []string{"a", "b"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			it, err := g.Keys(name)
			if err != nil {
				errs[i] = err
				return
			}
			for it.Next(context.Background()) {
				results[i] = append(results[i], it.Key())
			}
			errs[i] = it.Err()
		}()
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Len(t, results[0], 20)
	assert.Len(t, results[1], 20)
}
