// Package generator turns the keys of configured assets into batch
// descriptors.
//
// A Generator owns an immutable asset registry, a cursor store holding one
// continuation token per asset, and a storage lister. Listing is pull-based:
// iterators fetch one page at a time and persist the continuation token as
// each page is drained, so a pass that stops early can be resumed later.
package generator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/3leaps/nimbusgen/pkg/batch"
	"github.com/3leaps/nimbusgen/pkg/cursor"
	"github.com/3leaps/nimbusgen/pkg/partition"
	"github.com/3leaps/nimbusgen/pkg/provider"
)

// Generator enumerates asset keys and builds batch descriptors.
//
// A Generator is safe for concurrent use. Passes over different assets are
// independent. Passes over the same asset share one stored cursor; each page
// fetch and cursor write is serialized, but interleaving two passes over one
// asset makes them resume from each other's tokens.
type Generator struct {
	lister  provider.DelimiterLister
	cfg     Config
	assets  map[string]*asset
	names   []string
	cursors cursor.Store
	limiter *rate.Limiter
	logger  *zap.Logger
	clock   func() time.Time
}

// Option configures a Generator.
type Option func(*Generator)

// WithCursorStore sets the cursor store. The default is an in-memory store.
func WithCursorStore(s cursor.Store) Option {
	return func(g *Generator) {
		if s != nil {
			g.cursors = s
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(g *Generator) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithClock overrides the clock used for partition fallbacks and cursor timestamps.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) {
		if now != nil {
			g.clock = now
		}
	}
}

// BatchOptions are per-call descriptor options.
type BatchOptions struct {
	// ReaderOptions take precedence over asset and generator options.
	ReaderOptions map[string]any

	// Limit is attached to descriptors only when positive.
	Limit int
}

// New validates cfg, applies defaults and compiles the asset registry.
func New(lister provider.DelimiterLister, cfg Config, opts ...Option) (*Generator, error) {
	if lister == nil {
		return nil, fmt.Errorf("generator requires a storage lister")
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	g := &Generator{
		lister: lister,
		logger: zap.NewNop(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.cursors == nil {
		g.cursors = cursor.NewMemoryStore()
	}
	g.logger = g.logger.With(zap.String("generator", cfg.Name))

	if cfg.RateLimit > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}

	g.cfg = Config{
		Name:              cfg.Name,
		Bucket:            cfg.Bucket,
		Delimiter:         cfg.Delimiter,
		MaxKeys:           cfg.MaxKeys,
		ReaderMethod:      cfg.ReaderMethod,
		ReaderOptions:     batch.MergeOptions(cfg.ReaderOptions),
		InferReaderMethod: cfg.InferReaderMethod,
		RateLimit:         cfg.RateLimit,
	}

	popts := []partition.Option{partition.WithLogger(g.logger), partition.WithClock(g.clock)}
	g.assets = make(map[string]*asset, len(cfg.Assets))
	for name, ac := range cfg.Assets {
		a, err := compileAsset(name, ac, &cfg, popts)
		if err != nil {
			return nil, err
		}
		g.assets[name] = a
	}
	g.names = sortedNames(g.assets)

	return g, nil
}

// Name returns the generator name.
func (g *Generator) Name() string { return g.cfg.Name }

// Bucket returns the bucket descriptors point into.
func (g *Generator) Bucket() string { return g.cfg.Bucket }

// AssetNames returns the configured asset names in sorted order.
func (g *Generator) AssetNames() []string {
	return append([]string(nil), g.names...)
}

// Asset returns a copy of the named asset's configuration.
func (g *Generator) Asset(name string) (AssetConfig, error) {
	a, err := g.lookup(name)
	if err != nil {
		return AssetConfig{}, err
	}
	return a.cfg.clone(), nil
}

func (g *Generator) lookup(name string) (*asset, error) {
	a, ok := g.assets[name]
	if !ok {
		return nil, &UnknownAssetError{Asset: name}
	}
	return a, nil
}

// Keys returns a lazy iterator over the asset's filtered keys. The first
// page is fetched on the first call to Next.
func (g *Generator) Keys(assetName string) (*KeyIterator, error) {
	a, err := g.lookup(assetName)
	if err != nil {
		return nil, err
	}
	return &KeyIterator{g: g, a: a}, nil
}

// Batches returns a lazy iterator of descriptors, one per filtered key.
func (g *Generator) Batches(assetName string, opts BatchOptions) (*BatchIterator, error) {
	keys, err := g.Keys(assetName)
	if err != nil {
		return nil, err
	}
	return &BatchIterator{keys: keys, opts: opts}, nil
}

// BuildBatchKwargs builds the descriptor for one key of an asset.
//
// Reader options merge generator, then asset, then call options. The reader
// method comes from the asset, else the generator, else (when enabled) the
// key suffix. Call options never change the reader method.
func (g *Generator) BuildBatchKwargs(assetName, key string, opts BatchOptions) (*batch.Descriptor, error) {
	a, err := g.lookup(assetName)
	if err != nil {
		return nil, err
	}
	return g.buildDescriptor(a, key, opts), nil
}

func (g *Generator) buildDescriptor(a *asset, key string, opts BatchOptions) *batch.Descriptor {
	d := &batch.Descriptor{
		Location:      batch.Location(g.cfg.Bucket, key),
		ReaderOptions: batch.MergeOptions(g.cfg.ReaderOptions, a.cfg.ReaderOptions, opts.ReaderOptions),
		ReaderMethod:  g.cfg.ReaderMethod,
	}
	if a.cfg.ReaderMethod != "" {
		d.ReaderMethod = a.cfg.ReaderMethod
	}
	if d.ReaderMethod == "" && g.cfg.InferReaderMethod {
		if m, ok := batch.InferReaderMethod(key); ok {
			d.ReaderMethod = m
		}
	}
	if opts.Limit > 0 {
		d.Limit = opts.Limit
	}
	return d
}

// PartitionID derives the partition identifier of a key within an asset.
func (g *Generator) PartitionID(assetName, key string) (string, error) {
	a, err := g.lookup(assetName)
	if err != nil {
		return "", err
	}
	return a.partitioner.PartitionID(key), nil
}

// PartitionIDs lists the partition identifier of every filtered key of the
// asset, in listing order. It runs a full pass, starting from any stored
// cursor, and therefore clears that cursor on success.
func (g *Generator) PartitionIDs(ctx context.Context, assetName string) ([]string, error) {
	it, err := g.Keys(assetName)
	if err != nil {
		return nil, err
	}
	var ids []string
	for it.Next(ctx) {
		ids = append(ids, it.a.partitioner.PartitionID(it.Key()))
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

// BuildBatchKwargsFromPartitionID scans the whole asset and builds the
// descriptor of the key mapping to partitionID. When several keys map to the
// same identifier the last one listed wins.
func (g *Generator) BuildBatchKwargsFromPartitionID(ctx context.Context, assetName, partitionID string, opts BatchOptions) (*batch.Descriptor, error) {
	it, err := g.Keys(assetName)
	if err != nil {
		return nil, err
	}

	var found string
	matched := false
	for it.Next(ctx) {
		if it.a.partitioner.PartitionID(it.Key()) == partitionID {
			found = it.Key()
			matched = true
		}
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	if !matched {
		return nil, &PartitionNotFoundError{Asset: assetName, PartitionID: partitionID}
	}
	return g.buildDescriptor(it.a, found, opts), nil
}

// Cursor returns the stored cursor of an asset.
func (g *Generator) Cursor(ctx context.Context, assetName string) (cursor.Cursor, error) {
	a, err := g.lookup(assetName)
	if err != nil {
		return cursor.Cursor{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return g.cursors.Load(ctx, a.name)
}

// ResetCursor clears the stored cursor so the next pass starts from the
// beginning of the asset.
func (g *Generator) ResetCursor(ctx context.Context, assetName string) error {
	a, err := g.lookup(assetName)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := g.cursors.Delete(ctx, a.name); err != nil {
		return fmt.Errorf("reset cursor: %w", err)
	}
	g.logger.Info("cursor reset", zap.String("asset", a.name))
	return nil
}

// Ping checks that the cursor store answers.
func (g *Generator) Ping(ctx context.Context) error {
	if _, err := g.cursors.List(ctx); err != nil {
		return fmt.Errorf("cursor store: %w", err)
	}
	return nil
}

// waitForRateLimit blocks until the limiter permits another page fetch.
func (g *Generator) waitForRateLimit(ctx context.Context) error {
	if g.limiter == nil {
		return nil
	}
	return g.limiter.Wait(ctx)
}
