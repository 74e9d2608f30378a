// Package scan generates batch descriptors for many assets in one run.
//
// A Scanner walks the selected assets of a Generator with bounded
// concurrency and writes every descriptor as a JSONL batch record. Assets
// that fail with a recoverable storage error or a misconfiguration become
// error records; the remaining assets still run to completion.
package scan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/3leaps/nimbusgen/pkg/generator"
	"github.com/3leaps/nimbusgen/pkg/output"
	"github.com/3leaps/nimbusgen/pkg/provider"
)

// Config configures scanner behavior.
type Config struct {
	// Assets restricts the scan. Empty means every configured asset.
	Assets []string

	// Concurrency is the number of assets scanned in parallel.
	// Default: 4
	Concurrency int

	// ProgressEvery emits a progress record every N batches of an asset.
	// Default: 1000
	ProgressEvery int

	// Batch holds per-call reader options and limit for every descriptor.
	Batch generator.BatchOptions
}

// DefaultConfig returns the default scanner configuration.
func DefaultConfig() Config {
	return Config{
		Concurrency:   4,
		ProgressEvery: 1000,
	}
}

// Summary contains aggregate statistics from a completed scan.
type Summary struct {
	Batches  int64
	Pages    int64
	Errors   int64
	Duration time.Duration
	Assets   map[string]output.AssetSummary
}

// Scanner executes one scan. Create a new Scanner per run.
type Scanner struct {
	gen    *generator.Generator
	writer output.Writer
	config Config
	logger *zap.Logger

	batches atomic.Int64
	pages   atomic.Int64
	errs    atomic.Int64

	mu     sync.Mutex
	assets map[string]output.AssetSummary
}

// New creates a scanner writing records for g to w.
func New(g *generator.Generator, w output.Writer, cfg Config, logger *zap.Logger) *Scanner {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConfig().Concurrency
	}
	if cfg.ProgressEvery <= 0 {
		cfg.ProgressEvery = DefaultConfig().ProgressEvery
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scanner{
		gen:    g,
		writer: w,
		config: cfg,
		logger: logger,
		assets: make(map[string]output.AssetSummary),
	}
}

// Run scans the selected assets and writes a final summary record.
//
// Unknown asset names fail before any listing. A fatal error cancels the
// remaining assets; on cancellation a partial summary is returned alongside
// the context error.
func (s *Scanner) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()

	names, err := s.selectAssets()
	if err != nil {
		return nil, err
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(s.config.Concurrency)
	for _, name := range names {
		eg.Go(func() error {
			return s.scanAsset(egCtx, name)
		})
	}

	if err := eg.Wait(); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return s.buildSummary(time.Since(start)), err
		}
		return nil, err
	}

	summary := s.buildSummary(time.Since(start))
	if err := s.writeSummary(ctx, summary); err != nil {
		return summary, err
	}
	return summary, nil
}

func (s *Scanner) selectAssets() ([]string, error) {
	if len(s.config.Assets) == 0 {
		return s.gen.AssetNames(), nil
	}
	seen := make(map[string]bool, len(s.config.Assets))
	var names []string
	for _, name := range s.config.Assets {
		if seen[name] {
			continue
		}
		if _, err := s.gen.Asset(name); err != nil {
			return nil, err
		}
		seen[name] = true
		names = append(names, name)
	}
	return names, nil
}

func (s *Scanner) scanAsset(ctx context.Context, name string) error {
	it, err := s.gen.Batches(name, s.config.Batch)
	if err != nil {
		return err
	}

	var count int64
	for it.Next(ctx) {
		key := it.Key()
		pid, err := s.gen.PartitionID(name, key)
		if err != nil {
			return err
		}
		rec := &output.BatchRecord{
			Asset:       name,
			Key:         key,
			PartitionID: pid,
			Descriptor:  *it.Descriptor(),
		}
		if err := s.writer.WriteBatch(ctx, rec); err != nil {
			return err
		}
		count++
		s.batches.Add(1)

		if count%int64(s.config.ProgressEvery) == 0 {
			if err := s.writer.WriteProgress(ctx, &output.ProgressRecord{
				Asset:   name,
				Batches: count,
				Pages:   int64(it.Pages()),
			}); err != nil {
				return err
			}
		}
	}
	pages := int64(it.Pages())
	s.pages.Add(pages)

	if err := it.Err(); err != nil {
		if !recoverable(err) {
			return err
		}
		code := generator.ErrorCode(err)
		s.logger.Warn("Asset skipped",
			zap.String("asset", name),
			zap.String("code", code),
			zap.Error(err))
		s.writeError(ctx, code, err, name)
		s.record(name, output.AssetSummary{Batches: count, Pages: pages, Error: code})
		return nil
	}

	s.logger.Debug("Asset scanned",
		zap.String("asset", name),
		zap.Int64("batches", count),
		zap.Int64("pages", pages))
	s.record(name, output.AssetSummary{Batches: count, Pages: pages})
	return nil
}

// recoverable reports whether err should skip the asset instead of
// aborting the scan.
func recoverable(err error) bool {
	switch {
	case generator.IsAssetConfiguration(err):
		return true
	case provider.IsAccessDenied(err), provider.IsNotFound(err), provider.IsBucketNotFound(err):
		return true
	}
	return provider.IsTransient(err)
}

func (s *Scanner) record(name string, sum output.AssetSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assets[name] = sum
}

// writeError emits an error record and increments the error counter.
func (s *Scanner) writeError(ctx context.Context, code string, err error, name string) {
	s.errs.Add(1)

	rec := &output.ErrorRecord{
		Code:    code,
		Message: err.Error(),
		Asset:   name,
	}
	var cfgErr *generator.AssetConfigurationError
	if errors.As(err, &cfgErr) {
		rec.Details = map[string]any{
			"objects":         cfgErr.Objects,
			"common_prefixes": cfgErr.CommonPrefixes,
		}
	}

	// Best effort; a lost error record must not abort the scan.
	_ = s.writer.WriteError(ctx, rec)
}

func (s *Scanner) buildSummary(d time.Duration) *Summary {
	s.mu.Lock()
	assets := make(map[string]output.AssetSummary, len(s.assets))
	for k, v := range s.assets {
		assets[k] = v
	}
	s.mu.Unlock()

	return &Summary{
		Batches:  s.batches.Load(),
		Pages:    s.pages.Load(),
		Errors:   s.errs.Load(),
		Duration: d,
		Assets:   assets,
	}
}

func (s *Scanner) writeSummary(ctx context.Context, sum *Summary) error {
	rec := &output.SummaryRecord{
		Batches:       sum.Batches,
		Pages:         sum.Pages,
		Errors:        sum.Errors,
		Duration:      sum.Duration,
		DurationHuman: sum.Duration.Round(time.Millisecond).String(),
		Assets:        sum.Assets,
	}
	if err := s.writer.WriteSummary(ctx, rec); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}
