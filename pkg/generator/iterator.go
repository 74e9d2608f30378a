package generator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/3leaps/nimbusgen/pkg/batch"
	"github.com/3leaps/nimbusgen/pkg/cursor"
	"github.com/3leaps/nimbusgen/pkg/provider"
)

// KeyIterator walks the filtered keys of one asset a page at a time.
//
// The first fetch resumes from the stored cursor. When a page is fully
// consumed its continuation token is saved, or the cursor is cleared if the
// listing is complete. Abandoning an iterator leaves the cursor at the last
// fully consumed page; callers that stop early call Checkpoint to record
// the last key they took instead.
//
//	it, _ := gen.Keys("logs")
//	for n := 0; n < 10 && it.Next(ctx); n++ {
//		fmt.Println(it.Key())
//	}
//	if err := it.Err(); err != nil { ... }
//	if err := it.Checkpoint(ctx); err != nil { ... }
type KeyIterator struct {
	g *Generator
	a *asset

	started bool
	token   string
	buf     []provider.ObjectSummary
	idx     int

	// resumeAfter drops already delivered keys from the first page after a
	// mid-page checkpoint.
	resumeAfter string
	lastKey     string

	// state of the most recently fetched page
	truncated bool
	nextToken string

	cur   provider.ObjectSummary
	pages int
	done  bool
	err   error
}

// Next advances to the next key. It returns false when the listing is
// complete or an error occurred; check Err afterwards.
func (it *KeyIterator) Next(ctx context.Context) bool {
	if it.done {
		return false
	}
	for it.idx >= len(it.buf) {
		if it.started {
			more, err := it.pageDrained(ctx)
			if err != nil {
				return it.fail(err)
			}
			if !more {
				it.done = true
				return false
			}
		}
		if err := it.fetch(ctx); err != nil {
			return it.fail(err)
		}
	}
	it.cur = it.buf[it.idx]
	it.idx++
	it.lastKey = it.cur.Key
	return true
}

// Checkpoint records how far the caller has consumed. Inside a page it
// stores the page token together with the last key taken, so the next pass
// resumes right after that key. At a page boundary it behaves as Next would:
// the next page token is saved, or the cursor is cleared when the listing
// is complete. It is a no-op before the first Next and after iteration has
// ended.
func (it *KeyIterator) Checkpoint(ctx context.Context) error {
	if !it.started || it.done {
		return nil
	}
	if it.idx >= len(it.buf) {
		more, err := it.pageDrained(ctx)
		if err != nil {
			it.fail(err)
			return err
		}
		it.done = !more
		return nil
	}

	a, g := it.a, it.g
	a.mu.Lock()
	defer a.mu.Unlock()
	c := cursor.Cursor{ContinuationToken: it.token, LastKey: it.lastKey, UpdatedAt: g.clock().UTC()}
	if err := g.cursors.Save(ctx, a.name, c); err != nil {
		return fmt.Errorf("save cursor for asset %s: %w", a.name, err)
	}
	return nil
}

// Exhausted reports whether the listing completed without error.
func (it *KeyIterator) Exhausted() bool { return it.done && it.err == nil }

// Key returns the current key.
func (it *KeyIterator) Key() string { return it.cur.Key }

// Object returns the current entry. Directory assets only carry Key.
func (it *KeyIterator) Object() provider.ObjectSummary { return it.cur }

// Err returns the error that stopped iteration, if any.
func (it *KeyIterator) Err() error { return it.err }

// Pages returns the number of listing pages fetched so far.
func (it *KeyIterator) Pages() int { return it.pages }

// Asset returns the asset name.
func (it *KeyIterator) Asset() string { return it.a.name }

func (it *KeyIterator) fail(err error) bool {
	it.err = err
	it.done = true
	return false
}

// pageDrained records progress after the current page is consumed and
// reports whether another page should be fetched.
func (it *KeyIterator) pageDrained(ctx context.Context) (bool, error) {
	a, g := it.a, it.g
	a.mu.Lock()
	defer a.mu.Unlock()

	if it.truncated && it.nextToken != "" {
		c := cursor.Cursor{ContinuationToken: it.nextToken, UpdatedAt: g.clock().UTC()}
		if err := g.cursors.Save(ctx, a.name, c); err != nil {
			return false, fmt.Errorf("save cursor for asset %s: %w", a.name, err)
		}
		it.token = it.nextToken
		return true, nil
	}

	if err := g.cursors.Delete(ctx, a.name); err != nil {
		return false, fmt.Errorf("clear cursor for asset %s: %w", a.name, err)
	}
	g.logger.Debug("listing complete", zap.String("asset", a.name), zap.Int("pages", it.pages))
	return false, nil
}

func (it *KeyIterator) fetch(ctx context.Context) error {
	a, g := it.a, it.g

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := g.waitForRateLimit(ctx); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if !it.started {
		c, err := g.cursors.Load(ctx, a.name)
		if err != nil {
			return fmt.Errorf("load cursor for asset %s: %w", a.name, err)
		}
		it.token = c.ContinuationToken
		it.resumeAfter = c.LastKey
		it.started = true
		if it.token != "" {
			g.logger.Debug("resuming from cursor", zap.String("asset", a.name))
		}
	}

	page, err := g.lister.ListWithDelimiter(ctx, provider.ListWithDelimiterOptions{
		Prefix:            a.cfg.Prefix,
		Delimiter:         a.delimiter,
		ContinuationToken: it.token,
		MaxKeys:           a.maxKeys,
	})
	if err != nil {
		return err
	}
	it.pages++

	selected, err := a.filter.Select(page)
	if err != nil {
		ce := &AssetConfigurationError{Asset: a.name, Config: a.cfg.clone(), Reason: err}
		if a.filter.Directories() {
			ce.Objects = page.Objects
		} else {
			ce.CommonPrefixes = page.CommonPrefixes
		}
		g.logger.Error("asset mode does not match listing",
			zap.String("asset", a.name),
			zap.Bool("directory_assets", a.cfg.DirectoryAssets),
			zap.Int("objects", len(page.Objects)),
			zap.Int("common_prefixes", len(page.CommonPrefixes)),
		)
		return ce
	}

	it.lastKey = ""
	if it.resumeAfter != "" {
		selected = dropThrough(selected, it.resumeAfter)
		it.lastKey = it.resumeAfter
		it.resumeAfter = ""
	}

	it.buf = selected
	it.idx = 0
	it.truncated = page.IsTruncated
	it.nextToken = page.ContinuationToken

	g.logger.Debug("page fetched",
		zap.String("asset", a.name),
		zap.Int("page", it.pages),
		zap.Int("entries", len(page.Objects)+len(page.CommonPrefixes)),
		zap.Int("selected", len(selected)),
		zap.Bool("truncated", page.IsTruncated),
	)
	return nil
}

// dropThrough removes the leading entries listed at or before key. Listings
// are in ascending key order, so this also works when key itself has since
// been deleted.
func dropThrough(entries []provider.ObjectSummary, key string) []provider.ObjectSummary {
	i := 0
	for i < len(entries) && entries[i].Key <= key {
		i++
	}
	return entries[i:]
}

// BatchIterator yields one descriptor per filtered key of an asset.
type BatchIterator struct {
	keys *KeyIterator
	opts BatchOptions
	cur  *batch.Descriptor
}

// Next advances to the next descriptor.
func (it *BatchIterator) Next(ctx context.Context) bool {
	if !it.keys.Next(ctx) {
		it.cur = nil
		return false
	}
	it.cur = it.keys.g.buildDescriptor(it.keys.a, it.keys.Key(), it.opts)
	return true
}

// Descriptor returns the current descriptor.
func (it *BatchIterator) Descriptor() *batch.Descriptor { return it.cur }

// Key returns the key behind the current descriptor.
func (it *BatchIterator) Key() string { return it.keys.Key() }

// Err returns the error that stopped iteration, if any.
func (it *BatchIterator) Err() error { return it.keys.Err() }

// Pages returns the number of listing pages fetched so far.
func (it *BatchIterator) Pages() int { return it.keys.Pages() }

// Checkpoint records progress; see KeyIterator.Checkpoint.
func (it *BatchIterator) Checkpoint(ctx context.Context) error { return it.keys.Checkpoint(ctx) }

// Exhausted reports whether the listing completed without error.
func (it *BatchIterator) Exhausted() bool { return it.keys.Exhausted() }
