// Package file implements delimiter listing over a local directory tree.
//
// Keys are slash-separated paths relative to BaseDir. Directories never appear
// as objects; they only surface as common prefixes when a delimiter is used.
// The provider is meant for local development and tests.
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/3leaps/nimbusgen/pkg/provider"
)

// DefaultMaxKeys is the page size used when a request does not set one.
const DefaultMaxKeys = 1000

// Provider implements provider.Provider for a local directory.
type Provider struct {
	baseDir string
}

var _ provider.Provider = (*Provider)(nil)

// Config configures a file provider.
type Config struct {
	BaseDir string
}

// Validate checks that required configuration is present.
func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseDir) == "" {
		return fmt.Errorf("base dir is required")
	}
	return nil
}

// New creates a file provider rooted at cfg.BaseDir.
func New(cfg Config) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Provider{baseDir: filepath.Clean(cfg.BaseDir)}, nil
}

// Close is a no-op.
func (p *Provider) Close() error { return nil }

// entry is one listing row: either an object or a collapsed common prefix.
type entry struct {
	name   string
	prefix bool
	info   fs.FileInfo
}

// ListWithDelimiter lists one page of entries under opts.Prefix.
//
// Objects and common prefixes share one lexicographic ordering and both count
// toward MaxKeys. The continuation token is the last entry of the page.
func (p *Provider) ListWithDelimiter(ctx context.Context, opts provider.ListWithDelimiterOptions) (*provider.ListWithDelimiterResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	maxKeys := opts.MaxKeys
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}

	prefix := strings.TrimPrefix(opts.Prefix, "/")
	entries, err := p.collect(prefix, opts.Delimiter)
	if err != nil {
		return nil, p.wrapError("ListWithDelimiter", opts.Prefix, err)
	}

	start := 0
	if opts.ContinuationToken != "" {
		start = sort.Search(len(entries), func(i int) bool {
			return entries[i].name > opts.ContinuationToken
		})
	}
	end := min(start+maxKeys, len(entries))

	result := &provider.ListWithDelimiterResult{}
	for _, e := range entries[start:end] {
		if e.prefix {
			result.CommonPrefixes = append(result.CommonPrefixes, e.name)
			continue
		}
		result.Objects = append(result.Objects, provider.ObjectSummary{
			Key:          e.name,
			Size:         e.info.Size(),
			LastModified: e.info.ModTime().UTC(),
		})
	}
	if end < len(entries) {
		result.IsTruncated = true
		result.ContinuationToken = entries[end-1].name
	}
	return result, nil
}

// collect walks the directory holding prefix and returns sorted entries,
// collapsing keys that contain delimiter after the prefix.
func (p *Provider) collect(prefix, delimiter string) ([]entry, error) {
	dir := ""
	if i := strings.LastIndex(prefix, "/"); i >= 0 {
		dir = prefix[:i]
	}
	root, err := p.fullPath(dir)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(root); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	seen := make(map[string]bool)
	var entries []entry
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrPermission) {
				return err
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(p.baseDir, path)
		if err != nil {
			return nil
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}

		if delimiter != "" {
			rest := key[len(prefix):]
			if i := strings.Index(rest, delimiter); i >= 0 {
				cp := prefix + rest[:i+len(delimiter)]
				if !seen[cp] {
					seen[cp] = true
					entries = append(entries, entry{name: cp, prefix: true})
				}
				return nil
			}
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		entries = append(entries, entry{name: key, info: info})
		return nil
	})
	if walkErr != nil {
		return nil, walkErr
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].name < entries[j].name })
	return entries, nil
}

func (p *Provider) fullPath(key string) (string, error) {
	key = strings.TrimPrefix(strings.TrimSpace(key), "/")
	// Prevent path traversal.
	clean := strings.TrimPrefix(filepath.Clean("/"+key), "/")
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("invalid key path")
	}
	return filepath.Join(p.baseDir, filepath.FromSlash(clean)), nil
}

func (p *Provider) wrapError(op, key string, err error) error {
	wrapped := &provider.ProviderError{Op: op, Provider: provider.ProviderFile, Bucket: p.baseDir, Key: key, Err: err}
	switch {
	case errors.Is(err, fs.ErrNotExist):
		wrapped.Err = provider.ErrNotFound
	case errors.Is(err, fs.ErrPermission):
		wrapped.Err = provider.ErrAccessDenied
	}
	return wrapped
}
