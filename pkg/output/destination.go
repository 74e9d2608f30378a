package output

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Destination is an opened output target.
type Destination struct {
	io.Writer

	// Path is the file path, or empty for stdout.
	Path string

	// Compression is "gzip", "zstd" or empty.
	Compression string

	closers []io.Closer
}

// Close flushes any compressor and closes the file. Stdout is left open.
func (d *Destination) Close() error {
	var errs []error
	for _, c := range d.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}

// OpenDestination opens dest for writing.
//
// dest is "stdout" (or empty), a path, or "file:<path>". Paths ending in
// ".gz" are gzip-compressed and paths ending in ".zst" are zstd-compressed.
// Parent directories are created as needed.
func OpenDestination(dest string) (*Destination, error) {
	if dest == "" || dest == "stdout" || dest == "-" {
		return &Destination{Writer: os.Stdout}, nil
	}

	path := strings.TrimPrefix(dest, "file:")
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create output directory %s: %w", dir, err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file %s: %w", path, err)
	}
	d := &Destination{Writer: f, Path: path}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".gz":
		gz := gzip.NewWriter(f)
		d.Writer = gz
		d.Compression = "gzip"
		d.closers = []io.Closer{gz, f}
	case ".zst":
		zw, err := zstd.NewWriter(f)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("failed to create zstd writer: %w", err)
		}
		d.Writer = zw
		d.Compression = "zstd"
		d.closers = []io.Closer{zw, f}
	default:
		d.closers = []io.Closer{f}
	}
	return d, nil
}
