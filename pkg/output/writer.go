package output

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Writer emits JSONL records. Each call writes exactly one line, and
// implementations are safe for concurrent use.
type Writer interface {
	WriteBatch(ctx context.Context, b *BatchRecord) error
	WriteError(ctx context.Context, err *ErrorRecord) error
	WriteProgress(ctx context.Context, prog *ProgressRecord) error
	WriteSummary(ctx context.Context, sum *SummaryRecord) error

	// Close rejects further writes. The underlying stream stays open.
	Close() error
}

var _ Writer = (*JSONLWriter)(nil)

// JSONLWriter stamps records with a job ID and generator name and writes
// them to an io.Writer, one line per record.
type JSONLWriter struct {
	jobID     string
	generator string
	now       func() time.Time

	mu     sync.Mutex
	w      io.Writer
	buf    bytes.Buffer
	closed bool
}

// NewJSONLWriter returns a writer that stamps every record with jobID and
// generator.
func NewJSONLWriter(w io.Writer, jobID, generator string) *JSONLWriter {
	return &JSONLWriter{w: w, jobID: jobID, generator: generator, now: time.Now}
}

// WriteBatch writes one nimbusgen.batch.v1 record.
func (jw *JSONLWriter) WriteBatch(ctx context.Context, b *BatchRecord) error {
	return jw.emit(ctx, TypeBatch, b)
}

// WriteError writes one nimbusgen.error.v1 record.
func (jw *JSONLWriter) WriteError(ctx context.Context, e *ErrorRecord) error {
	return jw.emit(ctx, TypeError, e)
}

// WriteProgress writes one nimbusgen.progress.v1 record.
func (jw *JSONLWriter) WriteProgress(ctx context.Context, p *ProgressRecord) error {
	return jw.emit(ctx, TypeProgress, p)
}

// WriteSummary writes the nimbusgen.summary.v1 record that ends a run.
func (jw *JSONLWriter) WriteSummary(ctx context.Context, s *SummaryRecord) error {
	return jw.emit(ctx, TypeSummary, s)
}

// Close marks the writer closed. Later writes return ErrWriterClosed. The
// underlying io.Writer is left open for its owner to close.
func (jw *JSONLWriter) Close() error {
	jw.mu.Lock()
	jw.closed = true
	jw.mu.Unlock()
	return nil
}

func (jw *JSONLWriter) emit(ctx context.Context, recordType string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return &WriteError{Op: "marshal_data", Err: err}
	}

	jw.mu.Lock()
	defer jw.mu.Unlock()
	switch {
	case jw.closed:
		return ErrWriterClosed
	case ctx.Err() != nil:
		return ctx.Err()
	}

	jw.buf.Reset()
	enc := json.NewEncoder(&jw.buf)
	rec := Record{
		Type:      recordType,
		TS:        jw.now().UTC(),
		JobID:     jw.jobID,
		Generator: jw.generator,
		Data:      data,
	}
	if err := enc.Encode(rec); err != nil {
		return &WriteError{Op: "marshal_record", Err: err}
	}
	if err := writeFull(jw.w, jw.buf.Bytes()); err != nil {
		return &WriteError{Op: "write", Err: err}
	}
	return nil
}

// writeFull retries short writes so a line is never truncated.
func writeFull(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		switch {
		case err != nil:
			return err
		case n == 0:
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}
