// Package output provides JSONL output for generated batch descriptors.
//
// Output is structured as typed record envelopes containing batches,
// errors, progress updates and a final summary. Each line is a
// self-contained JSON object that can be parsed independently.
package output

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/3leaps/nimbusgen/pkg/batch"
)

// Record type constants follow the pattern nimbusgen.<type>.v<version>.
const (
	// TypeBatch identifies batch descriptor records.
	TypeBatch = "nimbusgen.batch.v1"

	// TypeError identifies error records.
	TypeError = "nimbusgen.error.v1"

	// TypeProgress identifies progress update records.
	TypeProgress = "nimbusgen.progress.v1"

	// TypeSummary identifies final summary records.
	TypeSummary = "nimbusgen.summary.v1"
)

// Record is the envelope for all JSONL output. The Type field determines
// how to interpret Data.
type Record struct {
	Type string    `json:"type"`
	TS   time.Time `json:"ts"`

	// JobID correlates the records of one run.
	JobID string `json:"job_id"`

	// Generator is the generator name from the manifest.
	Generator string `json:"generator"`

	Data json.RawMessage `json:"data"`
}

// BatchRecord is the data payload for one generated descriptor.
type BatchRecord struct {
	Asset       string           `json:"asset"`
	Key         string           `json:"key"`
	PartitionID string           `json:"partition_id"`
	Descriptor  batch.Descriptor `json:"batch_kwargs"`
}

// ErrorRecord is the data payload for errors.
//
// A failing asset yields an error record rather than aborting a scan, so
// the other assets still produce output.
type ErrorRecord struct {
	// Code is a machine-readable error code.
	Code string `json:"code"`

	Message string `json:"message"`

	// Asset is the asset being listed when the error occurred.
	Asset string `json:"asset,omitempty"`

	// Details contains additional error context.
	Details any `json:"details,omitempty"`
}

// ProgressRecord is the data payload for periodic progress updates.
type ProgressRecord struct {
	Asset   string `json:"asset"`
	Batches int64  `json:"batches"`
	Pages   int64  `json:"pages"`
}

// AssetSummary aggregates one asset's results.
type AssetSummary struct {
	Batches int64  `json:"batches"`
	Pages   int64  `json:"pages"`
	Error   string `json:"error,omitempty"`
}

// SummaryRecord is the data payload emitted once at the end of a run.
type SummaryRecord struct {
	Batches int64 `json:"batches"`
	Pages   int64 `json:"pages"`
	Errors  int64 `json:"errors"`

	// Duration is the total run duration.
	Duration time.Duration `json:"duration_ns"`

	// DurationHuman is a human-readable duration string.
	DurationHuman string `json:"duration"`

	Assets map[string]AssetSummary `json:"assets,omitempty"`
}

// Writer errors.
var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer is closed")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // e.g. "marshal_data", "write"
	Err error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
