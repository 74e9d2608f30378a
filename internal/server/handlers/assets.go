package handlers

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/3leaps/nimbusgen/internal/errors"
	"github.com/3leaps/nimbusgen/pkg/batch"
	"github.com/3leaps/nimbusgen/pkg/cursor"
	"github.com/3leaps/nimbusgen/pkg/generator"
)

// Batch page bounds for GET /v1/assets/{asset}/batches.
const (
	DefaultBatchPage = 100
	MaxBatchPage     = 1000
)

// AssetHandlers serves the generator over HTTP.
type AssetHandlers struct {
	gen     *generator.Generator
	timeout time.Duration
}

// NewAssetHandlers creates handlers for g. A positive timeout bounds the
// listing work of each request.
func NewAssetHandlers(g *generator.Generator, timeout time.Duration) *AssetHandlers {
	return &AssetHandlers{gen: g, timeout: timeout}
}

// AssetsResponse lists configured assets.
type AssetsResponse struct {
	Generator string   `json:"generator"`
	Bucket    string   `json:"bucket"`
	Assets    []string `json:"assets"`
}

// AssetResponse describes one asset.
type AssetResponse struct {
	Asset  string                `json:"asset"`
	Config generator.AssetConfig `json:"config"`
}

// PartitionsResponse lists an asset's partition identifiers.
type PartitionsResponse struct {
	Asset      string   `json:"asset"`
	Partitions []string `json:"partitions"`
}

// BatchEntry is one descriptor with the key behind it.
type BatchEntry struct {
	Key         string            `json:"key"`
	PartitionID string            `json:"partition_id"`
	Descriptor  *batch.Descriptor `json:"batch_kwargs"`
}

// BatchesResponse is one page of descriptors. Done reports that the listing
// pass completed and the asset cursor was cleared.
type BatchesResponse struct {
	Asset   string       `json:"asset"`
	Batches []BatchEntry `json:"batches"`
	Done    bool         `json:"done"`
}

// CursorResponse reports an asset's stored cursor.
type CursorResponse struct {
	Asset  string         `json:"asset"`
	Cursor *cursor.Cursor `json:"cursor"`
}

func (h *AssetHandlers) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	if h.timeout > 0 {
		return context.WithTimeout(r.Context(), h.timeout)
	}
	return context.WithCancel(r.Context())
}

// ListAssets handles GET /v1/assets.
func (h *AssetHandlers) ListAssets(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, AssetsResponse{
		Generator: h.gen.Name(),
		Bucket:    h.gen.Bucket(),
		Assets:    h.gen.AssetNames(),
	})
}

// GetAsset handles GET /v1/assets/{asset}.
func (h *AssetHandlers) GetAsset(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "asset")
	cfg, err := h.gen.Asset(name)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, AssetResponse{Asset: name, Config: cfg})
}

// ListPartitions handles GET /v1/assets/{asset}/partitions.
func (h *AssetHandlers) ListPartitions(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()

	name := chi.URLParam(r, "asset")
	ids, err := h.gen.PartitionIDs(ctx, name)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, PartitionsResponse{Asset: name, Partitions: ids})
}

// GetPartitionBatch handles GET /v1/assets/{asset}/partitions/{partitionID}/batch
// and GET /v1/assets/{asset}/batch?partition_id=P. Path identifiers may be
// percent-encoded so they can contain "/".
func (h *AssetHandlers) GetPartitionBatch(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()

	name := chi.URLParam(r, "asset")
	pid := r.URL.Query().Get("partition_id")
	if raw := chi.URLParam(r, "partitionID"); raw != "" {
		decoded, err := url.PathUnescape(raw)
		if err != nil {
			respondWithError(w, r, apperrors.InvalidParam("partitionID", err.Error()))
			return
		}
		pid = decoded
	}
	if pid == "" {
		respondWithError(w, r, apperrors.InvalidParam("partition_id", "required"))
		return
	}

	opts, err := batchOptions(r)
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	d, err := h.gen.BuildBatchKwargsFromPartitionID(ctx, name, pid, opts)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// ListBatches handles GET /v1/assets/{asset}/batches.
//
// It yields up to max descriptors and checkpoints the asset cursor after the
// last one, so successive calls continue where the previous call stopped.
// done is true once the listing completed; the cursor is then cleared and
// the next call starts over. reset=true clears the cursor first.
func (h *AssetHandlers) ListBatches(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()

	name := chi.URLParam(r, "asset")
	maxItems, err := intParam(r, "max", DefaultBatchPage)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	if maxItems < 1 || maxItems > MaxBatchPage {
		respondWithError(w, r, apperrors.InvalidParam("max", "must be between 1 and "+strconv.Itoa(MaxBatchPage)))
		return
	}
	opts, err := batchOptions(r)
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	if r.URL.Query().Get("reset") == "true" {
		if err := h.gen.ResetCursor(ctx, name); err != nil {
			respondWithError(w, r, err)
			return
		}
	}

	it, err := h.gen.Batches(name, opts)
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	resp := BatchesResponse{Asset: name, Batches: []BatchEntry{}}
	for len(resp.Batches) < maxItems && it.Next(ctx) {
		pid, err := h.gen.PartitionID(name, it.Key())
		if err != nil {
			respondWithError(w, r, err)
			return
		}
		resp.Batches = append(resp.Batches, BatchEntry{Key: it.Key(), PartitionID: pid, Descriptor: it.Descriptor()})
	}
	if err := it.Err(); err != nil {
		respondWithError(w, r, err)
		return
	}
	if err := it.Checkpoint(ctx); err != nil {
		respondWithError(w, r, err)
		return
	}
	resp.Done = it.Exhausted()
	writeJSON(w, http.StatusOK, resp)
}

// GetCursor handles GET /v1/assets/{asset}/cursor.
func (h *AssetHandlers) GetCursor(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "asset")
	c, err := h.gen.Cursor(r.Context(), name)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	resp := CursorResponse{Asset: name}
	if !c.IsZero() {
		resp.Cursor = &c
	}
	writeJSON(w, http.StatusOK, resp)
}

// ResetCursor handles DELETE /v1/assets/{asset}/cursor.
func (h *AssetHandlers) ResetCursor(w http.ResponseWriter, r *http.Request) {
	if err := h.gen.ResetCursor(r.Context(), chi.URLParam(r, "asset")); err != nil {
		respondWithError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func batchOptions(r *http.Request) (generator.BatchOptions, error) {
	limit, err := intParam(r, "limit", 0)
	if err != nil {
		return generator.BatchOptions{}, err
	}
	if limit < 0 {
		return generator.BatchOptions{}, apperrors.InvalidParam("limit", "must not be negative")
	}
	ro, err := batch.ParseOptionAssignments(r.URL.Query()["reader_option"])
	if err != nil {
		return generator.BatchOptions{}, apperrors.InvalidParam("reader_option", err.Error())
	}
	return generator.BatchOptions{ReaderOptions: ro, Limit: limit}, nil
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperrors.InvalidParam(name, "must be an integer")
	}
	return n, nil
}
