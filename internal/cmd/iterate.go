package cmd

import (
	"context"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/nimbusgen/internal/observability"
	"github.com/3leaps/nimbusgen/pkg/generator"
	"github.com/3leaps/nimbusgen/pkg/output"
)

var iterateCmd = &cobra.Command{
	Use:   "iterate",
	Short: "Stream batch descriptors of one asset as JSONL",
	Long: `Stream the batch descriptors of one asset as JSONL records.

Iteration resumes from the asset's stored cursor. The cursor advances each
time a listing page is fully emitted and is cleared when the listing
completes, so a run stopped with --max (or interrupted) continues where it
left off; descriptors from a partly emitted page are emitted again.

Example:
  nimbusgen iterate --job gen.yaml --asset access_logs
  nimbusgen iterate -j gen.yaml -a access_logs --max 100 --output batches.jsonl.gz
  nimbusgen iterate -j gen.yaml -a access_logs --reset-cursor --reader-option sep=~`,
	RunE: runIterate,
}

var (
	iterateJobPath       string
	iterateAsset         string
	iterateMax           int
	iterateLimit         int
	iterateReaderOptions []string
	iterateResetCursor   bool
	iterateOutput        string
)

func init() {
	rootCmd.AddCommand(iterateCmd)

	iterateCmd.Flags().StringVarP(&iterateJobPath, "job", "j", "", "Path to generator manifest (required)")
	iterateCmd.Flags().StringVarP(&iterateAsset, "asset", "a", "", "Asset name (required)")
	iterateCmd.Flags().IntVar(&iterateMax, "max", 0, "Stop after N descriptors (0 = until the listing completes)")
	iterateCmd.Flags().IntVar(&iterateLimit, "limit", 0, "Row limit hint for the reader (0 = none)")
	iterateCmd.Flags().StringArrayVar(&iterateReaderOptions, "reader-option", nil, "Reader option override as key=value (repeatable)")
	iterateCmd.Flags().BoolVar(&iterateResetCursor, "reset-cursor", false, "Clear the stored cursor and start from the beginning")
	iterateCmd.Flags().StringVarP(&iterateOutput, "output", "o", "stdout", "Output destination (stdout, path, file:path; .gz/.zst compress)")

	_ = iterateCmd.MarkFlagRequired("job")
	_ = iterateCmd.MarkFlagRequired("asset")
}

func runIterate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if iterateMax < 0 {
		return exitError(foundry.ExitInvalidArgument, "Invalid --max", errNegative("max", iterateMax))
	}
	opts, err := parseBatchFlags(iterateLimit, iterateReaderOptions)
	if err != nil {
		return err
	}

	s, err := openSession(ctx, iterateJobPath)
	if err != nil {
		return err
	}
	defer s.Close()

	if iterateResetCursor {
		if err := s.gen.ResetCursor(ctx, iterateAsset); err != nil {
			observability.CLILogger.Error("Failed to reset cursor", zap.String("asset", iterateAsset), zap.Error(err))
			return generatorExit(ctx, "Failed to reset cursor", err)
		}
	}

	dest, err := output.OpenDestination(iterateOutput)
	if err != nil {
		observability.CLILogger.Error("Failed to create writer", zap.Error(err))
		return exitError(foundry.ExitFileWriteError, "Failed to create output", err)
	}
	jobID := uuid.New().String()
	writer := output.NewJSONLWriter(dest, jobID, s.gen.Name())
	defer func() {
		_ = writer.Close()
		if err := dest.Close(); err != nil {
			observability.CLILogger.Warn("Failed to close output", zap.Error(err))
		}
	}()

	observability.CLILogger.Info("Starting iteration",
		zap.String("job_id", jobID),
		zap.String("asset", iterateAsset),
		zap.Int("max", iterateMax))

	res, err := iterateAssetBatches(ctx, s.gen, writer, iterateAsset, opts, iterateMax)
	if err != nil {
		if ctx.Err() != nil {
			observability.CLILogger.Warn("Iteration cancelled",
				zap.String("job_id", jobID),
				zap.Int64("batches", res.Batches))
		} else {
			observability.CLILogger.Error("Iteration failed",
				zap.String("job_id", jobID),
				zap.Error(err))
		}
		return generatorExit(ctx, "Iteration failed", err)
	}

	observability.CLILogger.Info("Iteration completed",
		zap.String("job_id", jobID),
		zap.Int64("batches", res.Batches),
		zap.Int64("pages", res.Pages),
		zap.Bool("complete", res.Complete),
		zap.Duration("duration", res.Duration))
	return nil
}

// iterateResult reports one iterate run.
type iterateResult struct {
	Batches  int64
	Pages    int64
	Complete bool
	Duration time.Duration
}

// iterateAssetBatches writes up to maxItems descriptors (0 = all) followed
// by a summary record. Complete reports whether the listing finished.
func iterateAssetBatches(ctx context.Context, g *generator.Generator, w output.Writer, asset string, opts generator.BatchOptions, maxItems int) (iterateResult, error) {
	start := time.Now()
	var res iterateResult

	it, err := g.Batches(asset, opts)
	if err != nil {
		return res, err
	}

	for (maxItems == 0 || res.Batches < int64(maxItems)) && it.Next(ctx) {
		pid, err := g.PartitionID(asset, it.Key())
		if err != nil {
			return res, err
		}
		if err := w.WriteBatch(ctx, &output.BatchRecord{
			Asset:       asset,
			Key:         it.Key(),
			PartitionID: pid,
			Descriptor:  *it.Descriptor(),
		}); err != nil {
			return res, err
		}
		res.Batches++
	}
	res.Pages = int64(it.Pages())
	if err := it.Err(); err != nil {
		return res, err
	}
	if err := it.Checkpoint(ctx); err != nil {
		return res, err
	}
	res.Complete = it.Exhausted()
	res.Duration = time.Since(start)

	sum := &output.SummaryRecord{
		Batches:       res.Batches,
		Pages:         res.Pages,
		Duration:      res.Duration,
		DurationHuman: res.Duration.String(),
		Assets: map[string]output.AssetSummary{
			asset: {Batches: res.Batches, Pages: res.Pages},
		},
	}
	if err := w.WriteSummary(ctx, sum); err != nil {
		return res, err
	}
	return res, nil
}
