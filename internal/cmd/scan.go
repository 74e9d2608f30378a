package cmd

import (
	"errors"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/3leaps/nimbusgen/internal/observability"
	"github.com/3leaps/nimbusgen/pkg/generator"
	"github.com/3leaps/nimbusgen/pkg/output"
	"github.com/3leaps/nimbusgen/pkg/scan"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Emit batch descriptors for every asset as JSONL",
	Long: `Scan all (or selected) assets of a manifest concurrently and write one
JSONL batch record per descriptor, progress records, and a final summary.

An asset that cannot be listed (access denied, missing prefix, mode
mismatch) produces an error record and the scan continues with the other
assets. Cursors are advanced exactly as for iterate.

Example:
  nimbusgen scan --job gen.yaml
  nimbusgen scan -j gen.yaml --asset access_logs --asset events --output scan.jsonl.zst
  nimbusgen scan -j gen.yaml --concurrency 8 --progress-every 500`,
	RunE: runScan,
}

var (
	scanJobPath       string
	scanAssets        []string
	scanConcurrency   int
	scanOutput        string
	scanProgressEvery int
	scanLimit         int
	scanReaderOptions []string
)

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().StringVarP(&scanJobPath, "job", "j", "", "Path to generator manifest (required)")
	scanCmd.Flags().StringSliceVarP(&scanAssets, "asset", "a", nil, "Restrict to these assets (repeatable)")
	scanCmd.Flags().IntVarP(&scanConcurrency, "concurrency", "c", 0, "Assets scanned in parallel (default: workers setting)")
	scanCmd.Flags().StringVarP(&scanOutput, "output", "o", "", "Output destination (default: scan.output setting)")
	scanCmd.Flags().IntVar(&scanProgressEvery, "progress-every", 0, "Emit a progress record every N batches per asset (default: scan.progress_every setting)")
	scanCmd.Flags().IntVar(&scanLimit, "limit", 0, "Row limit hint for the reader (0 = none)")
	scanCmd.Flags().StringArrayVar(&scanReaderOptions, "reader-option", nil, "Reader option override as key=value (repeatable)")

	_ = scanCmd.MarkFlagRequired("job")
}

// scanConfigFromFlags resolves scan settings, falling back to runtime
// configuration defaults for unset flags.
func scanConfigFromFlags() (scan.Config, string, error) {
	cfg := scan.DefaultConfig()
	cfg.Assets = scanAssets

	cfg.Concurrency = firstPositive(scanConcurrency, viper.GetInt("workers"), cfg.Concurrency)
	cfg.ProgressEvery = firstPositive(scanProgressEvery, viper.GetInt("scan.progress_every"), cfg.ProgressEvery)
	if scanConcurrency < 0 {
		return cfg, "", exitError(foundry.ExitInvalidArgument, "Invalid --concurrency", errNegative("concurrency", scanConcurrency))
	}
	if scanProgressEvery < 0 {
		return cfg, "", exitError(foundry.ExitInvalidArgument, "Invalid --progress-every", errNegative("progress-every", scanProgressEvery))
	}

	opts, err := parseBatchFlags(scanLimit, scanReaderOptions)
	if err != nil {
		return cfg, "", err
	}
	cfg.Batch = opts

	dest := scanOutput
	if dest == "" {
		dest = viper.GetString("scan.output")
	}
	return cfg, dest, nil
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}

func runScan(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, dest, err := scanConfigFromFlags()
	if err != nil {
		return err
	}

	s, err := openSession(ctx, scanJobPath)
	if err != nil {
		return err
	}
	defer s.Close()

	out, err := output.OpenDestination(dest)
	if err != nil {
		observability.CLILogger.Error("Failed to create writer", zap.Error(err))
		return exitError(foundry.ExitFileWriteError, "Failed to create output", err)
	}
	jobID := uuid.New().String()
	writer := output.NewJSONLWriter(out, jobID, s.gen.Name())
	defer func() {
		_ = writer.Close()
		if err := out.Close(); err != nil {
			observability.CLILogger.Warn("Failed to close output", zap.Error(err))
		}
	}()

	observability.CLILogger.Info("Starting scan",
		zap.String("job_id", jobID),
		zap.String("bucket", s.gen.Bucket()),
		zap.Strings("assets", cfg.Assets),
		zap.Int("concurrency", cfg.Concurrency))

	summary, err := scan.New(s.gen, writer, cfg, observability.CLILogger).Run(ctx)
	if err != nil {
		var writeErr *output.WriteError
		switch {
		case ctx.Err() != nil:
			var batches int64
			if summary != nil {
				batches = summary.Batches
			}
			observability.CLILogger.Warn("Scan cancelled",
				zap.String("job_id", jobID),
				zap.Int64("batches", batches))
			return exitError(foundry.ExitSignalInt, "Scan cancelled", err)
		case generator.IsUnknownAsset(err):
			return exitError(foundry.ExitInvalidArgument, "Invalid --asset", err)
		case errors.As(err, &writeErr):
			observability.CLILogger.Error("Failed to write output", zap.Error(err))
			return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
		default:
			observability.CLILogger.Error("Scan failed",
				zap.String("job_id", jobID),
				zap.Error(err))
			return exitError(foundry.ExitExternalServiceUnavailable, "Scan failed", err)
		}
	}

	observability.CLILogger.Info("Scan completed",
		zap.String("job_id", jobID),
		zap.Int64("batches", summary.Batches),
		zap.Int64("pages", summary.Pages),
		zap.Int64("errors", summary.Errors),
		zap.Duration("duration", summary.Duration))
	return nil
}
