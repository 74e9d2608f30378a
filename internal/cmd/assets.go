package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/nimbusgen/internal/observability"
	"github.com/3leaps/nimbusgen/pkg/batch"
	"github.com/3leaps/nimbusgen/pkg/generator"
)

var assetsCmd = &cobra.Command{
	Use:   "assets",
	Short: "List the assets configured in a manifest",
	Long: `List the asset names a generator manifest defines, one per line.

Example:
  nimbusgen assets --job gen.yaml`,
	RunE: runAssets,
}

var partitionsCmd = &cobra.Command{
	Use:   "partitions",
	Short: "List partition identifiers of an asset",
	Long: `List every partition identifier of an asset, in listing order.

This performs a full listing pass over the asset and does not touch the
stored cursor.

Example:
  nimbusgen partitions --job gen.yaml --asset access_logs`,
	RunE: runPartitions,
}

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Print the batch descriptor for one partition",
	Long: `Find the first key of an asset whose partition identifier matches and
print its batch descriptor as JSON.

Example:
  nimbusgen batch --job gen.yaml --asset access_logs --partition-id 2019-08-01
  nimbusgen batch -j gen.yaml -a access_logs -p 2019-08-01 --limit 500 --reader-option header=true`,
	RunE: runBatch,
}

var (
	assetsJobPath string

	partitionsJobPath string
	partitionsAsset   string

	batchJobPath       string
	batchAsset         string
	batchPartitionID   string
	batchLimit         int
	batchReaderOptions []string
)

func init() {
	rootCmd.AddCommand(assetsCmd)
	rootCmd.AddCommand(partitionsCmd)
	rootCmd.AddCommand(batchCmd)

	assetsCmd.Flags().StringVarP(&assetsJobPath, "job", "j", "", "Path to generator manifest (required)")
	_ = assetsCmd.MarkFlagRequired("job")

	partitionsCmd.Flags().StringVarP(&partitionsJobPath, "job", "j", "", "Path to generator manifest (required)")
	partitionsCmd.Flags().StringVarP(&partitionsAsset, "asset", "a", "", "Asset name (required)")
	_ = partitionsCmd.MarkFlagRequired("job")
	_ = partitionsCmd.MarkFlagRequired("asset")

	batchCmd.Flags().StringVarP(&batchJobPath, "job", "j", "", "Path to generator manifest (required)")
	batchCmd.Flags().StringVarP(&batchAsset, "asset", "a", "", "Asset name (required)")
	batchCmd.Flags().StringVarP(&batchPartitionID, "partition-id", "p", "", "Partition identifier (required)")
	batchCmd.Flags().IntVar(&batchLimit, "limit", 0, "Row limit hint for the reader (0 = none)")
	batchCmd.Flags().StringArrayVar(&batchReaderOptions, "reader-option", nil, "Reader option override as key=value (repeatable)")
	_ = batchCmd.MarkFlagRequired("job")
	_ = batchCmd.MarkFlagRequired("asset")
	_ = batchCmd.MarkFlagRequired("partition-id")
}

func runAssets(cmd *cobra.Command, args []string) error {
	m, err := loadManifest(assetsJobPath)
	if err != nil {
		return err
	}

	// Compiling the generator validates every asset's regexes.
	s, err := newSession(cmd.Context(), m)
	if err != nil {
		return err
	}
	defer s.Close()

	out := cmd.OutOrStdout()
	for _, name := range s.gen.AssetNames() {
		_, _ = fmt.Fprintln(out, name)
	}
	return nil
}

func runPartitions(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := openSession(ctx, partitionsJobPath)
	if err != nil {
		return err
	}
	defer s.Close()

	ids, err := s.gen.PartitionIDs(ctx, partitionsAsset)
	if err != nil {
		observability.CLILogger.Error("Failed to list partitions",
			zap.String("asset", partitionsAsset),
			zap.Error(err))
		return generatorExit(ctx, "Failed to list partitions", err)
	}

	out := cmd.OutOrStdout()
	for _, id := range ids {
		_, _ = fmt.Fprintln(out, id)
	}
	return nil
}

func runBatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	opts, err := parseBatchFlags(batchLimit, batchReaderOptions)
	if err != nil {
		return err
	}

	s, err := openSession(ctx, batchJobPath)
	if err != nil {
		return err
	}
	defer s.Close()

	d, err := s.gen.BuildBatchKwargsFromPartitionID(ctx, batchAsset, batchPartitionID, opts)
	if err != nil {
		observability.CLILogger.Error("Failed to build batch descriptor",
			zap.String("asset", batchAsset),
			zap.String("partition_id", batchPartitionID),
			zap.Error(err))
		return generatorExit(ctx, "Failed to build batch descriptor", err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(d); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write descriptor", err)
	}
	return nil
}

// parseBatchFlags validates --limit and --reader-option values.
func parseBatchFlags(limit int, readerOptions []string) (generator.BatchOptions, error) {
	if limit < 0 {
		return generator.BatchOptions{}, exitError(foundry.ExitInvalidArgument, "Invalid --limit", errNegative("limit", limit))
	}
	ro, err := batch.ParseOptionAssignments(readerOptions)
	if err != nil {
		return generator.BatchOptions{}, exitError(foundry.ExitInvalidArgument, "Invalid --reader-option", err)
	}
	return generator.BatchOptions{ReaderOptions: ro, Limit: limit}, nil
}
