package cmd

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/nimbusgen/internal/observability"
)

var cursorCmd = &cobra.Command{
	Use:   "cursor",
	Short: "Inspect or clear stored listing cursors",
	Long: `Inspect or clear the continuation cursors stored for a generator's assets.

Cursors live in the store configured by the manifest's cursor section and
are namespaced by generator name.`,
}

var cursorShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print stored cursors as JSON lines",
	Long: `Print one JSON object per asset with its stored cursor, or null when the
asset has no cursor (iteration starts from the beginning).

Example:
  nimbusgen cursor show --job gen.yaml
  nimbusgen cursor show --job gen.yaml --asset access_logs`,
	RunE: runCursorShow,
}

var cursorResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear stored cursors",
	Long: `Clear the stored cursor of one asset, or of every asset with --all.

Example:
  nimbusgen cursor reset --job gen.yaml --asset access_logs
  nimbusgen cursor reset --job gen.yaml --all`,
	RunE: runCursorReset,
}

var (
	cursorJobPath string
	cursorAsset   string
	cursorAll     bool
)

func init() {
	rootCmd.AddCommand(cursorCmd)
	cursorCmd.AddCommand(cursorShowCmd)
	cursorCmd.AddCommand(cursorResetCmd)

	cursorCmd.PersistentFlags().StringVarP(&cursorJobPath, "job", "j", "", "Path to generator manifest (required)")
	cursorCmd.PersistentFlags().StringVarP(&cursorAsset, "asset", "a", "", "Asset name (default: all assets for show)")
	cursorResetCmd.Flags().BoolVar(&cursorAll, "all", false, "Clear the cursors of every asset")
	_ = cursorCmd.MarkPersistentFlagRequired("job")
}

type cursorLine struct {
	Asset             string     `json:"asset"`
	ContinuationToken *string    `json:"continuation_token"`
	LastKey           string     `json:"last_key,omitempty"`
	UpdatedAt         *time.Time `json:"updated_at,omitempty"`
}

func runCursorShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := openSession(ctx, cursorJobPath)
	if err != nil {
		return err
	}
	defer s.Close()

	names := s.gen.AssetNames()
	if cursorAsset != "" {
		names = []string{cursorAsset}
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	for _, name := range names {
		c, err := s.gen.Cursor(ctx, name)
		if err != nil {
			observability.CLILogger.Error("Failed to load cursor", zap.String("asset", name), zap.Error(err))
			return generatorExit(ctx, "Failed to load cursor", err)
		}
		line := cursorLine{Asset: name}
		if !c.IsZero() {
			token, updated := c.ContinuationToken, c.UpdatedAt
			line.ContinuationToken = &token
			line.LastKey = c.LastKey
			line.UpdatedAt = &updated
		}
		if err := enc.Encode(line); err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to write cursor", err)
		}
	}
	return nil
}

func runCursorReset(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if cursorAll == (cursorAsset != "") {
		return exitError(foundry.ExitInvalidArgument, "Invalid arguments",
			errors.New("specify exactly one of --asset or --all"))
	}

	s, err := openSession(ctx, cursorJobPath)
	if err != nil {
		return err
	}
	defer s.Close()

	names := []string{cursorAsset}
	if cursorAll {
		names = s.gen.AssetNames()
	}
	for _, name := range names {
		if err := s.gen.ResetCursor(ctx, name); err != nil {
			observability.CLILogger.Error("Failed to reset cursor", zap.String("asset", name), zap.Error(err))
			return generatorExit(ctx, "Failed to reset cursor", err)
		}
		observability.CLILogger.Info("Cursor cleared", zap.String("asset", name))
	}
	return nil
}
