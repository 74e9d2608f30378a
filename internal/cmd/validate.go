package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/nimbusgen/internal/observability"
	"github.com/3leaps/nimbusgen/pkg/generator"
	"github.com/3leaps/nimbusgen/pkg/manifest"
	"github.com/3leaps/nimbusgen/pkg/match"
	"github.com/3leaps/nimbusgen/pkg/provider"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a manifest and show the generation plan",
	Long: `Validate a generator manifest against its schema, compile every asset's
filters and partition rules, and print the resulting plan. Storage is not
contacted; use doctor to check connectivity.

Example:
  nimbusgen validate --job gen.yaml`,
	RunE: runValidate,
}

var validateJobPath string

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringVarP(&validateJobPath, "job", "j", "", "Path to generator manifest (required)")
	_ = validateCmd.MarkFlagRequired("job")
}

// errOffline is returned by the lister used for validation.
var errOffline = errors.New("listing disabled during validation")

type offlineLister struct{}

func (offlineLister) ListWithDelimiter(context.Context, provider.ListWithDelimiterOptions) (*provider.ListWithDelimiterResult, error) {
	return nil, errOffline
}

func runValidate(cmd *cobra.Command, args []string) error {
	m, err := loadManifest(validateJobPath)
	if err != nil {
		return err
	}

	g, err := compileManifest(m)
	if err != nil {
		observability.CLILogger.Error("Invalid generator configuration", zap.Error(err))
		return exitError(foundry.ExitInvalidArgument, "Invalid generator configuration", err)
	}
	return showPlan(m, g)
}

// compileManifest builds a generator without a storage connection so regex
// and glob errors surface before any listing.
func compileManifest(m *manifest.Manifest) (*generator.Generator, error) {
	return generator.New(offlineLister{}, m.ToGeneratorConfig())
}

// showPlan displays what the generator would list.
func showPlan(m *manifest.Manifest, g *generator.Generator) error {
	fmt.Println("=== Generator Plan ===")
	fmt.Println()
	fmt.Printf("Generator:   %s\n", g.Name())
	fmt.Printf("Provider:    %s\n", m.Connection.Provider)
	fmt.Printf("Bucket:      %s\n", m.Connection.Bucket)
	if m.Connection.Region != "" {
		fmt.Printf("Region:      %s\n", m.Connection.Region)
	}
	if m.Connection.Endpoint != "" {
		fmt.Printf("Endpoint:    %s\n", m.Connection.Endpoint)
	}
	if m.Connection.BaseDir != "" {
		fmt.Printf("Base Dir:    %s\n", m.Connection.BaseDir)
	}
	fmt.Printf("Delimiter:   %q\n", m.Generator.Delimiter)
	fmt.Printf("Max Keys:    %d\n", m.Generator.MaxKeys)
	if m.Generator.ReaderMethod != "" {
		fmt.Printf("Reader:      %s\n", m.Generator.ReaderMethod)
	} else if m.Generator.InferReaderMethod {
		fmt.Println("Reader:      inferred from key suffix")
	}
	if m.Generator.RateLimit > 0 {
		fmt.Printf("Rate Limit:  %.1f req/s\n", m.Generator.RateLimit)
	}
	fmt.Printf("Cursors:     %s\n", describeCursorStore(m))
	fmt.Println()

	fmt.Println("Assets:")
	for _, name := range g.AssetNames() {
		a, err := g.Asset(name)
		if err != nil {
			return err
		}
		mode := "objects"
		if a.DirectoryAssets {
			mode = "directories"
		}
		fmt.Printf("  %s (%s)\n", name, mode)
		fmt.Printf("    Prefix:     %q\n", a.Prefix)
		regex := a.RegexFilter
		if regex == "" {
			regex = match.DefaultRegex
		}
		fmt.Printf("    Regex:      %s\n", regex)
		if a.PartitionRegex != "" {
			group := 1
			if a.MatchGroupID != nil {
				group = *a.MatchGroupID
			}
			fmt.Printf("    Partition:  %s (group %d)\n", a.PartitionRegex, group)
		} else {
			fmt.Println("    Partition:  key without prefix")
		}
		if len(a.Includes) > 0 {
			fmt.Printf("    Include:    %s\n", strings.Join(a.Includes, ", "))
		}
		if len(a.Excludes) > 0 {
			fmt.Printf("    Exclude:    %s\n", strings.Join(a.Excludes, ", "))
		}
		if a.ReaderMethod != "" {
			fmt.Printf("    Reader:     %s\n", a.ReaderMethod)
		}
	}
	fmt.Println()
	fmt.Println("Manifest validated successfully.")
	return nil
}

func describeCursorStore(m *manifest.Manifest) string {
	switch m.Cursor.Backend {
	case "sqlite":
		return "sqlite " + m.Cursor.Path
	case "redis":
		if m.Cursor.URL == "" {
			return "redis (default address)"
		}
		if u, err := url.Parse(m.Cursor.URL); err == nil {
			return "redis " + u.Redacted()
		}
		return "redis"
	default:
		return m.Cursor.Backend + " (not persisted across runs)"
	}
}
