package cmd

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/nimbusgen/internal/observability"
	"github.com/3leaps/nimbusgen/pkg/generator"
	"github.com/3leaps/nimbusgen/pkg/manifest"
	"github.com/3leaps/nimbusgen/pkg/provider"
)

var (
	doctorJobPath string
	doctorTimeout time.Duration
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Run diagnostic checks on the environment and, with --job, on a manifest's
storage connection, cursor store and assets.

For every asset doctor lists one page under its prefix and reports whether
the page fits the asset's mode (objects vs. directories).

Examples:
  nimbusgen doctor                  # Environment checks
  nimbusgen doctor --job gen.yaml   # Also check connectivity and assets`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().StringVarP(&doctorJobPath, "job", "j", "", "Generator manifest to check")
	doctorCmd.Flags().DurationVar(&doctorTimeout, "timeout", 30*time.Second, "Timeout for storage checks")
}

// doctorReport counts checks as they are logged.
type doctorReport struct {
	n      int
	failed int
}

func (r *doctorReport) pass(name, result string, fields ...zap.Field) {
	r.n++
	observability.CLILogger.Info(fmt.Sprintf("[%d] %s... ✅ %s", r.n, name, result), fields...)
}

func (r *doctorReport) warn(name, result string, fields ...zap.Field) {
	r.n++
	observability.CLILogger.Warn(fmt.Sprintf("[%d] %s... ⚠️  %s", r.n, name, result), fields...)
}

func (r *doctorReport) fail(name, result string, fields ...zap.Field) {
	r.n++
	r.failed++
	observability.CLILogger.Error(fmt.Sprintf("[%d] %s... ❌ %s", r.n, name, result), fields...)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	banner := rootCmd.Name() + " doctor"
	observability.CLILogger.Info("=== " + banner + " ===")
	observability.CLILogger.Info("Running diagnostic checks...")

	r := &doctorReport{}
	checkEnvironment(r)
	v := crucible.GetVersion()
	checkLibraries(r, v.Gofulmen, v.Crucible)

	if doctorJobPath != "" {
		m, err := manifest.Load(doctorJobPath)
		if err != nil {
			r.fail("Loading manifest", err.Error(), zap.String("path", doctorJobPath))
		} else {
			r.pass("Loading manifest", doctorJobPath)
			if m.Connection.Provider == string(provider.ProviderS3) {
				checkAWSCredentials(ctx, r)
			}
			checkCtx, cancel := context.WithTimeout(ctx, doctorTimeout)
			checkManifest(checkCtx, r, m)
			cancel()
		}
	}

	observability.CLILogger.Info("")
	if r.failed > 0 {
		observability.CLILogger.Warn("⚠️  Some checks failed. Review the output above for details.")
		observability.CLILogger.Info("=== End Diagnostics ===")
		return exitError(foundry.ExitExternalServiceUnavailable, "Diagnostics failed",
			fmt.Errorf("%d of %d checks failed", r.failed, r.n))
	}
	observability.CLILogger.Info(fmt.Sprintf("✅ All checks passed! Your %s setup is healthy.", banner))
	observability.CLILogger.Info("=== End Diagnostics ===")
	return nil
}

func checkEnvironment(r *doctorReport) {
	goVersion := runtime.Version()
	if goVersion >= "go1.23" {
		r.pass("Checking Go version", goVersion, zap.String("go_version", goVersion))
	} else {
		r.warn("Checking Go version", goVersion+" (recommended: go1.23+)", zap.String("go_version", goVersion))
	}

	if configDir, err := os.UserConfigDir(); err != nil {
		r.warn("Checking config directory", "cannot find config directory", zap.Error(err))
	} else {
		r.pass("Checking config directory", configDir, zap.String("config_dir", configDir))
	}

	r.pass("Checking environment", runtime.GOOS+"/"+runtime.GOARCH,
		zap.String("os", runtime.GOOS),
		zap.String("arch", runtime.GOARCH))
}

// checkLibraries reports the gofulmen and crucible versions. Schema
// validation and exit codes depend on both.
func checkLibraries(r *doctorReport, gofulmenVersion, crucibleVersion string) {
	if gofulmenVersion == "" {
		r.fail("Checking Gofulmen access", "cannot access Gofulmen")
	} else {
		r.pass("Checking Gofulmen access", "v"+gofulmenVersion, zap.String("gofulmen_version", gofulmenVersion))
	}
	if crucibleVersion == "" {
		r.fail("Checking Crucible access", "cannot access Crucible")
	} else {
		r.pass("Checking Crucible access", "v"+crucibleVersion, zap.String("crucible_version", crucibleVersion))
	}
}

func checkAWSCredentials(ctx context.Context, r *doctorReport) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		r.fail("Checking AWS credentials", "cannot load AWS config", zap.Error(err))
		printAWSCredentialsHelp()
		return
	}
	creds, err := cfg.Credentials.Retrieve(ctx)
	if err != nil {
		r.fail("Checking AWS credentials", "cannot retrieve credentials", zap.Error(err))
		printAWSCredentialsHelp()
		return
	}
	source := creds.Source
	if source == "" {
		source = "unknown"
	}
	r.pass("Checking AWS credentials", "found credentials",
		zap.String("access_key", maskAccessKey(creds.AccessKeyID)),
		zap.String("credential_source", source))
}

// checkManifest opens the storage connection and cursor store, then lists
// one page per asset.
func checkManifest(ctx context.Context, r *doctorReport, m *manifest.Manifest) {
	s, err := newSession(ctx, m)
	if err != nil {
		r.fail("Connecting", err.Error())
		return
	}
	defer s.Close()
	r.pass("Connecting", m.Connection.Provider+" bucket "+m.Connection.Bucket)

	if err := s.gen.Ping(ctx); err != nil {
		r.fail("Checking cursor store", err.Error(), zap.String("backend", m.Cursor.Backend))
	} else {
		r.pass("Checking cursor store", m.Cursor.Backend)
	}

	for _, name := range s.gen.AssetNames() {
		checkAsset(ctx, r, s, name)
	}
}

func checkAsset(ctx context.Context, r *doctorReport, s *session, name string) {
	a, err := s.gen.Asset(name)
	if err != nil {
		r.fail("Checking asset "+name, err.Error())
		return
	}
	check := "Checking asset " + name
	page, err := s.provider.ListWithDelimiter(ctx, provider.ListWithDelimiterOptions{
		Prefix:    a.Prefix,
		Delimiter: assetDelimiter(s.manifest, a),
		MaxKeys:   s.manifest.Generator.MaxKeys,
	})
	if err != nil {
		r.fail(check, provider.ErrorCode(err), zap.String("prefix", a.Prefix), zap.Error(err))
		return
	}

	objects := 0
	for _, o := range page.Objects {
		if o.Size > 0 {
			objects++
		}
	}
	fields := []zap.Field{
		zap.String("prefix", a.Prefix),
		zap.Int("objects", objects),
		zap.Int("common_prefixes", len(page.CommonPrefixes)),
	}
	switch {
	case page.Entries() == 0:
		r.warn(check, "prefix is empty", fields...)
	case a.DirectoryAssets && len(page.CommonPrefixes) == 0:
		r.fail(check, "directory asset but first page has no common prefixes", fields...)
	case !a.DirectoryAssets && objects == 0:
		r.fail(check, "object asset but first page has no objects", fields...)
	default:
		r.pass(check, "first page fits asset mode", fields...)
	}
}

func assetDelimiter(m *manifest.Manifest, a generator.AssetConfig) string {
	if a.Delimiter != nil {
		return *a.Delimiter
	}
	return m.Generator.Delimiter
}

// maskAccessKey masks all but the last 4 characters of an access key.
func maskAccessKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

// printAWSCredentialsHelp prints help for configuring AWS credentials.
func printAWSCredentialsHelp() {
	observability.CLILogger.Info("")
	observability.CLILogger.Info("To configure AWS credentials:")
	observability.CLILogger.Info("  1. Set AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY environment variables, or")
	observability.CLILogger.Info("  2. Run 'aws configure' and set connection.profile in the manifest, or")
	observability.CLILogger.Info("  3. Use an IAM role when running on AWS infrastructure")
	observability.CLILogger.Info("")
	observability.CLILogger.Info("For S3-compatible storage, set connection.endpoint in the manifest")
	observability.CLILogger.Info("or use provider: minio with MINIO_ACCESS_KEY/MINIO_SECRET_KEY.")
	observability.CLILogger.Info("")
}
