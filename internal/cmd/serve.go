package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/nimbusgen/internal/config"
	"github.com/3leaps/nimbusgen/internal/observability"
	"github.com/3leaps/nimbusgen/internal/server"
	"github.com/3leaps/nimbusgen/internal/server/handlers"
	"github.com/3leaps/nimbusgen/pkg/generator"
	"github.com/3leaps/nimbusgen/pkg/provider"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve a generator over HTTP",
	Long: `Start an HTTP server exposing the manifest's assets, partitions, batch
descriptors and cursors under /v1/assets, plus /health and /version.

Server settings come from runtime configuration (config file,
NIMBUSGEN_* environment variables); --host and --port override them.

Example:
  nimbusgen serve --job gen.yaml
  nimbusgen serve -j gen.yaml --host 0.0.0.0 --port 9000`,
	RunE: runServe,
}

var (
	serveJobPath string
	serveHost    string
	servePort    int
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&serveJobPath, "job", "j", "", "Path to generator manifest (required)")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen host (default: server.host setting)")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Listen port (default: server.port setting)")
	_ = serveCmd.MarkFlagRequired("job")
}

// serveOverrides turns explicit flags into config overrides.
func serveOverrides(cmd *cobra.Command) map[string]any {
	srv := map[string]any{}
	if cmd.Flags().Changed("host") {
		srv["host"] = serveHost
	}
	if cmd.Flags().Changed("port") {
		srv["port"] = servePort
	}
	if len(srv) == 0 {
		return nil
	}
	return map[string]any{"server": srv}
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := config.Load(ctx, serveOverrides(cmd))
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	if !verbose {
		if err := observability.InitFromConfig(config.AppName, cfg.Logging.Level, cfg.Logging.Format); err != nil {
			return exitError(foundry.ExitInvalidArgument, "Invalid logging configuration", err)
		}
	}

	s, err := openSession(ctx, serveJobPath)
	if err != nil {
		return err
	}
	defer s.Close()

	var health *handlers.HealthManager
	if cfg.Health.Enabled {
		health = handlers.InitHealthManager(versionInfo.Version)
		health.SetStarted(false)
		registerHealthCheckers(health, s.gen, s.provider, s.manifest.Connection.Bucket)
	}

	srv := server.New(cfg.Server.Host, cfg.Server.Port,
		server.WithGenerator(s.gen),
		server.WithLogger(observability.CLILogger),
		server.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.IdleTimeout),
		server.WithRequestTimeout(cfg.Server.RequestTimeout))

	observability.CLILogger.Info("Starting server",
		zap.String("addr", srv.Addr()),
		zap.String("generator", s.gen.Name()),
		zap.Strings("assets", s.gen.AssetNames()))
	if health != nil {
		health.SetStarted(true)
	}

	if err := srv.Start(ctx, cfg.Server.ShutdownTimeout); err != nil {
		observability.CLILogger.Error("Server failed", zap.Error(err))
		return exitError(foundry.ExitExternalServiceUnavailable, "Server failed", err)
	}
	observability.CLILogger.Info("Server stopped")
	return nil
}

func registerHealthCheckers(m *handlers.HealthManager, g *generator.Generator, lister provider.DelimiterLister, bucket string) {
	m.RegisterChecker("signals", signalHealthChecker{})
	m.RegisterChecker("identity", identityHealthChecker{
		binaryName: config.AppName,
		envPrefix:  config.EnvPrefix,
		configName: config.AppName,
	})
	m.RegisterChecker("cursor_store", generatorHealthChecker{gen: g})
	m.RegisterChecker("storage", storageHealthChecker{lister: lister, bucket: bucket})
}

// signalHealthChecker reports healthy while the process is handling signals.
type signalHealthChecker struct{}

func (signalHealthChecker) CheckHealth(ctx context.Context) error { return nil }

// identityHealthChecker verifies the application identity is complete.
type identityHealthChecker struct {
	binaryName string
	envPrefix  string
	configName string
}

func (c identityHealthChecker) CheckHealth(ctx context.Context) error {
	switch {
	case c.binaryName == "":
		return errors.New("identity: missing binary name")
	case c.envPrefix == "":
		return errors.New("identity: missing env prefix")
	case c.configName == "":
		return errors.New("identity: missing config name")
	}
	return nil
}

// generatorHealthChecker pings the generator's cursor store.
type generatorHealthChecker struct {
	gen *generator.Generator
}

func (c generatorHealthChecker) CheckHealth(ctx context.Context) error {
	if c.gen == nil {
		return errors.New("generator not initialized")
	}
	return c.gen.Ping(ctx)
}

// storageHealthChecker lists a single key at the bucket root.
type storageHealthChecker struct {
	lister provider.DelimiterLister
	bucket string
}

func (c storageHealthChecker) CheckHealth(ctx context.Context) error {
	if c.lister == nil {
		return errors.New("storage provider not initialized")
	}
	_, err := c.lister.ListWithDelimiter(ctx, provider.ListWithDelimiterOptions{Delimiter: "/", MaxKeys: 1})
	if err != nil {
		return fmt.Errorf("list %s: %w", c.bucket, err)
	}
	return nil
}
