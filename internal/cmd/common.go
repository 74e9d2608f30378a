package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"go.uber.org/zap"

	"github.com/3leaps/nimbusgen/internal/observability"
	"github.com/3leaps/nimbusgen/pkg/cursor"
	"github.com/3leaps/nimbusgen/pkg/generator"
	"github.com/3leaps/nimbusgen/pkg/manifest"
	"github.com/3leaps/nimbusgen/pkg/provider"
	"github.com/3leaps/nimbusgen/pkg/provider/file"
	"github.com/3leaps/nimbusgen/pkg/provider/minio"
	"github.com/3leaps/nimbusgen/pkg/provider/s3"
)

// Environment variables read for MinIO static credentials. The AWS names
// are used as a fallback so one set of variables serves both providers.
const (
	envMinioAccessKey = "MINIO_ACCESS_KEY"
	envMinioSecretKey = "MINIO_SECRET_KEY"
	envAWSAccessKey   = "AWS_ACCESS_KEY_ID"
	envAWSSecretKey   = "AWS_SECRET_ACCESS_KEY"
)

// loadManifest loads the job manifest, logging and mapping failures to
// ExitInvalidArgument.
func loadManifest(path string) (*manifest.Manifest, error) {
	m, err := manifest.Load(path)
	if err != nil {
		observability.CLILogger.Error("Failed to load manifest",
			zap.String("path", path),
			zap.Error(err))
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid manifest", err)
	}

	observability.CLILogger.Debug("Loaded manifest",
		zap.String("path", path),
		zap.String("provider", m.Connection.Provider),
		zap.String("bucket", m.Connection.Bucket),
		zap.Int("assets", len(m.Assets)))
	return m, nil
}

// createProvider creates a storage provider from manifest configuration.
func createProvider(ctx context.Context, m *manifest.Manifest) (provider.Provider, error) {
	conn := m.Connection
	kind, ok := provider.ParseProviderType(conn.Provider)
	if !ok {
		return nil, fmt.Errorf("unsupported provider %q", conn.Provider)
	}
	switch kind {
	case provider.ProviderS3:
		return s3.New(ctx, s3.Config{
			Bucket:   conn.Bucket,
			Region:   conn.Region,
			Endpoint: conn.Endpoint,
			Profile:  conn.Profile,
			// S3-compatible services (moto, MinIO) need path-style URLs.
			ForcePathStyle: conn.Endpoint != "",
			MaxKeys:        m.Generator.MaxKeys,
			MaxAttempts:    conn.MaxAttempts,
		})
	case provider.ProviderMinIO:
		return minio.New(minio.Config{
			Endpoint:  conn.Endpoint,
			Bucket:    conn.Bucket,
			AccessKey: firstEnv(envMinioAccessKey, envAWSAccessKey),
			SecretKey: firstEnv(envMinioSecretKey, envAWSSecretKey),
			Region:    conn.Region,
			UseSSL:    conn.UseSSLEnabled(),
			MaxKeys:   m.Generator.MaxKeys,
		})
	default:
		return file.New(file.Config{BaseDir: conn.BaseDir})
	}
}

func firstEnv(names ...string) string {
	for _, name := range names {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}

// session bundles everything a command needs to drive a generator.
type session struct {
	manifest *manifest.Manifest
	gen      *generator.Generator
	provider provider.Provider
	cursors  cursor.Store
}

func (s *session) Close() {
	if s.cursors != nil {
		if err := s.cursors.Close(); err != nil {
			observability.CLILogger.Warn("Failed to close cursor store", zap.Error(err))
		}
	}
	if s.provider != nil {
		_ = s.provider.Close()
	}
}

// openSession loads the manifest at path and wires provider, cursor store
// and generator together. Errors are already mapped to exit codes.
func openSession(ctx context.Context, path string) (*session, error) {
	m, err := loadManifest(path)
	if err != nil {
		return nil, err
	}
	return newSession(ctx, m)
}

func newSession(ctx context.Context, m *manifest.Manifest) (*session, error) {
	s := &session{manifest: m}

	prov, err := createProvider(ctx, m)
	if err != nil {
		observability.CLILogger.Error("Failed to create provider", zap.Error(err))
		return nil, exitError(foundry.ExitExternalServiceUnavailable, "Failed to connect to storage provider", err)
	}
	s.provider = prov

	storeCfg, err := m.CursorStoreConfig()
	if err != nil {
		s.Close()
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid cursor configuration", err)
	}
	store, err := cursor.Open(ctx, storeCfg)
	if err != nil {
		s.Close()
		observability.CLILogger.Error("Failed to open cursor store",
			zap.String("backend", storeCfg.Backend),
			zap.Error(err))
		return nil, exitError(foundry.ExitExternalServiceUnavailable, "Failed to open cursor store", err)
	}
	s.cursors = store

	gen, err := generator.New(prov, m.ToGeneratorConfig(),
		generator.WithCursorStore(store),
		generator.WithLogger(observability.CLILogger))
	if err != nil {
		s.Close()
		observability.CLILogger.Error("Invalid generator configuration", zap.Error(err))
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid generator configuration", err)
	}
	s.gen = gen
	return s, nil
}

func errNegative(flag string, v int) error {
	return fmt.Errorf("%s must not be negative: %d", flag, v)
}

// generatorExit maps generator errors to exit codes.
func generatorExit(ctx context.Context, message string, err error) error {
	switch {
	case ctx.Err() != nil:
		return exitError(foundry.ExitSignalInt, message, err)
	case generator.IsUnknownAsset(err), generator.IsPartitionNotFound(err), generator.IsAssetConfiguration(err):
		return exitError(foundry.ExitInvalidArgument, message, err)
	default:
		return exitError(foundry.ExitExternalServiceUnavailable, message, err)
	}
}
