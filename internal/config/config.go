// Package config loads the runtime configuration of the nimbusgen binary.
//
// Precedence, highest first: runtime overrides, NIMBUSGEN_* environment
// variables, a config file, defaults. A .env file in the working directory
// is loaded best-effort before the environment is read. Generator manifests
// are not runtime configuration; see pkg/manifest.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/3leaps/nimbusgen/internal/observability"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "NIMBUSGEN_"

// AppName names the config directory and default config file.
const AppName = "nimbusgen"

// Config is the runtime configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
	Health  HealthConfig  `mapstructure:"health"`
	Scan    ScanConfig    `mapstructure:"scan"`

	// Workers is the default asset concurrency for scans.
	Workers int `mapstructure:"workers"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// RequestTimeout bounds listing work done for one request.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// LoggingConfig configures CLI and server logging.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// HealthConfig toggles the health endpoints.
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// ScanConfig holds scan defaults.
type ScanConfig struct {
	ProgressEvery int    `mapstructure:"progress_every"`
	Output        string `mapstructure:"output"`
}

// EnvSpec maps one environment variable onto a config key.
type EnvSpec struct {
	Name string
	Path string
}

var (
	configMu  sync.RWMutex
	appConfig *Config
)

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.request_timeout", "60s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", observability.FormatConsole)

	v.SetDefault("health.enabled", true)

	v.SetDefault("scan.progress_every", 1000)
	v.SetDefault("scan.output", "stdout")

	v.SetDefault("workers", 4)
}

// Load builds the configuration and makes it available through GetConfig.
// Each override is a nested map such as {"server": {"port": 9000}}.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// A missing .env is the common case.
	_ = godotenv.Load()

	v := viper.New()
	SetDefaults(v)

	for _, path := range getConfigPaths() {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	for _, spec := range getEnvSpecs() {
		if err := v.BindEnv(spec.Path, spec.Name); err != nil {
			return nil, fmt.Errorf("bind %s: %w", spec.Name, err)
		}
	}

	for _, o := range overrides {
		for key, val := range flatten("", o) {
			v.Set(key, val)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	configMu.Lock()
	appConfig = &cfg
	configMu.Unlock()
	return &cfg, nil
}

// GetConfig returns the most recently loaded configuration, or nil.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be >= 1")
	}
	if c.Scan.ProgressEvery < 1 {
		return fmt.Errorf("scan.progress_every must be >= 1")
	}
	if _, err := observability.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	return nil
}

func getEnvSpecs() []EnvSpec {
	return []EnvSpec{
		{Name: EnvPrefix + "HOST", Path: "server.host"},
		{Name: EnvPrefix + "PORT", Path: "server.port"},
		{Name: EnvPrefix + "READ_TIMEOUT", Path: "server.read_timeout"},
		{Name: EnvPrefix + "WRITE_TIMEOUT", Path: "server.write_timeout"},
		{Name: EnvPrefix + "IDLE_TIMEOUT", Path: "server.idle_timeout"},
		{Name: EnvPrefix + "SHUTDOWN_TIMEOUT", Path: "server.shutdown_timeout"},
		{Name: EnvPrefix + "REQUEST_TIMEOUT", Path: "server.request_timeout"},
		{Name: EnvPrefix + "LOG_LEVEL", Path: "logging.level"},
		{Name: EnvPrefix + "LOG_FORMAT", Path: "logging.format"},
		{Name: EnvPrefix + "HEALTH_ENABLED", Path: "health.enabled"},
		{Name: EnvPrefix + "PROGRESS_EVERY", Path: "scan.progress_every"},
		{Name: EnvPrefix + "OUTPUT", Path: "scan.output"},
		{Name: EnvPrefix + "WORKERS", Path: "workers"},
	}
}

// getConfigPaths lists candidate config files in increasing precedence.
func getConfigPaths() []string {
	var paths []string
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, AppName, "config.yaml"))
	}
	paths = append(paths, AppName+".yaml")
	if explicit := strings.TrimSpace(os.Getenv(EnvPrefix + "CONFIG")); explicit != "" {
		paths = append(paths, explicit)
	}
	return paths
}

// flatten turns nested maps into dotted viper keys.
func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any)
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = v
	}
	return out
}
