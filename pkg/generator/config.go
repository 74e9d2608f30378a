package generator

import (
	"fmt"
	"maps"
	"sort"
	"sync"

	"github.com/3leaps/nimbusgen/pkg/batch"
	"github.com/3leaps/nimbusgen/pkg/match"
	"github.com/3leaps/nimbusgen/pkg/partition"
)

// Defaults applied by New.
const (
	DefaultName      = "default"
	DefaultDelimiter = "/"
	DefaultMaxKeys   = 1000
	DefaultAssetName = "default"
)

// AssetConfig describes one named asset: where its keys live and how they
// are filtered, partitioned and read.
type AssetConfig struct {
	// Prefix restricts listing to keys under this value.
	Prefix string `json:"prefix" yaml:"prefix"`

	// Delimiter overrides the generator delimiter. A pointer to "" disables
	// grouping for this asset.
	Delimiter *string `json:"delimiter,omitempty" yaml:"delimiter,omitempty"`

	// RegexFilter must match at the start of a key. Empty means ".*".
	RegexFilter string `json:"regex_filter,omitempty" yaml:"regex_filter,omitempty"`

	// PartitionRegex extracts partition identifiers. Empty strips Prefix instead.
	PartitionRegex string `json:"partition_regex,omitempty" yaml:"partition_regex,omitempty"`

	// MatchGroupID selects the PartitionRegex capture group. Nil means 1.
	MatchGroupID *int `json:"match_group_id,omitempty" yaml:"match_group_id,omitempty"`

	// DirectoryAssets selects common prefixes instead of objects.
	DirectoryAssets bool `json:"directory_assets,omitempty" yaml:"directory_assets,omitempty"`

	// MaxKeys overrides the generator page size. Zero inherits it.
	MaxKeys int `json:"max_keys,omitempty" yaml:"max_keys,omitempty"`

	// ReaderMethod overrides the generator reader method.
	ReaderMethod batch.ReaderMethod `json:"reader_method,omitempty" yaml:"reader_method,omitempty"`

	// ReaderOptions are merged over the generator options.
	ReaderOptions map[string]any `json:"reader_options,omitempty" yaml:"reader_options,omitempty"`

	// Includes and Excludes are optional glob patterns ANDed with RegexFilter.
	Includes []string `json:"includes,omitempty" yaml:"includes,omitempty"`
	Excludes []string `json:"excludes,omitempty" yaml:"excludes,omitempty"`
}

// clone returns a deep-enough copy so callers cannot mutate registry state.
func (a AssetConfig) clone() AssetConfig {
	out := a
	if a.Delimiter != nil {
		d := *a.Delimiter
		out.Delimiter = &d
	}
	if a.MatchGroupID != nil {
		g := *a.MatchGroupID
		out.MatchGroupID = &g
	}
	out.ReaderOptions = maps.Clone(a.ReaderOptions)
	out.Includes = append([]string(nil), a.Includes...)
	out.Excludes = append([]string(nil), a.Excludes...)
	return out
}

// Config configures a Generator.
type Config struct {
	// Name identifies the generator; it namespaces stored cursors.
	Name string

	// Bucket is used to build descriptor locations.
	Bucket string

	// Delimiter groups keys during listing. Empty means "/".
	Delimiter string

	// MaxKeys is the page size. Zero means 1000.
	MaxKeys int

	// ReaderMethod is the default reader method for every asset.
	ReaderMethod batch.ReaderMethod

	// ReaderOptions are the lowest-precedence reader options.
	ReaderOptions map[string]any

	// InferReaderMethod derives a reader method from the key suffix when
	// neither the generator nor the asset configures one.
	InferReaderMethod bool

	// RateLimit caps page fetches per second across the generator. Zero
	// disables limiting.
	RateLimit float64

	// Assets maps asset names to their configuration. Empty yields a single
	// "default" asset covering the whole bucket.
	Assets map[string]AssetConfig
}

func (c *Config) applyDefaults() {
	if c.Name == "" {
		c.Name = DefaultName
	}
	if c.Delimiter == "" {
		c.Delimiter = DefaultDelimiter
	}
	if c.MaxKeys == 0 {
		c.MaxKeys = DefaultMaxKeys
	}
	if len(c.Assets) == 0 {
		c.Assets = map[string]AssetConfig{
			DefaultAssetName: {Prefix: "", RegexFilter: match.DefaultRegex},
		}
	}
}

func (c *Config) validate() error {
	if c.Bucket == "" {
		return &ConfigError{Field: "bucket", Message: "bucket name is required"}
	}
	if c.MaxKeys < 0 {
		return &ConfigError{Field: "max_keys", Message: "must be positive"}
	}
	if c.RateLimit < 0 {
		return &ConfigError{Field: "rate_limit", Message: "must not be negative"}
	}
	if _, err := batch.ParseReaderMethod(string(c.ReaderMethod)); err != nil {
		return &ConfigError{Field: "reader_method", Message: err.Error()}
	}
	for name, a := range c.Assets {
		if name == "" {
			return &ConfigError{Field: "assets", Message: "asset name must not be empty"}
		}
		field := func(f string) string { return fmt.Sprintf("assets.%s.%s", name, f) }
		if a.MaxKeys < 0 {
			return &ConfigError{Field: field("max_keys"), Message: "must be positive"}
		}
		if a.MatchGroupID != nil && *a.MatchGroupID < 0 {
			return &ConfigError{Field: field("match_group_id"), Message: "must not be negative"}
		}
		if _, err := batch.ParseReaderMethod(string(a.ReaderMethod)); err != nil {
			return &ConfigError{Field: field("reader_method"), Message: err.Error()}
		}
	}
	return nil
}

// asset is the compiled form of an AssetConfig. mu serializes cursor
// reads, page fetches and cursor writes for the asset.
type asset struct {
	mu sync.Mutex

	name        string
	cfg         AssetConfig
	delimiter   string
	maxKeys     int
	filter      *match.KeyFilter
	partitioner *partition.Partitioner
}

func compileAsset(name string, cfg AssetConfig, gen *Config, popts []partition.Option) (*asset, error) {
	a := &asset{name: name, cfg: cfg.clone(), delimiter: gen.Delimiter, maxKeys: gen.MaxKeys}
	if cfg.Delimiter != nil {
		a.delimiter = *cfg.Delimiter
	}
	if cfg.MaxKeys > 0 {
		a.maxKeys = cfg.MaxKeys
	}

	filter, err := match.NewKeyFilter(match.KeyFilterConfig{
		Regex:       cfg.RegexFilter,
		Includes:    cfg.Includes,
		Excludes:    cfg.Excludes,
		Directories: cfg.DirectoryAssets,
	})
	if err != nil {
		return nil, &ConfigError{Field: fmt.Sprintf("assets.%s.filter", name), Message: err.Error()}
	}
	a.filter = filter

	group := partition.DefaultMatchGroup
	if cfg.MatchGroupID != nil {
		group = *cfg.MatchGroupID
	}
	p, err := partition.New(partition.Config{Prefix: cfg.Prefix, Regex: cfg.PartitionRegex, MatchGroup: group}, popts...)
	if err != nil {
		return nil, &ConfigError{Field: fmt.Sprintf("assets.%s.partition_regex", name), Message: err.Error()}
	}
	a.partitioner = p
	return a, nil
}

func sortedNames(m map[string]*asset) []string {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
