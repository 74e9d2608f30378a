// Package partition derives stable partition identifiers from object keys.
package partition

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/nimbusgen/pkg/match"
)

// TimestampLayout formats fallback identifiers, e.g. 20240131T235959.123456Z.
const TimestampLayout = "20060102T150405.000000Z"

// Fallback suffixes appended to the timestamp when a key cannot be partitioned.
const (
	SuffixUnmatched    = "__unmatched"
	SuffixNoMatchGroup = "__no_match_group"
)

// DefaultMatchGroup is the capture group used when none is configured.
const DefaultMatchGroup = 1

// Config configures a Partitioner.
type Config struct {
	// Prefix is stripped from keys when no Regex is configured.
	Prefix string

	// Regex, when set, extracts the identifier from a capture group. It is
	// matched from the start of the key.
	Regex string

	// MatchGroup selects the capture group; 0 is the whole match. Callers
	// normally pass DefaultMatchGroup.
	MatchGroup int
}

// Partitioner maps keys to partition identifiers. It never fails: keys that
// the regex cannot handle get a timestamped fallback and a warning.
type Partitioner struct {
	prefix string
	regex  *regexp.Regexp
	group  int
	now    func() time.Time
	logger *zap.Logger
}

// Option configures a Partitioner.
type Option func(*Partitioner)

// WithLogger sets the logger used for fallback warnings.
func WithLogger(l *zap.Logger) Option {
	return func(p *Partitioner) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithClock overrides the clock used for fallback identifiers.
func WithClock(now func() time.Time) Option {
	return func(p *Partitioner) {
		if now != nil {
			p.now = now
		}
	}
}

// New compiles a Partitioner.
func New(cfg Config, opts ...Option) (*Partitioner, error) {
	p := &Partitioner{
		prefix: cfg.Prefix,
		group:  cfg.MatchGroup,
		now:    time.Now,
		logger: zap.NewNop(),
	}
	if p.group < 0 {
		return nil, fmt.Errorf("match group must be >= 0, got %d", cfg.MatchGroup)
	}
	if cfg.Regex != "" {
		re, err := match.CompileAnchored(cfg.Regex)
		if err != nil {
			return nil, err
		}
		p.regex = re
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// PartitionID returns the identifier for key.
func (p *Partitioner) PartitionID(key string) string {
	if p.regex == nil {
		return strings.TrimPrefix(key, p.prefix)
	}

	loc := p.regex.FindStringSubmatchIndex(key)
	if loc == nil {
		id := p.fallback(SuffixUnmatched)
		p.logger.Warn("partition regex did not match key",
			zap.String("key", key),
			zap.String("regex", p.regex.String()),
			zap.String("partition_id", id))
		return id
	}

	// loc holds start/end pairs; group n lives at 2n and 2n+1. A group that
	// exists but did not participate has start -1.
	if p.group > p.regex.NumSubexp() || loc[2*p.group] < 0 {
		id := p.fallback(SuffixNoMatchGroup)
		p.logger.Warn("partition regex matched but capture group is missing",
			zap.String("key", key),
			zap.Int("match_group", p.group),
			zap.String("partition_id", id))
		return id
	}
	return key[loc[2*p.group]:loc[2*p.group+1]]
}

func (p *Partitioner) fallback(suffix string) string {
	return p.now().UTC().Format(TimestampLayout) + suffix
}
