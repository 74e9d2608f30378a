// Package match decides which listed keys belong to an asset.
//
// Two mechanisms are combined: a regular expression anchored at the start of
// the key, and optional doublestar glob include/exclude sets.
package match

import (
	"errors"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// ErrInvalidPattern is returned when a glob pattern cannot be compiled.
var ErrInvalidPattern = errors.New("invalid glob pattern")

// ErrInvalidRegex is returned when a regular expression cannot be compiled.
var ErrInvalidRegex = errors.New("invalid regex pattern")

// PatternError wraps pattern-related errors with context.
type PatternError struct {
	Pattern string
	Err     error
}

func (e *PatternError) Error() string {
	return "pattern " + e.Pattern + ": " + e.Err.Error()
}

func (e *PatternError) Unwrap() error {
	return e.Err
}

// GlobSet evaluates include and exclude glob patterns against keys.
//
// With no includes every key is a candidate; excludes always apply.
// A GlobSet is safe for concurrent use after creation.
type GlobSet struct {
	includes []string
	excludes []string
}

// NewGlobSet validates and normalizes the patterns.
func NewGlobSet(includes, excludes []string) (*GlobSet, error) {
	inc, err := compileGlobs(includes)
	if err != nil {
		return nil, err
	}
	exc, err := compileGlobs(excludes)
	if err != nil {
		return nil, err
	}
	return &GlobSet{includes: inc, excludes: exc}, nil
}

func compileGlobs(raw []string) ([]string, error) {
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		normalized := NormalizePattern(p)
		if normalized == "" || !doublestar.ValidatePattern(normalized) {
			return nil, &PatternError{Pattern: p, Err: ErrInvalidPattern}
		}
		out = append(out, normalized)
	}
	return out, nil
}

// Empty reports whether the set has no patterns at all.
func (g *GlobSet) Empty() bool {
	return g == nil || (len(g.includes) == 0 && len(g.excludes) == 0)
}

// Match returns true if key matches an include (or there are none) and no exclude.
func (g *GlobSet) Match(key string) bool {
	if g.Empty() {
		return true
	}
	if len(g.includes) > 0 && !matchAny(g.includes, key) {
		return false
	}
	return !matchAny(g.excludes, key)
}

// Includes returns the normalized include patterns.
func (g *GlobSet) Includes() []string { return append([]string(nil), g.includes...) }

// Excludes returns the normalized exclude patterns.
func (g *GlobSet) Excludes() []string { return append([]string(nil), g.excludes...) }

func matchAny(patterns []string, key string) bool {
	for _, p := range patterns {
		// Patterns are validated at construction, so Match cannot fail here.
		if ok, _ := doublestar.Match(p, key); ok {
			return true
		}
	}
	return false
}

// globEscapable lists metacharacters that may be escaped with a backslash.
const globEscapable = `*?[]{}\`

// NormalizePattern converts unescaped backslashes to forward slashes while
// preserving escapes of glob metacharacters, so "data\2024\*.csv" becomes
// "data/2024/*.csv" and "file\*.txt" keeps its literal star.
func NormalizePattern(pattern string) string {
	var b strings.Builder
	b.Grow(len(pattern))

	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r != '\\' {
			b.WriteRune(r)
			continue
		}
		if i+1 < len(runes) && strings.ContainsRune(globEscapable, runes[i+1]) {
			b.WriteRune('\\')
			b.WriteRune(runes[i+1])
			i++
			continue
		}
		b.WriteRune('/')
	}
	return b.String()
}
