package match

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/3leaps/nimbusgen/pkg/provider"
)

// DefaultRegex accepts every key.
const DefaultRegex = ".*"

// Page shape mismatches reported by KeyFilter.Select.
var (
	// ErrNoCommonPrefixes means directory mode was requested but the page
	// carried no common prefixes.
	ErrNoCommonPrefixes = errors.New("directory assets requested but listing returned no common prefixes")

	// ErrNoObjects means object mode was requested but the page carried only
	// common prefixes.
	ErrNoObjects = errors.New("object assets requested but listing returned only common prefixes")
)

// CompileAnchored compiles pattern so that it must match at the start of the
// input but may stop before its end. An empty pattern matches everything.
func CompileAnchored(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		pattern = DefaultRegex
	}
	re, err := regexp.Compile(`^(?:` + pattern + `)`)
	if err != nil {
		return nil, &PatternError{Pattern: pattern, Err: fmt.Errorf("%w: %v", ErrInvalidRegex, err)}
	}
	return re, nil
}

// KeyFilterConfig configures a KeyFilter.
type KeyFilterConfig struct {
	// Regex is matched from the start of each key. Empty means ".*".
	Regex string

	// Includes and Excludes are optional glob patterns, ANDed with Regex.
	Includes []string
	Excludes []string

	// Directories selects common prefixes instead of objects.
	Directories bool
}

// KeyFilter selects the candidate keys of a listing page for one asset.
type KeyFilter struct {
	regex       *regexp.Regexp
	globs       *GlobSet
	directories bool
}

// NewKeyFilter compiles a KeyFilter.
func NewKeyFilter(cfg KeyFilterConfig) (*KeyFilter, error) {
	re, err := CompileAnchored(cfg.Regex)
	if err != nil {
		return nil, err
	}
	globs, err := NewGlobSet(cfg.Includes, cfg.Excludes)
	if err != nil {
		return nil, err
	}
	return &KeyFilter{regex: re, globs: globs, directories: cfg.Directories}, nil
}

// Match reports whether a single key passes the regex and glob rules.
func (f *KeyFilter) Match(key string) bool {
	return f.regex.MatchString(key) && f.globs.Match(key)
}

// Select returns the page entries that belong to the asset, in listing order.
//
// In directory mode the candidates are the page's common prefixes (reported
// as summaries carrying only Key); a page without any yields
// ErrNoCommonPrefixes. In object mode the candidates are objects with a
// positive size; a page holding only common prefixes yields ErrNoObjects. A
// page with neither is empty, not an error.
func (f *KeyFilter) Select(page *provider.ListWithDelimiterResult) ([]provider.ObjectSummary, error) {
	if f.directories {
		if len(page.CommonPrefixes) == 0 {
			return nil, ErrNoCommonPrefixes
		}
		out := make([]provider.ObjectSummary, 0, len(page.CommonPrefixes))
		for _, p := range page.CommonPrefixes {
			if f.Match(p) {
				out = append(out, provider.ObjectSummary{Key: p})
			}
		}
		return out, nil
	}

	if len(page.Objects) == 0 {
		if len(page.CommonPrefixes) > 0 {
			return nil, ErrNoObjects
		}
		return nil, nil
	}
	out := make([]provider.ObjectSummary, 0, len(page.Objects))
	for _, obj := range page.Objects {
		if obj.Size > 0 && f.Match(obj.Key) {
			out = append(out, obj)
		}
	}
	return out, nil
}

// Directories reports whether the filter selects common prefixes.
func (f *KeyFilter) Directories() bool { return f.directories }

// String describes the filter for logs.
func (f *KeyFilter) String() string {
	s := "regex=" + f.regex.String()
	if !f.globs.Empty() {
		s += fmt.Sprintf(" includes=%v excludes=%v", f.globs.includes, f.globs.excludes)
	}
	if f.directories {
		s += " mode=directories"
	}
	return s
}
