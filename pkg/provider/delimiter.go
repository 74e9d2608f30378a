package provider

import "context"

// DelimiterLister fetches one page of a delimiter listing.
//
// Keys under Prefix whose remainder contains Delimiter are collapsed into
// CommonPrefixes, each ending with the delimiter; the rest are Objects. An
// empty Delimiter returns every key under Prefix as an object.
type DelimiterLister interface {
	ListWithDelimiter(ctx context.Context, opts ListWithDelimiterOptions) (*ListWithDelimiterResult, error)
}

type ListWithDelimiterOptions struct {
	Prefix    string
	Delimiter string

	// ContinuationToken is the opaque token of a previous page. Empty
	// starts at the first page.
	ContinuationToken string

	// MaxKeys bounds objects plus common prefixes in the page. Zero uses
	// the provider default.
	MaxKeys int
}

type ListWithDelimiterResult struct {
	Objects        []ObjectSummary
	CommonPrefixes []string

	// ContinuationToken fetches the next page when IsTruncated is set.
	ContinuationToken string
	IsTruncated       bool
}

// Entries counts objects and common prefixes. A nil page has none.
func (r *ListWithDelimiterResult) Entries() int {
	if r == nil {
		return 0
	}
	return len(r.Objects) + len(r.CommonPrefixes)
}
