// Package batch defines the batch descriptor handed to data loaders.
//
// A descriptor says where the data lives and how to read it; it never
// contains the data itself.
package batch

import (
	"fmt"
	"maps"
	"strings"
)

// LocationScheme prefixes every descriptor location.
const LocationScheme = "s3a://"

// ReaderMethod names the loader a consumer should use.
type ReaderMethod string

const (
	ReaderCSV     ReaderMethod = "csv"
	ReaderParquet ReaderMethod = "parquet"
	ReaderExcel   ReaderMethod = "excel"
	ReaderJSON    ReaderMethod = "json"
	ReaderPickle  ReaderMethod = "pickle"
	ReaderFeather ReaderMethod = "feather"
	ReaderTable   ReaderMethod = "table"
	ReaderDelta   ReaderMethod = "delta"
)

var readerMethods = []ReaderMethod{
	ReaderCSV, ReaderParquet, ReaderExcel, ReaderJSON, ReaderPickle, ReaderFeather, ReaderTable, ReaderDelta,
}

// ReaderMethods returns the accepted reader method names.
func ReaderMethods() []ReaderMethod {
	return append([]ReaderMethod(nil), readerMethods...)
}

// ParseReaderMethod validates s. The empty string is accepted and means unset.
func ParseReaderMethod(s string) (ReaderMethod, error) {
	m := ReaderMethod(strings.ToLower(strings.TrimSpace(s)))
	if m == "" {
		return "", nil
	}
	for _, known := range readerMethods {
		if m == known {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown reader method %q", s)
}

// String returns the method name.
func (m ReaderMethod) String() string { return string(m) }

// suffixMethods is ordered so that compound suffixes win over their tails.
var suffixMethods = []struct {
	suffix string
	method ReaderMethod
}{
	{".csv.gz", ReaderCSV},
	{".tsv.gz", ReaderCSV},
	{".json.gz", ReaderJSON},
	{".jsonl.gz", ReaderJSON},
	{".csv", ReaderCSV},
	{".tsv", ReaderCSV},
	{".txt", ReaderTable},
	{".parquet", ReaderParquet},
	{".pq", ReaderParquet},
	{".json", ReaderJSON},
	{".jsonl", ReaderJSON},
	{".ndjson", ReaderJSON},
	{".xls", ReaderExcel},
	{".xlsx", ReaderExcel},
	{".pkl", ReaderPickle},
	{".pickle", ReaderPickle},
	{".feather", ReaderFeather},
}

// InferReaderMethod guesses a reader method from the key suffix.
// It returns false when the suffix is not recognised.
func InferReaderMethod(key string) (ReaderMethod, bool) {
	lower := strings.ToLower(key)
	for _, sm := range suffixMethods {
		if strings.HasSuffix(lower, sm.suffix) {
			return sm.method, true
		}
	}
	return "", false
}

// Descriptor is one batch of data ready to be loaded.
type Descriptor struct {
	// Location is "s3a://<bucket>/<key>".
	Location string `json:"location"`

	// ReaderMethod is omitted when neither generator nor asset set one.
	ReaderMethod ReaderMethod `json:"reader_method,omitempty"`

	// ReaderOptions holds merged loader options. Never nil.
	ReaderOptions map[string]any `json:"reader_options"`

	// Limit caps the rows a loader should read; only positive values are set.
	Limit int `json:"limit,omitempty"`
}

// Location builds the descriptor location for a key.
func Location(bucket, key string) string {
	return LocationScheme + bucket + "/" + key
}

// MergeOptions overlays layers left to right into a fresh map. Later layers
// win on key conflicts; none of the inputs are modified.
func MergeOptions(layers ...map[string]any) map[string]any {
	size := 0
	for _, l := range layers {
		size += len(l)
	}
	out := make(map[string]any, size)
	for _, l := range layers {
		maps.Copy(out, l)
	}
	return out
}
