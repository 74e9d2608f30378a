package batch

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseOptionAssignments turns "key=value" pairs into reader options.
//
// Values are decoded as YAML scalars, so "sep=~" yields a string,
// "header=true" a bool and "skiprows=2" an int. A later assignment of the
// same key wins.
func ParseOptionAssignments(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("reader option %q: expected key=value", pair)
		}
		out[key] = parseScalar(raw)
	}
	return out, nil
}

func parseScalar(raw string) any {
	trimmed := strings.TrimSpace(raw)
	var v any
	if err := yaml.Unmarshal([]byte(trimmed), &v); err != nil {
		return trimmed
	}
	switch v.(type) {
	case bool, int, float64:
		return v
	default:
		// Strings, nulls and collections stay literal.
		return trimmed
	}
}
