// Package strings provides string slice utilities.
package strings

import (
	"strings"
)

// DedupeAndTrim trims every value, drops blanks and duplicates, and keeps
// the first occurrence order.
//
//	DedupeAndTrim([]string{"  A.sol ", "B.sol", "A.sol", ""})
//	// []string{"A.sol", "B.sol"}
func DedupeAndTrim(values []string) []string {
	return DedupeBy(values, nil)
}

// DedupeBy is DedupeAndTrim with duplicates decided by key(trimmed value).
// The kept element is the trimmed value, not the key. A nil key compares
// trimmed values directly.
//
//	DedupeBy([]string{"./src/A.sol", "src/A.sol"}, path.Clean)
//	// []string{"./src/A.sol"}
func DedupeBy(values []string, key func(string) string) []string {
	if len(values) == 0 {
		return values
	}

	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			continue
		}
		k := trimmed
		if key != nil {
			k = key(trimmed)
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		result = append(result, trimmed)
	}
	return result
}
