// Package strings holds small list helpers for configuration and policy text.
package strings

import (
	"strings"
)

// SplitList splits s on sep, trims each element and drops empty ones.
// Duplicates are kept so callers that must reject them still can.
//
//	SplitList(" a, b ,,a", ",") // []string{"a", "b", "a"}
func SplitList(s, sep string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// DedupeAndTrimLower trims and lowercases each element and removes empties
// and case-insensitive duplicates, preserving first-seen order.
//
//	DedupeAndTrimLower([]string{"  Role ", "dept", "ROLE"}) // []string{"role", "dept"}
func DedupeAndTrimLower(values []string) []string {
	if len(values) == 0 {
		return values
	}
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		result = append(result, v)
	}
	return result
}
