// Package strings provides helpers for list-valued settings.
package strings

import (
	"strings"
)

// SplitList splits a comma separated value, trimming each element and
// dropping empties and duplicates. Order is preserved.
//
// Example:
//
//	SplitList(" k1:9092, k2:9092,,k1:9092")
//	// Returns: []string{"k1:9092", "k2:9092"}
func SplitList(raw string) []string {
	return Dedupe(strings.Split(raw, ","), false)
}

// SplitListLower is like SplitList but compares and returns elements in
// lower case. Used for email allow-lists.
func SplitListLower(raw string) []string {
	return Dedupe(strings.Split(raw, ","), true)
}

// Dedupe trims every value and removes empties and duplicates. With lower set
// elements are lowercased first, so "A@x" and "a@x" collapse into one.
// A nil or empty input yields nil.
func Dedupe(values []string, lower bool) []string {
	var result []string
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if lower {
			v = strings.ToLower(v)
		}
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
