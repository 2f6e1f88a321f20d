// Package parser turns untrusted backend payloads into validated products
// and checks user supplied search input.
package parser

import (
	"encoding/json"
	"regexp"
	"sort"
	"strings"
)

// RawRecord is one dict-shaped element recovered from a backend payload.
type RawRecord = map[string]any

// maxDepth bounds recursion through nested containers and JSON-in-strings.
const maxDepth = 8

// resultKeys are checked in order when a payload is an object.
var resultKeys = []string{"products", "result", "data", "items", "results"}

// nameKeys mark an object as product-shaped.
var nameKeys = []string{"name", "title", "product_name"}

// Extract recovers the list of product-shaped objects from an arbitrary
// payload. It never fails: irrecoverable input yields an empty slice.
func Extract(payload any) []RawRecord {
	return extract(payload, 0)
}

func extract(payload any, depth int) []RawRecord {
	if depth > maxDepth {
		return []RawRecord{}
	}

	switch v := payload.(type) {
	case []any:
		return records(v)
	case []map[string]any:
		out := make([]RawRecord, 0, len(v))
		for _, item := range v {
			if item != nil {
				out = append(out, item)
			}
		}
		return out
	case map[string]any:
		return fromMapping(v, depth)
	case string:
		return fromText(v, depth)
	case json.RawMessage:
		return fromText(string(v), depth)
	case []byte:
		return fromText(string(v), depth)
	}
	return []RawRecord{}
}

func records(list []any) []RawRecord {
	out := make([]RawRecord, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func fromMapping(m map[string]any, depth int) []RawRecord {
	for _, key := range resultKeys {
		val, ok := m[key]
		if !ok {
			continue
		}
		switch val.(type) {
		case []any, string, map[string]any:
			if found := extract(val, depth+1); len(found) > 0 {
				return found
			}
		}
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		list, ok := m[k].([]any)
		if !ok || len(list) == 0 {
			continue
		}
		first, ok := list[0].(map[string]any)
		if ok && hasAnyKey(first, nameKeys) {
			return records(list)
		}
	}

	// A lone product object.
	if hasAnyKey(m, nameKeys) {
		return []RawRecord{m}
	}
	return []RawRecord{}
}

func hasAnyKey(m map[string]any, keys []string) bool {
	for _, k := range keys {
		if _, ok := m[k]; ok {
			return true
		}
	}
	return false
}

// textAttempt is one step of the text recovery chain. Each attempt is pure
// and reports whether it produced a decoded JSON value.
type textAttempt func(string) (any, bool)

var textAttempts = []textAttempt{
	parseAsIs,
	parseRepaired,
	parseArraySubstring,
	parseTruncatedArray,
}

func fromText(s string, depth int) []RawRecord {
	clean := StripFences(s)
	if clean == "" {
		return []RawRecord{}
	}
	for _, attempt := range textAttempts {
		if parsed, ok := attempt(clean); ok {
			return extract(parsed, depth+1)
		}
	}
	return []RawRecord{}
}

var (
	fenceOpen  = regexp.MustCompile("(?i)^```(?:json)?\\s*")
	fenceClose = regexp.MustCompile("\\s*```$")
)

// StripFences removes a surrounding markdown code fence.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	s = fenceOpen.ReplaceAllString(s, "")
	s = fenceClose.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

var (
	trailingComma     = regexp.MustCompile(`,\s*([}\]])`)
	singleQuotedKey   = regexp.MustCompile(`'([^'\n]*)'\s*:`)
	singleQuotedValue = regexp.MustCompile(`:\s*'([^'\n]*)'(\s*[,}\]])`)
	controlChars      = regexp.MustCompile(`[\x00-\x1f\x7f-\x9f]`)
)

// Repair applies the bounded set of textual fixes for common generator
// mistakes: trailing commas, single quoted keys and values, and control
// characters.
func Repair(s string) string {
	s = trailingComma.ReplaceAllString(s, "$1")
	s = singleQuotedKey.ReplaceAllString(s, `"$1":`)
	s = singleQuotedValue.ReplaceAllString(s, `: "$1"$2`)
	s = controlChars.ReplaceAllString(s, "")
	return s
}

func decodeJSON(s string) (any, bool) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	return v, true
}

func parseAsIs(s string) (any, bool) {
	return decodeJSON(s)
}

func parseRepaired(s string) (any, bool) {
	return decodeJSON(Repair(s))
}

// maxCandidates bounds how many '[' positions the substring attempts try.
const maxCandidates = 16

// parseArraySubstring looks for the first balanced array embedded in prose
// that decodes to a list holding at least one object.
func parseArraySubstring(s string) (any, bool) {
	offset := 0
	for tries := 0; tries < maxCandidates; tries++ {
		idx := strings.IndexByte(s[offset:], '[')
		if idx < 0 {
			return nil, false
		}
		start := offset + idx
		if end := matchingBracket(s, start); end > start {
			candidate := s[start : end+1]
			if v, ok := decodeObjectList(candidate); ok {
				return v, true
			}
		}
		offset = start + 1
	}
	return nil, false
}

// parseTruncatedArray salvages a cut-off array by closing it after the last
// complete object.
func parseTruncatedArray(s string) (any, bool) {
	start := strings.IndexByte(s, '[')
	if start < 0 {
		return nil, false
	}
	body := s[start:]
	end := len(body)
	for tries := 0; tries < maxCandidates*2; tries++ {
		cut := strings.LastIndexByte(body[:end], '}')
		if cut <= 0 {
			return nil, false
		}
		if v, ok := decodeObjectList(body[:cut+1] + "]"); ok {
			return v, true
		}
		end = cut
	}
	return nil, false
}

func decodeObjectList(candidate string) (any, bool) {
	for _, text := range []string{candidate, Repair(candidate)} {
		v, ok := decodeJSON(text)
		if !ok {
			continue
		}
		if list, isList := v.([]any); isList && len(records(list)) > 0 {
			return v, true
		}
	}
	return nil, false
}

// matchingBracket returns the index of the ']' closing the '[' at start, or
// -1. Brackets inside double quoted strings are ignored.
func matchingBracket(s string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
