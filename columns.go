package main

import (
	"strings"
)

type matchKind int

const (
	matchMissing matchKind = iota
	matchPrimary
	matchAlternate
)

func (k matchKind) String() string {
	switch k {
	case matchPrimary:
		return "primary"
	case matchAlternate:
		return "alternate"
	default:
		return "missing"
	}
}

// columnResolver maps one canonical field onto a header row. Candidates are
// tried in order; the first is the primary name, the rest are alternates.
type columnResolver struct {
	Field      string
	Candidates []string
}

type columnMatch struct {
	Field string
	Name  string
	Index int
	Kind  matchKind
}

func (m columnMatch) Found() bool {
	return m.Kind != matchMissing
}

func (r columnResolver) Resolve(headers map[string]int) columnMatch {
	for i, name := range r.Candidates {
		idx, ok := headers[normalizeHeader(name)]
		if !ok {
			continue
		}
		kind := matchAlternate
		if i == 0 {
			kind = matchPrimary
		}
		return columnMatch{Field: r.Field, Name: name, Index: idx, Kind: kind}
	}
	return columnMatch{Field: r.Field, Index: -1, Kind: matchMissing}
}

// resolveColumns resolves all resolvers against one header row and returns
// the matches plus the field name of the first one that is missing.
func resolveColumns(headers []string, resolvers ...columnResolver) ([]columnMatch, string) {
	colMap := normalizeHeaders(headers)
	matches := make([]columnMatch, len(resolvers))
	missing := ""
	for i, resolver := range resolvers {
		matches[i] = resolver.Resolve(colMap)
		if !matches[i].Found() && missing == "" {
			missing = resolver.Field
		}
	}
	return matches, missing
}

func normalizeHeaders(headers []string) map[string]int {
	result := make(map[string]int, len(headers))
	for idx, header := range headers {
		normalized := normalizeHeader(header)
		if _, exists := result[normalized]; !exists {
			result[normalized] = idx
		}
	}
	return result
}

func normalizeHeader(value string) string {
	value = strings.TrimPrefix(value, "\ufeff")
	value = strings.ToLower(strings.TrimSpace(value))
	value = strings.ReplaceAll(value, " ", "")
	value = strings.ReplaceAll(value, "_", "")
	value = strings.ReplaceAll(value, "-", "")
	return value
}

func getValue(record []string, idx int) string {
	if idx < 0 || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}
