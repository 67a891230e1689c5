package main

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// RegionKey identifies one aggregation bucket. Build keys with newRegionKey so
// the state is always normalized.
type RegionKey struct {
	State    string `json:"state"`
	District string `json:"district"`
}

func newRegionKey(state, district string) RegionKey {
	return RegionKey{State: normalizeState(state), District: strings.TrimSpace(district)}
}

func (k RegionKey) less(other RegionKey) bool {
	if k.State != other.State {
		return k.State < other.State
	}
	return k.District < other.District
}

// normalizeState trims and title-cases a state name so " maharashtra " and
// "Maharashtra" land in the same bucket.
func normalizeState(value string) string {
	// A Caser is stateful and must not be shared between goroutines.
	return cases.Title(language.Und).String(strings.TrimSpace(value))
}
