package tileserver

import (
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// Filter narrows the locations layer. Empty fields match everything.
type Filter struct {
	Search string
	Status string
	Risk   string
	IDs    []uuid.UUID
}

// Empty reports whether the filter matches all locations.
func (f Filter) Empty() bool {
	return f.Search == "" && f.Status == "" && f.Risk == "" && len(f.IDs) == 0
}

// ParseFilter reads the supported query parameters. Malformed ids are
// ignored rather than failing the tile.
func ParseFilter(q url.Values) Filter {
	f := Filter{
		Search: strings.TrimSpace(q.Get("search")),
		Status: strings.TrimSpace(q.Get("status")),
		Risk:   strings.ToLower(strings.TrimSpace(q.Get("risk"))),
	}
	for _, raw := range q["ids"] {
		for _, part := range strings.Split(raw, ",") {
			id, err := uuid.Parse(strings.TrimSpace(part))
			if err == nil && id != uuid.Nil {
				f.IDs = append(f.IDs, id)
			}
		}
	}
	return f
}

// matches applies the non-risk criteria; risk is applied after the
// score join, where the bucket is known.
func (f Filter) matches(name, status string, id uuid.UUID) bool {
	if f.Search != "" && !strings.Contains(strings.ToLower(name), strings.ToLower(f.Search)) {
		return false
	}
	if f.Status != "" && !strings.EqualFold(status, f.Status) {
		return false
	}
	if len(f.IDs) > 0 {
		found := false
		for _, want := range f.IDs {
			if want == id {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
