// Package discovery turns a free-text title into trusted candidates scraped
// from a torrent index and resolves a chosen candidate into a magnet link.
package discovery

import "strings"

// Candidate is a listing row that passed the trusted source filter.
// Two candidates are the same when their DetailURL is equal.
type Candidate struct {
	DisplayName string `json:"display_name"`
	DetailURL   string `json:"detail_url"`
	SourceName  string `json:"source_name"`
}

// TrustedSources is the allow-list of uploader names.
type TrustedSources map[string]struct{}

// NewTrustedSources builds the allow-list. Names are trimmed and blanks ignored;
// matching is exact and case sensitive.
func NewTrustedSources(names ...string) TrustedSources {
	ts := make(TrustedSources, len(names))

	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}

		ts[name] = struct{}{}
	}

	return ts
}

// Contains reports whether source is on the allow-list.
func (ts TrustedSources) Contains(source string) bool {
	_, ok := ts[strings.TrimSpace(source)]

	return ok
}
