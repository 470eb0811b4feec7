// Package urlnorm canonicalizes listing URLs and tracks duplicates within a
// single crawl run.
package urlnorm

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Canonical standardizes a URL for equality comparison.
// It lowercases the scheme and host, strips the fragment, removes a trailing
// slash from the path and re-serializes the query with parameters sorted
// lexicographically, so equivalent URLs with reordered parameters compare
// equal.
func Canonical(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawQuery = sortQuery(u.RawQuery)

	return u.String(), nil
}

// sortQuery reorders raw query parameters without decoding values, dropping
// empty segments. url.Values.Encode would also sort, but it re-encodes
// values and can change byte-level equality for already-encoded params.
func sortQuery(raw string) string {
	if raw == "" {
		return ""
	}
	parts := strings.Split(raw, "&")
	kept := parts[:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	sort.Strings(kept)
	return strings.Join(kept, "&")
}

// Set is an in-memory dedup set over canonical URLs and extracted item IDs.
// It is scoped to one run of one crawl unit; resume correctness across
// restarts comes from the checkpoint page cursor, not from remembered URLs.
type Set struct {
	urls map[string]struct{}
	ids  map[string]struct{}
}

// NewSet returns an empty dedup set.
func NewSet() *Set {
	return &Set{
		urls: make(map[string]struct{}),
		ids:  make(map[string]struct{}),
	}
}

// SeenURL reports whether the canonical form of rawURL was seen before,
// inserting it on a miss. Unparseable URLs are deduplicated verbatim.
func (s *Set) SeenURL(rawURL string) bool {
	key, err := Canonical(rawURL)
	if err != nil {
		key = rawURL
	}
	if _, ok := s.urls[key]; ok {
		return true
	}
	s.urls[key] = struct{}{}
	return false
}

// SeenID reports whether the item ID was seen before, inserting it on a miss.
func (s *Set) SeenID(id string) bool {
	if _, ok := s.ids[id]; ok {
		return true
	}
	s.ids[id] = struct{}{}
	return false
}

// BulkMarkURLs marks URLs as already seen without reporting.
func (s *Set) BulkMarkURLs(urls []string) {
	for _, u := range urls {
		s.SeenURL(u)
	}
}
