// Package reconstruct rebuilds checkpoint state from a captured run log.
// Event recognition (parsing) is decoupled from state accumulation (the
// fold) so each can be tested on its own.
package reconstruct

import (
	"encoding/json"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// Event is one recognized log occurrence. The concrete types below form the
// full vocabulary the fold consumes.
type Event interface{ isEvent() }

// UnitStart marks the beginning of a unit's discovery run and moves the
// fold's current-unit cursor.
type UnitStart struct{ ID string }

// PageDone records a fully processed listing page. Kept is the new-item
// count when the line carried one; -1 otherwise.
type PageDone struct {
	Page int
	Kept int
}

// FetchFail records a failed page fetch for the current unit.
type FetchFail struct{ URL string }

// NoMoreResults records the empty-page stop for the current unit.
type NoMoreResults struct{}

// UnitDone marks a unit's successful completion. ID may be empty, in which
// case the fold applies it to the current unit.
type UnitDone struct{ ID string }

// ErrorLine flags an error-level line, attributed to the current unit in
// strict mode.
type ErrorLine struct{}

func (UnitStart) isEvent()     {}
func (PageDone) isEvent()      {}
func (FetchFail) isEvent()     {}
func (NoMoreResults) isEvent() {}
func (UnitDone) isEvent()      {}
func (ErrorLine) isEvent()     {}

// Marker messages emitted by the coordinator and discoverer.
const (
	msgUnitStart     = "discover_start"
	msgPageDone      = "discover_page"
	msgFetchFail     = "discover_fetch_fail"
	msgNoMoreResults = "discover_finish_no_more_links"
	msgUnitDone      = "discover_done"
)

// Console-transcript fallbacks. The dev encoder renders fields as a JSON
// object after the message, so the quoted-field patterns cover both plain
// key=value transcripts and console lines.
var (
	unitRe = regexp.MustCompile(`"unit"\s*:\s*"([^"]+)"|\bunit=(\S+)`)
	pageRe = regexp.MustCompile(`"page"\s*:\s*(\d+)|\bpage=(\d+)`)
	urlRe  = regexp.MustCompile(`"url"\s*:\s*"([^"]+)"|\burl=(\S+)`)
	errRe  = regexp.MustCompile(`\bERROR\b|"level"\s*:\s*"error"`)
)

// ParseLine recognizes one log line. The second return is false for lines
// that carry no event.
func ParseLine(line string) (Event, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, false
	}
	if strings.HasPrefix(line, "{") {
		if evt, ok := parseStructured(line); ok {
			return evt, true
		}
	}
	return parseTranscript(line)
}

type structuredLine struct {
	Level string `json:"level"`
	Msg   string `json:"msg"`
	Unit  string `json:"unit"`
	Page  *int   `json:"page"`
	Kept  *int   `json:"kept"`
	URL   string `json:"url"`
}

func parseStructured(line string) (Event, bool) {
	var rec structuredLine
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		return nil, false
	}
	switch rec.Msg {
	case msgUnitStart:
		if rec.Unit == "" {
			return nil, false
		}
		return UnitStart{ID: rec.Unit}, true
	case msgPageDone:
		if rec.Page == nil {
			return nil, false
		}
		kept := -1
		if rec.Kept != nil {
			kept = *rec.Kept
		}
		return PageDone{Page: *rec.Page, Kept: kept}, true
	case msgFetchFail:
		return FetchFail{URL: rec.URL}, true
	case msgNoMoreResults:
		return NoMoreResults{}, true
	case msgUnitDone:
		return UnitDone{ID: rec.Unit}, true
	}
	if strings.EqualFold(rec.Level, "error") {
		return ErrorLine{}, true
	}
	return nil, false
}

func parseTranscript(line string) (Event, bool) {
	switch {
	case strings.Contains(line, msgUnitStart):
		if unit := firstGroup(unitRe, line); unit != "" {
			return UnitStart{ID: unit}, true
		}
	case strings.Contains(line, msgNoMoreResults):
		return NoMoreResults{}, true
	case strings.Contains(line, msgPageDone):
		if p := firstGroup(pageRe, line); p != "" {
			page, err := strconv.Atoi(p)
			if err == nil {
				return PageDone{Page: page, Kept: -1}, true
			}
		}
	case strings.Contains(line, msgFetchFail):
		return FetchFail{URL: firstGroup(urlRe, line)}, true
	case strings.Contains(line, msgUnitDone):
		return UnitDone{ID: firstGroup(unitRe, line)}, true
	case errRe.MatchString(line):
		return ErrorLine{}, true
	}
	return nil, false
}

func firstGroup(re *regexp.Regexp, line string) string {
	m := re.FindStringSubmatch(line)
	if m == nil {
		return ""
	}
	for _, g := range m[1:] {
		if g != "" {
			return g
		}
	}
	return ""
}

// pageParams are the query parameters a failed page number can hide in.
var pageParams = []string{"page", "strona"}

// PageFromURL recovers the listing page number from a page URL's query.
func PageFromURL(rawURL string) (int, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0, false
	}
	q := u.Query()
	for _, key := range pageParams {
		if v := q.Get(key); v != "" {
			if page, err := strconv.Atoi(v); err == nil && page > 0 {
				return page, true
			}
		}
	}
	return 0, false
}
