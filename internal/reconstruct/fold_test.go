package reconstruct

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kmilewski/listing-crawler/internal/checkpoint"
)

func TestParseLineStructured(t *testing.T) {
	evt, ok := ParseLine(`{"level":"info","time":"2025-11-03T10:00:00","logger":"coordinator","msg":"discover_start","unit":"gdansk"}`)
	require.True(t, ok)
	require.Equal(t, UnitStart{ID: "gdansk"}, evt)

	evt, ok = ParseLine(`{"level":"info","logger":"discover","msg":"discover_page","unit":"gdansk","page":3,"found":40,"kept":12}`)
	require.True(t, ok)
	require.Equal(t, PageDone{Page: 3, Kept: 12}, evt)

	evt, ok = ParseLine(`{"level":"warn","msg":"discover_fetch_fail","unit":"gdansk","url":"https://a.pl/list?strona=4","page":4}`)
	require.True(t, ok)
	require.Equal(t, FetchFail{URL: "https://a.pl/list?strona=4"}, evt)

	evt, ok = ParseLine(`{"level":"info","msg":"discover_done","unit":"gdansk"}`)
	require.True(t, ok)
	require.Equal(t, UnitDone{ID: "gdansk"}, evt)

	evt, ok = ParseLine(`{"level":"error","msg":"discover_sink_fail","unit":"gdansk"}`)
	require.True(t, ok)
	require.Equal(t, ErrorLine{}, evt)

	_, ok = ParseLine(`{"level":"info","msg":"round_summary","round":0}`)
	require.False(t, ok)
}

func TestParseLineTranscript(t *testing.T) {
	evt, ok := ParseLine(`2025-11-03T10:00:00 INFO coordinator discover_start {"unit": "sopot"}`)
	require.True(t, ok)
	require.Equal(t, UnitStart{ID: "sopot"}, evt)

	evt, ok = ParseLine(`INFO discover discover_page {"unit": "sopot", "page": 7, "kept": 3}`)
	require.True(t, ok)
	require.Equal(t, PageDone{Page: 7, Kept: -1}, evt)

	evt, ok = ParseLine(`WARN discover discover_fetch_fail {"url": "https://a.pl/list?page=8"}`)
	require.True(t, ok)
	require.Equal(t, FetchFail{URL: "https://a.pl/list?page=8"}, evt)

	evt, ok = ParseLine(`unit=sopot discover_done`)
	require.True(t, ok)
	require.Equal(t, UnitDone{ID: "sopot"}, evt)

	_, ok = ParseLine("plain noise line")
	require.False(t, ok)
	_, ok = ParseLine("")
	require.False(t, ok)
}

func TestPageFromURL(t *testing.T) {
	page, ok := PageFromURL("https://a.pl/list?page=12")
	require.True(t, ok)
	require.Equal(t, 12, page)

	page, ok = PageFromURL("https://a.pl/list?strona=4&sort=price")
	require.True(t, ok)
	require.Equal(t, 4, page)

	_, ok = PageFromURL("https://a.pl/list")
	require.False(t, ok)
	_, ok = PageFromURL("https://a.pl/list?page=abc")
	require.False(t, ok)
}

func reconstructLines(t *testing.T, strict bool, lines ...string) map[string]checkpoint.UnitState {
	t.Helper()
	out, err := Reconstruct(strings.NewReader(strings.Join(lines, "\n")), strict)
	require.NoError(t, err)
	return out
}

func TestReconstructCompletedUnit(t *testing.T) {
	states := reconstructLines(t, false,
		`{"level":"info","msg":"discover_start","unit":"gdansk"}`,
		`{"level":"info","msg":"discover_page","unit":"gdansk","page":1,"kept":10}`,
		`{"level":"info","msg":"discover_page","unit":"gdansk","page":2,"kept":8}`,
		`{"level":"info","msg":"discover_finish_no_more_links","unit":"gdansk","page":3}`,
		`{"level":"info","msg":"discover_done","unit":"gdansk"}`,
	)
	require.Equal(t, checkpoint.UnitState{
		Done:                  true,
		LastPageDone:          2,
		StopReason:            checkpoint.StopNoMoreResults,
		ProcessedItemsLastRun: 18,
	}, states["gdansk"])
}

func TestReconstructFetchFailBackdates(t *testing.T) {
	states := reconstructLines(t, false,
		`{"level":"info","msg":"discover_start","unit":"gdansk"}`,
		`{"level":"info","msg":"discover_page","unit":"gdansk","page":1,"kept":10}`,
		`{"level":"info","msg":"discover_page","unit":"gdansk","page":2,"kept":10}`,
		`{"level":"warn","msg":"discover_fetch_fail","unit":"gdansk","url":"https://a.pl/list?page=3"}`,
	)
	st := states["gdansk"]
	require.False(t, st.Done)
	require.Equal(t, 2, st.LastPageDone)
	require.Equal(t, checkpoint.StopFetchFail, st.StopReason)
}

func TestReconstructOutOfOrderPagesMonotonic(t *testing.T) {
	states := reconstructLines(t, false,
		`{"level":"info","msg":"discover_start","unit":"gdansk"}`,
		`{"level":"info","msg":"discover_page","unit":"gdansk","page":2}`,
		`{"level":"info","msg":"discover_page","unit":"gdansk","page":1}`,
		`{"level":"info","msg":"discover_page","unit":"gdansk","page":3}`,
	)
	require.Equal(t, 3, states["gdansk"].LastPageDone)
}

func TestReconstructStrictErrors(t *testing.T) {
	lines := []string{
		`{"level":"info","msg":"discover_start","unit":"gdansk"}`,
		`{"level":"info","msg":"discover_page","unit":"gdansk","page":1,"kept":5}`,
		`{"level":"error","msg":"discover_sink_fail","unit":"gdansk"}`,
		`{"level":"info","msg":"discover_done","unit":"gdansk"}`,
	}
	lax := reconstructLines(t, false, lines...)
	require.True(t, lax["gdansk"].Done)

	strict := reconstructLines(t, true, lines...)
	require.False(t, strict["gdansk"].Done)
}

func TestReconstructMultipleUnits(t *testing.T) {
	states := reconstructLines(t, false,
		`{"level":"info","msg":"discover_start","unit":"gdansk"}`,
		`{"level":"info","msg":"discover_page","unit":"gdansk","page":1,"kept":4}`,
		`{"level":"info","msg":"discover_done","unit":"gdansk"}`,
		`{"level":"info","msg":"discover_start","unit":"sopot"}`,
		`{"level":"info","msg":"discover_page","unit":"sopot","page":1,"kept":2}`,
		`{"level":"warn","msg":"discover_fetch_fail","unit":"sopot","url":"https://a.pl/list?page=2"}`,
	)
	require.True(t, states["gdansk"].Done)
	require.False(t, states["sopot"].Done)
	require.Equal(t, 1, states["sopot"].LastPageDone)
}

func TestReconstructRestartResetsRunCounter(t *testing.T) {
	states := reconstructLines(t, false,
		`{"level":"info","msg":"discover_start","unit":"gdansk"}`,
		`{"level":"info","msg":"discover_page","unit":"gdansk","page":1,"kept":9}`,
		`{"level":"info","msg":"discover_start","unit":"gdansk"}`,
		`{"level":"info","msg":"discover_page","unit":"gdansk","page":2,"kept":3}`,
	)
	require.Equal(t, 3, states["gdansk"].ProcessedItemsLastRun)
	require.Equal(t, 2, states["gdansk"].LastPageDone)
}

func TestReconstructIgnoresNoiseAndEventsBeforeStart(t *testing.T) {
	states := reconstructLines(t, false,
		`{"level":"info","msg":"discover_page","page":9}`,
		"random console noise",
		`{"level":"info","msg":"discover_start","unit":"gdansk"}`,
		`{"level":"info","msg":"discover_page","unit":"gdansk","page":1}`,
	)
	require.Len(t, states, 1)
	require.Equal(t, 1, states["gdansk"].LastPageDone)
}
