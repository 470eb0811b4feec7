package reconstruct

import (
	"bufio"
	"fmt"
	"io"

	"github.com/kmilewski/listing-crawler/internal/checkpoint"
)

// unitAcc accumulates per-unit facts across the event stream.
type unitAcc struct {
	lastPageDone  int
	processed     int
	sawDone       bool
	hadFetchFail  bool
	hadErrorLine  bool
	noMoreResults bool
}

// Reconstruct folds a captured log stream into checkpoint state. It is a
// deterministic single pass: no event is revisited and last_page_done only
// ever increases (max), so page events arriving out of order cannot corrupt
// the result.
//
// In strict mode any error-level line attributed to a unit prevents that
// unit from being marked done.
func Reconstruct(r io.Reader, strict bool) (map[string]checkpoint.UnitState, error) {
	accs := make(map[string]*unitAcc)
	var current *unitAcc

	get := func(id string) *unitAcc {
		acc, ok := accs[id]
		if !ok {
			acc = &unitAcc{}
			accs[id] = acc
		}
		return acc
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		evt, ok := ParseLine(sc.Text())
		if !ok {
			continue
		}
		switch e := evt.(type) {
		case UnitStart:
			current = get(e.ID)
			// A fresh run for the unit; the live store overwrites the
			// per-run item counter the same way.
			current.processed = 0
		case PageDone:
			if current == nil {
				continue
			}
			if e.Page > current.lastPageDone {
				current.lastPageDone = e.Page
			}
			if e.Kept > 0 {
				current.processed += e.Kept
			}
		case FetchFail:
			if current == nil {
				continue
			}
			current.hadFetchFail = true
			if page, ok := PageFromURL(e.URL); ok && page-1 > current.lastPageDone {
				current.lastPageDone = page - 1
			}
		case NoMoreResults:
			if current == nil {
				continue
			}
			current.noMoreResults = true
		case UnitDone:
			acc := current
			if e.ID != "" {
				acc = get(e.ID)
			}
			if acc != nil {
				acc.sawDone = true
			}
		case ErrorLine:
			if current != nil {
				current.hadErrorLine = true
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan log stream: %w", err)
	}

	out := make(map[string]checkpoint.UnitState, len(accs))
	for id, acc := range accs {
		st := checkpoint.UnitState{
			LastPageDone:          acc.lastPageDone,
			ProcessedItemsLastRun: acc.processed,
			Done:                  acc.sawDone && !acc.hadFetchFail && (!strict || !acc.hadErrorLine),
		}
		switch {
		case acc.hadFetchFail:
			st.StopReason = checkpoint.StopFetchFail
		case acc.noMoreResults:
			st.StopReason = checkpoint.StopNoMoreResults
		}
		out[id] = st
	}
	return out, nil
}
