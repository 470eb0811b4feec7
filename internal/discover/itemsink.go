package discover

import (
	"strconv"
	"time"

	"github.com/kmilewski/listing-crawler/internal/sink"
)

// URLColumns is the fixed, ordered schema of the discovered-URLs file.
var URLColumns = []string{"source", "offer_url", "offer_id", "page_idx", "city", "discovered_at"}

// CSVItemSink projects item references into the durable CSV sink. The
// projection is the only place raw extracted fields meet the fixed record
// schema; anything outside URLColumns never reaches the file.
type CSVItemSink struct {
	csv    *sink.CSV
	source string
	now    func() time.Time
}

// NewCSVItemSink wires the projection for one source.
func NewCSVItemSink(csv *sink.CSV, source string) *CSVItemSink {
	return &CSVItemSink{
		csv:    csv,
		source: source,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WriteItems appends one row per item reference.
func (s *CSVItemSink) WriteItems(unit Unit, items []ItemRef) error {
	rows := make([]map[string]string, 0, len(items))
	ts := s.now().Format(time.RFC3339)
	for _, it := range items {
		rows = append(rows, map[string]string{
			"source":        s.source,
			"offer_url":     it.URL,
			"offer_id":      it.ItemID,
			"page_idx":      strconv.Itoa(it.Page),
			"city":          unit.City,
			"discovered_at": ts,
		})
	}
	return s.csv.Append(rows)
}
