// Package discover drives one crawl unit through its paginated listing until
// exhaustion or failure, anchoring resumability in the checkpoint page
// cursor.
package discover

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/kmilewski/listing-crawler/internal/checkpoint"
	"github.com/kmilewski/listing-crawler/internal/fetch"
	"github.com/kmilewski/listing-crawler/internal/metrics"
	"github.com/kmilewski/listing-crawler/internal/urlnorm"
)

// Unit is one independently-paginated crawl target, typically one region or
// city. Units are enumerated once at startup and never created at runtime.
type Unit struct {
	ID   string
	City string
	Deal string
	Kind string
}

// ItemRef is one discovered item reference from a listing page.
type ItemRef struct {
	URL    string
	ItemID string
	Page   int
}

// Fetcher fetches a listing page; *fetch.Client satisfies it.
type Fetcher interface {
	Get(ctx context.Context, rawURL, accept string) (*fetch.Response, error)
}

// Source is the site-specific collaborator: it builds listing page URLs and
// extracts item references from raw page bodies. Extract must be pure.
type Source interface {
	PageURL(unit Unit, page int) string
	Extract(body []byte, pageURL string) ([]ItemRef, error)
}

// ItemSink receives the new item references discovered on one page.
type ItemSink interface {
	WriteItems(unit Unit, items []ItemRef) error
}

// ProgressSink persists per-unit progress; *checkpoint.Store satisfies it.
// It is called after every fully processed page, before the next fetch.
type ProgressSink interface {
	Update(unitID string, st checkpoint.UnitState) error
}

// Discoverer runs the pagination state machine for single units.
type Discoverer struct {
	fetcher  Fetcher
	source   Source
	items    ItemSink
	progress ProgressSink
	limit    *Limit
	accept   string
	logger   *zap.Logger
}

// NewDiscoverer wires the collaborators. limit may be nil for an uncapped
// run.
func NewDiscoverer(
	fetcher Fetcher,
	source Source,
	items ItemSink,
	progress ProgressSink,
	limit *Limit,
	logger *zap.Logger,
) *Discoverer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discoverer{
		fetcher:  fetcher,
		source:   source,
		items:    items,
		progress: progress,
		limit:    limit,
		accept:   "text/html",
		logger:   logger.Named("discover"),
	}
}

// Discover walks the unit's listing from startPage up to maxPages and
// returns the resulting unit state.
//
// A failed fetch on page P never counts P as done: the unit ends incomplete
// with last_page_done = P-1 and stop reason fetch_fail, so the next round
// resumes at P. A page yielding zero new links finishes the unit with
// no_more_results, but only past the very first requested page; an empty
// start page may just mean the listing needs an alternate URL, which is the
// source's concern. Exhausting the page budget is a successful stop.
//
// At most maxPages-startPage+1 fetches are issued. Progress is persisted
// after every fully processed page, before the next fetch.
func (d *Discoverer) Discover(ctx context.Context, unit Unit, startPage, maxPages int) (checkpoint.UnitState, error) {
	if startPage < 1 {
		startPage = 1
	}
	st := checkpoint.UnitState{LastPageDone: startPage - 1}
	seen := urlnorm.NewSet()

	for page := startPage; page <= maxPages; page++ {
		if err := ctx.Err(); err != nil {
			return st, fmt.Errorf("discover %s: %w", unit.ID, err)
		}
		if d.limit.Reached() {
			d.logger.Info("discover_limit_reached", zap.String("unit", unit.ID), zap.Int("page", page))
			return st, nil
		}

		pageURL := d.source.PageURL(unit, page)
		resp, err := d.fetcher.Get(ctx, pageURL, d.accept)
		if err != nil {
			st.StopReason = checkpoint.StopFetchFail
			d.logger.Warn("discover_fetch_fail",
				zap.String("unit", unit.ID),
				zap.String("url", pageURL),
				zap.Int("page", page),
				zap.Error(err),
			)
			var fe *fetch.Error
			if errors.As(err, &fe) && fe.Class == fetch.ClassCanceled {
				return st, fmt.Errorf("discover %s: %w", unit.ID, err)
			}
			return st, nil
		}

		refs, extractErr := d.source.Extract(resp.Body, pageURL)
		if extractErr != nil {
			// Parse trouble skips items, never the unit.
			d.logger.Warn("discover_parse_fail",
				zap.String("unit", unit.ID),
				zap.Int("page", page),
				zap.Error(extractErr),
			)
		}

		kept := d.keepNew(unit, page, seen, refs)
		if kept == nil && len(refs) > 0 {
			// Sink write failed; surface it without counting the page.
			return st, fmt.Errorf("discover %s page %d: write items failed", unit.ID, page)
		}

		found := len(refs)
		newCount := len(kept)
		if newCount == 0 && extractErr == nil && page > startPage {
			st.Done = true
			st.StopReason = checkpoint.StopNoMoreResults
			d.logger.Info("discover_finish_no_more_links",
				zap.String("unit", unit.ID),
				zap.Int("page", page),
			)
			return st, nil
		}

		st.LastPageDone = page
		st.ProcessedItemsLastRun += newCount
		d.limit.Add(newCount)
		metrics.PagesDiscovered.WithLabelValues(unit.ID).Inc()
		metrics.ItemsDiscovered.WithLabelValues(unit.ID).Add(float64(newCount))

		d.logger.Info("discover_page",
			zap.String("unit", unit.ID),
			zap.Int("page", page),
			zap.Int("found", found),
			zap.Int("kept", newCount),
		)

		if d.progress != nil {
			if err := d.progress.Update(unit.ID, st); err != nil {
				return st, fmt.Errorf("discover %s: persist progress: %w", unit.ID, err)
			}
		}
	}

	st.Done = true
	st.StopReason = checkpoint.StopNone
	return st, nil
}

// keepNew canonicalizes and deduplicates refs, writes the survivors to the
// item sink and returns them. It returns nil on a sink write failure.
func (d *Discoverer) keepNew(unit Unit, page int, seen *urlnorm.Set, refs []ItemRef) []ItemRef {
	kept := make([]ItemRef, 0, len(refs))
	for _, ref := range refs {
		canonical, err := urlnorm.Canonical(ref.URL)
		if err != nil {
			d.logger.Warn("discover_bad_url",
				zap.String("unit", unit.ID),
				zap.String("url", ref.URL),
				zap.Error(err),
			)
			continue
		}
		ref.URL = canonical
		ref.Page = page
		if ref.ItemID != "" && seen.SeenID(ref.ItemID) {
			continue
		}
		if seen.SeenURL(ref.URL) {
			continue
		}
		kept = append(kept, ref)
	}

	if len(kept) > 0 && d.items != nil {
		if err := d.items.WriteItems(unit, kept); err != nil {
			d.logger.Error("discover_sink_fail",
				zap.String("unit", unit.ID),
				zap.Int("page", page),
				zap.Error(err),
			)
			return nil
		}
	}
	return kept
}
