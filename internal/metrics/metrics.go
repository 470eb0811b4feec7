// Package metrics exposes Prometheus collectors for the crawl pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FetchRequests counts completed HTTP fetches partitioned by status class.
	FetchRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "listingcrawler_fetch_requests_total",
		Help: "Completed listing fetches partitioned by status class.",
	}, []string{"status_class"})
	// FetchRetries counts retry attempts after transient fetch failures.
	FetchRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "listingcrawler_fetch_retries_total",
		Help: "Retry attempts issued after transient fetch failures.",
	})
	// PagesDiscovered counts fully processed listing pages per unit.
	PagesDiscovered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "listingcrawler_pages_discovered_total",
		Help: "Listing pages fully processed, partitioned by crawl unit.",
	}, []string{"unit"})
	// ItemsDiscovered counts new (post-dedup) item URLs per unit.
	ItemsDiscovered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "listingcrawler_items_discovered_total",
		Help: "New item URLs written to the sink, partitioned by crawl unit.",
	}, []string{"unit"})
	// RateLimitDelay observes time spent blocked on the host rate limiter.
	RateLimitDelay = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "listingcrawler_rate_limit_delay_seconds",
		Help:    "Delay introduced by the per-host rate limiter.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	})
	// RetryRounds counts coordinator retry rounds that ran.
	RetryRounds = promauto.NewCounter(prometheus.CounterOpts{
		Name: "listingcrawler_retry_rounds_total",
		Help: "Retry rounds executed by the coordinator.",
	})
)

// ClassifyStatus groups HTTP status codes for the fetch counter.
func ClassifyStatus(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "other"
	}
}

// ObserveRateLimitDelay records limiter stall time, ignoring sub-millisecond
// noise.
func ObserveRateLimitDelay(d time.Duration) {
	if d > time.Millisecond {
		RateLimitDelay.Observe(d.Seconds())
	}
}
