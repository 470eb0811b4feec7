// Package fetch is the single point of outbound HTTP access: a rate-limited,
// retrying page fetcher built on the Colly collector.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/kmilewski/listing-crawler/internal/metrics"
)

// Config captures the HTTP client knobs.
type Config struct {
	UserAgent      string
	AcceptLanguage string
	Timeout        time.Duration
	MaxRetries     int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

// Response is the raw result of a listing page fetch.
type Response struct {
	Body       []byte
	StatusCode int
	Headers    http.Header
}

// Client fetches listing pages. Every request blocks on the shared host
// limiter before going out and transient failures are retried with backoff,
// so callers only ever see a final result.
type Client struct {
	base           *colly.Collector
	limiter        *HostLimiter
	retry          RetryPolicy
	logger         *zap.Logger
	acceptLanguage string

	// sleep is a seam for tests; it honors context cancellation.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient constructs a configured fetcher sharing the given host limiter.
func NewClient(cfg Config, limiter *HostLimiter, logger *zap.Logger) (*Client, error) {
	if limiter == nil {
		return nil, fmt.Errorf("host limiter is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}

	base := colly.NewCollector(
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
		colly.Async(true),
	)
	base.WithTransport(&http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          32,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.Timeout,
		ForceAttemptHTTP2:     true,
	})
	base.SetRequestTimeout(cfg.Timeout)

	return &Client{
		base:           base,
		limiter:        limiter,
		retry:          NewRetryPolicyWith(cfg.MaxRetries, cfg.BackoffInitial, cfg.BackoffMax),
		logger:         logger,
		acceptLanguage: cfg.AcceptLanguage,
		sleep:          sleepCtx,
	}, nil
}

// Get fetches rawURL, blocking on the rate budget and any retry backoff.
// On HTTP 429/503 a parseable Retry-After header adds to the next backoff.
// After retry exhaustion the failure surfaces as *Error.
func (c *Client) Get(ctx context.Context, rawURL, accept string) (*Response, error) {
	var (
		last       *Error
		retryAfter time.Duration
	)

	for attempt := 0; attempt < c.retry.MaxAttempts(); attempt++ {
		if attempt > 0 {
			metrics.FetchRetries.Inc()
			wait := c.retry.Backoff(attempt-1) + retryAfter
			c.logger.Debug("fetch_retry",
				zap.String("url", rawURL),
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait),
			)
			if err := c.sleep(ctx, wait); err != nil {
				return nil, &Error{URL: rawURL, Class: ClassCanceled, Err: err}
			}
		}

		if err := c.limiter.Wait(ctx, rawURL); err != nil {
			return nil, &Error{URL: rawURL, Class: ClassCanceled, Err: err}
		}

		resp, err := c.doFetch(rawURL, accept)
		retryAfter = 0
		if err == nil {
			metrics.FetchRequests.WithLabelValues(metrics.ClassifyStatus(resp.StatusCode)).Inc()
			if resp.StatusCode < 400 {
				return resp, nil
			}
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
				retryAfter = parseRetryAfter(resp.Headers)
			}
			last = &Error{
				URL:        rawURL,
				Class:      ClassHTTPStatus,
				StatusCode: resp.StatusCode,
				Err:        fmt.Errorf("unexpected status %d", resp.StatusCode),
			}
		} else {
			last = &Error{URL: rawURL, Class: classifyTransport(err), Err: err}
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, &Error{URL: rawURL, Class: ClassCanceled, Err: ctxErr}
		}
		if !c.retry.ShouldRetry(last, attempt+1) {
			break
		}
	}

	return nil, last
}

// doFetch performs one request through a cloned collector. A *Response is
// returned whenever a status code was received, even for HTTP errors;
// a non-nil error means the transport failed before any response.
func (c *Client) doFetch(rawURL, accept string) (*Response, error) {
	collector := c.base.Clone()

	resultCh := make(chan fetchResult, 1)
	var once sync.Once
	send := func(res fetchResult) {
		once.Do(func() {
			resultCh <- res
		})
	}

	collector.OnRequest(func(r *colly.Request) {
		if accept != "" {
			r.Headers.Set("Accept", accept)
		}
		if c.acceptLanguage != "" {
			r.Headers.Set("Accept-Language", c.acceptLanguage)
		}
	})
	collector.OnResponse(func(r *colly.Response) {
		send(fetchResult{resp: responseFromColly(r)})
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			send(fetchResult{resp: responseFromColly(r)})
			return
		}
		if err == nil {
			err = errors.New("unknown colly error")
		}
		send(fetchResult{err: err})
	})

	if err := collector.Visit(rawURL); err != nil {
		return nil, err
	}
	collector.Wait()

	select {
	case res := <-resultCh:
		return res.resp, res.err
	default:
		return nil, errors.New("fetch produced no result")
	}
}

type fetchResult struct {
	resp *Response
	err  error
}

func responseFromColly(r *colly.Response) *Response {
	headers := http.Header{}
	if r.Headers != nil {
		for k, v := range *r.Headers {
			cp := make([]string, len(v))
			copy(cp, v)
			headers[k] = cp
		}
	}
	return &Response{
		Body:       append([]byte{}, r.Body...),
		StatusCode: r.StatusCode,
		Headers:    headers,
	}
}

func classifyTransport(err error) ErrClass {
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassTimeout
	}
	return ClassNetwork
}

// parseRetryAfter reads a numeric Retry-After value in seconds; anything
// unparseable is ignored.
func parseRetryAfter(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
