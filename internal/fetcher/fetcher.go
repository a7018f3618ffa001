// Package fetcher downloads ticket pages with a browser identity and retries
// on responses that look like anti-bot blocking.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"golang.org/x/time/rate"
)

const maxBodySize = 5 * 1024 * 1024

var errInvalidURL = errors.New("invalid url")

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:128.0) Gecko/20100101 Firefox/128.0",
}

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Options tunes a Fetcher.
type Options struct {
	// Timeout bounds each attempt, not the whole retry sequence.
	Timeout time.Duration
	// MaxRetries is the number of extra attempts after a blocked first attempt.
	MaxRetries int
	// Backoff is the base delay between attempts.
	Backoff time.Duration
	// Cookies is a raw Cookie header sent with every request.
	Cookies string
	// HostRPS caps requests per second per host. Zero disables the limit.
	HostRPS float64
	// AcceptLanguage overrides the default language header.
	AcceptLanguage string
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		Timeout:        12 * time.Second,
		MaxRetries:     2,
		Backoff:        1500 * time.Millisecond,
		HostRPS:        1,
		AcceptLanguage: "zh-TW,zh;q=0.9,en-US;q=0.8,en;q=0.7",
	}
}

// FetchError reports a failed fetch. StatusCode is zero for transport failures.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: HTTP %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsRetryableStatus reports whether a status code is treated as a blocking
// signal worth retrying.
func IsRetryableStatus(code int) bool {
	switch code {
	case http.StatusForbidden, http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return true
	}
	return false
}

// IsBlocked reports whether err is a FetchError carrying a blocking status.
func IsBlocked(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && IsRetryableStatus(fe.StatusCode)
}

func isRetryable(err error) bool {
	var fe *FetchError
	if !errors.As(err, &fe) {
		return false
	}
	// Transport failures and per-attempt timeouts carry no status.
	return fe.StatusCode == 0 || IsRetryableStatus(fe.StatusCode)
}

// Fetcher retrieves raw page content.
type Fetcher struct {
	client HTTPClient
	opts   Options
	log    *slog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	jitter   func() float64
}

// New creates a Fetcher with the given HTTP client and options.
func New(client HTTPClient, opts Options, log *slog.Logger) *Fetcher {
	if opts.AcceptLanguage == "" {
		opts.AcceptLanguage = DefaultOptions().AcceptLanguage
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultOptions().Timeout
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return &Fetcher{
		client:   client,
		opts:     opts,
		log:      log,
		limiters: make(map[string]*rate.Limiter),
		jitter:   rand.Float64,
	}
}

// Fetch downloads rawURL. Blocking statuses (403, 429, 503) and transport
// failures are retried up to MaxRetries times with a randomized, growing
// backoff; other non-2xx statuses fail immediately. The returned error is
// always a *FetchError describing the last attempt.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	var (
		body    []byte
		lastErr error
	)

	err := retry.Do(
		func() error {
			b, err := f.attempt(ctx, rawURL)
			if err != nil {
				lastErr = err
				if errors.Is(err, errInvalidURL) {
					return retry.Unrecoverable(err)
				}
				return err
			}
			body = b
			return nil
		},
		retry.Attempts(uint(f.opts.MaxRetries)+1),
		retry.Delay(f.opts.Backoff),
		retry.DelayType(func(n uint, _ error, _ *retry.Config) time.Duration {
			return f.backoff(int(n) + 1)
		}),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			f.log.Warn("retrying fetch", "url", rawURL, "attempt", n+1, "error", err)
		}),
		retry.RetryIf(isRetryable),
	)
	if err == nil {
		return body, nil
	}
	if lastErr != nil && ctx.Err() == nil {
		return nil, lastErr
	}
	return nil, &FetchError{URL: rawURL, Err: err}
}

// backoff returns base + attempt*base*r, r drawn from [0,1).
func (f *Fetcher) backoff(attempt int) time.Duration {
	base := f.opts.Backoff
	return base + time.Duration(float64(attempt)*float64(base)*f.jitter())
}

func (f *Fetcher) attempt(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil, &FetchError{URL: rawURL, Err: errInvalidURL}
	}

	if err := f.wait(ctx, u.Host); err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: fmt.Errorf("create request: %w", err)}
	}
	f.setHeaders(req, u)

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	f.log.Debug("fetched page",
		"url", rawURL,
		"status_code", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FetchError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: fmt.Errorf("read body: %w", err)}
	}
	return body, nil
}

func (f *Fetcher) setHeaders(req *http.Request, u *url.URL) {
	req.Header.Set("User-Agent", userAgents[rand.IntN(len(userAgents))])
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", f.opts.AcceptLanguage)
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")
	req.Header.Set("Referer", u.Scheme+"://"+u.Host+"/")
	req.Header.Set("Sec-Fetch-Dest", "document")
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	req.Header.Set("Sec-Fetch-Site", "same-origin")
	req.Header.Set("Upgrade-Insecure-Requests", "1")
	if f.opts.Cookies != "" {
		req.Header.Set("Cookie", f.opts.Cookies)
	}
}

func (f *Fetcher) wait(ctx context.Context, host string) error {
	if f.opts.HostRPS <= 0 {
		return nil
	}
	f.mu.Lock()
	lim, ok := f.limiters[host]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(f.opts.HostRPS), 1)
		f.limiters[host] = lim
	}
	f.mu.Unlock()
	return lim.Wait(ctx)
}
