// Package fetcher retrieves documents from an uncooperative remote server.
// It runs a retry state machine with two independent budgets: one for
// generic transient failures (network errors, timeouts, 5xx, undersized
// bodies) and one reserved for HTTP 429 responses, which signal a different
// underlying condition and get their own backoff curve.
package fetcher

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/maltedev/amazon-product-scraper/internal/models"
)

// Config controls fetching behaviour. All values are immutable after
// construction; tests inject their own copy.
type Config struct {
	Timeout             time.Duration
	MaxAttempts         int // transient-failure budget, counted in attempts
	MaxRateLimitRetries int // separate budget reserved for HTTP 429
	BaseDelay           time.Duration
	Multiplier          float64
	MaxDelay            time.Duration
	RespectRetryAfter   bool
	MinBodyBytes        int
	MaxBodyBytes        int64
	MaxRedirects        int
	UserAgents          []string
}

// DefaultConfig mirrors the production retry policy.
func DefaultConfig() Config {
	return Config{
		Timeout:             10 * time.Second,
		MaxAttempts:         3,
		MaxRateLimitRetries: 3,
		BaseDelay:           100 * time.Millisecond,
		Multiplier:          2,
		MaxDelay:            1 * time.Second,
		RespectRetryAfter:   true,
		MinBodyBytes:        1000,
		MaxBodyBytes:        5 * 1024 * 1024,
		MaxRedirects:        5,
		UserAgents:          defaultUserAgents(),
	}
}

func defaultUserAgents() []string {
	return []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:109.0) Gecko/20100101 Firefox/121.0",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
	}
}

// Document is a fetched, decompressed page ready for extraction.
type Document struct {
	URL          string
	FinalURL     string
	StatusCode   int
	Body         []byte
	BotChallenge bool
}

// HTML returns the body as a string.
func (d *Document) HTML() string {
	return string(d.Body)
}

// Challenge-page signatures. A match is a soft-fail signal: it is logged
// and flagged on the document, but extraction still runs because challenge
// pages sometimes carry partial or cached content.
var botChallengeSignatures = []string{
	"Robot Check",
	"Enter the characters you see below",
	"Type the characters you see in this image",
	"To discuss automated access to Amazon data",
	"api-services-support@amazon.com",
	"/errors/validateCaptcha",
}

type Fetcher struct {
	client *http.Client
	cfg    Config
	logger *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Fetcher {
	transport := &http.Transport{
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	client := &http.Client{
		Timeout:   cfg.Timeout,
		Transport: transport,
		// Redirects are followed manually so they never consume a
		// retry-attempt slot.
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return &Fetcher{
		client: client,
		cfg:    cfg,
		logger: logger.With("component", "fetcher"),
	}
}

// attemptError is the outcome of a single failed attempt, before the retry
// budgets decide what happens next.
type attemptError struct {
	kind       models.ErrorKind
	message    string
	retryable  bool
	retryAfter time.Duration
	err        error
}

func (e *attemptError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.message, e.err)
	}
	return e.message
}

// Fetch retrieves url, retrying transient failures and rate limits within
// their respective budgets. The returned error is always a *models.Error
// carrying the terminal reason.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Document, error) {
	transientAttempts := 0
	rateLimitAttempts := 0

	for {
		doc, aerr := f.attempt(ctx, rawURL)
		if aerr == nil {
			return doc, nil
		}

		var delay time.Duration
		switch {
		case aerr.kind == models.KindRateLimited:
			rateLimitAttempts++
			if rateLimitAttempts > f.cfg.MaxRateLimitRetries {
				return nil, terminal(aerr, rawURL)
			}
			delay = f.rateLimitDelay(rateLimitAttempts, aerr.retryAfter)
			f.logger.Warn("rate limited, backing off",
				"url", rawURL,
				"attempt", rateLimitAttempts,
				"delay", delay,
				"retry_after", aerr.retryAfter,
			)
		case aerr.retryable:
			transientAttempts++
			if transientAttempts >= f.cfg.MaxAttempts {
				return nil, terminal(aerr, rawURL)
			}
			delay = f.cfg.BaseDelay
			f.logger.Warn("transient fetch failure, retrying",
				"url", rawURL,
				"attempt", transientAttempts,
				"delay", delay,
				"reason", aerr.message,
			)
		default:
			return nil, terminal(aerr, rawURL)
		}

		select {
		case <-ctx.Done():
			return nil, models.WrapError(models.KindTimeout, "request deadline exceeded while waiting to retry", rawURL, ctx.Err())
		case <-time.After(delay):
		}
	}
}

// rateLimitDelay picks the delay before the next rate-limit retry: the
// server-suggested Retry-After capped at MaxDelay when configured, else the
// capped exponential curve with jitter.
func (f *Fetcher) rateLimitDelay(attempt int, retryAfter time.Duration) time.Duration {
	if f.cfg.RespectRetryAfter && retryAfter > 0 {
		if retryAfter > f.cfg.MaxDelay {
			return f.cfg.MaxDelay
		}
		return retryAfter
	}
	base := BackoffDelay(f.cfg, attempt)
	return base + jitter(base)
}

// BackoffDelay is the jitter-free rate-limit backoff for the given attempt
// (1-based): min(MaxDelay, BaseDelay * Multiplier^(attempt-1)). It is
// non-decreasing in attempt and never exceeds the cap.
func BackoffDelay(cfg Config, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(cfg.BaseDelay) * math.Pow(cfg.Multiplier, float64(attempt-1)))
	if d > cfg.MaxDelay || d <= 0 {
		d = cfg.MaxDelay
	}
	return d
}

// jitter returns a random 0-10% of d.
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(d)/10 + 1))
}

// attempt performs one fetch, following redirects in place. Redirect hops
// are bounded by MaxRedirects but do not count against either retry budget.
func (f *Fetcher) attempt(ctx context.Context, rawURL string) (*Document, *attemptError) {
	current := rawURL

	for redirects := 0; ; redirects++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, current, nil)
		if err != nil {
			return nil, &attemptError{
				kind:    models.KindInvalidInput,
				message: "Please enter a valid URL format",
				err:     err,
			}
		}
		f.setHeaders(req)

		resp, err := f.client.Do(req)
		if err != nil {
			return nil, classifyTransportError(err)
		}

		if resp.StatusCode >= 300 && resp.StatusCode < 400 {
			location := resp.Header.Get("Location")
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			if location == "" {
				return nil, &attemptError{
					kind:      models.KindUpstreamServer,
					message:   fmt.Sprintf("redirect response without location (HTTP %d)", resp.StatusCode),
					retryable: true,
				}
			}
			if redirects >= f.cfg.MaxRedirects {
				return nil, &attemptError{
					kind:    models.KindNetwork,
					message: "too many redirects",
				}
			}
			next, err := resolveRedirect(current, location)
			if err != nil {
				return nil, &attemptError{
					kind:    models.KindNetwork,
					message: "invalid redirect location",
					err:     err,
				}
			}
			f.logger.Info("following redirect", "from", current, "to", next)
			current = next
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			return nil, &attemptError{
				kind:       models.KindRateLimited,
				message:    "Amazon is rate limiting requests. Please try again later.",
				retryable:  true,
				retryAfter: retryAfter,
			}
		}

		if resp.StatusCode >= 500 {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			return nil, &attemptError{
				kind:      models.KindUpstreamServer,
				message:   fmt.Sprintf("Amazon returned a server error (HTTP %d)", resp.StatusCode),
				retryable: true,
			}
		}

		if resp.StatusCode != http.StatusOK {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			return nil, &attemptError{
				kind:    models.KindUpstreamServer,
				message: fmt.Sprintf("Amazon returned an error response (HTTP %d). The product may not exist or be temporarily unavailable.", resp.StatusCode),
			}
		}

		body, err := f.readBody(resp)
		if err != nil {
			return nil, &attemptError{
				kind:      models.KindNetwork,
				message:   "failed to read response body",
				retryable: true,
				err:       err,
			}
		}

		if len(body) < f.cfg.MinBodyBytes {
			// Undersized bodies are a common signature of soft-blocking.
			return nil, &attemptError{
				kind:      models.KindNetwork,
				message:   "incomplete response",
				retryable: true,
			}
		}

		doc := &Document{
			URL:        rawURL,
			FinalURL:   current,
			StatusCode: resp.StatusCode,
			Body:       body,
		}
		if sig, ok := detectBotChallenge(body); ok {
			doc.BotChallenge = true
			f.logger.Warn("bot challenge signature detected, proceeding with extraction",
				"url", current,
				"signature", sig,
			)
		}
		return doc, nil
	}
}

func (f *Fetcher) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", f.userAgent())
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("Upgrade-Insecure-Requests", "1")
	req.Header.Set("Sec-Fetch-Dest", "document")
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	req.Header.Set("Sec-Fetch-Site", "none")
	req.Header.Set("Cache-Control", "max-age=0")
}

func (f *Fetcher) userAgent() string {
	if len(f.cfg.UserAgents) == 0 {
		return defaultUserAgents()[0]
	}
	return f.cfg.UserAgents[rand.Intn(len(f.cfg.UserAgents))]
}

// readBody decompresses according to the declared Content-Encoding and
// enforces the body size cap.
func (f *Fetcher) readBody(resp *http.Response) ([]byte, error) {
	reader := io.Reader(resp.Body)
	closers := []io.Closer{resp.Body}

	encoding := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))
	switch encoding {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("gzip decode: %w", err)
		}
		reader = gz
		closers = append(closers, gz)
	case "br":
		reader = brotli.NewReader(resp.Body)
	case "deflate":
		fl := flate.NewReader(resp.Body)
		reader = fl
		closers = append(closers, fl)
	}

	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i].Close()
		}
	}()

	limited := io.LimitReader(reader, f.cfg.MaxBodyBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > f.cfg.MaxBodyBytes {
		return nil, fmt.Errorf("response body exceeds limit of %d bytes", f.cfg.MaxBodyBytes)
	}
	return body, nil
}

func classifyTransportError(err error) *attemptError {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
		return &attemptError{
			kind:      models.KindTimeout,
			message:   "Page loading timeout. Amazon may be experiencing issues or blocking requests.",
			retryable: true,
			err:       err,
		}
	}
	return &attemptError{
		kind:      models.KindNetwork,
		message:   "Network connection error. Please check your internet connection and try again.",
		retryable: true,
		err:       err,
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func resolveRedirect(current, location string) (string, error) {
	base, err := url.Parse(current)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(location)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(ref).String(), nil
}

// parseRetryAfter handles both delay-seconds and HTTP-date forms.
func parseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func detectBotChallenge(body []byte) (string, bool) {
	text := string(body)
	for _, sig := range botChallengeSignatures {
		if strings.Contains(text, sig) {
			return sig, true
		}
	}
	return "", false
}

func terminal(aerr *attemptError, url string) *models.Error {
	return models.WrapError(aerr.kind, aerr.message, url, aerr.err)
}
