// Package dispatcher performs outbound marketplace requests through rotating proxies
// with jitter, spoofed user agents, timeouts and bounded retries.
package dispatcher

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/gocolly/colly/v2/extensions"
	"go.uber.org/zap"

	"github.com/JakeFAU/kr-car-crawler/internal/metrics"
)

// ErrExhausted is returned once every attempt for a request has failed.
var ErrExhausted = errors.New("request attempts exhausted")

var errNoResponse = errors.New("no response received")

const (
	defaultTimeout     = 120 * time.Second
	defaultMaxAttempts = 3
	maxBodySize        = 32 << 20
)

// ProxySource hands out a proxy address per attempt.
type ProxySource interface {
	Pick() (string, error)
}

// Throttle delays requests to respect per-host rate limits.
type Throttle interface {
	Wait(ctx context.Context, rawURL string) error
}

// Config controls timeouts, pacing and the attempt ceiling.
type Config struct {
	Timeout            time.Duration
	MaxAttempts        int
	JitterMin          time.Duration
	JitterMax          time.Duration
	BackoffMin         time.Duration
	BackoffMax         time.Duration
	InsecureSkipVerify bool
}

// Request describes one outbound call.
type Request struct {
	Method  string
	URL     string
	Body    []byte
	Headers http.Header
}

// Dispatcher executes requests with per-attempt proxy selection and retry.
type Dispatcher struct {
	cfg      Config
	proxies  ProxySource
	throttle Throttle
	retry    *RetryPolicy
	pauser   pauseController
	logger   *zap.Logger

	sessionFailed func(error) bool

	mu        sync.RWMutex
	base      *colly.Collector
	transport *http.Transport
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Dispatcher. A nil ProxySource sends requests directly.
func New(cfg Config, proxies ProxySource, throttle Throttle, logger *zap.Logger) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		cfg:           cfg,
		proxies:       proxies,
		throttle:      throttle,
		retry:         NewRetryPolicy(cfg.MaxAttempts, cfg.BackoffMin, cfg.BackoffMax),
		pauser:        &timerPauseController{},
		logger:        logger,
		sessionFailed: isSessionFailure,
	}
	d.resetSession()
	return d
}

// Get issues a GET request.
func (d *Dispatcher) Get(ctx context.Context, rawURL string) (*Response, error) {
	return d.Do(ctx, Request{Method: http.MethodGet, URL: rawURL})
}

// Post issues a POST request with an optional body.
func (d *Dispatcher) Post(ctx context.Context, rawURL string, body []byte) (*Response, error) {
	return d.Do(ctx, Request{Method: http.MethodPost, URL: rawURL, Body: body})
}

// Do runs the request until it succeeds or the attempt ceiling is reached.
// Exhaustion yields a nil response and an error wrapping ErrExhausted; callers
// skip the item instead of aborting.
func (d *Dispatcher) Do(ctx context.Context, req Request) (*Response, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	logger := d.logger.With(
		zap.String("site", metrics.SanitizeSite(req.URL)),
		zap.String("method", req.Method),
		zap.String("url", req.URL),
	)

	var (
		lastErr error
		resets  int
		attempt = 1
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("dispatch canceled: %w", err)
		}
		proxyURL, err := d.pickProxy()
		var resp *Response
		if err == nil {
			resp, err = d.attempt(ctx, req, proxyURL, attempt, logger)
		}
		if err == nil {
			metrics.ObserveRequest(req.URL, "ok", len(resp.Body))
			return resp, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("dispatch canceled: %w", ctxErr)
		}
		if d.sessionFailed(err) && resets < d.cfg.MaxAttempts {
			resets++
			logger.Warn("transport session failed, recreating", zap.Int("attempt", attempt), zap.Error(err))
			d.resetSession()
			continue
		}
		lastErr = err
		if !d.retry.ShouldRetry(err, attempt) {
			break
		}
		logger.Warn("request attempt failed",
			zap.Int("attempt", attempt),
			zap.String("proxy", redact(proxyURL)),
			zap.Error(err),
		)
		d.pauser.Pause(ctx, d.retry.Backoff(attempt))
		attempt++
	}

	logger.Warn("request abandoned", zap.Int("attempts", attempt), zap.Error(lastErr))
	metrics.ObserveRequest(req.URL, "exhausted", 0)
	return nil, fmt.Errorf("%w: %w", ErrExhausted, lastErr)
}

// Close releases idle connections held by the current session.
func (d *Dispatcher) Close() {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.transport != nil {
		d.transport.CloseIdleConnections()
	}
}

func (d *Dispatcher) pickProxy() (string, error) {
	if d.proxies == nil {
		return "", nil
	}
	proxyURL, err := d.proxies.Pick()
	if err != nil {
		return "", fmt.Errorf("pick proxy: %w", err)
	}
	return proxyURL, nil
}

func (d *Dispatcher) attempt(
	ctx context.Context,
	req Request,
	proxyURL string,
	attempt int,
	logger *zap.Logger,
) (*Response, error) {
	d.pauser.Pause(ctx, randomBetween(d.cfg.JitterMin, d.cfg.JitterMax))
	if d.throttle != nil {
		if err := d.throttle.Wait(ctx, req.URL); err != nil {
			return nil, err
		}
	}
	metrics.ObserveAttempt(req.URL)
	logger.Info("dispatching request", zap.Int("attempt", attempt), zap.String("proxy", redact(proxyURL)))

	var (
		result   *Response
		fetchErr error
	)
	collector := d.buildCollector(ctx, proxyURL)
	d.configureCollectorHooks(collector, req, proxyURL, &result, &fetchErr)
	if err := d.runCollector(ctx, collector, req, &fetchErr); err != nil {
		return nil, err
	}
	if result == nil {
		return nil, errNoResponse
	}
	if err := statusError(result.StatusCode); err != nil {
		return nil, err
	}
	return result, nil
}

func (d *Dispatcher) buildCollector(ctx context.Context, proxyURL string) *colly.Collector {
	d.mu.RLock()
	collector := d.base.Clone()
	d.mu.RUnlock()

	reqCtx := ctx
	if proxyURL != "" {
		reqCtx = context.WithValue(ctx, colly.ProxyURLKey, proxyURL)
	}
	collector.Context = reqCtx
	extensions.RandomUserAgent(collector)
	return collector
}

func (d *Dispatcher) configureCollectorHooks(
	hooks collectorHooks,
	req Request,
	proxyURL string,
	result **Response,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		copyHeaders(req, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		resp := &Response{
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
			Proxy:      proxyURL,
		}
		if r.Request != nil && r.Request.URL != nil {
			resp.URL = r.Request.URL.String()
		}
		if r.Headers != nil {
			resp.Headers = r.Headers.Clone()
		}
		*result = resp
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (d *Dispatcher) runCollector(ctx context.Context, collector *colly.Collector, req Request, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		var body io.Reader
		if len(req.Body) > 0 {
			body = bytes.NewReader(req.Body)
		}
		done <- collector.Request(req.Method, req.URL, body, nil, nil)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly request canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly request failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

// resetSession replaces the shared collector and transport.
func (d *Dispatcher) resetSession() {
	transport := newHTTPTransport(d.cfg.InsecureSkipVerify)
	base := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
		colly.IgnoreRobotsTxt(),
		colly.MaxBodySize(maxBodySize),
	)
	base.WithTransport(transport)
	base.SetRequestTimeout(d.cfg.Timeout)

	d.mu.Lock()
	old := d.transport
	d.base = base
	d.transport = transport
	d.mu.Unlock()
	if old != nil {
		old.CloseIdleConnections()
	}
}

func copyHeaders(req Request, r *colly.Request) {
	for key, values := range req.Headers {
		r.Headers.Del(key)
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func newHTTPTransport(insecure bool) *http.Transport {
	return &http.Transport{
		Proxy: proxyFromContext,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		// #nosec G402 -- marketplace certificates are not verified when tunnelling through proxies.
		TLSClientConfig:       &tls.Config{InsecureSkipVerify: insecure},
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}

func proxyFromContext(r *http.Request) (*url.URL, error) {
	raw, ok := r.Context().Value(colly.ProxyURLKey).(string)
	if !ok || raw == "" {
		return nil, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse proxy url: %w", err)
	}
	return u, nil
}

func isSessionFailure(err error) bool {
	return errors.Is(err, net.ErrClosed)
}

func redact(proxyURL string) string {
	if proxyURL == "" {
		return "direct"
	}
	u, err := url.Parse(proxyURL)
	if err != nil {
		return "invalid"
	}
	return u.Redacted()
}
