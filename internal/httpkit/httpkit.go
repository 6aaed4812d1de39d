// Package httpkit builds the HTTP clients Nova uses for every
// outbound call: the completion provider, embeddings, Brave search,
// page fetching, and the Telegram Bot API. One shared transport
// configuration keeps timeouts, pooling, and the User-Agent
// consistent across all of them.
package httpkit

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/nugget/nova-agent/internal/buildinfo"
)

// Transport-level limits shared by every client.
const (
	DefaultDialTimeout         = 10 * time.Second
	DefaultKeepAlive           = 30 * time.Second
	DefaultTLSHandshakeTimeout = 10 * time.Second
	DefaultResponseHeader      = 15 * time.Second
	DefaultIdleConnTimeout     = 90 * time.Second
	DefaultMaxIdleConns        = 20
	DefaultMaxIdleConnsPerHost = 5
)

// ClientOption configures a client built by NewClient.
type ClientOption func(*clientConfig)

type clientConfig struct {
	timeout    time.Duration
	userAgent  string
	retryCount int
	retryDelay time.Duration
	logger     *slog.Logger
}

// WithTimeout sets the overall request timeout. Zero disables it,
// which streaming responses need.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *clientConfig) { c.timeout = d }
}

// WithUserAgent overrides the default User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(c *clientConfig) { c.userAgent = ua }
}

// WithRetry retries requests that fail with a transient connect error
// (host/network unreachable, connection refused). Those errors happen
// before any bytes reach the server, so a retry cannot duplicate side
// effects; requests with a body are only retried when GetBody can
// rewind it.
func WithRetry(count int, delay time.Duration) ClientOption {
	return func(c *clientConfig) {
		c.retryCount = count
		c.retryDelay = delay
	}
}

// WithLogger sets a logger for retry diagnostics.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *clientConfig) { c.logger = l }
}

// NewTransport builds the transport all clients sit on.
func NewTransport() *http.Transport {
	return &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   DefaultDialTimeout,
			KeepAlive: DefaultKeepAlive,
		}).DialContext,
		TLSHandshakeTimeout:   DefaultTLSHandshakeTimeout,
		ResponseHeaderTimeout: DefaultResponseHeader,
		IdleConnTimeout:       DefaultIdleConnTimeout,
		MaxIdleConns:          DefaultMaxIdleConns,
		MaxIdleConnsPerHost:   DefaultMaxIdleConnsPerHost,
		ForceAttemptHTTP2:     true,
	}
}

// NewClient builds an *http.Client with the shared transport, a
// 30-second default timeout, and the Nova User-Agent.
func NewClient(opts ...ClientOption) *http.Client {
	cfg := &clientConfig{
		timeout:   30 * time.Second,
		userAgent: buildinfo.UserAgent(),
	}
	for _, o := range opts {
		o(cfg)
	}

	var rt http.RoundTripper = &userAgentTransport{
		base: NewTransport(),
		ua:   cfg.userAgent,
	}
	if cfg.retryCount > 0 {
		rt = &retryTransport{
			base:   rt,
			count:  cfg.retryCount,
			delay:  cfg.retryDelay,
			logger: cfg.logger,
		}
	}

	return &http.Client{
		Timeout:   cfg.timeout,
		Transport: rt,
	}
}

// userAgentTransport fills in the User-Agent header when the caller
// set none.
type userAgentTransport struct {
	base http.RoundTripper
	ua   string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		// RoundTrippers must not mutate the caller's request.
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.ua)
	}
	return t.base.RoundTrip(req)
}

// DrainAndClose reads up to limit bytes from rc and closes it, so the
// underlying connection goes back to the pool.
func DrainAndClose(rc io.ReadCloser, limit int64) {
	if rc == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, limit))
	rc.Close()
}

// ReadErrorBody reads up to limit bytes for an error message, then
// drains and closes the remainder. A nil reader yields an empty
// string.
func ReadErrorBody(rc io.ReadCloser, limit int64) string {
	if rc == nil {
		return ""
	}
	body, err := io.ReadAll(io.LimitReader(rc, limit))
	DrainAndClose(rc, 1024)
	if err != nil {
		return fmt.Sprintf("(failed to read error body: %v)", err)
	}
	return string(body)
}

// retryTransport re-sends requests that failed with a transient
// connect error, up to count attempts with delay between them.
type retryTransport struct {
	base   http.RoundTripper
	count  int
	delay  time.Duration
	logger *slog.Logger
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err == nil || !isRetryableError(err) {
		return resp, err
	}

	// A non-empty body needs GetBody to rewind it for the next send.
	// http.NoBody counts as empty.
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		return resp, err
	}

	for attempt := 1; attempt <= t.count; attempt++ {
		firstErr := err
		if t.logger != nil {
			t.logger.Debug("retrying request after transient error",
				"method", req.Method,
				"url", req.URL.String(),
				"attempt", attempt,
				"error", err,
			)
		}

		timer := time.NewTimer(t.delay)
		select {
		case <-req.Context().Done():
			timer.Stop()
			return nil, req.Context().Err()
		case <-timer.C:
		}

		retry := req.Clone(req.Context())
		if req.GetBody != nil {
			body, bodyErr := req.GetBody()
			if bodyErr != nil {
				return nil, fmt.Errorf("retry: rewind body: %w", bodyErr)
			}
			retry.Body = body
		}

		resp, err = t.base.RoundTrip(retry)
		if err == nil || !isRetryableError(err) {
			if err == nil && t.logger != nil {
				t.logger.Info("request succeeded after retry",
					"method", req.Method,
					"url", req.URL.String(),
					"attempts", attempt+1,
					"first_error", firstErr.Error(),
				)
			}
			return resp, err
		}
	}

	return resp, err
}

// isRetryableError matches connect-level failures that happen before
// the server sees the request. ECONNRESET is deliberately excluded:
// it can arrive after the server has already acted on the request.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	retryable := func(errno syscall.Errno) bool {
		switch errno {
		case syscall.EHOSTUNREACH, syscall.ENETUNREACH, syscall.ECONNREFUSED:
			return true
		}
		return false
	}

	var errno syscall.Errno
	if errors.As(err, &errno) && retryable(errno) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && errors.As(opErr.Err, &errno) {
		return retryable(errno)
	}
	return false
}
