// Package client provides the outbound HTTP client for upstream image hosts.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"image-proxy-go/internal/config"
	"image-proxy-go/internal/metrics"
	"image-proxy-go/internal/model"
)

const (
	// UserAgent identifies the proxy to upstream hosts.
	UserAgent = "HomesHub-ImageProxy/1.0 (+https://localhost)"
	// AcceptImages lists the media types requested from upstream.
	AcceptImages = "image/avif,image/webp,image/apng,image/*,*/*;q=0.8"
)

// TransportError wraps any failure to obtain an upstream response: DNS, TLS,
// connection reset or timeout.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return "upstream transport: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Details returns the underlying cause without the request URL that
// *url.Error prepends.
func (e *TransportError) Details() string {
	var urlErr *url.Error
	if errors.As(e.Err, &urlErr) {
		return urlErr.Err.Error()
	}
	return e.Err.Error()
}

// errHopTimeout and errBodyStalled are the cancellation causes of a hop.
var (
	errHopTimeout  = fmt.Errorf("no upstream response headers in time: %w", context.DeadlineExceeded)
	errBodyStalled = fmt.Errorf("upstream body read stalled: %w", context.DeadlineExceeded)
)

// ImageClient issues single GET requests to upstream image hosts.
// Requests go straight to the transport, so redirects are never followed and
// the Location header reaches the caller unparsed.
type ImageClient struct {
	transport http.RoundTripper
	timeout   time.Duration
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewImageClient creates an ImageClient with connection pooling and timeouts.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewImageClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *ImageClient {
	transport := &http.Transport{
		Proxy:               nil,
		ForceAttemptHTTP2:   true,
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return NewImageClientWithTransport(cfg, logger, m, transport)
}

// NewImageClientWithTransport creates an ImageClient on top of rt.
func NewImageClientWithTransport(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics, rt http.RoundTripper) *ImageClient {
	return &ImageClient{
		transport: rt,
		timeout:   time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
		logger:    logger.With("component", "image_client"),
		metrics:   m,
	}
}

// Fetch performs exactly one GET against target with the fixed upstream
// headers. There is no retry.
//
// The hop timeout bounds the wait for response headers only. Once they have
// arrived, the same duration becomes a stall limit for each body read, so a
// large image that keeps flowing is never cut off. Canceling ctx (e.g. on
// client disconnect) aborts the exchange. The caller must close the body.
func (c *ImageClient) Fetch(ctx context.Context, target *url.URL) (*model.UpstreamResponse, error) {
	hopCtx, cancel := context.WithCancelCause(ctx)

	req, err := http.NewRequestWithContext(hopCtx, http.MethodGet, target.String(), http.NoBody)
	if err != nil {
		cancel(nil)
		return nil, &TransportError{Err: fmt.Errorf("build upstream request: %w", err)}
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", AcceptImages)
	req.Header.Set("Referer", Origin(target))

	c.logger.Debug("upstream request",
		"host", target.Host,
		"path", target.Path,
	)

	var headerTimer *time.Timer
	if c.timeout > 0 {
		headerTimer = time.AfterFunc(c.timeout, func() { cancel(errHopTimeout) })
	}

	start := time.Now()
	resp, err := c.transport.RoundTrip(req) //nolint:bodyclose // body ownership transfers to caller via UpstreamResponse
	duration := time.Since(start).Seconds()
	if headerTimer != nil {
		headerTimer.Stop()
	}

	if err != nil {
		if cause := context.Cause(hopCtx); cause != nil && !errors.Is(err, cause) {
			err = fmt.Errorf("%w (%v)", cause, err)
		}
		cancel(nil)
		if c.metrics != nil {
			c.metrics.UpstreamDuration.WithLabelValues("error").Observe(duration)
		}
		return nil, &TransportError{Err: err}
	}

	if c.metrics != nil {
		c.metrics.UpstreamDuration.WithLabelValues("ok").Observe(duration)
		c.metrics.UpstreamResponses.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()
	}

	return &model.UpstreamResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       newHopBody(hopCtx, cancel, resp.Body, c.timeout),
	}, nil
}

// hopBody cancels the hop when a single Read blocks longer than stall, and
// releases the hop context on Close.
type hopBody struct {
	io.ReadCloser
	ctx    context.Context
	cancel context.CancelCauseFunc
	stall  time.Duration
	timer  *time.Timer
}

func newHopBody(ctx context.Context, cancel context.CancelCauseFunc, body io.ReadCloser, stall time.Duration) *hopBody {
	b := &hopBody{ReadCloser: body, ctx: ctx, cancel: cancel, stall: stall}
	if stall > 0 {
		b.timer = time.AfterFunc(stall, func() { cancel(errBodyStalled) })
		b.timer.Stop()
	}
	return b
}

func (b *hopBody) Read(p []byte) (int, error) {
	if b.timer != nil {
		b.timer.Reset(b.stall)
	}
	n, err := b.ReadCloser.Read(p)
	if b.timer != nil {
		b.timer.Stop()
	}
	if err != nil && err != io.EOF {
		if cause := context.Cause(b.ctx); cause != nil {
			err = &TransportError{Err: cause}
		}
	}
	return n, err
}

func (b *hopBody) Close() error {
	if b.timer != nil {
		b.timer.Stop()
	}
	err := b.ReadCloser.Close()
	b.cancel(nil)
	return err
}

// Origin returns the scheme://host/ origin of u, used as the Referer so that
// upstream anti-hotlinking checks see a same-origin request.
func Origin(u *url.URL) string {
	return (&url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/"}).String()
}
