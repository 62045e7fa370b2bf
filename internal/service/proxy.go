// Package service implements the redirect-following image fetch pipeline.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"golang.org/x/sync/semaphore"

	"image-proxy-go/internal/client"
	"image-proxy-go/internal/config"
	"image-proxy-go/internal/metrics"
	"image-proxy-go/internal/model"
	"image-proxy-go/internal/validator"
)

// MaxRedirects is the number of upstream redirects followed before giving up.
const MaxRedirects = 5

// maxDrainBytes caps how much of a rejected body is read before closing it.
// Past this point closing the connection is cheaper than reading on.
const maxDrainBytes = 64 << 10

const defaultMaxConcurrent = 256

const reasonUnknown = "unknown"

// ErrTooManyRedirects is returned when the chain exceeds MaxRedirects.
var ErrTooManyRedirects = errors.New("too many redirects")

// UpstreamStatusError is returned when the final hop is neither 200 nor a
// redirect carrying a Location header.
type UpstreamStatusError struct {
	Status int
}

func (e *UpstreamStatusError) Error() string {
	return fmt.Sprintf("upstream returned status %d", e.Status)
}

// forwardableResponseHeaders are the only response headers relayed to the client.
var forwardableResponseHeaders = []string{
	"Content-Type",
	"Cache-Control",
	"ETag",
}

// ImageProxyService resolves a client-supplied URL to an accepted image stream.
// It holds no per-request state and is safe for concurrent use.
type ImageProxyService struct {
	client  *client.ImageClient
	hosts   *validator.AllowedHosts
	sem     *semaphore.Weighted
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewImageProxyService creates an ImageProxyService.
// The metrics parameter is optional; pass nil to disable rejection metrics.
func NewImageProxyService(c *client.ImageClient, hosts *validator.AllowedHosts, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *ImageProxyService {
	n := cfg.Upstream.MaxConcurrent
	if n <= 0 {
		n = defaultMaxConcurrent
	}
	return &ImageProxyService{
		client:  c,
		hosts:   hosts,
		sem:     semaphore.NewWeighted(int64(n)),
		logger:  logger.With("component", "image_proxy_service"),
		metrics: m,
	}
}

// Resolve validates rawURL, follows redirects through allowed hosts and
// returns the accepted image response. The caller must close the returned
// body; on error no upstream connection is left open.
func (s *ImageProxyService) Resolve(ctx context.Context, rawURL string) (*model.RelayedResponse, error) {
	target, err := s.hosts.Validate(rawURL)
	if err != nil {
		return nil, s.reject(ctx, err)
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, s.reject(ctx, &client.TransportError{Err: err})
	}
	release := sync.OnceFunc(func() { s.sem.Release(1) })

	resp, err := s.follow(ctx, &model.ProxyRequest{Target: target})
	if err != nil {
		release()
		return nil, s.reject(ctx, err)
	}

	contentType, err := Classify(resp)
	if err != nil {
		discard(resp.Body)
		release()
		return nil, s.reject(ctx, err)
	}

	s.logger.Debug("accepted upstream image",
		"host", target.Host,
		"content_type", contentType,
	)

	return &model.RelayedResponse{
		Header: filterResponseHeaders(resp.Header),
		Body:   &releasingBody{ReadCloser: resp.Body, release: release},
	}, nil
}

// follow runs the hop loop: Fetching, then either Accepted (200), Redirected
// (3xx with Location, back to Fetching) or Rejected. Every hop target has
// already passed validation when it is fetched.
func (s *ImageProxyService) follow(ctx context.Context, pr *model.ProxyRequest) (*model.UpstreamResponse, error) {
	for {
		resp, err := s.client.Fetch(ctx, pr.Target)
		if err != nil {
			return nil, err
		}

		location := resp.Header.Get("Location")
		switch {
		case resp.StatusCode == http.StatusOK:
			return resp, nil

		case resp.StatusCode >= 300 && resp.StatusCode < 400 && location != "":
			discard(resp.Body)
			if pr.RedirectDepth+1 > MaxRedirects {
				return nil, ErrTooManyRedirects
			}
			next, err := s.nextHop(pr.Target, location)
			if err != nil {
				return nil, err
			}
			pr.Target = next
			pr.RedirectDepth++
			if s.metrics != nil {
				s.metrics.RedirectsTotal.Inc()
			}
			s.logger.Debug("following redirect",
				"status", resp.StatusCode,
				"host", next.Host,
				"depth", pr.RedirectDepth,
			)

		default:
			discard(resp.Body)
			return nil, &UpstreamStatusError{Status: resp.StatusCode}
		}
	}
}

// nextHop resolves location against the current target and re-validates it.
func (s *ImageProxyService) nextHop(current *url.URL, location string) (*url.URL, error) {
	ref, err := url.Parse(location)
	if err != nil {
		return nil, validator.ErrInvalidURL
	}
	return s.hosts.Validate(current.ResolveReference(ref).String())
}

// reject logs and counts a failed resolution, then returns err unchanged.
// Callers do not log it again.
func (s *ImageProxyService) reject(ctx context.Context, err error) error {
	reason := rejectionReason(err)
	level := slog.LevelWarn
	if reason == metrics.ReasonTransport || reason == reasonUnknown {
		level = slog.LevelError
	}
	s.logger.Log(ctx, level, "image request rejected", "reason", reason, "err", err)
	if s.metrics != nil {
		s.metrics.RejectionsTotal.WithLabelValues(reason).Inc()
	}
	return err
}

func rejectionReason(err error) string {
	var statusErr *UpstreamStatusError
	var transportErr *client.TransportError
	switch {
	case errors.Is(err, validator.ErrInvalidURL):
		return metrics.ReasonInvalidURL
	case errors.Is(err, validator.ErrHostNotAllowed):
		return metrics.ReasonHostNotAllowed
	case errors.Is(err, ErrTooManyRedirects):
		return metrics.ReasonTooManyRedirects
	case errors.Is(err, ErrNotAnImage):
		return metrics.ReasonNotAnImage
	case errors.As(err, &statusErr):
		return metrics.ReasonUpstreamStatus
	case errors.As(err, &transportErr):
		return metrics.ReasonTransport
	default:
		return reasonUnknown
	}
}

func filterResponseHeaders(src http.Header) http.Header {
	dst := make(http.Header)
	for _, key := range forwardableResponseHeaders {
		if v := src.Get(key); v != "" {
			dst.Set(key, v)
		}
	}
	return dst
}

// discard drains up to maxDrainBytes of body so the connection can be reused,
// then closes it.
func discard(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, maxDrainBytes))
	_ = body.Close()
}

// releasingBody returns the concurrency permit once the relayed body is closed.
type releasingBody struct {
	io.ReadCloser
	release func()
}

func (b *releasingBody) Close() error {
	err := b.ReadCloser.Close()
	b.release()
	return err
}
