// Package upstreamtest provides a TLS test upstream that answers for any
// hostname, so tests can exercise allowlisted names without real DNS.
package upstreamtest

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// Server is an httptest TLS server that records every request it receives.
type Server struct {
	*httptest.Server

	mu    sync.Mutex
	hosts []string
}

// New starts a TLS server running h and registers its shutdown with t.
func New(t testing.TB, h http.Handler) *Server {
	t.Helper()
	s := &Server{}
	s.Server = httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hosts = append(s.hosts, r.Host)
		s.mu.Unlock()
		h.ServeHTTP(w, r)
	}))
	t.Cleanup(s.Close)
	return s
}

// Calls returns the number of requests the server has received.
func (s *Server) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.hosts)
}

// Hosts returns the Host header of every request received, in order.
func (s *Server) Hosts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.hosts...)
}

// Transport returns a transport that dials this server for every address and
// tracks response bodies that were never closed.
func (s *Server) Transport() *Transport {
	addr := s.Listener.Addr().String()
	dialer := &net.Dialer{Timeout: 5 * time.Second}
	return &Transport{
		base: &http.Transport{
			DialContext: func(ctx context.Context, network, _ string) (net.Conn, error) {
				return dialer.DialContext(ctx, network, addr)
			},
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // self-signed test certificate
		},
	}
}

// Transport wraps an http.Transport and counts open response bodies.
type Transport struct {
	base *http.Transport
	open atomic.Int64
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	t.open.Add(1)
	resp.Body = &trackedBody{ReadCloser: resp.Body, onClose: func() { t.open.Add(-1) }}
	return resp, nil
}

// OpenBodies returns how many response bodies have not been closed yet.
func (t *Transport) OpenBodies() int64 {
	return t.open.Load()
}

// CloseIdleConnections closes idle connections of the underlying transport.
func (t *Transport) CloseIdleConnections() {
	t.base.CloseIdleConnections()
}

type trackedBody struct {
	io.ReadCloser
	once    sync.Once
	onClose func()
}

func (b *trackedBody) Close() error {
	b.once.Do(b.onClose)
	return b.ReadCloser.Close()
}
