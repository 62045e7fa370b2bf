// Package model defines shared types for the image proxy.
package model

import (
	"io"
	"net/http"
	"net/url"
)

// ProxyRequest is the state carried through the redirect chain for one
// client request.
type ProxyRequest struct {
	Target        *url.URL
	RedirectDepth int
}

// UpstreamResponse is the raw response of a single upstream hop.
// The body belongs to the fetcher's caller, which must close it.
type UpstreamResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// RelayedResponse is the accepted image response to be streamed to the client.
// Header only carries the propagated subset.
type RelayedResponse struct {
	Header http.Header
	Body   io.ReadCloser
}

// ErrorResponse is the JSON body written for every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Status  int    `json:"status,omitempty"`
	Details string `json:"details,omitempty"`
}
