// Package validator checks client-supplied target URLs against the host allowlist.
package validator

import (
	"errors"
	"net/url"
	"slices"
)

var (
	// ErrInvalidURL is returned when the target cannot be parsed or is not absolute.
	ErrInvalidURL = errors.New("invalid URL")
	// ErrHostNotAllowed is returned when the scheme is not https or the host is
	// not in the allowlist. The message never names the allowed hosts.
	ErrHostNotAllowed = errors.New("URL not allowed")
)

// requiredScheme is the only scheme a target may use.
const requiredScheme = "https"

// AllowedHosts is an immutable set of exact hostnames permitted as targets.
// It is built once at startup and safe for concurrent use.
type AllowedHosts struct {
	hosts map[string]struct{}
}

// NewAllowedHosts builds the set from hosts. Matching is exact and
// case-sensitive; no wildcard or subdomain expansion happens.
func NewAllowedHosts(hosts []string) *AllowedHosts {
	m := make(map[string]struct{}, len(hosts))
	for _, h := range hosts {
		m[h] = struct{}{}
	}
	return &AllowedHosts{hosts: m}
}

// Contains reports whether host is an exact member of the set.
func (a *AllowedHosts) Contains(host string) bool {
	_, ok := a.hosts[host]
	return ok
}

// Len returns the number of allowed hosts.
func (a *AllowedHosts) Len() int {
	return len(a.hosts)
}

// Hosts returns a sorted copy of the allowed hosts.
func (a *AllowedHosts) Hosts() []string {
	out := make([]string, 0, len(a.hosts))
	for h := range a.hosts {
		out = append(out, h)
	}
	slices.Sort(out)
	return out
}

// Validate parses raw and checks it against the scheme and host rules.
func (a *AllowedHosts) Validate(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return nil, ErrInvalidURL
	}
	if err := a.Check(u); err != nil {
		return nil, err
	}
	return u, nil
}

// Check applies the scheme and host rules to an already parsed URL.
func (a *AllowedHosts) Check(u *url.URL) error {
	if u.Scheme != requiredScheme || !a.Contains(u.Hostname()) {
		return ErrHostNotAllowed
	}
	return nil
}
