package validator

import (
	"errors"
	"testing"
)

func TestValidate(t *testing.T) {
	a := NewAllowedHosts([]string{"images.unsplash.com", "plus.unsplash.com"})

	tests := []struct {
		name    string
		raw     string
		wantErr error
	}{
		{"allowed host", "https://images.unsplash.com/photo-1.jpg?w=800", nil},
		{"second allowed host", "https://plus.unsplash.com/premium.jpg", nil},
		{"allowed host with port", "https://images.unsplash.com:443/a.jpg", nil},
		{"plain http rejected", "http://images.unsplash.com/a.jpg", ErrHostNotAllowed},
		{"ftp rejected", "ftp://images.unsplash.com/a.jpg", ErrHostNotAllowed},
		{"unknown host", "https://evil.example.com/a.jpg", ErrHostNotAllowed},
		{"subdomain not matched", "https://cdn.images.unsplash.com/a.jpg", ErrHostNotAllowed},
		{"suffix trick", "https://images.unsplash.com.evil.com/a.jpg", ErrHostNotAllowed},
		{"case sensitive", "https://Images.Unsplash.com/a.jpg", ErrHostNotAllowed},
		{"loopback", "https://127.0.0.1/a.jpg", ErrHostNotAllowed},
		{"relative URL", "/photo-1.jpg", ErrInvalidURL},
		{"no scheme", "images.unsplash.com/a.jpg", ErrInvalidURL},
		{"empty host", "https:///a.jpg", ErrInvalidURL},
		{"unparsable", "https://images.unsplash.com/%zz", ErrInvalidURL},
		{"control character", "https://images.unsplash.com/\x7f", ErrInvalidURL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := a.Validate(tt.raw)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate(%q) error = %v, want %v", tt.raw, err, tt.wantErr)
			}
			if tt.wantErr == nil && u == nil {
				t.Fatal("Validate() returned nil URL without error")
			}
			if tt.wantErr != nil && u != nil {
				t.Errorf("Validate() returned URL %v alongside error", u)
			}
		})
	}
}

func TestHostNotAllowed_DoesNotEchoAllowlist(t *testing.T) {
	a := NewAllowedHosts([]string{"images.unsplash.com"})
	_, err := a.Validate("https://evil.example.com/")
	if err == nil {
		t.Fatal("expected error")
	}
	if got := err.Error(); got != "URL not allowed" {
		t.Errorf("error = %q, want %q", got, "URL not allowed")
	}
}

func TestAllowedHosts_Accessors(t *testing.T) {
	a := NewAllowedHosts([]string{"b.example.com", "a.example.com", "b.example.com"})

	if a.Len() != 2 {
		t.Errorf("Len() = %d, want 2", a.Len())
	}
	hosts := a.Hosts()
	if len(hosts) != 2 || hosts[0] != "a.example.com" || hosts[1] != "b.example.com" {
		t.Errorf("Hosts() = %v, want [a.example.com b.example.com]", hosts)
	}
	hosts[0] = "mutated.example.com"
	if a.Contains("mutated.example.com") {
		t.Error("mutating Hosts() result must not change the set")
	}
}
