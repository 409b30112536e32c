package origin

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNormalizeHeader(t *testing.T) {
	tests := []struct {
		name           string
		header         string
		wantNormalized string
		wantHost       string
		wantOK         bool
	}{
		{name: "lowercases and drops default port", header: "HTTPS://Example.COM:443", wantNormalized: "https://example.com", wantHost: "example.com", wantOK: true},
		{name: "keeps non-default port", header: "http://localhost:5173", wantNormalized: "http://localhost:5173", wantHost: "localhost:5173", wantOK: true},
		{name: "allows trailing slash", header: "http://localhost:5173/", wantNormalized: "http://localhost:5173", wantHost: "localhost:5173", wantOK: true},
		{name: "ipv6 literal", header: "http://[::1]:8080", wantNormalized: "http://[::1]:8080", wantHost: "[::1]:8080", wantOK: true},
		{name: "null origin", header: "null", wantNormalized: "null", wantHost: "", wantOK: true},
		{name: "empty", header: "  "},
		{name: "ftp scheme", header: "ftp://example.com"},
		{name: "path", header: "https://example.com/path"},
		{name: "query", header: "https://example.com/?q=1"},
		{name: "empty query", header: "https://example.com?"},
		{name: "credentials", header: "https://user@example.com"},
		{name: "fragment", header: "https://example.com/#frag"},
		{name: "port zero", header: "https://example.com:0"},
		{name: "port out of range", header: "https://example.com:70000"},
		{name: "list of origins", header: "https://a.example.com,https://b.example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			normalized, host, ok := NormalizeHeader(tt.header)
			if ok != tt.wantOK {
				t.Fatalf("ok=%v, want %v (normalized=%q)", ok, tt.wantOK, normalized)
			}
			if !ok {
				return
			}
			if normalized != tt.wantNormalized {
				t.Fatalf("normalized=%q, want %q", normalized, tt.wantNormalized)
			}
			if host != tt.wantHost {
				t.Fatalf("host=%q, want %q", host, tt.wantHost)
			}
		})
	}
}

func TestIsAllowed(t *testing.T) {
	t.Run("default is same host:port only", func(t *testing.T) {
		normalized, host, _ := NormalizeHeader("https://app.example.com")
		if !IsAllowed(normalized, host, "app.example.com", nil) {
			t.Fatalf("expected same-host to be allowed")
		}
		if !IsAllowed(normalized, host, "app.example.com:443", nil) {
			t.Fatalf("expected explicit default port to be equivalent")
		}
		if IsAllowed(normalized, host, "app.example.com:8443", nil) {
			t.Fatalf("expected different port to be rejected")
		}
		if IsAllowed(normalized, host, "relay.example.com", nil) {
			t.Fatalf("expected different host to be rejected")
		}
	})

	t.Run("allows star", func(t *testing.T) {
		normalized, host, _ := NormalizeHeader("https://app.example.com")
		if !IsAllowed(normalized, host, "whatever:1234", []string{"*"}) {
			t.Fatalf("expected * to allow any origin")
		}
	})

	t.Run("allows explicit origin", func(t *testing.T) {
		normalized, host, _ := NormalizeHeader("https://app.example.com")
		if !IsAllowed(normalized, host, "relay.example.com", []string{"https://app.example.com"}) {
			t.Fatalf("expected explicit origin to be allowed")
		}
		if IsAllowed(normalized, host, "relay.example.com", []string{"https://other.example.com"}) {
			t.Fatalf("expected non-matching origin to be rejected")
		}
	})

	t.Run("null origin", func(t *testing.T) {
		normalized, host, _ := NormalizeHeader("null")
		if IsAllowed(normalized, host, "relay.example.com", nil) {
			t.Fatalf("expected null origin to be rejected by same-host policy")
		}
		if !IsAllowed(normalized, host, "relay.example.com", []string{"null"}) {
			t.Fatalf("expected null origin to be allowed when configured")
		}
	})
}

func TestPolicyCheck(t *testing.T) {
	p := Policy{}

	req := httptest.NewRequest("GET", "http://relay.example.com/receiver", nil)
	if _, ok := p.Check(req); !ok {
		t.Fatalf("expected request without Origin to be allowed")
	}

	req.Header.Set("Origin", "http://relay.example.com")
	if got, ok := p.Check(req); !ok || got != "http://relay.example.com" {
		t.Fatalf("Check=(%q,%v), want (%q,true)", got, ok, "http://relay.example.com")
	}

	req.Header.Set("Origin", "http://evil.example.com")
	if _, ok := p.Check(req); ok {
		t.Fatalf("expected cross-origin request to be rejected")
	}

	req.Header.Set("Origin", "not a url")
	if _, ok := p.Check(req); ok {
		t.Fatalf("expected malformed origin to be rejected")
	}
}

func FuzzNormalizeHeader(f *testing.F) {
	for _, seed := range []string{"HTTPS://Example.COM:443", "http://[::1]", "null", "", "ftp://x", "https://a/b"} {
		f.Add(seed)
	}
	f.Fuzz(func(t *testing.T, header string) {
		normalized, host, ok := NormalizeHeader(header)
		again, againHost, againOK := NormalizeHeader(header)
		if ok != againOK || normalized != again || host != againHost {
			t.Fatalf("non-deterministic result for %q", header)
		}
		if !ok || normalized == "null" {
			return
		}
		if !strings.HasPrefix(normalized, "http://") && !strings.HasPrefix(normalized, "https://") {
			t.Fatalf("normalized=%q has unexpected scheme", normalized)
		}
		if !strings.HasSuffix(normalized, "://"+host) {
			t.Fatalf("normalized=%q does not end with host %q", normalized, host)
		}
	})
}
