package fingerprint

import (
	"net/http"
	"testing"
)

func baseHeaders() http.Header {
	h := http.Header{}
	h.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64)")
	h.Set("Accept-Language", "en-US,en;q=0.9")
	h.Set("Accept-Encoding", "gzip, deflate, br")
	h.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	return h
}

func TestGenerateStable(t *testing.T) {
	a := Generate(baseHeaders())
	b := Generate(baseHeaders())
	if a.Hash != b.Hash {
		t.Fatalf("identical headers produced different hashes: %s vs %s", a.Hash, b.Hash)
	}
	if a.Hash == "" {
		t.Fatal("hash should not be empty")
	}
}

func TestGenerateIgnoresIP(t *testing.T) {
	a := Generate(baseHeaders())

	h := baseHeaders()
	h.Set("X-Forwarded-For", "198.51.100.42")
	b := Generate(h)

	if a.Hash != b.Hash {
		t.Fatalf("hash changed with IP: %s vs %s", a.Hash, b.Hash)
	}
	if a.IPAddress == b.IPAddress {
		t.Fatal("IP address should differ between the two fingerprints")
	}
}

func TestGenerateChangesWithUserAgent(t *testing.T) {
	a := Generate(baseHeaders())

	h := baseHeaders()
	h.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_0)")
	b := Generate(h)

	if a.Hash == b.Hash {
		t.Fatal("hash should change when the user agent changes")
	}
}

func TestGenerateClientIPSelection(t *testing.T) {
	tests := []struct {
		name  string
		setup func(http.Header)
		want  string
	}{
		{"first forwarded entry", func(h http.Header) {
			h.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1, 172.16.0.1")
		}, "203.0.113.7"},
		{"single forwarded entry", func(h http.Header) {
			h.Set("X-Forwarded-For", "203.0.113.7")
		}, "203.0.113.7"},
		{"real ip fallback", func(h http.Header) {
			h.Set("X-Real-Ip", "198.51.100.9")
		}, "198.51.100.9"},
		{"no ip headers", func(h http.Header) {}, "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			h.Set("User-Agent", "test")
			tt.setup(h)
			fp := Generate(h)
			if fp.IPAddress != tt.want {
				t.Fatalf("got ip %q, want %q", fp.IPAddress, tt.want)
			}
		})
	}
}

func TestGenerateMissingHeaders(t *testing.T) {
	fp := Generate(http.Header{})
	if fp.UserAgent != "unknown" || fp.AcceptLanguage != "unknown" || fp.AcceptEncoding != "unknown" {
		t.Fatalf("missing headers should default to unknown, got %+v", fp)
	}
	if fp.Hash == "" {
		t.Fatal("hash should still be computed from defaults")
	}
}
