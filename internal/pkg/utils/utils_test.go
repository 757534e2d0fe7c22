package utils

import (
	"net/url"
	"testing"
)

func TestGetDomainFromURL(t *testing.T) {
	tests := map[string]string{
		"https://example.com/test":   "example.com",
		"https://www.Example.com/x":  "example.com",
		"docs.rs/tokio":              "docs.rs",
		"http://sub.example.org:8080": "sub.example.org",
	}
	for input, want := range tests {
		domain, err := GetDomainFromURL(input)
		if err != nil {
			t.Fatalf("GetDomainFromURL(%q) returned error: %v", input, err)
		}
		if domain != want {
			t.Errorf("GetDomainFromURL(%q) = %q, want %q", input, domain, want)
		}
	}
}

func TestBuildFullUrl(t *testing.T) {
	fullUrl, err := BuildFullUrl("example.com/test")
	if err != nil {
		t.Fatalf("BuildFullUrl returned error: %v", err)
	}
	if fullUrl != "https://example.com/test" {
		t.Errorf("Expected full URL 'https://example.com/test', got '%s'", fullUrl)
	}
	for _, bad := range []string{"", "   ", "ftp://example.com/file", "https://"} {
		if _, err := BuildFullUrl(bad); err == nil {
			t.Errorf("Expected error for %q", bad)
		}
	}
}

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		a, b string
	}{
		{"https://Example.com/path/", "https://example.com/path"},
		{"example.com", "https://example.com/"},
		{"https://example.com:443/a#frag", "https://example.com/a"},
		{"http://example.com:80/a?b=2&a=1", "http://example.com/a?a=1&b=2"},
		{"https://example.com/a?a=1&b=2", "https://example.com/a?b=2&a=1"},
	}
	for _, tt := range tests {
		na, err := NormalizeURL(tt.a)
		if err != nil {
			t.Fatalf("NormalizeURL(%q) error: %v", tt.a, err)
		}
		nb, err := NormalizeURL(tt.b)
		if err != nil {
			t.Fatalf("NormalizeURL(%q) error: %v", tt.b, err)
		}
		if na != nb {
			t.Errorf("expected %q and %q to normalize equally, got %q vs %q", tt.a, tt.b, na, nb)
		}
	}

	keep, _ := NormalizeURL("http://example.com:8080/a")
	if keep != "http://example.com:8080/a" {
		t.Errorf("non-default port should be kept, got %q", keep)
	}
}

func TestResolveHTTP(t *testing.T) {
	base, _ := url.Parse("https://example.com/docs/page.html")
	tests := []struct {
		href string
		want string
		ok   bool
	}{
		{"/about", "https://example.com/about", true},
		{"next.html", "https://example.com/docs/next.html", true},
		{"https://other.org/x#section", "https://other.org/x", true},
		{"#top", "", false},
		{"javascript:void(0)", "", false},
		{"mailto:a@b.c", "", false},
		{"tel:123", "", false},
		{"ftp://example.com/f", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := ResolveHTTP(base, tt.href)
		if ok != tt.ok || got != tt.want {
			t.Errorf("ResolveHTTP(%q) = %q, %v; want %q, %v", tt.href, got, ok, tt.want, tt.ok)
		}
	}
}
