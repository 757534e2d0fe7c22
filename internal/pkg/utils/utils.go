package utils

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strings"
)

// Extracts the host domain from a URL, without a leading www.
func GetDomainFromURL(inputURL string) (string, error) {
	if !strings.HasPrefix(inputURL, "http://") && !strings.HasPrefix(inputURL, "https://") {
		inputURL = "https://" + inputURL
	}
	parsedURL, err := url.Parse(inputURL)
	if err != nil {
		return "", errors.New("error parsing URL")
	}
	return strings.TrimPrefix(strings.ToLower(parsedURL.Hostname()), "www."), nil
}

// Constructs the full URL from a short URL.
func BuildFullUrl(shortUrl string) (string, error) {
	shortUrl = strings.TrimSpace(shortUrl)
	if shortUrl == "" {
		return "", errors.New("empty URL")
	}
	// Prepend scheme if missing
	if !strings.Contains(shortUrl, "://") {
		shortUrl = "https://" + shortUrl
	}
	parsedURL, err := url.Parse(shortUrl)
	if err != nil {
		return "", fmt.Errorf("invalid URL %v: %v", shortUrl, err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", parsedURL.Scheme)
	}
	if parsedURL.Host == "" {
		return "", fmt.Errorf("invalid URL %v: missing host", shortUrl)
	}
	return parsedURL.String(), nil
}

// Canonicalizes a URL so equivalent spellings share one identity:
// lowercase scheme and host, default port removed, fragment dropped,
// query parameters sorted, trailing slash trimmed except for the root.
func NormalizeURL(raw string) (string, error) {
	full, err := BuildFullUrl(raw)
	if err != nil {
		return "", err
	}
	u, err := url.Parse(full)
	if err != nil {
		return "", err
	}
	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if port := u.Port(); port != "" && !(u.Scheme == "http" && port == "80") && !(u.Scheme == "https" && port == "443") {
		host = net.JoinHostPort(host, port)
	}
	u.Host = host
	u.Fragment = ""
	u.RawFragment = ""
	u.User = nil

	if u.RawQuery != "" {
		q := u.Query()
		keys := make([]string, 0, len(q))
		for k := range q {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		for _, k := range keys {
			vals := q[k]
			sort.Strings(vals)
			for _, v := range vals {
				if b.Len() > 0 {
					b.WriteByte('&')
				}
				b.WriteString(url.QueryEscape(k))
				b.WriteByte('=')
				b.WriteString(url.QueryEscape(v))
			}
		}
		u.RawQuery = b.String()
	}

	if u.Path == "" {
		u.Path = "/"
	}
	if len(u.Path) > 1 {
		u.Path = strings.TrimRight(u.Path, "/")
		if u.Path == "" {
			u.Path = "/"
		}
	}
	u.RawPath = ""
	return u.String(), nil
}

// Resolves href against base, keeping only http(s) results.
func ResolveHTTP(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return "", false
	}
	lower := strings.ToLower(href)
	for _, prefix := range []string{"javascript:", "mailto:", "tel:", "data:"} {
		if strings.HasPrefix(lower, prefix) {
			return "", false
		}
	}
	parsed, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	resolved := parsed
	if base != nil {
		resolved = base.ResolveReference(parsed)
	}
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return "", false
	}
	resolved.Fragment = ""
	resolved.RawFragment = ""
	return resolved.String(), true
}
