// Package urlnorm canonicalizes and validates crawl-target URLs so that a
// normalized string can serve as the stable fingerprint used for dedup and
// storage identity (spec §4.1).
package urlnorm

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strings"
)

// Config controls normalization policy.
type Config struct {
	// TrackingParams is the set of query-parameter names stripped during
	// normalization (e.g. "utm_source", "gclid").
	TrackingParams map[string]struct{}
	// DeniedIPRanges rejects URLs whose host is a literal IP inside one of
	// these CIDR ranges (e.g. link-local/loopback, to avoid SSRF-style
	// self-crawls). Empty disables the check.
	DeniedIPRanges []*net.IPNet
	// MaxLength rejects any normalized URL longer than this many bytes.
	// Zero disables the check.
	MaxLength int
}

// DefaultConfig returns the normalization policy used when none is supplied:
// strips the most common tracking parameters, denies loopback, link-local and
// private-network (10/8, 172.16/12, 192.168/16) IP literals, and caps URLs at
// 2048 bytes.
func DefaultConfig() Config {
	denied := []string{
		"127.0.0.0/8", "10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16",
		"169.254.0.0/16", "::1/128", "fe80::/10",
	}
	nets := make([]*net.IPNet, 0, len(denied))
	for _, cidr := range denied {
		if _, n, err := net.ParseCIDR(cidr); err == nil {
			nets = append(nets, n)
		}
	}
	tracking := map[string]struct{}{}
	for _, p := range []string{"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content", "gclid", "fbclid", "mc_eid"} {
		tracking[p] = struct{}{}
	}
	return Config{TrackingParams: tracking, DeniedIPRanges: nets, MaxLength: 2048}
}

// Normalize canonicalizes rawURL, resolving it against base when it is
// relative. The normalized form is the sole identity used for dedup and
// storage (spec §4.1); it lowercases scheme and host, strips the default
// port and fragment, drops configured tracking parameters, sorts the
// remaining query parameters, and rejects disallowed schemes/hosts/lengths.
func Normalize(rawURL, base string, cfg Config) (string, error) {
	if rawURL == "" {
		return "", errors.New("urlnorm: empty URL")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("urlnorm: parse %q: %w", rawURL, err)
	}

	if !parsed.IsAbs() && base != "" {
		baseURL, err := url.Parse(base)
		if err != nil {
			return "", fmt.Errorf("urlnorm: parse base %q: %w", base, err)
		}
		parsed = baseURL.ResolveReference(parsed)
	}

	if parsed.Scheme == "" || parsed.Host == "" {
		return "", errors.New("urlnorm: URL must have scheme and host")
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("urlnorm: disallowed scheme %q", scheme)
	}
	parsed.Scheme = scheme
	parsed.Host = strings.ToLower(parsed.Host)
	parsed.Fragment = ""

	host := parsed.Hostname()
	if host == "" {
		return "", errors.New("urlnorm: empty host")
	}
	if ip := net.ParseIP(host); ip != nil {
		for _, denied := range cfg.DeniedIPRanges {
			if denied.Contains(ip) {
				return "", fmt.Errorf("urlnorm: host %s is in a denied IP range", host)
			}
		}
	}

	stripDefaultPort(parsed)

	if parsed.Path != "/" && strings.HasSuffix(parsed.Path, "/") {
		parsed.Path = strings.TrimSuffix(parsed.Path, "/")
	}
	if parsed.Path == "" {
		parsed.Path = "/"
	}
	// Re-encode the path consistently (net/url already percent-encodes on
	// String(); EscapedPath normalizes any already-encoded input too).
	parsed.RawPath = ""

	if parsed.RawQuery != "" {
		values := parsed.Query()
		for name := range cfg.TrackingParams {
			values.Del(name)
		}
		parsed.RawQuery = sortedEncode(values)
	}

	normalized := parsed.String()
	if cfg.MaxLength > 0 && len(normalized) > cfg.MaxLength {
		return "", fmt.Errorf("urlnorm: normalized URL exceeds max length %d", cfg.MaxLength)
	}
	return normalized, nil
}

// stripDefaultPort removes ":80" from an http URL and ":443" from an https
// URL so that "http://h:80/x" and "http://h/x" normalize identically.
func stripDefaultPort(u *url.URL) {
	host := u.Host
	port := u.Port()
	if port == "" {
		return
	}
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		u.Host = strings.TrimSuffix(host, ":"+port)
	}
}

// sortedEncode encodes values with keys (and, within a key, values) sorted,
// so that query-parameter order never affects the fingerprint.
func sortedEncode(values url.Values) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		vs := append([]string(nil), values[k]...)
		sort.Strings(vs)
		for _, v := range vs {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}
