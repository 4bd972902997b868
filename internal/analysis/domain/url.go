package domain

import (
	"net"
	"net/url"
	"sort"
	"strings"
)

// NormalizeURL validates a submitted URL and returns the canonical form used as dedup key
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", NewValidationError("url", "is required")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", NewValidationError("url", "is not a valid URL")
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", NewValidationError("url", "scheme must be http or https")
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", NewValidationError("url", "host is required")
	}

	port := u.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		host = net.JoinHostPort(host, port)
	} else if strings.Contains(host, ":") {
		// IPv6 literal
		host = "[" + host + "]"
	}

	path := strings.TrimRight(u.EscapedPath(), "/")

	normalized := &url.URL{
		Scheme:   scheme,
		Host:     host,
		RawQuery: SortedQuery(u.Query()),
	}
	if path != "" {
		normalized.RawPath = path
		if unescaped, err := url.PathUnescape(path); err == nil {
			normalized.Path = unescaped
		}
	}

	return normalized.String(), nil
}

// SortedQuery encodes query values with keys and values in a stable order
func SortedQuery(values url.Values) string {
	if len(values) == 0 {
		return ""
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		vals := append([]string(nil), values[k]...)
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
	return b.String()
}
