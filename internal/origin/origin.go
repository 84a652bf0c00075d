// Package origin implements the browser Origin checks shared by the HTTP API
// and the signaling WebSocket upgrade.
package origin

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Normalize validates a browser Origin header value.
//
// It returns the canonical origin (scheme://host[:port], lowercase, default
// port elided) and its host[:port] part. The opaque origin "null" is accepted
// and has no host.
func Normalize(header string) (normalized, host string, ok bool) {
	trimmed := strings.TrimSpace(header)
	if trimmed == "" {
		return "", "", false
	}
	if trimmed == "null" {
		return "null", "", true
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Host == "" || u.User != nil || u.RawQuery != "" || u.Fragment != "" {
		return "", "", false
	}
	if u.Path != "" && u.Path != "/" {
		return "", "", false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", "", false
	}
	host, ok = canonicalHost(u.Host, scheme)
	if !ok {
		return "", "", false
	}
	return scheme + "://" + host, host, true
}

// Policy decides which browser origins may call the service.
//
// An empty allowlist means same-host only. "*" allows every origin.
type Policy struct {
	any     bool
	allowed map[string]struct{}
}

// NewPolicy builds a Policy from allowlist entries, normalizing each.
func NewPolicy(entries []string) (Policy, error) {
	p := Policy{allowed: make(map[string]struct{}, len(entries))}
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		switch entry {
		case "":
			continue
		case "*":
			p.any = true
			continue
		}
		normalized, _, ok := Normalize(entry)
		if !ok {
			return Policy{}, fmt.Errorf("invalid origin %q (expected full origin like https://example.com)", entry)
		}
		p.allowed[normalized] = struct{}{}
	}
	return p, nil
}

// AllowsAny reports whether the policy contains the "*" wildcard.
func (p Policy) AllowsAny() bool { return p.any }

// Check validates header against the policy for a request addressed to
// requestHost. It returns the normalized origin on success.
func (p Policy) Check(header, requestHost string) (string, bool) {
	normalized, host, ok := Normalize(header)
	if !ok {
		return "", false
	}
	if p.any {
		return normalized, true
	}
	if len(p.allowed) > 0 {
		_, ok := p.allowed[normalized]
		return normalized, ok
	}

	// Scheme is not compared: TLS is commonly terminated in front of us, so the
	// request arrives as http while the page origin is https.
	scheme, _, found := strings.Cut(normalized, "://")
	if !found {
		return "", false
	}
	reqHost, ok := canonicalHost(strings.ToLower(strings.TrimSpace(requestHost)), scheme)
	if !ok {
		return "", false
	}
	return normalized, host == reqHost
}

func canonicalHost(authority, scheme string) (string, bool) {
	hostname, rawPort, ok := splitHostPort(authority)
	if !ok {
		return "", false
	}
	hostname = strings.ToLower(hostname)
	if hostname == "" {
		return "", false
	}

	var port uint64
	if rawPort != "" {
		n, err := strconv.ParseUint(rawPort, 10, 16)
		if err != nil || n == 0 {
			return "", false
		}
		port = n
	}
	if (scheme == "http" && port == 80) || (scheme == "https" && port == 443) {
		port = 0
	}

	host := hostname
	if strings.Contains(hostname, ":") {
		host = "[" + hostname + "]"
	}
	if port != 0 {
		host += ":" + strconv.FormatUint(port, 10)
	}
	return host, true
}

// splitHostPort splits host[:port]. IPv6 literals must be bracketed and are
// returned without brackets.
func splitHostPort(authority string) (hostname, port string, ok bool) {
	if authority == "" {
		return "", "", false
	}
	if strings.HasPrefix(authority, "[") {
		end := strings.IndexByte(authority, ']')
		if end < 0 {
			return "", "", false
		}
		hostname, rest := authority[1:end], authority[end+1:]
		if rest == "" {
			return hostname, "", true
		}
		if !strings.HasPrefix(rest, ":") || len(rest) == 1 {
			return "", "", false
		}
		return hostname, rest[1:], true
	}
	switch strings.Count(authority, ":") {
	case 0:
		return authority, "", true
	case 1:
		hostname, port, _ = strings.Cut(authority, ":")
		if hostname == "" || port == "" {
			return "", "", false
		}
		return hostname, port, true
	default:
		return "", "", false
	}
}
