// Package redirect decides where a client may be sent after authentication.
//
// Every return URL supplied by a client passes through Validate before it is
// used in a Location header. The allow-list is the only authority over where
// a freshly minted credential can be delivered.
package redirect

import (
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// Default is returned whenever a candidate is rejected.
const Default = "/"

// Allowlist is a parsed set of permitted origins and custom schemes.
// It is immutable after NewAllowlist returns.
type Allowlist struct {
	origins map[string]struct{}
	schemes map[string]struct{}
}

// NewAllowlist parses entries such as "https://app.example.org" or
// "https://localhost:8100" (HTTP origins) and "fieldapp:" (an exact custom
// scheme). Malformed entries are skipped with a warning.
func NewAllowlist(entries []string, logger *zap.Logger) Allowlist {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := Allowlist{
		origins: make(map[string]struct{}),
		schemes: make(map[string]struct{}),
	}
	for _, raw := range entries {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}

		// bare custom scheme, e.g. "fieldapp:" or "fieldapp://"
		if s, ok := bareScheme(entry); ok {
			if s == "http" || s == "https" {
				logger.Warn("redirect: allow-list entry has no host, skipping", zap.String("entry", entry))
				continue
			}
			a.schemes[s] = struct{}{}
			continue
		}

		u, err := url.Parse(entry)
		if err != nil || u.Scheme == "" || u.Host == "" {
			logger.Warn("redirect: malformed allow-list entry, skipping", zap.String("entry", entry))
			continue
		}
		scheme := strings.ToLower(u.Scheme)
		if scheme != "http" && scheme != "https" {
			// custom scheme with a host part: the scheme alone is the grant
			a.schemes[scheme] = struct{}{}
			continue
		}
		a.origins[origin(u)] = struct{}{}
	}
	return a
}

// Len returns the number of accepted entries.
func (a Allowlist) Len() int { return len(a.origins) + len(a.schemes) }

// Validate returns candidate unchanged when it is an absolute URL whose origin
// exactly matches an allow-listed origin, or whose custom scheme is listed.
// Anything else, including a candidate with surrounding whitespace, yields
// Default.
func Validate(candidate string, allow Allowlist) string {
	if candidate == "" || strings.TrimSpace(candidate) != candidate {
		return Default
	}
	u, err := url.Parse(candidate)
	if err != nil || !u.IsAbs() {
		return Default
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme == "http" || scheme == "https" {
		if u.Host == "" {
			return Default
		}
		if _, ok := allow.origins[origin(u)]; ok {
			return candidate
		}
		return Default
	}
	if _, ok := allow.schemes[scheme]; ok {
		return candidate
	}
	return Default
}

// origin renders scheme://host:port with the default port made explicit.
func origin(u *url.URL) string {
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if port == "" {
		switch scheme {
		case "http":
			port = "80"
		case "https":
			port = "443"
		}
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return scheme + "://" + host + ":" + port
}

func bareScheme(entry string) (string, bool) {
	s := strings.TrimSuffix(strings.TrimSuffix(entry, "//"), ":")
	if s == entry || s == "" {
		return "", false
	}
	if strings.TrimSuffix(entry, "://") != s && strings.TrimSuffix(entry, ":") != s {
		return "", false
	}
	for i, r := range s {
		isAlpha := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
		if isAlpha || (i > 0 && ((r >= '0' && r <= '9') || r == '+' || r == '-' || r == '.')) {
			continue
		}
		return "", false
	}
	return strings.ToLower(s), true
}
