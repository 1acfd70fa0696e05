package store

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// trackingParams are query parameters stripped before computing the
// identity key. The same article shared through different channels
// carries different tracking parameters but is still the same article.
var trackingParams = map[string]bool{
	"fbclid":  true,
	"gclid":   true,
	"mc_cid":  true,
	"mc_eid":  true,
	"ref":     true,
	"referer": true,
}

// NormalizeURL canonicalizes an article URL so that trivially different
// forms of the same link normalize to the same string. Scheme and host
// are lowercased, the fragment is dropped, tracking parameters are
// removed, remaining query parameters are sorted, and a trailing slash
// on the path is stripped.
func NormalizeURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parsing url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q missing scheme or host", raw)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	q := u.Query()
	for param := range q {
		if trackingParams[param] || strings.HasPrefix(param, "utm_") {
			q.Del(param)
		}
	}
	u.RawQuery = q.Encode() // Encode sorts keys

	if len(u.Path) > 1 {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}

	return u.String(), nil
}

// IdentityKey derives the deduplication key for an article URL.
func IdentityKey(rawURL string) (string, error) {
	normalized, err := NormalizeURL(rawURL)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%016x", xxhash.Sum64String(normalized)), nil
}
