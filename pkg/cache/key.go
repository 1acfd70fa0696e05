package cache

import (
	"fmt"
	"sort"
	"strings"
)

// keyPrefix namespaces every cache key in Redis.
const keyPrefix = "celebwire:cache:"

// Response categories. Each carries its own default TTL; invalidation on
// ingest clears everything under the "news" prefix, leaving "stats" intact.
const (
	CategoryList       = "news:list"
	CategoryTrending   = "news:trending"
	CategoryStatistics = "stats"
)

// PrefixNews covers every news category without touching stats.
const PrefixNews = "news"

// Key identifies a cached query response. The same query parameters always
// produce the same key string.
type Key struct {
	// Category is the response category (e.g. "news:list").
	Category string

	// Params are the query parameters that shape the response.
	Params map[string]string
}

// String generates a deterministic cache key string.
// Format: celebwire:cache:category:param1=val1:param2=val2
//
// Example:
//
//	celebwire:cache:news:list:entity=ada-vale:page=1
func (k Key) String() string {
	parts := []string{strings.Trim(k.Category, ":")}

	// Params sorted for determinism.
	if len(k.Params) > 0 {
		names := make([]string, 0, len(k.Params))
		for name := range k.Params {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			parts = append(parts, fmt.Sprintf("%s=%s", name, k.Params[name]))
		}
	}

	return keyPrefix + strings.Join(parts, ":")
}

// fullPrefix expands a caller-supplied prefix ("news", "news:list", or ""
// for everything) into the Redis key prefix it covers.
func fullPrefix(prefix string) string {
	return keyPrefix + strings.Trim(prefix, ":")
}
