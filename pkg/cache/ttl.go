package cache

import (
	"strings"
	"time"
)

// TTLPolicy holds the default time-to-live per response category.
// All values come from configuration; these are the fallbacks.
type TTLPolicy struct {
	List       time.Duration
	Trending   time.Duration
	Statistics time.Duration
	Default    time.Duration
}

// DefaultTTLPolicy returns the built-in TTL defaults.
func DefaultTTLPolicy() TTLPolicy {
	return TTLPolicy{
		List:       5 * time.Minute,
		Trending:   15 * time.Minute,
		Statistics: time.Hour,
		Default:    5 * time.Minute,
	}
}

// For returns the TTL for a response category.
func (p TTLPolicy) For(category string) time.Duration {
	switch {
	case strings.HasPrefix(category, CategoryList):
		return p.List
	case strings.HasPrefix(category, CategoryTrending):
		return p.Trending
	case strings.HasPrefix(category, CategoryStatistics):
		return p.Statistics
	default:
		return p.Default
	}
}
