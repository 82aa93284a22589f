package cachestore

import (
	"time"
)

// CacheName identifies one cache tier. The set is closed; an unknown
// name is an error, never a silently created bucket.
type CacheName string

const (
	// CacheStatic: application shell assets, warmed at startup.
	CacheStatic CacheName = "static"
	// CacheDynamic: API responses served stale-while-revalidate.
	CacheDynamic CacheName = "dynamic"
	// CacheImage: same-origin image responses.
	CacheImage CacheName = "image"
	// CacheRemoteMedia: responses fetched from remote media hosts.
	CacheRemoteMedia CacheName = "remote-media"
)

// AllCaches is the full tier set, in the order buckets are created.
var AllCaches = []CacheName{CacheStatic, CacheDynamic, CacheImage, CacheRemoteMedia}

// Entry is one cached response. Keys are canonicalized URLs; CachedAt
// orders eviction and drives freshness checks.
type Entry struct {
	Key         string            `json:"key"`
	CachedAt    time.Time         `json:"cached_at"`
	Status      int               `json:"status"`
	ContentType string            `json:"content_type"`
	Headers     map[string]string `json:"headers"`
	Body        []byte            `json:"body"`
}

// Age reports how long ago the entry was written.
func (e Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.CachedAt)
}

// Fresh reports whether the entry is younger than maxAge.
func (e Entry) Fresh(now time.Time, maxAge time.Duration) bool {
	return e.Age(now) < maxAge
}
