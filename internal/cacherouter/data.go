package cacherouter

import (
	"net/url"
	"path"
	"strings"

	"github.com/rohmanhakim/media-pipeline/internal/cachestore"
	"github.com/rohmanhakim/media-pipeline/internal/fallback"
)

// Strategy is the caching behavior applied to one request.
type Strategy int

const (
	// StrategyImage: freshness-checked image serving with placeholder
	// fallback; recognized image paths never hard-404.
	StrategyImage Strategy = iota
	// StrategyNetworkFirst: live data; cache is the offline backstop.
	StrategyNetworkFirst
	// StrategyCacheFirst: immutable or near-immutable content.
	StrategyCacheFirst
	// StrategyStaleWhileRevalidate: serve what we have, refresh behind.
	StrategyStaleWhileRevalidate
)

func (s Strategy) String() string {
	switch s {
	case StrategyImage:
		return "image"
	case StrategyNetworkFirst:
		return "network-first"
	case StrategyCacheFirst:
		return "cache-first"
	case StrategyStaleWhileRevalidate:
		return "stale-while-revalidate"
	default:
		return "invalid"
	}
}

// Route pairs a strategy with the cache tier it reads and writes.
type Route struct {
	strategy Strategy
	cache    cachestore.CacheName
}

func (r Route) Strategy() Strategy {
	return r.strategy
}

func (r Route) Cache() cachestore.CacheName {
	return r.cache
}

// imageExtensions recognizes media-asset paths by suffix.
var imageExtensions = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {},
	".webp": {}, ".avif": {}, ".svg": {},
}

// staticExtensions recognizes shell assets served cache-first.
var staticExtensions = map[string]struct{}{
	".css": {}, ".js": {}, ".woff": {}, ".woff2": {},
	".ttf": {}, ".ico": {}, ".map": {},
}

// Classifier buckets request URLs into exactly one route. Classification
// happens once at interception; strategies never re-classify.
type Classifier struct {
	mediaHosts     []string
	writePrefixes  []string
	stablePrefixes []string
}

func NewClassifier(mediaHosts, writePrefixes, stablePrefixes []string) Classifier {
	return Classifier{
		mediaHosts:     mediaHosts,
		writePrefixes:  writePrefixes,
		stablePrefixes: stablePrefixes,
	}
}

// Classify evaluates the rules in fixed order: media asset, write/auth
// prefix, stable content prefix, static asset extension, then the
// stale-while-revalidate default.
func (c *Classifier) Classify(requestUrl url.URL) Route {
	ext := strings.ToLower(path.Ext(requestUrl.Path))

	if _, isImage := imageExtensions[ext]; isImage || c.isMediaHost(requestUrl.Host) {
		tier := cachestore.CacheImage
		if c.isMediaHost(requestUrl.Host) {
			tier = cachestore.CacheRemoteMedia
		}
		return Route{strategy: StrategyImage, cache: tier}
	}

	for _, prefix := range c.writePrefixes {
		if strings.HasPrefix(requestUrl.Path, prefix) {
			return Route{strategy: StrategyNetworkFirst, cache: cachestore.CacheDynamic}
		}
	}

	for _, prefix := range c.stablePrefixes {
		if strings.HasPrefix(requestUrl.Path, prefix) {
			return Route{strategy: StrategyCacheFirst, cache: cachestore.CacheDynamic}
		}
	}

	if _, isStatic := staticExtensions[ext]; isStatic {
		return Route{strategy: StrategyCacheFirst, cache: cachestore.CacheStatic}
	}

	return Route{strategy: StrategyStaleWhileRevalidate, cache: cachestore.CacheDynamic}
}

func (c *Classifier) isMediaHost(host string) bool {
	hostname := host
	if i := strings.LastIndex(host, ":"); i >= 0 {
		hostname = host[:i]
	}
	for _, pattern := range c.mediaHosts {
		if host == pattern || hostname == pattern || strings.HasSuffix(hostname, "."+pattern) {
			return true
		}
	}
	return false
}

// kindForPath infers the media kind from the URL shape so the image
// handler can pick the right placeholder.
func kindForPath(requestPath string) fallback.Kind {
	switch {
	case strings.Contains(requestPath, "/users/") || strings.Contains(requestPath, "/avatars/"):
		return fallback.KindUser
	case strings.Contains(requestPath, "/videos/"):
		return fallback.KindVideo
	default:
		return fallback.KindCourse
	}
}
