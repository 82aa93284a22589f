package cacherouter

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rohmanhakim/media-pipeline/internal/cachestore"
	"github.com/rohmanhakim/media-pipeline/internal/eviction"
	"github.com/rohmanhakim/media-pipeline/internal/fallback"
	"github.com/rohmanhakim/media-pipeline/internal/telemetry"
	"github.com/rohmanhakim/media-pipeline/pkg/failure"
	"github.com/rohmanhakim/media-pipeline/pkg/urlutil"
)

/*
Router Responsibilities

- Classify each intercepted request once and dispatch it to exactly one
  strategy: image | network-first | cache-first | stale-while-revalidate
- Populate the tier the route names and run the eviction hook after
  every cache write
- Serve the offline fallback document when a navigation request cannot
  reach the network and has no cached copy
- Never hard-404 a recognized image path: stale entry, then placeholder

Cache failures are policy errors: they are recorded and the response is
served from the network as if no cache existed.
*/

// hop-by-hop headers are never cached or replayed
var hopHeaders = map[string]struct{}{
	"Connection": {}, "Keep-Alive": {}, "Transfer-Encoding": {},
	"Upgrade": {}, "Proxy-Authenticate": {}, "Proxy-Authorization": {},
	"Te": {}, "Trailer": {},
}

type Router struct {
	origin     url.URL
	classifier Classifier
	store      *cachestore.Store
	evictor    *eviction.Manager
	sink       telemetry.EventSink
	httpClient *http.Client
	maxAges    map[cachestore.CacheName]time.Duration
	offlineDoc []byte
}

func NewRouter(
	origin url.URL,
	classifier Classifier,
	store *cachestore.Store,
	evictor *eviction.Manager,
	sink telemetry.EventSink,
	maxAges map[cachestore.CacheName]time.Duration,
	offlineDoc []byte,
) *Router {
	return &Router{
		origin:     origin,
		classifier: classifier,
		store:      store,
		evictor:    evictor,
		sink:       sink,
		httpClient: &http.Client{},
		maxAges:    maxAges,
		offlineDoc: offlineDoc,
	}
}

// SetUpstreamTimeout bounds every origin fetch. Zero leaves fetches
// unbounded aside from the caller's request context.
func (rt *Router) SetUpstreamTimeout(timeout time.Duration) {
	rt.httpClient.Timeout = timeout
}

func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		rt.passthrough(w, r)
		return
	}

	upstream := rt.resolveUpstream(r)
	key := cacheKey(upstream)
	route := rt.classifier.Classify(upstream)

	switch route.Strategy() {
	case StrategyImage:
		rt.serveImage(w, r, upstream, key, route.Cache())
	case StrategyNetworkFirst:
		rt.serveNetworkFirst(w, r, upstream, key, route.Cache())
	case StrategyCacheFirst:
		rt.serveCacheFirst(w, r, upstream, key, route.Cache())
	default:
		rt.serveStaleWhileRevalidate(w, r, upstream, key, route.Cache())
	}
}

// resolveUpstream rewrites the intercepted request onto the origin,
// except when the request targets a recognized media host directly.
func (rt *Router) resolveUpstream(r *http.Request) url.URL {
	upstream := url.URL{
		Scheme:   rt.origin.Scheme,
		Host:     rt.origin.Host,
		Path:     r.URL.Path,
		RawQuery: r.URL.RawQuery,
	}
	if rt.classifier.isMediaHost(r.Host) {
		upstream.Host = r.Host
	}
	return upstream
}

func cacheKey(upstream url.URL) string {
	canonical := urlutil.Canonicalize(upstream)
	return canonical.String()
}

// --- strategies ---

func (rt *Router) serveNetworkFirst(w http.ResponseWriter, r *http.Request, upstream url.URL, key string, cache cachestore.CacheName) {
	entry, err := rt.fetch(r.Context(), upstream)
	if err == nil {
		if entry.Status >= 200 && entry.Status < 300 {
			rt.cacheWrite(cache, key, entry)
		}
		serveEntry(w, entry, "MISS")
		return
	}

	if cached, found := rt.cacheRead(cache, key); found {
		serveEntry(w, cached, "STALE")
		return
	}

	if isNavigation(r) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("X-Cache", "OFFLINE")
		w.WriteHeader(http.StatusOK)
		w.Write(rt.offlineDoc)
		return
	}

	rt.upstreamError(w, upstream, err)
}

func (rt *Router) serveCacheFirst(w http.ResponseWriter, r *http.Request, upstream url.URL, key string, cache cachestore.CacheName) {
	if cached, found := rt.cacheRead(cache, key); found {
		serveEntry(w, cached, "HIT")
		return
	}

	entry, err := rt.fetch(r.Context(), upstream)
	if err != nil {
		rt.upstreamError(w, upstream, err)
		return
	}
	if entry.Status >= 200 && entry.Status < 300 {
		rt.cacheWrite(cache, key, entry)
	}
	serveEntry(w, entry, "MISS")
}

func (rt *Router) serveStaleWhileRevalidate(w http.ResponseWriter, r *http.Request, upstream url.URL, key string, cache cachestore.CacheName) {
	if cached, found := rt.cacheRead(cache, key); found {
		serveEntry(w, cached, "HIT")

		// refresh behind the response; the request context is gone by
		// the time this runs
		go rt.revalidate(upstream, key, cache)
		return
	}

	entry, err := rt.fetch(r.Context(), upstream)
	if err != nil {
		rt.upstreamError(w, upstream, err)
		return
	}
	if entry.Status >= 200 && entry.Status < 300 {
		rt.cacheWrite(cache, key, entry)
	}
	serveEntry(w, entry, "MISS")
}

func (rt *Router) revalidate(upstream url.URL, key string, cache cachestore.CacheName) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	entry, err := rt.fetch(ctx, upstream)
	if err != nil || entry.Status < 200 || entry.Status >= 300 {
		return
	}
	rt.cacheWrite(cache, key, entry)
}

func (rt *Router) serveImage(w http.ResponseWriter, r *http.Request, upstream url.URL, key string, cache cachestore.CacheName) {
	maxAge := rt.maxAges[cache]
	cached, found := rt.cacheRead(cache, key)

	if found && cached.Fresh(time.Now(), maxAge) {
		serveEntry(w, cached, "HIT")
		return
	}

	entry, err := rt.fetch(r.Context(), upstream)
	if err == nil && entry.Status >= 200 && entry.Status < 300 {
		rt.cacheWrite(cache, key, entry)
		serveEntry(w, entry, "MISS")
		return
	}

	// the network said no; a stale copy beats a placeholder
	if found {
		serveEntry(w, cached, "STALE")
		return
	}

	rt.servePlaceholder(w, upstream)
}

// servePlaceholder resolves the kind-appropriate placeholder for a
// recognized image path. Image routes never hard-404.
func (rt *Router) servePlaceholder(w http.ResponseWriter, upstream url.URL) {
	kind := kindForPath(upstream.Path)
	placeholderRef := fallback.PlaceholderFor(rt.origin, kind, "")

	if cached, found := rt.cacheRead(cachestore.CacheStatic, cacheKey(placeholderRef)); found {
		serveEntry(w, cached, "PLACEHOLDER")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("X-Cache", "PLACEHOLDER")
	w.WriteHeader(http.StatusOK)
	w.Write(fallback.PlaceholderPayload())
}

// WarmPlaceholders seeds every placeholder asset into the static cache
// so placeholders resolve without the network from the first request.
func (rt *Router) WarmPlaceholders() failure.ClassifiedError {
	now := time.Now()
	for _, assetPath := range fallback.PlaceholderPaths() {
		ref := rt.origin
		ref.Path = assetPath
		key := cacheKey(ref)

		if _, found, _ := rt.store.Get(cachestore.CacheStatic, key); found {
			continue
		}

		entry := cachestore.Entry{
			CachedAt:    now,
			Status:      http.StatusOK,
			ContentType: "image/png",
			Body:        fallback.PlaceholderPayload(),
		}
		if err := rt.store.Put(cachestore.CacheStatic, key, entry); err != nil {
			return err
		}
		if err := rt.evictor.AfterWrite(cachestore.CacheStatic); err != nil {
			return err
		}
	}
	return nil
}

// --- plumbing ---

// fetch performs one upstream GET and snapshots the response.
func (rt *Router) fetch(ctx context.Context, upstream url.URL) (cachestore.Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, upstream.String(), nil)
	if err != nil {
		return cachestore.Entry{}, err
	}

	startTime := time.Now()
	resp, err := rt.httpClient.Do(req)
	if err != nil {
		rt.sink.RecordFetch(upstream.String(), 0, time.Since(startTime), "", 0)
		return cachestore.Entry{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return cachestore.Entry{}, err
	}

	contentType := resp.Header.Get("Content-Type")
	rt.sink.RecordFetch(upstream.String(), resp.StatusCode, time.Since(startTime), contentType, 0)

	headers := make(map[string]string)
	for name, values := range resp.Header {
		if _, hop := hopHeaders[name]; hop || len(values) == 0 {
			continue
		}
		headers[name] = values[0]
	}

	return cachestore.Entry{
		CachedAt:    time.Now(),
		Status:      resp.StatusCode,
		ContentType: contentType,
		Headers:     headers,
		Body:        body,
	}, nil
}

// cacheRead reads an entry, downgrading storage failures to a miss.
func (rt *Router) cacheRead(cache cachestore.CacheName, key string) (cachestore.Entry, bool) {
	entry, found, err := rt.store.Get(cache, key)
	if err != nil {
		rt.recordStorageFailure("Router.cacheRead", cache, key, err)
		return cachestore.Entry{}, false
	}
	return entry, found
}

// cacheWrite stores an entry and runs the eviction hook. Failures are
// recorded and swallowed; the response is already in hand.
func (rt *Router) cacheWrite(cache cachestore.CacheName, key string, entry cachestore.Entry) {
	if err := rt.store.Put(cache, key, entry); err != nil {
		rt.recordStorageFailure("Router.cacheWrite", cache, key, err)
		return
	}
	if err := rt.evictor.AfterWrite(cache); err != nil {
		rt.recordStorageFailure("Router.cacheWrite", cache, key, err)
	}
}

func (rt *Router) recordStorageFailure(action string, cache cachestore.CacheName, key string, err failure.ClassifiedError) {
	rt.sink.RecordError(
		time.Now(),
		"cacherouter",
		action,
		telemetry.CauseStorageFailure,
		err.Error(),
		[]telemetry.Attribute{
			telemetry.NewAttr(telemetry.AttrCache, string(cache)),
			telemetry.NewAttr(telemetry.AttrURL, key),
		},
	)
}

func (rt *Router) upstreamError(w http.ResponseWriter, upstream url.URL, err error) {
	rt.sink.RecordError(
		time.Now(),
		"cacherouter",
		"Router.fetch",
		telemetry.CauseNetworkFailure,
		err.Error(),
		[]telemetry.Attribute{
			telemetry.NewAttr(telemetry.AttrURL, upstream.String()),
		},
	)
	http.Error(w, fmt.Sprintf("upstream unreachable: %s", upstream.Host), http.StatusBadGateway)
}

// passthrough proxies non-GET methods straight to the origin.
func (rt *Router) passthrough(w http.ResponseWriter, r *http.Request) {
	upstream := rt.resolveUpstream(r)

	req, err := http.NewRequestWithContext(r.Context(), r.Method, upstream.String(), r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	req.Header = r.Header.Clone()

	resp, err := rt.httpClient.Do(req)
	if err != nil {
		rt.upstreamError(w, upstream, err)
		return
	}
	defer resp.Body.Close()

	for name, values := range resp.Header {
		if _, hop := hopHeaders[name]; hop {
			continue
		}
		for _, value := range values {
			w.Header().Add(name, value)
		}
	}
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}

func serveEntry(w http.ResponseWriter, entry cachestore.Entry, cacheStatus string) {
	for name, value := range entry.Headers {
		if name == "Content-Type" || name == "Content-Length" {
			continue
		}
		w.Header().Set(name, value)
	}
	if entry.ContentType != "" {
		w.Header().Set("Content-Type", entry.ContentType)
	}
	w.Header().Set("X-Cache", cacheStatus)
	w.WriteHeader(entry.Status)
	w.Write(entry.Body)
}

// isNavigation recognizes document requests by their Accept header.
func isNavigation(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}
