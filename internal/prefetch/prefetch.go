package prefetch

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/rohmanhakim/media-pipeline/internal/cacherouter"
	"github.com/rohmanhakim/media-pipeline/internal/cachestore"
	"github.com/rohmanhakim/media-pipeline/internal/eviction"
	"github.com/rohmanhakim/media-pipeline/internal/loader"
	"github.com/rohmanhakim/media-pipeline/internal/scheduler"
	"github.com/rohmanhakim/media-pipeline/internal/telemetry"
	"github.com/rohmanhakim/media-pipeline/internal/visibility"
	"github.com/rohmanhakim/media-pipeline/pkg/urlutil"
)

/*
Prefetcher Responsibilities

- Translate placeholder relevance into scheduler admissions: imminent
  placeholders enqueue at preload priority, immediate ones at normal
- Persist every finished load into the cache tier the relay would read
  for that URL, so it is served without another network round trip
- Stay out of load decisions; admission and pacing belong to the
  scheduler and the quality policy

Callers may still enqueue at critical priority directly through
Scheduler() for above-the-fold media that must not wait for a
visibility signal.
*/

type Prefetcher struct {
	tracker    *visibility.Tracker
	requests   *scheduler.RequestScheduler
	classifier cacherouter.Classifier
	store      *cachestore.Store
	evictor    *eviction.Manager
	sink       telemetry.EventSink
}

func NewPrefetcher(
	baseCtx context.Context,
	policies loader.PolicySource,
	loads loader.Loader,
	classifier cacherouter.Classifier,
	store *cachestore.Store,
	evictor *eviction.Manager,
	sink telemetry.EventSink,
	margin float64,
) *Prefetcher {
	p := &Prefetcher{
		classifier: classifier,
		store:      store,
		evictor:    evictor,
		sink:       sink,
	}
	p.requests = scheduler.NewRequestScheduler(baseCtx, policies, loads)
	p.tracker = visibility.NewTracker(margin, p.onRelevance)
	return p
}

// Register starts tracking a placeholder. If it is already relevant for
// the current viewport, the load is admitted immediately.
func (p *Prefetcher) Register(placeholder visibility.Placeholder) {
	p.tracker.Register(placeholder)
}

// Unregister stops tracking the placeholder. In-flight loads for it are
// not cancelled here; callers holding the handle decide that.
func (p *Prefetcher) Unregister(ref url.URL) {
	p.tracker.Unregister(ref)
}

// SetViewport feeds the latest viewport extent to the tracker.
func (p *Prefetcher) SetViewport(viewport visibility.Extent) {
	p.tracker.SetViewport(viewport)
}

// Scheduler exposes the underlying request scheduler for direct
// critical-priority admissions.
func (p *Prefetcher) Scheduler() *scheduler.RequestScheduler {
	return p.requests
}

func (p *Prefetcher) onRelevance(placeholder visibility.Placeholder, relevance visibility.Relevance) {
	priority := scheduler.PriorityPreload
	if relevance == visibility.RelevanceImmediate {
		priority = scheduler.PriorityNormal
	}

	handle := p.requests.Enqueue(
		placeholder.Ref(),
		placeholder.Kind(),
		placeholder.Category(),
		priority,
		placeholder.Target(),
	)
	go p.persist(handle)
}

// persist writes a finished load into the cache tier the relay reads
// for the ref, image or remote-media depending on the host.
// Re-announcements dedup onto the same handle, so a second persist pass
// overwrites the entry with identical content.
func (p *Prefetcher) persist(handle *scheduler.LoadHandle) {
	<-handle.Done()

	image, err := handle.Result()
	if err != nil {
		// the loader already recorded the terminal failure
		return
	}

	canonical := urlutil.Canonicalize(handle.Ref())
	key := canonical.String()
	route := p.classifier.Classify(handle.Ref())
	tier := route.Cache()
	entry := cachestore.Entry{
		Key:         key,
		CachedAt:    time.Now(),
		Status:      http.StatusOK,
		ContentType: image.ContentType(),
		Headers:     map[string]string{"Content-Type": image.ContentType()},
		Body:        image.Body(),
	}

	if sErr := p.store.Put(tier, key, entry); sErr != nil {
		p.sink.RecordError(
			time.Now(),
			"prefetch",
			"Prefetcher.persist",
			telemetry.CauseStorageFailure,
			sErr.Error(),
			[]telemetry.Attribute{
				telemetry.NewAttr(telemetry.AttrURL, key),
				telemetry.NewAttr(telemetry.AttrCache, string(tier)),
			},
		)
		return
	}
	p.evictor.AfterWrite(tier)
}
