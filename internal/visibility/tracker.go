package visibility

import (
	"net/url"
	"sync"

	"github.com/rohmanhakim/media-pipeline/pkg/urlutil"
)

/*
Tracker Responsibilities

- Bookkeep registered placeholders and their extents
- Re-evaluate relevance whenever the viewport moves
- Announce imminent (within margin) and immediate (intersecting)
  transitions exactly once each
- Re-announce after a placeholder leaves and re-enters

The tracker never loads anything and never talks to the scheduler; the
composition layer maps its announcements to enqueue priorities.
*/

type Tracker struct {
	mu           sync.Mutex
	margin       float64
	viewport     Extent
	placeholders map[string]*trackedPlaceholder
	onRelevance  func(Placeholder, Relevance)
}

// NewTracker creates a tracker with the given preload margin. The
// callback fires for every upward relevance transition.
func NewTracker(margin float64, onRelevance func(Placeholder, Relevance)) *Tracker {
	return &Tracker{
		margin:       margin,
		placeholders: make(map[string]*trackedPlaceholder),
		onRelevance:  onRelevance,
	}
}

// Register starts tracking a placeholder. Registering the same resource
// again replaces the previous entry and re-evaluates it. Relevance is
// evaluated against the current viewport immediately, so a placeholder
// registered inside the viewport announces without waiting for a move.
func (t *Tracker) Register(placeholder Placeholder) {
	key := trackingKey(placeholder.ref)

	t.mu.Lock()
	tracked := &trackedPlaceholder{placeholder: placeholder, relevance: RelevanceNone}
	t.placeholders[key] = tracked
	announcements := t.evaluateLocked(tracked)
	t.mu.Unlock()

	t.announce(announcements)
}

// Unregister stops tracking the resource. Unknown refs are a no-op.
func (t *Tracker) Unregister(ref url.URL) {
	t.mu.Lock()
	delete(t.placeholders, trackingKey(ref))
	t.mu.Unlock()
}

// SetViewport moves the viewport and re-evaluates every placeholder.
func (t *Tracker) SetViewport(viewport Extent) {
	t.mu.Lock()
	t.viewport = viewport

	var announcements []announcement
	for _, tracked := range t.placeholders {
		announcements = append(announcements, t.evaluateLocked(tracked)...)
	}
	t.mu.Unlock()

	t.announce(announcements)
}

// TrackedForTest reports how many placeholders are registered.
func (t *Tracker) TrackedForTest() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.placeholders)
}

type announcement struct {
	placeholder Placeholder
	relevance   Relevance
}

// evaluateLocked recomputes one placeholder's relevance and returns the
// transitions to announce. Caller must hold t.mu.
func (t *Tracker) evaluateLocked(tracked *trackedPlaceholder) []announcement {
	current := t.relevanceLocked(tracked.placeholder.extent)
	previous := tracked.relevance
	tracked.relevance = current

	// leaving is silent; it only re-arms the announcements. A jump
	// straight from none to immediate announces immediate alone, so the
	// consumer's enqueue lands at the right priority the first time.
	if current <= previous {
		return nil
	}

	return []announcement{{tracked.placeholder, current}}
}

func (t *Tracker) relevanceLocked(extent Extent) Relevance {
	if extent.Intersects(t.viewport) {
		return RelevanceImmediate
	}
	if extent.Intersects(t.viewport.Expand(t.margin)) {
		return RelevanceImminent
	}
	return RelevanceNone
}

// announce runs the callback outside the lock so handlers may call back
// into the tracker.
func (t *Tracker) announce(announcements []announcement) {
	if t.onRelevance == nil {
		return
	}
	for _, a := range announcements {
		t.onRelevance(a.placeholder, a.relevance)
	}
}

func trackingKey(ref url.URL) string {
	canonical := urlutil.Canonicalize(ref)
	return canonical.String()
}
