package loader

import (
	"net/url"

	"github.com/rohmanhakim/media-pipeline/internal/fallback"
	"github.com/rohmanhakim/media-pipeline/internal/netmon"
)

// The primary candidate spends the configured attempt budget; fallback
// candidates load opportunistically with a single attempt each.
const fallbackRetryBudget = 1

// RenderTarget is the visible surface mutated when a load finishes.
// Detached targets are never touched: the scheduler drops cancelled
// requests before dispatch.
type RenderTarget interface {
	// SetSource points the target at the payload that was actually served.
	SetSource(source url.URL)
	// MarkLoaded flags the target for loaded-state styling/transitions.
	MarkLoaded()
	// MarkDegraded flags the target so callers can surface a retry
	// affordance distinct from a hard failure.
	MarkDegraded()
	// MarkFailed flags the target for the static unavailable affordance.
	MarkFailed()
}

// PolicySource yields the latest quality policy snapshot. The loader
// re-reads it at the top of every attempt.
type PolicySource interface {
	CurrentPolicy() netmon.QualityPolicy
}

// LoadRequest describes one media load.
type LoadRequest struct {
	ref      url.URL
	kind     fallback.Kind
	category string
	target   RenderTarget
}

func NewLoadRequest(ref url.URL, kind fallback.Kind, category string, target RenderTarget) LoadRequest {
	return LoadRequest{
		ref:      ref,
		kind:     kind,
		category: category,
		target:   target,
	}
}

func (r *LoadRequest) Ref() url.URL {
	return r.ref
}

func (r *LoadRequest) Kind() fallback.Kind {
	return r.kind
}

func (r *LoadRequest) Category() string {
	return r.category
}

// LoadedImage is the terminal success result of one load.
type LoadedImage struct {
	source      url.URL
	body        []byte
	contentType string
	candidate   int
	degraded    bool
}

func (i *LoadedImage) Source() url.URL {
	return i.source
}

func (i *LoadedImage) Body() []byte {
	return i.body
}

func (i *LoadedImage) ContentType() string {
	return i.contentType
}

// Candidate is the index in the fallback chain that was served; 0 is the
// primary variant.
func (i *LoadedImage) Candidate() int {
	return i.candidate
}

// Degraded reports whether anything other than the primary variant was
// served.
func (i *LoadedImage) Degraded() bool {
	return i.degraded
}

// NewLoadedImageForTest creates a LoadedImage for testing purposes.
// This allows test packages to construct LoadedImage values without
// accessing unexported fields directly.
func NewLoadedImageForTest(
	source url.URL,
	body []byte,
	contentType string,
	candidate int,
	degraded bool,
) LoadedImage {
	return LoadedImage{
		source:      source,
		body:        body,
		contentType: contentType,
		candidate:   candidate,
		degraded:    degraded,
	}
}

// fetchResult is the raw outcome of one HTTP attempt.
type fetchResult struct {
	body        []byte
	contentType string
	statusCode  int
}
