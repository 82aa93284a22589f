package visibility

import (
	"net/url"

	"github.com/rohmanhakim/media-pipeline/internal/fallback"
	"github.com/rohmanhakim/media-pipeline/internal/loader"
)

// Extent is an axis-aligned bounding box in layout coordinates.
type Extent struct {
	Top    float64
	Left   float64
	Bottom float64
	Right  float64
}

// Intersects reports whether the two extents overlap. Touching edges do
// not count as overlap.
func (e Extent) Intersects(other Extent) bool {
	return e.Left < other.Right &&
		other.Left < e.Right &&
		e.Top < other.Bottom &&
		other.Top < e.Bottom
}

// Expand grows the extent by margin on every side.
func (e Extent) Expand(margin float64) Extent {
	return Extent{
		Top:    e.Top - margin,
		Left:   e.Left - margin,
		Bottom: e.Bottom + margin,
		Right:  e.Right + margin,
	}
}

// Relevance is how urgently a placeholder's media is needed.
type Relevance int

const (
	// RelevanceNone: outside the viewport and its preload margin.
	RelevanceNone Relevance = iota
	// RelevanceImminent: within the preload margin of the viewport.
	RelevanceImminent
	// RelevanceImmediate: intersecting the viewport.
	RelevanceImmediate
)

func (r Relevance) String() string {
	switch r {
	case RelevanceNone:
		return "none"
	case RelevanceImminent:
		return "imminent"
	case RelevanceImmediate:
		return "immediate"
	default:
		return "invalid"
	}
}

// Placeholder is one registered media slot awaiting its payload.
type Placeholder struct {
	ref      url.URL
	kind     fallback.Kind
	category string
	extent   Extent
	target   loader.RenderTarget
}

func NewPlaceholder(
	ref url.URL,
	kind fallback.Kind,
	category string,
	extent Extent,
	target loader.RenderTarget,
) Placeholder {
	return Placeholder{
		ref:      ref,
		kind:     kind,
		category: category,
		extent:   extent,
		target:   target,
	}
}

func (p *Placeholder) Ref() url.URL {
	return p.ref
}

func (p *Placeholder) Kind() fallback.Kind {
	return p.kind
}

func (p *Placeholder) Category() string {
	return p.category
}

func (p *Placeholder) Extent() Extent {
	return p.extent
}

func (p *Placeholder) Target() loader.RenderTarget {
	return p.target
}

// trackedPlaceholder carries the last relevance the tracker announced,
// so each transition fires exactly once.
type trackedPlaceholder struct {
	placeholder Placeholder
	relevance   Relevance
}
