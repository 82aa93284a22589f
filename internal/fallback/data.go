package fallback

import (
	"net/url"
)

// Kind identifies the media family a resource belongs to. Each kind has
// its own placeholder artwork and therefore its own fallback chain.
type Kind int

const (
	KindCourse Kind = iota
	KindUser
	KindVideo
)

func (k Kind) String() string {
	switch k {
	case KindCourse:
		return "course"
	case KindUser:
		return "user"
	case KindVideo:
		return "video"
	default:
		return "unknown"
	}
}

// ParseKind maps a kind label to its enumeration value.
// Unrecognized labels report ok=false; callers decide the default.
func ParseKind(label string) (Kind, bool) {
	switch label {
	case "course":
		return KindCourse, true
	case "user":
		return KindUser, true
	case "video":
		return KindVideo, true
	default:
		return KindCourse, false
	}
}

// Candidate is one source in a fallback chain.
type Candidate struct {
	source            url.URL
	qualityAdjustable bool
	placeholder       bool
}

func (c Candidate) Source() url.URL {
	return c.source
}

// QualityAdjustable reports whether the loader may append a quality hint
// to this candidate. Only the primary variant is adjustable; degraded
// variants and placeholders are served as-is.
func (c Candidate) QualityAdjustable() bool {
	return c.qualityAdjustable
}

// Placeholder reports whether this candidate is static placeholder
// artwork rather than a real variant of the resource.
func (c Candidate) Placeholder() bool {
	return c.placeholder
}

// Chain is the ordered, immutable list of candidate sources tried for one
// media kind after primary failure. It is a static lookup result, not a
// live entity.
type Chain struct {
	kind       Kind
	candidates []Candidate
}

func (c Chain) Kind() Kind {
	return c.kind
}

func (c Chain) Candidates() []Candidate {
	out := make([]Candidate, len(c.candidates))
	copy(out, c.candidates)
	return out
}

func (c Chain) Len() int {
	return len(c.candidates)
}
