package fallback

import (
	"net/url"

	"github.com/rohmanhakim/media-pipeline/pkg/urlutil"
)

/*
Responsibilities

- Resolve the ordered candidate list for one resource:
  primary variant → degraded variant → category placeholder → generic placeholder
- Resolve placeholder artwork by static lookup, per media kind plus
  category-specific course variants

The chain is immutable per kind. Placeholders are plain asset paths on the
application origin; once cached they are never fetched from the network
again (the static cache is warmed at startup).
*/

const placeholderRoot = "/assets/placeholders/"

// placeholder filenames per media kind
var kindPlaceholders = map[Kind]string{
	KindCourse: "course.png",
	KindUser:   "user.png",
	KindVideo:  "video.png",
}

// category-specific course placeholder variants
var courseCategoryPlaceholders = map[string]string{
	"programming": "course-programming.png",
	"design":      "course-design.png",
	"business":    "course-business.png",
	"language":    "course-language.png",
}

const genericPlaceholder = "generic.png"

// PlaceholderFor resolves the placeholder artwork for a media kind by
// static lookup. The category narrows course artwork when a variant
// exists; any other kind ignores it.
func PlaceholderFor(assetBase url.URL, kind Kind, category string) url.URL {
	name, ok := kindPlaceholders[kind]
	if !ok {
		name = genericPlaceholder
	}
	if kind == KindCourse && category != "" {
		if variant, ok := courseCategoryPlaceholders[category]; ok {
			name = variant
		}
	}
	return placeholderURL(assetBase, name)
}

// GenericPlaceholder resolves the last-resort placeholder shared by all
// media kinds.
func GenericPlaceholder(assetBase url.URL) url.URL {
	return placeholderURL(assetBase, genericPlaceholder)
}

// ChainFor builds the fallback chain for one resource reference.
//
// Ordering is fixed:
//  1. the primary variant (quality-adjustable per the current policy)
//  2. the degraded variant (low quality pinned, no further adjustment)
//  3. the kind/category placeholder
//  4. the generic placeholder
func ChainFor(ref url.URL, kind Kind, category string, assetBase url.URL) Chain {
	return Chain{
		kind: kind,
		candidates: []Candidate{
			{source: ref, qualityAdjustable: true},
			{source: urlutil.WithQualityHint(ref, "low")},
			{source: PlaceholderFor(assetBase, kind, category), placeholder: true},
			{source: GenericPlaceholder(assetBase), placeholder: true},
		},
	}
}

// PlaceholderPaths lists every placeholder asset path, used to warm the
// static cache at startup.
func PlaceholderPaths() []string {
	paths := []string{placeholderRoot + genericPlaceholder}
	for _, name := range kindPlaceholders {
		paths = append(paths, placeholderRoot+name)
	}
	for _, name := range courseCategoryPlaceholders {
		paths = append(paths, placeholderRoot+name)
	}
	return paths
}

// PlaceholderPayload returns the built-in artwork bytes used when no real
// placeholder asset has been cached yet: a 1x1 transparent PNG.
func PlaceholderPayload() []byte {
	return []byte{
		0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a,
		0x00, 0x00, 0x00, 0x0d, 0x49, 0x48, 0x44, 0x52,
		0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
		0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4,
		0x89, 0x00, 0x00, 0x00, 0x0d, 0x49, 0x44, 0x41,
		0x54, 0x78, 0x9c, 0x62, 0x00, 0x01, 0x00, 0x00,
		0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00,
		0x00, 0x00, 0x00, 0x49, 0x45, 0x4e, 0x44, 0xae,
		0x42, 0x60, 0x82,
	}
}

func placeholderURL(assetBase url.URL, name string) url.URL {
	u := assetBase
	u.Path = placeholderRoot + name
	u.RawQuery = ""
	u.Fragment = ""
	return u
}
