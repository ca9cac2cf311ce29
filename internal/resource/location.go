// Package resource defines the typed path and subject model shared by the
// path resolver, authorization engine, and DAV method handlers: a
// ResourceLocation in place of raw path strings, and the subject/action/
// permission vocabulary the authorization engine evaluates against.
package resource

import "strings"

// ResourceType is the first path segment after the DAV route prefix.
type ResourceType string

const (
	TypeCalendar     ResourceType = "cal"
	TypeAddressBook  ResourceType = "card"
	TypePrincipal    ResourceType = "principals"
	TypeCalendarHome ResourceType = "calendars"
	TypeAddressHome  ResourceType = "addressbooks"
)

// SegmentKind tags which variant of the PathSegment sum type a segment is.
type SegmentKind int

const (
	SegResourceType SegmentKind = iota
	SegOwner
	SegCollection
	SegItem
	SegGlob
)

// GlobKind distinguishes the two glob forms a trailing segment may take.
type GlobKind int

const (
	GlobNone GlobKind = iota
	GlobCollection    // trailing "/": this collection
	GlobRecursive     // trailing "/**": recursive
)

// Identifier is either a URL-safe slug or a resolved UUID. Exactly one of
// Slug/ID is populated; IsResolved reports which.
type Identifier struct {
	Slug string
	ID   string
}

func SlugIdentifier(slug string) Identifier { return Identifier{Slug: slug} }
func IDIdentifier(id string) Identifier     { return Identifier{ID: id} }

func (i Identifier) IsResolved() bool { return i.ID != "" }

func (i Identifier) String() string {
	if i.IsResolved() {
		return i.ID
	}
	return i.Slug
}

// PathSegment is a tagged variant: ResourceType | Owner | Collection | Item
// | Glob. Callers pattern-match on Kind; String is total over every
// variant so a ResourceLocation can always be rendered back to a path.
type PathSegment struct {
	Kind         SegmentKind
	ResourceType ResourceType // valid when Kind == SegResourceType
	Identifier   Identifier   // valid when Kind in {Owner, Collection}
	ItemName     string       // valid when Kind == SegItem
	Glob         GlobKind     // valid when Kind == SegGlob
}

func ResourceTypeSegment(rt ResourceType) PathSegment {
	return PathSegment{Kind: SegResourceType, ResourceType: rt}
}

func OwnerSegment(id Identifier) PathSegment {
	return PathSegment{Kind: SegOwner, Identifier: id}
}

func CollectionSegment(id Identifier) PathSegment {
	return PathSegment{Kind: SegCollection, Identifier: id}
}

func ItemSegment(name string) PathSegment {
	return PathSegment{Kind: SegItem, ItemName: name}
}

func GlobSegment(kind GlobKind) PathSegment {
	return PathSegment{Kind: SegGlob, Glob: kind}
}

func (s PathSegment) String() string {
	switch s.Kind {
	case SegResourceType:
		return string(s.ResourceType)
	case SegOwner, SegCollection:
		return s.Identifier.String()
	case SegItem:
		return s.ItemName
	case SegGlob:
		if s.Glob == GlobRecursive {
			return "**"
		}
		return ""
	default:
		return ""
	}
}

// ResourceLocation is an ordered sequence of PathSegments: the canonical
// identity of any addressable DAV resource, in either slug-form (as given
// by the client) or id-form (after resolution).
type ResourceLocation struct {
	Prefix   string // the DAV route prefix, e.g. "/dav"
	Segments []PathSegment
}

func NewLocation(prefix string, segments ...PathSegment) ResourceLocation {
	return ResourceLocation{Prefix: prefix, Segments: segments}
}

// SerializeToFullPath renders the location back to an absolute path
// suitable for a Location header or multistatus href.
func (l ResourceLocation) SerializeToFullPath() string {
	var b strings.Builder
	b.WriteString(strings.TrimRight(l.Prefix, "/"))
	for _, s := range l.Segments {
		if s.Kind == SegGlob && s.Glob == GlobCollection {
			b.WriteByte('/')
			continue
		}
		b.WriteByte('/')
		b.WriteString(s.String())
	}
	if len(l.Segments) == 0 || l.Segments[len(l.Segments)-1].Kind != SegGlob {
		// collections render with a trailing slash; items do not.
		if l.IsCollection() {
			b.WriteByte('/')
		}
	}
	return b.String()
}

// IsCollection reports whether the location names a collection (terminates
// in Owner, Collection, or a glob) rather than an Item.
func (l ResourceLocation) IsCollection() bool {
	if len(l.Segments) == 0 {
		return true
	}
	last := l.Segments[len(l.Segments)-1]
	return last.Kind != SegItem
}

// Parent returns the location of the containing resource: parent-of-item
// is the item's collection; parent-of-collection is its parent collection
// or the owner's home. Returns false if l is already the root.
func (l ResourceLocation) Parent() (ResourceLocation, bool) {
	if len(l.Segments) == 0 {
		return ResourceLocation{}, false
	}
	segs := l.Segments
	// Drop a trailing glob segment first; it denotes "this collection",
	// not an additional path level.
	if segs[len(segs)-1].Kind == SegGlob {
		segs = segs[:len(segs)-1]
	}
	if len(segs) == 0 {
		return ResourceLocation{}, false
	}
	return ResourceLocation{Prefix: l.Prefix, Segments: segs[:len(segs)-1]}, true
}

// Terminal returns the last non-glob segment, or the zero value if l is
// empty.
func (l ResourceLocation) Terminal() (PathSegment, bool) {
	segs := l.Segments
	if len(segs) > 0 && segs[len(segs)-1].Kind == SegGlob {
		segs = segs[:len(segs)-1]
	}
	if len(segs) == 0 {
		return PathSegment{}, false
	}
	return segs[len(segs)-1], true
}
