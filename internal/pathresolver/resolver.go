// Package pathresolver turns a request path into a typed resource.ResourceLocation
// and resolves each segment against the store, producing the request-scoped
// state every DAV method handler and the authorization engine consume:
// the slug-form location as given by the client, the id-form location after
// resolution, the owning principal, the chain of collections walked to
// reach the terminal resource, and (for item requests) the live instance.
package pathresolver

import (
	"context"
	"errors"
	"strings"

	"github.com/sonroyaalmerol/caldav-core/internal/resource"
	"github.com/sonroyaalmerol/caldav-core/internal/storage"
)

var (
	ErrNotFound    = errors.New("pathresolver: resource not found")
	ErrBadLocation = errors.New("pathresolver: malformed path")
)

// Resolved is the request-scoped resolver output that Resolve returns to the
// DAV handlers. WithResolved/FromContext can carry it in a context.
type Resolved struct {
	PathLocation     resource.ResourceLocation // as parsed from the request, slug-form
	ResolvedLocation resource.ResourceLocation // with identifiers substituted for ids, where resolvable
	OwnerPrincipal   *storage.Principal
	CollectionChain  []*storage.Collection // root-to-terminal, len 0 if the request targets a principal/home only
	TerminalCollection *storage.Collection // == last of CollectionChain, nil if not resolved
	Instance         *storage.Instance     // non-nil only for item requests that exist
}

// TerminalExists reports whether the full path names an existing resource
// (collection or item), as opposed to a path whose last segment is a slug
// the caller intends to create (PUT/MKCOL/MKCALENDAR target).
func (r *Resolved) TerminalExists() bool {
	if r == nil {
		return false
	}
	seg, ok := r.PathLocation.Terminal()
	if !ok {
		return r.OwnerPrincipal != nil
	}
	if seg.Kind == resource.SegItem {
		return r.Instance != nil
	}
	return r.TerminalCollection != nil
}

type Resolver struct {
	store  storage.Store
	prefix string
}

func New(store storage.Store, prefix string) *Resolver {
	if prefix == "" {
		prefix = "/dav"
	}
	return &Resolver{store: store, prefix: strings.TrimRight(prefix, "/")}
}

// Parse tokenizes a raw URL path into a slug-form ResourceLocation, without
// touching the store. Resolve calls it before resolving segments.
func (res *Resolver) Parse(urlPath string) (resource.ResourceLocation, error) {
	trimmed := strings.TrimPrefix(urlPath, res.prefix)
	trailingSlash := strings.HasSuffix(trimmed, "/")
	trimmed = strings.Trim(trimmed, "/")
	if trimmed == "" {
		return resource.NewLocation(res.prefix), nil
	}
	parts := strings.Split(trimmed, "/")

	var segs []resource.PathSegment
	rt, err := parseResourceType(parts[0])
	if err != nil {
		return resource.ResourceLocation{}, err
	}
	segs = append(segs, resource.ResourceTypeSegment(rt))
	parts = parts[1:]

	if rt == resource.TypePrincipal {
		if len(parts) == 0 {
			return resource.NewLocation(res.prefix, segs...), nil
		}
		segs = append(segs, resource.OwnerSegment(resource.SlugIdentifier(parts[0])))
		return resource.NewLocation(res.prefix, segs...), nil
	}

	// calendars/<owner>/<collection>/<item>
	if len(parts) == 0 {
		return resource.NewLocation(res.prefix, segs...), nil
	}
	segs = append(segs, resource.OwnerSegment(resource.SlugIdentifier(parts[0])))
	parts = parts[1:]
	if len(parts) == 0 {
		return resource.NewLocation(res.prefix, segs...), nil
	}

	last := len(parts) - 1
	if trailingSlash {
		// trailing slash: request names the last named collection itself.
		for _, p := range parts {
			segs = append(segs, resource.CollectionSegment(resource.SlugIdentifier(p)))
		}
		segs = append(segs, resource.GlobSegment(resource.GlobCollection))
		return resource.NewLocation(res.prefix, segs...), nil
	}

	for i, p := range parts {
		if i == last {
			segs = append(segs, resource.ItemSegment(p))
			continue
		}
		segs = append(segs, resource.CollectionSegment(resource.SlugIdentifier(p)))
	}
	return resource.NewLocation(res.prefix, segs...), nil
}

func parseResourceType(token string) (resource.ResourceType, error) {
	switch resource.ResourceType(token) {
	case resource.TypeCalendar, resource.TypeAddressBook,
		resource.TypeCalendarHome, resource.TypeAddressHome, resource.TypePrincipal:
		return resource.ResourceType(token), nil
	default:
		return "", ErrBadLocation
	}
}

// Resolve parses and resolves a path against the store, within one
// authorization/handler request.
func (res *Resolver) Resolve(ctx context.Context, urlPath string) (*Resolved, error) {
	loc, err := res.Parse(urlPath)
	if err != nil {
		return nil, err
	}
	out := &Resolved{PathLocation: loc}

	ownerSeg, hasOwner := findOwnerSegment(loc)
	if !hasOwner {
		out.ResolvedLocation = loc
		return out, nil
	}

	principal, err := res.store.GetPrincipalBySlug(ctx, ownerSeg.Identifier.Slug)
	if errors.Is(err, storage.ErrNotFound) {
		out.ResolvedLocation = loc
		return out, nil
	}
	if err != nil {
		return nil, err
	}
	out.OwnerPrincipal = principal

	resolvedSegs := make([]resource.PathSegment, len(loc.Segments))
	copy(resolvedSegs, loc.Segments)
	for i, s := range resolvedSegs {
		if s.Kind == resource.SegOwner {
			resolvedSegs[i] = resource.OwnerSegment(resource.IDIdentifier(principal.ID))
		}
	}

	var parentID *string
	for i, seg := range loc.Segments {
		if seg.Kind != resource.SegCollection {
			continue
		}
		coll, err := res.store.GetCollectionBySlug(ctx, principal.ID, parentID, seg.Identifier.Slug)
		if errors.Is(err, storage.ErrNotFound) {
			out.ResolvedLocation = resource.NewLocation(loc.Prefix, resolvedSegs...)
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out.CollectionChain = append(out.CollectionChain, coll)
		out.TerminalCollection = coll
		resolvedSegs[i] = resource.CollectionSegment(resource.IDIdentifier(coll.ID))
		id := coll.ID
		parentID = &id
	}

	if term, ok := loc.Terminal(); ok && term.Kind == resource.SegItem && out.TerminalCollection != nil {
		inst, err := res.store.GetInstanceBySlug(ctx, out.TerminalCollection.ID, term.ItemName)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		if err == nil {
			out.Instance = inst
		}
	}

	out.ResolvedLocation = resource.NewLocation(loc.Prefix, resolvedSegs...)
	return out, nil
}

func findOwnerSegment(loc resource.ResourceLocation) (resource.PathSegment, bool) {
	for _, s := range loc.Segments {
		if s.Kind == resource.SegOwner {
			return s, true
		}
	}
	return resource.PathSegment{}, false
}
