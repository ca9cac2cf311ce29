package dav

import (
	"context"
	"encoding/xml"
	"io"
	"net/http"

	"github.com/sonroyaalmerol/caldav-core/internal/auth"
	"github.com/sonroyaalmerol/caldav-core/internal/pathresolver"
	"github.com/sonroyaalmerol/caldav-core/internal/resource"
	"github.com/sonroyaalmerol/caldav-core/internal/storage"
)

// resourceView is the per-response unit a PROPFIND walk renders. An item
// view has instance set (and collection set to its parent collection), a
// collection view has only collection set, and a bare principal/home node
// has neither.
type resourceView struct {
	href             string
	collection       *storage.Collection
	instance         *storage.Instance
	ownerPrincipalID string
	ownerSlug        string
}

func (h *Handlers) HandlePropfind(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, _ := auth.PrincipalFrom(ctx)
	subjects := h.subjectsFor(ctx, principal)

	resolved, err := h.resolver.Resolve(ctx, r.URL.Path)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if !resolved.TerminalExists() {
		http.NotFound(w, r)
		return
	}

	decision, err := h.authorize(ctx, subjects, ownerIDOf(resolved), resolved.ResolvedLocation.SerializeToFullPath(), resource.Action{Kind: resource.ActionRead})
	if err != nil {
		h.logger.Error().Err(err).Msg("propfind authorize failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !decision.Granted {
		h.writeNeedPrivileges(w, resolved.ResolvedLocation.SerializeToFullPath(), decision)
		return
	}

	depth := r.Header.Get("Depth")
	if depth == "" {
		depth = "1"
	}
	if depth == "infinity" {
		depth = "1" // bounded: unlimited depth traversal isn't exposed over these collections
	}

	body, _ := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	wantAll, wantNames, names := parsePropfindBody(body)

	views, err := h.collectViews(ctx, resolved, depth)
	if err != nil {
		h.logger.Error().Err(err).Msg("propfind view collection failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	msw := newMultiStatusWriter()
	for _, v := range views {
		var found []propXML
		var missing []string
		switch {
		case wantNames:
			for _, n := range h.allPropNames(v) {
				found = append(found, emptyProp(n))
			}
		case wantAll:
			for _, n := range h.allPropNames(v) {
				if p, ok := h.renderProp(ctx, v, xml.Name{Space: davNS, Local: n}, subjects, principal, r.Host); ok {
					found = append(found, p)
				}
			}
		default:
			for _, n := range names {
				if p, ok := h.renderProp(ctx, v, n, subjects, principal, r.Host); ok {
					found = append(found, p)
				} else {
					missing = append(missing, qualifiedLocal(n))
				}
			}
		}
		msw.addPropResponse(v.href, found, missing)
	}

	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.WriteHeader(http.StatusMultiStatus)
	_ = msw.writeTo(w)
}

func (h *Handlers) collectViews(ctx context.Context, resolved *pathresolver.Resolved, depth string) ([]resourceView, error) {
	ownerID, ownerSlug := "", ""
	if resolved.OwnerPrincipal != nil {
		ownerID, ownerSlug = resolved.OwnerPrincipal.ID, resolved.OwnerPrincipal.Slug
	}

	root := h.viewForResolved(resolved, ownerID, ownerSlug)
	views := []resourceView{root}
	if depth == "0" || root.instance != nil {
		return views, nil
	}

	if root.collection != nil {
		instances, err := h.store.ListLiveInstances(ctx, root.collection.ID)
		if err != nil {
			return nil, err
		}
		for _, inst := range instances {
			views = append(views, resourceView{
				href:             root.href + inst.Slug,
				collection:       root.collection,
				instance:         inst,
				ownerPrincipalID: ownerID,
				ownerSlug:        ownerSlug,
			})
		}
		children, err := h.store.ListChildCollections(ctx, ownerID, &root.collection.ID)
		if err != nil {
			return nil, err
		}
		for _, c := range children {
			views = append(views, h.childCollectionView(resolved, c, ownerID, ownerSlug))
		}
		return views, nil
	}

	if ownerID != "" {
		children, err := h.store.ListChildCollections(ctx, ownerID, nil)
		if err != nil {
			return nil, err
		}
		for _, c := range children {
			views = append(views, h.childCollectionView(resolved, c, ownerID, ownerSlug))
		}
	}
	return views, nil
}

func (h *Handlers) viewForResolved(resolved *pathresolver.Resolved, ownerID, ownerSlug string) resourceView {
	href := resolved.ResolvedLocation.SerializeToFullPath()
	return resourceView{
		href:             href,
		collection:       resolved.TerminalCollection,
		instance:         resolved.Instance,
		ownerPrincipalID: ownerID,
		ownerSlug:        ownerSlug,
	}
}

func (h *Handlers) childCollectionView(resolved *pathresolver.Resolved, c *storage.Collection, ownerID, ownerSlug string) resourceView {
	segs := append(append([]resource.PathSegment{}, resolved.ResolvedLocation.Segments...), resource.CollectionSegment(resource.IDIdentifier(c.ID)))
	loc := resource.NewLocation(resolved.ResolvedLocation.Prefix, segs...)
	return resourceView{href: loc.SerializeToFullPath(), collection: c, ownerPrincipalID: ownerID, ownerSlug: ownerSlug}
}

func (h *Handlers) allPropNames(v resourceView) []string {
	names := []string{"resourcetype", "displayname", "getetag", "owner", "current-user-principal", "current-user-privilege-set"}
	switch {
	case v.instance != nil:
		return append(names, "getcontenttype", "getlastmodified")
	case v.collection != nil:
		names = append(names, "sync-token", "getctag")
		switch v.collection.Type {
		case storage.CollectionCalendar:
			names = append(names, "supported-calendar-component-set", "calendar-description", "calendar-timezone")
		case storage.CollectionAddressBook:
			names = append(names, "addressbook-description")
		}
		return names
	default:
		return append(names, "calendar-home-set", "addressbook-home-set", "principal-URL")
	}
}

func (h *Handlers) renderProp(ctx context.Context, v resourceView, name xml.Name, subjects resource.ExpandedSubjects, principal *auth.Principal, host string) (propXML, bool) {
	switch name.Local {
	case "resourcetype":
		return h.renderResourceType(v), true
	case "displayname":
		return textProp("displayname", h.displayName(v)), true
	case "getetag":
		if v.instance == nil {
			return propXML{}, false
		}
		return textProp("getetag", `"`+v.instance.ETag+`"`), true
	case "getcontenttype":
		if v.instance == nil {
			return propXML{}, false
		}
		return textProp("getcontenttype", v.instance.ContentType), true
	case "getlastmodified":
		if v.instance == nil {
			return propXML{}, false
		}
		return textProp("getlastmodified", v.instance.LastModified.UTC().Format(http.TimeFormat)), true
	case "owner":
		if v.ownerSlug == "" {
			return propXML{}, false
		}
		return rawProp("owner", "<href>"+xmlEscapeText(h.cfg.HTTP.BasePath+"/principals/"+v.ownerSlug+"/")+"</href>"), true
	case "current-user-principal":
		if principal == nil {
			return rawProp("current-user-principal", "<unauthenticated/>"), true
		}
		return rawProp("current-user-principal", "<href>"+xmlEscapeText(h.cfg.HTTP.BasePath+"/principals/"+principal.UID+"/")+"</href>"), true
	case "current-user-privilege-set":
		d, err := h.authorize(ctx, subjects, v.ownerPrincipalID, v.href, resource.Action{Kind: resource.ActionRead})
		if err != nil {
			return propXML{}, false
		}
		var inner string
		for _, n := range d.Level.Privileges().Names() {
			inner += "<privilege><" + n + "/></privilege>"
		}
		return rawProp("current-user-privilege-set", inner), true
	case "getctag":
		if v.collection == nil {
			return propXML{}, false
		}
		return textProp("cs:getctag", v.collection.CTag()), true
	case "sync-token":
		if v.collection == nil {
			return propXML{}, false
		}
		return textProp("sync-token", syncTokenURL(host, v.collection.ID, v.collection.SyncToken)), true
	case "supported-calendar-component-set":
		if v.collection == nil || v.collection.Type != storage.CollectionCalendar {
			return propXML{}, false
		}
		return rawProp("cal:supported-calendar-component-set", `<cal:comp name="VEVENT"/><cal:comp name="VTODO"/><cal:comp name="VJOURNAL"/>`), true
	case "calendar-description":
		if v.collection == nil || v.collection.Type != storage.CollectionCalendar {
			return propXML{}, false
		}
		return textProp("cal:calendar-description", v.collection.Description), true
	case "calendar-timezone":
		if v.collection == nil || v.collection.Type != storage.CollectionCalendar || v.collection.TimezoneTZID == "" {
			return propXML{}, false
		}
		return textProp("cal:calendar-timezone", v.collection.TimezoneTZID), true
	case "addressbook-description":
		if v.collection == nil || v.collection.Type != storage.CollectionAddressBook {
			return propXML{}, false
		}
		return textProp("card:addressbook-description", v.collection.Description), true
	case "calendar-home-set":
		if v.ownerSlug == "" {
			return propXML{}, false
		}
		return rawProp("cal:calendar-home-set", "<href>"+xmlEscapeText(h.cfg.HTTP.BasePath+"/calendars/"+v.ownerSlug+"/")+"</href>"), true
	case "addressbook-home-set":
		if v.ownerSlug == "" {
			return propXML{}, false
		}
		return rawProp("card:addressbook-home-set", "<href>"+xmlEscapeText(h.cfg.HTTP.BasePath+"/addressbooks/"+v.ownerSlug+"/")+"</href>"), true
	case "principal-URL":
		if v.ownerSlug == "" {
			return propXML{}, false
		}
		return rawProp("principal-URL", "<href>"+xmlEscapeText(h.cfg.HTTP.BasePath+"/principals/"+v.ownerSlug+"/")+"</href>"), true
	default:
		return propXML{}, false
	}
}

func (h *Handlers) renderResourceType(v resourceView) propXML {
	if v.instance != nil {
		return propXML{name: "resourcetype"}
	}
	if v.collection != nil {
		switch v.collection.Type {
		case storage.CollectionCalendar:
			return rawProp("resourcetype", "<collection/><cal:calendar/>")
		case storage.CollectionAddressBook:
			return rawProp("resourcetype", "<collection/><card:addressbook/>")
		default:
			return rawProp("resourcetype", "<collection/>")
		}
	}
	return rawProp("resourcetype", "<collection/>")
}

func (h *Handlers) displayName(v resourceView) string {
	if v.instance != nil {
		return v.instance.Slug
	}
	if v.collection != nil {
		if v.collection.DisplayName != "" {
			return v.collection.DisplayName
		}
		return v.collection.Slug
	}
	return v.ownerSlug
}
