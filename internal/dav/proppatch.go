package dav

import (
	"encoding/xml"
	"io"
	"net/http"
	"strings"

	"github.com/sonroyaalmerol/caldav-core/internal/auth"
	"github.com/sonroyaalmerol/caldav-core/internal/resource"
)

// HandleProppatch updates the mutable collection properties displayname and
// (calendar-)description. Every other property name is reported as
// forbidden, per RFC 4918 §9.2's requirement that a PROPPATCH either apply
// every requested change or none.
func (h *Handlers) HandleProppatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, _ := auth.PrincipalFrom(ctx)
	subjects := h.subjectsFor(ctx, principal)

	resolved, err := h.resolver.Resolve(ctx, r.URL.Path)
	if err != nil || resolved.TerminalCollection == nil {
		http.Error(w, "not a collection", http.StatusConflict)
		return
	}

	decision, err := h.authorize(ctx, subjects, ownerIDOf(resolved), resolved.ResolvedLocation.SerializeToFullPath(), resource.Action{Kind: resource.ActionEdit})
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !decision.Granted {
		h.writeNeedPrivileges(w, resolved.ResolvedLocation.SerializeToFullPath(), decision)
		return
	}

	body, _ := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	var req propertyupdateXML
	_ = xml.Unmarshal(body, &req)

	var displayName, description *string
	var handled []string
	var rejected []string
	for _, s := range req.Set {
		for _, item := range s.Prop.Items {
			switch strings.ToLower(item.XMLName.Local) {
			case "displayname":
				v := item.Inner
				displayName = &v
				handled = append(handled, qualifiedLocal(item.XMLName))
			case "calendar-description", "addressbook-description":
				v := item.Inner
				description = &v
				handled = append(handled, qualifiedLocal(item.XMLName))
			default:
				rejected = append(rejected, qualifiedLocal(item.XMLName))
			}
		}
	}
	for _, s := range req.Remove {
		for _, item := range s.Prop.Items {
			rejected = append(rejected, qualifiedLocal(item.XMLName))
		}
	}

	href := resolved.ResolvedLocation.SerializeToFullPath()
	msw := newMultiStatusWriter()
	if len(rejected) > 0 {
		// RFC 4918 §9.2: reject the whole PROPPATCH atomically. Properties
		// that would otherwise have applied come back 424 Failed Dependency,
		// the ones we don't support come back 403 Forbidden.
		msw.buf.WriteString("<response><href>" + xmlEscapeText(href) + "</href>")
		if len(rejected) > 0 {
			msw.buf.WriteString("<propstat><prop>")
			for _, n := range rejected {
				msw.buf.WriteString("<" + n + "/>")
			}
			msw.buf.WriteString("</prop><status>HTTP/1.1 403 Forbidden</status></propstat>")
		}
		if len(handled) > 0 {
			msw.buf.WriteString("<propstat><prop>")
			for _, n := range handled {
				msw.buf.WriteString("<" + n + "/>")
			}
			msw.buf.WriteString("</prop><status>HTTP/1.1 424 Failed Dependency</status></propstat>")
		}
		msw.buf.WriteString("</response>")
		w.Header().Set("Content-Type", "application/xml; charset=utf-8")
		w.WriteHeader(http.StatusMultiStatus)
		_ = msw.writeTo(w)
		return
	}

	if displayName != nil || description != nil {
		if err := h.store.UpdateCollectionProps(ctx, resolved.TerminalCollection.ID, displayName, description); err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
	}

	var found []propXML
	for _, n := range handled {
		found = append(found, emptyProp(n))
	}
	msw.addPropResponse(href, found, nil)
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.WriteHeader(http.StatusMultiStatus)
	_ = msw.writeTo(w)
}
