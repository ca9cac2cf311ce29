// Package dav implements the DAV method handlers spec.md §7 names: the
// PROPFIND/PROPPATCH/REPORT property and query machinery, and the
// GET/HEAD/PUT/DELETE/MKCOL/MKCALENDAR/COPY/MOVE content operations, wired
// against internal/pathresolver for addressing, internal/authz for
// privilege checks, and internal/storage for persistence.
package dav

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/sonroyaalmerol/caldav-core/internal/auth"
	"github.com/sonroyaalmerol/caldav-core/internal/authz"
	"github.com/sonroyaalmerol/caldav-core/internal/config"
	"github.com/sonroyaalmerol/caldav-core/internal/pathresolver"
	"github.com/sonroyaalmerol/caldav-core/internal/resource"
	"github.com/sonroyaalmerol/caldav-core/internal/storage"
	"github.com/sonroyaalmerol/caldav-core/pkg/ical"
)

// Handlers is the sole entry point the router dispatches every DAV request
// to once authentication has resolved a principal; the router answers
// unauthenticated requests other than OPTIONS with 401 before they get here.
type Handlers struct {
	store    storage.Store
	resolver *pathresolver.Resolver
	authzEng *authz.Engine
	expander *ical.Expander
	cfg      *config.Config
	logger   zerolog.Logger
}

func New(store storage.Store, resolver *pathresolver.Resolver, engine *authz.Engine, cfg *config.Config, logger zerolog.Logger) *Handlers {
	return &Handlers{
		store:    store,
		resolver: resolver,
		authzEng: engine,
		expander: ical.NewExpander(cfg.Calendar.MaxInstances),
		cfg:      cfg,
		logger:   logger,
	}
}

func (h *Handlers) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		h.HandleOptions(w, r)
	case "PROPFIND":
		h.HandlePropfind(w, r)
	case "PROPPATCH":
		h.HandleProppatch(w, r)
	case "REPORT":
		h.HandleReport(w, r)
	case http.MethodGet:
		h.HandleGet(w, r)
	case http.MethodHead:
		h.HandleHead(w, r)
	case http.MethodPut:
		h.HandlePut(w, r)
	case http.MethodDelete:
		h.HandleDelete(w, r)
	case "MKCOL":
		h.HandleMkcol(w, r)
	case "MKCALENDAR":
		h.HandleMkcalendar(w, r)
	case "COPY":
		h.HandleCopy(w, r)
	case "MOVE":
		h.HandleMove(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handlers) HandleOptions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("DAV", "1, 3, access-control, calendar-access, addressbook, extended-mkcol, sync-collection")
	w.Header().Set("Allow", "OPTIONS, GET, HEAD, PUT, DELETE, PROPFIND, PROPPATCH, REPORT, MKCOL, MKCALENDAR, COPY, MOVE")
	w.WriteHeader(http.StatusOK)
}

// HandleWellKnown answers /.well-known/caldav and /.well-known/carddav with
// a redirect to the caller's calendar home, per RFC 6764 §6.
func (h *Handlers) HandleWellKnown(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFrom(r.Context())
	if p == nil {
		http.Redirect(w, r, h.cfg.HTTP.BasePath+"/", http.StatusMovedPermanently)
		return
	}
	http.Redirect(w, r, h.cfg.HTTP.BasePath+"/calendars/"+p.UID+"/", http.StatusFound)
}

func (h *Handlers) subjectsFor(ctx context.Context, p *auth.Principal) resource.ExpandedSubjects {
	if p == nil {
		return resource.ExpandedSubjects{}
	}
	groups, err := h.store.GroupsForUser(ctx, p.PrincipalID)
	if err != nil {
		h.logger.Warn().Err(err).Str("principal", p.PrincipalID).Msg("failed to load group membership")
	}
	return resource.ExpandedSubjects{PrincipalID: p.PrincipalID, GroupIDs: groups}
}

// authorize evaluates one authorization decision against a resolved
// location's owner and canonical id-form path.
func (h *Handlers) authorize(ctx context.Context, subjects resource.ExpandedSubjects, ownerPrincipalID, path string, action resource.Action) (authz.Decision, error) {
	return h.authzEng.Evaluate(ctx, authz.Query{
		Subjects:         subjects,
		OwnerPrincipalID: ownerPrincipalID,
		Path:             path,
		Action:           action,
	})
}

func (h *Handlers) writeNeedPrivileges(w http.ResponseWriter, href string, d authz.Decision) {
	body := authz.NewNeedPrivilegesBody(href, d)
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.WriteHeader(http.StatusForbidden)
	_ = writeXML(w, body)
}

func ownerIDOf(resolved *pathresolver.Resolved) string {
	if resolved.OwnerPrincipal == nil {
		return ""
	}
	return resolved.OwnerPrincipal.ID
}
