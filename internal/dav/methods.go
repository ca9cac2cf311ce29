package dav

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"

	"github.com/sonroyaalmerol/caldav-core/internal/auth"
	"github.com/sonroyaalmerol/caldav-core/internal/model"
	"github.com/sonroyaalmerol/caldav-core/internal/pathresolver"
	"github.com/sonroyaalmerol/caldav-core/internal/resource"
	"github.com/sonroyaalmerol/caldav-core/internal/storage"
	"github.com/sonroyaalmerol/caldav-core/pkg/ical"
	"github.com/sonroyaalmerol/caldav-core/pkg/vcard"
)

func etagFor(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

func (h *Handlers) HandleGet(w http.ResponseWriter, r *http.Request) {
	h.serveContent(w, r, true)
}

func (h *Handlers) HandleHead(w http.ResponseWriter, r *http.Request) {
	h.serveContent(w, r, false)
}

func (h *Handlers) serveContent(w http.ResponseWriter, r *http.Request, withBody bool) {
	ctx := r.Context()
	principal, _ := auth.PrincipalFrom(ctx)
	subjects := h.subjectsFor(ctx, principal)

	resolved, err := h.resolver.Resolve(ctx, r.URL.Path)
	if err != nil || resolved.Instance == nil {
		http.NotFound(w, r)
		return
	}

	decision, err := h.authorize(ctx, subjects, ownerIDOf(resolved), resolved.ResolvedLocation.SerializeToFullPath(), resource.Action{Kind: resource.ActionRead})
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !decision.Granted {
		h.writeNeedPrivileges(w, resolved.ResolvedLocation.SerializeToFullPath(), decision)
		return
	}

	inst := resolved.Instance
	w.Header().Set("ETag", `"`+inst.ETag+`"`)
	w.Header().Set("Content-Type", inst.ContentType)
	w.Header().Set("Last-Modified", inst.LastModified.UTC().Format(http.TimeFormat))

	if !withBody {
		w.WriteHeader(http.StatusOK)
		return
	}

	tree, err := h.store.GetEntityTree(ctx, inst.EntityID)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	entity := materializeEntity(tree)
	body, err := serializeEntity(entity, resolved.TerminalCollection)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func serializeEntity(entity *model.Entity, coll *storage.Collection) ([]byte, error) {
	if coll != nil && coll.Type == storage.CollectionAddressBook {
		return vcard.Serialize(entity.Root)
	}
	return ical.Serialize(entity.Root)
}

func (h *Handlers) HandlePut(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, _ := auth.PrincipalFrom(ctx)
	subjects := h.subjectsFor(ctx, principal)

	resolved, err := h.resolver.Resolve(ctx, r.URL.Path)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	term, ok := resolved.PathLocation.Terminal()
	if !ok || term.Kind != resource.SegItem || resolved.TerminalCollection == nil {
		http.Error(w, "PUT target must be an item inside an existing collection", http.StatusConflict)
		return
	}

	action := resource.Action{Kind: resource.ActionWrite}
	if resolved.Instance != nil {
		action = resource.Action{Kind: resource.ActionEdit}
	}
	decision, err := h.authorize(ctx, subjects, ownerIDOf(resolved), resolved.ResolvedLocation.SerializeToFullPath(), action)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !decision.Granted {
		h.writeNeedPrivileges(w, resolved.ResolvedLocation.SerializeToFullPath(), decision)
		return
	}

	limit := h.cfg.HTTP.MaxICSBytes
	if resolved.TerminalCollection.Type == storage.CollectionAddressBook {
		limit = h.cfg.HTTP.MaxVCFBytes
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		http.Error(w, "read error", http.StatusBadRequest)
		return
	}
	if int64(len(body)) > limit {
		http.Error(w, "entity too large", http.StatusRequestEntityTooLarge)
		return
	}

	var entity *model.Entity
	var contentType string
	switch resolved.TerminalCollection.Type {
	case storage.CollectionAddressBook:
		ent, err := vcard.Parse(body)
		if err != nil {
			http.Error(w, "invalid vCard: "+err.Error(), http.StatusBadRequest)
			return
		}
		entity = ent
		contentType = "text/vcard; charset=utf-8"
	default:
		ent, err := ical.Parse(body)
		if err != nil {
			http.Error(w, "invalid iCalendar: "+err.Error(), http.StatusBadRequest)
			return
		}
		entity = ent
		contentType = "text/calendar; charset=utf-8"
	}

	tree := flattenEntity(entity)
	canonical, err := serializeEntity(entity, resolved.TerminalCollection)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	newETag := etagFor(canonical)

	ifMatch := r.Header.Get("If-Match") != ""
	ifNoneMatchAny := r.Header.Get("If-None-Match") == "*"
	matchETag := strings.Trim(r.Header.Get("If-Match"), `"`)

	res, err := h.store.WriteEntity(ctx, resolved.TerminalCollection.ID, term.ItemName, contentType, newETag, tree, ifMatch, ifNoneMatchAny, matchETag)
	if err != nil {
		mapWriteError(w, err)
		return
	}

	w.Header().Set("ETag", `"`+res.ETag+`"`)
	if res.Created {
		w.Header().Set("Location", resolved.ResolvedLocation.SerializeToFullPath())
		w.WriteHeader(http.StatusCreated)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func mapWriteError(w http.ResponseWriter, err error) {
	switch {
	case err == storage.ErrPreconditionFailed:
		w.WriteHeader(http.StatusPreconditionFailed)
	case err == storage.ErrSlugConflict:
		w.WriteHeader(http.StatusConflict)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func (h *Handlers) HandleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, _ := auth.PrincipalFrom(ctx)
	subjects := h.subjectsFor(ctx, principal)

	resolved, err := h.resolver.Resolve(ctx, r.URL.Path)
	if err != nil || !resolved.TerminalExists() {
		http.NotFound(w, r)
		return
	}

	decision, err := h.authorize(ctx, subjects, ownerIDOf(resolved), resolved.ResolvedLocation.SerializeToFullPath(), resource.Action{Kind: resource.ActionDelete})
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !decision.Granted {
		h.writeNeedPrivileges(w, resolved.ResolvedLocation.SerializeToFullPath(), decision)
		return
	}

	if resolved.Instance != nil {
		if _, err := h.store.SoftDeleteInstance(ctx, resolved.Instance.ID); err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if resolved.TerminalCollection != nil {
		if err := h.store.SoftDeleteCollection(ctx, resolved.TerminalCollection.ID); err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	http.NotFound(w, r)
}

func (h *Handlers) HandleMkcol(w http.ResponseWriter, r *http.Request) {
	h.createCollection(w, r, storage.CollectionGeneric)
}

func (h *Handlers) HandleMkcalendar(w http.ResponseWriter, r *http.Request) {
	h.createCollection(w, r, storage.CollectionCalendar)
}

func (h *Handlers) createCollection(w http.ResponseWriter, r *http.Request, kind storage.CollectionType) {
	ctx := r.Context()
	principal, _ := auth.PrincipalFrom(ctx)
	subjects := h.subjectsFor(ctx, principal)

	resolved, err := h.resolver.Resolve(ctx, r.URL.Path)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	parentID, slug, ok := newCollectionTarget(resolved)
	if !ok {
		http.Error(w, "collection already exists or path is not a collection target", http.StatusConflict)
		return
	}

	decision, err := h.authorize(ctx, subjects, ownerIDOf(resolved), resolved.ResolvedLocation.SerializeToFullPath(), resource.Action{Kind: resource.ActionWrite})
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !decision.Granted {
		h.writeNeedPrivileges(w, resolved.ResolvedLocation.SerializeToFullPath(), decision)
		return
	}
	if resolved.OwnerPrincipal == nil {
		http.Error(w, "owner principal does not exist", http.StatusConflict)
		return
	}

	body, _ := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	props := parseMkcolBody(body)

	coll := storage.Collection{
		OwnerPrincipalID: resolved.OwnerPrincipal.ID,
		ParentID:         parentID,
		Type:             kind,
		Slug:             slug,
		DisplayName:      props["displayname"],
		Description:      firstOf(props["calendar-description"], props["addressbook-description"]),
		TimezoneTZID:     props["calendar-timezone"],
	}
	if _, err := h.store.CreateCollection(ctx, coll); err != nil {
		if err == storage.ErrSlugConflict {
			w.WriteHeader(http.StatusConflict)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func firstOf(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// newCollectionTarget reports the parent id and slug to create when the
// request path names a collection that does not yet exist. Comparing
// CollectionChain's length against the number of collection segments the
// path requested (rather than just checking TerminalCollection, which is
// left pointing at the last segment that DID resolve, i.e. the parent, when
// the walk stops early) is what distinguishes "doesn't exist yet, create
// it" from "already exists".
func newCollectionTarget(resolved *pathresolver.Resolved) (parentID *string, slug string, ok bool) {
	term, has := resolved.PathLocation.Terminal()
	if !has || term.Kind != resource.SegCollection {
		return nil, "", false
	}
	wantSegs := 0
	for _, s := range resolved.PathLocation.Segments {
		if s.Kind == resource.SegCollection {
			wantSegs++
		}
	}
	if len(resolved.CollectionChain) >= wantSegs {
		return nil, "", false
	}
	if len(resolved.CollectionChain) > 0 {
		id := resolved.CollectionChain[len(resolved.CollectionChain)-1].ID
		parentID = &id
	}
	return parentID, term.Identifier.Slug, true
}

func (h *Handlers) HandleCopy(w http.ResponseWriter, r *http.Request) {
	h.copyOrMove(w, r, false)
}

func (h *Handlers) HandleMove(w http.ResponseWriter, r *http.Request) {
	h.copyOrMove(w, r, true)
}

func (h *Handlers) copyOrMove(w http.ResponseWriter, r *http.Request, move bool) {
	ctx := r.Context()
	principal, _ := auth.PrincipalFrom(ctx)
	subjects := h.subjectsFor(ctx, principal)

	src, err := h.resolver.Resolve(ctx, r.URL.Path)
	if err != nil || src.Instance == nil {
		http.NotFound(w, r)
		return
	}

	dest := r.Header.Get("Destination")
	if dest == "" {
		http.Error(w, "Destination header required", http.StatusBadRequest)
		return
	}
	destPath := stripOrigin(dest, h.cfg.HTTP.BasePath)
	dst, err := h.resolver.Resolve(ctx, destPath)
	if err != nil || dst.TerminalCollection == nil {
		http.Error(w, "destination collection does not exist", http.StatusConflict)
		return
	}
	destTerm, ok := dst.PathLocation.Terminal()
	if !ok || destTerm.Kind != resource.SegItem {
		http.Error(w, "destination must name an item", http.StatusBadRequest)
		return
	}

	srcDecision, err := h.authorize(ctx, subjects, ownerIDOf(src), src.ResolvedLocation.SerializeToFullPath(), resource.Action{Kind: resource.ActionRead})
	if err != nil || !srcDecision.Granted {
		h.writeNeedPrivileges(w, src.ResolvedLocation.SerializeToFullPath(), srcDecision)
		return
	}
	if move {
		srcDeleteDecision, err := h.authorize(ctx, subjects, ownerIDOf(src), src.ResolvedLocation.SerializeToFullPath(), resource.Action{Kind: resource.ActionDelete})
		if err != nil || !srcDeleteDecision.Granted {
			h.writeNeedPrivileges(w, src.ResolvedLocation.SerializeToFullPath(), srcDeleteDecision)
			return
		}
	}
	destAction := resource.Action{Kind: resource.ActionWrite}
	if dst.Instance != nil {
		destAction = resource.Action{Kind: resource.ActionEdit}
	}
	destDecision, err := h.authorize(ctx, subjects, ownerIDOf(dst), dst.ResolvedLocation.SerializeToFullPath(), destAction)
	if err != nil || !destDecision.Granted {
		h.writeNeedPrivileges(w, dst.ResolvedLocation.SerializeToFullPath(), destDecision)
		return
	}

	overwrite := !strings.EqualFold(r.Header.Get("Overwrite"), "F")
	if dst.Instance != nil && !overwrite {
		w.WriteHeader(http.StatusPreconditionFailed)
		return
	}

	res, err := h.store.CopyEntity(ctx, src.Instance.EntityID, dst.TerminalCollection.ID, destTerm.ItemName, src.Instance.ContentType, src.Instance.ETag, overwrite)
	if err != nil {
		mapWriteError(w, err)
		return
	}

	if move {
		if _, err := h.store.SoftDeleteInstance(ctx, src.Instance.ID); err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
	}

	w.Header().Set("ETag", `"`+res.ETag+`"`)
	if res.Created {
		w.WriteHeader(http.StatusCreated)
	} else {
		w.WriteHeader(http.StatusNoContent)
	}
}

func stripOrigin(dest, basePath string) string {
	if idx := strings.Index(dest, basePath); idx >= 0 {
		return dest[idx:]
	}
	return dest
}
