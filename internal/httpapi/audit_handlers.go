package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"inkwell.org/internal/apierr"
	"inkwell.org/internal/audit"
)

func (a *API) listAudit(w http.ResponseWriter, r *http.Request) {
	a.queryAudit(w, r, audit.Filter{
		ActorID:    r.URL.Query().Get("userId"),
		EntityType: r.URL.Query().Get("entityType"),
		EntityID:   r.URL.Query().Get("entityId"),
	})
}

func (a *API) auditByUser(w http.ResponseWriter, r *http.Request) {
	a.queryAudit(w, r, audit.Filter{ActorID: chi.URLParam(r, "userId")})
}

func (a *API) auditByEntity(w http.ResponseWriter, r *http.Request) {
	a.queryAudit(w, r, audit.Filter{
		EntityType: chi.URLParam(r, "entityType"),
		EntityID:   chi.URLParam(r, "entityId"),
	})
}

func (a *API) queryAudit(w http.ResponseWriter, r *http.Request, f audit.Filter) {
	if a.audit == nil {
		apierr.Write(w, r, apierr.NotFound("Audit log"))
		return
	}
	p, err := parsePage(r)
	if err != nil {
		apierr.Write(w, r, err)
		return
	}
	f.Limit, f.Offset = p.Limit, p.Offset
	entries, total, err := a.audit.Query(r.Context(), f)
	if err != nil {
		apierr.Write(w, r, apierr.Internal(err))
		return
	}
	writeList(w, entries, total, p)
}
