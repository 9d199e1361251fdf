package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"inkwell.org/internal/apierr"
	"inkwell.org/internal/audit"
	"inkwell.org/internal/auth"
)

var userAuditFields = []string{"username", "firstName", "lastName", "role", "isActive"}

type updateUserRequest struct {
	Username  *string `json:"username"`
	FirstName *string `json:"firstName"`
	LastName  *string `json:"lastName"`
	Role      *string `json:"role"`
	IsActive  *bool   `json:"isActive"`
}

func (a *API) listUsers(w http.ResponseWriter, r *http.Request) {
	p, err := parsePage(r)
	if err != nil {
		apierr.Write(w, r, err)
		return
	}
	list, total, err := a.users.ListUsers(r.Context(), p.Limit, p.Offset)
	if err != nil {
		apierr.Write(w, r, err)
		return
	}
	writeList(w, list, total, p)
}

func (a *API) getUser(w http.ResponseWriter, r *http.Request) {
	ident, err := a.users.GetUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		apierr.Write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": ident})
}

func (a *API) updateUser(w http.ResponseWriter, r *http.Request) {
	var req updateUserRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.Write(w, r, err)
		return
	}
	upd := auth.IdentityUpdate{
		Username:  req.Username,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		IsActive:  req.IsActive,
	}
	if req.Role != nil {
		role, err := auth.ParseRole(*req.Role)
		if err != nil {
			apierr.Write(w, r, apierr.InvalidInput("Validation failed", map[string]any{"role": "Unsupported role"}))
			return
		}
		upd.Role = &role
	}

	id := chi.URLParam(r, "id")
	var after *auth.Identity
	ok := a.mutate(w, r, entityUser, id, func(ctx context.Context) (audit.Change, error) {
		before, updated, err := a.users.UpdateUser(ctx, id, upd)
		if err != nil {
			return audit.Change{}, err
		}
		after = updated
		return audit.Change{
			Action:    ActionUserUpdated,
			ActorID:   actorID(r),
			OldValues: audit.Pick(before.Snapshot(), userAuditFields...),
			NewValues: audit.Pick(after.Snapshot(), userAuditFields...),
		}, nil
	})
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": after})
}

func (a *API) deleteUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == actorID(r) {
		apierr.Write(w, r, apierr.InvalidInput("Cannot delete your own account", nil))
		return
	}
	ok := a.mutate(w, r, entityUser, id, func(ctx context.Context) (audit.Change, error) {
		before, err := a.users.DeleteUser(ctx, id)
		if err != nil {
			return audit.Change{}, err
		}
		return audit.Change{
			Action:    ActionUserDeleted,
			ActorID:   actorID(r),
			OldValues: audit.Pick(before.Snapshot(), "email", "username", "role"),
		}, nil
	})
	if !ok {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
