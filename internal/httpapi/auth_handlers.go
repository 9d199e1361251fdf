package httpapi

import (
	"context"
	"net/http"

	"inkwell.org/internal/apierr"
	"inkwell.org/internal/audit"
	"inkwell.org/internal/auth"
	"inkwell.org/internal/ids"
)

const (
	ActionUserRegistered = "USER_REGISTERED"
	ActionUserLogin      = "USER_LOGIN"
	ActionUserLogout     = "USER_LOGOUT"
	ActionUserUpdated    = "USER_UPDATED"
	ActionUserDeleted    = "USER_DELETED"

	entityUser = "User"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (a *API) register(w http.ResponseWriter, r *http.Request) {
	var in auth.RegisterInput
	if err := decodeJSON(r, &in); err != nil {
		apierr.Write(w, r, err)
		return
	}
	in.ID = ids.New()
	var sess *auth.Session
	ok := a.mutate(w, r, entityUser, in.ID, func(ctx context.Context) (audit.Change, error) {
		var err error
		sess, err = a.users.Register(ctx, in)
		if err != nil {
			return audit.Change{}, err
		}
		return audit.Change{
			Action:    ActionUserRegistered,
			ActorID:   sess.User.ID,
			NewValues: audit.Pick(sess.User.Snapshot(), "email", "username", "role"),
		}, nil
	})
	if !ok {
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	var in loginRequest
	if err := decodeJSON(r, &in); err != nil {
		apierr.Write(w, r, err)
		return
	}
	sess, err := a.users.Login(r.Context(), in.Email, in.Password)
	if err != nil {
		apierr.Write(w, r, err)
		return
	}
	err = a.recorder.Record(r.Context(), audit.Entry{
		Action:     ActionUserLogin,
		EntityType: entityUser,
		EntityID:   sess.User.ID,
		ActorID:    sess.User.ID,
	})
	if err != nil {
		w.Header().Set("X-Audit-Error", apierr.From(err).Code)
	}
	writeJSON(w, http.StatusOK, sess)
}

// logout is an acknowledgement; tokens are stateless and expire on their own.
func (a *API) logout(w http.ResponseWriter, r *http.Request) {
	id := actorID(r)
	err := a.recorder.Record(r.Context(), audit.Entry{
		Action:     ActionUserLogout,
		EntityType: entityUser,
		EntityID:   id,
		ActorID:    id,
	})
	if err != nil {
		w.Header().Set("X-Audit-Error", apierr.From(err).Code)
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Logged out"})
}

func (a *API) me(w http.ResponseWriter, r *http.Request) {
	ident, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		apierr.Write(w, r, apierr.Authentication(nil))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": ident})
}
