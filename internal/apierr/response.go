package apierr

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
)

// Body is the wire shape of every rejection.
type Body struct {
	Error   string         `json:"error"`
	Code    string         `json:"code"`
	Details map[string]any `json:"details,omitempty"`
}

// Write renders err as a structured response. Internal causes are logged
// and never serialized.
func Write(w http.ResponseWriter, r *http.Request, err error) {
	e := From(err)
	if e == nil {
		return
	}
	if cause := e.Cause(); cause != nil {
		level := slog.LevelInfo
		if e.Status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		slog.Log(r.Context(), level, "request rejected",
			slog.String("kind", e.Kind.String()),
			slog.String("code", e.Code),
			slog.String("path", r.URL.Path),
			slog.String("cause", cause.Error()),
		)
	}

	switch e.Status {
	case http.StatusUnauthorized:
		w.Header().Set("WWW-Authenticate", `Bearer realm="inkwell"`)
	case http.StatusTooManyRequests:
		if ra := e.RetryAfter(); ra > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(ra.Seconds())))
		}
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(e.Status)
	_ = json.NewEncoder(w).Encode(Body{
		Error:   e.Message,
		Code:    e.Code,
		Details: e.Details,
	})
}
