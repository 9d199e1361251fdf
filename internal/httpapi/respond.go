package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"inkwell.org/internal/apierr"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apierr.InvalidInput("Request body is required", nil)
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apierr.InvalidInput("Request body too large", map[string]any{"limit": tooLarge.Limit})
		}
		return apierr.InvalidInput("Invalid JSON body", map[string]any{"body": err.Error()})
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return apierr.InvalidInput("Unexpected data after JSON body", nil)
	}
	return nil
}

type page struct {
	Limit  int
	Offset int
}

func parsePage(r *http.Request) (page, error) {
	p := page{Limit: 20}
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			return p, apierr.InvalidInput("Validation failed", map[string]any{"limit": "limit must be between 1 and 100"})
		}
		p.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return p, apierr.InvalidInput("Validation failed", map[string]any{"offset": "offset must be a non-negative integer"})
		}
		p.Offset = n
	}
	return p, nil
}

type listResponse[T any] struct {
	Data   []T `json:"data"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

func writeList[T any](w http.ResponseWriter, items []T, total int, p page) {
	if items == nil {
		items = []T{}
	}
	writeJSON(w, http.StatusOK, listResponse[T]{Data: items, Total: total, Limit: p.Limit, Offset: p.Offset})
}
