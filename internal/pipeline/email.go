package pipeline

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
)

const peekLimit = 64 << 10

// peekEmail reads the JSON body far enough to find an "email" field and
// restores the body for the handler.
func peekEmail(r *http.Request) string {
	if r.Body == nil || r.Body == http.NoBody {
		return ""
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, peekLimit))
	rest := r.Body
	r.Body = readCloser{Reader: io.MultiReader(bytes.NewReader(raw), rest), Closer: rest}
	if err != nil || len(raw) == 0 {
		return ""
	}
	var body struct {
		Email string `json:"email"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(body.Email))
}

type readCloser struct {
	io.Reader
	io.Closer
}

// BruteForceKey returns "email|ip" when the body carries an email, else ip.
func BruteForceKey(ip KeyFunc) KeyFunc {
	return func(r *http.Request) string {
		addr := ip(r)
		if email := peekEmail(r); email != "" {
			return email + "|" + addr
		}
		return addr
	}
}
