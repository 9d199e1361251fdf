package audit

import (
	"context"
	"strings"
)

// RequestMeta is the request information copied into every entry.
type RequestMeta struct {
	RequestID string
	IPAddress string
	UserAgent string
}

type metaKey struct{}

// WithRequestMeta attaches request details to the context for audit entries.
func WithRequestMeta(ctx context.Context, meta RequestMeta) context.Context {
	meta.RequestID = strings.TrimSpace(meta.RequestID)
	return context.WithValue(ctx, metaKey{}, meta)
}

func metaFromContext(ctx context.Context) RequestMeta {
	if ctx == nil {
		return RequestMeta{}
	}
	m, _ := ctx.Value(metaKey{}).(RequestMeta)
	return m
}
