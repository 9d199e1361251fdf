package pipeline

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// KeyFunc derives a limiter key from a request.
type KeyFunc func(r *http.Request) string

// IPResolver extracts the client address. X-Forwarded-For is honoured only
// when the immediate peer is a trusted proxy.
type IPResolver struct {
	trusted []netip.Prefix
}

// NewIPResolver parses CIDRs or bare addresses.
func NewIPResolver(trusted []string) (*IPResolver, error) {
	prefixes, err := ParsePrefixes(trusted)
	if err != nil {
		return nil, err
	}
	return &IPResolver{trusted: prefixes}, nil
}

// ParsePrefixes accepts "10.0.0.0/8" and "10.1.2.3" forms.
func ParsePrefixes(list []string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, s := range list {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if strings.Contains(s, "/") {
			p, err := netip.ParsePrefix(s)
			if err != nil {
				return nil, fmt.Errorf("parse prefix %q: %w", s, err)
			}
			out = append(out, p.Masked())
			continue
		}
		a, err := netip.ParseAddr(s)
		if err != nil {
			return nil, fmt.Errorf("parse address %q: %w", s, err)
		}
		out = append(out, netip.PrefixFrom(a.Unmap(), a.Unmap().BitLen()))
	}
	return out, nil
}

func contains(prefixes []netip.Prefix, ip string) bool {
	a, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	a = a.Unmap()
	for _, p := range prefixes {
		if p.Contains(a) {
			return true
		}
	}
	return false
}

// ClientIP returns the resolved address, or "unknown".
func (res *IPResolver) ClientIP(r *http.Request) string {
	if ip, ok := r.Context().Value(clientIPKey{}).(string); ok {
		return ip
	}
	return res.resolve(r)
}

func (res *IPResolver) resolve(r *http.Request) string {
	peer := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(peer); err == nil {
		peer = host
	}
	if res != nil && len(res.trusted) > 0 && contains(res.trusted, peer) {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first := strings.TrimSpace(strings.Split(xff, ",")[0])
			if _, err := netip.ParseAddr(first); err == nil {
				return first
			}
		}
	}
	if peer == "" {
		return "unknown"
	}
	return peer
}

type clientIPKey struct{}

// Middleware resolves the address once and stores it in the context.
func (res *IPResolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), clientIPKey{}, res.resolve(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
