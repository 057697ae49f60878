package ws

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// originPolicy decides which browser origins may open a WebSocket.
type originPolicy struct {
	allowAll bool
	allowed  map[string]struct{}
}

// newOriginPolicy builds a policy from the configured list. An empty list or
// a "*" entry allows every origin.
func newOriginPolicy(origins []string) originPolicy {
	p := originPolicy{allowed: make(map[string]struct{})}
	for _, o := range origins {
		o = strings.TrimSpace(o)
		switch {
		case o == "":
			continue
		case o == "*":
			p.allowAll = true
			continue
		}
		n, ok := normalizeOrigin(o)
		if !ok {
			slog.Warn("hub: ignoring invalid origin in configuration", "origin", o)
			continue
		}
		p.allowed[n] = struct{}{}
	}
	if len(p.allowed) == 0 {
		p.allowAll = true
	}
	return p
}

// normalizeOrigin lowercases scheme and host and drops everything else.
func normalizeOrigin(origin string) (string, bool) {
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host), true
}

// check is used as websocket.Upgrader.CheckOrigin.
func (p originPolicy) check(r *http.Request) bool {
	if p.allowAll {
		return true
	}
	header := r.Header.Get("Origin")
	n, ok := normalizeOrigin(header)
	if !ok {
		slog.Warn("hub: blocked connection without a valid origin", "origin", header, "remote", r.RemoteAddr)
		return false
	}
	if _, ok := p.allowed[n]; !ok {
		slog.Warn("hub: blocked connection from disallowed origin", "origin", header, "remote", r.RemoteAddr)
		return false
	}
	return true
}
