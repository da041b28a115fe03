package proxy

import (
	"net/http"
	"net/url"
	"strings"
)

// target is a resolved upstream: its configured path prefix and parsed
// base URL.
type target struct {
	prefix string
	base   *url.URL
}

// resolveTargets parses the targets config map into an unordered route
// table; matchTarget picks the longest prefix match from it.
func resolveTargets(targets map[string]string) ([]target, error) {
	out := make([]target, 0, len(targets))
	for prefix, raw := range targets {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, target{prefix: prefix, base: u})
	}
	return out, nil
}

// matchTarget resolves the longest path-prefix match over ts for path.
func matchTarget(ts []target, path string) (target, string, bool) {
	var best target
	bestLen := -1
	for _, t := range ts {
		if strings.HasPrefix(path, t.prefix) && len(t.prefix) > bestLen {
			best = t
			bestLen = len(t.prefix)
		}
	}
	if bestLen < 0 {
		return target{}, "", false
	}
	remainder := strings.TrimPrefix(path, best.prefix)
	if remainder == "" {
		remainder = "/"
	} else if !strings.HasPrefix(remainder, "/") {
		remainder = "/" + remainder
	}
	return best, remainder, true
}

// domain returns the host component of an upstream URL.
func domain(u *url.URL) string {
	return u.Hostname()
}

// resolveTarget picks the upstream for r: the longest configured
// path-prefix match in reverse-proxy mode, or the request's own Host/
// scheme in forward-proxy mode. The MITM deployment (github.com/
// elazarl/goproxy) terminates TLS itself and re-presents the decrypted
// request here with an absolute https:// URL rather than r.TLS set, so
// both signals are checked.
func (h *Handler) resolveTarget(r *http.Request) (target, string, bool) {
	if !h.forward {
		return matchTarget(h.targets, r.URL.Path)
	}
	scheme := "http"
	if r.TLS != nil || r.URL.Scheme == "https" {
		scheme = "https"
	}
	host := r.Host
	if host == "" {
		return target{}, "", false
	}
	base, err := url.Parse(scheme + "://" + host)
	if err != nil {
		return target{}, "", false
	}
	return target{prefix: "", base: base}, r.URL.Path, true
}
