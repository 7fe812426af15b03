package wsclient

import (
	"net/url"
	"strings"
)

// ResolveBase picks the WebSocket base origin. An explicit wsBase wins;
// otherwise the API base is reused with its scheme swapped http(s) -> ws(s).
func ResolveBase(wsBase, apiBase string) string {
	base := strings.TrimSpace(wsBase)
	if base == "" {
		base = strings.TrimSpace(apiBase)
		if strings.HasPrefix(base, "https") {
			base = "wss" + strings.TrimPrefix(base, "https")
		} else if strings.HasPrefix(base, "http") {
			base = "ws" + strings.TrimPrefix(base, "http")
		}
	}
	return strings.TrimRight(base, "/")
}

// BuildURL joins a base origin, a server-relative path and the auth token.
// The transport has no custom headers, so the token rides as a query
// parameter.
func BuildURL(base, path, token string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u := base + path
	if token == "" {
		return u
	}
	sep := "?"
	if strings.Contains(u, "?") {
		sep = "&"
	}
	return u + sep + "token=" + url.QueryEscape(token)
}
