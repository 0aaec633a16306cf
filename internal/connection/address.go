package connection

import (
	"net/url"
	"strings"
)

// DefaultPath is the socket path used when Endpoint.Path is empty.
const DefaultPath = "/socket"

// BuildURL renders protocol://host[:port]/path[?params]. The port segment is
// left out entirely when Port is empty; the query is left out when params is
// empty.
func BuildURL(ep Endpoint, params url.Values) string {
	var b strings.Builder

	protocol := ep.Protocol
	if protocol == "" {
		protocol = "ws"
	}
	b.WriteString(protocol)
	b.WriteString("://")
	b.WriteString(ep.Host)
	if ep.Port != "" {
		b.WriteByte(':')
		b.WriteString(ep.Port)
	}

	path := ep.Path
	if path == "" {
		path = DefaultPath
	}
	if !strings.HasPrefix(path, "/") {
		b.WriteByte('/')
	}
	b.WriteString(path)

	if q := params.Encode(); q != "" {
		b.WriteByte('?')
		b.WriteString(q)
	}
	return b.String()
}

// TokenParams returns the query parameters carrying token, or nil when token
// is empty.
func TokenParams(token string) url.Values {
	if token == "" {
		return nil
	}
	return url.Values{"token": {token}}
}
