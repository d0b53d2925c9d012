// Package cors implements handshake path routing and origin enforcement
// for the WebSocket upgrade: selecting (ErrorStyle, QueryType) from the
// request path, and applying the configured origin policy before the
// upgrade is allowed to proceed.
package cors

import (
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"github.com/relaygate/gqlgw/protocol"
)

// ErrUnknownPath is returned by Route when the request path doesn't
// match one of the three recognized handshake paths.
var ErrUnknownPath = errors.New("unrecognized graphql-ws handshake path")

// ErrOriginDenied is returned by Policy.Check when the Origin header
// fails the configured policy.
var ErrOriginDenied = errors.New("origin not allowed")

// routeTable maps the three fixed handshake paths to their
// (ErrorStyle, QueryType) pair.
var routeTable = map[string]struct {
	style protocol.ErrorStyle
	qtype protocol.QueryType
}{
	"/v1alpha1/graphql": {protocol.ErrorStyleLegacy, protocol.QueryTypeHasura},
	"/v1/graphql":       {protocol.ErrorStyleCompliant, protocol.QueryTypeHasura},
	"/v1beta1/relay":    {protocol.ErrorStyleCompliant, protocol.QueryTypeRelay},
}

// Route selects (ErrorStyle, QueryType) from the upgrade request's URL
// path. Any path outside the fixed table is rejected.
func Route(path string) (protocol.ErrorStyle, protocol.QueryType, error) {
	entry, ok := routeTable[path]
	if !ok {
		return "", "", ErrUnknownPath
	}
	return entry.style, entry.qtype, nil
}

// hopByHopHeaders are upgrade-only headers that must never be retained
// past the handshake.
var hopByHopHeaders = []string{
	"Sec-Websocket-Key",
	"Sec-Websocket-Version",
	"Upgrade",
	"Connection",
}

// StripHopByHop removes upgrade-only headers from a retained header
// set, returning a fresh http.Header so the caller's original headers
// (e.g. the *http.Request's) are left untouched.
func StripHopByHop(h http.Header) http.Header {
	out := h.Clone()
	for _, name := range hopByHopHeaders {
		out.Del(name)
	}
	return out
}

// Policy decides whether an upgrade request's Origin is acceptable and
// how the handshake's headers should be filtered before being retained
// on the connection.
type Policy interface {
	// Check validates the request's Origin header, returning
	// ErrOriginDenied if it is disallowed.
	Check(r *http.Request) error

	// FilterHeaders returns the header set to retain on the connection,
	// applying whatever cookie/log policy this implementation carries.
	FilterHeaders(h http.Header, log func(msg string)) http.Header
}

// AllowAll passes every origin, and every header except the hop-by-hop
// ones, through unmodified.
type AllowAll struct{}

func (AllowAll) Check(r *http.Request) error { return nil }

func (AllowAll) FilterHeaders(h http.Header, log func(msg string)) http.Header {
	return StripHopByHop(h)
}

// Disabled accepts any origin but, unless ReadCookie is set, strips the
// Cookie header and logs a one-line note — used for environments where
// CORS is turned off but cookie-based session leakage across origins
// still needs to be prevented by default.
type Disabled struct {
	ReadCookie bool
}

func (Disabled) Check(r *http.Request) error { return nil }

func (d Disabled) FilterHeaders(h http.Header, log func(msg string)) http.Header {
	out := StripHopByHop(h)
	if !d.ReadCookie && out.Get("Cookie") != "" {
		out.Del("Cookie")
		if log != nil {
			log("CORS is disabled and read-cookie is false: stripping Cookie header from handshake")
		}
	}
	return out
}

// AllowedOrigins requires the Origin header to equal one of Domains or
// match one of Wildcards (each a suffix pattern like "*.example.com").
type AllowedOrigins struct {
	Domains   []string
	Wildcards []string
}

func (a AllowedOrigins) Check(r *http.Request) error {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return errors.Wrap(ErrOriginDenied, "missing Origin header")
	}

	for _, d := range a.Domains {
		if origin == d {
			return nil
		}
	}

	host := stripScheme(origin)
	for _, w := range a.Wildcards {
		if matchWildcard(w, host) {
			return nil
		}
	}

	return errors.Wrapf(ErrOriginDenied, "origin %q is not in the allow list", origin)
}

func (AllowedOrigins) FilterHeaders(h http.Header, log func(msg string)) http.Header {
	return StripHopByHop(h)
}

func stripScheme(origin string) string {
	if i := strings.Index(origin, "://"); i >= 0 {
		return origin[i+3:]
	}
	return origin
}

// matchWildcard matches a "*.example.com" style pattern against a bare
// host. A pattern with no "*" must equal the host exactly.
func matchWildcard(pattern, host string) bool {
	if !strings.Contains(pattern, "*") {
		return pattern == host
	}
	suffix := strings.TrimPrefix(pattern, "*")
	return strings.HasSuffix(host, suffix) && len(host) > len(suffix)
}
