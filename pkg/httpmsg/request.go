package httpmsg

import (
	"fmt"
	"strings"
	"time"

	"github.com/swordli/mitmproxy/pkg/header"
)

// Form identifies the shape of a request-line.
type Form string

const (
	FormAsterisk Form = "asterisk"
	FormOrigin   Form = "origin"
	FormAbsolute Form = "absolute"
	FormAuthority Form = "authority"
)

// HTTPVersion is a (major, minor) pair, e.g. (1, 1) for HTTP/1.1.
type HTTPVersion struct {
	Major int
	Minor int
}

func (v HTTPVersion) String() string {
	return fmt.Sprintf("HTTP/%d.%d", v.Major, v.Minor)
}

// Flags holds the mutable per-request behavior flags.
type Flags struct {
	StickyCookie bool
	StickyAuth   bool
	IsReplay     bool
}

// Request is a parsed HTTP request.
type Request struct {
	FormIn  Form // immutable after parse
	FormOut Form // defaults to FormIn, mutable before emission

	Method      string
	Scheme      string
	Host        string
	Port        int
	Path        string
	HTTPVersion HTTPVersion

	Headers *header.Map
	Content Body

	TimestampStart time.Time
	TimestampEnd   time.Time

	Flags Flags

	// flow is the owning flow, installed exclusively via Attach; see
	// package flow. Kept here as an opaque pointer so this package
	// does not import flow (which imports this package).
	flow interface{}
}

// NewRequest returns a Request with FormOut defaulted to form.
func NewRequest(form Form) *Request {
	return &Request{FormIn: form, FormOut: form, Headers: header.New()}
}

// SetFlow installs the owning flow pointer; see flow.Attach. It must
// only be called once per request.
func (r *Request) SetFlow(f interface{}) { r.flow = f }

// Flow returns the owning flow pointer, or nil if unattached.
func (r *Request) Flow() interface{} { return r.flow }

// Anticache strips conditional-GET headers so a replayed request is
// never satisfied from a cache.
func (r *Request) Anticache() {
	r.Headers.Delete("If-Modified-Since")
	r.Headers.Delete("If-None-Match")
}

// Anticomp asks the origin for an uncompressed response, useful when a
// replay will be inspected or rewritten.
func (r *Request) Anticomp() {
	r.Headers.Set("Accept-Encoding", "identity")
}

// ConstrainEncoding limits Accept-Encoding to codecs this proxy can
// decode, dropping any the proxy does not support (e.g. zstd).
func (r *Request) ConstrainEncoding(supported ...string) {
	vals, ok := r.Headers.GetFirst("Accept-Encoding")
	if !ok {
		return
	}
	supportedSet := make(map[string]bool, len(supported))
	for _, s := range supported {
		supportedSet[strings.ToLower(strings.TrimSpace(s))] = true
	}
	var kept []string
	for _, part := range strings.Split(vals, ",") {
		name := strings.ToLower(strings.TrimSpace(strings.SplitN(part, ";", 2)[0]))
		if supportedSet[name] {
			kept = append(kept, strings.TrimSpace(part))
		}
	}
	if len(kept) == 0 {
		r.Headers.Delete("Accept-Encoding")
		return
	}
	r.Headers.Set("Accept-Encoding", strings.Join(kept, ", "))
}

// GetCookies parses the Cookie header into a name->value map. Later
// values for a repeated name win, matching typical browser behavior.
func (r *Request) GetCookies() map[string]string {
	out := make(map[string]string)
	for _, line := range r.Headers.Get("Cookie") {
		for _, pair := range strings.Split(line, ";") {
			pair = strings.TrimSpace(pair)
			if pair == "" {
				continue
			}
			name, value, found := strings.Cut(pair, "=")
			if !found {
				continue
			}
			out[strings.TrimSpace(name)] = strings.TrimSpace(value)
		}
	}
	return out
}

// URL reconstructs the absolute URL this request targets, using
// Scheme/Host/Port when set (absolute/authority form) and falling
// back to headers' Host for origin form.
func (r *Request) URL() string {
	scheme := r.Scheme
	if scheme == "" {
		scheme = "http"
	}
	host := r.Host
	if host == "" {
		if h, ok := r.Headers.GetFirst("Host"); ok {
			host = h
		}
	}
	hostport := host
	if r.Port != 0 && !defaultPort(scheme, r.Port) {
		hostport = fmt.Sprintf("%s:%d", host, r.Port)
	}
	return scheme + "://" + hostport + r.Path
}

func defaultPort(scheme string, port int) bool {
	switch scheme {
	case "http":
		return port == 80
	case "https":
		return port == 443
	}
	return false
}

// Size returns the rendered byte length of the request's first line
// plus headers plus body, without performing the full assemble
// hop-by-hop stripping (used for logging/metrics only).
func (r *Request) Size() int {
	n := len(r.Method) + 1 + len(r.Path) + 1 + len(r.HTTPVersion.String()) + 2
	r.Headers.Each(func(name, value string) {
		n += len(name) + len(value) + 4
	})
	n += r.Content.Len()
	return n
}
