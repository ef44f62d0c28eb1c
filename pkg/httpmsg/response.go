package httpmsg

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/swordli/mitmproxy/pkg/header"
)

// Response is a parsed HTTP response.
type Response struct {
	HTTPVersion HTTPVersion
	Code        int
	Msg         string

	Headers *header.Map
	Content Body

	TimestampStart time.Time
	TimestampEnd   time.Time

	IsReplay bool

	flow interface{}
}

// NewResponse returns an empty Response.
func NewResponse() *Response {
	return &Response{Headers: header.New()}
}

// SetFlow installs the owning flow pointer; see flow.Attach.
func (r *Response) SetFlow(f interface{}) { r.flow = f }

// Flow returns the owning flow pointer, or nil if unattached.
func (r *Response) Flow() interface{} { return r.flow }

// Cookie is one parsed Set-Cookie line.
type Cookie struct {
	Name  string
	Value string
	Attrs map[string]string
}

// GetCookies parses every Set-Cookie header into name -> (value,
// attrs) pairs. Attribute keys are lower-cased; the value attribute
// itself is not included among attrs.
func (r *Response) GetCookies() []Cookie {
	var cookies []Cookie
	for _, line := range r.Headers.Get("Set-Cookie") {
		parts := strings.Split(line, ";")
		if len(parts) == 0 {
			continue
		}
		name, value, found := strings.Cut(strings.TrimSpace(parts[0]), "=")
		if !found {
			continue
		}
		c := Cookie{Name: strings.TrimSpace(name), Value: strings.TrimSpace(value), Attrs: map[string]string{}}
		for _, attr := range parts[1:] {
			attr = strings.TrimSpace(attr)
			if attr == "" {
				continue
			}
			k, v, found := strings.Cut(attr, "=")
			if found {
				c.Attrs[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
			} else {
				c.Attrs[strings.ToLower(k)] = ""
			}
		}
		cookies = append(cookies, c)
	}
	return cookies
}

// dateHeaders are the headers whose HTTP-date values get shifted by
// Refresh.
var dateHeaders = []string{"Date", "Expires", "Last-Modified"}

// parseHTTPDate tolerantly parses an HTTP-date, trying the three
// formats RFC 7231 names plus a couple of common variants browsers
// still emit.
func parseHTTPDate(s string) (time.Time, bool) {
	if t, err := http.ParseTime(s); err == nil {
		return t, true
	}
	layouts := []string{
		time.RFC1123,
		time.RFC1123Z,
		"Monday, 02-Jan-06 15:04:05 MST",
		time.ANSIC,
	}
	for _, l := range layouts {
		if t, err := time.Parse(l, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Refresh shifts Date/Expires/Last-Modified headers and every
// Set-Cookie expires attribute by (now - TimestampStart), so a stored
// response looks freshly issued when replayed at now. Unparseable
// dates are left as-is; unparseable cookie expires attributes are
// dropped rather than failing the whole operation.
func (r *Response) Refresh(now time.Time) {
	delta := now.Sub(r.TimestampStart)

	for _, name := range dateHeaders {
		v, ok := r.Headers.GetFirst(name)
		if !ok {
			continue
		}
		t, ok := parseHTTPDate(v)
		if !ok {
			continue
		}
		r.Headers.Set(name, t.Add(delta).UTC().Format(http.TimeFormat))
	}

	cookies := r.Headers.Get("Set-Cookie")
	if len(cookies) == 0 {
		return
	}
	r.Headers.Delete("Set-Cookie")
	for _, line := range cookies {
		r.Headers.Add("Set-Cookie", refreshCookieLine(line, delta))
	}
}

// refreshCookieLine shifts a single Set-Cookie line's expires
// attribute by delta, dropping it if unparseable.
func refreshCookieLine(line string, delta time.Duration) string {
	parts := strings.Split(line, ";")
	var out []string
	for i, part := range parts {
		trimmed := strings.TrimSpace(part)
		if i == 0 {
			out = append(out, part)
			continue
		}
		k, v, found := strings.Cut(trimmed, "=")
		if found && strings.EqualFold(strings.TrimSpace(k), "expires") {
			t, ok := parseHTTPDate(strings.TrimSpace(v))
			if !ok {
				// Unparseable: drop the attribute, keep the cookie.
				continue
			}
			out = append(out, " expires="+t.Add(delta).UTC().Format(http.TimeFormat))
			continue
		}
		out = append(out, part)
	}
	return strings.Join(out, ";")
}

// Size returns the rendered byte length of the status line plus
// headers plus body (logging/metrics only).
func (r *Response) Size() int {
	n := len(r.HTTPVersion.String()) + 1 + len(strconv.Itoa(r.Code)) + 1 + len(r.Msg) + 2
	r.Headers.Each(func(name, value string) {
		n += len(name) + len(value) + 4
	})
	n += r.Content.Len()
	return n
}
