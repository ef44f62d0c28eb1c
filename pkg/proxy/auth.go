package proxy

import (
	"encoding/base64"
	"strings"

	"github.com/swordli/mitmproxy/pkg/header"
)

// Authenticator validates a request's proxy credentials in regular
// mode.
type Authenticator interface {
	// Authenticate reports whether h carries valid proxy credentials.
	Authenticate(h *header.Map) bool
	// Clean strips the credential header(s) before the request is
	// forwarded upstream.
	Clean(h *header.Map)
	// Challenge returns the headers to send back with a 407 when
	// Authenticate fails.
	Challenge() map[string][]string
}

// NoAuth accepts every request; the default when Config.Authenticator
// is nil.
type NoAuth struct{}

func (NoAuth) Authenticate(*header.Map) bool      { return true }
func (NoAuth) Clean(*header.Map)                  {}
func (NoAuth) Challenge() map[string][]string     { return nil }

// BasicAuth validates a Proxy-Authorization: Basic header against a
// fixed username/password and names a challenge realm.
type BasicAuth struct {
	Username string
	Password string
	Realm    string
}

func (b *BasicAuth) Authenticate(h *header.Map) bool {
	v, ok := h.GetFirst("Proxy-Authorization")
	if !ok {
		return false
	}
	const prefix = "Basic "
	if !strings.HasPrefix(v, prefix) {
		return false
	}
	decoded, err := base64.StdEncoding.DecodeString(v[len(prefix):])
	if err != nil {
		return false
	}
	user, pass, found := strings.Cut(string(decoded), ":")
	if !found {
		return false
	}
	return user == b.Username && pass == b.Password
}

func (b *BasicAuth) Clean(h *header.Map) {
	h.Delete("Proxy-Authorization")
}

func (b *BasicAuth) Challenge() map[string][]string {
	realm := b.Realm
	if realm == "" {
		realm = "mitmproxy"
	}
	return map[string][]string{
		"Proxy-Authenticate": {`Basic realm="` + realm + `"`},
	}
}
