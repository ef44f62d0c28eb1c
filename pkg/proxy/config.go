// Package proxy implements the intercepting HTTP/1.x flow engine: the
// per-connection state machine that parses requests, hands them to an
// inspector, forwards them upstream, and relays the response back.
package proxy

import "github.com/swordli/mitmproxy/pkg/tlsconfig"

// Mode selects how the engine establishes the server-facing
// connection for a given flow.
type Mode string

const (
	// ModeRegular is a normal explicit proxy: absolute-form and
	// authority-form (CONNECT) requests are handled directly.
	ModeRegular Mode = "regular"
	// ModeTransparent means the client already believes it is
	// talking straight to the origin; used after a CONNECT/TLS
	// upgrade and by transparent-redirect deployments.
	ModeTransparent Mode = "transparent"
	// ModeUpstream means every server connection is itself chained
	// through another HTTP proxy.
	ModeUpstream Mode = "upstream"
)

// UpstreamProxy names the forward proxy this engine chains through,
// when configured.
type UpstreamProxy struct {
	Type     string // "http", "https", "socks5"
	Host     string
	Port     int
	Username string
	Password string
}

// Config holds the engine's per-listener configuration.
type Config struct {
	Mode Mode

	// BodySizeLimit caps the body the codec will capture; 0 means
	// unlimited.
	BodySizeLimit int64
	// SkipBodyOnLimit selects BodyElided over a hard parse failure
	// when BodySizeLimit is exceeded.
	SkipBodyOnLimit bool

	Authenticator Authenticator
	ForwardProxy  *UpstreamProxy
	ServerVersion string

	// ConnTimeoutSeconds bounds the server-facing dial; zero means
	// constants.DefaultConnTimeout.
	ConnTimeoutSeconds int

	// TLSProfile bounds the version range negotiated on both the
	// server-facing dial and the client-facing MITM handshake. The
	// zero value falls back to tlsconfig.ProfileSecure.
	TLSProfile tlsconfig.VersionProfile
}

// tlsProfile returns cfg.TLSProfile, defaulting to ProfileSecure when
// unset.
func (cfg Config) tlsProfile() tlsconfig.VersionProfile {
	if cfg.TLSProfile.Min == 0 && cfg.TLSProfile.Max == 0 {
		return tlsconfig.ProfileSecure
	}
	return cfg.TLSProfile
}
