package proxy

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/swordli/mitmproxy/pkg/constants"
	"github.com/swordli/mitmproxy/pkg/errors"
	"github.com/swordli/mitmproxy/pkg/netio"
	"github.com/swordli/mitmproxy/pkg/proxylog"
	"github.com/swordli/mitmproxy/pkg/timing"
	"github.com/swordli/mitmproxy/pkg/tlsconfig"
	"github.com/swordli/mitmproxy/pkg/transport"
)

// newTLSConfig builds a *tls.Config bounded by the session's configured
// version profile and its matching recommended cipher suites.
func (s *Session) newTLSConfig() *tls.Config {
	cfg := &tls.Config{}
	profile := s.Config.tlsProfile()
	tlsconfig.ApplyVersionProfile(cfg, profile)
	tlsconfig.ApplyCipherSuites(cfg, profile.Min)
	return cfg
}

// CertProvider supplies the TLS server certificate to present to the
// client after a CONNECT, keyed by the SNI name the real origin would
// present. Dynamic CA-signed certificate generation is a collaborator
// outside this component's scope; the engine only consumes whatever
// *tls.Certificate this returns.
type CertProvider interface {
	Certificate(sni string) (*tls.Certificate, error)
}

// Session is the engine's per-connection context: the concrete
// implementation of the "Context contract" collaborators (§6) this
// module provides by default. It owns the client and server
// connections exclusively for the lifetime of one client connection.
type Session struct {
	Config Config
	Channel Channel
	Log     proxylog.Logger
	Certs   CertProvider

	Client *netio.Conn

	transport *transport.Transport
	Server    *netio.Conn

	mode Mode

	serverHost   string
	serverPort   int
	serverScheme string

	reconnect ReconnectStrategy

	// manualProxyDial is set while the session is dialing the forward
	// proxy's own address to drive a manual CONNECT replay, so dialServer
	// skips the transport's automatic proxy-CONNECT layering.
	manualProxyDial bool

	// connectMetrics is the timing breakdown of the most recent dial,
	// surfaced to the flow engine so it can attach one to each Flow.
	connectMetrics *timing.Metrics
}

// NewSession wires a Session around an accepted client connection.
func NewSession(client net.Conn, cfg Config, ch Channel, log proxylog.Logger, certs CertProvider, tr *transport.Transport) *Session {
	if ch == nil {
		ch = NopChannel{}
	}
	if log == nil {
		log = proxylog.Discard{}
	}
	if tr == nil {
		tr = transport.New()
	}
	return &Session{
		Config:    cfg,
		Channel:   ch,
		Log:       log,
		Certs:     certs,
		Client:    netio.New(client),
		transport: tr,
		mode:      cfg.Mode,
		reconnect: plainReconnect{},
	}
}

// EstablishServerConnection targets (host, port, scheme) and dials it
// if the current server connection does not already point there.
func (s *Session) EstablishServerConnection(host string, port int, scheme string) error {
	if s.Server != nil && s.serverHost == host && s.serverPort == port && s.serverScheme == scheme {
		return nil
	}
	s.serverHost, s.serverPort, s.serverScheme = host, port, scheme
	return s.dialServer(scheme != "https")
}

func (s *Session) dialServer(noSSL bool) error {
	if s.Server != nil {
		s.transport.CloseConnection(s.serverHost, s.serverPort, s.Server.Raw())
		s.Server = nil
	}

	connTimeout := constants.DefaultConnTimeout
	if s.Config.ConnTimeoutSeconds > 0 {
		connTimeout = time.Duration(s.Config.ConnTimeoutSeconds) * time.Second
	}
	scheme := s.serverScheme
	if noSSL {
		scheme = "http"
	}
	cfg := transport.Config{
		Scheme:          scheme,
		Host:            s.serverHost,
		Port:            s.serverPort,
		ReuseConnection: true,
		ConnTimeout:     connTimeout,
		ReadTimeout:     constants.DefaultReadTimeout,
	}
	if !noSSL && s.serverScheme == "https" {
		cfg.TLSConfig = s.newTLSConfig()
	}
	// The manual-replay path (connectViaUpstreamProxy / replayConnectReconnect)
	// dials the forward proxy's own address directly and drives the
	// CONNECT handshake itself, so the transport must not also layer
	// its own automatic proxy-CONNECT on top.
	if s.Config.ForwardProxy != nil && !s.manualProxyDial {
		cfg.Proxy = &transport.ProxyConfig{
			Type:     s.Config.ForwardProxy.Type,
			Host:     s.Config.ForwardProxy.Host,
			Port:     s.Config.ForwardProxy.Port,
			Username: s.Config.ForwardProxy.Username,
			Password: s.Config.ForwardProxy.Password,
		}
	}

	timer := timing.NewTimer()
	conn, _, err := s.transport.Connect(context.Background(), cfg, timer)
	if err != nil {
		return errors.NewConnectionError(s.serverHost, s.serverPort, err)
	}
	metrics := timer.GetMetrics()
	s.connectMetrics = &metrics
	s.Server = netio.New(conn)
	if !noSSL && s.serverScheme == "https" {
		s.Server.SetSSLEstablished(true)
	}
	return nil
}

// ServerReconnect invokes the currently installed reconnect strategy.
// Its default is a plain redial; CONNECT-through-upstream-proxy
// installs a composite strategy exactly once (see process.go).
func (s *Session) ServerReconnect(noSSL bool) error {
	return s.reconnect.Reconnect(s, noSSL)
}

// InstallReconnectStrategy swaps the session's reconnect slot. Called
// exactly once, at CONNECT-upgrade time, by the flow engine.
func (s *Session) InstallReconnectStrategy(rs ReconnectStrategy) {
	s.reconnect = rs
}

// replayConnect writes the original CONNECT request verbatim to the
// (plaintext) server connection and reads back the upstream proxy's
// literal response (status line plus headers, verbatim bytes) so the
// caller can forward it to the client rather than fabricate its own.
// Returns a proxy error carrying the parsed headers on a non-200
// status.
func (s *Session) replayConnect(connectLine []byte) (raw []byte, err error) {
	addr := fmt.Sprintf("%s:%d", s.serverHost, s.serverPort)
	if _, err := s.Server.Write(connectLine); err != nil {
		return nil, errors.NewProxyError(s.Config.ForwardProxy.Type, addr, "replay-connect-write", err)
	}
	if err := s.Server.Flush(); err != nil {
		return nil, errors.NewProxyError(s.Config.ForwardProxy.Type, addr, "replay-connect-flush", err)
	}
	statusLine, err := s.Server.ReadLine()
	if err != nil {
		return nil, errors.NewProxyError(s.Config.ForwardProxy.Type, addr, "replay-connect-read", err)
	}
	raw = append(raw, statusLine...)
	headers := map[string][]string{}
	for {
		line, err := s.Server.ReadLine()
		if err != nil {
			return nil, errors.NewProxyError(s.Config.ForwardProxy.Type, addr, "replay-connect-headers", err)
		}
		raw = append(raw, line...)
		if trimNewline(line) == "" {
			break
		}
		if name, value, ok := strings.Cut(trimNewline(line), ":"); ok {
			name = strings.TrimSpace(name)
			headers[name] = append(headers[name], strings.TrimSpace(value))
		}
	}
	if !containsStatus200(statusLine) {
		e := errors.NewProxyError(s.Config.ForwardProxy.Type, addr, "replay-connect-status", fmt.Errorf("upstream proxy refused CONNECT: %s", trimNewline(statusLine)))
		e.Headers = headers
		return nil, e
	}
	return raw, nil
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

func containsStatus200(statusLine string) bool {
	return len(statusLine) >= 12 && statusLine[9:12] == "200"
}

// upgradeServerTLS layers TLS on top of the current (plaintext) server
// connection, verified against sni — the real origin name, which may
// differ from serverHost when the connection was dialed to a forward
// proxy's own address.
func (s *Session) upgradeServerTLS(sni string) error {
	cfg := s.newTLSConfig()
	cfg.ServerName = sni
	tlsConn := tls.Client(s.Server.Raw(), cfg)
	if err := tlsConn.HandshakeContext(context.Background()); err != nil {
		return errors.NewTLSError(sni, s.serverPort, err)
	}
	s.Server.Upgrade(tlsConn)
	return nil
}

// UpgradeClientTLS layers TLS on the client-facing connection using a
// certificate from Certs for sni.
func (s *Session) UpgradeClientTLS(sni string) error {
	if s.Certs == nil {
		return errors.NewTLSError(sni, 0, fmt.Errorf("no certificate provider configured"))
	}
	cert, err := s.Certs.Certificate(sni)
	if err != nil {
		return errors.NewTLSError(sni, 0, err)
	}
	cfg := s.newTLSConfig()
	cfg.Certificates = []tls.Certificate{*cert}
	tlsConn := tls.Server(s.Client.Raw(), cfg)
	if err := tlsConn.HandshakeContext(context.Background()); err != nil {
		return errors.NewTLSError(sni, 0, err)
	}
	s.Client.Upgrade(tlsConn)
	return nil
}

// DetermineConnType reports the conntype the CONNECT target implies;
// this engine only speaks HTTP-over-TLS tunnels, so it is always
// "tls".
func (s *Session) DetermineConnType() string {
	return "tls"
}
