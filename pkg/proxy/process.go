package proxy

import (
	"github.com/swordli/mitmproxy/pkg/errors"
	"github.com/swordli/mitmproxy/pkg/flow"
	"github.com/swordli/mitmproxy/pkg/httpmsg"
)

// processOutcome tells Serve what to do after processRequest returns.
type processOutcome struct {
	// transition is non-zero when control must leave the HTTP loop
	// entirely (a CONNECT upgrade completed).
	transition Transition
}

// processRequest implements §4.5: authentication, CONNECT handling,
// upstream connection establishment, and form rewriting.
func (s *Session) processRequest(f *flow.Flow, req *httpmsg.Request) (processOutcome, error) {
	if s.mode == ModeRegular {
		auth := s.Config.Authenticator
		if auth == nil {
			auth = NoAuth{}
		}
		if !auth.Authenticate(req.Headers) {
			return processOutcome{}, errors.NewAuthRequiredError(auth.Challenge())
		}
		auth.Clean(req.Headers)
	}

	if req.FormIn == httpmsg.FormAuthority {
		if s.Client.SSLEstablished() {
			return processOutcome{}, errors.NewTunnelOnTLSError("CONNECT received on an already-TLS client connection")
		}
		if s.mode == ModeRegular && s.Config.ForwardProxy == nil {
			return s.connectDirect(req)
		}
		if s.Config.ForwardProxy != nil {
			return s.connectViaUpstreamProxy(req)
		}
		return processOutcome{}, errors.NewHTTPInvalidRequest("CONNECT not permitted in this mode")
	}

	switch req.FormIn {
	case httpmsg.FormAbsolute:
		if s.mode == ModeRegular {
			if req.Scheme != "http" && req.Scheme != "https" {
				return processOutcome{}, errors.NewHTTPInvalidRequest("unsupported scheme in absolute-form request: " + req.Scheme)
			}
			if s.Config.ForwardProxy == nil {
				req.FormOut = httpmsg.FormOrigin
			}
			if err := s.EstablishServerConnection(req.Host, req.Port, req.Scheme); err != nil {
				return processOutcome{}, err
			}
		}
		return processOutcome{}, nil
	case httpmsg.FormOrigin, httpmsg.FormAsterisk:
		if s.mode == ModeRegular {
			return processOutcome{}, errors.NewHTTPInvalidRequest("origin-form request requires transparent mode or an established tunnel")
		}
		return processOutcome{}, nil
	default:
		return processOutcome{}, errors.NewHTTPInvalidRequest("unrecognized request form")
	}
}

// connectDirect handles an authority-form request in regular mode with
// no upstream proxy: dial the target directly, tell the client the
// tunnel is open, and upgrade both sides to TLS.
func (s *Session) connectDirect(req *httpmsg.Request) (processOutcome, error) {
	// Dial plain TCP; upgradeBothSides layers the one TLS session.
	s.serverHost, s.serverPort, s.serverScheme = req.Host, req.Port, "https"
	if err := s.dialServer(true); err != nil {
		return processOutcome{}, err
	}
	if err := s.writeConnectEstablished(); err != nil {
		return processOutcome{}, err
	}
	if err := s.upgradeBothSides(req.Host); err != nil {
		return processOutcome{}, err
	}
	return processOutcome{transition: TransitionTLS}, nil
}

// connectViaUpstreamProxy handles an authority-form request when this
// proxy itself forwards through another HTTP proxy: the CONNECT is
// relayed upstream and the upstream's own literal response is forwarded
// to the client verbatim (no response of this proxy's own making), TLS
// is then established on both sides, and a composite reconnect strategy
// that replays the CONNECT is installed so future reconnects on this
// server connection redo the handshake.
func (s *Session) connectViaUpstreamProxy(req *httpmsg.Request) (processOutcome, error) {
	fp := s.Config.ForwardProxy
	// Every dial for this tunnel targets the forward proxy's own
	// address directly; the manual CONNECT replay below (and on every
	// later reconnect) is what actually reaches the real target, so
	// the transport must never layer its own proxy-CONNECT on top.
	s.manualProxyDial = true
	if err := s.EstablishServerConnection(fp.Host, fp.Port, "http"); err != nil {
		return processOutcome{}, err
	}

	connectReq := &httpmsg.Request{
		FormOut:     httpmsg.FormAuthority,
		Method:      "CONNECT",
		Host:        req.Host,
		Port:        req.Port,
		HTTPVersion: req.HTTPVersion,
		Headers:     req.Headers.Clone(),
		Content:     httpmsg.Absent(),
	}
	connectLine, err := httpmsg.AssembleRequest(connectReq)
	if err != nil {
		return processOutcome{}, err
	}

	upstreamResponse, err := s.replayConnect(connectLine)
	if err != nil {
		return processOutcome{}, err
	}

	if err := s.forwardRawToClient(upstreamResponse); err != nil {
		return processOutcome{}, err
	}

	s.InstallReconnectStrategy(newReplayConnectReconnect(plainReconnect{}, connectLine, req.Host))

	if err := s.upgradeBothSides(req.Host); err != nil {
		return processOutcome{}, err
	}
	return processOutcome{transition: TransitionTLS}, nil
}

// forwardRawToClient writes raw verbatim to the client connection and
// flushes it.
func (s *Session) forwardRawToClient(raw []byte) error {
	if _, err := s.Client.Write(raw); err != nil {
		return err
	}
	return s.Client.Flush()
}

func (s *Session) writeConnectEstablished() error {
	line := "HTTP/1.1 200 Connection established\r\nProxy-agent: " + s.serverVersionOrDefault() + "\r\n\r\n"
	if _, err := s.Client.Write([]byte(line)); err != nil {
		return err
	}
	return s.Client.Flush()
}

func (s *Session) serverVersionOrDefault() string {
	if s.Config.ServerVersion != "" {
		return s.Config.ServerVersion
	}
	return "mitmproxy"
}

func (s *Session) upgradeBothSides(sni string) error {
	s.mode = ModeTransparent
	if err := s.upgradeServerTLS(sni); err != nil {
		return err
	}
	if err := s.UpgradeClientTLS(sni); err != nil {
		return err
	}
	return nil
}
