package proxy

// ReconnectStrategy re-establishes the server-facing connection for a
// flow. It replaces a monkey-patched server_reconnect function with an
// explicit, swappable slot: the CONNECT handler installs a composite
// strategy exactly once at upgrade time, and every later reconnect
// call site invokes whatever strategy is currently installed, with no
// live function replacement.
type ReconnectStrategy interface {
	// Reconnect tears down (if necessary) and re-establishes the
	// server connection on the given session, optionally skipping the
	// TLS layer (noSSL) so a composite strategy can interpose plain
	// bytes — e.g. a replayed CONNECT — before layering TLS itself.
	Reconnect(s *Session, noSSL bool) error
}

// plainReconnect just asks the session's transport to dial (host,
// port) again, applying TLS unless noSSL is set and the scheme calls
// for it.
type plainReconnect struct{}

func (plainReconnect) Reconnect(s *Session, noSSL bool) error {
	return s.dialServer(noSSL)
}

// replayConnectReconnect composes: plain reconnect without SSL, replay
// the recorded CONNECT request, validate the 200, then layer TLS. It
// is installed once by the CONNECT/upstream-proxy upgrade path (see
// connectViaUpstreamProxy in process.go) and from then on transparently honored by every
// subsequent reconnect call through the session's strategy slot.
type replayConnectReconnect struct {
	inner       ReconnectStrategy
	connectLine []byte // the original CONNECT request, verbatim
	targetHost  string // the real origin name, for TLS verification
}

func newReplayConnectReconnect(inner ReconnectStrategy, connectLine []byte, targetHost string) *replayConnectReconnect {
	return &replayConnectReconnect{inner: inner, connectLine: connectLine, targetHost: targetHost}
}

func (r *replayConnectReconnect) Reconnect(s *Session, noSSL bool) error {
	if err := r.inner.Reconnect(s, true); err != nil {
		return err
	}
	if _, err := s.replayConnect(r.connectLine); err != nil {
		return err
	}
	if noSSL {
		return nil
	}
	return s.upgradeServerTLS(r.targetHost)
}
