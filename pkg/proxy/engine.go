package proxy

import (
	"io"
	"net"
	"time"

	"github.com/swordli/mitmproxy/pkg/flow"
	"github.com/swordli/mitmproxy/pkg/httpmsg"
	"github.com/swordli/mitmproxy/pkg/netio"
	"github.com/swordli/mitmproxy/pkg/proxylog"
	"github.com/swordli/mitmproxy/pkg/transport"
)

// Engine runs the flow state machine over accepted client connections.
// One goroutine per connection is the expected deployment shape; the
// engine holds no mutable state shared between connections, so callers
// are free to call Serve concurrently from as many goroutines as they
// like.
type Engine struct {
	Config    Config
	Channel   Channel
	Log       proxylog.Logger
	Certs     CertProvider
	Transport *transport.Transport
}

// NewEngine returns an Engine ready to Serve connections.
func NewEngine(cfg Config, ch Channel, log proxylog.Logger, certs CertProvider) *Engine {
	return &Engine{Config: cfg, Channel: ch, Log: log, Certs: certs, Transport: transport.New()}
}

// Serve runs the flow state machine on conn until the loop ends, then
// closes conn. A CONNECT upgrade swaps the session's Client/Server
// connections to TLS in place and resumes the same loop, rather than
// unwinding to the caller; the final Transition is returned purely for
// observability (tests, logging) and is always TransitionNone once
// Serve returns, since there is no remaining work for the caller.
func (e *Engine) Serve(conn net.Conn) Transition {
	s := NewSession(conn, e.Config, e.Channel, e.Log, e.Certs, e.Transport)
	defer s.Client.Close()
	return e.ServeSession(s)
}

// ServeSession runs the state machine on an already-constructed
// Session, resuming across any number of TLS upgrades.
func (e *Engine) ServeSession(s *Session) Transition {
	for {
		t := e.run(s)
		if t == TransitionNone {
			return t
		}
	}
}

func (e *Engine) run(s *Session) Transition {
	for {
		f := flow.New()
		f.ClientConn = clientIdentity(s)

		req, err := httpmsg.ParseRequest(s.Client, true, s.Config.BodySizeLimit, s.Config.SkipBodyOnLimit)
		if err != nil {
			if err == io.EOF || err == netio.Disconnect {
				return TransitionNone
			}
			s.handleError(f, err)
			return TransitionNone
		}
		flow.Attach(f, req)
		s.Client.ResetTimestamps()

		reply := s.Channel.Ask(TopicRequest, f)
		switch v := reply.(type) {
		case *killSentinel:
			return TransitionNone
		case *flow.Flow:
			f = v
			req = f.Request
		case *httpmsg.Response:
			flow.Attach(f, v)
		}

		var resp *httpmsg.Response
		if f.Response != nil {
			resp = f.Response
		} else {
			outcome, err := s.processRequest(f, req)
			if err != nil {
				s.handleError(f, err)
				return TransitionNone
			}
			if s.connectMetrics != nil {
				f.Metrics = s.connectMetrics
			}
			if outcome.transition != TransitionNone {
				return outcome.transition
			}
			if f.Response == nil {
				resp, err = s.sendToServer(req)
				if err != nil {
					s.handleError(f, err)
					return TransitionNone
				}
			} else {
				resp = f.Response
			}
		}

		flow.Attach(f, resp)
		replyResp := s.Channel.Ask(TopicResponse, f)
		if _, killed := replyResp.(*killSentinel); killed {
			return TransitionNone
		}
		if v, ok := replyResp.(*flow.Flow); ok {
			f = v
			resp = f.Response
		}
		if v, ok := replyResp.(*httpmsg.Response); ok {
			flow.Attach(f, v)
			resp = v
		}

		out, err := httpmsg.AssembleResponse(resp)
		if err != nil {
			s.handleError(f, err)
			return TransitionNone
		}
		if _, err := s.Client.Write(out); err != nil {
			return TransitionNone
		}
		if err := s.Client.Flush(); err != nil {
			return TransitionNone
		}
		resp.TimestampEnd = time.Now()

		if httpmsg.ConnectionClose(req.HTTPVersion, req.Headers) || httpmsg.ConnectionClose(resp.HTTPVersion, resp.Headers) {
			return TransitionNone
		}
	}
}

func clientIdentity(s *Session) flow.ConnIdentity {
	host, port := s.Client.Address()
	return flow.ConnIdentity{Host: host, Port: port, TLS: s.Client.SSLEstablished()}
}
