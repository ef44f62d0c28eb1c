package proxy

import (
	stderrors "errors"

	"github.com/swordli/mitmproxy/pkg/httpmsg"
	"github.com/swordli/mitmproxy/pkg/netio"
)

// sendToServer implements §4.6: assemble, write, flush, parse, with
// exactly one reconnect-and-retry on a transport disconnect. An idle
// keep-alive connection can have been closed by the peer between our
// connect and our write; without this one retry, every large,
// slow-to-upload request would be vulnerable to that race.
func (s *Session) sendToServer(req *httpmsg.Request) (*httpmsg.Response, error) {
	resp, err := s.exchangeOnce(req)
	if err == nil {
		return resp, nil
	}
	if !isDisconnect(err) {
		return nil, err
	}
	if reconnErr := s.ServerReconnect(false); reconnErr != nil {
		return nil, reconnErr
	}
	return s.exchangeOnce(req)
}

func (s *Session) exchangeOnce(req *httpmsg.Request) (*httpmsg.Response, error) {
	out, err := httpmsg.AssembleRequest(req)
	if err != nil {
		return nil, err
	}
	if _, err := s.Server.Write(out); err != nil {
		return nil, err
	}
	if err := s.Server.Flush(); err != nil {
		return nil, err
	}
	return httpmsg.ParseResponse(s.Server, req.Method, true, s.Config.BodySizeLimit, s.Config.SkipBodyOnLimit)
}

func isDisconnect(err error) bool {
	return stderrors.Is(err, netio.Disconnect)
}
