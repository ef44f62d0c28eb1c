package proxy

import (
	"fmt"
	"time"

	"github.com/swordli/mitmproxy/pkg/errors"
	"github.com/swordli/mitmproxy/pkg/flow"
	"github.com/swordli/mitmproxy/pkg/header"
	"github.com/swordli/mitmproxy/pkg/httpmsg"
)

// classify maps a caught error to (status, message). A zero status
// means the error never reaches the client as a synthetic response.
func classify(err error) (status int, message string, extra map[string][]string) {
	if e, ok := err.(*errors.Error); ok {
		switch e.Type {
		case errors.ErrorTypeAuth:
			return 407, "Proxy Authentication Required", e.Headers
		case errors.ErrorTypeHTTP, errors.ErrorTypeProxy:
			msg := e.Message
			if msg == "" {
				msg = e.Error()
			}
			status := e.Status
			if status == 0 {
				status = 502
			}
			return status, msg, e.Headers
		case errors.ErrorTypeConnection, errors.ErrorTypeTLS, errors.ErrorTypeIO, errors.ErrorTypeTimeout:
			return 502, e.Error(), nil
		case errors.ErrorTypeValidation:
			status := e.Status
			if status == 0 {
				status = 400
			}
			return status, e.Error(), nil
		}
	}
	if isDisconnect(err) {
		return 502, err.Error(), nil
	}
	return 0, err.Error(), nil
}

// handleError classifies err, records it on f, notifies the
// inspector, and — if a status code was assigned — writes a synthetic
// HTML error response to the client. Failure to write is swallowed:
// the client may already be gone.
func (s *Session) handleError(f *flow.Flow, err error) {
	status, message, extraHeaders := classify(err)

	flow.Attach(f, flow.NewError(message))
	s.Channel.Ask(TopicError, f)

	if status == 0 {
		return
	}
	resp := synthesizeErrorResponse(status, message, s.Config.ServerVersion, extraHeaders)
	out, buildErr := httpmsg.AssembleResponse(resp)
	if buildErr != nil {
		return
	}
	_, _ = s.Client.Write(out)
	_ = s.Client.Flush()
}

func synthesizeErrorResponse(status int, message, serverVersion string, extra map[string][]string) *httpmsg.Response {
	body := []byte(fmt.Sprintf("<html><head><title>%d</title></head><body><h1>%d %s</h1><p>%s</p></body></html>",
		status, status, httpStatusText(status), message))

	h := header.New()
	if serverVersion != "" {
		h.Set("Server", serverVersion)
	}
	h.Set("Content-Type", "text/html")
	h.Set("Content-Length", fmt.Sprintf("%d", len(body)))
	h.Set("Connection", "close")
	for name, values := range extra {
		for _, v := range values {
			h.Add(name, v)
		}
	}

	return &httpmsg.Response{
		HTTPVersion:    httpmsg.HTTPVersion{Major: 1, Minor: 1},
		Code:           status,
		Msg:            httpStatusText(status),
		Headers:        h,
		Content:        httpmsg.Bytes(body),
		TimestampStart: time.Now(),
		TimestampEnd:   time.Now(),
	}
}

func httpStatusText(code int) string {
	switch code {
	case 400:
		return "Bad Request"
	case 407:
		return "Proxy Authentication Required"
	case 502:
		return "Bad Gateway"
	default:
		return "Error"
	}
}
