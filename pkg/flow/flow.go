// Package flow implements the Flow container: one HTTP transaction
// with its request, response, error, and connection identities.
package flow

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/swordli/mitmproxy/pkg/httpmsg"
	"github.com/swordli/mitmproxy/pkg/timing"
)

// ConnIdentity is a snapshot of a connection's identity, substituted
// for the live handle when a Flow is serialized to a state tree.
type ConnIdentity struct {
	Host string
	Port int
	TLS  bool
}

// Flow is exactly one HTTP transaction: a request, at most one of a
// response or an error, and the connections it traveled over.
type Flow struct {
	ID       uuid.UUID
	ConnType string // always "http" for this engine

	ClientConn ConnIdentity
	ServerConn ConnIdentity

	Request  *httpmsg.Request
	Response *httpmsg.Response
	Error    *Error

	Metrics *timing.Metrics
}

// New returns an empty Flow with a fresh ID.
func New() *Flow {
	return &Flow{ID: uuid.New(), ConnType: "http"}
}

// Attach installs f as child's owning flow, enforcing the
// backreference invariant: a child already attached to a different
// flow cannot be reattached. This replaces implicit setter
// interception with one explicit call site.
func Attach(f *Flow, child interface{}) {
	switch c := child.(type) {
	case *httpmsg.Request:
		assertReattachable(c.Flow(), f, "request")
		c.SetFlow(f)
		f.Request = c
	case *httpmsg.Response:
		assertReattachable(c.Flow(), f, "response")
		c.SetFlow(f)
		f.Response = c
	case *Error:
		if c.flow != nil && c.flow != f {
			panic("flow: error already belongs to another flow")
		}
		c.flow = f
		f.Error = c
	default:
		panic(fmt.Sprintf("flow: cannot attach child of type %T", child))
	}
}

func assertReattachable(existing interface{}, f *Flow, what string) {
	if existing == nil {
		return
	}
	if ef, ok := existing.(*Flow); ok && ef != nil && ef != f {
		panic("flow: " + what + " already belongs to another flow")
	}
}

// Copy returns a deep-enough copy of f suitable for replay: a new ID,
// independently attached Request and Response (each copied from its
// own counterpart, not from the other — the original Python
// HTTPFlow.copy bore a response-from-request typo this implementation
// does not reproduce).
func (f *Flow) Copy() *Flow {
	cp := &Flow{
		ID:         uuid.New(),
		ConnType:   f.ConnType,
		ClientConn: f.ClientConn,
		ServerConn: f.ServerConn,
	}
	if f.Request != nil {
		req := cloneRequest(f.Request)
		Attach(cp, req)
	}
	if f.Response != nil {
		resp := cloneResponse(f.Response)
		Attach(cp, resp)
	}
	if f.Error != nil {
		Attach(cp, &Error{Msg: f.Error.Msg, Timestamp: f.Error.Timestamp})
	}
	if f.Metrics != nil {
		m := *f.Metrics
		cp.Metrics = &m
	}
	return cp
}

func cloneRequest(r *httpmsg.Request) *httpmsg.Request {
	cp := &httpmsg.Request{
		FormIn:         r.FormIn,
		FormOut:        r.FormOut,
		Method:         r.Method,
		Scheme:         r.Scheme,
		Host:           r.Host,
		Port:           r.Port,
		Path:           r.Path,
		HTTPVersion:    r.HTTPVersion,
		Headers:        r.Headers.Clone(),
		Content:        r.Content,
		TimestampStart: r.TimestampStart,
		TimestampEnd:   r.TimestampEnd,
		Flags:          r.Flags,
	}
	return cp
}

func cloneResponse(r *httpmsg.Response) *httpmsg.Response {
	cp := &httpmsg.Response{
		HTTPVersion:    r.HTTPVersion,
		Code:           r.Code,
		Msg:            r.Msg,
		Headers:        r.Headers.Clone(),
		Content:        r.Content,
		TimestampStart: r.TimestampStart,
		TimestampEnd:   r.TimestampEnd,
		IsReplay:       r.IsReplay,
	}
	return cp
}
