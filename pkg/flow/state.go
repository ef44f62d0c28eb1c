package flow

import (
	"github.com/google/uuid"
	"github.com/swordli/mitmproxy/pkg/httpmsg"
)

// State is a plain value tree representing a Flow, excluding transient
// flags (stickycookie, stickyauth, is_replay) and live connection
// handles (replaced by ConnIdentity snapshots). Restoring a State
// reconstructs the same object graph, including the backreference
// invariant.
type State struct {
	ID       string
	ConnType string

	ClientConn ConnIdentity
	ServerConn ConnIdentity

	Request  *RequestState
	Response *ResponseState
	Error    string // empty if no error
}

// RequestState is the persisted form of an httpmsg.Request.
type RequestState struct {
	FormIn, FormOut string
	Method          string
	Scheme          string
	Host            string
	Port            int
	Path            string
	HTTPMajor       int
	HTTPMinor       int
	Headers         [][2]string
	BodyState       int
	Body            []byte
}

// ResponseState is the persisted form of an httpmsg.Response.
type ResponseState struct {
	HTTPMajor int
	HTTPMinor int
	Code      int
	Msg       string
	Headers   [][2]string
	BodyState int
	Body      []byte
}

// StateTree serializes f, dropping transient per-request flags and
// replacing live connection handles with their identity snapshot.
func (f *Flow) StateTree() State {
	s := State{
		ID:         f.ID.String(),
		ConnType:   f.ConnType,
		ClientConn: f.ClientConn,
		ServerConn: f.ServerConn,
	}
	if f.Request != nil {
		s.Request = requestState(f.Request)
	}
	if f.Response != nil {
		s.Response = responseState(f.Response)
	}
	if f.Error != nil {
		s.Error = f.Error.Msg
	}
	return s
}

func requestState(r *httpmsg.Request) *RequestState {
	rs := &RequestState{
		FormIn:    string(r.FormIn),
		FormOut:   string(r.FormOut),
		Method:    r.Method,
		Scheme:    r.Scheme,
		Host:      r.Host,
		Port:      r.Port,
		Path:      r.Path,
		HTTPMajor: r.HTTPVersion.Major,
		HTTPMinor: r.HTTPVersion.Minor,
		BodyState: int(r.Content.State()),
		Body:      r.Content.Data(),
	}
	r.Headers.Each(func(name, value string) {
		rs.Headers = append(rs.Headers, [2]string{name, value})
	})
	return rs
}

func responseState(r *httpmsg.Response) *ResponseState {
	rs := &ResponseState{
		HTTPMajor: r.HTTPVersion.Major,
		HTTPMinor: r.HTTPVersion.Minor,
		Code:      r.Code,
		Msg:       r.Msg,
		BodyState: int(r.Content.State()),
		Body:      r.Content.Data(),
	}
	r.Headers.Each(func(name, value string) {
		rs.Headers = append(rs.Headers, [2]string{name, value})
	})
	return rs
}

// FromState restores a Flow from a previously serialized State,
// reattaching Request/Response through Attach so the backreference
// invariant holds on the restored object graph. The ID is preserved
// verbatim so round-trip equality holds; callers that want a fresh
// identity should overwrite f.ID afterward.
func FromState(s State) *Flow {
	f := &Flow{ConnType: s.ConnType, ClientConn: s.ClientConn, ServerConn: s.ServerConn}
	if id, err := uuid.Parse(s.ID); err == nil {
		f.ID = id
	}
	if s.Request != nil {
		Attach(f, restoreRequest(s.Request))
	}
	if s.Response != nil {
		Attach(f, restoreResponse(s.Response))
	}
	if s.Error != "" {
		Attach(f, NewError(s.Error))
	}
	return f
}

func restoreRequest(rs *RequestState) *httpmsg.Request {
	r := httpmsg.NewRequest(httpmsg.Form(rs.FormIn))
	r.FormOut = httpmsg.Form(rs.FormOut)
	r.Method = rs.Method
	r.Scheme = rs.Scheme
	r.Host = rs.Host
	r.Port = rs.Port
	r.Path = rs.Path
	r.HTTPVersion = httpmsg.HTTPVersion{Major: rs.HTTPMajor, Minor: rs.HTTPMinor}
	for _, kv := range rs.Headers {
		r.Headers.Add(kv[0], kv[1])
	}
	r.Content = bodyFromState(rs.BodyState, rs.Body)
	return r
}

func restoreResponse(rs *ResponseState) *httpmsg.Response {
	r := httpmsg.NewResponse()
	r.HTTPVersion = httpmsg.HTTPVersion{Major: rs.HTTPMajor, Minor: rs.HTTPMinor}
	r.Code = rs.Code
	r.Msg = rs.Msg
	for _, kv := range rs.Headers {
		r.Headers.Add(kv[0], kv[1])
	}
	r.Content = bodyFromState(rs.BodyState, rs.Body)
	return r
}

func bodyFromState(state int, data []byte) httpmsg.Body {
	switch httpmsg.BodyState(state) {
	case httpmsg.BodyPresent:
		return httpmsg.Bytes(data)
	case httpmsg.BodyElided:
		return httpmsg.Elided()
	default:
		return httpmsg.Absent()
	}
}
