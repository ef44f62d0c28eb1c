package unit

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/swordli/mitmproxy/pkg/header"
	"github.com/swordli/mitmproxy/pkg/httpmsg"
	"github.com/swordli/mitmproxy/pkg/netio"
)

// memConn is a minimal net.Conn backed by an in-memory reader/writer,
// enough to drive netio.Conn end to end without a real socket.
type memConn struct {
	r bytes.Reader
	w bytes.Buffer
}

func newMemConn(data string) *memConn {
	mc := &memConn{}
	mc.r.Reset([]byte(data))
	return mc
}

func (c *memConn) Read(p []byte) (int, error)         { return c.r.Read(p) }
func (c *memConn) Write(p []byte) (int, error)        { return c.w.Write(p) }
func (c *memConn) Close() error                       { return nil }
func (c *memConn) LocalAddr() net.Addr                { return fakeAddr{} }
func (c *memConn) RemoteAddr() net.Addr               { return fakeAddr{} }
func (c *memConn) SetDeadline(time.Time) error         { return nil }
func (c *memConn) SetReadDeadline(time.Time) error     { return nil }
func (c *memConn) SetWriteDeadline(time.Time) error    { return nil }

type fakeAddr struct{}

func (fakeAddr) Network() string { return "tcp" }
func (fakeAddr) String() string  { return "127.0.0.1:0" }

func TestParseRequestOriginFormWithFixedBody(t *testing.T) {
	raw := "POST /submit HTTP/1.1\r\nHost: example.com\r\nContent-Length: 5\r\n\r\nhello"
	conn := netio.New(newMemConn(raw))

	req, err := httpmsg.ParseRequest(conn, true, 0, false)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if req.FormIn != httpmsg.FormOrigin {
		t.Fatalf("expected origin form, got %v", req.FormIn)
	}
	if req.Method != "POST" || req.Path != "/submit" {
		t.Fatalf("unexpected method/path: %s %s", req.Method, req.Path)
	}
	if string(req.Content.Data()) != "hello" {
		t.Fatalf("unexpected body: %q", req.Content.Data())
	}
}

func TestParseRequestAbsoluteForm(t *testing.T) {
	raw := "GET http://example.com:8080/path HTTP/1.1\r\nHost: example.com:8080\r\n\r\n"
	conn := netio.New(newMemConn(raw))

	req, err := httpmsg.ParseRequest(conn, true, 0, false)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if req.FormIn != httpmsg.FormAbsolute {
		t.Fatalf("expected absolute form, got %v", req.FormIn)
	}
	if req.Scheme != "http" || req.Host != "example.com" || req.Port != 8080 || req.Path != "/path" {
		t.Fatalf("unexpected parse: %+v", req)
	}
}

func TestParseRequestConnectAuthorityForm(t *testing.T) {
	raw := "CONNECT example.com:443 HTTP/1.1\r\nHost: example.com:443\r\n\r\n"
	conn := netio.New(newMemConn(raw))

	req, err := httpmsg.ParseRequest(conn, true, 0, false)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if req.FormIn != httpmsg.FormAuthority {
		t.Fatalf("expected authority form, got %v", req.FormIn)
	}
	if req.Host != "example.com" || req.Port != 443 {
		t.Fatalf("unexpected host/port: %s %d", req.Host, req.Port)
	}
	if req.Content.State() != httpmsg.BodyAbsent {
		t.Fatalf("CONNECT must never read a body, got state %v", req.Content.State())
	}
}

func TestParseRequestChunkedBody(t *testing.T) {
	raw := "POST /up HTTP/1.1\r\nHost: h\r\nTransfer-Encoding: chunked\r\n\r\n" +
		"5\r\nhello\r\n6\r\n world\r\n0\r\n\r\n"
	conn := netio.New(newMemConn(raw))

	req, err := httpmsg.ParseRequest(conn, true, 0, false)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if string(req.Content.Data()) != "hello world" {
		t.Fatalf("unexpected dechunked body: %q", req.Content.Data())
	}
}

func TestParseRequestBodyLimitElided(t *testing.T) {
	raw := "POST /up HTTP/1.1\r\nHost: h\r\nContent-Length: 10\r\n\r\n0123456789"
	conn := netio.New(newMemConn(raw))

	req, err := httpmsg.ParseRequest(conn, true, 4, true)
	if err != nil {
		t.Fatalf("expected elided, not an error: %v", err)
	}
	if req.Content.State() != httpmsg.BodyElided {
		t.Fatalf("expected BodyElided, got %v", req.Content.State())
	}
}

func TestParseRequestBodyLimitFailsWithoutSkip(t *testing.T) {
	raw := "POST /up HTTP/1.1\r\nHost: h\r\nContent-Length: 10\r\n\r\n0123456789"
	conn := netio.New(newMemConn(raw))

	if _, err := httpmsg.ParseRequest(conn, true, 4, false); err == nil {
		t.Fatal("expected body-limit error")
	}
}

func TestAssembleRequestRejectsElidedBody(t *testing.T) {
	req := httpmsg.NewRequest(httpmsg.FormOrigin)
	req.Method = "POST"
	req.Path = "/x"
	req.Headers = header.New()
	req.Content = httpmsg.Elided()

	if _, err := httpmsg.AssembleRequest(req); err == nil {
		t.Fatal("expected assembly to fail on an elided body")
	}
}

func TestAssembleRequestStripsHopByHopAndSetsContentLength(t *testing.T) {
	req := httpmsg.NewRequest(httpmsg.FormOrigin)
	req.Method = "POST"
	req.Path = "/x"
	req.HTTPVersion = httpmsg.HTTPVersion{Major: 1, Minor: 1}
	req.Headers = header.New()
	req.Headers.Set("Host", "example.com")
	req.Headers.Set("Proxy-Connection", "keep-alive")
	req.Content = httpmsg.Bytes([]byte("abcd"))

	out, err := httpmsg.AssembleRequest(req)
	if err != nil {
		t.Fatalf("assemble failed: %v", err)
	}
	s := string(out)
	if bytes.Contains(out, []byte("Proxy-Connection")) {
		t.Fatalf("expected Proxy-Connection stripped, got %q", s)
	}
	if !bytes.Contains(out, []byte("Content-Length: 4")) {
		t.Fatalf("expected Content-Length: 4, got %q", s)
	}
}

func TestAssembleRequestChunkedWithNoContentGetsZeroContentLength(t *testing.T) {
	req := httpmsg.NewRequest(httpmsg.FormOrigin)
	req.Method = "POST"
	req.Path = "/x"
	req.HTTPVersion = httpmsg.HTTPVersion{Major: 1, Minor: 1}
	req.Headers = header.New()
	req.Headers.Set("Host", "example.com")
	req.Headers.Set("Transfer-Encoding", "chunked")
	req.Content = httpmsg.Absent()

	out, err := httpmsg.AssembleRequest(req)
	if err != nil {
		t.Fatalf("assemble failed: %v", err)
	}
	if bytes.Contains(out, []byte("Transfer-Encoding")) {
		t.Fatalf("expected Transfer-Encoding stripped, got %q", out)
	}
	if !bytes.Contains(out, []byte("Content-Length: 0")) {
		t.Fatalf("expected Content-Length: 0 for a chunked-with-no-content passthrough, got %q", out)
	}
}

func TestAssembleResponseChunkedWithNoContentGetsZeroContentLength(t *testing.T) {
	resp := httpmsg.NewResponse()
	resp.HTTPVersion = httpmsg.HTTPVersion{Major: 1, Minor: 1}
	resp.Code = 304
	resp.Msg = "Not Modified"
	resp.Headers.Set("Transfer-Encoding", "chunked")
	resp.Content = httpmsg.Absent()

	out, err := httpmsg.AssembleResponse(resp)
	if err != nil {
		t.Fatalf("assemble failed: %v", err)
	}
	if bytes.Contains(out, []byte("Transfer-Encoding")) {
		t.Fatalf("expected Transfer-Encoding stripped, got %q", out)
	}
	if !bytes.Contains(out, []byte("Content-Length: 0")) {
		t.Fatalf("expected Content-Length: 0 for a chunked-with-no-content passthrough, got %q", out)
	}
}

func TestParseResponseHeadHasNoBody(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\nContent-Length: 100\r\n\r\n"
	conn := netio.New(newMemConn(raw))

	resp, err := httpmsg.ParseResponse(conn, "HEAD", true, 0, false)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if resp.Content.State() != httpmsg.BodyAbsent {
		t.Fatalf("expected no body for HEAD response, got %v", resp.Content.State())
	}
}

func TestParseResponse204HasNoBody(t *testing.T) {
	raw := "HTTP/1.1 204 No Content\r\n\r\n"
	conn := netio.New(newMemConn(raw))

	resp, err := httpmsg.ParseResponse(conn, "GET", true, 0, false)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if resp.Content.State() != httpmsg.BodyAbsent {
		t.Fatalf("expected no body for 204, got %v", resp.Content.State())
	}
}

func TestResponseRoundTripThroughAssemble(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nhi"
	conn := netio.New(newMemConn(raw))

	resp, err := httpmsg.ParseResponse(conn, "GET", true, 0, false)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	out, err := httpmsg.AssembleResponse(resp)
	if err != nil {
		t.Fatalf("assemble failed: %v", err)
	}
	if !bytes.HasSuffix(out, []byte("hi")) {
		t.Fatalf("expected body preserved through round trip, got %q", out)
	}
}

func TestConnectionCloseHTTP10RequiresExplicitKeepAlive(t *testing.T) {
	h := header.New()
	if !httpmsg.ConnectionClose(httpmsg.HTTPVersion{Major: 1, Minor: 0}, h) {
		t.Fatal("expected HTTP/1.0 without keep-alive to close")
	}
	h.Set("Connection", "keep-alive")
	if httpmsg.ConnectionClose(httpmsg.HTTPVersion{Major: 1, Minor: 0}, h) {
		t.Fatal("expected explicit keep-alive to stay open")
	}
}

func TestConnectionCloseHTTP11DefaultsToKeepAlive(t *testing.T) {
	h := header.New()
	if httpmsg.ConnectionClose(httpmsg.HTTPVersion{Major: 1, Minor: 1}, h) {
		t.Fatal("expected HTTP/1.1 to default to keep-alive")
	}
	h.Set("Connection", "close")
	if !httpmsg.ConnectionClose(httpmsg.HTTPVersion{Major: 1, Minor: 1}, h) {
		t.Fatal("expected explicit close to be honored")
	}
}
