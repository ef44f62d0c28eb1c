// Package httpmsg implements the request/response entities and the
// parse/assemble message codec for the proxy's HTTP/1.x framing.
package httpmsg

import (
	"fmt"
	"io"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/swordli/mitmproxy/pkg/buffer"
	"github.com/swordli/mitmproxy/pkg/constants"
	"github.com/swordli/mitmproxy/pkg/errors"
	"github.com/swordli/mitmproxy/pkg/header"
)

// RFile is the read side of a connection, as consumed by the codec.
// Implementations live in package netio.
type RFile interface {
	ReadLine() (string, error)
	ReadN(n int) ([]byte, error)
	ReadUntilClose() ([]byte, error)
	FirstByteTimestamp() time.Time
	ResetTimestamps()
}

// WFile is the write side of a connection, as consumed by the codec.
type WFile interface {
	Write(b []byte) (int, error)
	Flush() error
}

const maxHeaderBytes = 64 * 1024

// hopByHop are stripped before assembling an outgoing message.
var hopByHop = []string{"Proxy-Connection", "Keep-Alive", "Connection", "Transfer-Encoding"}

// ParseRequest reads one HTTP request from rfile. includeContent
// controls whether the body is read at all; bodySizeLimit bounds it,
// and skipOnLimit selects the BodyElided policy instead of failing
// when the limit is exceeded.
func ParseRequest(rfile RFile, includeContent bool, bodySizeLimit int64, skipOnLimit bool) (*Request, error) {
	line, err := readRequestLine(rfile)
	if err != nil {
		return nil, err
	}
	if line == "" {
		return nil, io.EOF
	}

	method, target, version, err := splitRequestLine(line)
	if err != nil {
		return nil, errors.NewParseError("parse-request-line", err.Error(), nil)
	}

	req := &Request{Method: method, HTTPVersion: version, Headers: header.New()}
	req.TimestampStart = rfile.FirstByteTimestamp()

	switch {
	case target == "*":
		req.FormIn = FormAsterisk
	case strings.HasPrefix(target, "/"):
		if !isASCII(target) {
			return nil, errors.NewParseError("parse-request-line", "non-ASCII path in origin-form request", nil)
		}
		req.FormIn = FormOrigin
		req.Path = target
	case strings.EqualFold(method, "CONNECT"):
		host, port, err := splitHostPort(target, 443)
		if err != nil {
			return nil, errors.NewParseError("parse-request-line", "invalid CONNECT target: "+err.Error(), nil)
		}
		req.FormIn = FormAuthority
		req.Host, req.Port = host, port
	default:
		scheme, host, port, path, err := splitAbsoluteURL(target)
		if err != nil {
			return nil, errors.NewParseError("parse-request-line", "invalid absolute-form target: "+err.Error(), nil)
		}
		req.FormIn = FormAbsolute
		req.Scheme, req.Host, req.Port, req.Path = scheme, host, port, path
	}
	req.FormOut = req.FormIn

	headers, err := readHeaders(rfile)
	if err != nil {
		return nil, errors.NewParseError("parse-headers", err.Error(), nil)
	}
	req.Headers = headers

	if includeContent && req.FormIn != FormAuthority {
		body, err := readRequestBody(rfile, headers, bodySizeLimit, skipOnLimit)
		if err != nil {
			return nil, err
		}
		req.Content = body
	} else {
		req.Content = Absent()
	}
	req.TimestampEnd = time.Now()

	return req, nil
}

// readRequestLine tolerates a single leading blank line, the leftover
// CRLF from a previous keep-alive message's chunked trailer.
func readRequestLine(rfile RFile) (string, error) {
	line, err := rfile.ReadLine()
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(line) == "" {
		line, err = rfile.ReadLine()
		if err != nil {
			return "", err
		}
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func splitRequestLine(line string) (method, target string, version HTTPVersion, err error) {
	fields := strings.SplitN(line, " ", 3)
	if len(fields) != 3 {
		return "", "", HTTPVersion{}, fmt.Errorf("malformed request line %q", line)
	}
	version, err = parseHTTPVersion(fields[2])
	if err != nil {
		return "", "", HTTPVersion{}, err
	}
	return fields[0], fields[1], version, nil
}

func parseHTTPVersion(s string) (HTTPVersion, error) {
	var major, minor int
	if _, err := fmt.Sscanf(s, "HTTP/%d.%d", &major, &minor); err != nil {
		return HTTPVersion{}, fmt.Errorf("malformed HTTP version %q", s)
	}
	return HTTPVersion{Major: major, Minor: minor}, nil
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > 127 {
			return false
		}
	}
	return true
}

func splitHostPort(hostport string, defaultPort int) (string, int, error) {
	host, portStr, err := splitLast(hostport, ':')
	if err != nil {
		return hostport, defaultPort, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port %q", portStr)
	}
	return host, port, nil
}

func splitLast(s string, sep byte) (string, string, error) {
	i := strings.LastIndexByte(s, sep)
	if i < 0 {
		return "", "", fmt.Errorf("no %q in %q", sep, s)
	}
	return s[:i], s[i+1:], nil
}

func splitAbsoluteURL(raw string) (scheme, host string, port int, path string, err error) {
	schemeSep := strings.Index(raw, "://")
	if schemeSep < 0 {
		return "", "", 0, "", fmt.Errorf("missing scheme in %q", raw)
	}
	scheme = raw[:schemeSep]
	rest := raw[schemeSep+3:]

	pathSep := strings.IndexByte(rest, '/')
	var authority string
	if pathSep < 0 {
		authority = rest
		path = "/"
	} else {
		authority = rest[:pathSep]
		path = rest[pathSep:]
	}

	defaultPort := 80
	if strings.EqualFold(scheme, "https") {
		defaultPort = 443
	}
	host, port, err = splitHostPort(authority, defaultPort)
	if err != nil {
		return "", "", 0, "", err
	}
	return scheme, host, port, path, nil
}

func readHeaders(rfile RFile) (*header.Map, error) {
	m := header.New()
	total := 0
	for {
		line, err := rfile.ReadLine()
		if err != nil {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		total += len(line)
		if total > maxHeaderBytes {
			return nil, fmt.Errorf("header block exceeds %d bytes", maxHeaderBytes)
		}
		if line == "" {
			break
		}
		if (line[0] == ' ' || line[0] == '\t') && m.Len() > 0 {
			// continuation line
			names := m.Names()
			last := names[len(names)-1]
			vals := m.Get(last)
			if len(vals) > 0 {
				m.Set(last, vals[len(vals)-1]+" "+strings.TrimSpace(line))
			}
			continue
		}
		name, value, found := strings.Cut(line, ":")
		if !found {
			return nil, fmt.Errorf("malformed header line %q", line)
		}
		name = textproto.CanonicalMIMEHeaderKey(strings.TrimSpace(name))
		value = strings.TrimSpace(value)
		m.Add(name, value)
	}
	return m, nil
}

func readRequestBody(rfile RFile, h *header.Map, limit int64, skipOnLimit bool) (Body, error) {
	if te, ok := h.GetFirst("Transfer-Encoding"); ok && strings.EqualFold(te, "chunked") {
		return readChunked(rfile, limit, skipOnLimit)
	}
	if cl, ok := h.GetFirst("Content-Length"); ok {
		n, err := strconv.ParseInt(strings.TrimSpace(cl), 10, 64)
		if err != nil || n < 0 || n > constants.MaxContentLength {
			return Body{}, errors.NewParseError("parse-body", "invalid Content-Length", nil)
		}
		return readFixed(rfile, n, limit, skipOnLimit)
	}
	return Absent(), nil
}

// ParseResponse reads one HTTP response for a request made with
// forMethod. RFC 9110 body-presence rules apply: HEAD and
// 1xx/204/304 never have a body regardless of headers.
func ParseResponse(rfile RFile, forMethod string, includeContent bool, bodySizeLimit int64, skipOnLimit bool) (*Response, error) {
	line, err := rfile.ReadLine()
	if err != nil {
		return nil, err
	}
	line = strings.TrimRight(line, "\r\n")

	resp := &Response{Headers: header.New()}
	resp.TimestampStart = rfile.FirstByteTimestamp()

	fields := strings.SplitN(line, " ", 3)
	if len(fields) < 2 {
		return nil, errors.NewParseError("parse-status-line", fmt.Sprintf("malformed status line %q", line), nil)
	}
	version, err := parseHTTPVersion(fields[0])
	if err != nil {
		return nil, errors.NewParseError("parse-status-line", err.Error(), nil)
	}
	code, err := strconv.Atoi(fields[1])
	if err != nil {
		return nil, errors.NewParseError("parse-status-line", "invalid status code", nil)
	}
	msg := ""
	if len(fields) == 3 {
		msg = fields[2]
	}
	resp.HTTPVersion, resp.Code, resp.Msg = version, code, msg

	headers, err := readHeaders(rfile)
	if err != nil {
		return nil, errors.NewParseError("parse-headers", err.Error(), nil)
	}
	resp.Headers = headers

	hasNoBody := strings.EqualFold(forMethod, "HEAD") || (code >= 100 && code < 200) || code == 204 || code == 304
	if !includeContent || hasNoBody {
		resp.Content = Absent()
		resp.TimestampEnd = time.Now()
		return resp, nil
	}

	body, err := readResponseBody(rfile, headers, bodySizeLimit, skipOnLimit)
	if err != nil {
		return nil, err
	}
	resp.Content = body
	resp.TimestampEnd = time.Now()
	return resp, nil
}

func readResponseBody(rfile RFile, h *header.Map, limit int64, skipOnLimit bool) (Body, error) {
	if te, ok := h.GetFirst("Transfer-Encoding"); ok && strings.EqualFold(te, "chunked") {
		return readChunked(rfile, limit, skipOnLimit)
	}
	if cl, ok := h.GetFirst("Content-Length"); ok {
		n, err := strconv.ParseInt(strings.TrimSpace(cl), 10, 64)
		if err != nil || n < 0 || n > constants.MaxContentLength {
			return Body{}, errors.NewParseError("parse-body", "invalid Content-Length", nil)
		}
		return readFixed(rfile, n, limit, skipOnLimit)
	}
	raw, err := rfile.ReadUntilClose()
	if err != nil {
		return Body{}, errors.NewProtocolError("read response body until close", err)
	}
	if limit > 0 && int64(len(raw)) > limit {
		if skipOnLimit {
			return Elided(), nil
		}
		return Body{}, errors.NewBodyLimitError(limit)
	}
	return Bytes(raw), nil
}

func readFixed(rfile RFile, n, limit int64, skipOnLimit bool) (Body, error) {
	if limit > 0 && n > limit {
		if skipOnLimit {
			// Drain so the connection stays usable for the next message.
			if _, err := rfile.ReadN(int(n)); err != nil {
				return Body{}, errors.NewProtocolError("drain elided body", err)
			}
			return Elided(), nil
		}
		return Body{}, errors.NewBodyLimitError(limit)
	}
	if n == 0 {
		return Absent(), nil
	}
	b, err := rfile.ReadN(int(n))
	if err != nil {
		return Body{}, errors.NewProtocolError("read fixed-length body", err)
	}
	return Bytes(b), nil
}

// readChunked accumulates chunk data into a buffer.Buffer, which
// spills to disk once the payload crosses its in-memory threshold, so
// a large chunked body never forces the whole thing to live in RAM
// before the size limit check below gets a chance to reject it.
func readChunked(rfile RFile, limit int64, skipOnLimit bool) (Body, error) {
	buf := buffer.New(limit)
	defer buf.Close()
	var total int64
	for {
		sizeLine, err := rfile.ReadLine()
		if err != nil {
			return Body{}, errors.NewProtocolError("read chunk size", err)
		}
		sizeLine = strings.TrimRight(sizeLine, "\r\n")
		if i := strings.IndexByte(sizeLine, ';'); i >= 0 {
			sizeLine = sizeLine[:i]
		}
		size, err := strconv.ParseInt(strings.TrimSpace(sizeLine), 16, 64)
		if err != nil {
			return Body{}, errors.NewParseError("parse-chunk-size", "invalid chunk size", nil)
		}
		if size == 0 {
			// consume trailing headers until blank line
			for {
				l, err := rfile.ReadLine()
				if err != nil {
					return Body{}, errors.NewProtocolError("read chunk trailer", err)
				}
				if strings.TrimRight(l, "\r\n") == "" {
					break
				}
			}
			break
		}
		chunk, err := rfile.ReadN(int(size))
		if err != nil {
			return Body{}, errors.NewProtocolError("read chunk data", err)
		}
		total += size
		if limit > 0 && total > limit {
			if skipOnLimit {
				if err := drainChunkedTail(rfile); err != nil {
					return Body{}, err
				}
				return Elided(), nil
			}
			return Body{}, errors.NewBodyLimitError(limit)
		}
		if _, err := buf.Write(chunk); err != nil {
			return Body{}, errors.NewIOError("buffering chunk", err)
		}
		// consume trailing CRLF after chunk data
		if _, err := rfile.ReadLine(); err != nil {
			return Body{}, errors.NewProtocolError("read chunk terminator", err)
		}
	}
	r, err := buf.Reader()
	if err != nil {
		return Body{}, errors.NewIOError("reading buffered body", err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return Body{}, errors.NewIOError("reading buffered body", err)
	}
	return Bytes(data), nil
}

// drainChunkedTail consumes the remainder of a chunked body whose
// limit was already exceeded, so the connection stays framed
// correctly for whatever request follows.
func drainChunkedTail(rfile RFile) error {
	for {
		sizeLine, err := rfile.ReadLine()
		if err != nil {
			return errors.NewProtocolError("drain chunk size", err)
		}
		sizeLine = strings.TrimRight(sizeLine, "\r\n")
		if i := strings.IndexByte(sizeLine, ';'); i >= 0 {
			sizeLine = sizeLine[:i]
		}
		size, err := strconv.ParseInt(strings.TrimSpace(sizeLine), 16, 64)
		if err != nil {
			return errors.NewParseError("parse-chunk-size", "invalid chunk size", nil)
		}
		if size == 0 {
			for {
				l, err := rfile.ReadLine()
				if err != nil {
					return errors.NewProtocolError("drain chunk trailer", err)
				}
				if strings.TrimRight(l, "\r\n") == "" {
					return nil
				}
			}
		}
		if _, err := rfile.ReadN(int(size)); err != nil {
			return errors.NewProtocolError("drain chunk data", err)
		}
		if _, err := rfile.ReadLine(); err != nil {
			return errors.NewProtocolError("drain chunk terminator", err)
		}
	}
}

// AssembleRequest renders r per FormOut into a wire-ready byte slice.
// Hop-by-hop headers are stripped, Host is synthesized if absent, and
// Content-Length is derived from the body. Fails if Content is Elided.
func AssembleRequest(r *Request) ([]byte, error) {
	if r.Content.State() == BodyElided {
		return nil, errors.NewParseError("assemble-request", "cannot assemble a request with an elided body", nil)
	}

	_, hadTE := r.Headers.GetFirst("Transfer-Encoding")
	h := r.Headers.Clone()
	for _, name := range hopByHop {
		h.Delete(name)
	}
	if _, ok := h.GetFirst("Host"); !ok {
		h.Set("Host", hostHeaderValue(r.Scheme, r.Host, r.Port))
	}

	var buf strings.Builder
	switch r.FormOut {
	case FormAuthority:
		fmt.Fprintf(&buf, "%s %s:%d %s\r\n", r.Method, r.Host, r.Port, r.HTTPVersion)
	case FormAbsolute:
		fmt.Fprintf(&buf, "%s %s://%s%s %s\r\n", r.Method, r.Scheme, hostHeaderValue(r.Scheme, r.Host, r.Port), r.Path, r.HTTPVersion)
	default: // origin, asterisk
		path := r.Path
		if r.FormOut == FormAsterisk {
			path = "*"
		}
		fmt.Fprintf(&buf, "%s %s %s\r\n", r.Method, path, r.HTTPVersion)
	}

	setContentLength(h, r.Content, hadTE)
	buf.WriteString(h.String())
	buf.WriteString("\r\n")

	out := []byte(buf.String())
	out = append(out, r.Content.Data()...)
	return out, nil
}

// AssembleResponse renders resp into a wire-ready byte slice.
func AssembleResponse(resp *Response) ([]byte, error) {
	if resp.Content.State() == BodyElided {
		return nil, errors.NewParseError("assemble-response", "cannot assemble a response with an elided body", nil)
	}

	_, hadTE := resp.Headers.GetFirst("Transfer-Encoding")
	h := resp.Headers.Clone()
	h.Delete("Proxy-Connection")
	h.Delete("Transfer-Encoding")

	var buf strings.Builder
	fmt.Fprintf(&buf, "%s %d %s\r\n", resp.HTTPVersion, resp.Code, resp.Msg)

	setContentLength(h, resp.Content, hadTE)
	buf.WriteString(h.String())
	buf.WriteString("\r\n")

	out := []byte(buf.String())
	out = append(out, resp.Content.Data()...)
	return out, nil
}

// setContentLength derives an outgoing Content-Length from body, using
// hadTransferEncoding (the *pre-strip* presence of Transfer-Encoding on
// the original message) to decide the chunked-with-no-content
// passthrough case: "0" rather than omitting the header entirely.
func setContentLength(h *header.Map, body Body, hadTransferEncoding bool) {
	switch body.State() {
	case BodyPresent:
		h.Set("Content-Length", strconv.Itoa(body.Len()))
	case BodyAbsent:
		if hadTransferEncoding {
			h.Set("Content-Length", "0")
		}
	}
}

func hostHeaderValue(scheme, host string, port int) string {
	if port == 0 || defaultPort(scheme, port) {
		return host
	}
	return fmt.Sprintf("%s:%d", host, port)
}

// ConnectionClose reports whether either side signaled this
// connection should close after the current message: HTTP/1.0 without
// an explicit keep-alive, or an explicit "Connection: close".
func ConnectionClose(version HTTPVersion, h *header.Map) bool {
	if h.InAny("Connection", "close", true) {
		return true
	}
	if version.Major == 1 && version.Minor == 0 {
		return !h.InAny("Connection", "keep-alive", true)
	}
	return false
}
