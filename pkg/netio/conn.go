// Package netio wraps a net.Conn with the buffered read/write and
// timestamp-tracking contract the message codec expects.
package netio

import (
	"bufio"
	"errors"
	"io"
	"net"
	"strconv"
	"time"
)

// Disconnect is raised on an unexpected EOF or reset while reading or
// writing, mirroring a transport-level NetLibDisconnect signal.
var Disconnect = errors.New("netio: connection disconnected")

// Conn wraps a net.Conn with a buffered reader/writer and the
// first-byte timestamp bookkeeping the codec uses to stamp
// TimestampStart on each parsed message.
type Conn struct {
	raw net.Conn
	br  *bufio.Reader
	bw  *bufio.Writer

	sslEstablished bool

	firstByteAt time.Time
	haveFirst   bool
}

// New wraps conn for codec use.
func New(conn net.Conn) *Conn {
	return &Conn{raw: conn, br: bufio.NewReader(conn), bw: bufio.NewWriter(conn)}
}

// Raw returns the underlying net.Conn.
func (c *Conn) Raw() net.Conn { return c.raw }

// Address returns the remote address as a (host, port) pair for
// identity comparison.
func (c *Conn) Address() (string, int) {
	if tcp, ok := c.raw.RemoteAddr().(*net.TCPAddr); ok {
		return tcp.IP.String(), tcp.Port
	}
	host, portStr, err := net.SplitHostPort(c.raw.RemoteAddr().String())
	if err != nil {
		return c.raw.RemoteAddr().String(), 0
	}
	port, _ := strconv.Atoi(portStr)
	return host, port
}

// SSLEstablished reports whether this connection has completed a TLS
// handshake.
func (c *Conn) SSLEstablished() bool { return c.sslEstablished }

// SetSSLEstablished records that conn has been replaced by a
// TLS-terminated connection (see Upgrade).
func (c *Conn) SetSSLEstablished(v bool) { c.sslEstablished = v }

// Upgrade replaces the wrapped net.Conn with a TLS-terminated one
// (typically the result of tls.Server/tls.Client.Handshake), resetting
// the buffered reader/writer and timestamps.
func (c *Conn) Upgrade(tlsConn net.Conn) {
	c.raw = tlsConn
	c.br = bufio.NewReader(tlsConn)
	c.bw = bufio.NewWriter(tlsConn)
	c.sslEstablished = true
	c.ResetTimestamps()
}

// ReadLine reads a single line, including its trailing newline if
// present, translating EOF/reset errors to Disconnect.
func (c *Conn) ReadLine() (string, error) {
	c.markFirstByte()
	line, err := c.br.ReadString('\n')
	if err != nil {
		if err == io.EOF && line != "" {
			return line, nil
		}
		return "", wrapDisconnect(err)
	}
	return line, nil
}

// ReadN reads exactly n bytes.
func (c *Conn) ReadN(n int) ([]byte, error) {
	c.markFirstByte()
	if n == 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.br, buf); err != nil {
		return nil, wrapDisconnect(err)
	}
	return buf, nil
}

// ReadUntilClose reads until EOF, used for bodies framed only by
// connection close.
func (c *Conn) ReadUntilClose() ([]byte, error) {
	c.markFirstByte()
	data, err := io.ReadAll(c.br)
	if err != nil && err != io.EOF {
		return nil, wrapDisconnect(err)
	}
	return data, nil
}

func (c *Conn) markFirstByte() {
	if !c.haveFirst {
		c.firstByteAt = time.Now()
		c.haveFirst = true
	}
}

// FirstByteTimestamp returns the time the first byte of the current
// logical message was observed.
func (c *Conn) FirstByteTimestamp() time.Time {
	if !c.haveFirst {
		return time.Now()
	}
	return c.firstByteAt
}

// ResetTimestamps clears the first-byte timestamp so the next read
// starts a fresh message timing window.
func (c *Conn) ResetTimestamps() {
	c.haveFirst = false
}

// Write writes b to the connection's buffered writer.
func (c *Conn) Write(b []byte) (int, error) {
	n, err := c.bw.Write(b)
	if err != nil {
		return n, wrapDisconnect(err)
	}
	return n, nil
}

// Flush flushes buffered writes to the underlying socket.
func (c *Conn) Flush() error {
	if err := c.bw.Flush(); err != nil {
		return wrapDisconnect(err)
	}
	return nil
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.raw.Close()
}

func wrapDisconnect(err error) error {
	if err == nil {
		return nil
	}
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return Disconnect
	}
	if ne, ok := err.(net.Error); ok && !ne.Timeout() {
		return Disconnect
	}
	return err
}
