// Package hostfix supplies a Host header to HTTP/1.1 requests that lack one.
// Firmware on small bench controllers often leaves it out and net/http
// answers such requests with 400.
package hostfix

import (
	"bytes"
	"net"
	"sync/atomic"

	"github.com/juju/errors"
)

const (
	maxLine   = 8 << 10
	maxHeader = 64 << 10
)

// Listener wraps accepted connections so their request headers get a Host
// line when missing.
type Listener struct {
	net.Listener
	Host string
}

func Wrap(l net.Listener, host string) *Listener {
	return &Listener{Listener: l, Host: host}
}

func (l *Listener) Accept() (net.Conn, error) {
	c, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	return newConn(c, l.Host), nil
}

type conn struct {
	net.Conn
	host string

	inHeader bool
	sawHost  bool
	line     []byte
	pending  bytes.Buffer

	// responded is set by Write; the next bytes read start a new request.
	responded uint32
}

func newConn(c net.Conn, host string) *conn {
	return &conn{Conn: c, host: host, inHeader: true}
}

func (c *conn) startHeader() {
	c.inHeader = true
	c.sawHost = false
	c.line = c.line[:0]
}

func (c *conn) Read(p []byte) (int, error) {
	for {
		if !c.inHeader {
			if c.pending.Len() > 0 {
				return c.pending.Read(p)
			}
			if atomic.SwapUint32(&c.responded, 0) == 0 {
				return c.Conn.Read(p)
			}
			c.startHeader()
		}

		n, err := c.Conn.Read(p)
		if n > 0 {
			if serr := c.scan(p[:n]); serr != nil {
				c.Conn.Close()
				return 0, serr
			}
		}
		if err != nil {
			if !c.inHeader || (c.pending.Len() == 0 && len(c.line) == 0) {
				return 0, err
			}
			// Hand over the truncated header and let net/http reject it.
			c.pending.Write(c.line)
			c.line = c.line[:0]
			c.inHeader = false
		}
	}
}

// scan copies header lines to pending until the blank line ending the
// header, inserting Host before it when needed.
func (c *conn) scan(data []byte) error {
	for i, b := range data {
		c.line = append(c.line, b)
		if len(c.line) > maxLine || c.pending.Len() > maxHeader {
			return errors.New("oversized request header")
		}
		if b != '\n' {
			continue
		}

		if len(bytes.TrimRight(c.line, "\r\n")) == 0 && c.pending.Len() > 0 {
			if !c.sawHost {
				c.pending.WriteString("Host: " + c.host + "\r\n")
			}
			c.pending.Write(c.line)
			c.pending.Write(data[i+1:])
			c.line = c.line[:0]
			c.inHeader = false
			return nil
		}

		if len(c.line) >= 5 && bytes.EqualFold(c.line[:5], []byte("host:")) {
			c.sawHost = true
		}
		c.pending.Write(c.line)
		c.line = c.line[:0]
	}
	return nil
}

func (c *conn) Write(p []byte) (int, error) {
	atomic.StoreUint32(&c.responded, 1)
	return c.Conn.Write(p)
}
