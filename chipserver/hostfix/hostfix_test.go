package hostfix

import (
	"bufio"
	"bytes"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chunkConn struct {
	net.Conn
	chunks  []string
	written bytes.Buffer
	closed  bool
}

func (c *chunkConn) Read(p []byte) (int, error) {
	if len(c.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, c.chunks[0])
	c.chunks = c.chunks[1:]
	return n, nil
}

func (c *chunkConn) Write(p []byte) (int, error) { return c.written.Write(p) }
func (c *chunkConn) Close() error                { c.closed = true; return nil }

func readOnce(t *testing.T, c net.Conn) string {
	buf := make([]byte, 4096)
	n, err := c.Read(buf)
	require.NoError(t, err)
	return string(buf[:n])
}

func TestAddsMissingHost(t *testing.T) {
	c := newConn(&chunkConn{chunks: []string{"GET /info HTTP/1.1\r\nAccept: */*\r\n\r\n"}}, "bench")
	assert.Equal(t, "GET /info HTTP/1.1\r\nAccept: */*\r\nHost: bench\r\n\r\n", readOnce(t, c))
}

func TestKeepsExistingHost(t *testing.T) {
	req := "GET /info HTTP/1.1\r\nhost: lab\r\n\r\n"
	c := newConn(&chunkConn{chunks: []string{req}}, "bench")
	assert.Equal(t, req, readOnce(t, c))
}

func TestHeaderSplitAcrossReads(t *testing.T) {
	cc := &chunkConn{chunks: []string{"POST /read HTTP/1.1\r\nContent-", "Length: 2\r\n", "\r\n{}"}}
	r, err := http.ReadRequest(bufio.NewReader(newConn(cc, "bench")))
	require.NoError(t, err)
	assert.Equal(t, "bench", r.Host)

	body, err := io.ReadAll(r.Body)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(body))
}

func TestKeepAlive(t *testing.T) {
	cc := &chunkConn{chunks: []string{
		"GET /info HTTP/1.1\r\nHost: lab\r\n\r\n",
		"GET /modified HTTP/1.1\r\n\r\n",
	}}
	c := newConn(cc, "bench")

	assert.Equal(t, "GET /info HTTP/1.1\r\nHost: lab\r\n\r\n", readOnce(t, c))
	_, err := c.Write([]byte("HTTP/1.1 200 OK\r\n\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "GET /modified HTTP/1.1\r\nHost: bench\r\n\r\n", readOnce(t, c))
}

func TestTruncatedHeaderPassedThrough(t *testing.T) {
	c := newConn(&chunkConn{chunks: []string{"GET / HTTP/1.1\r\nAcc"}}, "bench")
	assert.Equal(t, "GET / HTTP/1.1\r\nAcc", readOnce(t, c))

	_, err := c.Read(make([]byte, 16))
	assert.Equal(t, io.EOF, err)
}

func TestOversizedHeader(t *testing.T) {
	cc := &chunkConn{chunks: []string{"GET /" + strings.Repeat("a", maxLine)}}
	_, err := newConn(cc, "bench").Read(make([]byte, 2*maxLine))
	assert.Error(t, err)
	assert.True(t, cc.closed)
}
