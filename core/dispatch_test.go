package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/searchktools/bff-server/core/router"
)

func newDispatcher() dispatcher {
	return dispatcher{routes: router.Default(), keepAliveSecs: 10}
}

// parsedConn returns a reset connection whose parser has consumed raw.
func parsedConn(t *testing.T, raw string) *Conn {
	t.Helper()
	c := &Conn{}
	c.Reset()
	n, err := c.parser.Execute([]byte(raw))
	require.NoError(t, err)
	require.True(t, c.parser.Done())
	require.Equal(t, len(raw), n)
	return c
}

func (c *Conn) responseBytes() []byte {
	out := append([]byte{}, c.scratch[:c.scratchLen]...)
	return append(out, c.body...)
}

func TestDispatchHealthKeepAlive(t *testing.T) {
	d := newDispatcher()
	c := parsedConn(t, "GET /health HTTP/1.1\r\nHost: h\r\n\r\n")

	status := d.prepare(c)
	assert.Equal(t, 200, status)
	assert.Equal(t, StateWriting, c.state)
	assert.True(t, c.keepAlive)
	assert.Equal(t, 0, c.bytesSent)

	want := "HTTP/1.1 200 OK\r\n" +
		"Content-Type: application/json\r\n" +
		"Content-Length: 15\r\n" +
		"Server: BFF/1.0\r\n" +
		"X-Content-Type-Options: nosniff\r\n" +
		"X-Frame-Options: DENY\r\n" +
		"Connection: keep-alive\r\n" +
		"Keep-Alive: timeout=10\r\n" +
		"\r\n" +
		`{"status":"OK"}`
	assert.Equal(t, want, string(c.responseBytes()))
}

func TestDispatchQueryStripped(t *testing.T) {
	d := newDispatcher()
	c := parsedConn(t, "GET /health?probe=1&x=2 HTTP/1.1\r\nHost: h\r\n\r\n")
	assert.Equal(t, 200, d.prepare(c))
	assert.Contains(t, string(c.responseBytes()), `{"status":"OK"}`)
}

func TestDispatchUnknownRoute(t *testing.T) {
	d := newDispatcher()
	c := parsedConn(t, "GET /nope HTTP/1.1\r\nHost: h\r\nConnection: keep-alive\r\n\r\n")

	status := d.prepare(c)
	assert.Equal(t, 404, status)
	assert.False(t, c.keepAlive, "errors disable keep-alive")

	resp := string(c.responseBytes())
	assert.Contains(t, resp, "HTTP/1.1 404 Not Found\r\n")
	assert.Contains(t, resp, "Connection: close\r\n")
	assert.Contains(t, resp, `{"error":"Not Found"}`)
	assert.NotContains(t, resp, "Keep-Alive:")
}

func TestDispatchMethodNotAllowed(t *testing.T) {
	d := newDispatcher()
	c := parsedConn(t, "POST /health HTTP/1.1\r\nHost: h\r\nContent-Length: 0\r\n\r\n")

	status := d.prepare(c)
	assert.Equal(t, 405, status)
	assert.False(t, c.keepAlive)
	resp := string(c.responseBytes())
	assert.Contains(t, resp, "HTTP/1.1 405 Method Not Allowed\r\n")
	assert.Contains(t, resp, `{"error":"Method Not Allowed"}`)
}

func TestDispatchContentLengthMatchesBody(t *testing.T) {
	d := newDispatcher()
	for _, target := range []string{"/bonuses", "/settings", "/games", "/health", "/nope"} {
		c := parsedConn(t, "GET "+target+" HTTP/1.1\r\nHost: h\r\n\r\n")
		d.prepare(c)
		assert.LessOrEqual(t, c.scratchLen, HeaderScratchSize)
		assert.Contains(t, string(c.scratch[:c.scratchLen]),
			"Content-Length: "+itoa(len(c.body))+"\r\n", target)
	}
}

func itoa(n int) string { return string(appendInt(nil, n)) }

func TestDispatchScatterInvariant(t *testing.T) {
	d := newDispatcher()
	c := parsedConn(t, "GET /games HTTP/1.1\r\nHost: h\r\n\r\n")
	d.prepare(c)

	total := c.scratchLen + len(c.body)
	assert.Equal(t, total, c.pending())
	c.bytesSent = total
	assert.Equal(t, 0, c.pending())
}

func TestConnRoundTripResetMatchesAcquireState(t *testing.T) {
	d := newDispatcher()
	c := parsedConn(t, "GET /health HTTP/1.1\r\nHost: h\r\n\r\n")
	c.bytesRead = 33
	d.prepare(c)
	c.bytesSent = c.scratchLen + len(c.body)

	c.resetForNextRequest()

	fresh := &Conn{}
	fresh.Reset()
	assert.Equal(t, 0, c.bytesRead)
	assert.Equal(t, 0, c.bytesSent)
	assert.Equal(t, 0, c.scratchLen)
	assert.Nil(t, c.body)
	assert.False(t, c.parser.Done())
	assert.Equal(t, fresh.parser.Done(), c.parser.Done())
	assert.Equal(t, StateKeepAlive, c.state)
	assert.False(t, c.keepAlive)
}

func TestConnFreeInvariant(t *testing.T) {
	c := &Conn{}
	c.Reset()
	c.fd = 9
	c.MarkFree()
	assert.True(t, c.IsFree())
	assert.Equal(t, -1, c.fd)
	assert.False(t, c.timerHandle.Valid())
}
