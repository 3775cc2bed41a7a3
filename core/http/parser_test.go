package http

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseAll(t *testing.T, raw string) (*Parser, int, error) {
	t.Helper()
	p := &Parser{}
	n, err := p.Execute([]byte(raw))
	return p, n, err
}

func TestParserMinimalRequest(t *testing.T) {
	raw := "GET / HTTP/1.1\r\nHost: x\r\n\r\n"
	p, n, err := parseAll(t, raw)
	require.NoError(t, err)
	assert.True(t, p.Done())
	assert.Equal(t, len(raw), n)
	assert.Equal(t, MethodGet, p.Method())
	assert.Equal(t, "/", string(p.Target()))
	assert.True(t, p.KeepAlive())
	assert.True(t, p.Proto11())
}

func TestParserIncrementalFeed(t *testing.T) {
	raw := "GET /health HTTP/1.1\r\nHost: h\r\nAccept: */*\r\n\r\n"
	p := &Parser{}

	// Feed the stream a few bytes at a time; the parser only advances on
	// complete lines and never errors on a partial tail.
	for cut := 1; cut <= len(raw); cut += 7 {
		n, err := p.Execute([]byte(raw[:cut]))
		require.NoError(t, err, "cut=%d", cut)
		assert.LessOrEqual(t, n, cut)
	}
	n, err := p.Execute([]byte(raw))
	require.NoError(t, err)
	assert.True(t, p.Done())
	assert.Equal(t, len(raw), n)
	assert.Equal(t, "/health", string(p.Target()))
}

func TestParserKeepAliveDerivation(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want bool
	}{
		{"http11 default", "GET / HTTP/1.1\r\nHost: x\r\n\r\n", true},
		{"http11 close", "GET / HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n", false},
		{"http11 close case-insensitive", "GET / HTTP/1.1\r\nconnection: Close\r\n\r\n", false},
		{"http10 default", "GET / HTTP/1.0\r\nHost: x\r\n\r\n", false},
		{"http10 keep-alive", "GET / HTTP/1.0\r\nConnection: keep-alive\r\n\r\n", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, _, err := parseAll(t, tc.raw)
			require.NoError(t, err)
			require.True(t, p.Done())
			assert.Equal(t, tc.want, p.KeepAlive())
		})
	}
}

func TestParserRejections(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		err  error
	}{
		{"version 2.0", "GET / HTTP/2.0\r\n\r\n", ErrVersion},
		{"version 0.9", "GET / HTTP/0.9\r\n\r\n", ErrVersion},
		{"body via content-length", "POST / HTTP/1.1\r\nContent-Length: 1\r\n\r\n", ErrBodyNotAllowed},
		{"chunked body", "GET / HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n", ErrBodyNotAllowed},
		{"upgrade", "GET / HTTP/1.1\r\nUpgrade: websocket\r\n\r\n", ErrUpgradeRefused},
		{"missing spaces", "GET/HTTP/1.1\r\n\r\n", ErrMalformed},
		{"lowercase method", "get / HTTP/1.1\r\n\r\n", ErrMalformed},
		{"bare LF line ending", "GET / HTTP/1.1\nHost: x\n\n", ErrMalformed},
		{"header without colon", "GET / HTTP/1.1\r\nBogus\r\n\r\n", ErrMalformed},
		{"path traversal", "GET /../etc/passwd HTTP/1.1\r\n\r\n", ErrInvalidTarget},
		{"double slash", "GET //admin HTTP/1.1\r\n\r\n", ErrInvalidTarget},
		{"relative target", "GET health HTTP/1.1\r\n\r\n", ErrInvalidTarget},
		{"bad target byte", "GET /he%6Clth HTTP/1.1\r\n\r\n", ErrInvalidTarget},
		{"space is two targets", "GET / / HTTP/1.1\r\n\r\n", ErrVersion},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := parseAll(t, tc.raw)
			require.ErrorIs(t, err, tc.err)
		})
	}
}

func TestParserContentLengthZeroAllowed(t *testing.T) {
	p, _, err := parseAll(t, "POST /health HTTP/1.1\r\nHost: h\r\nContent-Length: 0\r\n\r\n")
	require.NoError(t, err)
	assert.True(t, p.Done())
	assert.Equal(t, MethodOther, p.Method())
}

func TestParserTargetLengthBoundary(t *testing.T) {
	// Exactly 255 bytes is accepted.
	ok := "/" + strings.Repeat("a", MaxTargetLen-1)
	p, _, err := parseAll(t, "GET "+ok+" HTTP/1.1\r\n\r\n")
	require.NoError(t, err)
	require.True(t, p.Done())
	assert.Len(t, p.Target(), MaxTargetLen)

	// 256 is rejected.
	over := "/" + strings.Repeat("a", MaxTargetLen)
	_, _, err = parseAll(t, "GET "+over+" HTTP/1.1\r\n\r\n")
	require.ErrorIs(t, err, ErrInvalidTarget)
}

func TestParserHeaderBlockTooLarge(t *testing.T) {
	raw := "GET / HTTP/1.1\r\n"
	for len(raw) <= MaxHeaderBytes {
		raw += "X-Filler: " + strings.Repeat("y", 100) + "\r\n"
	}
	raw += "\r\n"
	_, _, err := parseAll(t, raw)
	require.ErrorIs(t, err, ErrHeadersTooLarge)
}

func TestParserReset(t *testing.T) {
	p, _, err := parseAll(t, "GET /games HTTP/1.1\r\nConnection: close\r\n\r\n")
	require.NoError(t, err)
	require.True(t, p.Done())

	p.Reset()
	assert.False(t, p.Done())
	assert.Empty(t, p.Target())

	n, err := p.Execute([]byte("GET /bonuses HTTP/1.1\r\n\r\n"))
	require.NoError(t, err)
	assert.True(t, p.Done())
	assert.Equal(t, "/bonuses", string(p.Target()))
	assert.True(t, p.KeepAlive())
	assert.Equal(t, 25, n)
}
