package core

import (
	"bytes"

	"github.com/searchktools/bff-server/core/http"
	"github.com/searchktools/bff-server/core/router"
)

// dispatcher turns a parsed request into a prepared response: route lookup,
// header formatting into the connection's scratch buffer, and the
// two-segment scatter list for the vectored write.
type dispatcher struct {
	routes        *router.Table
	keepAliveSecs int
}

// prepare formats the response for c's parsed request and moves the
// connection to Writing. It returns the response status for accounting.
func (d *dispatcher) prepare(c *Conn) int {
	target := c.parser.Target()
	if i := bytes.IndexByte(target, '?'); i >= 0 {
		target = target[:i]
	}

	status := 200
	var body []byte
	keepAlive := c.parser.KeepAlive()

	switch {
	case len(target) == 0 || target[0] != '/':
		status = 400
		body = router.BodyBadRequest
		keepAlive = false
	case c.parser.Method() != http.MethodGet:
		status = 405
		body = router.BodyMethodNotAllowed
		keepAlive = false
	default:
		if b, ok := d.routes.Lookup(string(target)); ok {
			body = b
		} else {
			status = 404
			body = router.BodyNotFound
			keepAlive = false
		}
	}

	hdr := c.scratch[:0]
	hdr = append(hdr, "HTTP/1.1 "...)
	hdr = appendInt(hdr, status)
	hdr = append(hdr, ' ')
	hdr = append(hdr, statusText(status)...)
	hdr = append(hdr, "\r\nContent-Type: application/json\r\nContent-Length: "...)
	hdr = appendInt(hdr, len(body))
	hdr = append(hdr, "\r\nServer: BFF/1.0\r\n"...)
	hdr = append(hdr, "X-Content-Type-Options: nosniff\r\nX-Frame-Options: DENY\r\n"...)
	if keepAlive {
		hdr = append(hdr, "Connection: keep-alive\r\nKeep-Alive: timeout="...)
		hdr = appendInt(hdr, d.keepAliveSecs)
		hdr = append(hdr, "\r\n"...)
	} else {
		hdr = append(hdr, "Connection: close\r\n"...)
	}
	hdr = append(hdr, "\r\n"...)

	// Append reallocates past the scratch capacity; that is the overflow
	// signal. Cannot happen with the static route set, but the canned 500
	// keeps the invariant that a prepared response always fits.
	if len(hdr) > HeaderScratchSize {
		status = 500
		body = router.BodyInternalError
		keepAlive = false
		hdr = c.scratch[:0]
		hdr = append(hdr, "HTTP/1.1 500 Internal Server Error\r\nContent-Type: application/json\r\nContent-Length: "...)
		hdr = appendInt(hdr, len(body))
		hdr = append(hdr, "\r\nConnection: close\r\n\r\n"...)
	}

	c.scratchLen = len(hdr)
	c.body = body
	c.keepAlive = keepAlive
	c.bytesSent = 0
	c.state = StateWriting
	return status
}

func statusText(code int) string {
	switch code {
	case 200:
		return "OK"
	case 400:
		return "Bad Request"
	case 404:
		return "Not Found"
	case 405:
		return "Method Not Allowed"
	case 500:
		return "Internal Server Error"
	}
	return "Error"
}

// appendInt appends the decimal form of a non-negative int without
// allocating.
func appendInt(b []byte, i int) []byte {
	if i == 0 {
		return append(b, '0')
	}
	var digits [20]byte
	n := 0
	for i > 0 {
		digits[n] = byte('0' + i%10)
		i /= 10
		n++
	}
	for n > 0 {
		n--
		b = append(b, digits[n])
	}
	return b
}
