package http

import (
	"bytes"
	"errors"
)

// Parse limits.
const (
	MaxTargetLen   = 255
	MaxHeaderBytes = 8192
	maxMethodLen   = 16
)

// Parse errors. All of them terminate the connection; none produce a
// response (the dispatcher has not run yet).
var (
	ErrMalformed       = errors.New("http: malformed request")
	ErrInvalidTarget   = errors.New("http: invalid request target")
	ErrVersion         = errors.New("http: unsupported protocol version")
	ErrBodyNotAllowed  = errors.New("http: request bodies not supported")
	ErrUpgradeRefused  = errors.New("http: upgrade not supported")
	ErrHeadersTooLarge = errors.New("http: header block too large")
)

// Method is the subset of request methods the dispatcher distinguishes.
type Method uint8

const (
	MethodOther Method = iota
	MethodGet
)

type phase uint8

const (
	phaseRequestLine phase = iota
	phaseHeaders
	phaseDone
)

// Parser is an incremental HTTP/1.x request-head parser. Execute is fed the
// connection's buffered prefix and consumes complete CRLF-terminated lines;
// a partial trailing line is left for the next call. The parser owns the
// captured target bytes, so the read buffer may be reused once Done.
type Parser struct {
	phase    phase
	consumed int

	method    Method
	target    [MaxTargetLen]byte
	targetLen int

	proto11   bool
	connClose bool
	connKeep  bool
	keepAlive bool
}

// Reset reinitializes the parser for the next request on the connection.
func (p *Parser) Reset() {
	*p = Parser{}
}

// Done reports whether the full request head has been consumed.
func (p *Parser) Done() bool { return p.phase == phaseDone }

// Method returns the parsed request method class.
func (p *Parser) Method() Method { return p.method }

// Target returns the validated request target. Only meaningful once the
// request line has been consumed.
func (p *Parser) Target() []byte { return p.target[:p.targetLen] }

// KeepAlive reports the RFC 7230 connection persistence decision:
// HTTP/1.1 persists unless "Connection: close", HTTP/1.0 persists only on an
// explicit "Connection: keep-alive". Only meaningful once Done.
func (p *Parser) KeepAlive() bool { return p.keepAlive }

// Proto11 reports whether the request declared HTTP/1.1.
func (p *Parser) Proto11() bool { return p.proto11 }

// Execute consumes request-head bytes from buf, which must be the
// connection's buffered stream from offset zero on every call. It returns
// the total number of bytes consumed so far. Parsing stops without error at
// a partial line; it stops permanently at the empty line ending the head.
func (p *Parser) Execute(buf []byte) (int, error) {
	for p.phase != phaseDone {
		if p.consumed > MaxHeaderBytes {
			return p.consumed, ErrHeadersTooLarge
		}
		rest := buf[p.consumed:]
		nl := bytes.IndexByte(rest, '\n')
		if nl < 0 {
			return p.consumed, nil
		}
		if nl == 0 || rest[nl-1] != '\r' {
			return p.consumed, ErrMalformed
		}
		line := rest[:nl-1]
		p.consumed += nl + 1

		var err error
		switch p.phase {
		case phaseRequestLine:
			err = p.parseRequestLine(line)
		case phaseHeaders:
			if len(line) == 0 {
				p.finishHeaders()
				continue
			}
			err = p.parseHeaderLine(line)
		}
		if err != nil {
			return p.consumed, err
		}
	}
	return p.consumed, nil
}

func (p *Parser) parseRequestLine(line []byte) error {
	sp1 := bytes.IndexByte(line, ' ')
	if sp1 <= 0 || sp1 > maxMethodLen {
		return ErrMalformed
	}
	sp2 := bytes.IndexByte(line[sp1+1:], ' ')
	if sp2 < 0 {
		return ErrMalformed
	}
	sp2 += sp1 + 1

	method := line[:sp1]
	for _, c := range method {
		if c < 'A' || c > 'Z' {
			return ErrMalformed
		}
	}
	if bytes.Equal(method, []byte("GET")) {
		p.method = MethodGet
	} else {
		p.method = MethodOther
	}

	target := line[sp1+1 : sp2]
	if err := validateTarget(target); err != nil {
		return err
	}
	p.targetLen = copy(p.target[:], target)

	switch {
	case bytes.Equal(line[sp2+1:], []byte("HTTP/1.1")):
		p.proto11 = true
	case bytes.Equal(line[sp2+1:], []byte("HTTP/1.0")):
		p.proto11 = false
	default:
		return ErrVersion
	}

	p.phase = phaseHeaders
	return nil
}

func (p *Parser) parseHeaderLine(line []byte) error {
	colon := bytes.IndexByte(line, ':')
	if colon <= 0 {
		return ErrMalformed
	}
	key := line[:colon]
	value := bytes.TrimSpace(line[colon+1:])

	switch {
	case equalFold(key, []byte("Connection")):
		if equalFold(value, []byte("close")) {
			p.connClose = true
		} else if equalFold(value, []byte("keep-alive")) {
			p.connKeep = true
		}
	case equalFold(key, []byte("Content-Length")):
		if !bytes.Equal(value, []byte("0")) {
			return ErrBodyNotAllowed
		}
	case equalFold(key, []byte("Upgrade")):
		return ErrUpgradeRefused
	case equalFold(key, []byte("Transfer-Encoding")):
		return ErrBodyNotAllowed
	}
	return nil
}

func (p *Parser) finishHeaders() {
	if p.proto11 {
		p.keepAlive = !p.connClose
	} else {
		p.keepAlive = p.connKeep
	}
	p.phase = phaseDone
}

// validateTarget enforces the target grammar: non-empty, at most
// MaxTargetLen bytes, '/'-prefixed, charset [A-Za-z0-9/\-_.?=&], and free of
// the ".." and "//" sequences.
func validateTarget(t []byte) error {
	if len(t) == 0 || len(t) > MaxTargetLen || t[0] != '/' {
		return ErrInvalidTarget
	}
	var prev byte
	for _, c := range t {
		if !validTargetByte(c) {
			return ErrInvalidTarget
		}
		if (prev == '.' && c == '.') || (prev == '/' && c == '/') {
			return ErrInvalidTarget
		}
		prev = c
	}
	return nil
}

func validTargetByte(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '/', c == '-', c == '_', c == '.', c == '?', c == '=', c == '&':
		return true
	}
	return false
}

// equalFold is a byte-wise ASCII case-insensitive compare, enough for header
// names and connection tokens.
func equalFold(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ca, cb := a[i], b[i]
		if ca >= 'A' && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if cb >= 'A' && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
