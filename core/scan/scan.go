package scan

import (
	"bytes"
	"encoding/binary"

	"golang.org/x/sys/cpu"
)

// wideOK gates the word-at-a-time paths. On anything modern this is true;
// the byte loop remains as the portable fallback.
var wideOK bool

func init() {
	if cpu.X86.HasSSE42 || cpu.X86.HasAVX2 || cpu.ARM64.HasASIMD {
		wideOK = true
	}
}

var crlfcrlf = []byte("\r\n\r\n")

// FindHeaderEnd returns the index of the \r\n\r\n terminator in b, or -1.
// This is the cheap completion probe the reactor runs before committing to a
// full parse of a partial read.
func FindHeaderEnd(b []byte) int {
	if len(b) < 4 {
		return -1
	}
	return bytes.Index(b, crlfcrlf)
}

const (
	loBits = 0x0101010101010101
	hiBits = 0x8080808080808080
)

// ValidateASCII reports whether b is free of control bytes other than
// CR, LF and TAB. DEL counts as a control byte. Runs 8 bytes at a time when
// the CPU gate is up, falling back to the scalar loop on a dirty word.
func ValidateASCII(b []byte) bool {
	i := 0
	if wideOK {
		for ; i+8 <= len(b); i += 8 {
			w := binary.LittleEndian.Uint64(b[i:])
			// Any byte < 0x20 or == 0x7F makes the word suspect.
			below := (w - loBits*0x20) & ^w & hiBits
			del := hasByte(w, 0x7F)
			if below == 0 && !del {
				continue
			}
			if !validateScalar(b[i : i+8]) {
				return false
			}
		}
	}
	return validateScalar(b[i:])
}

// hasByte reports whether any byte of w equals c (SWAR zero-byte trick).
func hasByte(w uint64, c byte) bool {
	x := w ^ (loBits * uint64(c))
	return (x-loBits) & ^x & hiBits != 0
}

func validateScalar(b []byte) bool {
	for _, c := range b {
		if c < 0x20 {
			if c != '\r' && c != '\n' && c != '\t' {
				return false
			}
		} else if c == 0x7F {
			return false
		}
	}
	return true
}

// RepeatedByteRun reports whether, within the first window bytes of b, more
// than limit consecutive bytes each repeat the byte before them, that is, a
// run of at least limit+2 identical bytes anywhere in the window. This is the
// repeated-byte DoS heuristic carried over from the original flood guard;
// it is not part of HTTP and is disabled by default.
func RepeatedByteRun(b []byte, window, limit int) bool {
	if len(b) < window {
		window = len(b)
	}
	run := 0
	for i := 1; i < window; i++ {
		if b[i] == b[i-1] {
			run++
			if run > limit {
				return true
			}
		} else {
			run = 0
		}
	}
	return false
}
