package core

import (
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/searchktools/bff-server/core/http"
	"github.com/searchktools/bff-server/core/timer"
)

// Conn is the per-connection record. Records are allocated once at worker
// startup, owned by exactly one worker at a time, and reused indefinitely
// through the pool. All buffers are fixed arrays so a record never allocates
// on the hot path.
type Conn struct {
	fd    int
	state int
	peer  unix.Sockaddr // captured at accept, observability only

	parser    http.Parser
	keepAlive bool

	readBuf   [ReadBufferSize]byte
	bytesRead int

	// Formatted response headers (scatter segment 0) and the static route
	// body (segment 1). bytesSent is the offset into their concatenation.
	scratch    [HeaderScratchSize]byte
	scratchLen int
	body       []byte
	bytesSent  int

	timerHandle timer.Handle
	lastActive  int64 // CLOCK_MONOTONIC nanoseconds, updated on every I/O

	slot int32

	// owner is the id of the worker currently holding the record. Only
	// meaningful for fallback records, which can migrate between workers;
	// a stale readiness event delivered after a record changed hands is
	// detected and dropped by comparing this field. Atomic because the
	// new owner may be a different thread than the one reading it.
	owner atomic.Int32
}

// Reset scrubs the record for a new connection: pools.Poolable. The backing
// memory is reused as-is; only counters and the parser are reinitialized.
func (c *Conn) Reset() {
	c.fd = -1
	c.state = StateReading
	c.peer = nil
	c.parser.Reset()
	c.keepAlive = false
	c.bytesRead = 0
	c.scratchLen = 0
	c.body = nil
	c.bytesSent = 0
	c.timerHandle = timer.NilHandle
	c.lastActive = 0
}

// MarkFree transitions the record to Free: pools.Poolable. A Free record has
// fd -1 and no timer entry.
func (c *Conn) MarkFree() {
	c.fd = -1
	c.state = StateFree
	c.timerHandle = timer.NilHandle
	c.body = nil
}

// IsFree reports whether the record is in the pool: pools.Poolable.
func (c *Conn) IsFree() bool { return c.state == StateFree }

// PoolSlot returns the record's home slot: pools.Poolable.
func (c *Conn) PoolSlot() int32 { return c.slot }

// SetPoolSlot assigns the home slot once at pool construction: pools.Poolable.
func (c *Conn) SetPoolSlot(slot int32) { c.slot = slot }

// TimerHandle returns the record's heap handle: timer.Expirable.
func (c *Conn) TimerHandle() timer.Handle { return c.timerHandle }

// SetTimerHandle stores the heap handle: timer.Expirable.
func (c *Conn) SetTimerHandle(h timer.Handle) { c.timerHandle = h }

// State returns the connection state, for tests and stats.
func (c *Conn) State() int { return c.state }

// touch stamps the last-active time.
func (c *Conn) touch() {
	c.lastActive = nowNanos()
}

// resetForNextRequest prepares a drained keep-alive connection for its next
// request cycle. The descriptor, peer and pool slot survive.
func (c *Conn) resetForNextRequest() {
	c.parser.Reset()
	c.keepAlive = false
	c.bytesRead = 0
	c.scratchLen = 0
	c.body = nil
	c.bytesSent = 0
	c.state = StateKeepAlive
}

// pending returns the total response length still owed in state Writing.
func (c *Conn) pending() int {
	return c.scratchLen + len(c.body) - c.bytesSent
}

func nowNanos() int64 {
	var ts unix.Timespec
	unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts)
	return ts.Sec*1e9 + ts.Nsec
}
