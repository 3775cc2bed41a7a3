//go:build linux

package core

import (
	"runtime"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/searchktools/bff-server/core/poller"
	"github.com/searchktools/bff-server/core/pools"
	"github.com/searchktools/bff-server/core/scan"
	"github.com/searchktools/bff-server/core/timer"
)

// Event cookies: local records carry their pool index, fallback records set
// the flag bit, and the listener uses the all-ones sentinel.
const (
	listenerCookie     = ^uint64(0)
	fallbackCookieFlag = uint64(1) << 62
)

func connCookie(c *Conn) uint64 {
	if c.slot >= 0 {
		return uint64(uint32(c.slot))
	}
	return fallbackCookieFlag | uint64(uint32(-c.slot-1))
}

// Worker is one single-threaded event loop pinned to an OS thread. It owns
// its epoll instance, timer wheel and connection pool; the only state shared
// with other workers is the listening socket's accept queue and the global
// fallback pool.
type Worker struct {
	id       int32
	opts     Options
	listenFD int

	poll     poller.Poller
	wheel    *timer.Wheel
	pool     *pools.LocalPool
	fallback *pools.FallbackPool
	disp     dispatcher

	shutdown *atomic.Bool
	log      zerolog.Logger

	events     []poller.Event
	readBatch  []*Conn
	writeBatch []*Conn
	iovs       [][]byte
	borrowed   []*Conn

	stats WorkerStats
}

func newWorker(id int32, listenFD int, opts Options, disp dispatcher, fallback *pools.FallbackPool, shutdown *atomic.Bool, log zerolog.Logger) (*Worker, error) {
	poll, err := poller.New()
	if err != nil {
		return nil, err
	}
	w := &Worker{
		id:         id,
		opts:       opts,
		listenFD:   listenFD,
		poll:       poll,
		wheel:      timer.NewWheel(opts.TimerCapacity),
		fallback:   fallback,
		disp:       disp,
		shutdown:   shutdown,
		log:        log.With().Int32("worker", id).Logger(),
		events:     make([]poller.Event, MaxEventsPerLoop),
		readBatch:  make([]*Conn, 0, microBatchSize),
		writeBatch: make([]*Conn, 0, microBatchSize),
		iovs:       make([][]byte, 0, 2),
	}
	w.pool = pools.NewLocalPool(opts.MaxConnsPerWorker, fallback, func() pools.Poolable {
		return &Conn{fd: -1}
	})
	if err := poll.AddListener(listenFD, listenerCookie); err != nil {
		poll.Close()
		return nil, err
	}
	return w, nil
}

// run is the reactor loop. It exits when the shutdown flag is observed at
// the loop head, then tears down every live connection, the wheel and the
// poller.
func (w *Worker) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	w.log.Debug().Msg("worker started")

	for !w.shutdown.Load() {
		timeout := w.wheel.NextTimeoutMS()
		if timeout < 0 || timeout > maxPollWaitMS {
			timeout = maxPollWaitMS
		}

		n, err := w.poll.Wait(w.events, timeout)
		if err != nil {
			w.log.Error().Err(err).Msg("poller wait failed")
			continue
		}

		w.wheel.ProcessExpired(w.expire)

		for i := 0; i < n; i++ {
			w.dispatchEvent(&w.events[i])
		}
		w.flushBatches()

		w.stats.EventsProcessed += uint64(n)
	}

	w.teardown()
}

func (w *Worker) dispatchEvent(ev *poller.Event) {
	if ev.Cookie == listenerCookie {
		w.acceptBatch()
		return
	}

	c := w.lookupConn(ev.Cookie)
	if c == nil || c.state == StateFree || c.state == StateClosing {
		// Stale event delivered after the record was closed.
		return
	}
	c.touch()

	if ev.Hangup {
		w.closeConn(c, &w.stats.ClientDisconnects)
		return
	}

	switch c.state {
	case StateReading, StateKeepAlive:
		if ev.Readable {
			w.queueRead(c)
		}
	case StateWriting:
		if ev.Writable {
			w.queueWrite(c)
		}
	}
}

func (w *Worker) lookupConn(cookie uint64) *Conn {
	if cookie&fallbackCookieFlag != 0 {
		rec := w.fallback.Record(int(uint32(cookie)))
		if rec == nil {
			return nil
		}
		c := rec.(*Conn)
		if c.owner.Load() != w.id {
			// The record migrated to another worker since this event
			// was queued.
			return nil
		}
		return c
	}
	rec := w.pool.Record(int(uint32(cookie)))
	if rec == nil {
		return nil
	}
	return rec.(*Conn)
}

// queueRead defers the connection into the read micro-batch; a full batch is
// processed inline.
func (w *Worker) queueRead(c *Conn) {
	if len(w.readBatch) < microBatchSize {
		w.readBatch = append(w.readBatch, c)
		return
	}
	if w.processRead(c) {
		w.queueWrite(c)
	}
}

func (w *Worker) queueWrite(c *Conn) {
	if len(w.writeBatch) < microBatchSize {
		w.writeBatch = append(w.writeBatch, c)
		return
	}
	w.processWrite(c)
}

// flushBatches drains the micro-batches accumulated during event dispatch:
// reads first (completions feed the write batch), then writes. An entry may
// have been closed by an earlier entry's processing; the state checks drop
// those.
func (w *Worker) flushBatches() {
	for _, c := range w.readBatch {
		if c.state != StateReading && c.state != StateKeepAlive {
			continue
		}
		if w.processRead(c) {
			w.queueWrite(c)
		}
	}
	w.readBatch = w.readBatch[:0]

	for i := 0; i < len(w.writeBatch); i++ {
		if c := w.writeBatch[i]; c.state == StateWriting {
			w.processWrite(c)
		}
	}
	w.writeBatch = w.writeBatch[:0]
}

// acceptBatch drains the accept queue, up to MaxAcceptsPerLoop per event so
// a connection flood cannot starve established connections.
func (w *Worker) acceptBatch() {
	for accepts := 0; accepts < MaxAcceptsPerLoop; accepts++ {
		nfd, sa, err := unix.Accept4(w.listenFD, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			if err == unix.EAGAIN {
				return
			}
			if err == unix.EINTR {
				continue
			}
			w.log.Warn().Err(err).Msg("accept failed")
			return
		}

		unix.SetsockoptInt(nfd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
		unix.SetsockoptInt(nfd, unix.SOL_SOCKET, unix.SO_SNDBUF, sendBufSize)
		unix.SetsockoptInt(nfd, unix.SOL_SOCKET, unix.SO_RCVBUF, recvBufSize)

		rec := w.pool.Acquire()
		if rec == nil {
			// Both pools exhausted: drop the accept immediately.
			w.stats.PoolExhausted++
			unix.Close(nfd)
			continue
		}
		c := rec.(*Conn)
		c.fd = nfd
		c.peer = sa
		c.owner.Store(w.id)
		c.touch()
		if c.slot < 0 {
			w.borrowed = append(w.borrowed, c)
		}

		if err := w.poll.Add(nfd, connCookie(c), poller.Read); err != nil {
			w.log.Warn().Err(err).Msg("register connection failed")
			unix.Close(nfd)
			w.releaseConn(c)
			continue
		}
		if err := w.wheel.Add(c, w.opts.RequestTimeoutMS); err != nil {
			w.stats.TimerExhausted++
			w.closeConn(c, nil)
			continue
		}
		w.stats.ConnectionsAccepted++
	}
}

// processRead drains the socket into the read buffer and, once the header
// terminator is present, parses and dispatches. Returns true when the
// connection completed a request and is ready to write.
func (w *Worker) processRead(c *Conn) bool {
	if c.state == StateKeepAlive {
		// First byte of the next request: swap the keep-alive timer for
		// a request timer.
		w.wheel.Cancel(c)
		c.state = StateReading
		if err := w.wheel.Add(c, w.opts.RequestTimeoutMS); err != nil {
			w.stats.TimerExhausted++
			w.closeConn(c, nil)
			return false
		}
	}

	for attempts := 0; attempts < MaxReadAttempts; attempts++ {
		if c.bytesRead == ReadBufferSize {
			break
		}
		n, err := unix.Read(c.fd, c.readBuf[c.bytesRead:])
		if n > 0 {
			fresh := c.readBuf[c.bytesRead : c.bytesRead+n]
			c.bytesRead += n
			w.stats.BytesRead += uint64(n)
			c.touch()
			if !scan.ValidateASCII(fresh) {
				w.closeConn(c, &w.stats.ProtocolErrors)
				return false
			}
			if w.opts.RepeatedByteGuard && c.bytesRead > 1024 &&
				scan.RepeatedByteRun(c.readBuf[:c.bytesRead], 256, 128) {
				w.closeConn(c, &w.stats.ProtocolErrors)
				return false
			}
			continue
		}
		if err == unix.EAGAIN {
			break
		}
		if n == 0 && err == nil {
			w.closeConn(c, &w.stats.ClientDisconnects)
			return false
		}
		w.closeConn(c, &w.stats.FatalIOErrors)
		return false
	}

	end := scan.FindHeaderEnd(c.readBuf[:c.bytesRead])
	if end < 0 {
		if c.bytesRead >= MaxRequestSize {
			// Request ceiling reached without a complete head.
			w.closeConn(c, &w.stats.ProtocolErrors)
			return false
		}
		if err := w.poll.Rearm(c.fd, connCookie(c), poller.Read); err != nil {
			w.closeConn(c, &w.stats.FatalIOErrors)
		}
		return false
	}

	headLen := end + 4
	if c.bytesRead > headLen {
		// Bytes past the terminator: a body or a pipelined request,
		// neither of which is supported.
		w.closeConn(c, &w.stats.ProtocolErrors)
		return false
	}

	consumed, err := c.parser.Execute(c.readBuf[:headLen])
	if err != nil || !c.parser.Done() || consumed != headLen {
		w.closeConn(c, &w.stats.ProtocolErrors)
		return false
	}

	w.wheel.Cancel(c)
	if status := w.disp.prepare(c); status == 500 {
		w.stats.InternalOverflows++
	}
	w.stats.RequestsServed++
	return true
}

// processWrite pushes the unsent suffix of the scatter list. The iovec is
// reconstituted on each attempt from bytesSent; once only the body remains
// the write collapses to a single segment.
func (w *Worker) processWrite(c *Conn) {
	for attempts := 0; attempts < MaxWriteAttempts; attempts++ {
		if c.pending() == 0 {
			break
		}
		w.iovs = w.iovs[:0]
		if c.bytesSent < c.scratchLen {
			w.iovs = append(w.iovs, c.scratch[c.bytesSent:c.scratchLen], c.body)
		} else {
			w.iovs = append(w.iovs, c.body[c.bytesSent-c.scratchLen:])
		}

		n, err := unix.Writev(c.fd, w.iovs)
		if err != nil {
			if err == unix.EAGAIN {
				if rerr := w.poll.Rearm(c.fd, connCookie(c), poller.Write); rerr != nil {
					w.closeConn(c, &w.stats.FatalIOErrors)
				}
				return
			}
			w.closeConn(c, &w.stats.FatalIOErrors)
			return
		}
		c.bytesSent += n
		w.stats.BytesWritten += uint64(n)
		c.touch()
	}

	if c.pending() > 0 {
		// Attempt budget exhausted without EAGAIN: pathological peer.
		w.closeConn(c, &w.stats.FatalIOErrors)
		return
	}

	if !c.keepAlive {
		w.closeConn(c, nil)
		return
	}

	c.resetForNextRequest()
	if err := w.poll.Rearm(c.fd, connCookie(c), poller.Read); err != nil {
		w.closeConn(c, &w.stats.FatalIOErrors)
		return
	}
	if err := w.wheel.Add(c, w.opts.KeepAliveTimeoutMS); err != nil {
		w.stats.TimerExhausted++
		w.closeConn(c, nil)
	}
}

// expire is the timer-wheel callback: a fired deadline forcibly closes the
// connection regardless of state.
func (w *Worker) expire(e timer.Expirable) {
	c := e.(*Conn)
	if c.state == StateFree || c.state == StateClosing {
		return
	}
	w.closeConn(c, &w.stats.Timeouts)
}

// closeConn tears a connection down: deregister, close the descriptor,
// cancel its timer, return the record to the pool. counter, when non-nil,
// is the error-taxonomy bucket to charge.
func (w *Worker) closeConn(c *Conn, counter *uint64) {
	if c.state == StateFree || c.fd < 0 {
		return
	}
	c.state = StateClosing
	if counter != nil {
		*counter++
	}
	w.poll.Remove(c.fd)
	unix.Close(c.fd)
	w.wheel.Cancel(c)
	w.releaseConn(c)
}

func (w *Worker) releaseConn(c *Conn) {
	if c.slot < 0 {
		for i, b := range w.borrowed {
			if b == c {
				w.borrowed = append(w.borrowed[:i], w.borrowed[i+1:]...)
				break
			}
		}
		c.owner.Store(-1)
	}
	w.pool.Release(c)
}

// teardown closes every live connection, releases the wheel's remaining
// entries and shuts the poller.
func (w *Worker) teardown() {
	for i := 0; ; i++ {
		rec := w.pool.Record(i)
		if rec == nil {
			break
		}
		if c := rec.(*Conn); !c.IsFree() {
			w.closeConn(c, nil)
		}
	}
	for len(w.borrowed) > 0 {
		c := w.borrowed[0]
		if c.IsFree() {
			w.borrowed = w.borrowed[1:]
			continue
		}
		w.closeConn(c, nil)
	}
	w.poll.Close()

	w.log.Info().
		Uint64("events", w.stats.EventsProcessed).
		Uint64("accepted", w.stats.ConnectionsAccepted).
		Uint64("requests", w.stats.RequestsServed).
		Uint64("bytes_read", w.stats.BytesRead).
		Uint64("bytes_written", w.stats.BytesWritten).
		Msg("worker stopped")
}
