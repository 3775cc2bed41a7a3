//go:build linux

package core

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/searchktools/bff-server/core/pools"
	"github.com/searchktools/bff-server/core/router"
)

// Options configures a Server. Zero fields take the defaults below.
type Options struct {
	Port               int
	Workers            int // 0 = GOMAXPROCS
	MaxConnsPerWorker  int
	GlobalPoolSize     int
	TimerCapacity      int
	RequestTimeoutMS   int
	KeepAliveTimeoutMS int
	RepeatedByteGuard  bool
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = runtime.GOMAXPROCS(0)
	}
	if o.MaxConnsPerWorker <= 0 {
		o.MaxConnsPerWorker = 512
	}
	if o.GlobalPoolSize <= 0 {
		o.GlobalPoolSize = o.MaxConnsPerWorker
	}
	if o.TimerCapacity <= 0 {
		o.TimerCapacity = o.MaxConnsPerWorker + o.GlobalPoolSize
	}
	if o.RequestTimeoutMS <= 0 {
		o.RequestTimeoutMS = DefaultRequestTimeoutMS
	}
	if o.KeepAliveTimeoutMS <= 0 {
		o.KeepAliveTimeoutMS = DefaultKeepAliveTimeoutMS
	}
	return o
}

// Server owns the shared listening socket and the worker set. Each worker
// runs its own reactor; the kernel load-balances accepts across them.
type Server struct {
	opts     Options
	routes   *router.Table
	log      zerolog.Logger
	listenFD int
	port     int
	shutdown atomic.Bool
	workers  []*Worker
	wg       sync.WaitGroup
}

// New binds the listening socket and builds the worker set. The route table
// must be sealed; it is shared read-only across all workers.
func New(opts Options, routes *router.Table, log zerolog.Logger) (*Server, error) {
	opts = opts.withDefaults()

	fd, port, err := listen(opts.Port)
	if err != nil {
		return nil, err
	}

	s := &Server{
		opts:     opts,
		routes:   routes,
		log:      log,
		listenFD: fd,
		port:     port,
	}

	fallback := pools.NewFallbackPool(opts.GlobalPoolSize, func() pools.Poolable {
		return &Conn{fd: -1}
	})
	disp := dispatcher{
		routes:        routes,
		keepAliveSecs: opts.KeepAliveTimeoutMS / 1000,
	}

	for i := 0; i < opts.Workers; i++ {
		w, err := newWorker(int32(i), fd, opts, disp, fallback, &s.shutdown, log)
		if err != nil {
			for _, prev := range s.workers {
				prev.poll.Close()
			}
			unix.Close(fd)
			return nil, fmt.Errorf("core: worker %d: %w", i, err)
		}
		s.workers = append(s.workers, w)
	}
	return s, nil
}

// listen opens the shared listening socket: SO_REUSEADDR + SO_REUSEPORT,
// nonblocking, backlog at the system maximum. Returns the descriptor and the
// actually bound port (for Port 0).
func listen(port int) (int, int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, 0, fmt.Errorf("core: socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, 0, fmt.Errorf("core: SO_REUSEADDR: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
		unix.Close(fd)
		return -1, 0, fmt.Errorf("core: SO_REUSEPORT: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrInet4{Port: port}); err != nil {
		unix.Close(fd)
		return -1, 0, fmt.Errorf("core: bind port %d: %w", port, err)
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		unix.Close(fd)
		return -1, 0, fmt.Errorf("core: listen: %w", err)
	}
	sa, err := unix.Getsockname(fd)
	if err != nil {
		unix.Close(fd)
		return -1, 0, fmt.Errorf("core: getsockname: %w", err)
	}
	bound := port
	if inet, ok := sa.(*unix.SockaddrInet4); ok {
		bound = inet.Port
	}
	return fd, bound, nil
}

// Port returns the bound port.
func (s *Server) Port() int { return s.port }

// Run starts the workers and blocks until every reactor has observed the
// shutdown flag and torn down. The listening socket is closed on return.
func (s *Server) Run() error {
	s.log.Info().
		Int("port", s.port).
		Int("workers", len(s.workers)).
		Int("routes", s.routes.Len()).
		Msg("server listening")

	for _, w := range s.workers {
		s.wg.Add(1)
		go func(w *Worker) {
			defer s.wg.Done()
			w.run()
		}(w)
	}
	s.wg.Wait()

	unix.Close(s.listenFD)

	total := WorkerStats{}
	for _, w := range s.workers {
		total.Add(&w.stats)
	}
	s.log.Info().
		Uint64("requests", total.RequestsServed).
		Uint64("accepted", total.ConnectionsAccepted).
		Uint64("timeouts", total.Timeouts).
		Uint64("protocol_errors", total.ProtocolErrors).
		Msg("server stopped")
	return nil
}

// Shutdown flips the flag the reactors check at their loop head. Safe from
// any goroutine, including a signal handler path; idempotent.
func (s *Server) Shutdown() {
	s.shutdown.Store(true)
}

// Stats aggregates worker counters. Only meaningful after Run returns.
func (s *Server) Stats() WorkerStats {
	total := WorkerStats{}
	for _, w := range s.workers {
		total.Add(&w.stats)
	}
	return total
}
