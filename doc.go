/*
Package bffserver is a high-throughput HTTP/1.1 front-end that serves a small
fixed set of JSON endpoints from static byte strings.

The interesting part is not the payloads but the serving core: N
single-threaded reactors (one per CPU), each owning its own epoll instance,
timer wheel and connection pool, sharing only the kernel's accept queue
(SO_REUSEPORT + EPOLLEXCLUSIVE) and a lock-free fallback pool. Connection
registrations are edge-triggered and one-shot, so every readiness delivery
has a single unambiguous owner; responses go out as two-segment vectored
writes (formatted headers, static body) with partial-write resumption.

Modules:

  - app: lifecycle (signals, logging, run)
  - config: flag + env + TOML configuration
  - core: reactor loop, connection state machine, dispatcher
  - core/http: incremental HTTP/1.1 request-head parser
  - core/poller: epoll abstraction
  - core/pools: connection pools (per-worker LIFO, global CAS fallback)
  - core/router: immutable static route table
  - core/scan: header-terminator and control-byte scanning
  - core/timer: min-heap timer wheel with O(log N) cancel

Basic usage:

	cfg, _ := config.Load(os.Args[1:])
	a, err := app.New(cfg)
	if err != nil {
		log.Fatal(err)
	}
	a.Run()
*/
package bffserver
