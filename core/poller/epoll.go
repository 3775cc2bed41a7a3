//go:build linux

package poller

import (
	"golang.org/x/sys/unix"
)

// Epoll implements Poller on Linux.
type Epoll struct {
	epfd   int
	events []unix.EpollEvent
}

// New creates a worker-local epoll instance.
func New() (*Epoll, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &Epoll{
		epfd:   epfd,
		events: make([]unix.EpollEvent, 2048),
	}, nil
}

func modeBits(mode Mode) uint32 {
	bits := uint32(unix.EPOLLET|unix.EPOLLONESHOT) | unix.EPOLLRDHUP
	if mode == Write {
		return bits | unix.EPOLLOUT
	}
	return bits | unix.EPOLLIN
}

// packCookie splits the 64-bit cookie across the Fd and Pad fields of the
// kernel event record.
func packCookie(ev *unix.EpollEvent, cookie uint64) {
	ev.Fd = int32(cookie)
	ev.Pad = int32(cookie >> 32)
}

func unpackCookie(ev *unix.EpollEvent) uint64 {
	return uint64(uint32(ev.Fd)) | uint64(uint32(ev.Pad))<<32
}

// AddListener registers the shared listening descriptor. EPOLLEXCLUSIVE
// suppresses thundering-herd wakeups across the worker set.
func (p *Epoll) AddListener(fd int, cookie uint64) error {
	ev := unix.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLEXCLUSIVE}
	packCookie(&ev, cookie)
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

// Add registers a connection descriptor edge-triggered and one-shot.
func (p *Epoll) Add(fd int, cookie uint64, mode Mode) error {
	ev := unix.EpollEvent{Events: modeBits(mode)}
	packCookie(&ev, cookie)
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

// Rearm re-enables a one-shot registration, possibly switching direction.
func (p *Epoll) Rearm(fd int, cookie uint64, mode Mode) error {
	ev := unix.EpollEvent{Events: modeBits(mode)}
	packCookie(&ev, cookie)
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
}

// Remove deregisters a descriptor. Safe to call for descriptors the kernel
// already dropped on close.
func (p *Epoll) Remove(fd int) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// Wait blocks for up to timeoutMS (-1 = forever) and fills events. EINTR is
// reported as zero events so the loop re-evaluates its timers and shutdown
// flag.
func (p *Epoll) Wait(events []Event, timeoutMS int) (int, error) {
	if len(p.events) < len(events) {
		p.events = make([]unix.EpollEvent, len(events))
	}
	n, err := unix.EpollWait(p.epfd, p.events[:len(events)], timeoutMS)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}
	for i := 0; i < n; i++ {
		raw := &p.events[i]
		events[i] = Event{
			Cookie:   unpackCookie(raw),
			Readable: raw.Events&unix.EPOLLIN != 0,
			Writable: raw.Events&unix.EPOLLOUT != 0,
			Hangup:   raw.Events&(unix.EPOLLERR|unix.EPOLLHUP|unix.EPOLLRDHUP) != 0,
		}
	}
	return n, nil
}

// Close releases the epoll descriptor.
func (p *Epoll) Close() error {
	return unix.Close(p.epfd)
}
