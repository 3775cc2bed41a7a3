package timer

import (
	"errors"

	"golang.org/x/sys/unix"
)

// ErrCapacity is returned by Add when the node pool is exhausted.
// The caller is expected to close the affected connection rather than block.
var ErrCapacity = errors.New("timer: capacity exhausted")

// Handle is a non-owning reference to a node in a Wheel's node storage.
// The generation counter detects stale handles after node reuse.
type Handle struct {
	idx int32
	gen uint32
}

// NilHandle is the cleared handle value.
var NilHandle = Handle{idx: -1}

// Valid reports whether the handle references a node.
func (h Handle) Valid() bool { return h.idx >= 0 }

// Expirable is the connection-side contract: the wheel stores its handle in
// the entry so Cancel runs in O(log N) without scans.
type Expirable interface {
	TimerHandle() Handle
	SetTimerHandle(Handle)
}

// node is owned by the wheel; connections only ever hold a Handle to it.
type node struct {
	sec      int64
	nsec     int64
	entry    Expirable
	heapPos  int32
	gen      uint32
	nextFree int32
}

// Wheel is a binary min-heap of absolute monotonic deadlines. Node memory
// comes from a pre-sized pool; every swap updates the moved node's heap
// position so cancel-by-handle stays O(log N).
type Wheel struct {
	nodes    []node
	freeHead int32
	heap     []int32

	// clock returns CLOCK_MONOTONIC; swappable in tests.
	clock func() (sec, nsec int64)
}

// NewWheel creates a wheel with a fixed node capacity.
func NewWheel(capacity int) *Wheel {
	w := &Wheel{
		nodes: make([]node, capacity),
		heap:  make([]int32, 0, capacity),
		clock: monotonicNow,
	}
	w.freeHead = -1
	for i := capacity - 1; i >= 0; i-- {
		w.nodes[i].nextFree = w.freeHead
		w.nodes[i].heapPos = -1
		w.freeHead = int32(i)
	}
	return w
}

func monotonicNow() (int64, int64) {
	var ts unix.Timespec
	unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts)
	return ts.Sec, ts.Nsec
}

// Len returns the number of armed timers.
func (w *Wheel) Len() int { return len(w.heap) }

// Add arms a timer for e expiring timeoutMS from now and records the handle
// in e. Fails with ErrCapacity when the node pool is exhausted.
func (w *Wheel) Add(e Expirable, timeoutMS int) error {
	if w.freeHead < 0 {
		return ErrCapacity
	}
	idx := w.freeHead
	n := &w.nodes[idx]
	w.freeHead = n.nextFree

	sec, nsec := w.clock()
	sec += int64(timeoutMS / 1000)
	nsec += int64(timeoutMS%1000) * 1e6
	if nsec >= 1e9 {
		sec++
		nsec -= 1e9
	}

	n.sec = sec
	n.nsec = nsec
	n.entry = e
	n.heapPos = int32(len(w.heap))
	w.heap = append(w.heap, idx)
	w.siftUp(int(n.heapPos))

	e.SetTimerHandle(Handle{idx: idx, gen: n.gen})
	return nil
}

// Cancel removes the timer referenced by e's handle and clears it.
// A nil or stale handle (double-cancel race) is a silent no-op.
func (w *Wheel) Cancel(e Expirable) {
	h := e.TimerHandle()
	if !h.Valid() {
		return
	}
	e.SetTimerHandle(NilHandle)
	if int(h.idx) >= len(w.nodes) {
		return
	}
	n := &w.nodes[h.idx]
	if n.gen != h.gen || n.heapPos < 0 {
		return
	}
	w.removeAt(int(n.heapPos))
}

// NextTimeoutMS returns max(0, min deadline - now) in milliseconds,
// or -1 (wait forever) when no timers are armed.
func (w *Wheel) NextTimeoutMS() int {
	if len(w.heap) == 0 {
		return -1
	}
	n := &w.nodes[w.heap[0]]
	sec, nsec := w.clock()
	diff := (n.sec-sec)*1000 + (n.nsec-nsec)/1e6
	if diff <= 0 {
		return 0
	}
	return int(diff)
}

// ProcessExpired pops every entry whose deadline is at or before now and
// invokes expire on it. The entry's handle is cleared before the callback, so
// a Cancel from inside the close procedure is a no-op. A deadline in the past
// (clock skew after suspend) expires here like any other.
func (w *Wheel) ProcessExpired(expire func(Expirable)) {
	sec, nsec := w.clock()
	for len(w.heap) > 0 {
		n := &w.nodes[w.heap[0]]
		if n.sec > sec || (n.sec == sec && n.nsec > nsec) {
			break
		}
		e := n.entry
		w.removeAt(0)
		e.SetTimerHandle(NilHandle)
		expire(e)
	}
}

// removeAt detaches the node at heap position pos and returns it to the pool.
func (w *Wheel) removeAt(pos int) {
	idx := w.heap[pos]
	last := len(w.heap) - 1
	if pos != last {
		moved := w.heap[last]
		w.heap[pos] = moved
		w.nodes[moved].heapPos = int32(pos)
	}
	w.heap = w.heap[:last]
	if pos < last {
		if !w.siftUp(pos) {
			w.siftDown(pos)
		}
	}

	n := &w.nodes[idx]
	n.entry = nil
	n.heapPos = -1
	n.gen++
	n.nextFree = w.freeHead
	w.freeHead = idx
}

func (w *Wheel) less(a, b int32) bool {
	na, nb := &w.nodes[a], &w.nodes[b]
	if na.sec != nb.sec {
		return na.sec < nb.sec
	}
	return na.nsec < nb.nsec
}

func (w *Wheel) swap(a, b int) {
	w.heap[a], w.heap[b] = w.heap[b], w.heap[a]
	w.nodes[w.heap[a]].heapPos = int32(a)
	w.nodes[w.heap[b]].heapPos = int32(b)
}

func (w *Wheel) siftUp(pos int) bool {
	moved := false
	for pos > 0 {
		parent := (pos - 1) / 2
		if !w.less(w.heap[pos], w.heap[parent]) {
			break
		}
		w.swap(pos, parent)
		pos = parent
		moved = true
	}
	return moved
}

func (w *Wheel) siftDown(pos int) {
	size := len(w.heap)
	for {
		left := 2*pos + 1
		right := 2*pos + 2
		smallest := pos
		if left < size && w.less(w.heap[left], w.heap[smallest]) {
			smallest = left
		}
		if right < size && w.less(w.heap[right], w.heap[smallest]) {
			smallest = right
		}
		if smallest == pos {
			return
		}
		w.swap(pos, smallest)
		pos = smallest
	}
}
