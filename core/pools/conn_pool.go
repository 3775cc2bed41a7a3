package pools

import (
	"sync/atomic"
)

// Poolable is the contract between the pools and the connection record.
type Poolable interface {
	// Reset scrubs the record for reuse on acquire. Backing memory is kept.
	Reset()
	// MarkFree transitions the record into its free state on release.
	MarkFree()
	// IsFree guards against double-release.
	IsFree() bool
	// PoolSlot and SetPoolSlot store the record's home: >= 0 is a local
	// index, negative encodes a fallback index as -(idx+1). Assigned once
	// at pool construction.
	PoolSlot() int32
	SetPoolSlot(slot int32)
}

// LocalPool is a worker-owned pool of connection records with a LIFO index
// stack as the free list. LIFO so the most recently released record is reused
// next, keeping its cache lines warm. The worker is the only accessor, so the
// fast path needs no atomics. When exhausted it degenerates to the shared
// fallback pool.
type LocalPool struct {
	records  []Poolable
	free     []int32
	fallback *FallbackPool

	acquires uint64
	releases uint64
	borrows  uint64 // records served by the fallback
}

// NewLocalPool pre-allocates capacity records via newRecord and marks them
// all free. The fallback may be nil.
func NewLocalPool(capacity int, fallback *FallbackPool, newRecord func() Poolable) *LocalPool {
	p := &LocalPool{
		records:  make([]Poolable, capacity),
		free:     make([]int32, 0, capacity),
		fallback: fallback,
	}
	for i := 0; i < capacity; i++ {
		rec := newRecord()
		rec.SetPoolSlot(int32(i))
		rec.MarkFree()
		p.records[i] = rec
	}
	// LIFO: push in reverse so index 0 is acquired first.
	for i := capacity - 1; i >= 0; i-- {
		p.free = append(p.free, int32(i))
	}
	return p
}

// Acquire returns a scrubbed record, or nil when both the local pool and the
// fallback are exhausted.
func (p *LocalPool) Acquire() Poolable {
	p.acquires++
	if n := len(p.free); n > 0 {
		rec := p.records[p.free[n-1]]
		p.free = p.free[:n-1]
		rec.Reset()
		return rec
	}
	if p.fallback != nil {
		if rec := p.fallback.Acquire(); rec != nil {
			p.borrows++
			rec.Reset()
			return rec
		}
	}
	return nil
}

// Record returns the local record at index i, for event-cookie lookups.
func (p *LocalPool) Record(i int) Poolable {
	if i < 0 || i >= len(p.records) {
		return nil
	}
	return p.records[i]
}

// Release returns a record to its home pool. Idempotent for records that are
// already free.
func (p *LocalPool) Release(rec Poolable) {
	if rec == nil || rec.IsFree() {
		return
	}
	rec.MarkFree()
	p.releases++
	if slot := rec.PoolSlot(); slot >= 0 {
		p.free = append(p.free, slot)
	} else if p.fallback != nil {
		p.fallback.release(-slot - 1)
	}
}

// LocalPoolStats is a point-in-time snapshot of pool traffic.
type LocalPoolStats struct {
	Capacity int
	InUse    int
	Acquires uint64
	Releases uint64
	Borrows  uint64
}

// Stats returns traffic counters for the local pool.
func (p *LocalPool) Stats() LocalPoolStats {
	return LocalPoolStats{
		Capacity: len(p.records),
		InUse:    len(p.records) - len(p.free),
		Acquires: p.acquires,
		Releases: p.releases,
		Borrows:  p.borrows,
	}
}

// FallbackPool is the shared last-resort pool, used only when a worker's
// local pool runs dry. It is a lock-free stack of indices over a fixed array
// of records. The packed state word carries a monotonic generation in the
// high half and the stack size in the low half, so a stalled CAS can never
// observe a recycled top (no ABA: slots hold immutable indices, records are
// never reallocated). Atomic CAS gives acquire-on-pop / release-on-push
// ordering, publishing writes into the record to the next acquirer.
type FallbackPool struct {
	records []Poolable
	stack   []int32
	state   atomic.Uint64 // gen<<32 | size

	acquires atomic.Uint64
	releases atomic.Uint64
}

// NewFallbackPool pre-allocates capacity shared records, all initially free.
func NewFallbackPool(capacity int, newRecord func() Poolable) *FallbackPool {
	p := &FallbackPool{
		records: make([]Poolable, capacity),
		stack:   make([]int32, capacity),
	}
	for i := 0; i < capacity; i++ {
		rec := newRecord()
		rec.SetPoolSlot(int32(-(i + 1)))
		rec.MarkFree()
		p.records[i] = rec
		p.stack[i] = int32(i)
	}
	p.state.Store(uint64(capacity))
	return p
}

// Acquire pops a record, or returns nil when the pool is empty. The caller
// scrubs the record.
func (p *FallbackPool) Acquire() Poolable {
	for {
		state := p.state.Load()
		size := uint32(state)
		if size == 0 {
			return nil
		}
		idx := p.stack[size-1]
		next := (state>>32+1)<<32 | uint64(size-1)
		if p.state.CompareAndSwap(state, next) {
			p.acquires.Add(1)
			return p.records[idx]
		}
	}
}

// Record returns the shared record at index i, for event-cookie lookups.
func (p *FallbackPool) Record(i int) Poolable {
	if i < 0 || i >= len(p.records) {
		return nil
	}
	return p.records[i]
}

// release pushes the record at index idx back. Only LocalPool.Release calls
// this, after the free-state transition.
func (p *FallbackPool) release(idx int32) {
	if idx < 0 || int(idx) >= len(p.records) {
		return
	}
	for {
		state := p.state.Load()
		size := uint32(state)
		if int(size) >= len(p.stack) {
			return
		}
		p.stack[size] = idx
		next := (state>>32+1)<<32 | uint64(size+1)
		if p.state.CompareAndSwap(state, next) {
			p.releases.Add(1)
			return
		}
	}
}

// Size returns the number of free shared records.
func (p *FallbackPool) Size() int {
	return int(uint32(p.state.Load()))
}
