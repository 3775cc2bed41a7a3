package pools

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRecord struct {
	free   bool
	slot   int32
	resets int
}

func (r *fakeRecord) Reset()              { r.free = false; r.resets++ }
func (r *fakeRecord) MarkFree()           { r.free = true }
func (r *fakeRecord) IsFree() bool        { return r.free }
func (r *fakeRecord) PoolSlot() int32     { return r.slot }
func (r *fakeRecord) SetPoolSlot(s int32) { r.slot = s }

func newRecord() Poolable { return &fakeRecord{} }

func TestLocalPoolAcquireRelease(t *testing.T) {
	p := NewLocalPool(4, nil, newRecord)

	seen := make(map[Poolable]bool)
	var recs []Poolable
	for i := 0; i < 4; i++ {
		rec := p.Acquire()
		require.NotNil(t, rec)
		require.False(t, seen[rec], "duplicate record handed out")
		seen[rec] = true
		recs = append(recs, rec)
	}
	assert.Nil(t, p.Acquire(), "exhausted pool must return nil")

	for _, rec := range recs {
		p.Release(rec)
	}
	stats := p.Stats()
	assert.Equal(t, 0, stats.InUse)

	// Every record released must be acquirable again: no leaks, no dupes.
	again := make(map[Poolable]bool)
	for i := 0; i < 4; i++ {
		rec := p.Acquire()
		require.NotNil(t, rec)
		require.True(t, seen[rec], "pool invented a record")
		require.False(t, again[rec])
		again[rec] = true
	}
}

func TestLocalPoolLIFO(t *testing.T) {
	p := NewLocalPool(2, nil, newRecord)
	a := p.Acquire()
	b := p.Acquire()
	p.Release(a)
	p.Release(b)
	// Most recently released comes back first.
	assert.Same(t, b, p.Acquire())
	assert.Same(t, a, p.Acquire())
}

func TestLocalPoolDoubleReleaseIsNoop(t *testing.T) {
	p := NewLocalPool(2, nil, newRecord)
	rec := p.Acquire()
	p.Release(rec)
	p.Release(rec)

	a := p.Acquire()
	b := p.Acquire()
	assert.NotSame(t, a, b, "double release duplicated a free-list entry")
	assert.Nil(t, p.Acquire())
}

func TestLocalPoolScrubsOnAcquire(t *testing.T) {
	p := NewLocalPool(1, nil, newRecord)
	rec := p.Acquire().(*fakeRecord)
	assert.Equal(t, 1, rec.resets)
	assert.False(t, rec.IsFree())
	p.Release(rec)
	assert.True(t, rec.IsFree())
	p.Acquire()
	assert.Equal(t, 2, rec.resets)
}

func TestLocalPoolFallsBackWhenExhausted(t *testing.T) {
	fb := NewFallbackPool(2, newRecord)
	p := NewLocalPool(1, fb, newRecord)

	local := p.Acquire()
	require.NotNil(t, local)
	require.GreaterOrEqual(t, local.PoolSlot(), int32(0))

	borrowed := p.Acquire()
	require.NotNil(t, borrowed)
	require.Negative(t, borrowed.PoolSlot(), "second record must come from the fallback")
	assert.Equal(t, 1, fb.Size())

	p.Acquire()
	assert.Nil(t, p.Acquire(), "both pools exhausted")

	// A borrowed record goes home to the fallback, not the local list.
	p.Release(borrowed)
	assert.Equal(t, 1, fb.Size())
	stats := p.Stats()
	assert.Equal(t, uint64(2), stats.Borrows)
}

func TestFallbackPoolConcurrentChurn(t *testing.T) {
	const capacity = 64
	const workers = 8
	const rounds = 2000

	fb := NewFallbackPool(capacity, newRecord)
	var wg sync.WaitGroup
	for g := 0; g < workers; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p := NewLocalPool(0, fb, newRecord)
			for i := 0; i < rounds; i++ {
				rec := p.Acquire()
				if rec == nil {
					continue
				}
				p.Release(rec)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, capacity, fb.Size(), "records leaked or duplicated under churn")
	seen := make(map[Poolable]bool)
	for i := 0; i < capacity; i++ {
		rec := fb.Acquire()
		require.NotNil(t, rec)
		require.False(t, seen[rec])
		seen[rec] = true
	}
}
