package sandbox

import (
	"fmt"
	"math"

	"github.com/tetratelabs/wazero/experimental"
)

// Unbounded marks a ceiling or declared maximum that is not set.
const Unbounded uint64 = math.MaxUint64

// ResourceLimiter is the single authority consulted on every memory and
// table growth request of one run. It is built fresh per run and is not
// safe for concurrent use; a run executes on one goroutine.
type ResourceLimiter struct {
	memoryCeiling     uint64
	tableCeiling      uint64
	trapOnGrowFailure bool

	peakMemory uint64
	denials    int
}

// NewResourceLimiter creates a limiter. Pass Unbounded for a ceiling that
// should not be enforced.
func NewResourceLimiter(memoryCeiling, tableCeiling uint64, trapOnGrowFailure bool) *ResourceLimiter {
	return &ResourceLimiter{
		memoryCeiling:     memoryCeiling,
		tableCeiling:      tableCeiling,
		trapOnGrowFailure: trapOnGrowFailure,
	}
}

// MemoryGrowing decides whether a linear memory may grow from current to
// desired bytes. maximum is the memory's declared maximum, or Unbounded.
// A false result is seen by the guest as a failed memory.grow; an error
// aborts the run.
func (l *ResourceLimiter) MemoryGrowing(current, desired, maximum uint64) (bool, error) {
	if desired > l.memoryCeiling || desired > maximum {
		l.denials++
		if l.trapOnGrowFailure {
			return false, fmt.Errorf("%w: memory growth from %d to %d bytes exceeds ceiling of %d bytes",
				ErrResourceLimit, current, desired, l.memoryCeiling)
		}
		return false, nil
	}
	if desired > l.peakMemory {
		l.peakMemory = desired
	}
	return true, nil
}

// TableGrowing decides whether a table may grow from current to desired
// elements. maximum is the table's declared maximum, or Unbounded.
func (l *ResourceLimiter) TableGrowing(current, desired, maximum uint64) (bool, error) {
	if desired > l.tableCeiling || desired > maximum {
		l.denials++
		if l.trapOnGrowFailure {
			return false, fmt.Errorf("%w: table growth from %d to %d elements exceeds ceiling of %d elements",
				ErrResourceLimit, current, desired, l.tableCeiling)
		}
		return false, nil
	}
	return true, nil
}

// MemoryCeiling returns the configured memory ceiling in bytes.
func (l *ResourceLimiter) MemoryCeiling() uint64 { return l.memoryCeiling }

// TableCeiling returns the configured table ceiling in elements.
func (l *ResourceLimiter) TableCeiling() uint64 { return l.tableCeiling }

// PeakMemory returns the largest memory size granted so far, in bytes.
func (l *ResourceLimiter) PeakMemory() uint64 { return l.peakMemory }

// Denials returns how many growth requests were refused.
func (l *ResourceLimiter) Denials() int { return l.denials }

// Allocate implements experimental.MemoryAllocator. Every linear memory the
// guest instantiates is backed by a limitedMemory, so growth has no path
// around the limiter.
func (l *ResourceLimiter) Allocate(capacity, maximum uint64) experimental.LinearMemory {
	return &limitedMemory{limiter: l, capacity: capacity, maximum: maximum}
}

// limitedMemory is a wasm linear memory whose every reallocation is put to
// the limiter first.
type limitedMemory struct {
	limiter  *ResourceLimiter
	buf      []byte
	capacity uint64
	maximum  uint64
}

// Reallocate implements experimental.LinearMemory. A nil result makes
// memory.grow return -1 to the guest.
func (m *limitedMemory) Reallocate(size uint64) []byte {
	current := uint64(len(m.buf))
	if size <= current {
		return m.buf[:size]
	}
	ok, err := m.limiter.MemoryGrowing(current, size, m.maximum)
	if err != nil {
		// Recovered by the engine and surfaced as the entry point's error.
		panic(err)
	}
	if !ok {
		return nil
	}
	if size <= uint64(cap(m.buf)) {
		m.buf = m.buf[:size]
		return m.buf
	}
	next := make([]byte, size, m.growCapacity(size))
	copy(next, m.buf)
	m.buf = next
	return m.buf
}

// growCapacity doubles the backing array, but never past what the guest
// could legally reach.
func (m *limitedMemory) growCapacity(size uint64) uint64 {
	want := max(size*2, m.capacity)
	want = min(want, m.maximum, m.limiter.memoryCeiling)
	return max(want, size)
}

// Free implements experimental.LinearMemory.
func (m *limitedMemory) Free() {
	m.buf = nil
}
