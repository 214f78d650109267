// Package vectorclock implements vector clocks for tracking happens-before
// relations between events of different threads.
//
// The engine replays the thread tree once and stamps every event with the
// clock of its thread at the last synchronization point. Only spawn and join
// synchronize: a spawned thread starts from a copy of its parent's clock, and
// a join folds the child's final clock into the joiner.
//
// Key operations:
//   - Join: point-wise maximum, used on thread join
//   - LessOrEqual: happens-before check (partial order)
//
// Clocks are indexed by dense thread index (0..n-1), not by caller thread id.
// The slice grows on demand so a clock only pays for the threads it has seen.
package vectorclock

import (
	"strconv"
	"strings"
)

// VectorClock represents logical time across threads.
//
// clocks[tid] stores the clock value for thread tid. Missing entries are 0.
//
// Example: {0:5, 2:3} means Thread0@5, Thread2@3, every other thread @0.
type VectorClock struct {
	clocks []uint32
}

// New creates a zero clock with room for n threads.
func New(n int) *VectorClock {
	return &VectorClock{clocks: make([]uint32, n)}
}

// Clone creates a deep copy of the vector clock.
//
// Used when an event needs a snapshot of logical time that later
// increments of the live thread clock must not disturb.
func (vc *VectorClock) Clone() *VectorClock {
	c := &VectorClock{clocks: make([]uint32, len(vc.clocks))}
	copy(c.clocks, vc.clocks)
	return c
}

// Join performs point-wise maximum: vc = vc ⊔ other.
//
// This is the synchronization step of a thread join: every event of the
// joined thread now happens-before everything the joiner does next.
func (vc *VectorClock) Join(other *VectorClock) {
	if len(other.clocks) > len(vc.clocks) {
		vc.grow(len(other.clocks))
	}
	for i, c := range other.clocks {
		if c > vc.clocks[i] {
			vc.clocks[i] = c
		}
	}
}

// LessOrEqual checks partial order: vc ⊑ other.
//
// Returns true if vc[i] <= other[i] for all threads i.
func (vc *VectorClock) LessOrEqual(other *VectorClock) bool {
	for i, c := range vc.clocks {
		if c > other.Get(i) {
			return false
		}
	}
	return true
}

// HappensBefore is LessOrEqual under the name used by the detectors.
func (vc *VectorClock) HappensBefore(other *VectorClock) bool {
	return vc.LessOrEqual(other)
}

// Concurrent reports whether neither clock happens-before the other.
func (vc *VectorClock) Concurrent(other *VectorClock) bool {
	return !vc.LessOrEqual(other) && !other.LessOrEqual(vc)
}

// Increment advances the clock for thread tid and returns the new value.
func (vc *VectorClock) Increment(tid int) uint32 {
	if tid >= len(vc.clocks) {
		vc.grow(tid + 1)
	}
	vc.clocks[tid]++
	return vc.clocks[tid]
}

// Get returns the clock value for thread tid.
func (vc *VectorClock) Get(tid int) uint32 {
	if tid < 0 || tid >= len(vc.clocks) {
		return 0
	}
	return vc.clocks[tid]
}

// Set sets the clock value for thread tid.
func (vc *VectorClock) Set(tid int, clock uint32) {
	if tid >= len(vc.clocks) {
		vc.grow(tid + 1)
	}
	vc.clocks[tid] = clock
}

// Len returns the number of thread slots currently tracked.
func (vc *VectorClock) Len() int { return len(vc.clocks) }

func (vc *VectorClock) grow(n int) {
	clocks := make([]uint32, n)
	copy(clocks, vc.clocks)
	vc.clocks = clocks
}

// String returns a debug representation of the vector clock.
//
// Format: "{tid1:clock1, tid2:clock2, ...}" showing only non-zero clocks.
func (vc *VectorClock) String() string {
	var parts []string
	for i, c := range vc.clocks {
		if c != 0 {
			parts = append(parts, strconv.Itoa(i)+":"+strconv.FormatUint(uint64(c), 10))
		}
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
