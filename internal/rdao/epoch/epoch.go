// Package epoch implements compact (thread, clock) timestamps for events.
//
// Every event in a collected trace carries the epoch at which its thread
// performed it. Checking whether an event happens-before another event then
// needs a single comparison against the other event's vector clock:
//
//	a → b  iff  a.clock <= b.vc[a.tid]
//
// Layout: [TID:32][Clock:32] packed into a uint64.
package epoch

import (
	"strconv"

	"github.com/kolkov/rdao/internal/rdao/vectorclock"
)

// Epoch is a 64-bit logical timestamp encoding thread index and clock value.
type Epoch uint64

const (
	// ClockBits is the number of bits allocated for the clock value.
	ClockBits = 32

	// ClockMask is the bitmask for extracting the clock value.
	ClockMask = (1 << ClockBits) - 1
)

// New creates an epoch from a dense thread index and clock value.
func New(tid int, clock uint32) Epoch {
	//nolint:gosec // G115: thread indexes are bounded by the program's thread count.
	return Epoch(uint64(uint32(tid))<<ClockBits | uint64(clock))
}

// Decode extracts the thread index and clock value from an epoch.
func (e Epoch) Decode() (tid int, clock uint32) {
	tid = int(uint32(e >> ClockBits))
	clock = uint32(e & ClockMask)
	return
}

// TID returns the thread index.
func (e Epoch) TID() int {
	tid, _ := e.Decode()
	return tid
}

// Clock returns the clock value.
func (e Epoch) Clock() uint32 {
	_, c := e.Decode()
	return c
}

// HappensBefore checks if this epoch happened before a vector clock.
//
// Returns true if epoch's clock <= vc[epoch's TID].
func (e Epoch) HappensBefore(vc *vectorclock.VectorClock) bool {
	tid, clock := e.Decode()
	return clock <= vc.Get(tid)
}

// String returns a human-readable representation of the epoch.
//
// Format: "clock@tid" (e.g., "42@5" means clock=42, tid=5).
func (e Epoch) String() string {
	tid, clock := e.Decode()
	return strconv.FormatUint(uint64(clock), 10) + "@" + strconv.Itoa(tid)
}
