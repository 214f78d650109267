// Package rdao statically detects concurrency defects in multi-threaded
// programs described by an intermediate representation (IR).
//
// A language front end (not part of this module) lowers a program into IR: a
// thread-creation tree plus, per thread, the ordered reads, writes, lock
// operations, spawns and joins it performs. The engine reports:
//
//   - races: conflicting accesses from concurrent threads with no common lock
//   - deadlocks: cycles in the lock-order graph, and locks never released
//   - atomicity violations: a compound access split by another thread
//   - order violations: a consumer that may run before its producer
//   - unsafe recursion: a plain lock re-acquired by its holder
//
// # Quick Start
//
//	$ rdao analyze program.yaml
//
// From Go:
//
//	progs, err := rdao.Load("program.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//	report, err := rdao.Analyze(progs[0])
//	if err != nil {
//		log.Fatal(err) // *rdao.IllFormedTraceError for malformed input
//	}
//	fmt.Print(report)
//	if report.Blocking() {
//		os.Exit(66)
//	}
//
// # IR
//
//	version: v1.0.0
//	name: counter
//	locks:
//	  - {id: r, kind: recursive}
//	locations:
//	  - {id: tmp, scope: local}
//	  - {id: errno, owner: process}
//	threads:
//	  - id: main
//	    ops:
//	      - {op: spawn, target: t1, pos: "counter.c:20"}
//	      - {op: write, target: counter, pos: "counter.c:21"}
//	      - {op: join, target: t1, pos: "counter.c:22"}
//	  - id: t1
//	    parent: main
//	    ops:
//	      - {op: lock, target: m}
//	      - {op: write, target: counter, loop: true}
//	      - {op: unlock, target: m}
//
// Undeclared locks are plain and undeclared locations are global. A write
// flagged alloc publishes freshly allocated storage and is checked for
// order violations. Several documents may share one file.
//
// # How It Works
//
// The engine never simulates interleavings. It replays every thread once:
//
//  1. Spawn and join edges give each event a vector-clock snapshot, so any
//     two events can be tested for happens-before.
//  2. A lock-set replay computes the locks held at every access, the
//     outermost critical sections of every thread and the lock-order graph.
//  3. Detectors combine the two: lock sets decide whether accesses are
//     protected, happens-before discards pairs that spawn and join order.
//
// Each location that two or more threads share is also labeled with its
// communication pattern (forward, backward or symmetric).
//
// # Determinism
//
// Output depends only on the program, never on the order in which its
// threads are listed. Findings are sorted by class, then source position,
// then key, and deduplicated by key.
//
// # Limits
//
// Cycle enumeration is exponential in the worst case. The [analysis]
// max_cycles and max_cycle_steps settings bound it; a report cut short is
// marked Incomplete. The engine does not prove the absence of defects and
// ignores synchronization other than locks, spawn and join.
package rdao
