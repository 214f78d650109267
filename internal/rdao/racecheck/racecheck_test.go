package racecheck

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/kolkov/rdao/internal/rdao/finding"
	"github.com/kolkov/rdao/internal/rdao/ir"
	"github.com/kolkov/rdao/internal/rdao/irtest"
	"github.com/kolkov/rdao/internal/rdao/lockset"
	"github.com/kolkov/rdao/internal/rdao/trace"
)

func replay(t *testing.T, p *ir.Program) *lockset.Result {
	t.Helper()
	tr, err := trace.Collect(p)
	if err != nil {
		t.Fatalf("Collect(%s) error = %v", p.Name, err)
	}
	r, err := lockset.Analyze(tr)
	if err != nil {
		t.Fatalf("lockset.Analyze(%s) error = %v", p.Name, err)
	}
	return r
}

// pair builds main spawning t1 and t2 with the given bodies and joining
// both at the end.
func pair(name string, t1, t2 func(*irtest.T)) *irtest.Builder {
	return irtest.New(name).
		Main("main", func(t *irtest.T) { t.Spawn("t1", "t2").Join("t1", "t2") }).
		Thread("t1", "main", t1).
		Thread("t2", "main", t2)
}

func TestRaceIffDisjointLocksAndWrite(t *testing.T) {
	tests := []struct {
		name   string
		t1, t2 func(*irtest.T)
		want   int
	}{
		{
			name: "common lock",
			t1:   func(t *irtest.T) { t.Lock("m").Write("x").Unlock("m") },
			t2:   func(t *irtest.T) { t.Lock("m").Write("x").Unlock("m") },
			want: 0,
		},
		{
			name: "different locks",
			t1:   func(t *irtest.T) { t.Lock("m").Write("x").Unlock("m") },
			t2:   func(t *irtest.T) { t.Lock("n").Write("x").Unlock("n") },
			want: 1,
		},
		{
			name: "one side unlocked",
			t1:   func(t *irtest.T) { t.Lock("m").Write("x").Unlock("m") },
			t2:   func(t *irtest.T) { t.Read("x") },
			want: 1,
		},
		{
			name: "overlapping lock sets",
			t1:   func(t *irtest.T) { t.Lock("m", "n").Write("x").Unlock("n", "m") },
			t2:   func(t *irtest.T) { t.Lock("n", "o").Write("x").Unlock("o", "n") },
			want: 0,
		},
		{
			name: "reads only",
			t1:   func(t *irtest.T) { t.Read("x") },
			t2:   func(t *irtest.T) { t.Read("x") },
			want: 0,
		},
		{
			name: "write write",
			t1:   func(t *irtest.T) { t.Write("x") },
			t2:   func(t *irtest.T) { t.Write("x") },
			want: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Races(replay(t, pair("race", tt.t1, tt.t2).Program()))
			if len(got) != tt.want {
				t.Errorf("len(Races()) = %d, want %d: %v", len(got), tt.want, got)
			}
		})
	}
}

func TestRaceEvidence(t *testing.T) {
	r := replay(t, pair("race",
		func(t *irtest.T) { t.Read("x").Lock("m").Write("x").Unlock("m") },
		func(t *irtest.T) { t.Write("x") },
	).Program())
	got := Races(r)
	// t1 reads x unlocked and writes it under m: two lock-set signatures.
	if len(got) != 2 {
		t.Fatalf("len(Races()) = %d, want 2", len(got))
	}
	f := got[0]
	if f.Class != finding.ClassRace || f.Severity != finding.SeverityHigh || f.Subject != "x" {
		t.Errorf("finding = %v %v %s", f.Class, f.Severity, f.Subject)
	}
	var pos []string
	for _, e := range f.Evidence {
		pos = append(pos, e.Pos)
	}
	if diff := cmp.Diff([]string{"t1.c:1", "t2.c:1"}, pos); diff != "" {
		t.Errorf("evidence positions (-want +got):\n%s", diff)
	}
	if !cmp.Equal(got[1].Evidence[0].Held, []string{"m"}) {
		t.Errorf("second race held = %v, want [m]", got[1].Evidence[0].Held)
	}
}

func TestRaceLoopDeduplicated(t *testing.T) {
	r := replay(t, pair("loop",
		func(t *irtest.T) {
			t.Loop(func(t *irtest.T) { t.Inc("count").Inc("count") })
		},
		func(t *irtest.T) {
			t.Loop(func(t *irtest.T) { t.Inc("count") })
		},
	).Program())
	if got := Races(r); len(got) != 1 {
		t.Errorf("len(Races()) = %d, want 1: %v", len(got), got)
	}
}

// workers builds main spawning n identical threads that each increment r1
// in a loop, plus one writer under m when locked is set.
func workers(n int, locked bool) *ir.Program {
	var ids []string
	for i := 1; i <= n; i++ {
		ids = append(ids, fmt.Sprintf("w%d", i))
	}
	if locked {
		ids = append(ids, "locked")
	}
	b := irtest.New("workers").
		Main("main", func(t *irtest.T) { t.Spawn(ids...).Join(ids...) })
	for _, id := range ids[:n] {
		b.Thread(id, "main", func(t *irtest.T) {
			t.Loop(func(t *irtest.T) { t.Inc("r1") })
		})
	}
	if locked {
		b.Thread("locked", "main", func(t *irtest.T) { t.Lock("m").Write("r1").Unlock("m") })
	}
	return b.Program()
}

func TestRaceIdenticalWorkersDeduplicated(t *testing.T) {
	got := Races(replay(t, workers(5, false)))
	if len(got) != 1 {
		t.Fatalf("len(Races()) = %d, want 1: %v", len(got), got)
	}
	var threads []string
	for _, e := range got[0].Evidence {
		threads = append(threads, e.Thread)
	}
	if diff := cmp.Diff([]string{"w1", "w2"}, threads); diff != "" {
		t.Errorf("evidence threads (-want +got):\n%s", diff)
	}

	// A writer holding m is a second lock-set signature pair.
	if got := Races(replay(t, workers(5, true))); len(got) != 2 {
		t.Errorf("len(Races()) with a locked writer = %d, want 2: %v", len(got), got)
	}
}

func TestNoFindingsOnThreadLocalData(t *testing.T) {
	tests := []struct {
		name string
		prog *ir.Program
	}{
		{
			name: "declared local",
			prog: pair("local",
				func(t *irtest.T) { t.Alloc("tmp").Inc("tmp") },
				func(t *irtest.T) { t.Inc("tmp") },
			).Local("tmp").Program(),
		},
		{
			name: "single accessor",
			prog: pair("single",
				func(t *irtest.T) {
					t.Alloc("buf").Lock("m").Inc("buf").Unlock("m").Lock("m").Inc("buf").Unlock("m")
				},
				func(t *irtest.T) { t.Lock("m").Write("other").Unlock("m") },
			).Program(),
		},
		{
			name: "single thread loop",
			prog: irtest.New("single_thread_for_loop").
				Main("main", func(t *irtest.T) {
					t.Loop(func(t *irtest.T) { t.Inc("i").Write("sum") })
				}).
				Program(),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Check(replay(t, tt.prog)); len(got) != 0 {
				t.Errorf("Check() = %v, want no findings", got)
			}
		})
	}

	// Local data next to a shared race stays out of every finding.
	p := pair("local_and_shared",
		func(t *irtest.T) { t.Alloc("tmp").Inc("tmp").Write("x") },
		func(t *irtest.T) { t.Inc("tmp").Write("x") },
	).Local("tmp").Program()
	got := Check(replay(t, p))
	if len(got) == 0 {
		t.Fatal("Check() found nothing, want a race on x")
	}
	for _, f := range got {
		if f.References("tmp") {
			t.Errorf("finding %s %s mentions thread-local tmp", f.Class, f.Key)
		}
		if !f.References("x") {
			t.Errorf("finding %s %s does not mention x", f.Class, f.Key)
		}
	}
}

func TestHappensBeforePrunesRaces(t *testing.T) {
	p := irtest.New("ordered").
		Main("main", func(t *irtest.T) {
			t.Write("x").Spawn("t1").Join("t1").Write("x")
		}).
		Thread("t1", "main", func(t *irtest.T) { t.Write("x") }).
		Program()
	if got := Races(replay(t, p)); len(got) != 0 {
		t.Errorf("Races() = %v, want none for spawn/join ordered writes", got)
	}

	unjoined := irtest.New("unjoined").
		Main("main", func(t *irtest.T) { t.Spawn("t1").Write("x") }).
		Thread("t1", "main", func(t *irtest.T) { t.Write("x") }).
		Program()
	if got := Races(replay(t, unjoined)); len(got) != 1 {
		t.Errorf("len(Races()) = %d, want 1 for an unjoined thread", len(got))
	}
}

// atomicityScenario: thread A increments balance under m, then reads it
// again under m and n; thread B writes rate under n in between.
func atomicityScenario() *ir.Program {
	return irtest.New("atomicity").
		Main("main", func(t *irtest.T) {
			t.Read("balance").Spawn("A", "B").Join("A", "B").Read("balance")
		}).
		Thread("A", "main", func(t *irtest.T) {
			t.Lock("m").Inc("balance").Unlock("m")
			t.Lock("m", "n").Read("balance").Unlock("n", "m")
		}).
		Thread("B", "main", func(t *irtest.T) {
			t.Lock("n").Write("rate").Read("rate").Unlock("n")
		}).
		Program()
}

func TestAtomicityScenario(t *testing.T) {
	r := replay(t, atomicityScenario())
	if got := Races(r); len(got) != 0 {
		t.Errorf("Races() = %v, want none", got)
	}
	got := AtomicityViolations(r)
	if len(got) != 1 {
		t.Fatalf("len(AtomicityViolations()) = %d, want 1: %v", len(got), got)
	}
	f := got[0]
	if f.Subject != "balance" || f.Severity != finding.SeverityMedium {
		t.Errorf("finding = %s %v, want balance medium", f.Subject, f.Severity)
	}
	var notes []string
	for _, e := range f.Evidence {
		notes = append(notes, e.Thread+" "+e.Pos+" "+e.Note)
	}
	want := []string{
		"A A.c:2 first section",
		"A A.c:3 first section",
		"A A.c:7 second section",
		"B B.c:2 interleaved",
	}
	if diff := cmp.Diff(want, notes); diff != "" {
		t.Errorf("evidence (-want +got):\n%s", diff)
	}
}

func TestAtomicityNeedsInterleaving(t *testing.T) {
	tests := []struct {
		name string
		b    func(*irtest.T)
		want int
	}{
		{
			name: "unrelated lock",
			b:    func(t *irtest.T) { t.Lock("o").Write("rate").Unlock("o") },
			want: 0,
		},
		{
			name: "reads under shared lock",
			b:    func(t *irtest.T) { t.Lock("m").Read("rate").Unlock("m") },
			want: 0,
		},
		{
			name: "direct access",
			b:    func(t *irtest.T) { t.Lock("m").Write("balance").Unlock("m") },
			want: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := irtest.New("atomicity").
				Main("main", func(t *irtest.T) {
					t.Read("balance").Spawn("t1", "t2").Join("t1", "t2")
				}).
				Thread("t1", "main", func(t *irtest.T) {
					t.Lock("m").Read("balance").Unlock("m")
					t.Lock("m").Write("balance").Unlock("m")
				}).
				Thread("t2", "main", tt.b).
				Program()
			if got := AtomicityViolations(replay(t, p)); len(got) != tt.want {
				t.Errorf("len(AtomicityViolations()) = %d, want %d", len(got), tt.want)
			}
		})
	}
}

func TestOrderViolation(t *testing.T) {
	late := irtest.New("order_violation1").
		Main("main", func(t *irtest.T) { t.Spawn("t1").Alloc("conn").Join("t1") }).
		Thread("t1", "main", func(t *irtest.T) { t.Read("conn") }).
		Program()
	got := OrderViolations(replay(t, late))
	if len(got) != 1 {
		t.Fatalf("len(OrderViolations()) = %d, want 1", len(got))
	}
	if f := got[0]; f.Subject != "conn" || f.Evidence[0].Note != "producer" || f.Evidence[1].Thread != "t1" {
		t.Errorf("finding = %+v", f)
	}

	early := irtest.New("ordered").
		Main("main", func(t *irtest.T) { t.Alloc("conn").Spawn("t1").Join("t1") }).
		Thread("t1", "main", func(t *irtest.T) { t.Read("conn").Read("conn") }).
		Program()
	if got := OrderViolations(replay(t, early)); len(got) != 0 {
		t.Errorf("OrderViolations() = %v, want none when the alloc precedes the spawn", got)
	}
}
