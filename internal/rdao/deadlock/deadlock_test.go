package deadlock

import (
	"strings"
	"testing"

	"github.com/kolkov/rdao/internal/rdao/finding"
	"github.com/kolkov/rdao/internal/rdao/ir"
	"github.com/kolkov/rdao/internal/rdao/irtest"
	"github.com/kolkov/rdao/internal/rdao/lockgraph"
	"github.com/kolkov/rdao/internal/rdao/lockset"
	"github.com/kolkov/rdao/internal/rdao/trace"
)

func detect(t *testing.T, p *ir.Program, b lockgraph.Budget) (*lockset.Result, Result) {
	t.Helper()
	tr, err := trace.Collect(p)
	if err != nil {
		t.Fatalf("Collect(%s) error = %v", p.Name, err)
	}
	r, err := lockset.Analyze(tr)
	if err != nil {
		t.Fatalf("lockset.Analyze(%s) error = %v", p.Name, err)
	}
	return r, Detect(r, b)
}

func twoThreads(name string, t1, t2 func(*irtest.T)) *ir.Program {
	return irtest.New(name).
		Main("main", func(t *irtest.T) { t.Spawn("t1", "t2").Join("t1", "t2") }).
		Thread("t1", "main", t1).
		Thread("t2", "main", t2).
		Program()
}

func deadlocks(fs []finding.Finding) []finding.Finding {
	var out []finding.Finding
	for _, f := range fs {
		if f.Class == finding.ClassDeadlock {
			out = append(out, f)
		}
	}
	return out
}

func TestLockOrderConsistency(t *testing.T) {
	tests := []struct {
		name   string
		t1, t2 func(*irtest.T)
		want   bool
	}{
		{
			name: "same order",
			t1:   func(t *irtest.T) { t.Lock("m", "n", "o").Unlock("o", "n", "m") },
			t2:   func(t *irtest.T) { t.Lock("m", "n", "o").Unlock("o", "n", "m") },
			want: false,
		},
		{
			name: "reversed order",
			t1:   func(t *irtest.T) { t.Lock("m", "n", "o").Unlock("o", "n", "m") },
			t2:   func(t *irtest.T) { t.Lock("o", "n", "m").Unlock("m", "n", "o") },
			want: true,
		},
		{
			name: "release order is irrelevant",
			t1:   func(t *irtest.T) { t.Lock("m", "n").Unlock("m", "n") },
			t2:   func(t *irtest.T) { t.Lock("m", "n").Unlock("n", "m") },
			want: false,
		},
		{
			name: "sequential sections",
			t1:   func(t *irtest.T) { t.Lock("m").Unlock("m").Lock("n").Unlock("n") },
			t2:   func(t *irtest.T) { t.Lock("n").Unlock("n").Lock("m").Unlock("m") },
			want: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, res := detect(t, twoThreads("deadlock", tt.t1, tt.t2), lockgraph.Budget{})
			got := deadlocks(res.Findings)
			if (len(got) > 0) != tt.want {
				t.Errorf("deadlocks = %v, want any = %v", got, tt.want)
			}
		})
	}
}

func TestCycleFinding(t *testing.T) {
	_, res := detect(t, twoThreads("deadlock",
		func(t *irtest.T) { t.Lock("m", "n").Unlock("n", "m") },
		func(t *irtest.T) { t.Lock("n", "m").Unlock("m", "n") },
	), lockgraph.Budget{})

	if len(res.Findings) != 1 {
		t.Fatalf("len(Findings) = %d, want 1: %v", len(res.Findings), res.Findings)
	}
	f := res.Findings[0]
	if f.Subject != "m -> n -> m" {
		t.Errorf("Subject = %q, want m -> n -> m", f.Subject)
	}
	if f.Severity != finding.SeverityHigh {
		t.Errorf("Severity = %v, want high for concurrent threads", f.Severity)
	}
	if f.Key != "deadlock|m|n" {
		t.Errorf("Key = %q", f.Key)
	}
	if len(f.Evidence) != 4 || f.Evidence[0].Note != "holds m" || f.Evidence[1].Note != "acquires n" {
		t.Errorf("Evidence = %v", f.Evidence)
	}
	if !strings.Contains(f.Message, "t1, t2") {
		t.Errorf("Message = %q, want both threads named", f.Message)
	}
}

func TestSeverity(t *testing.T) {
	tests := []struct {
		name string
		prog *ir.Program
		want finding.Severity
	}{
		{
			name: "single thread",
			prog: irtest.New("one").
				Main("main", func(t *irtest.T) {
					t.Lock("m", "n").Unlock("n", "m").Lock("n", "m").Unlock("m", "n")
				}).
				Program(),
			want: finding.SeverityMedium,
		},
		{
			name: "threads ordered by join",
			prog: irtest.New("seq").
				Main("main", func(t *irtest.T) { t.Spawn("t1").Join("t1").Spawn("t2").Join("t2") }).
				Thread("t1", "main", func(t *irtest.T) { t.Lock("m", "n").Unlock("n", "m") }).
				Thread("t2", "main", func(t *irtest.T) { t.Lock("n", "m").Unlock("m", "n") }).
				Program(),
			want: finding.SeverityMedium,
		},
		{
			name: "concurrent threads",
			prog: twoThreads("conc",
				func(t *irtest.T) { t.Lock("m", "n").Unlock("n", "m") },
				func(t *irtest.T) { t.Lock("n", "m").Unlock("m", "n") },
			),
			want: finding.SeverityHigh,
		},
		{
			name: "concurrent threads in a loop",
			prog: twoThreads("loop",
				func(t *irtest.T) {
					t.Loop(func(t *irtest.T) { t.Lock("m", "n").Unlock("n", "m") })
				},
				func(t *irtest.T) { t.Lock("n", "m").Unlock("m", "n") },
			),
			want: finding.SeverityCritical,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, res := detect(t, tt.prog, lockgraph.Budget{})
			got := deadlocks(res.Findings)
			if len(got) != 1 {
				t.Fatalf("len(deadlocks) = %d, want 1", len(got))
			}
			if got[0].Severity != tt.want {
				t.Errorf("Severity = %v, want %v", got[0].Severity, tt.want)
			}
		})
	}
}

func TestSelfLoopMatchesLocksetKey(t *testing.T) {
	p := irtest.New("recursion_deadlock1").
		Main("main", func(t *irtest.T) { t.Lock("m", "m").Unlock("m", "m") }).
		Program()
	r, res := detect(t, p, lockgraph.Budget{})
	if len(res.Findings) != 1 || len(r.Findings) != 1 {
		t.Fatalf("findings: deadlock %d, lockset %d, want 1 and 1", len(res.Findings), len(r.Findings))
	}
	if res.Findings[0].Class != finding.ClassUnsafeRecursion {
		t.Errorf("Class = %v, want unsafe-recursion", res.Findings[0].Class)
	}
	if res.Findings[0].Key != r.Findings[0].Key {
		t.Errorf("keys differ: %q vs %q", res.Findings[0].Key, r.Findings[0].Key)
	}
}

func TestBudget(t *testing.T) {
	// Every thread takes all four locks in a different rotation.
	locks := []string{"a", "b", "c", "d"}
	b := irtest.New("budget").Main("main", func(t *irtest.T) {
		t.Spawn("t0", "t1", "t2", "t3").Join("t0", "t1", "t2", "t3")
	})
	for i := range locks {
		rot := append(append([]string(nil), locks[i:]...), locks[:i]...)
		b.Thread("t"+string(rune('0'+i)), "main", func(t *irtest.T) {
			t.Lock(rot...).Unlock(rot...)
		})
	}
	p := b.Program()

	_, full := detect(t, p, lockgraph.Budget{})
	if full.Incomplete {
		t.Fatalf("unbounded run is incomplete: %s", full.Reason)
	}

	_, res := detect(t, p, lockgraph.Budget{MaxCycles: 1})
	if !res.Incomplete || !strings.Contains(res.Reason, "budget") {
		t.Errorf("Incomplete = %v, Reason = %q", res.Incomplete, res.Reason)
	}
	if n := len(deadlocks(res.Findings)); n != 1 || len(deadlocks(full.Findings)) <= n {
		t.Errorf("bounded run found %d cycles, unbounded %d", n, len(deadlocks(full.Findings)))
	}
}
