package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/kolkov/rdao/internal/rdao/config"
	"github.com/kolkov/rdao/internal/rdao/finding"
	"github.com/kolkov/rdao/internal/rdao/ir"
	"github.com/kolkov/rdao/internal/rdao/irtest"
	"github.com/kolkov/rdao/internal/rdao/lockgraph"
)

func load(t *testing.T, file string) []*ir.Program {
	t.Helper()
	progs, err := ir.LoadFile(filepath.Join("testdata", file))
	if err != nil {
		t.Fatalf("LoadFile(%s) error = %v", file, err)
	}
	return progs
}

func counts(r *finding.Report) map[string]int {
	m := make(map[string]int)
	for _, f := range r.Findings {
		m[f.Class.String()]++
	}
	return m
}

func TestCorpus(t *testing.T) {
	tests := []struct {
		file     string
		program  string
		want     map[string]int
		relation map[string]string
		blocking bool
	}{
		{
			file:     "race_condition.yaml",
			want:     map[string]int{"race": 1},
			relation: map[string]string{"counter": "symmetric"},
			blocking: true,
		},
		{
			file:     "deadlock.yaml",
			want:     map[string]int{"deadlock": 1},
			blocking: true,
		},
		{
			file: "no_deadlock.yaml",
			want: map[string]int{},
		},
		{
			file:     "atomicity_violation2.yaml",
			want:     map[string]int{"atomicity-violation": 1},
			relation: map[string]string{"balance": "forward"},
		},
		{
			file:     "order_violation1.yaml",
			want:     map[string]int{"race": 1, "order-violation": 1},
			relation: map[string]string{"conn": "forward"},
			blocking: true,
		},
		{
			file:     "recursion_deadlock1.yaml",
			want:     map[string]int{"unsafe-recursion": 1},
			blocking: true,
		},
		{
			file:     "relations.yaml",
			program:  "backward_relation",
			want:     map[string]int{"race": 1},
			relation: map[string]string{"errno": "backward"},
			blocking: true,
		},
		{
			file:     "relations.yaml",
			program:  "forward_relation",
			want:     map[string]int{"race": 1},
			relation: map[string]string{"data": "forward"},
			blocking: true,
		},
		{
			file:     "relations.yaml",
			program:  "symmetric_relation",
			want:     map[string]int{"race": 1},
			relation: map[string]string{"total": "symmetric"},
			blocking: true,
		},
		{
			file: "single_thread_for_loop.yaml",
			want: map[string]int{},
		},
	}

	e := New(FromConfig(config.Default(), nil))
	for _, tt := range tests {
		name := tt.file
		if tt.program != "" {
			name = tt.program
		}
		t.Run(name, func(t *testing.T) {
			var p *ir.Program
			for _, q := range load(t, tt.file) {
				if tt.program == "" || q.Name == tt.program {
					p = q
					break
				}
			}
			if p == nil {
				t.Fatalf("program %q not found in %s", tt.program, tt.file)
			}

			r, err := e.Analyze(p)
			if err != nil {
				t.Fatalf("Analyze() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, counts(r)); diff != "" {
				t.Errorf("finding counts (-want +got):\n%s\n%s", diff, r)
			}
			for loc, label := range tt.relation {
				if got := r.Relation(loc); got != label {
					t.Errorf("Relation(%s) = %q, want %q", loc, got, label)
				}
				for _, f := range r.Findings {
					if f.Subject == loc && f.Relation != label {
						t.Errorf("finding on %s has relation %q, want %q", loc, f.Relation, label)
					}
				}
			}
			if got := r.Blocking(); got != tt.blocking {
				t.Errorf("Blocking() = %v, want %v", got, tt.blocking)
			}
		})
	}
}

func TestIllFormedProgram(t *testing.T) {
	p := load(t, "unmatched_unlock.yaml")[0]
	_, err := New(Options{}).Analyze(p)
	var ill *ir.IllFormedTraceError
	if !errors.As(err, &ill) {
		t.Fatalf("Analyze() error = %v, want IllFormedTraceError", err)
	}
	if ill.Pos != "unmatched_unlock.c:7" {
		t.Errorf("error position = %q, want unmatched_unlock.c:7", ill.Pos)
	}
}

// mixed exercises every detector at once.
func mixed() *ir.Program {
	return irtest.New("mixed").
		Main("main", func(t *irtest.T) {
			t.Read("balance").Spawn("a", "b", "c", "d").Alloc("conn").Join("a", "b", "c").Read("balance")
		}).
		Thread("a", "main", func(t *irtest.T) {
			t.Lock("m").Inc("balance").Unlock("m")
			t.Lock("m", "n").Read("balance").Unlock("n", "m")
			t.Write("counter")
		}).
		Thread("b", "main", func(t *irtest.T) {
			t.Lock("n").Write("rate").Unlock("n")
			t.Lock("n", "m").Unlock("m", "n")
			t.Write("counter").Read("conn")
		}).
		Thread("c", "main", func(t *irtest.T) {
			t.Lock("o", "o").Unlock("o", "o")
		}).
		Thread("d", "main", func(t *irtest.T) { t.Read("counter") }).
		Program()
}

func render(t *testing.T, e *Engine, p *ir.Program) (string, string) {
	t.Helper()
	r, err := e.Analyze(p)
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	js, err := json.Marshal(r)
	if err != nil {
		t.Fatal(err)
	}
	return r.String(), string(js)
}

func TestDeterministicOutput(t *testing.T) {
	e := New(Options{BlockingSeverity: finding.SeverityHigh})
	p := mixed()
	text, js := render(t, e, p)

	r, _ := e.Analyze(p)
	// counter: a, b and d share one unlocked signature pair; conn: main/b.
	want := map[string]int{"race": 2, "deadlock": 1, "atomicity-violation": 1, "order-violation": 1, "unsafe-recursion": 1}
	if diff := cmp.Diff(want, counts(r)); diff != "" {
		t.Errorf("finding counts (-want +got):\n%s\n%s", diff, text)
	}
	if len(r.Unjoined) != 1 || r.Unjoined[0].Thread != "d" {
		t.Errorf("Unjoined = %v, want [d]", r.Unjoined)
	}

	for i := 0; i < 3; i++ {
		if text2, js2 := render(t, e, p); text2 != text || js2 != js {
			t.Fatalf("run %d produced different output", i)
		}
	}
	for _, q := range []*ir.Program{irtest.Reversed(p), irtest.Shuffled(p, 3), irtest.Shuffled(p, 11)} {
		text2, js2 := render(t, e, q)
		if diff := cmp.Diff(text, text2); diff != "" {
			t.Errorf("text output depends on thread order (-want +got):\n%s", diff)
		}
		if js2 != js {
			t.Error("JSON output depends on thread order")
		}
	}
}

func TestBudgetMarksReportIncomplete(t *testing.T) {
	logger, hook := test.NewNullLogger()
	e := New(Options{Budget: lockgraph.Budget{MaxCycles: 1}, Logger: logger})

	p := irtest.New("budget").
		Main("main", func(t *irtest.T) { t.Spawn("t1", "t2").Join("t1", "t2") }).
		Thread("t1", "main", func(t *irtest.T) { t.Lock("a", "b", "c").Unlock("c", "b", "a") }).
		Thread("t2", "main", func(t *irtest.T) { t.Lock("c", "b", "a").Unlock("a", "b", "c") }).
		Program()
	r, err := e.Analyze(p)
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if !r.Incomplete || r.IncompleteReason == "" {
		t.Errorf("Incomplete = %v, reason %q", r.Incomplete, r.IncompleteReason)
	}
	if n := r.Count(finding.ClassDeadlock); n != 1 {
		t.Errorf("Count(deadlock) = %d, want 1", n)
	}

	var warned bool
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.WarnLevel && entry.Data["program"] == "budget" {
			warned = true
		}
	}
	if !warned {
		t.Error("no warning logged for the exceeded budget")
	}
}

func TestAnalyzeBatch(t *testing.T) {
	var progs []*ir.Program
	for _, f := range []string{"race_condition.yaml", "unmatched_unlock.yaml", "relations.yaml", "no_deadlock.yaml"} {
		progs = append(progs, load(t, f)...)
	}

	e := New(Options{Workers: 2})
	results, err := e.AnalyzeBatch(context.Background(), progs)
	if err != nil {
		t.Fatalf("AnalyzeBatch() error = %v", err)
	}
	var names []string
	for _, r := range results {
		names = append(names, r.Name)
	}
	want := []string{"race_condition", "unmatched_unlock", "backward_relation", "forward_relation", "symmetric_relation", "no_deadlock"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("result order (-want +got):\n%s", diff)
	}
	for i, r := range results {
		if i == 1 {
			if !errors.Is(r.Err, ir.ErrIllFormedTrace) || r.Report != nil {
				t.Errorf("%s: Err = %v, want ill-formed trace", r.Name, r.Err)
			}
			continue
		}
		if r.Err != nil || r.Report == nil {
			t.Errorf("%s: Err = %v", r.Name, r.Err)
		}
	}

	// Batch results match single runs.
	single, _ := e.Analyze(progs[0])
	var a, b bytes.Buffer
	single.Format(&a)
	results[0].Report.Format(&b)
	if a.String() != b.String() {
		t.Errorf("batch report differs from single run:\n%s\nvs\n%s", b.String(), a.String())
	}
}

func TestAnalyzeBatchCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	progs := load(t, "relations.yaml")
	results, err := New(Options{}).AnalyzeBatch(ctx, progs)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("AnalyzeBatch() error = %v, want context.Canceled", err)
	}
	for _, r := range results {
		if !errors.Is(r.Err, context.Canceled) {
			t.Errorf("%s: Err = %v, want context.Canceled", r.Name, r.Err)
		}
	}
}
