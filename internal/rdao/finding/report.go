package finding

import (
	"fmt"
	"io"
	"strings"
)

// RelationLabel is the relation classifier's verdict for one location.
type RelationLabel struct {
	Location  string   `json:"location" yaml:"location"`
	Label     string   `json:"label" yaml:"label"`
	Producers []string `json:"producers,omitempty" yaml:"producers,omitempty"`
	Consumers []string `json:"consumers,omitempty" yaml:"consumers,omitempty"`
}

// UnjoinedThread records a thread that nobody joins. Its events are treated
// as concurrent with everything after its spawn point.
type UnjoinedThread struct {
	Thread   string `json:"thread" yaml:"thread"`
	Parent   string `json:"parent" yaml:"parent"`
	SpawnPos string `json:"spawn_pos,omitempty" yaml:"spawn_pos,omitempty"`
}

// Report is the merged result of one analysis run.
type Report struct {
	Program   string           `json:"program" yaml:"program"`
	Findings  []Finding        `json:"findings" yaml:"findings"`
	Relations []RelationLabel  `json:"relations,omitempty" yaml:"relations,omitempty"`
	Unjoined  []UnjoinedThread `json:"unjoined,omitempty" yaml:"unjoined,omitempty"`

	// Incomplete is set when a work budget stopped an analysis early. The
	// findings present are valid, but others may be missing.
	Incomplete       bool   `json:"incomplete,omitempty" yaml:"incomplete,omitempty"`
	IncompleteReason string `json:"incomplete_reason,omitempty" yaml:"incomplete_reason,omitempty"`

	// BlockingSeverity is the threshold used by Blocking.
	BlockingSeverity Severity `json:"blocking_severity" yaml:"blocking_severity"`
}

// Blocking reports whether any finding is at or above the blocking
// severity. A CLI maps this to its exit status.
func (r *Report) Blocking() bool {
	for _, f := range r.Findings {
		if f.Severity >= r.BlockingSeverity {
			return true
		}
	}
	return false
}

// Count returns the number of findings of class c.
func (r *Report) Count(c Class) int {
	n := 0
	for _, f := range r.Findings {
		if f.Class == c {
			n++
		}
	}
	return n
}

// ByClass returns the findings of class c in report order.
func (r *Report) ByClass(c Class) []Finding {
	var out []Finding
	for _, f := range r.Findings {
		if f.Class == c {
			out = append(out, f)
		}
	}
	return out
}

// Relation returns the relation label of location, or "".
func (r *Report) Relation(location string) string {
	for _, rl := range r.Relations {
		if rl.Location == location {
			return rl.Label
		}
	}
	return ""
}

var headlines = map[Class]string{
	ClassRace:            "DATA RACE",
	ClassDeadlock:        "POTENTIAL DEADLOCK",
	ClassAtomicity:       "ATOMICITY VIOLATION",
	ClassOrder:           "ORDER VIOLATION",
	ClassUnsafeRecursion: "UNSAFE RECURSIVE LOCKING",
}

// Format writes one finding in the style of the Go race detector:
//
//	==================
//	WARNING: DATA RACE on counter (severity high)
//	  write counter by thread t1 at t1.c:3 (held: {})
//	  write counter by thread t2 at t2.c:1 (held: {m})
//	  relation: symmetric
//	==================
//
//nolint:errcheck // Report formatting to an io.Writer, errors surface on the writer
func (f *Finding) Format(w io.Writer) {
	fmt.Fprintf(w, "==================\n")
	fmt.Fprintf(w, "WARNING: %s on %s (severity %s)\n", headlines[f.Class], f.Subject, f.Severity)
	if f.Message != "" {
		fmt.Fprintf(w, "  %s\n", f.Message)
	}
	for _, e := range f.Evidence {
		fmt.Fprintf(w, "  %s\n", e)
	}
	if f.Relation != "" {
		fmt.Fprintf(w, "  relation: %s\n", f.Relation)
	}
	fmt.Fprintf(w, "==================\n")
}

// String returns the formatted finding.
func (f *Finding) String() string {
	var b strings.Builder
	f.Format(&b)
	return b.String()
}

// Format writes every finding followed by a summary line.
//
//nolint:errcheck // Report formatting to an io.Writer, errors surface on the writer
func (r *Report) Format(w io.Writer) {
	for i := range r.Findings {
		r.Findings[i].Format(w)
	}
	for _, u := range r.Unjoined {
		fmt.Fprintf(w, "note: thread %s (spawned by %s", u.Thread, u.Parent)
		if u.SpawnPos != "" {
			fmt.Fprintf(w, " at %s", u.SpawnPos)
		}
		fmt.Fprintf(w, ") is never joined\n")
	}
	if r.Incomplete {
		fmt.Fprintf(w, "note: analysis incomplete: %s\n", r.IncompleteReason)
	}

	var parts []string
	for _, c := range Classes {
		if n := r.Count(c); n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, c))
		}
	}
	summary := "no findings"
	if len(parts) > 0 {
		summary = strings.Join(parts, ", ")
	}
	fmt.Fprintf(w, "%s: %s\n", r.Program, summary)
}

// String returns the formatted report.
func (r *Report) String() string {
	var b strings.Builder
	r.Format(&b)
	return b.String()
}
