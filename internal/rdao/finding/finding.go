// Package finding defines the defects reported by the engine and the
// ordered, deduplicated report that carries them.
//
// Findings address threads, locks and locations only by the identifiers the
// caller supplied in the IR, so every finding can be serialized on its own
// (JSON or YAML) and mapped back to the input program.
package finding

import (
	"fmt"
	"strings"

	"github.com/kolkov/rdao/internal/rdao/trace"
)

// Class is the defect class of a finding. Reports are ordered by class in
// declaration order.
type Class int

const (
	// ClassRace is an unsynchronized conflicting access pair.
	ClassRace Class = iota
	// ClassDeadlock is a lock-order cycle or a lock never released.
	ClassDeadlock
	// ClassAtomicity is a compound access that another thread can split.
	ClassAtomicity
	// ClassOrder is a consumer not ordered after its producer.
	ClassOrder
	// ClassUnsafeRecursion is a plain lock re-acquired by its holder.
	ClassUnsafeRecursion
)

var classNames = [...]string{
	ClassRace:            "race",
	ClassDeadlock:        "deadlock",
	ClassAtomicity:       "atomicity-violation",
	ClassOrder:           "order-violation",
	ClassUnsafeRecursion: "unsafe-recursion",
}

// Classes lists every class in report order.
var Classes = []Class{ClassRace, ClassDeadlock, ClassAtomicity, ClassOrder, ClassUnsafeRecursion}

// String returns the class name used in reports.
func (c Class) String() string {
	if c < 0 || int(c) >= len(classNames) {
		return "unknown"
	}
	return classNames[c]
}

// MarshalText implements encoding.TextMarshaler.
func (c Class) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Class) UnmarshalText(b []byte) error {
	for i, n := range classNames {
		if n == string(b) {
			*c = Class(i)
			return nil
		}
	}
	return fmt.Errorf("unknown finding class %q", string(b))
}

// Severity ranks findings. Blocking policy compares against a threshold.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var severityNames = [...]string{
	SeverityLow:      "low",
	SeverityMedium:   "medium",
	SeverityHigh:     "high",
	SeverityCritical: "critical",
}

// String returns the severity name.
func (s Severity) String() string {
	if s < 0 || int(s) >= len(severityNames) {
		return "unknown"
	}
	return severityNames[s]
}

// Raise returns the next severity up, saturating at critical.
func (s Severity) Raise() Severity {
	if s >= SeverityCritical {
		return SeverityCritical
	}
	return s + 1
}

// ParseSeverity parses a severity name, case-insensitively.
func ParseSeverity(s string) (Severity, error) {
	for i, n := range severityNames {
		if strings.EqualFold(n, s) {
			return Severity(i), nil
		}
	}
	return 0, fmt.Errorf("unknown severity %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (s Severity) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Severity) UnmarshalText(b []byte) error {
	v, err := ParseSeverity(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Evidence is one event that justifies a finding.
type Evidence struct {
	Thread string `json:"thread" yaml:"thread"`
	Op     string `json:"op" yaml:"op"`
	Target string `json:"target" yaml:"target"`
	Index  int    `json:"index" yaml:"index"`
	Pos    string `json:"pos,omitempty" yaml:"pos,omitempty"`

	// Held lists the locks held at the event, for accesses.
	Held []string `json:"held,omitempty" yaml:"held,omitempty"`

	// Note says what role the event plays, e.g. "producer" or "gap".
	Note string `json:"note,omitempty" yaml:"note,omitempty"`
}

// FromEvent converts a trace event into evidence.
func FromEvent(e *trace.Event, note string) Evidence {
	return Evidence{
		Thread: string(e.Thread.ID),
		Op:     e.Kind.String(),
		Target: e.Target,
		Index:  e.Index,
		Pos:    e.Pos,
		Note:   note,
	}
}

// String formats the evidence as one report line.
func (e Evidence) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s by thread %s", e.Op, e.Target, e.Thread)
	if e.Pos != "" {
		fmt.Fprintf(&b, " at %s", e.Pos)
	} else {
		fmt.Fprintf(&b, " at op %d", e.Index)
	}
	if e.Held != nil {
		fmt.Fprintf(&b, " (held: {%s})", strings.Join(e.Held, ", "))
	}
	if e.Note != "" {
		fmt.Fprintf(&b, " [%s]", e.Note)
	}
	return b.String()
}

// Finding is one reported defect.
type Finding struct {
	Class    Class    `json:"class" yaml:"class"`
	Severity Severity `json:"severity" yaml:"severity"`

	// Subject is the location, lock or lock cycle the finding is about.
	Subject string `json:"subject" yaml:"subject"`

	Message string `json:"message" yaml:"message"`

	// Relation is the relation label of the subject location, if any.
	Relation string `json:"relation,omitempty" yaml:"relation,omitempty"`

	// Pos is the primary source position: that of the first evidence.
	Pos string `json:"pos,omitempty" yaml:"pos,omitempty"`

	Evidence []Evidence `json:"evidence" yaml:"evidence"`

	// Key identifies the finding for deduplication. Two findings with the
	// same key describe the same root cause.
	Key string `json:"-" yaml:"-"`
}

// New returns a finding with Pos taken from the first evidence.
func New(class Class, sev Severity, subject, key, message string, ev ...Evidence) Finding {
	f := Finding{
		Class:    class,
		Severity: sev,
		Subject:  subject,
		Message:  message,
		Evidence: ev,
		Key:      class.String() + "|" + key,
	}
	if len(ev) > 0 {
		f.Pos = ev[0].Pos
	}
	return f
}

// References reports whether the finding's subject or evidence mention the
// given target (location or lock).
func (f *Finding) References(target string) bool {
	if f.Subject == target {
		return true
	}
	for _, e := range f.Evidence {
		if e.Target == target {
			return true
		}
	}
	return false
}
