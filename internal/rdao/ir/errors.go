package ir

import (
	"errors"
	"fmt"
)

// ErrIllFormedTrace is matched by every *IllFormedTraceError via errors.Is.
var ErrIllFormedTrace = errors.New("ill-formed trace")

// IllFormedTraceError reports a structural defect in the input IR: an
// unmatched unlock, a join of a thread that does not exist, a cycle in the
// spawn tree and so on.
//
// It is fatal for one analysis run and for that run only. Batch callers keep
// going with the next program.
//
// Example output:
//
//	ill-formed trace: thread t1 op 4 (rc.c:17): unlock of m which is not held
//
// Thread Safety: Immutable after creation, safe for concurrent use.
type IllFormedTraceError struct {
	Thread  ThreadID // Offending thread (empty if not thread specific)
	Index   int      // Op index in the thread's program order, -1 if none
	Pos     string   // Source position of the op, if any
	Message string
}

// Error implements the error interface.
func (e *IllFormedTraceError) Error() string {
	msg := "ill-formed trace: "
	if e.Thread != "" {
		msg += "thread " + string(e.Thread)
		if e.Index >= 0 {
			msg += fmt.Sprintf(" op %d", e.Index)
		}
		if e.Pos != "" {
			msg += " (" + e.Pos + ")"
		}
		msg += ": "
	}
	return msg + e.Message
}

// Is makes errors.Is(err, ErrIllFormedTrace) true.
func (e *IllFormedTraceError) Is(target error) bool {
	return target == ErrIllFormedTrace
}

// NewIllFormed returns an error about the op at index in thread t.
func NewIllFormed(t ThreadID, index int, pos string, format string, args ...any) *IllFormedTraceError {
	return &IllFormedTraceError{
		Thread:  t,
		Index:   index,
		Pos:     pos,
		Message: fmt.Sprintf(format, args...),
	}
}

// NewIllFormedProgram returns an error that concerns the program as a whole.
func NewIllFormedProgram(format string, args ...any) *IllFormedTraceError {
	return &IllFormedTraceError{Index: -1, Message: fmt.Sprintf(format, args...)}
}
