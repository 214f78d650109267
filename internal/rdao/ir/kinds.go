package ir

import "fmt"

// OpKind is the type of an IR operation.
type OpKind int

const (
	// OpInvalid is the zero value and never valid in a program.
	OpInvalid OpKind = iota
	// OpRead reads a location.
	OpRead
	// OpWrite writes a location.
	OpWrite
	// OpLock acquires a lock.
	OpLock
	// OpUnlock releases a lock.
	OpUnlock
	// OpSpawn creates a child thread.
	OpSpawn
	// OpJoin waits for a thread to terminate.
	OpJoin
)

var opKindNames = [...]string{
	OpInvalid: "invalid",
	OpRead:    "read",
	OpWrite:   "write",
	OpLock:    "lock",
	OpUnlock:  "unlock",
	OpSpawn:   "spawn",
	OpJoin:    "join",
}

// String returns the IR spelling of k.
func (k OpKind) String() string {
	if k < 0 || int(k) >= len(opKindNames) {
		return "invalid"
	}
	return opKindNames[k]
}

// IsAccess reports whether k is a memory access.
func (k OpKind) IsAccess() bool { return k == OpRead || k == OpWrite }

// MarshalText implements encoding.TextMarshaler.
func (k OpKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *OpKind) UnmarshalText(b []byte) error {
	s := string(b)
	// Front ends spell acquire/release either way.
	switch s {
	case "acquire":
		s = "lock"
	case "release":
		s = "unlock"
	}
	for i, name := range opKindNames {
		if i != int(OpInvalid) && name == s {
			*k = OpKind(i)
			return nil
		}
	}
	return fmt.Errorf("unknown op %q", string(b))
}

// LockKind distinguishes plain from re-entrant locks.
type LockKind int

const (
	// LockPlain self-deadlocks when re-acquired by its holder.
	LockPlain LockKind = iota
	// LockRecursive may be re-acquired by its holder.
	LockRecursive
)

// String returns the IR spelling of k.
func (k LockKind) String() string {
	if k == LockRecursive {
		return "recursive"
	}
	return "plain"
}

// MarshalText implements encoding.TextMarshaler.
func (k LockKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *LockKind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "", "plain", "normal", "default":
		*k = LockPlain
	case "recursive":
		*k = LockRecursive
	default:
		return fmt.Errorf("unknown lock kind %q", string(b))
	}
	return nil
}

// Scope says how a location is reachable.
type Scope int

const (
	// ScopeGlobal is a global variable.
	ScopeGlobal Scope = iota
	// ScopeHeap is a heap allocation escaped through a pointer.
	ScopeHeap
	// ScopeField is a struct field reachable from several threads.
	ScopeField
	// ScopeLocal is thread-local storage, e.g. a by-value parameter. Local
	// locations are never shared.
	ScopeLocal
)

var scopeNames = [...]string{
	ScopeGlobal: "global",
	ScopeHeap:   "heap",
	ScopeField:  "field",
	ScopeLocal:  "local",
}

// String returns the IR spelling of s.
func (s Scope) String() string {
	if s < 0 || int(s) >= len(scopeNames) {
		return "global"
	}
	return scopeNames[s]
}

// MarshalText implements encoding.TextMarshaler.
func (s Scope) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Scope) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*s = ScopeGlobal
		return nil
	}
	for i, name := range scopeNames {
		if name == string(b) {
			*s = Scope(i)
			return nil
		}
	}
	return fmt.Errorf("unknown scope %q", string(b))
}
