package lockset

import (
	"sort"
	"strings"

	"github.com/kolkov/rdao/internal/rdao/ir"
)

// Set is a sorted set of locks. The zero value is the empty set.
type Set []ir.LockID

// Contains reports whether l is in s.
func (s Set) Contains(l ir.LockID) bool {
	i := sort.Search(len(s), func(i int) bool { return s[i] >= l })
	return i < len(s) && s[i] == l
}

// Disjoint reports whether s and o share no lock.
func (s Set) Disjoint(o Set) bool {
	i, j := 0, 0
	for i < len(s) && j < len(o) {
		switch {
		case s[i] == o[j]:
			return false
		case s[i] < o[j]:
			i++
		default:
			j++
		}
	}
	return true
}

// Intersects reports whether s and o share a lock.
func (s Set) Intersects(o Set) bool { return !s.Disjoint(o) }

// With returns s with l added. s itself is not modified.
func (s Set) With(l ir.LockID) Set {
	i := sort.Search(len(s), func(i int) bool { return s[i] >= l })
	if i < len(s) && s[i] == l {
		return s
	}
	out := make(Set, 0, len(s)+1)
	out = append(out, s[:i]...)
	out = append(out, l)
	return append(out, s[i:]...)
}

// Union returns the union of s and o.
func (s Set) Union(o Set) Set {
	out := s
	for _, l := range o {
		out = out.With(l)
	}
	return out
}

// Signature returns a canonical string for s, e.g. "{m,n}".
func (s Set) Signature() string {
	return "{" + strings.Join(s.Strings(), ",") + "}"
}

// Strings returns the lock ids as strings. The result is never nil, so an
// empty set still renders as "held: {}" in evidence.
func (s Set) Strings() []string {
	out := make([]string, len(s))
	for i, l := range s {
		out[i] = string(l)
	}
	return out
}
