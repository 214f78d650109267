package finding

import (
	"strconv"

	"github.com/google/btree"
)

// Set is an ordered, deduplicated collection of findings.
//
// Findings are ordered by class, then by the natural order of their primary
// source position, then by key, so iteration order never depends on the
// order in which detectors produced them. The first finding added for a key
// wins; later findings with the same key are dropped.
type Set struct {
	tree *btree.BTreeG[*Finding]
	keys map[string]struct{}
}

// NewSet returns an empty set.
func NewSet() *Set {
	return &Set{
		tree: btree.NewG[*Finding](8, less),
		keys: make(map[string]struct{}),
	}
}

// Add inserts f unless a finding with the same key is present. It reports
// whether f was inserted.
func (s *Set) Add(f Finding) bool {
	if _, dup := s.keys[f.Key]; dup {
		return false
	}
	s.keys[f.Key] = struct{}{}
	s.tree.ReplaceOrInsert(&f)
	return true
}

// AddAll inserts every finding of fs.
func (s *Set) AddAll(fs []Finding) {
	for _, f := range fs {
		s.Add(f)
	}
}

// Len returns the number of findings.
func (s *Set) Len() int { return s.tree.Len() }

// Findings returns the findings in report order.
func (s *Set) Findings() []Finding {
	out := make([]Finding, 0, s.tree.Len())
	s.tree.Ascend(func(f *Finding) bool {
		out = append(out, *f)
		return true
	})
	return out
}

func less(a, b *Finding) bool {
	if a.Class != b.Class {
		return a.Class < b.Class
	}
	if c := ComparePos(a.Pos, b.Pos); c != 0 {
		return c < 0
	}
	return a.Key < b.Key
}

// ComparePos compares two opaque source positions in natural order: runs
// of digits compare numerically, so "a.c:9" sorts before "a.c:12". Empty
// positions sort last.
func ComparePos(a, b string) int {
	switch {
	case a == b:
		return 0
	case a == "":
		return 1
	case b == "":
		return -1
	}
	for a != "" && b != "" {
		da, db := digitPrefix(a), digitPrefix(b)
		if da > 0 && db > 0 {
			na, _ := strconv.ParseUint(a[:da], 10, 64)
			nb, _ := strconv.ParseUint(b[:db], 10, 64)
			if na != nb {
				if na < nb {
					return -1
				}
				return 1
			}
			a, b = a[da:], b[db:]
			continue
		}
		if a[0] != b[0] {
			if a[0] < b[0] {
				return -1
			}
			return 1
		}
		a, b = a[1:], b[1:]
	}
	switch {
	case a == "" && b == "":
		return 0
	case a == "":
		return -1
	default:
		return 1
	}
}

func digitPrefix(s string) int {
	n := 0
	for n < len(s) && n < 18 && s[n] >= '0' && s[n] <= '9' {
		n++
	}
	return n
}
