package domain

// Match is the result of a Domain Index lookup: whether any rule in the
// active snapshot matches the queried domain, and which rule produced the
// match when the caller cares to know (exact wins over wildcard, see
// Snapshot.Lookup).
type Match struct {
	Blocked bool
	// RuleTag names the rule-origin tag carried by the matching trie node.
	// Empty when no rule matched; an allow (@@) match carries its tag with
	// Blocked false.
	RuleTag string
}

// NoMatch is the zero-value non-match, returned by lookups that fail
// normalization or find nothing in the snapshot.
func NoMatch() Match { return Match{} }
