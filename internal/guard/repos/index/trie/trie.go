// Package trie implements the reverse-label trie half of the Domain Index:
// a map[label]child per node, an end-of-domain bit, a wildcard bit, and an
// optional rule-origin tag, walked from the TLD inward per spec.md §4.1.
package trie

import "github.com/Cody005/shadowguard/internal/guard/domain"

// Node is one label in the reverse-label trie.
type Node struct {
	children map[string]*Node
	end      bool
	wildcard bool
	ruleTag  string
}

// Trie is a rebuild-only, read-many reverse-label trie. It is built once per
// rule snapshot and never mutated once handed to a Snapshot; concurrent reads are safe
// because nothing ever writes to a published Trie.
type Trie struct {
	root *Node
}

// New returns an empty, writable Trie. Callers insert every rule's domain
// cone, then hand the Trie to a Snapshot for publication; no further writes
// are permitted once published (removals are unsupported, per spec.md §3).
func New() *Trie {
	return &Trie{root: &Node{children: map[string]*Node{}}}
}

// Insert adds d's domain cone to the trie: an exact rule marks only its own
// node's end bit; a wildcard rule marks its own node's wildcard bit so that
// lookups for strict subdomains match while the apex itself does not.
func (t *Trie) Insert(d domain.Domain, ruleTag string) {
	labels := domain.ReverseLabels(d.Name)
	n := t.root
	for _, l := range labels {
		child, ok := n.children[l]
		if !ok {
			child = &Node{children: map[string]*Node{}}
			n.children[l] = child
		}
		n = child
	}
	if d.Wildcard {
		n.wildcard = true
	} else {
		n.end = true
	}
	if ruleTag != "" {
		n.ruleTag = ruleTag
	}
}

// Lookup walks name's reverse labels against the trie. It returns
// (matched, exact, ruleTag): exact is true only when the final node's end
// bit is set for the full name; otherwise matched reflects the deepest
// ancestor that carried a wildcard bit (a tentative hit remembered while
// descending), per spec.md §4.1 step 3.
func (t *Trie) Lookup(name string) (matched bool, exact bool, ruleTag string) {
	labels := domain.ReverseLabels(name)
	n := t.root
	var wildcardHit *Node

	for _, l := range labels {
		if n.wildcard {
			wildcardHit = n
		}
		child, ok := n.children[l]
		if !ok {
			if wildcardHit != nil {
				return true, false, wildcardHit.ruleTag
			}
			return false, false, ""
		}
		n = child
	}

	if n.end {
		return true, true, n.ruleTag
	}
	if wildcardHit != nil {
		return true, false, wildcardHit.ruleTag
	}
	return false, false, ""
}
