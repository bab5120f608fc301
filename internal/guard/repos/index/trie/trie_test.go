package trie

import (
	"testing"

	"github.com/Cody005/shadowguard/internal/guard/domain"
)

func mustDomain(t *testing.T, s string) domain.Domain {
	t.Helper()
	d, err := domain.NormalizeDomain(s)
	if err != nil {
		t.Fatalf("normalize %q: %v", s, err)
	}
	return d
}

func TestTrie_ExactMatch(t *testing.T) {
	tr := New()
	tr.Insert(mustDomain(t, "doubleclick.net"), "rule-1")

	matched, exact, tag := tr.Lookup("doubleclick.net")
	if !matched || !exact || tag != "rule-1" {
		t.Fatalf("got matched=%v exact=%v tag=%q", matched, exact, tag)
	}

	matched, _, _ = tr.Lookup("wikipedia.org")
	if matched {
		t.Fatalf("unexpected match for unrelated domain")
	}
}

func TestTrie_WildcardSemantics(t *testing.T) {
	tr := New()
	tr.Insert(mustDomain(t, "*.example.com"), "wild-1")

	matched, exact, _ := tr.Lookup("x.y.example.com")
	if !matched || exact {
		t.Fatalf("expected wildcard (non-exact) match, got matched=%v exact=%v", matched, exact)
	}

	matched, _, _ = tr.Lookup("example.com")
	if matched {
		t.Fatalf("wildcard must not match its own apex")
	}
}

func TestTrie_ExactWinsOverWildcard(t *testing.T) {
	tr := New()
	tr.Insert(mustDomain(t, "*.example.com"), "wild-1")
	tr.Insert(mustDomain(t, "api.example.com"), "exact-1")

	matched, exact, tag := tr.Lookup("api.example.com")
	if !matched || !exact || tag != "exact-1" {
		t.Fatalf("got matched=%v exact=%v tag=%q; want exact match on exact-1", matched, exact, tag)
	}

	// A sibling subdomain still only gets the wildcard hit.
	matched, exact, tag = tr.Lookup("other.example.com")
	if !matched || exact || tag != "wild-1" {
		t.Fatalf("got matched=%v exact=%v tag=%q; want wildcard hit on wild-1", matched, exact, tag)
	}
}
