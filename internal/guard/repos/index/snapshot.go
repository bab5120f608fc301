package index

import (
	"strings"

	"github.com/Cody005/shadowguard/internal/guard/domain"
	"github.com/Cody005/shadowguard/internal/guard/repos/index/trie"
)

// Snapshot is an immutable (Bloom filter, trie) pair representing one
// compiled rule set. It is built once and never mutated; readers observe it
// through an atomically-swapped pointer (see Repository).
type Snapshot struct {
	bloom       BloomFilter
	trie        *trie.Trie
	totalDomain int
	stats       *Stats
}

// Stats holds the monotonic counters spec.md §4.1 requires:
// bloom_rejects and trie_hits. Counters are atomic.Uint64 under the hood;
// see stats.go.
type Stats struct {
	bloomRejects counter
	trieHits     counter
}

// BloomRejects returns the cumulative count of lookups that were rejected
// by the Bloom prefilter without consulting the trie.
func (s *Stats) BloomRejects() uint64 { return s.bloomRejects.load() }

// TrieHits returns the cumulative count of lookups that reached a positive
// trie result (exact or wildcard).
func (s *Stats) TrieHits() uint64 { return s.trieHits.load() }

// TotalDomains returns the number of domains present in this snapshot.
func (s *Snapshot) TotalDomains() int { return s.totalDomain }

// Stats returns the snapshot's monotonic counters.
func (s *Snapshot) Stats() *Stats { return s.stats }

// Lookup answers "does any rule in this snapshot match domain?" following
// spec.md §4.1's algorithm: normalize, probe the Bloom filter for an early
// negative, then walk the trie. Never fails: malformed input is a non-match.
func (s *Snapshot) Lookup(rawDomain string) domain.Match {
	d, err := domain.NormalizeDomain(rawDomain)
	if err != nil {
		return domain.NoMatch()
	}

	if !bloomProbe(s.bloom, d.Name) {
		s.stats.bloomRejects.add(1)
		return domain.NoMatch()
	}

	matched, _, ruleTag := s.trie.Lookup(d.Name)
	if !matched {
		return domain.NoMatch()
	}
	s.stats.trieHits.add(1)
	return domain.Match{Blocked: true, RuleTag: ruleTag}
}

// bloomProbe implements the double-hashing membership probe described in
// spec.md §4.1 step 2: the underlying bits-and-blooms filter already mixes
// an FNV-1a/Murmur-style pair of base hashes internally (h_i = h1 + i*h2 mod
// m). Because a wildcard rule's cone covers every strict subdomain without
// each one being an individual Bloom member, the probe walks name's
// ancestors (most-specific to apex) so a suffix rule's own domain — the
// only string actually inserted at build time — is still found. This keeps
// the Bloom-soundness invariant: if every ancestor is absent, the trie is
// guaranteed to reject too.
func bloomProbe(bf BloomFilter, name string) bool {
	if bf == nil {
		return true
	}
	for a := name; ; {
		if bf.MightContain([]byte(a)) {
			return true
		}
		idx := strings.IndexByte(a, '.')
		if idx < 0 {
			return false
		}
		a = a[idx+1:]
	}
}
