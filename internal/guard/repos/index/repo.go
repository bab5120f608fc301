package index

import (
	"fmt"
	"sync/atomic"

	"github.com/Cody005/shadowguard/internal/guard/domain"
	"github.com/Cody005/shadowguard/internal/guard/repos/index/trie"
)

// DefaultFalsePositiveRate is the Bloom filter's target false-positive rate
// from spec.md §3.
const DefaultFalsePositiveRate = 0.001

// Rule is the minimal shape Build needs from a compiled Filter Engine rule:
// a domain cone and the tag to surface on match.
type Rule struct {
	Domain  domain.Domain
	RuleTag string
}

// Build compiles rules into an immutable Snapshot. It fails fast with
// domain.ErrInvalidDomain at the first rule whose domain violates the label
// invariants, returning no snapshot; callers that pre-filter with
// domain.NormalizeDomain (the Filter Engine does) never hit this.
func Build(factory BloomFactory, rules []Rule) (*Snapshot, error) {
	t := trie.New()
	bf := factory.New(uint64(len(rules)), DefaultFalsePositiveRate)

	for _, r := range rules {
		if err := r.Domain.Validate(); err != nil {
			return nil, fmt.Errorf("build index: %w", err)
		}
		t.Insert(r.Domain, r.RuleTag)
		bf.Add([]byte(r.Domain.Name))
	}

	return &Snapshot{
		bloom:       bf,
		trie:        t,
		totalDomain: len(rules),
		stats:       &Stats{},
	}, nil
}

// Repository publishes successive Snapshots behind an atomic pointer so
// that readers (the packet inspector and MITM proxy hot paths) never block
// and a connection observes a single snapshot for its entire lifetime, per
// spec.md §5's reload-atomicity guarantee.
type Repository struct {
	current atomic.Pointer[Snapshot]
}

// NewRepository returns a Repository with no snapshot published yet; every
// lookup against it is a non-match until the first Reload.
func NewRepository() *Repository {
	return &Repository{}
}

// Reload atomically publishes a newly built snapshot. In-flight lookups
// that already captured the previous snapshot's pointer are unaffected.
func (r *Repository) Reload(snap *Snapshot) {
	r.current.Store(snap)
}

// Current returns the latest published snapshot, or nil if none has been
// published yet. Callers that need a single fixed view across a
// connection's lifetime should capture this once and reuse it, not call
// Current repeatedly.
func (r *Repository) Current() *Snapshot {
	return r.current.Load()
}

// Lookup consults the latest published snapshot. A nil snapshot is a
// non-match — safe default before the first rule set finishes compiling.
func (r *Repository) Lookup(rawDomain string) domain.Match {
	snap := r.Current()
	if snap == nil {
		return domain.NoMatch()
	}
	return snap.Lookup(rawDomain)
}
