// Package index implements the Domain Index (DI): a (Bloom filter, reverse-
// label trie) pair that answers "does any rule in the current snapshot match
// this domain?" in amortised O(L) label comparisons with a fast negative
// path, per spec.md §4.1.
package index

// BloomFactory constructs Bloom filters sized for a dataset capacity and
// target false-positive rate. Implementations compute m/k internally.
type BloomFactory interface {
	New(capacity uint64, fpRate float64) BloomFilter
}

// BloomSizer computes (m, k) for a Bloom filter from a dataset capacity and
// target false-positive rate, using the standard formulas.
type BloomSizer interface {
	Size(n uint64, p float64) (m uint64, k uint8)
}

// BloomFilter is the minimal interface needed during lookups and builds.
type BloomFilter interface {
	Add(key []byte)
	MightContain(key []byte) bool
}
