package bloom

import (
	bitsbloom "github.com/bits-and-blooms/bloom/v3"
	"github.com/Cody005/shadowguard/internal/guard/repos/index"
)

// factory implements index.BloomFactory using internal sizing formulas.
type factory struct{}

// NewFactory returns a BloomFactory that sizes filters from capacity and FP rate.
func NewFactory() index.BloomFactory { return factory{} }

// New constructs a new BloomFilter instance sized for the given dataset capacity
// and target false-positive rate (spec.md §3 Domain Index: FP target 10^-3).
func (factory) New(capacity uint64, fpRate float64) index.BloomFilter {
	m, k := size(capacity, fpRate)
	return &filter{bf: bitsbloom.New(uint(m), uint(k))}
}
