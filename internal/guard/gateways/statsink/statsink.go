// Package statsink exposes atomic counters for the operational metrics
// named in the traffic interception core's design: per-protocol
// block/forward counts, cache hit/miss rates, and connection lifecycle
// outcomes. A single StatSink instance is shared by every subsystem.
package statsink

import (
	"sync"
	"sync/atomic"
)

// Key names one countable event. Kept as a distinct type (rather than a
// bare string) so Inc/Value call sites are checked against the set this
// package actually tracks.
type Key string

const (
	DNSBlocked        Key = "dns_blocked"
	DNSForwarded      Key = "dns_forwarded"
	TLSBlocked        Key = "tls_blocked"
	TLSForwarded      Key = "tls_forwarded"
	HTTPBlocked       Key = "http_blocked"
	HTTPForwarded     Key = "http_forwarded"
	MITMConnections   Key = "mitm_connections"
	MITMErrors        Key = "mitm_errors"
	LeafCacheHits     Key = "leaf_cache_hits"
	LeafCacheMisses   Key = "leaf_cache_misses"
	RedirectsServed   Key = "redirects_served"
	CosmeticApplied   Key = "cosmetic_rules_applied"
	RuleCompileErrors Key = "rule_compile_errors"
)

// StatSink accumulates named counters, safe for concurrent use from every
// connection goroutine.
type StatSink struct {
	counters sync.Map
}

// New returns an empty StatSink.
func New() *StatSink {
	return &StatSink{}
}

// Inc increments key by delta, creating it at zero first if unseen.
func (s *StatSink) Inc(key Key, delta uint64) {
	v, _ := s.counters.LoadOrStore(key, new(atomic.Uint64))
	v.(*atomic.Uint64).Add(delta)
}

// Value returns key's current count, or 0 if it has never been incremented.
func (s *StatSink) Value(key Key) uint64 {
	v, ok := s.counters.Load(key)
	if !ok {
		return 0
	}
	return v.(*atomic.Uint64).Load()
}

// Snapshot returns every counter's current value, keyed by name. Intended
// for a status endpoint or periodic log line, not the hot path.
func (s *StatSink) Snapshot() map[Key]uint64 {
	out := make(map[Key]uint64)
	s.counters.Range(func(k, v any) bool {
		out[k.(Key)] = v.(*atomic.Uint64).Load()
		return true
	})
	return out
}
