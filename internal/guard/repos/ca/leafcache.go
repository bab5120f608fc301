package ca

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math"
	"math/big"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Cody005/shadowguard/internal/guard/common/clock"
	"github.com/Cody005/shadowguard/internal/guard/common/errs"
	"github.com/Cody005/shadowguard/internal/guard/domain"
)

const (
	// DefaultLeafTTL bounds how long a minted leaf stays cacheable before
	// a fresh one is minted in its place, per spec.md §4.2.
	DefaultLeafTTL = 24 * time.Hour

	// DefaultLeafCacheSize is the cache's soft cap: once the number of
	// cached leaves exceeds this, the oldest quarter is evicted in one
	// batch rather than one entry per insert.
	DefaultLeafCacheSize = 1000

	// evictionFraction is the fraction of the cache evicted in one batch
	// once the soft cap is exceeded.
	evictionFraction = 4

	leafValidity = 365 * 24 * time.Hour
)

// LeafCache mints and caches per-domain leaf certificates signed by a single
// root CA. It wraps an LRU whose underlying capacity is left effectively
// unbounded; LeafCache itself enforces the soft cap by evicting the oldest
// quarter of entries in one batch whenever Len() exceeds maxSize, instead of
// relying on the LRU's own per-insert eviction. It tracks basic hit/miss/
// eviction counters the same way the blocklist decision cache does.
type LeafCache struct {
	lru       *lru.Cache[string, *domain.LeafCertEntry]
	store     KeyStore
	root      *domain.RootCA
	ttl       time.Duration
	maxSize   int
	clock     clock.Clock
	hits      uint64
	misses    uint64
	evictions uint64
}

// NewLeafCache returns a LeafCache that mints leaves signed by root and
// persists/removes that root through store. ttl<=0 and maxSize<=0 fall back
// to DefaultLeafTTL and DefaultLeafCacheSize.
func NewLeafCache(root *domain.RootCA, store KeyStore, ttl time.Duration, maxSize int, c clock.Clock) *LeafCache {
	if ttl <= 0 {
		ttl = DefaultLeafTTL
	}
	if maxSize <= 0 {
		maxSize = DefaultLeafCacheSize
	}
	if c == nil {
		c = clock.RealClock{}
	}
	// The underlying LRU's own capacity is sized far above maxSize: its
	// per-insert eviction is never meant to fire. LeafCache.evictOverflow
	// enforces the real soft cap with a 25%-batch policy instead.
	cache, err := lru.New[string, *domain.LeafCertEntry](math.MaxInt32)
	if err != nil {
		// Only returned for size <= 0, which MaxInt32 never is.
		panic(fmt.Sprintf("ca: leaf cache: %v", err))
	}
	return &LeafCache{lru: cache, store: store, root: root, ttl: ttl, maxSize: maxSize, clock: c}
}

// RootCertDER implements Authority.
func (c *LeafCache) RootCertDER() []byte {
	return c.root.CertDER
}

// ExportRootPEM implements Authority: PEM-encodes the root certificate with
// the standard 64-column base64 BEGIN/END CERTIFICATE delimiters.
func (c *LeafCache) ExportRootPEM() []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: c.root.CertDER})
}

// DeleteRoot implements Authority: removes the persisted root from store and
// flushes every cached leaf, since each of them chains to the deleted root.
func (c *LeafCache) DeleteRoot(ctx context.Context) error {
	if err := c.store.DeleteRoot(ctx); err != nil {
		return fmt.Errorf("%w: delete root: %v", errs.ErrKeystore, err)
	}
	c.lru.Purge()
	return nil
}

// LeafFor implements Authority: returns a cached unexpired leaf for d, or
// mints and caches a fresh one.
func (c *LeafCache) LeafFor(d domain.Domain) (*domain.LeafCertEntry, error) {
	now := c.clock.Now()
	key := d.Name

	if entry, ok := c.lru.Get(key); ok {
		if !entry.Expired(now, c.ttl) {
			atomic.AddUint64(&c.hits, 1)
			return entry, nil
		}
		c.lru.Remove(key)
	}
	atomic.AddUint64(&c.misses, 1)

	entry, err := mintLeaf(c.root, key, now)
	if err != nil {
		return nil, err
	}
	// Another goroutine may have minted the same domain concurrently;
	// last writer wins, both leaves are valid so this is harmless.
	c.lru.Add(key, entry)
	c.evictOverflow()
	return entry, nil
}

// evictOverflow implements the soft-cap policy: once the cache holds more
// than maxSize entries, it evicts the oldest quarter in one batch rather
// than trickling out a single eviction per insert.
func (c *LeafCache) evictOverflow() {
	if c.lru.Len() <= c.maxSize {
		return
	}
	n := c.lru.Len() / evictionFraction
	if n < 1 {
		n = 1
	}
	for i := 0; i < n; i++ {
		if _, _, ok := c.lru.RemoveOldest(); !ok {
			break
		}
		atomic.AddUint64(&c.evictions, 1)
	}
}

// Stats returns cumulative hit/miss/eviction counters, for the same
// diagnostics surface the blocklist decision cache exposes.
func (c *LeafCache) Stats() (hits, misses, evictions uint64) {
	return atomic.LoadUint64(&c.hits), atomic.LoadUint64(&c.misses), atomic.LoadUint64(&c.evictions)
}

// Len returns the number of cached leaves.
func (c *LeafCache) Len() int {
	return c.lru.Len()
}

func mintLeaf(root *domain.RootCA, domainName string, now time.Time) (*domain.LeafCertEntry, error) {
	priv, err := retryOnce(func() (*ecdsa.PrivateKey, error) {
		return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: generate leaf key: %v", errs.ErrCrypto, err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("%w: generate leaf serial: %v", errs.ErrCrypto, err)
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: domainName},
		DNSNames:     []string{domainName, "*." + domainName},
		NotBefore:    now.Add(-60 * time.Second),
		NotAfter:     now.Add(leafValidity),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	derBytes, err := retryOnce(func() ([]byte, error) {
		return x509.CreateCertificate(rand.Reader, template, root.Cert, priv.Public(), root.PrivateKey)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: sign leaf cert: %v", errs.ErrCrypto, err)
	}

	return &domain.LeafCertEntry{
		Domain:     domainName,
		CertDER:    derBytes,
		PrivateKey: priv,
		Chain:      [][]byte{derBytes, root.CertDER},
		IssuedAt:   now,
	}, nil
}
