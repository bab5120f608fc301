package ca

import (
	"context"
	"encoding/pem"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/Cody005/shadowguard/internal/guard/common/clock"
	"github.com/Cody005/shadowguard/internal/guard/domain"
	"github.com/Cody005/shadowguard/internal/guard/gateways/keystore"
)

func mustRoot(t *testing.T) *domain.RootCA {
	t.Helper()
	root, err := LoadOrCreateRoot(context.Background(), keystore.NewMemoryStore(), "ShadowGuard Test Root")
	if err != nil {
		t.Fatalf("load or create root: %v", err)
	}
	return root
}

func TestLoadOrCreateRoot_PersistsAndReloads(t *testing.T) {
	store := keystore.NewMemoryStore()
	root1, err := LoadOrCreateRoot(context.Background(), store, "ShadowGuard Test Root")
	if err != nil {
		t.Fatalf("first load: %v", err)
	}

	root2, err := LoadOrCreateRoot(context.Background(), store, "ShadowGuard Test Root")
	if err != nil {
		t.Fatalf("second load: %v", err)
	}

	if root1.Cert.SerialNumber.Cmp(root2.Cert.SerialNumber) != 0 {
		t.Errorf("expected reloaded root to have the same serial, got %v vs %v",
			root1.Cert.SerialNumber, root2.Cert.SerialNumber)
	}
	if !root2.Cert.IsCA {
		t.Errorf("expected reloaded root cert to be a CA cert")
	}
}

func TestLeafCache_MintsAndCachesPerDomain(t *testing.T) {
	root := mustRoot(t)
	mc := &clock.MockClock{CurrentTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	cache := NewLeafCache(root, keystore.NewMemoryStore(), DefaultLeafTTL, DefaultLeafCacheSize, mc)

	d, err := domain.NormalizeDomain("example.com")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}

	entry1, err := cache.LeafFor(d)
	if err != nil {
		t.Fatalf("first mint: %v", err)
	}
	entry2, err := cache.LeafFor(d)
	if err != nil {
		t.Fatalf("second mint: %v", err)
	}
	if entry1 != entry2 {
		t.Errorf("expected cache hit to return the same entry pointer")
	}
	if entry1.Domain != "example.com" {
		t.Errorf("got domain %q", entry1.Domain)
	}
	if len(entry1.Chain) != 2 {
		t.Errorf("expected a 2-element chain (leaf, root), got %d", len(entry1.Chain))
	}
}

func TestLeafCache_RemintsAfterTTLExpiry(t *testing.T) {
	root := mustRoot(t)
	mc := &clock.MockClock{CurrentTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	cache := NewLeafCache(root, keystore.NewMemoryStore(), time.Hour, DefaultLeafCacheSize, mc)

	d, _ := domain.NormalizeDomain("example.com")
	entry1, err := cache.LeafFor(d)
	if err != nil {
		t.Fatalf("first mint: %v", err)
	}

	mc.Advance(2 * time.Hour)
	entry2, err := cache.LeafFor(d)
	if err != nil {
		t.Fatalf("second mint: %v", err)
	}
	if entry1 == entry2 {
		t.Errorf("expected a fresh leaf to be minted after TTL expiry")
	}
}

func TestLeafCache_ExportRootPEM_ProducesValidDelimiters(t *testing.T) {
	root := mustRoot(t)
	cache := NewLeafCache(root, keystore.NewMemoryStore(), DefaultLeafTTL, DefaultLeafCacheSize, nil)

	pemBytes := cache.ExportRootPEM()
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		t.Fatal("expected ExportRootPEM to produce a decodable PEM block")
	}
	if block.Type != "CERTIFICATE" {
		t.Errorf("got PEM block type %q", block.Type)
	}
	if string(block.Bytes) != string(root.CertDER) {
		t.Errorf("expected PEM block bytes to match the root's DER cert")
	}
}

func TestLeafCache_DeleteRoot_ClearsStoreAndFlushesCache(t *testing.T) {
	store := keystore.NewMemoryStore()
	root, err := LoadOrCreateRoot(context.Background(), store, "ShadowGuard Test Root")
	if err != nil {
		t.Fatalf("load or create root: %v", err)
	}
	mc := &clock.MockClock{CurrentTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	cache := NewLeafCache(root, store, DefaultLeafTTL, DefaultLeafCacheSize, mc)

	d, _ := domain.NormalizeDomain("example.com")
	if _, err := cache.LeafFor(d); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if cache.Len() == 0 {
		t.Fatal("expected a cached leaf before DeleteRoot")
	}

	if err := cache.DeleteRoot(context.Background()); err != nil {
		t.Fatalf("delete root: %v", err)
	}
	if cache.Len() != 0 {
		t.Errorf("expected DeleteRoot to flush the leaf cache, got %d entries", cache.Len())
	}
	if _, _, err := store.LoadRoot(context.Background()); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected the backing store's root to be gone, got err=%v", err)
	}
}

func TestLeafCache_EvictsOldestQuarterOnOverflow(t *testing.T) {
	root := mustRoot(t)
	mc := &clock.MockClock{CurrentTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	const maxSize = 8
	cache := NewLeafCache(root, keystore.NewMemoryStore(), DefaultLeafTTL, maxSize, mc)

	domains := []string{
		"a.com", "b.com", "c.com", "d.com", "e.com", "f.com", "g.com", "h.com", "i.com",
	}
	for _, name := range domains {
		d, err := domain.NormalizeDomain(name)
		if err != nil {
			t.Fatalf("normalize %q: %v", name, err)
		}
		if _, err := cache.LeafFor(d); err != nil {
			t.Fatalf("mint %q: %v", name, err)
		}
	}

	// The 9th insert overflows the cap of 8; a 25%-batch policy evicts
	// floor(9/4)=2 entries in that one pass, leaving 7 — a single
	// per-insert eviction would instead leave 8.
	if got, want := cache.Len(), len(domains)-2; got != want {
		t.Errorf("expected a 2-entry batch eviction to leave %d entries, got %d", want, got)
	}
	if _, _, evictions := cache.Stats(); evictions != 2 {
		t.Errorf("expected exactly 2 evictions from the single overflow pass, got %d", evictions)
	}

	// The most recently minted entries must have survived eviction; the
	// oldest (a.com, b.com) must not have.
	last, _ := domain.NormalizeDomain("i.com")
	if _, ok := cache.lru.Get(last.Name); !ok {
		t.Errorf("expected most recently used entry to survive eviction")
	}
	oldest, _ := domain.NormalizeDomain("a.com")
	if _, ok := cache.lru.Get(oldest.Name); ok {
		t.Errorf("expected oldest entry to be evicted in the batch")
	}
}
