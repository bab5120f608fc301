package domain

import (
	"crypto"
	"crypto/x509"
	"time"
)

// RootCA is the on-device trust anchor minted once per install. Exactly one
// root exists at a time; regenerating it invalidates every cached leaf.
type RootCA struct {
	Cert       *x509.Certificate
	CertDER    []byte
	PrivateKey crypto.Signer
	Serial     []byte
	SubjectCN  string
}

// LeafCertEntry is one cached, per-domain MITM leaf certificate signed by
// the current root. TTL and LRU-with-batch-eviction policy live in the CA
// repository; this type only carries the issued material.
type LeafCertEntry struct {
	Domain     string
	CertDER    []byte
	PrivateKey crypto.Signer
	// Chain is [leaf, root] in DER form, ready for a tls.Certificate.
	Chain    [][]byte
	IssuedAt time.Time
}

// Expired reports whether the entry has outlived ttl as of now.
func (e LeafCertEntry) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(e.IssuedAt) >= ttl
}
