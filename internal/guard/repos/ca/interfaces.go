// Package ca implements the Certificate Authority subsystem: a
// self-signed root loaded from (or provisioned into) a KeyStore, and an
// LRU+TTL cache of per-domain leaf certificates minted on demand for the
// MITM proxy's client-facing TLS termination.
package ca

import (
	"context"

	"github.com/Cody005/shadowguard/internal/guard/domain"
)

// KeyStore is the subset of gateways/keystore.KeyStore the CA needs,
// narrowed so this package does not import the gateway package directly.
type KeyStore interface {
	LoadRoot(ctx context.Context) (keyDER, certDER []byte, err error)
	SaveRoot(ctx context.Context, keyDER, certDER []byte) error
	DeleteRoot(ctx context.Context) error
}

// Authority mints leaf certificates for a domain, signed by a root CA
// that MITM proxy clients are expected to trust.
type Authority interface {
	// RootCertDER returns the root CA's self-signed certificate, DER
	// encoded, for exposition to clients (e.g. a /ca.crt download
	// endpoint) or provisioning tooling.
	RootCertDER() []byte

	// ExportRootPEM returns the root CA's self-signed certificate as PEM
	// text (standard 64-column base64, BEGIN/END CERTIFICATE
	// delimiters), for provisioning tooling that installs it into a
	// client's trust store.
	ExportRootPEM() []byte

	// LeafFor returns a cached or freshly minted leaf certificate entry
	// for d. Safe for concurrent use.
	LeafFor(d domain.Domain) (*domain.LeafCertEntry, error)

	// DeleteRoot removes the persisted root from the backing KeyStore and
	// flushes every cached leaf, since every leaf in the cache was signed
	// by the now-deleted root. A fresh root is minted the next time
	// LoadOrCreateRoot runs, not by this call.
	DeleteRoot(ctx context.Context) error
}
