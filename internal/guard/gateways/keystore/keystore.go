// Package keystore narrows root CA key/cert persistence to the single
// load/save contract the CA repository needs, so the repository is
// testable against an in-memory fake without touching a filesystem.
package keystore

import "context"

// KeyStore persists the root CA's private key and self-signed certificate,
// both DER-encoded. LoadRoot returns (nil, nil, os.ErrNotExist) when no root
// has been provisioned yet.
type KeyStore interface {
	LoadRoot(ctx context.Context) (keyDER, certDER []byte, err error)
	SaveRoot(ctx context.Context, keyDER, certDER []byte) error

	// DeleteRoot removes any persisted root key/cert. A store with no
	// root provisioned treats this as a no-op, not an error.
	DeleteRoot(ctx context.Context) error
}
