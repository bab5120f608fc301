// Package errs defines the error taxonomy from spec.md §7. Each sentinel is
// wrapped with context via fmt.Errorf("...: %w", Sentinel) at the call site
// so callers can still errors.Is against the taxonomy.
package errs

import "errors"

var (
	// ErrParse marks a malformed packet/header/extension. Always recovered
	// by the caller as a Forward decision; never propagated further.
	ErrParse = errors.New("parse error")

	// ErrRuleCompile marks invalid rule text. The offending rule is
	// skipped and compilation continues.
	ErrRuleCompile = errors.New("rule compile error")

	// ErrKeystore marks a failure to read or write root CA material.
	// Propagated to the CA caller; the MITM proxy closes connections
	// requesting leaves until the keystore is healthy again.
	ErrKeystore = errors.New("keystore error")

	// ErrCrypto marks a key-generation or signing failure. Retried once by
	// the caller; a second failure propagates.
	ErrCrypto = errors.New("crypto error")

	// ErrIO marks a socket-level failure local to one connection.
	ErrIO = errors.New("io error")

	// ErrProtocol marks a malformed HTTP request or a TLS handshake
	// failure.
	ErrProtocol = errors.New("protocol error")

	// ErrConfig marks an invalid configuration value. Fatal only on
	// initial load; a later reload with a ConfigError retains the
	// previous configuration.
	ErrConfig = errors.New("config error")
)
