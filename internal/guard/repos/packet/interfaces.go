// Package packet implements the Packet Inspector: stateless decoders for
// IPv4/IPv6+TCP/UDP headers, DNS questions, TLS ClientHello SNI, and HTTP
// Host headers, plus a Classify entry point that turns an extracted
// domain name into a Forward/Drop decision via a DomainLookup.
package packet

import "github.com/Cody005/shadowguard/internal/guard/domain"

// DomainLookup is the narrow view of the Domain Index the inspector
// needs: a single read against the latest published snapshot.
type DomainLookup interface {
	Lookup(rawDomain string) domain.Match
}
