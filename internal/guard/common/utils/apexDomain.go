// Package utils holds small domain-name helpers shared across repos
// packages that don't belong on the domain.Domain value type itself.
package utils

import "golang.org/x/net/publicsuffix"

// ApexDomain returns the registrable domain (eTLD+1) for name, e.g.
// "ads.example.co.uk" -> "example.co.uk". Used by the MITM proxy to decide
// whether a request is third-party, by comparing the apex of its
// destination with the apex of its Referer. name is expected to already be
// normalized via domain.NormalizeDomain.
func ApexDomain(name string) string {
	apex, err := publicsuffix.EffectiveTLDPlusOne(name)
	if err != nil {
		return name
	}
	return apex
}
