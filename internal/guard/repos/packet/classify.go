package packet

import (
	"fmt"

	"github.com/Cody005/shadowguard/internal/guard/common/errs"
	"github.com/Cody005/shadowguard/internal/guard/common/log"
	"github.com/Cody005/shadowguard/internal/guard/domain"
)

const (
	portDNS   = 53
	portHTTP  = 80
	portHTTPS = 443
)

// Result is what Classify reports back: the decision, and the domain name
// it was based on, if any protocol-specific extractor found one.
type Result struct {
	Decision domain.PacketDecision
	Name     string
	RuleTag  string
}

// Classify parses pkt as an IPv4 or IPv6 packet, extracts a domain name
// via the protocol appropriate to the transport port (DNS question name
// on 53, TLS SNI on 443, HTTP Host header on 80), and consults lookup to
// decide Forward or Drop. A packet the inspector cannot parse, or whose
// payload yields no domain name, always Forwards — the inspector fails
// open, never failing a connection closed on a parse error.
func Classify(pkt []byte, family domain.Family, lookup DomainLookup, logger log.Logger) Result {
	payload, port, err := transportPayload(pkt, family)
	if err != nil {
		logger.Debug(map[string]any{"family": family.String(), "error": err.Error()}, "classify_parse_failed")
		return Result{Decision: domain.Forward}
	}

	name, err := extractName(payload, port)
	if err != nil {
		logger.Debug(map[string]any{"port": port, "error": err.Error()}, "classify_no_domain_extracted")
		return Result{Decision: domain.Forward}
	}

	d, err := domain.NormalizeDomain(name)
	if err != nil {
		logger.Debug(map[string]any{"raw_name": name, "error": err.Error()}, "classify_invalid_domain")
		return Result{Decision: domain.Forward}
	}

	match := lookup.Lookup(d.Name)
	if match.Blocked {
		return Result{Decision: domain.Drop, Name: d.Name, RuleTag: match.RuleTag}
	}
	return Result{Decision: domain.Forward, Name: d.Name}
}

func transportPayload(pkt []byte, family domain.Family) ([]byte, uint16, error) {
	switch family {
	case domain.FamilyV4:
		hdr, err := ParseIPv4Header(pkt)
		if err != nil {
			return nil, 0, err
		}
		seg, err := ParseTransport(pkt, hdr)
		if err != nil {
			return nil, 0, err
		}
		return pkt[seg.PayloadOffset:], seg.DstPort, nil
	case domain.FamilyV6:
		hdr, err := ParseIPv6Header(pkt)
		if err != nil {
			return nil, 0, err
		}
		if hdr.NextHeader != protoTCP && hdr.NextHeader != protoUDP {
			return nil, 0, fmt.Errorf("%w: unsupported ipv6 next header %d", errs.ErrParse, hdr.NextHeader)
		}
		synthetic := IPv4Header{Protocol: hdr.NextHeader, PayloadOffset: 0}
		seg, err := ParseTransport(pkt[hdr.PayloadOffset:], synthetic)
		if err != nil {
			return nil, 0, err
		}
		return pkt[hdr.PayloadOffset+seg.PayloadOffset:], seg.DstPort, nil
	default:
		return nil, 0, fmt.Errorf("%w: unknown address family", errs.ErrParse)
	}
}

func extractName(payload []byte, port uint16) (string, error) {
	switch port {
	case portDNS:
		return ExtractDNSQuestionName(payload)
	case portHTTPS:
		return ExtractSNI(payload)
	case portHTTP:
		return ExtractHTTPHost(payload)
	default:
		return "", fmt.Errorf("%w: no extractor for port %d", errs.ErrParse, port)
	}
}
