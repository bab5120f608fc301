package packet

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/Cody005/shadowguard/internal/guard/common/errs"
)

// dnsHeaderLen is the fixed 12-byte DNS message header (RFC 1035 §4.1.1).
const dnsHeaderLen = 12

// ExtractDNSQuestionName decodes the QNAME of the first question in a DNS
// message payload (typically a UDP/53 or TCP/53 segment's application
// data). Unlike a full resolver, the inspector rejects any compression
// pointer rather than following it: a transparent classifier has no
// business chasing pointers into attacker-controlled offsets, and a
// legitimate outbound query's single question is always encoded with
// literal labels.
func ExtractDNSQuestionName(payload []byte) (string, error) {
	if len(payload) < dnsHeaderLen {
		return "", fmt.Errorf("%w: dns message too short", errs.ErrParse)
	}
	if payload[2]&0x80 != 0 {
		return "", fmt.Errorf("%w: dns message is a response, not a query", errs.ErrParse)
	}
	qdCount := binary.BigEndian.Uint16(payload[4:6])
	if qdCount == 0 {
		return "", fmt.Errorf("%w: dns message has no question", errs.ErrParse)
	}

	name, _, err := decodeQNAME(payload, dnsHeaderLen)
	if err != nil {
		return "", err
	}
	return name, nil
}

// decodeQNAME reads a sequence of length-prefixed labels starting at
// offset, stopping at the zero-length root label. A label-length byte
// with its top two bits set (0xC0) is a compression pointer; the
// inspector treats that as malformed input rather than dereferencing it.
func decodeQNAME(data []byte, offset int) (string, int, error) {
	var labels []string
	for {
		if offset >= len(data) {
			return "", 0, fmt.Errorf("%w: qname offset out of bounds", errs.ErrParse)
		}
		length := int(data[offset])
		if length == 0 {
			offset++
			break
		}
		if length&0xC0 != 0 {
			return "", 0, fmt.Errorf("%w: dns name compression pointer rejected", errs.ErrParse)
		}
		offset++
		if offset+length > len(data) {
			return "", 0, fmt.Errorf("%w: qname label length out of bounds", errs.ErrParse)
		}
		labels = append(labels, string(data[offset:offset+length]))
		offset += length
		if len(labels) > 127 {
			return "", 0, fmt.Errorf("%w: qname exceeds maximum label count", errs.ErrParse)
		}
	}
	return strings.Join(labels, "."), offset, nil
}
