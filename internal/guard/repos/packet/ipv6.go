package packet

import (
	"fmt"
	"net"

	"github.com/Cody005/shadowguard/internal/guard/common/errs"
)

// IPv6Header is the subset of RFC 8200 fields the inspector needs. Only
// the fixed 40-byte header is handled; extension headers are not walked,
// so a packet using them is classified by NextHeader alone and, if that
// isn't TCP/UDP, is forwarded rather than misparsed — matching the
// inspector's stateless, best-effort design (see Non-goals).
type IPv6Header struct {
	SrcIP         net.IP
	DstIP         net.IP
	NextHeader    uint8
	PayloadOffset int
}

// ParseIPv6Header parses the fixed IPv6 header.
func ParseIPv6Header(pkt []byte) (IPv6Header, error) {
	if len(pkt) < 40 {
		return IPv6Header{}, fmt.Errorf("%w: ipv6 packet too short (%d bytes)", errs.ErrParse, len(pkt))
	}
	version := pkt[0] >> 4
	if version != 6 {
		return IPv6Header{}, fmt.Errorf("%w: not an ipv6 packet (version %d)", errs.ErrParse, version)
	}
	return IPv6Header{
		SrcIP:         net.IP(pkt[8:24]),
		DstIP:         net.IP(pkt[24:40]),
		NextHeader:    pkt[6],
		PayloadOffset: 40,
	}, nil
}
