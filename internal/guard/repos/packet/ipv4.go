package packet

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/Cody005/shadowguard/internal/guard/common/errs"
)

const (
	protoTCP = 6
	protoUDP = 17
)

// IPv4Header is the subset of RFC 791 fields the inspector needs to
// locate the transport-layer payload.
type IPv4Header struct {
	SrcIP    net.IP
	DstIP    net.IP
	Protocol uint8
	// PayloadOffset is the byte offset into the original packet where the
	// transport-layer segment begins.
	PayloadOffset int
}

// ParseIPv4Header parses the header of an IPv4 packet. It rejects packets
// shorter than the minimum 20-byte header or that declare a header length
// (IHL) exceeding the packet's actual length.
func ParseIPv4Header(pkt []byte) (IPv4Header, error) {
	if len(pkt) < 20 {
		return IPv4Header{}, fmt.Errorf("%w: ipv4 packet too short (%d bytes)", errs.ErrParse, len(pkt))
	}
	version := pkt[0] >> 4
	if version != 4 {
		return IPv4Header{}, fmt.Errorf("%w: not an ipv4 packet (version %d)", errs.ErrParse, version)
	}
	ihl := int(pkt[0]&0x0F) * 4
	if ihl < 20 || ihl > len(pkt) {
		return IPv4Header{}, fmt.Errorf("%w: invalid ipv4 header length %d", errs.ErrParse, ihl)
	}

	return IPv4Header{
		SrcIP:         net.IP(pkt[12:16]),
		DstIP:         net.IP(pkt[16:20]),
		Protocol:      pkt[9],
		PayloadOffset: ihl,
	}, nil
}

// TransportSegment is the decoded TCP or UDP header fields the inspector
// needs: source/destination port and the offset where the application
// payload begins.
type TransportSegment struct {
	SrcPort       uint16
	DstPort       uint16
	PayloadOffset int
	IsTCP         bool
}

// ParseTransport decodes the TCP or UDP segment beginning at hdr's
// PayloadOffset within pkt.
func ParseTransport(pkt []byte, hdr IPv4Header) (TransportSegment, error) {
	seg := pkt[hdr.PayloadOffset:]
	switch hdr.Protocol {
	case protoTCP:
		if len(seg) < 20 {
			return TransportSegment{}, fmt.Errorf("%w: tcp segment too short", errs.ErrParse)
		}
		dataOffset := int(seg[12]>>4) * 4
		if dataOffset < 20 || dataOffset > len(seg) {
			return TransportSegment{}, fmt.Errorf("%w: invalid tcp data offset %d", errs.ErrParse, dataOffset)
		}
		return TransportSegment{
			SrcPort:       binary.BigEndian.Uint16(seg[0:2]),
			DstPort:       binary.BigEndian.Uint16(seg[2:4]),
			PayloadOffset: hdr.PayloadOffset + dataOffset,
			IsTCP:         true,
		}, nil
	case protoUDP:
		if len(seg) < 8 {
			return TransportSegment{}, fmt.Errorf("%w: udp segment too short", errs.ErrParse)
		}
		return TransportSegment{
			SrcPort:       binary.BigEndian.Uint16(seg[0:2]),
			DstPort:       binary.BigEndian.Uint16(seg[2:4]),
			PayloadOffset: hdr.PayloadOffset + 8,
			IsTCP:         false,
		}, nil
	default:
		return TransportSegment{}, fmt.Errorf("%w: unsupported protocol %d", errs.ErrParse, hdr.Protocol)
	}
}
