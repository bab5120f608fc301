package packet

import (
	"encoding/binary"
	"fmt"

	"github.com/Cody005/shadowguard/internal/guard/common/errs"
)

const (
	tlsHandshakeContentType = 0x16
	tlsClientHelloType      = 0x01
	sniExtensionType        = 0x0000
	sniHostNameType         = 0x00
)

// ExtractSNI parses a TLS record's payload looking for a ClientHello and
// returns the server_name extension's host name, if present. Records that
// are not a handshake, or a handshake that is not a ClientHello, return an
// empty string and a parse error; Classify treats that as "no SNI
// available" and forwards the packet.
func ExtractSNI(record []byte) (string, error) {
	if len(record) < 5 {
		return "", fmt.Errorf("%w: tls record too short", errs.ErrParse)
	}
	if record[0] != tlsHandshakeContentType {
		return "", fmt.Errorf("%w: not a tls handshake record", errs.ErrParse)
	}
	recLen := int(binary.BigEndian.Uint16(record[3:5]))
	if 5+recLen > len(record) {
		return "", fmt.Errorf("%w: tls record length exceeds buffer", errs.ErrParse)
	}
	hs := record[5 : 5+recLen]

	if len(hs) < 4 || hs[0] != tlsClientHelloType {
		return "", fmt.Errorf("%w: not a client hello", errs.ErrParse)
	}
	hsLen := int(hs[1])<<16 | int(hs[2])<<8 | int(hs[3])
	if 4+hsLen > len(hs) {
		return "", fmt.Errorf("%w: client hello length exceeds buffer", errs.ErrParse)
	}
	body := hs[4 : 4+hsLen]

	off := 0
	// legacy_version(2) + random(32)
	off += 2 + 32
	if off >= len(body) {
		return "", fmt.Errorf("%w: client hello truncated before session id", errs.ErrParse)
	}

	// session_id
	sidLen := int(body[off])
	off++
	off += sidLen
	if off+2 > len(body) {
		return "", fmt.Errorf("%w: client hello truncated before cipher suites", errs.ErrParse)
	}

	// cipher_suites
	csLen := int(binary.BigEndian.Uint16(body[off : off+2]))
	off += 2 + csLen
	if off+1 > len(body) {
		return "", fmt.Errorf("%w: client hello truncated before compression methods", errs.ErrParse)
	}

	// compression_methods
	cmLen := int(body[off])
	off += 1 + cmLen
	if off+2 > len(body) {
		// No extensions present; legal for very old clients, but no SNI.
		return "", fmt.Errorf("%w: client hello has no extensions", errs.ErrParse)
	}

	extTotalLen := int(binary.BigEndian.Uint16(body[off : off+2]))
	off += 2
	end := off + extTotalLen
	if end > len(body) {
		return "", fmt.Errorf("%w: extensions length exceeds client hello", errs.ErrParse)
	}

	for off+4 <= end {
		extType := binary.BigEndian.Uint16(body[off : off+2])
		extLen := int(binary.BigEndian.Uint16(body[off+2 : off+4]))
		off += 4
		if off+extLen > end {
			return "", fmt.Errorf("%w: extension length exceeds extensions block", errs.ErrParse)
		}
		if extType == sniExtensionType {
			return parseSNIExtension(body[off : off+extLen])
		}
		off += extLen
	}

	return "", fmt.Errorf("%w: no server_name extension present", errs.ErrParse)
}

func parseSNIExtension(ext []byte) (string, error) {
	if len(ext) < 2 {
		return "", fmt.Errorf("%w: server_name extension too short", errs.ErrParse)
	}
	listLen := int(binary.BigEndian.Uint16(ext[0:2]))
	if 2+listLen > len(ext) {
		return "", fmt.Errorf("%w: server_name list length exceeds extension", errs.ErrParse)
	}
	list := ext[2 : 2+listLen]

	off := 0
	for off+3 <= len(list) {
		nameType := list[off]
		nameLen := int(binary.BigEndian.Uint16(list[off+1 : off+3]))
		off += 3
		if off+nameLen > len(list) {
			return "", fmt.Errorf("%w: server_name entry length exceeds list", errs.ErrParse)
		}
		if nameType == sniHostNameType {
			return string(list[off : off+nameLen]), nil
		}
		off += nameLen
	}
	return "", fmt.Errorf("%w: server_name list has no host_name entry", errs.ErrParse)
}
