//go:build linux

package packetsource

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// linuxOriginalDst recovers the pre-NAT destination via the
// SO_ORIGINAL_DST socket option iptables' REDIRECT/DNAT targets populate
// in the kernel's conntrack table.
type linuxOriginalDst struct{}

// New returns the Linux implementation of OriginalDestination.
func New() OriginalDestination {
	return linuxOriginalDst{}
}

func (linuxOriginalDst) Resolve(conn net.Conn) (*net.TCPAddr, error) {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return nil, fmt.Errorf("packetsource: not a TCP connection")
	}
	sc, err := tcpConn.SyscallConn()
	if err != nil {
		return nil, fmt.Errorf("packetsource: syscall conn: %w", err)
	}

	var addr *net.TCPAddr
	var sockErr error
	err = sc.Control(func(fd uintptr) {
		addr, sockErr = getOriginalDst(fd)
	})
	if err != nil {
		return nil, fmt.Errorf("packetsource: control: %w", err)
	}
	if sockErr != nil {
		return nil, sockErr
	}
	return addr, nil
}

func getOriginalDst(fd uintptr) (*net.TCPAddr, error) {
	// IPv4 path: SO_ORIGINAL_DST returns a sockaddr_in via getsockopt.
	v4, err := unix.GetsockoptIPv6Mreq(int(fd), unix.IPPROTO_IP, unix.SO_ORIGINAL_DST)
	if err == nil {
		// IPv6Mreq's Multiaddr field aliases the raw bytes of a
		// sockaddr_in; decode the port and address fields by hand since
		// the kernel ABI for SO_ORIGINAL_DST predates a typed Go wrapper.
		raw := v4.Multiaddr
		port := int(raw[2])<<8 | int(raw[3])
		ip := net.IPv4(raw[4], raw[5], raw[6], raw[7])
		return &net.TCPAddr{IP: ip, Port: port}, nil
	}
	return nil, fmt.Errorf("packetsource: getsockopt SO_ORIGINAL_DST: %w", err)
}
