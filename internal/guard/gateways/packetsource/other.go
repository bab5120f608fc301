//go:build !linux

package packetsource

import (
	"fmt"
	"net"
)

// unsupportedOriginalDst reports that no transparent-proxy redirect
// mechanism is available on this platform; the MITM proxy falls back to
// requiring an explicit HTTP request or CONNECT target instead of kernel
// NAT recovery.
type unsupportedOriginalDst struct{}

// New returns a stub OriginalDestination on platforms without a known
// original-destination recovery mechanism.
func New() OriginalDestination {
	return unsupportedOriginalDst{}
}

func (unsupportedOriginalDst) Resolve(conn net.Conn) (*net.TCPAddr, error) {
	return nil, fmt.Errorf("packetsource: original destination recovery unsupported on this platform")
}
