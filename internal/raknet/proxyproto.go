package raknet

import (
	"net"
	"net/netip"

	"github.com/pires/go-proxyproto"
)

// ProxyPreamble builds the bytes of a PROXY protocol v2 datagram-mode
// header (§6). The offline prober prepends it to its ping payload; a
// session sends it once as its own datagram before any player traffic.
// local selects the LOCAL command, which tells a
// strict receiver to disregard the address fields entirely; both the
// session's one-time preamble to its backend and the offline prober's
// ping describe real traffic, so both pass local=false.
func ProxyPreamble(src, dst netip.AddrPort, local bool) ([]byte, error) {
	command := proxyproto.PROXY
	if local {
		command = proxyproto.LOCAL
	}
	transport := proxyproto.UDPv4
	if src.Addr().Is6() && !src.Addr().Is4In6() {
		transport = proxyproto.UDPv6
	}
	header := &proxyproto.Header{
		Version:           2,
		Command:           command,
		TransportProtocol: transport,
		SourceAddr:        net.UDPAddrFromAddrPort(src),
		DestinationAddr:   net.UDPAddrFromAddrPort(dst),
	}
	return header.Format()
}
