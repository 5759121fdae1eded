package raknet

import (
	"fmt"
	"net"
	"net/netip"
)

// EncodeAddr writes a RakNet socket address: a family byte (4 or 6)
// followed by the family-specific layout. IPv4 octets are bitwise
// inverted on the wire, a quirk every RakNet implementation preserves
// for historical reasons.
func EncodeAddr(w *Writer, addr netip.AddrPort) {
	a := addr.Addr()
	if a.Is4() || a.Is4In6() {
		w.Uint8(4)
		octets := a.As4()
		for _, o := range octets {
			w.Uint8(^o)
		}
		w.Uint16(addr.Port())
		return
	}
	w.Uint8(6)
	w.Uint16(0)
	w.Uint16(addr.Port())
	w.Uint32(0)
	octets := a.As16()
	w.Raw(octets[:])
	w.Uint32(0)
}

// DecodeAddr reads a RakNet socket address in the layout EncodeAddr
// writes.
func DecodeAddr(r *Reader) (netip.AddrPort, error) {
	family, err := r.Uint8()
	if err != nil {
		return netip.AddrPort{}, wireErr("read addr family", err)
	}
	switch family {
	case 4:
		raw, err := r.Bytes(4)
		if err != nil {
			return netip.AddrPort{}, wireErr("read addr v4", err)
		}
		var octets [4]byte
		for i, b := range raw {
			octets[i] = ^b
		}
		port, err := r.Uint16()
		if err != nil {
			return netip.AddrPort{}, wireErr("read addr v4 port", err)
		}
		return netip.AddrPortFrom(netip.AddrFrom4(octets), port), nil
	case 6:
		if _, err := r.Uint16(); err != nil {
			return netip.AddrPort{}, wireErr("read addr v6 pad", err)
		}
		port, err := r.Uint16()
		if err != nil {
			return netip.AddrPort{}, wireErr("read addr v6 port", err)
		}
		if _, err := r.Uint32(); err != nil {
			return netip.AddrPort{}, wireErr("read addr v6 pad", err)
		}
		raw, err := r.Bytes(16)
		if err != nil {
			return netip.AddrPort{}, wireErr("read addr v6 octets", err)
		}
		var octets [16]byte
		copy(octets[:], raw)
		if _, err := r.Uint32(); err != nil {
			return netip.AddrPort{}, wireErr("read addr v6 pad", err)
		}
		return netip.AddrPortFrom(netip.AddrFrom16(octets), port), nil
	default:
		return netip.AddrPort{}, wireErrf("read addr family", "unrecognized address family byte %d", family)
	}
}

// UDPAddrPort converts a *net.UDPAddr to netip.AddrPort, the shape the
// codec and the rest of the proxy exchange addresses in.
func UDPAddrPort(a *net.UDPAddr) (netip.AddrPort, error) {
	if a == nil {
		return netip.AddrPort{}, fmt.Errorf("nil udp address")
	}
	ip, ok := netip.AddrFromSlice(a.IP)
	if !ok {
		return netip.AddrPort{}, fmt.Errorf("invalid ip %v", a.IP)
	}
	return netip.AddrPortFrom(ip.Unmap(), uint16(a.Port)), nil
}
