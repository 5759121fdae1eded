// Package prober implements the offline RakNet ping used to probe
// backend liveness and fetch MOTD payloads without opening a real
// session.
package prober

import (
	"errors"
	"net"
	"net/netip"
	"time"

	"mcbegate/internal/raknet"
)

// resendInterval is how often the same ping packet is retransmitted
// while waiting for a reply (§4.2, grounded on original_source's
// fixed-interval resend against a single socket rather than a fresh
// dial per attempt).
const resendInterval = 750 * time.Millisecond

// Ping binds a UDP socket to localBind, connects it to target, and
// exchanges an Unconnected-Ping/Pong with it. If proxyProtocol is true
// the ping payload is prepended with a datagram-mode PROXY v2 header
// (§4.2, §6) and the combined buffer is what gets sent and resent —
// there is no separate standalone preamble packet. The call blocks
// until a well-formed pong arrives or deadline elapses.
func Ping(localBind, target netip.AddrPort, proxyProtocol bool, deadline time.Duration) (raknet.MOTD, error) {
	conn, err := net.DialUDP("udp", net.UDPAddrFromAddrPort(localBind), net.UDPAddrFromAddrPort(target))
	if err != nil {
		return raknet.MOTD{}, netErr("dial", err)
	}
	defer conn.Close()

	now := time.Now().Unix()
	ping := raknet.UnconnectedPing{Timestamp: now, ClientGUID: uint64(now)}
	payload := ping.Encode()

	if proxyProtocol {
		localAddr, err := raknet.UDPAddrPort(conn.LocalAddr().(*net.UDPAddr))
		if err != nil {
			return raknet.MOTD{}, netErr("local addr", err)
		}
		preamble, err := raknet.ProxyPreamble(localAddr, target, false)
		if err != nil {
			return raknet.MOTD{}, netErr("build proxy preamble", err)
		}
		payload = append(preamble, payload...)
	}

	if err := conn.SetReadDeadline(time.Now().Add(deadline)); err != nil {
		return raknet.MOTD{}, netErr("set read deadline", err)
	}

	stop := make(chan struct{})
	defer close(stop)
	go resend(conn, payload, stop)

	if _, err := conn.Write(payload); err != nil {
		return raknet.MOTD{}, netErr("send ping", err)
	}

	buf := make([]byte, 2048)
	n, err := conn.Read(buf)
	if err != nil {
		var netErrIface net.Error
		if errors.As(err, &netErrIface) && netErrIface.Timeout() {
			return raknet.MOTD{}, netErr("receive", ErrTimeout)
		}
		return raknet.MOTD{}, netErr("receive", err)
	}

	if n == 0 || buf[0] != raknet.IDUnconnectedPong {
		return raknet.MOTD{}, netErr("receive", errors.New("reply was not an unconnected pong"))
	}

	pong, err := raknet.DecodeUnconnectedPong(buf[:n])
	if err != nil {
		return raknet.MOTD{}, err
	}
	return raknet.DecodeMOTD(pong.Data), nil
}

func resend(conn *net.UDPConn, payload []byte, stop <-chan struct{}) {
	ticker := time.NewTicker(resendInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			_, _ = conn.Write(payload)
		}
	}
}
