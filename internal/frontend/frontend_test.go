package frontend

import (
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mcbegate/internal/backend"
	"mcbegate/internal/config"
	"mcbegate/internal/logger"
	"mcbegate/internal/raknet"
	"mcbegate/internal/session"
)

func mustListenUDP(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	return conn
}

func mustAddrPort(t *testing.T, conn *net.UDPConn) netip.AddrPort {
	t.Helper()
	addr, err := raknet.UDPAddrPort(conn.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	return addr
}

func newTestFrontend(t *testing.T, b *backend.Backend) (*Frontend, *backend.MOTDCache, *net.UDPConn) {
	t.Helper()
	listen := mustListenUDP(t)

	cfg := config.Default()
	cfg.ProxyBind = "127.0.0.1:0"
	provider := config.NewProvider(cfg, logger.Nop())

	motd := backend.NewMOTDCache(b, provider, logger.Nop())
	f, err := New(listen, b, motd, provider, logger.Nop())
	require.NoError(t, err)
	go f.Run()
	return f, motd, listen
}

// fakeBackendServer opens a loopback UDP socket to stand in for a
// backend server. It sends nothing by itself; each test reads from and
// replies on the returned connection as its scenario needs.
func fakeBackendServer(t *testing.T) (netip.AddrPort, *net.UDPConn, func()) {
	t.Helper()
	conn := mustListenUDP(t)
	addr := mustAddrPort(t, conn)
	return addr, conn, func() { conn.Close() }
}

func sendFromPlayer(t *testing.T, player *net.UDPConn, listenAddr netip.AddrPort, data []byte) {
	t.Helper()
	_, err := player.WriteToUDP(data, net.UDPAddrFromAddrPort(listenAddr))
	require.NoError(t, err)
}

func TestFrontend_PingWithNoBackendReachable(t *testing.T) {
	b := backend.New("default", logger.Nop())
	b.Reload(config.Backend{
		ID: "default", LoadBalanceMethod: "round_robin",
		Servers: []config.ServerEntry{{Address: "127.0.0.1:65000"}},
	})
	f, _, listen := newTestFrontend(t, b)
	defer listen.Close()

	player := mustListenUDP(t)
	defer player.Close()

	ping := raknet.UnconnectedPing{Timestamp: 12345, ClientGUID: 1}
	sendFromPlayer(t, player, mustAddrPort(t, listen), ping.Encode())

	require.NoError(t, player.SetReadDeadline(time.Now().Add(time.Second)))
	buf := make([]byte, 2048)
	n, err := player.Read(buf)
	require.NoError(t, err)

	pong, err := raknet.DecodeUnconnectedPong(buf[:n])
	require.NoError(t, err)
	require.Equal(t, int64(12345), pong.Timestamp)
	require.Equal(t, "", pong.Data)
	require.Equal(t, f.backend.ServerUUID(), pong.ServerGUID)
}

func TestFrontend_PingAfterMOTDRefresh(t *testing.T) {
	motdPayload := "MCPE;Hello;630;1.20;1;10;12345;Sub;Survival;1;19132;19132;"
	srvAddr, srvConn, cleanup := fakeBackendServer(t)
	defer cleanup()

	go func() {
		buf := make([]byte, 2048)
		for {
			n, remote, err := srvConn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			if n > 0 && buf[0] == raknet.IDUnconnectedPing {
				ping, derr := raknet.DecodeUnconnectedPing(buf[:n])
				if derr != nil {
					continue
				}
				pong := raknet.UnconnectedPong{Timestamp: ping.Timestamp, ServerGUID: 12345, Data: motdPayload}
				_, _ = srvConn.WriteToUDP(pong.Encode(), remote)
			}
		}
	}()

	b := backend.New("default", logger.Nop())
	b.Reload(config.Backend{
		ID: "default", LoadBalanceMethod: "round_robin",
		Servers: []config.ServerEntry{{Address: srvAddr.String()}},
	})
	f, motd, listen := newTestFrontend(t, b)
	defer listen.Close()

	motd.Update()

	player := mustListenUDP(t)
	defer player.Close()

	ping := raknet.UnconnectedPing{Timestamp: 999, ClientGUID: 1}
	sendFromPlayer(t, player, mustAddrPort(t, listen), ping.Encode())

	require.NoError(t, player.SetReadDeadline(time.Now().Add(time.Second)))
	buf := make([]byte, 2048)
	n, err := player.Read(buf)
	require.NoError(t, err)

	pong, err := raknet.DecodeUnconnectedPong(buf[:n])
	require.NoError(t, err)
	decoded := raknet.DecodeMOTD(pong.Data)
	require.Equal(t, "Hello", decoded.Line1)
	require.Equal(t, int(mustAddrPort(t, listen).Port()), decoded.PortV4)
	require.Equal(t, f.backend.ServerUUID(), pong.ServerGUID)
	require.NotEqual(t, "12345", decoded.ServerUUID)
}

func TestFrontend_EmptyTitleCoercion(t *testing.T) {
	srvAddr, srvConn, cleanup := fakeBackendServer(t)
	defer cleanup()

	go func() {
		buf := make([]byte, 2048)
		for {
			n, remote, err := srvConn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			if n > 0 && buf[0] == raknet.IDUnconnectedPing {
				ping, derr := raknet.DecodeUnconnectedPing(buf[:n])
				if derr != nil {
					continue
				}
				motd := raknet.MOTD{Edition: "MCPE", Line1: ""}
				pong := raknet.UnconnectedPong{Timestamp: ping.Timestamp, ServerGUID: 1, Data: motd.Encode()}
				_, _ = srvConn.WriteToUDP(pong.Encode(), remote)
			}
		}
	}()

	b := backend.New("default", logger.Nop())
	b.Reload(config.Backend{
		ID: "default", LoadBalanceMethod: "round_robin",
		Servers: []config.ServerEntry{{Address: srvAddr.String()}},
	})
	_, motd, listen := newTestFrontend(t, b)
	defer listen.Close()
	motd.Update()

	player := mustListenUDP(t)
	defer player.Close()

	ping := raknet.UnconnectedPing{Timestamp: 1, ClientGUID: 1}
	sendFromPlayer(t, player, mustAddrPort(t, listen), ping.Encode())

	require.NoError(t, player.SetReadDeadline(time.Now().Add(time.Second)))
	buf := make([]byte, 2048)
	n, err := player.Read(buf)
	require.NoError(t, err)

	pong, err := raknet.DecodeUnconnectedPong(buf[:n])
	require.NoError(t, err)
	decoded := raknet.DecodeMOTD(pong.Data)
	require.Equal(t, "...", decoded.Line1)
}

func TestFrontend_RoundRobinPlacement(t *testing.T) {
	s1Addr, s1Conn, cleanup1 := fakeBackendServer(t)
	defer cleanup1()
	s2Addr, s2Conn, cleanup2 := fakeBackendServer(t)
	defer cleanup2()
	_ = s1Conn
	_ = s2Conn

	b := backend.New("default", logger.Nop())
	b.Reload(config.Backend{
		ID: "default", LoadBalanceMethod: "round_robin",
		Servers: []config.ServerEntry{{Address: s1Addr.String()}, {Address: s2Addr.String()}},
	})
	for _, srv := range b.Servers() {
		srv.RecordProbeResult(true)
	}

	f, _, listen := newTestFrontend(t, b)
	defer listen.Close()
	listenAddr := mustAddrPort(t, listen)

	players := make([]*net.UDPConn, 3)
	for i := range players {
		players[i] = mustListenUDP(t)
		defer players[i].Close()
		req := raknet.OpenConnectionRequest1{ProtocolVersion: 11, MTUSize: 20}
		sendFromPlayer(t, players[i], listenAddr, req.Encode())
	}

	require.Eventually(t, func() bool { return f.ClientCount() == 3 }, time.Second, 5*time.Millisecond)

	s1, _ := b.Lookup(s1Addr)
	s2, _ := b.Lookup(s2Addr)
	require.Equal(t, int64(2), s1.LoadScore())
	require.Equal(t, int64(1), s2.LoadScore())
}

func TestFrontend_DisconnectDetectionFromClient(t *testing.T) {
	srvAddr, srvConn, cleanup := fakeBackendServer(t)
	defer cleanup()

	b := backend.New("default", logger.Nop())
	b.Reload(config.Backend{
		ID: "default", LoadBalanceMethod: "round_robin",
		Servers: []config.ServerEntry{{Address: srvAddr.String()}},
	})
	for _, srv := range b.Servers() {
		srv.RecordProbeResult(true)
	}

	f, _, listen := newTestFrontend(t, b)
	defer listen.Close()
	listenAddr := mustAddrPort(t, listen)

	player := mustListenUDP(t)
	defer player.Close()

	req := raknet.OpenConnectionRequest1{ProtocolVersion: 11, MTUSize: 20}
	sendFromPlayer(t, player, listenAddr, req.Encode())

	require.Eventually(t, func() bool { return f.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	buf := make([]byte, 64)
	require.NoError(t, srvConn.SetReadDeadline(time.Now().Add(time.Second)))
	n, remote, err := srvConn.ReadFromUDP(buf)
	require.NoError(t, err)
	require.Equal(t, raknet.IDOpenConnectionRequest1, buf[0])

	reply := []byte{raknet.IDOpenConnectionReply2, 1, 2, 3}
	_, err = srvConn.WriteToUDP(reply, remote)
	require.NoError(t, err)
	_ = n

	srv, ok := b.Lookup(srvAddr)
	require.True(t, ok)
	require.Eventually(t, func() bool { return srv.IsConnected(mustAddrPort(t, player)) }, time.Second, 5*time.Millisecond)
	require.Equal(t, int64(1), srv.LoadScore())

	w := raknet.NewWriter()
	w.Uint8(0x84)
	w.Uint24(0)
	raknet.EncodeFrame(w, &raknet.Frame{Reliability: raknet.Unreliable, Body: []byte{raknet.IDDisconnectNotification}})
	sendFromPlayer(t, player, listenAddr, w.Bytes())

	require.Eventually(t, func() bool { return f.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
	require.Equal(t, int64(0), srv.LoadScore())
}

func TestFrontend_ReHandshakeWaitsForOldSessionClose(t *testing.T) {
	srvAddr, srvConn, cleanup := fakeBackendServer(t)
	defer cleanup()
	defer srvConn.Close()

	b := backend.New("default", logger.Nop())
	b.Reload(config.Backend{
		ID: "default", LoadBalanceMethod: "round_robin",
		Servers: []config.ServerEntry{{Address: srvAddr.String()}},
	})
	for _, srv := range b.Servers() {
		srv.RecordProbeResult(true)
	}

	f, _, listen := newTestFrontend(t, b)
	defer listen.Close()
	listenAddr := mustAddrPort(t, listen)

	player := mustListenUDP(t)
	defer player.Close()

	req := raknet.OpenConnectionRequest1{ProtocolVersion: 11, MTUSize: 20}
	sendFromPlayer(t, player, listenAddr, req.Encode())
	require.Eventually(t, func() bool { return f.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	first, _ := f.lookup(mustAddrPort(t, player))

	sendFromPlayer(t, player, listenAddr, req.Encode())
	require.Eventually(t, func() bool {
		second, ok := f.lookup(mustAddrPort(t, player))
		return ok && second != first
	}, time.Second, 5*time.Millisecond)

	require.Equal(t, session.StageClosed, first.Stage())
	srv, _ := b.Lookup(srvAddr)
	require.Equal(t, int64(1), srv.LoadScore())
}
