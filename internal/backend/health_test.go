package backend

import (
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mcbegate/internal/config"
	"mcbegate/internal/logger"
	"mcbegate/internal/raknet"
)

func fakePongServer(t *testing.T, reply bool) (netip.AddrPort, func()) {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		buf := make([]byte, 2048)
		for {
			n, remote, err := conn.ReadFromUDP(buf)
			select {
			case <-done:
				return
			default:
			}
			if err != nil {
				return
			}
			if !reply {
				continue
			}
			data := buf[:n]
			if len(data) == 0 || data[0] != raknet.IDUnconnectedPing {
				continue
			}
			ping, err := raknet.DecodeUnconnectedPing(data)
			if err != nil {
				continue
			}
			pong := raknet.UnconnectedPong{Timestamp: ping.Timestamp, ServerGUID: 1, Data: "MCPE;test;0;0;0;0;;;;;;;"}
			out := pong.Encode()
			_, _ = conn.WriteToUDP(out, remote)
		}
	}()

	addr, err := raknet.UDPAddrPort(conn.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	return addr, func() {
		close(done)
		conn.Close()
	}
}

func testProvider(t *testing.T) *config.Provider {
	t.Helper()
	cfg := config.Default()
	cfg.ProxyBind = "127.0.0.1:0"
	return config.NewProvider(cfg, logger.Nop())
}

func TestHealthController_MarksAliveOnSuccess(t *testing.T) {
	addr, cleanup := fakePongServer(t, true)
	defer cleanup()

	b := New("default", logger.Nop())
	b.Reload(config.Backend{
		ID: "default", LoadBalanceMethod: "round_robin",
		Servers: []config.ServerEntry{{Address: addr.String()}},
	})

	hc := NewHealthController(b, testProvider(t), logger.Nop())
	hc.Execute()

	srv, ok := b.Lookup(addr)
	require.True(t, ok)
	require.True(t, srv.Alive())
}

func TestHealthController_NoReplyStaysNotAlive(t *testing.T) {
	addr, cleanup := fakePongServer(t, false)
	defer cleanup()

	b := New("default", logger.Nop())
	b.Reload(config.Backend{
		ID: "default", LoadBalanceMethod: "round_robin",
		Servers: []config.ServerEntry{{Address: addr.String()}},
	})

	hc := NewHealthController(b, testProvider(t), logger.Nop())

	done := make(chan struct{})
	go func() {
		hc.Execute()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("health sweep did not finish")
	}

	srv, ok := b.Lookup(addr)
	require.True(t, ok)
	require.False(t, srv.Alive())
	require.Equal(t, 1, srv.FailedAttempts())
}

func TestHealthController_ProbesStaleServerStillHeldByKnownServers(t *testing.T) {
	addr, cleanup := fakePongServer(t, true)
	defer cleanup()

	b := New("default", logger.Nop())
	b.Reload(config.Backend{ID: "default", LoadBalanceMethod: "round_robin"})

	srv := b.AdoptStale(addr, false)
	_, inActive := b.Lookup(addr)
	require.False(t, inActive)

	hc := NewHealthController(b, testProvider(t), logger.Nop())
	hc.Execute()

	require.True(t, srv.Alive())
}

func TestHealthController_ConcurrentExecuteCollapses(t *testing.T) {
	addr, cleanup := fakePongServer(t, true)
	defer cleanup()

	b := New("default", logger.Nop())
	b.Reload(config.Backend{
		ID: "default", LoadBalanceMethod: "round_robin",
		Servers: []config.ServerEntry{{Address: addr.String()}},
	})
	hc := NewHealthController(b, testProvider(t), logger.Nop())

	done := make(chan struct{}, 2)
	go func() { hc.Execute(); done <- struct{}{} }()
	go func() { hc.Execute(); done <- struct{}{} }()
	<-done
	<-done

	srv, ok := b.Lookup(addr)
	require.True(t, ok)
	require.True(t, srv.Alive())
}
