// Package frontend owns the player-facing listen socket: the receive
// loop, the address-to-session client table, and the classification
// logic that routes an inbound datagram to a ping reply, an existing
// session, or a freshly installed one (§4.10).
package frontend

import (
	"net"
	"net/netip"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"mcbegate/internal/backend"
	"mcbegate/internal/config"
	"mcbegate/internal/raknet"
	"mcbegate/internal/session"
)

// readBufferSize is large enough for any RakNet datagram MCBE sends;
// oversized reads are simply truncated by ReadFromUDP.
const readBufferSize = 1492

// Frontend owns the listen socket and the client table. Its receive
// loop spawns one short-lived handler goroutine per datagram.
type Frontend struct {
	log     *zap.SugaredLogger
	backend *backend.Backend
	motd    *backend.MOTDCache
	cfg     *config.Provider

	listen     *net.UDPConn
	listenAddr netip.AddrPort

	mu      sync.RWMutex
	clients map[netip.AddrPort]*session.Session
}

// New wires a front-end to an already-bound listen socket.
func New(listen *net.UDPConn, b *backend.Backend, motd *backend.MOTDCache, cfg *config.Provider, log *zap.SugaredLogger) (*Frontend, error) {
	listenAddr, err := raknet.UDPAddrPort(listen.LocalAddr().(*net.UDPAddr))
	if err != nil {
		return nil, err
	}
	return &Frontend{
		log:        log,
		backend:    b,
		motd:       motd,
		cfg:        cfg,
		listen:     listen,
		listenAddr: listenAddr,
		clients:    make(map[netip.AddrPort]*session.Session),
	}, nil
}

// Run executes the receive loop until the listen socket closes. It
// blocks the calling goroutine; callers spawn it with `go`.
func (f *Frontend) Run() {
	buf := make([]byte, readBufferSize)
	for {
		n, from, err := f.listen.ReadFromUDP(buf)
		if err != nil {
			f.log.Infow("listen socket closed, receive loop exiting", "error", err)
			return
		}
		addr, aerr := raknet.UDPAddrPort(from)
		if aerr != nil {
			continue
		}
		data := append([]byte(nil), buf[:n]...)
		go f.handle(data, addr)
	}
}

// ClientCount returns the number of sessions currently in the table.
func (f *Frontend) ClientCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.clients)
}

// Sessions returns a snapshot slice of every session currently in the
// table, read under the table's shared lock. Used by the snapshot
// layer (C11) to capture live session identities.
func (f *Frontend) Sessions() []*session.Session {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]*session.Session, 0, len(f.clients))
	for _, s := range f.clients {
		out = append(out, s)
	}
	return out
}

// ListenAddr returns the front-end's bound listen address.
func (f *Frontend) ListenAddr() netip.AddrPort { return f.listenAddr }

// Backend returns the backend this front-end routes traffic to, used
// by the snapshot layer to resolve recovered sessions' servers.
func (f *Frontend) Backend() *backend.Backend { return f.backend }

// AdoptRecovered inserts an already-Connected session built by snapshot
// recovery into the table and starts its event loop. The caller is
// responsible for the matching load-score increment, mirroring
// installSession's ownership of that bookkeeping for the handshake path.
func (f *Frontend) AdoptRecovered(addr netip.AddrPort, sess *session.Session) {
	f.insert(addr, sess)
	go sess.Run()
}

// TeardownFunc builds the onTeardown closure a recovered session needs
// at construction time, before it has ever been inserted into the
// table. Exported for the snapshot layer, which builds sessions outside
// this package.
func (f *Frontend) TeardownFunc(addr netip.AddrPort) func() {
	return func() { f.remove(addr) }
}

func (f *Frontend) lookup(addr netip.AddrPort) (*session.Session, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	s, ok := f.clients[addr]
	return s, ok
}

func (f *Frontend) insert(addr netip.AddrPort, s *session.Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clients[addr] = s
}

func (f *Frontend) remove(addr netip.AddrPort) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.clients, addr)
}

// handle classifies one inbound datagram per §4.10 and dispatches it.
func (f *Frontend) handle(data []byte, from netip.AddrPort) {
	if len(data) == 0 {
		return
	}
	t := data[0]

	if t == raknet.IDUnconnectedPing || t == raknet.IDUnconnectedPingOpenConnection {
		f.replyPong(data, from)
		return
	}

	sess, exists := f.lookup(from)
	switch {
	case exists && sess.Stage() == session.StageConnected:
		sess.HandlePlayerToServer(data)
		return
	case exists:
		if !raknet.IsOfflineMessageID(t) {
			return
		}
		if t != raknet.IDOpenConnectionRequest1 {
			// Still mid-handshake; keep feeding the existing session.
			sess.HandlePlayerToServer(data)
			return
		}
		// A fresh OpenConnectionRequest1 always forces a new session.
		// Wait for the old one's close-gate so its table entry and
		// load decrement land before the new session goes live.
		sess.Close(session.CauseUnknown)
		sess.WaitClosed()
	default:
		if !raknet.IsOfflineMessageID(t) {
			return
		}
	}

	f.installSession(data, from)
}

func (f *Frontend) installSession(data []byte, from netip.AddrPort) {
	srv, err := f.backend.Balancer().Next(f.backend.Servers())
	if err != nil {
		f.log.Debugw("no backend server available, dropping datagram", "player", from, "error", err)
		return
	}

	proxyBind, err := netip.ParseAddrPort(f.cfg.Current().ProxyBind)
	if err != nil {
		f.log.Warnw("invalid proxy_bind, dropping datagram", "error", err)
		return
	}

	sess, err := session.New(from, srv, f.listen, f.listenAddr, proxyBind, func() { f.remove(from) }, f.log)
	if err != nil {
		f.log.Warnw("failed to open backend socket", "player", from, "server", srv.ID(), "error", err)
		return
	}
	f.insert(from, sess)
	srv.ModifyLoad(1)
	go sess.Run()

	sess.HandlePlayerToServer(data)
}

// replyPong synthesizes and sends an UnconnectedPong per §4.10's pong
// synthesis rule.
func (f *Frontend) replyPong(data []byte, from netip.AddrPort) {
	ts, ok := pingTimestamp(data)
	if !ok {
		f.log.Debugw("malformed unconnected ping, dropping", "player", from)
		return
	}

	guid := f.backend.ServerUUID()
	payload := ""
	if motd := f.motd.Last(); motd != nil {
		clone := *motd
		clone.ServerUUID = strconv.FormatUint(guid, 10)
		clone.PortV4 = int(f.listenAddr.Port())
		clone.PortV6 = clone.PortV4
		if clone.Line1 == "" {
			clone.Line1 = "..."
		}
		payload = clone.Encode()
	}

	pong := raknet.UnconnectedPong{Timestamp: ts, ServerGUID: guid, Data: payload}
	if _, err := f.listen.WriteToUDPAddrPort(pong.Encode(), from); err != nil {
		f.log.Warnw("failed to send pong", "player", from, "error", err)
	}
}

// pingTimestamp consumes the message-id byte and decodes just enough
// of an Unconnected-Ping to echo its forward-timestamp; it accepts
// either ping variant (§4.10 classifies both the same way).
func pingTimestamp(data []byte) (int64, bool) {
	r := raknet.NewReader(data)
	if _, err := r.Uint8(); err != nil {
		return 0, false
	}
	ts, err := r.Int64()
	if err != nil {
		return 0, false
	}
	if err := r.Magic(); err != nil {
		return 0, false
	}
	return ts, true
}
