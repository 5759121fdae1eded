package session

import (
	"errors"
	"net"
	"net/netip"
	"sync"
	"time"

	"go.uber.org/zap"

	"mcbegate/internal/backend"
	"mcbegate/internal/raknet"
)

// Stage is a session's position in its Handshake/Connected/Closed
// lifecycle (§4.9).
type Stage int

const (
	StageHandshake Stage = iota
	StageConnected
	StageClosed
)

func (s Stage) String() string {
	switch s {
	case StageHandshake:
		return "handshake"
	case StageConnected:
		return "connected"
	case StageClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// CloseCause identifies why a session's event loop exited. Only the
// first cause sent on a session's close channel is honored.
type CloseCause int

const (
	CauseNormal CloseCause = iota
	CauseServer
	CauseTimeoutClient
	CauseTimeoutServer
	CauseError
	CauseUnknown
)

func (c CloseCause) String() string {
	switch c {
	case CauseNormal:
		return "normal"
	case CauseServer:
		return "server"
	case CauseTimeoutClient:
		return "timeout_client"
	case CauseTimeoutServer:
		return "timeout_server"
	case CauseError:
		return "error"
	case CauseUnknown:
		return "unknown"
	default:
		return "unrecognized"
	}
}

// inactivityTimeout is how long the event loop waits for a datagram
// from the backend server before exiting with CauseTimeoutServer.
const inactivityTimeout = 10 * time.Second

// Session pairs one player address with a dedicated outbound socket to
// one backend server. Its event loop runs on its own goroutine,
// started by Run.
type Session struct {
	log *zap.SugaredLogger

	playerAddr netip.AddrPort
	server     *backend.Server
	listen     *net.UDPConn
	outbound   *net.UDPConn

	closeCh   chan CloseCause
	closeGate chan struct{}

	mu    sync.Mutex
	stage Stage

	onTeardown func()
}

// New dials a fresh outbound socket bound to proxyBind and connected
// to server's address, in Handshake stage. If server's proxy-protocol
// flag is set, it sends exactly one PROXY v2 preamble on this socket
// before Run is ever called, per §4.9.
func New(playerAddr netip.AddrPort, server *backend.Server, listen *net.UDPConn,
	listenAddr, proxyBind netip.AddrPort, onTeardown func(), log *zap.SugaredLogger) (*Session, error) {

	s, err := newSession(StageHandshake, playerAddr, server, listen, proxyBind, onTeardown, log)
	if err != nil {
		return nil, err
	}

	if server.ProxyProtocol() {
		preamble, perr := raknet.ProxyPreamble(playerAddr, listenAddr, false)
		if perr != nil {
			log.Warnw("failed to build proxy-protocol preamble", "error", perr)
		} else if _, werr := s.outbound.Write(preamble); werr != nil {
			log.Warnw("failed to send proxy-protocol preamble", "server", server.ID(), "error", werr)
		}
	}
	return s, nil
}

// Restore creates a session already in Connected stage, bound to a
// specific previously-used outbound local address. Used by snapshot
// recovery (§4.11), which skips the handshake entirely.
func Restore(playerAddr netip.AddrPort, server *backend.Server, listen *net.UDPConn,
	outboundLocal netip.AddrPort, onTeardown func(), log *zap.SugaredLogger) (*Session, error) {

	s, err := newSession(StageConnected, playerAddr, server, listen, outboundLocal, onTeardown, log)
	if err != nil {
		return nil, err
	}
	server.AddConnected(playerAddr)
	return s, nil
}

func newSession(stage Stage, playerAddr netip.AddrPort, server *backend.Server, listen *net.UDPConn,
	localBind netip.AddrPort, onTeardown func(), log *zap.SugaredLogger) (*Session, error) {

	outbound, err := net.DialUDP("udp", net.UDPAddrFromAddrPort(localBind), net.UDPAddrFromAddrPort(server.Address()))
	if err != nil {
		return nil, err
	}
	return &Session{
		log:        log,
		playerAddr: playerAddr,
		server:     server,
		listen:     listen,
		outbound:   outbound,
		closeCh:    make(chan CloseCause, 1),
		closeGate:  make(chan struct{}),
		stage:      stage,
		onTeardown: onTeardown,
	}, nil
}

// PlayerAddr returns the player's address.
func (s *Session) PlayerAddr() netip.AddrPort { return s.playerAddr }

// Server returns the backend server this session is bound to.
func (s *Session) Server() *backend.Server { return s.server }

// Stage returns the session's current lifecycle stage.
func (s *Session) Stage() Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stage
}

// OutboundLocalAddr returns the local address of the session's
// dedicated outbound socket, captured by the snapshot layer.
func (s *Session) OutboundLocalAddr() (netip.AddrPort, error) {
	return raknet.UDPAddrPort(s.outbound.LocalAddr().(*net.UDPAddr))
}

// Close sends cause on the close channel. Only the first call across
// the session's lifetime has any effect; later calls are dropped.
func (s *Session) Close(cause CloseCause) {
	select {
	case s.closeCh <- cause:
	default:
	}
}

// WaitClosed blocks until the session's teardown has completed. C10's
// re-handshake path uses this to guarantee the old session's table
// entry is gone before the new one is inserted.
func (s *Session) WaitClosed() {
	<-s.closeGate
}

type datagramMsg struct {
	data []byte
	err  error
}

// Run executes the event loop until a close cause is observed, the
// read side errors, or the server goes silent for 10 seconds. It
// blocks the calling goroutine; callers spawn it with `go`.
func (s *Session) Run() {
	readCh := make(chan datagramMsg, 1)
	stopReader := make(chan struct{})
	go s.readLoop(readCh, stopReader)
	defer close(stopReader)

	var cause CloseCause
loop:
	for {
		select {
		case cause = <-s.closeCh:
			break loop
		case msg := <-readCh:
			if msg.err != nil {
				if isTimeoutErr(msg.err) {
					cause = CauseTimeoutServer
				} else {
					cause = CauseError
				}
				break loop
			}
			s.handleServerToPlayer(msg.data)
		}
	}
	s.teardown(cause)
}

func (s *Session) readLoop(out chan<- datagramMsg, stop <-chan struct{}) {
	buf := make([]byte, 1492)
	for {
		if err := s.outbound.SetReadDeadline(time.Now().Add(inactivityTimeout)); err != nil {
			sendOrStop(out, datagramMsg{err: err}, stop)
			return
		}
		n, err := s.outbound.Read(buf)
		if err != nil {
			sendOrStop(out, datagramMsg{err: err}, stop)
			return
		}
		data := append([]byte(nil), buf[:n]...)
		if !sendOrStop(out, datagramMsg{data: data}, stop) {
			return
		}
	}
}

func sendOrStop(out chan<- datagramMsg, msg datagramMsg, stop <-chan struct{}) bool {
	select {
	case out <- msg:
		return true
	case <-stop:
		return false
	}
}

func isTimeoutErr(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// handleServerToPlayer is the server→player direction described in
// §4.9: empty datagrams drop, a 0x08 triggers the Connected
// transition, the datagram is forwarded verbatim, then spied on.
func (s *Session) handleServerToPlayer(data []byte) {
	if len(data) == 0 {
		return
	}
	if data[0] == raknet.IDOpenConnectionReply2 {
		s.transitionConnected()
	}
	if _, err := s.listen.WriteToUDPAddrPort(data, s.playerAddr); err != nil {
		s.log.Warnw("forward to player failed", "player", s.playerAddr, "error", err)
	}
	if spyDisconnect(data) {
		s.Close(CauseServer)
	}
}

// HandlePlayerToServer is the player→server direction, dispatched by
// the front-end for every datagram it attributes to this session.
func (s *Session) HandlePlayerToServer(data []byte) {
	if len(data) == 0 {
		return
	}
	if data[0]&0x80 == 0 {
		// Offline/control byte, not a datagram frame: forward as-is,
		// no spy (invalid-but-forwarded, §4.9).
		if _, err := s.outbound.Write(data); err != nil {
			s.log.Warnw("forward to server failed", "server", s.server.ID(), "error", err)
		}
		return
	}
	if _, err := s.outbound.Write(data); err != nil {
		s.log.Warnw("forward to server failed", "server", s.server.ID(), "error", err)
	}
	if spyDisconnect(data) {
		s.Close(CauseNormal)
	}
}

func (s *Session) transitionConnected() {
	s.mu.Lock()
	if s.stage != StageHandshake {
		s.mu.Unlock()
		return
	}
	s.stage = StageConnected
	s.mu.Unlock()

	s.log.Infow("session connected", "player", s.playerAddr, "server", s.server.ID())
	s.server.AddConnected(s.playerAddr)
}

// spyDisconnect implements the datagram spy: parse frames one at a
// time, skip fragmented or empty bodies, skip opaque game packets,
// and report a DisconnectNotification if one surfaces. Any parse
// error aborts the scan; the caller has already forwarded the
// datagram regardless.
func spyDisconnect(data []byte) bool {
	r := raknet.NewReader(data)
	if _, err := raknet.DecodeDatagramHeader(r); err != nil {
		return false
	}
	for r.Len() > 0 {
		frame, err := raknet.DecodeFrame(r)
		if err != nil {
			return false
		}
		if frame.Fragmented || len(frame.Body) == 0 {
			continue
		}
		switch frame.Body[0] {
		case raknet.IDGamePacketHeader:
			continue
		case raknet.IDDisconnectNotification:
			return true
		}
	}
	return false
}

// teardown runs the sequence from §4.9: remove from the owner's
// table, mark Closed, decrement the server's load score, drop the
// player from the server's connected set, close the outbound socket,
// release the close gate, and log if the session had reached Connected.
func (s *Session) teardown(cause CloseCause) {
	if s.onTeardown != nil {
		s.onTeardown()
	}

	s.mu.Lock()
	wasConnected := s.stage == StageConnected
	s.stage = StageClosed
	s.mu.Unlock()

	s.server.ModifyLoad(-1)
	s.server.RemoveConnected(s.playerAddr)
	s.outbound.Close()

	close(s.closeGate)

	if wasConnected {
		s.log.Infow("session closed", "player", s.playerAddr, "server", s.server.ID(), "cause", cause.String())
	}
}
