package backend

import (
	"net/netip"
	"sync"
)

// aliveStrikeLimit is the number of consecutive failed probes that
// drives a server from alive to un-alive (§4.5's hysteresis).
const aliveStrikeLimit = 3

// Server is one backend entry: an address, its proxy-protocol override,
// and the health/load state the rest of the proxy reads. Health fields
// are mutated only by the health controller (C5); load score is
// mutated only through ModifyLoad.
type Server struct {
	mu sync.Mutex

	id            string
	addr          netip.AddrPort
	proxyProtocol bool

	alive          bool
	everAlive      bool
	failedAttempts int

	loadScore int64
	connected map[netip.AddrPort]struct{}
}

// NewServer creates a server record in its initial not-alive,
// zero-load state. Servers only become alive after a confirmed probe.
func NewServer(id string, addr netip.AddrPort, proxyProtocol bool) *Server {
	return &Server{
		id:            id,
		addr:          addr,
		proxyProtocol: proxyProtocol,
		connected:     make(map[netip.AddrPort]struct{}),
	}
}

func (s *Server) ID() string              { return s.id }
func (s *Server) Address() netip.AddrPort { return s.addr }

func (s *Server) ProxyProtocol() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proxyProtocol
}

// SetProxyProtocol updates the per-server override, used by C8's reload
// diff when an existing record's configured flag changes.
func (s *Server) SetProxyProtocol(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proxyProtocol = v
}

// ModifyLoad saturatingly adjusts the load score. It is the only
// sanctioned mutator of load score (§4.3).
func (s *Server) ModifyLoad(delta int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.loadScore + delta
	if delta > 0 && next < s.loadScore {
		next = int64(^uint64(0) >> 1) // saturate at max int64
	}
	if next < 0 {
		next = 0
	}
	s.loadScore = next
}

// LoadScore returns the current load score.
func (s *Server) LoadScore() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadScore
}

// Alive reports the current alive flag, set only by RecordProbeResult.
func (s *Server) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alive
}

// FailedAttempts returns the current consecutive-failure count.
func (s *Server) FailedAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failedAttempts
}

// RecordProbeResult applies the hysteresis rule from §4.5: a server
// only becomes alive after a confirmed probe, and only becomes
// un-alive after three consecutive failures. It returns true if the
// alive flag changed, so the caller can log a single edge-triggered
// state-change line.
func (s *Server) RecordProbeResult(success bool) (changed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := s.alive
	if success {
		s.failedAttempts = 0
		s.alive = true
		s.everAlive = true
	} else {
		s.failedAttempts++
		s.alive = s.everAlive && s.failedAttempts < aliveStrikeLimit
	}
	return before != s.alive
}

// AddConnected records that addr is now served by this backend.
func (s *Server) AddConnected(addr netip.AddrPort) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected[addr] = struct{}{}
}

// RemoveConnected removes addr from the connected set.
func (s *Server) RemoveConnected(addr netip.AddrPort) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.connected, addr)
}

// IsConnected reports whether addr is in the connected set.
func (s *Server) IsConnected(addr netip.AddrPort) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.connected[addr]
	return ok
}

// ConnectedCount returns the number of players currently attributed to
// this server, used by the inspection API.
func (s *Server) ConnectedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.connected)
}
