package backend

import (
	"crypto/rand"
	"encoding/binary"
	"net/netip"
	"sync"
	"weak"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mcbegate/internal/config"
)

// LoadResult summarizes one Reload pass (§4.8).
type LoadResult struct {
	ServerCount  int
	NewCount     int
	RemovedCount int
	IsReload     bool
}

// Backend is one named fleet of servers, its active-record map, its
// weak known-record map used for stale-reference recovery, and the
// load balancer choosing among the active set.
type Backend struct {
	log *zap.SugaredLogger

	mu           sync.RWMutex
	id           string
	serverUUID   uint64
	servers      map[netip.AddrPort]*Server
	knownServers map[netip.AddrPort]weak.Pointer[Server]
	balancer     *LoadBalancer
	loaded       bool
}

// New creates an empty backend. Reload must be called at least once
// before it serves traffic. The backend's pong server-uuid is chosen
// once here and held constant for the backend's lifetime (§4.10).
func New(id string, log *zap.SugaredLogger) *Backend {
	return &Backend{
		log:          log,
		id:           id,
		serverUUID:   randomUUID(),
		servers:      make(map[netip.AddrPort]*Server),
		knownServers: make(map[netip.AddrPort]weak.Pointer[Server]),
		balancer:     NewLoadBalancer(),
	}
}

func randomUUID() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0
	}
	return binary.BigEndian.Uint64(b[:])
}

// ID returns the backend's configured identifier.
func (b *Backend) ID() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.id
}

// ServerUUID returns the backend's constant pong identity.
func (b *Backend) ServerUUID() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.serverUUID
}

// Balancer returns the backend's load balancer. Policy changes happen
// in place (SetMethod), so callers need not re-fetch this after a
// Reload.
func (b *Backend) Balancer() *LoadBalancer { return b.balancer }

// Reload applies the diff described in §4.8: update existing records
// in place, create new ones with a fresh opaque ID, remove records no
// longer configured (but never from known_servers), and rebuild the
// load-balancer policy if it changed.
func (b *Backend) Reload(cfg config.Backend) LoadResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	wasLoaded := b.loaded
	b.loaded = true
	b.id = cfg.ID

	seen := make(map[netip.AddrPort]struct{}, len(cfg.Servers))
	newCount := 0
	for _, entry := range cfg.Servers {
		addr, err := netip.ParseAddrPort(entry.Address)
		if err != nil {
			b.log.Warnw("backend reload: skipping invalid server address", "address", entry.Address, "error", err)
			continue
		}
		if _, dup := seen[addr]; dup {
			b.log.Warnw("backend reload: skipping duplicate server address", "address", entry.Address)
			continue
		}
		seen[addr] = struct{}{}

		proxyProtocol := cfg.ProxyProtocol
		if entry.ProxyProtocol != nil {
			proxyProtocol = *entry.ProxyProtocol
		}

		if existing, ok := b.servers[addr]; ok {
			existing.SetProxyProtocol(proxyProtocol)
			continue
		}

		srv := NewServer(uuid.NewString(), addr, proxyProtocol)
		b.servers[addr] = srv
		b.knownServers[addr] = weak.Make(srv)
		newCount++
	}

	removedCount := 0
	for addr := range b.servers {
		if _, ok := seen[addr]; !ok {
			delete(b.servers, addr)
			removedCount++
		}
	}

	if method := Method(cfg.LoadBalanceMethod); method != b.balancer.Method() {
		b.balancer.SetMethod(method)
	}

	return LoadResult{
		ServerCount:  len(b.servers),
		NewCount:     newCount,
		RemovedCount: removedCount,
		IsReload:     wasLoaded,
	}
}

// Servers returns a snapshot slice of the active server set.
func (b *Backend) Servers() []*Server {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*Server, 0, len(b.servers))
	for _, s := range b.servers {
		out = append(out, s)
	}
	return out
}

// Lookup searches the active set only.
func (b *Backend) Lookup(addr netip.AddrPort) (*Server, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.servers[addr]
	return s, ok
}

// KnownLookup searches the weak-reference set, used by snapshot
// recovery to re-adopt a record that Reload may have retired from the
// active set while a session still held it.
func (b *Backend) KnownLookup(addr netip.AddrPort) (*Server, bool) {
	b.mu.RLock()
	wp, ok := b.knownServers[addr]
	b.mu.RUnlock()
	if !ok {
		return nil, false
	}
	s := wp.Value()
	return s, s != nil
}

// KnownServers returns every known_servers entry whose weak reference
// still upgrades: the active set plus any server a live session still
// holds that Reload has since retired from policy. This is the set
// the health sweep probes (§4.5), not the active-only Servers().
func (b *Backend) KnownServers() []*Server {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*Server, 0, len(b.knownServers))
	for _, wp := range b.knownServers {
		if s := wp.Value(); s != nil {
			out = append(out, s)
		}
	}
	return out
}

// AdoptStale inserts a record into known_servers only, without making
// it reachable from the active set or the balancer. Used by snapshot
// recovery (§4.11) when a recovered session's server is no longer
// configured.
func (b *Backend) AdoptStale(addr netip.AddrPort, proxyProtocol bool) *Server {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.knownServers[addr]; ok {
		if live := s.Value(); live != nil {
			return live
		}
	}
	srv := NewServer(uuid.NewString(), addr, proxyProtocol)
	b.knownServers[addr] = weak.Make(srv)
	return srv
}

// PruneKnown drops known_servers entries whose weak reference no
// longer upgrades, i.e. every session that held them has exited.
func (b *Backend) PruneKnown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for addr, wp := range b.knownServers {
		if wp.Value() == nil {
			delete(b.knownServers, addr)
		}
	}
}
