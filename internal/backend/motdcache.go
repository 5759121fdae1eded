package backend

import (
	"net/netip"
	"sync"
	"time"

	"github.com/gammazero/deque"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"mcbegate/internal/config"
	"mcbegate/internal/prober"
	"mcbegate/internal/raknet"
)

const motdProbeDeadline = 5 * time.Second

type motdSource struct {
	address       netip.AddrPort
	proxyProtocol bool
}

// MOTDCache holds the most recently probed MOTD for a backend, falling
// back to probing every backend server when no dedicated source is
// configured (§4.6).
type MOTDCache struct {
	log     *zap.SugaredLogger
	backend *Backend
	cfg     *config.Provider
	group   singleflight.Group

	mu   sync.Mutex
	last *raknet.MOTD
}

// NewMOTDCache wires a cache to the backend and config provider it
// reads sources from.
func NewMOTDCache(backend *Backend, cfg *config.Provider, log *zap.SugaredLogger) *MOTDCache {
	return &MOTDCache{backend: backend, cfg: cfg, log: log}
}

// Update runs one refresh cycle, serialized the same way Execute is.
func (c *MOTDCache) Update() {
	_, _, _ = c.group.Do("update", func() (interface{}, error) {
		c.run()
		return nil, nil
	})
}

func (c *MOTDCache) run() {
	cur := c.cfg.Current()

	localBind, err := netip.ParseAddrPort(cur.ProxyBind)
	if err != nil {
		c.log.Warnw("motd refresh: invalid proxy_bind, skipping", "error", err)
		return
	}

	sources := deque.New[motdSource]()
	if src := cur.Backend.MOTDSource; src != nil {
		addr, err := netip.ParseAddrPort(src.Address)
		if err != nil {
			c.log.Warnw("motd refresh: invalid motd_source address, skipping", "error", err)
		} else {
			sources.PushBack(motdSource{address: addr, proxyProtocol: src.ProxyProtocol})
		}
	} else {
		for _, srv := range c.backend.Servers() {
			sources.PushBack(motdSource{address: srv.Address(), proxyProtocol: srv.ProxyProtocol()})
		}
	}

	// Iterate in order; the last successful source wins, per §4.6.
	for sources.Len() > 0 {
		src := sources.PopFront()
		motd, perr := prober.Ping(localBind, src.address, src.proxyProtocol, motdProbeDeadline)
		if perr != nil {
			c.log.Debugw("motd probe failed", "address", src.address, "error", perr)
			continue
		}
		c.mu.Lock()
		clone := motd
		c.last = &clone
		c.mu.Unlock()
	}
}

// Last returns a clone of the cached MOTD, or nil if no probe has
// ever succeeded.
func (c *MOTDCache) Last() *raknet.MOTD {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return nil
	}
	clone := *c.last
	return &clone
}
