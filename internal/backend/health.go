package backend

import (
	"net/netip"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"mcbegate/internal/config"
	"mcbegate/internal/prober"
)

const healthProbeDeadline = 5 * time.Second

// HealthController runs the offline prober against every backend
// server on a schedule and applies the alive hysteresis (§4.5).
type HealthController struct {
	log     *zap.SugaredLogger
	backend *Backend
	cfg     *config.Provider
	group   singleflight.Group
}

// NewHealthController wires a controller to the backend it probes and
// the config provider it reads the outbound bind address from.
func NewHealthController(backend *Backend, cfg *config.Provider, log *zap.SugaredLogger) *HealthController {
	return &HealthController{backend: backend, cfg: cfg, log: log}
}

// Execute runs one sweep. Concurrent calls collapse onto whichever
// sweep is already in flight rather than queuing (§4.5's one-permit
// gate); the caller observes the in-flight sweep's completion, not a
// fresh one of its own.
func (h *HealthController) Execute() {
	_, _, _ = h.group.Do("execute", func() (interface{}, error) {
		h.run()
		return nil, nil
	})
}

// run drops dead known_servers references, then probes every server
// that remains: the active set plus any stale server a live session
// still holds a strong reference to (§4.5). A server retired from
// policy by a reload keeps getting probed as long as something still
// references it, so its alive/failed_attempts state doesn't freeze.
func (h *HealthController) run() {
	h.backend.PruneKnown()

	localBind, err := netip.ParseAddrPort(h.cfg.Current().ProxyBind)
	if err != nil {
		h.log.Warnw("health sweep: invalid proxy_bind, skipping", "error", err)
		return
	}

	servers := h.backend.KnownServers()
	var wg sync.WaitGroup
	wg.Add(len(servers))
	for _, srv := range servers {
		srv := srv
		go func() {
			defer wg.Done()
			_, perr := prober.Ping(localBind, srv.Address(), srv.ProxyProtocol(), healthProbeDeadline)
			if changed := srv.RecordProbeResult(perr == nil); changed {
				h.log.Infow("backend server health changed",
					"server", srv.ID(), "address", srv.Address(), "alive", srv.Alive())
			}
		}()
	}
	wg.Wait()
}
