// Package reload implements the orchestration sequence an operator
// signal or console command triggers: re-parse the configuration file,
// publish it, and apply the parts of it that aren't already live
// through the config provider's broadcast (§4.13).
package reload

import (
	"go.uber.org/zap"

	"mcbegate/internal/backend"
	"mcbegate/internal/config"
)

// Orchestrator re-parses the config file at path and drives the
// reload sequence described in §4.13 through the provider, backend,
// and scheduler it was wired to at startup.
type Orchestrator struct {
	path      string
	provider  *config.Provider
	backend   *backend.Backend
	scheduler *backend.Scheduler
	log       *zap.SugaredLogger
}

// New wires an orchestrator to the live components a reload touches.
func New(path string, provider *config.Provider, b *backend.Backend, scheduler *backend.Scheduler, log *zap.SugaredLogger) *Orchestrator {
	return &Orchestrator{path: path, provider: provider, backend: b, scheduler: scheduler, log: log}
}

// Reload runs one full reload pass. A failure to re-parse the file
// logs and aborts, leaving the previous configuration in place; it is
// reported to the operator but never fatal, unlike a ConfigError at
// startup. Active sessions are never touched: the backend's reload
// diff only updates the server registry and the balancer policy, and
// a server a session still holds a strong reference to stays reachable
// even if the new config no longer lists it.
func (o *Orchestrator) Reload() error {
	next, err := config.Load(o.path)
	if err != nil {
		o.log.Warnw("reload: failed to re-parse config, keeping previous configuration", "path", o.path, "error", err)
		return err
	}

	o.provider.Reload(next)

	result := o.backend.Reload(next.Backend)
	o.scheduler.Restart()

	o.log.Infow("reload complete",
		"servers", result.ServerCount, "new", result.NewCount, "removed", result.RemovedCount)
	return nil
}
