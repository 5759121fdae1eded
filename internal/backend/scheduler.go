package backend

import (
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"mcbegate/internal/config"
)

// Scheduler owns the MOTD-refresh and health-check tickers for one
// backend (§4.7). It is single-instance per backend; redundant Start
// calls while running are no-ops.
type Scheduler struct {
	log    *zap.SugaredLogger
	cfg    *config.Provider
	health *HealthController
	motd   *MOTDCache

	mu      sync.Mutex
	running atomic.Bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

// NewScheduler wires a scheduler to the components it dispatches.
func NewScheduler(cfg *config.Provider, health *HealthController, motd *MOTDCache, log *zap.SugaredLogger) *Scheduler {
	return &Scheduler{cfg: cfg, health: health, motd: motd, log: log}
}

// Start launches the tick loop.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running.Load() {
		return
	}
	s.running.Store(true)
	s.stop = make(chan struct{})
	s.wg.Add(1)
	go s.loop(s.stop)
}

// Stop ends the tick loop and waits for it to exit. Ticks already
// dispatched are not cancelled; they run to completion on their own.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running.Load() {
		s.mu.Unlock()
		return
	}
	stop := s.stop
	s.mu.Unlock()

	close(stop)
	s.wg.Wait()
	s.running.Store(false)
}

// Restart stops and starts again, so rates picked up from a config
// reload take effect.
func (s *Scheduler) Restart() {
	s.Stop()
	s.Start()
}

func (s *Scheduler) loop(stop chan struct{}) {
	defer s.wg.Done()

	cur := s.cfg.Current()
	healthTicker := time.NewTicker(time.Duration(config.RateSeconds(cur.HealthCheckRate)) * time.Second)
	motdTicker := time.NewTicker(time.Duration(config.RateSeconds(cur.MOTDRefreshRate)) * time.Second)
	defer healthTicker.Stop()
	defer motdTicker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-healthTicker.C:
			go s.health.Execute()
		case <-motdTicker.C:
			go s.motd.Update()
		}
	}
}
