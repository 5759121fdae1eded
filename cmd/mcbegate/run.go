package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"mcbegate/internal/api"
	"mcbegate/internal/backend"
	"mcbegate/internal/config"
	"mcbegate/internal/frontend"
	"mcbegate/internal/logger"
	"mcbegate/internal/reload"
	"mcbegate/internal/snapshot"
)

// inspectionBind is the inspection API's fixed listen address. It is
// loopback-only since spec.md §1 treats the HTTP surface as an
// operator collaborator, not a service exposed to players.
const inspectionBind = "127.0.0.1:8080"

func run(ctx context.Context, opts options) error {
	log := logger.New(opts.verbosity, opts.noColor)
	defer log.Sync()

	if opts.raiseUlimit {
		raiseFileLimit(log)
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("load configuration %s: %w", opts.configPath, err)
	}
	provider := config.NewProvider(cfg, log)

	b := backend.New(cfg.Backend.ID, log)
	b.Reload(cfg.Backend)

	health := backend.NewHealthController(b, provider, log)
	motd := backend.NewMOTDCache(b, provider, log)
	scheduler := backend.NewScheduler(provider, health, motd, log)

	udpAddr, err := net.ResolveUDPAddr("udp", cfg.BindAddress)
	if err != nil {
		return fmt.Errorf("resolve bind address %s: %w", cfg.BindAddress, err)
	}
	listen, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("bind listen socket %s: %w", cfg.BindAddress, err)
	}
	defer listen.Close()

	fe, err := frontend.New(listen, b, motd, provider, log)
	if err != nil {
		return fmt.Errorf("build front-end: %w", err)
	}

	if snap, ok := tryReadSnapshot(opts.snapshotPath, log); ok {
		n, err := snapshot.Recover(snap, time.Now(), listen, b, fe, log)
		if err != nil {
			log.Warnw("recovery snapshot present but refused", "path", opts.snapshotPath, "error", err)
		} else if n > 0 {
			log.Infow("recovered sessions from snapshot", "path", opts.snapshotPath, "count", n)
		}
		_ = os.Remove(opts.snapshotPath)
	}

	orch := reload.New(opts.configPath, provider, b, scheduler, log)

	scheduler.Start()
	defer scheduler.Stop()

	go fe.Run()

	inspect := api.New(b, orch, log)
	apiSrv := &http.Server{Addr: inspectionBind, Handler: inspect.Handler()}
	go func() {
		if err := apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warnw("inspection API server stopped", "error", err)
		}
	}()
	defer apiSrv.Close()

	log.Infow("proxy listening", "bind_address", cfg.BindAddress, "backend", cfg.Backend.ID, "api_bind", inspectionBind)

	if !opts.ignoreStdin {
		go runConsole(provider, b, fe, orch, opts.snapshotPath, log)
	}

	hupCh := make(chan os.Signal, 1)
	signal.Notify(hupCh, syscall.SIGHUP)
	go func() {
		for range hupCh {
			if err := orch.Reload(); err != nil {
				log.Warnw("SIGHUP reload failed", "error", err)
			}
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	return waitForShutdown(sigCh, provider, fe, opts.snapshotPath, log)
}

// waitForShutdown blocks until a shutdown signal arrives, writing a
// recovery snapshot on the first one and returning once it is written.
// A third signal received before then forces an immediate, non-graceful
// exit (spec.md §5's exit-code rule).
func waitForShutdown(sigCh chan os.Signal, provider *config.Provider, fe *frontend.Frontend, snapshotPath string, log *zap.SugaredLogger) error {
	count := 0
	for sig := range sigCh {
		count++
		if count == 1 {
			log.Infow("shutdown signal received, writing recovery snapshot", "signal", sig)
			go func() {
				writeSnapshot(provider, fe, snapshotPath, log)
				signal.Stop(sigCh)
				close(sigCh)
			}()
			continue
		}
		if count < 3 {
			log.Warnw("shutdown already in progress, signal again to force exit", "signal", sig, "signal_count", count)
			continue
		}
		log.Warnw("forced shutdown", "signal", sig, "signal_count", count)
		os.Exit(1)
	}
	return nil
}

func writeSnapshot(provider *config.Provider, fe *frontend.Frontend, path string, log *zap.SugaredLogger) {
	snap := snapshot.Take(time.Now(), provider.Current(), fe)
	if err := snapshot.Write(path, snap); err != nil {
		log.Warnw("failed to write recovery snapshot", "path", path, "error", err)
		return
	}
	log.Infow("wrote recovery snapshot", "path", path, "clients", len(snap.Clients))
}

func tryReadSnapshot(path string, log *zap.SugaredLogger) (snapshot.Snapshot, bool) {
	snap, err := snapshot.Read(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warnw("failed to read recovery snapshot", "path", path, "error", err)
		}
		return snapshot.Snapshot{}, false
	}
	if snapshot.Expired(snap, time.Now()) {
		log.Infow("recovery snapshot expired, starting fresh", "path", path)
		return snapshot.Snapshot{}, false
	}
	return snap, true
}
