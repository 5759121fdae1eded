// Package snapshot serializes live session identities to disk so a
// restarted proxy can reclaim them within a short grace period (§4.11).
package snapshot

import (
	"encoding/json"
	"errors"
	"net"
	"net/netip"
	"os"
	"time"

	"go.uber.org/zap"

	"mcbegate/internal/backend"
	"mcbegate/internal/config"
	"mcbegate/internal/frontend"
	"mcbegate/internal/session"
)

// expiryWindow bounds how stale a snapshot may be before recovery
// refuses to use it; past this, a client's own RakNet keepalive would
// already have torn the connection down on its end (§4.11).
const expiryWindow = 10 * time.Second

// ClientRecord is one recovered session's identity.
type ClientRecord struct {
	Addr                string `json:"addr"`
	ServerAddr          string `json:"server_addr"`
	ServerProxyProtocol *bool  `json:"server_proxy_protocol,omitempty"`
	ProxyServerBind     string `json:"proxy_server_bind"`
}

// Snapshot is the full self-describing recovery document (§4.11,
// §6). ListenAddr is the player-facing listen socket's local
// address string, named to match the on-disk schema.
type Snapshot struct {
	TakenAt    time.Time      `json:"taken_at"`
	Config     config.Config  `json:"config"`
	ListenAddr string         `json:"player_proxy_bind"`
	Clients    []ClientRecord `json:"clients"`
}

// Take captures the configuration and every Connected session the
// front-end currently holds. Handshake and Closed sessions are
// excluded; they are not recoverable.
func Take(now time.Time, cfg config.Config, f *frontend.Frontend) Snapshot {
	sessions := f.Sessions()
	clients := make([]ClientRecord, 0, len(sessions))
	for _, s := range sessions {
		if s.Stage() != session.StageConnected {
			continue
		}
		outboundLocal, err := s.OutboundLocalAddr()
		if err != nil {
			continue
		}
		proxyProtocol := s.Server().ProxyProtocol()
		clients = append(clients, ClientRecord{
			Addr:                s.PlayerAddr().String(),
			ServerAddr:          s.Server().Address().String(),
			ServerProxyProtocol: &proxyProtocol,
			ProxyServerBind:     outboundLocal.String(),
		})
	}
	return Snapshot{
		TakenAt:    now,
		Config:     cfg,
		ListenAddr: f.ListenAddr().String(),
		Clients:    clients,
	}
}

// Write persists snap as JSON at path.
func Write(path string, snap Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return &SnapshotError{Op: "write", Err: err}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return &SnapshotError{Op: "write", Err: err}
	}
	return nil
}

// Read loads and parses a snapshot file. A missing file is reported
// through the same read error; callers treat SnapshotError on read as
// non-fatal and start fresh.
func Read(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, &SnapshotError{Op: "read", Err: err}
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, &SnapshotError{Op: "parse", Err: err}
	}
	return snap, nil
}

// Expired reports whether snap is too old to recover, or whether the
// elapsed time cannot be computed at all (the system clock moved
// backwards since it was taken).
func Expired(snap Snapshot, now time.Time) bool {
	if now.Before(snap.TakenAt) {
		return true
	}
	return now.Sub(snap.TakenAt) > expiryWindow
}

// Recover reinstalls every client record in snap into f's table, each
// bound to its recorded outbound local address in Connected stage. A
// record whose addresses fail to parse, or whose outbound socket fails
// to bind, is skipped with a warning; recovery continues with the rest.
// Recover owns the load-score increment for every session it installs,
// mirroring the front-end's ownership of that bookkeeping on the
// handshake path.
func Recover(snap Snapshot, now time.Time, listen *net.UDPConn, b *backend.Backend, f *frontend.Frontend, log *zap.SugaredLogger) (int, error) {
	if Expired(snap, now) {
		return 0, &SnapshotError{Op: "expiry", Err: errors.New("snapshot older than the recovery window")}
	}

	recovered := 0
	for _, rec := range snap.Clients {
		playerAddr, err := netip.ParseAddrPort(rec.Addr)
		if err != nil {
			log.Warnw("snapshot recovery: skipping record with unparseable player address", "addr", rec.Addr, "error", err)
			continue
		}
		serverAddr, err := netip.ParseAddrPort(rec.ServerAddr)
		if err != nil {
			log.Warnw("snapshot recovery: skipping record with unparseable server address", "server_addr", rec.ServerAddr, "error", err)
			continue
		}
		outboundLocal, err := netip.ParseAddrPort(rec.ProxyServerBind)
		if err != nil {
			log.Warnw("snapshot recovery: skipping record with unparseable outbound bind", "proxy_server_bind", rec.ProxyServerBind, "error", err)
			continue
		}

		srv, ok := b.Lookup(serverAddr)
		if !ok {
			proxyProtocol := false
			if rec.ServerProxyProtocol != nil {
				proxyProtocol = *rec.ServerProxyProtocol
			}
			srv = b.AdoptStale(serverAddr, proxyProtocol)
		}

		sess, err := session.Restore(playerAddr, srv, listen, outboundLocal, f.TeardownFunc(playerAddr), log)
		if err != nil {
			log.Warnw("snapshot recovery: failed to bind recovered session's outbound socket", "player", playerAddr, "error", err)
			continue
		}

		f.AdoptRecovered(playerAddr, sess)
		srv.ModifyLoad(1)
		recovered++
	}
	return recovered, nil
}
