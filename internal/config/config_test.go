package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mcbegate/internal/logger"
)

func nopLogger() *zap.SugaredLogger { return logger.Nop() }

func writeTemp(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeTemp(t, `
bind_address = "0.0.0.0:19132"
proxy_bind = "0.0.0.0:0"
[backend]
id = "default"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "round_robin", cfg.Backend.LoadBalanceMethod)
	require.Equal(t, 1, RateSeconds(cfg.HealthCheckRate))
	require.Equal(t, 1, RateSeconds(cfg.MOTDRefreshRate))
}

func TestLoad_FullDocument(t *testing.T) {
	path := writeTemp(t, `
bind_address = "0.0.0.0:19132"
proxy_bind = "0.0.0.0:0"
health_check_rate = 10
motd_refresh_rate = 5
[backend]
id = "default"
load_balance_method = "least_connected"
proxy_protocol = true

[backend.motd_source]
address = "1.2.3.4:19132"
proxy_protocol = false

[[backend.servers]]
address = "10.0.0.1:19132"
proxy_protocol = true

[[backend.servers]]
address = "10.0.0.2:19132"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "least_connected", cfg.Backend.LoadBalanceMethod)
	require.NotNil(t, cfg.Backend.MOTDSource)
	require.Equal(t, "1.2.3.4:19132", cfg.Backend.MOTDSource.Address)
	require.Len(t, cfg.Backend.Servers, 2)
	require.Equal(t, "10.0.0.1:19132", cfg.Backend.Servers[0].Address)
	require.NotNil(t, cfg.Backend.Servers[0].ProxyProtocol)
	require.True(t, *cfg.Backend.Servers[0].ProxyProtocol)
	require.Nil(t, cfg.Backend.Servers[1].ProxyProtocol)
}

func TestLoad_BadAddressIsFatal(t *testing.T) {
	path := writeTemp(t, `
bind_address = "not-an-address"
[backend]
id = "default"
`)
	_, err := Load(path)
	require.Error(t, err)
	var cerr *ConfigError
	require.ErrorAs(t, err, &cerr)
}

func TestLoad_UnknownMethodIsFatal(t *testing.T) {
	path := writeTemp(t, `
bind_address = "0.0.0.0:19132"
proxy_bind = "0.0.0.0:0"
[backend]
id = "default"
load_balance_method = "random"
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

func TestProvider_ReloadWakesWaiters(t *testing.T) {
	p := NewProvider(Default(), nopLogger())

	got := make(chan Config, 1)
	go func() { got <- p.OnReload() }()

	time.Sleep(10 * time.Millisecond) // let the waiter subscribe first
	next := Default()
	next.Backend.ID = "updated"
	p.Reload(next)

	select {
	case cfg := <-got:
		require.Equal(t, "updated", cfg.Backend.ID)
	case <-time.After(time.Second):
		t.Fatal("OnReload did not wake within timeout")
	}
	require.Equal(t, "updated", p.Current().Backend.ID)
}

func TestProvider_CloneIsIndependent(t *testing.T) {
	p := NewProvider(Default(), nopLogger())
	got := p.Current()
	got.Backend.Servers = append(got.Backend.Servers, ServerEntry{Address: "10.0.0.1:1"})
	require.Len(t, p.Current().Backend.Servers, 0)
}
