package config

import (
	"fmt"
	"net/netip"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// ServerEntry is one `[[backend.servers]]` table.
type ServerEntry struct {
	Address       string `toml:"address" json:"address"`
	ProxyProtocol *bool  `toml:"proxy_protocol" json:"proxy_protocol,omitempty"`
}

// MOTDSource is the optional `[backend.motd_source]` table. A proxy
// with no configured source falls back to probing its own servers.
type MOTDSource struct {
	Address       string `toml:"address" json:"address"`
	ProxyProtocol bool   `toml:"proxy_protocol" json:"proxy_protocol"`
}

// Backend is the `[backend]` table.
type Backend struct {
	ID                string        `toml:"id" json:"id"`
	LoadBalanceMethod string        `toml:"load_balance_method" json:"load_balance_method"`
	ProxyProtocol     bool          `toml:"proxy_protocol" json:"proxy_protocol"`
	MOTDSource        *MOTDSource   `toml:"motd_source" json:"motd_source,omitempty"`
	Servers           []ServerEntry `toml:"servers" json:"servers"`
}

// Config is the full decoded document (§6). Also serialized verbatim
// into the recovery snapshot (§4.11), hence the json tags alongside
// the toml ones.
type Config struct {
	BindAddress     string  `toml:"bind_address" json:"bind_address"`
	ProxyBind       string  `toml:"proxy_bind" json:"proxy_bind"`
	HealthCheckRate int     `toml:"health_check_rate" json:"health_check_rate"`
	MOTDRefreshRate int     `toml:"motd_refresh_rate" json:"motd_refresh_rate"`
	Backend         Backend `toml:"backend" json:"backend"`
}

// Default fills in the zero-value defaults named in §6: round_robin,
// proxy_protocol on, no MOTD source override. Rates are left at zero
// here; callers clamp to one second at the point of use.
func Default() Config {
	return Config{
		BindAddress: "0.0.0.0:19132",
		ProxyBind:   "0.0.0.0:0",
		Backend: Backend{
			ID:                "default",
			LoadBalanceMethod: "round_robin",
			ProxyProtocol:     true,
		},
	}
}

// Clone returns a deep-enough copy safe for a caller to mutate without
// affecting the value the provider holds.
func (c Config) Clone() Config {
	out := c
	if c.Backend.MOTDSource != nil {
		src := *c.Backend.MOTDSource
		out.Backend.MOTDSource = &src
	}
	out.Backend.Servers = append([]ServerEntry(nil), c.Backend.Servers...)
	return out
}

// RateSeconds clamps a configured rate to a minimum of one second,
// per §6's "rates default to zero which are clamped to 1 second".
func RateSeconds(configured int) int {
	if configured < 1 {
		return 1
	}
	return configured
}

// Load reads and decodes the TOML file at path, applying defaults for
// anything the document omits, then validates the result.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, &ConfigError{Op: "read", Err: err}
	}

	cfg := Default()
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, &ConfigError{Op: "parse", Err: err}
	}
	if cfg.Backend.LoadBalanceMethod == "" {
		cfg.Backend.LoadBalanceMethod = "round_robin"
	}
	if err := Validate(cfg); err != nil {
		return Config{}, &ConfigError{Op: "validate", Err: err}
	}
	return cfg, nil
}

// Validate checks the constraints owned by the config layer itself:
// parseable listen/outbound addresses, a recognized balance method,
// a parseable MOTD source. Per-server address validity and duplicate
// detection is the backend reload diff's job (§4.8), which skips and
// logs rather than rejecting the whole document.
func Validate(cfg Config) error {
	if _, err := netip.ParseAddrPort(cfg.BindAddress); err != nil {
		return fmt.Errorf("%w: bind_address %q: %v", ErrValidation, cfg.BindAddress, err)
	}
	if _, err := netip.ParseAddrPort(cfg.ProxyBind); err != nil {
		return fmt.Errorf("%w: proxy_bind %q: %v", ErrValidation, cfg.ProxyBind, err)
	}
	switch cfg.Backend.LoadBalanceMethod {
	case "round_robin", "least_connected":
	default:
		return fmt.Errorf("%w: unknown load_balance_method %q", ErrValidation, cfg.Backend.LoadBalanceMethod)
	}
	if cfg.Backend.MOTDSource != nil {
		if _, err := netip.ParseAddrPort(cfg.Backend.MOTDSource.Address); err != nil {
			return fmt.Errorf("%w: motd_source.address %q: %v", ErrValidation, cfg.Backend.MOTDSource.Address, err)
		}
	}
	return nil
}
