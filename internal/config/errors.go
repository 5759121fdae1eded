// Package config decodes the proxy's TOML configuration file and
// publishes it to the rest of the process with reload support.
package config

import "errors"

// ErrValidation is ConfigError's sentinel for a structurally valid
// document that fails semantic checks (bad address, bad method name).
var ErrValidation = errors.New("config: validation failed")

// ConfigError reports a read, parse, or validation failure. Per the
// reload orchestrator's policy, a ConfigError during reload leaves the
// previous config in place; at startup it is fatal.
type ConfigError struct {
	Op  string
	Err error
}

func (e *ConfigError) Error() string { return "config " + e.Op + ": " + e.Err.Error() }
func (e *ConfigError) Unwrap() error { return e.Err }
