// Package backend implements the server registry, alive-aware load
// balancer, health controller, and MOTD cache that together form the
// proxy's view of its backend fleet.
package backend

import "errors"

// ErrNoServerAvailable is PolicyError's sentinel: the load balancer had
// nothing to hand back, either because the backend has no servers or
// because every candidate was filtered by the alive rule.
var ErrNoServerAvailable = errors.New("backend: no server available")

// PolicyError reports a load-balancing decision that could not be
// satisfied. It is never fatal: callers drop the triggering datagram
// and log a warning (§7).
type PolicyError struct {
	Err error
}

func (e *PolicyError) Error() string { return "backend policy: " + e.Err.Error() }
func (e *PolicyError) Unwrap() error { return e.Err }
