// Package session implements the per-player connection state machine:
// a Handshake/Connected/Closed lifecycle paired with a dedicated
// outbound socket to one backend server (§4.9).
package session

import "errors"

// ErrDuplicateSession is StateError's sentinel for an attempt to
// insert a session at a player address that already has one in the
// client table.
var ErrDuplicateSession = errors.New("session: duplicate session for address")

// StateError reports an invalid session-lifecycle operation.
type StateError struct {
	Err error
}

func (e *StateError) Error() string { return "session state: " + e.Err.Error() }
func (e *StateError) Unwrap() error { return e.Err }
