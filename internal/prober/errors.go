package prober

import (
	"errors"
	"fmt"
)

// ErrTimeout is returned when a probe's deadline elapses without a
// usable reply.
var ErrTimeout = errors.New("prober: timed out waiting for reply")

// NetError reports a socket-level failure: bind, dial, send, or
// receive. Timeout is reported as a NetError wrapping ErrTimeout so
// callers can still errors.Is(err, ErrTimeout).
type NetError struct {
	Op  string
	Err error
}

func (e *NetError) Error() string {
	return fmt.Sprintf("prober net: %s: %v", e.Op, e.Err)
}

func (e *NetError) Unwrap() error { return e.Err }

func netErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &NetError{Op: op, Err: err}
}
