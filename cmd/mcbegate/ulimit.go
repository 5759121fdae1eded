package main

import (
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// raiseFileLimit raises RLIMIT_NOFILE's soft limit to its hard
// ceiling. A proxy fronting many player sessions opens one outbound
// UDP socket per session in addition to its single listen socket, so
// the default per-process descriptor limit is easy to exhaust under
// load.
func raiseFileLimit(log *zap.SugaredLogger) {
	var rlimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rlimit); err != nil {
		log.Warnw("raise-ulimit: failed to read current limit", "error", err)
		return
	}

	before := rlimit.Cur
	if rlimit.Cur >= rlimit.Max {
		log.Infow("raise-ulimit: already at ceiling", "limit", rlimit.Cur)
		return
	}

	rlimit.Cur = rlimit.Max
	if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &rlimit); err != nil {
		log.Warnw("raise-ulimit: failed to raise limit", "error", err, "requested", rlimit.Max)
		return
	}
	log.Infow("raise-ulimit: raised open-file limit", "before", before, "after", rlimit.Cur)
}
