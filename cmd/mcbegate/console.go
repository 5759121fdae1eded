package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"mcbegate/internal/backend"
	"mcbegate/internal/config"
	"mcbegate/internal/frontend"
	"mcbegate/internal/reload"
)

// runConsole dispatches line-oriented commands read from standard
// input until it closes (spec.md §5's console-command surface).
// Disabled entirely by --ignore-stdin.
func runConsole(provider *config.Provider, b *backend.Backend, fe *frontend.Frontend, orch *reload.Orchestrator, snapshotPath string, log *zap.SugaredLogger) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		switch strings.TrimSpace(scanner.Text()) {
		case "reload":
			if err := orch.Reload(); err != nil {
				log.Warnw("console reload failed", "error", err)
				continue
			}
			log.Infow("console reload complete")
		case "list", "load":
			printLoadOverview(b)
		case "recover-able-shutdown", "ras":
			writeSnapshot(provider, fe, snapshotPath, log)
		case "":
		default:
			fmt.Fprintf(os.Stdout, "unknown command %q (try: reload, list, recover-able-shutdown)\n", scanner.Text())
		}
	}
}

func printLoadOverview(b *backend.Backend) {
	for _, srv := range b.Servers() {
		fmt.Fprintf(os.Stdout, "%-24s alive=%-5t load=%-6d connected=%d\n",
			srv.Address(), srv.Alive(), srv.LoadScore(), srv.ConnectedCount())
	}
}
