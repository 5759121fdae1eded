// Command mcbegate runs the RakNet reverse proxy: it binds the
// player-facing listen socket, starts the health/MOTD/scheduler
// collaborators, and serves console commands on standard input until a
// shutdown signal arrives.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "mcbegate",
		Short: "RakNet reverse proxy and load balancer for Minecraft: Bedrock Edition",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.configPath, "config", "c", "config.toml", "configuration file")
	flags.CountVarP(&opts.verbosity, "verbose", "v", "increase log verbosity (default info; -v debug; -vv debug with stack traces on warnings; there is no trace level)")
	flags.BoolVar(&opts.ignoreStdin, "ignore-stdin", false, "do not read console commands from standard input")
	flags.BoolVar(&opts.noColor, "no-color", false, "disable colored log level output")
	flags.BoolVar(&opts.raiseUlimit, "raise-ulimit", false, "raise the open-file descriptor limit to its hard ceiling")
	flags.StringVar(&opts.snapshotPath, "recovery-snapshot-file", ".trakt_recover", "path to the recovery snapshot written on graceful shutdown")

	return cmd
}

type options struct {
	configPath   string
	verbosity    int
	ignoreStdin  bool
	noColor      bool
	raiseUlimit  bool
	snapshotPath string
}
