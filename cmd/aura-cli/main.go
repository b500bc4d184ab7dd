// aura-cli is a local inspection tool for an authority's on-disk state.
// It opens the same storage backend an aurad process would and talks to
// Authority's Go API directly: no RPC transport is defined for Aura, so
// unlike the teacher's lncli (a gRPC client of a running lnd), this tool
// only operates against a stopped authority's data directory.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"
)

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[aura-cli] %v\n", err)
	os.Exit(1)
}

func main() {
	app := cli.NewApp()
	app.Name = "aura-cli"
	app.Usage = "inspect an Aura authority's on-disk state"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "datadir",
			Value: ".aura",
			Usage: "authority data directory (must not be in use by a running aurad)",
		},
		cli.StringFlag{
			Name:  "backend",
			Value: "bolt",
			Usage: "storage backend: memory or bolt (etcd and postgres are rejected)",
		},
	}
	app.Commands = []cli.Command{
		statusCommand,
		permissionsCommand,
		setPermissionCommand,
		channelsCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fatal(err)
	}
}
