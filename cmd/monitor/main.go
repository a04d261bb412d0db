// Command monitor observes the public mempool across a quorum of execution
// nodes, classifies each beacon block's non-included transactions, persists
// the results, and serves them over a read-only query API.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/ethcensor/monitor/internal/config"
)

const clientIdentifier = "monitor"

var configFlag = &cli.StringFlag{
	Name:  "config",
	Usage: "path to a TOML configuration file",
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	return config.Load(c.String("config"))
}

func main() {
	app := &cli.App{
		Name:  clientIdentifier,
		Usage: "monitor the public mempool for censored transactions",
		Flags: []cli.Flag{configFlag},
		Commands: []*cli.Command{
			runCommand,
			truncateDBCommand,
			checkCommand,
			compareProvidersCommand,
			checkGasCommand,
			apiCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
