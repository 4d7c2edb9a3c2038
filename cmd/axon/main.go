// Command axon runs a demo pipeline on the cooperative runtime and manages
// its configuration files.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "axon",
		Usage: "cooperative message-passing runtime",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to a YAML configuration file",
				EnvVars: []string{"AXON_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			RunCommand(),
			ConfigCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
