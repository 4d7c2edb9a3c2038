package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/Swind/go-axon/config"
)

func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Inspect configuration files",
		Subcommands: []*cli.Command{
			{
				Name:      "validate",
				Usage:     "Check a configuration file",
				ArgsUsage: "[file]",
				Action:    ConfigValidateAction,
			},
			{
				Name:      "print",
				Usage:     "Print the effective configuration",
				ArgsUsage: "[file]",
				Action:    ConfigPrintAction,
			},
		},
	}
}

func ConfigValidateAction(c *cli.Context) error {
	path := configPath(c)
	if path == "" {
		return cli.Exit("no configuration file given", 2)
	}
	if _, err := config.Load(path); err != nil {
		return cli.Exit(fmt.Sprintf("Invalid: %v", err), 1)
	}
	fmt.Fprintf(c.App.Writer, "%s: ok\n", path)
	return nil
}

func ConfigPrintAction(c *cli.Context) error {
	cfg, err := loadConfig(configPath(c))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	out, err := cfg.Marshal()
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed: %v", err), 1)
	}
	_, err = c.App.Writer.Write(out)
	return err
}

// configPath prefers a positional argument over the global --config flag.
func configPath(c *cli.Context) string {
	if c.Args().Len() > 0 {
		return c.Args().First()
	}
	return c.String("config")
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}
