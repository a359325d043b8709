package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd := &cli.Command{
		Name:  "indengine",
		Usage: "Compute configured technical indicators for every security and store them",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Service configuration `FILE` (YAML); environment variables override it",
				Sources: cli.EnvVars("INDENGINE_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "indicators",
				Aliases: []string{"i"},
				Usage:   "Indicator configuration `FILE` (JSON or YAML), overrides indicators_path",
			},
		},
		Commands: []*cli.Command{
			runCommand(),
			serveCommand(),
			validateCommand(),
			importCommand(),
			enqueueCommand(),
		},
	}

	if err := cmd.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "indengine:", err)
		os.Exit(1)
	}
}
