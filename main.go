package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dtnitsch/wcmr/internal/common"
	"github.com/dtnitsch/wcmr/internal/jobs"
	"github.com/dtnitsch/wcmr/internal/run"
	"github.com/dtnitsch/wcmr/pkg/help"
	"github.com/urfave/cli/v2"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	commands := []*cli.Command{run.Command()}
	commands = append(commands, jobs.Commands()...)
	commands = append(commands, &cli.Command{
		Name:  "coldstart",
		Usage: "Print a quick-start guide in YAML",
		Action: func(c *cli.Context) error {
			fmt.Fprint(c.App.Writer, help.ColdstartYAML)
			return nil
		},
	})

	app := &cli.App{
		Name:                 "wcmr",
		Usage:                "Local map/reduce word counting over files, directories and URLs",
		Flags:                common.GlobalFlags(),
		Commands:             commands,
		OnUsageError:         common.OnUsageError,
		EnableBashCompletion: true,
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(common.ExitFailure)
	}
}
