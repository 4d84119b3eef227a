package common

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

// GlobalFlags are accepted before any command.
func GlobalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:    "quiet",
			Aliases: []string{"q"},
			Usage:   "only log errors",
		},
		&cli.BoolFlag{
			Name:  "verbose",
			Usage: "log every task attempt",
		},
		&cli.StringFlag{
			Name:    "db",
			Usage:   "job history database (default: wcmr.db next to the binary)",
			EnvVars: []string{"WCMR_DB"},
		},
	}
}

// OnUsageError turns flag parsing errors into the usage exit code.
func OnUsageError(c *cli.Context, err error, isSubcommand bool) error {
	return cli.Exit(fmt.Sprintf("Error: %v", err), ExitUsage)
}
