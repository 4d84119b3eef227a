package jobs

import "github.com/urfave/cli/v2"

// Commands returns the commands that inspect past jobs and their output.
func Commands() []*cli.Command {
	return []*cli.Command{
		{
			Name:  "jobs",
			Usage: "List recorded jobs, newest first",
			Flags: []cli.Flag{
				&cli.IntFlag{
					Name:  "limit",
					Value: 20,
					Usage: "maximum number of jobs to show (0 = all)",
				},
			},
			Action: JobsAction,
		},
		{
			Name:      "job",
			Usage:     "Show counters, inputs and failed attempts of a job",
			ArgsUsage: "[job-id]  (default: latest)",
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:  "config",
					Usage: "also print the job configuration",
				},
			},
			Action: JobAction,
			Subcommands: []*cli.Command{
				{
					Name:      "delete",
					Usage:     "Remove a job from the history (output is kept)",
					ArgsUsage: "<job-id>",
					Action:    DeleteJobAction,
				},
			},
		},
		{
			Name:      "cat",
			Usage:     "Print a committed output directory in partition order",
			ArgsUsage: "<output-dir>",
			Flags: []cli.Flag{
				&cli.IntFlag{
					Name:  "partition",
					Usage: "only print this partition",
				},
				&cli.IntFlag{
					Name:  "top",
					Usage: "print the N most frequent words instead",
				},
			},
			Action: CatAction,
		},
		{
			Name:      "verify",
			Usage:     "Check committed partitions against the manifest checksums",
			ArgsUsage: "<output-dir>",
			Action:    VerifyAction,
		},
	}
}
