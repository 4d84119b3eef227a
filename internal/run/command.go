package run

import (
	"github.com/dtnitsch/wcmr/internal/common"
	"github.com/dtnitsch/wcmr/models"
	"github.com/urfave/cli/v2"
)

// Command returns the "run" command.
func Command() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Count words across files, directories and URLs",
		ArgsUsage: "[input...]",
		Description: `Runs one map/reduce word-count job. Inputs may be files, directories
(files starting with _ or . are skipped) or http(s) URLs. Results are written
to --output as part-r-NNNNN files of word<TAB>count lines, sorted by word.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML job file; flags override its values",
			},
			&cli.StringFlag{
				Name:    "input",
				Aliases: []string{"i"},
				Usage:   "comma-separated input locations (also accepted as arguments)",
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "output directory",
			},
			&cli.IntFlag{
				Name:    "workers",
				Aliases: []string{"w"},
				Value:   models.DefaultWorkers,
				Usage:   "concurrent map and reduce tasks",
			},
			&cli.IntFlag{
				Name:    "partitions",
				Aliases: []string{"r"},
				Value:   models.DefaultPartitions,
				Usage:   "number of reduce partitions (output files)",
			},
			&cli.IntFlag{
				Name:  "splits",
				Usage: "target number of input splits (default: one per worker)",
			},
			&cli.Int64Flag{
				Name:  "min-split-size",
				Value: models.DefaultMinSplitSize,
				Usage: "smallest split in bytes",
			},
			&cli.IntFlag{
				Name:  "retries",
				Value: models.DefaultMaxRetries,
				Usage: "retries per task before the job fails",
			},
			&cli.DurationFlag{
				Name:  "retry-backoff",
				Usage: "pause between attempts of a task",
			},
			&cli.BoolFlag{
				Name:  "no-combiner",
				Usage: "send every (word, 1) pair through the shuffle",
			},
			&cli.BoolFlag{
				Name:  "overwrite",
				Usage: "replace an existing output directory",
			},
			&cli.BoolFlag{
				Name:  "normalize",
				Usage: "lowercase, strip punctuation and drop stopwords",
			},
			&cli.StringFlag{
				Name:  "format",
				Value: string(models.InputFormatText),
				Usage: "input format: text or html",
			},
			&cli.StringFlag{
				Name:  "spill",
				Value: models.SpillMemory,
				Usage: "shuffle storage: memory or sqlite",
			},
			&cli.StringFlag{
				Name:  "spill-dir",
				Usage: "directory for the sqlite shuffle file (default: system temp)",
			},
			&cli.StringFlag{
				Name:  "cache-dir",
				Usage: "cache downloaded URL inputs here",
			},
			&cli.DurationFlag{
				Name:  "cache-ttl",
				Value: models.DefaultCacheTTL,
				Usage: "how long cached downloads stay fresh (0 = forever)",
			},
			&cli.DurationFlag{
				Name:  "fetch-timeout",
				Value: models.DefaultFetchTimeout,
				Usage: "timeout for downloading one remote input (0 = none)",
			},
			&cli.BoolFlag{
				Name:  "languages",
				Usage: "detect the language of each split",
			},
			&cli.IntFlag{
				Name:  "top",
				Value: models.DefaultTopKeywords,
				Usage: "number of top keywords to print and record (0 = none)",
			},
			&cli.BoolFlag{
				Name:  "no-history",
				Usage: "do not record the job in the history database",
			},
		},
		OnUsageError: common.OnUsageError,
		Action:       RunAction,
	}
}
