package run

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dtnitsch/wcmr/internal/common"
	"github.com/dtnitsch/wcmr/models"
	"github.com/dtnitsch/wcmr/pkg/analytics"
	"github.com/dtnitsch/wcmr/pkg/caching"
	"github.com/dtnitsch/wcmr/pkg/db"
	"github.com/dtnitsch/wcmr/pkg/fetcher"
	"github.com/dtnitsch/wcmr/pkg/input"
	"github.com/dtnitsch/wcmr/pkg/manifest"
	"github.com/dtnitsch/wcmr/pkg/mapreduce"
	"github.com/dtnitsch/wcmr/pkg/output"
	"github.com/dtnitsch/wcmr/pkg/spill"
	"github.com/dtnitsch/wcmr/pkg/storage"
	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
)

// Options control the parts of a run that are not job parameters.
type Options struct {
	JobID     string // generated when empty
	DBPath    string // empty uses the default history location
	NoHistory bool
	Stdout    io.Writer
	Logger    *slog.Logger
}

func RunAction(c *cli.Context) error {
	logger := common.NewLogger(c.Bool("quiet"), c.Bool("verbose"))

	cfg, err := ConfigFromFlags(c)
	if err != nil {
		logger.Error("invalid job configuration", "error", err)
		return cli.Exit(fmt.Sprintf("Error: %v", err), common.ExitUsage)
	}

	_, err = Execute(c.Context, cfg, Options{
		DBPath:    c.String("db"),
		NoHistory: c.Bool("no-history"),
		Stdout:    c.App.Writer,
		Logger:    logger,
	})
	if err != nil {
		return cli.Exit(fmt.Sprintf("Error: %v", err), common.ExitCode(err))
	}
	return nil
}

// ConfigFromFlags loads --config (if any) and applies the flags on top.
// Positional arguments are input locations.
func ConfigFromFlags(c *cli.Context) (models.JobConfig, error) {
	cfg := models.DefaultJobConfig()
	if path := c.String("config"); path != "" {
		var err error
		if cfg, err = models.LoadJobConfig(path); err != nil {
			return cfg, err
		}
	}

	inputs := append(common.SplitList(c.String("input")), c.Args().Slice()...)
	if len(inputs) > 0 {
		cfg.Inputs = inputs
	}
	if c.IsSet("output") {
		cfg.Output = c.String("output")
	}
	if c.IsSet("workers") {
		cfg.Workers = c.Int("workers")
	}
	if c.IsSet("partitions") {
		cfg.Partitions = c.Int("partitions")
	}
	if c.IsSet("splits") {
		cfg.TargetSplits = c.Int("splits")
	}
	if c.IsSet("min-split-size") {
		cfg.MinSplitSize = c.Int64("min-split-size")
	}
	if c.IsSet("retries") {
		cfg.MaxRetries = c.Int("retries")
	}
	if c.IsSet("retry-backoff") {
		cfg.RetryBackoff = c.Duration("retry-backoff")
	}
	if c.Bool("no-combiner") {
		cfg.Combiner = false
	}
	if c.IsSet("overwrite") {
		cfg.Overwrite = c.Bool("overwrite")
	}
	if c.IsSet("normalize") {
		cfg.Normalize = c.Bool("normalize")
	}
	if c.IsSet("format") {
		format, err := models.ParseInputFormat(c.String("format"))
		if err != nil {
			return cfg, err
		}
		cfg.Format = format
	}
	if c.IsSet("spill") {
		cfg.Spill = c.String("spill")
	}
	if c.IsSet("spill-dir") {
		cfg.SpillDir = c.String("spill-dir")
	}
	if c.IsSet("cache-dir") {
		cfg.CacheDir = c.String("cache-dir")
	}
	if c.IsSet("cache-ttl") {
		cfg.CacheTTL = c.Duration("cache-ttl")
	}
	if c.IsSet("fetch-timeout") {
		cfg.FetchTimeout = c.Duration("fetch-timeout")
	}
	if c.IsSet("languages") {
		cfg.DetectLanguages = c.Bool("languages")
	}
	if c.IsSet("top") {
		cfg.TopKeywords = c.Int("top")
	}

	sanitized, invalid := common.SanitizeLocations(cfg.Inputs)
	if len(invalid) > 0 {
		return cfg, fmt.Errorf("invalid input locations: %s", strings.Join(invalid, ", "))
	}
	cfg.Inputs = sanitized

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Execute runs a word-count job, records it in the history database, writes
// the manifest and prints a summary.
func Execute(ctx context.Context, cfg models.JobConfig, opts Options) (*mapreduce.Report, error) {
	if opts.JobID == "" {
		opts.JobID = uuid.NewString()
	}
	if opts.Stdout == nil {
		opts.Stdout = io.Discard
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	logger := opts.Logger.With("job_id", opts.JobID)
	startTime := time.Now()

	job := mapreduce.WordCount(tokenizer(cfg))

	var history *db.DB
	if !opts.NoHistory {
		history = openHistory(opts, job.Name, cfg, startTime, logger)
		if history != nil {
			defer history.Close()
		}
	}

	reader, err := newReader(cfg)
	if err != nil {
		finishHistory(history, cfg, &mapreduce.Report{JobID: opts.JobID, Status: models.JobFailed, Finished: time.Now()}, err, logger)
		return nil, err
	}

	shuffle, err := newShuffle(cfg, opts.JobID, logger)
	if err != nil {
		finishHistory(history, cfg, &mapreduce.Report{JobID: opts.JobID, Status: models.JobFailed, Finished: time.Now()}, err, logger)
		return nil, err
	}
	defer func() {
		if err := shuffle.Close(); err != nil {
			logger.Warn("Failed to remove shuffle data", "error", err)
		}
	}()

	writer := output.NewWriter(cfg.Output, cfg.Overwrite)
	deps := mapreduce.Deps{
		JobID:   opts.JobID,
		Reader:  reader,
		Writer:  writer,
		Shuffle: shuffle,
		Logger:  opts.Logger,
	}
	if history != nil {
		deps.Recorder = history
	}

	logger.Info("Starting job", "inputs", len(cfg.Inputs), "output", cfg.Output,
		"workers", cfg.Workers, "partitions", cfg.Partitions, "spill", cfg.Spill)

	report, runErr := mapreduce.Run(ctx, cfg, job, deps)
	finishHistory(history, cfg, report, runErr, logger)
	if runErr != nil {
		return report, runErr
	}

	m := manifest.Build(job.Name, cfg.Inputs, report, writer.Files())
	manifestPath, err := manifest.Write(cfg.Output, m, &storage.Storage{})
	if err != nil {
		// Partitions are already committed.
		logger.Warn("Failed to write manifest", "error", err)
	}

	printSummary(opts.Stdout, cfg, report, manifestPath)
	return report, nil
}

func tokenizer(cfg models.JobConfig) analytics.Tokenizer {
	if cfg.Normalize {
		return analytics.NormalizingTokenizer
	}
	return analytics.WhitespaceTokenizer
}

func openHistory(opts Options, name string, cfg models.JobConfig, startTime time.Time, logger *slog.Logger) *db.DB {
	history, err := db.Open(opts.DBPath)
	if err != nil {
		logger.Warn("Job history disabled", "error", err)
		return nil
	}
	if err := history.CreateJob(opts.JobID, name, cfg, startTime); err != nil {
		logger.Warn("Job history disabled", "error", err)
		_ = history.Close()
		return nil
	}
	return history
}

func finishHistory(history *db.DB, cfg models.JobConfig, report *mapreduce.Report, runErr error, logger *slog.Logger) {
	if history == nil {
		return
	}
	errMsg := ""
	if runErr != nil {
		errMsg = runErr.Error()
	}
	if err := history.FinishJob(report.JobID, report.Status, errMsg, len(report.Splits), cfg.Partitions, report.Top, report.Finished); err != nil {
		logger.Warn("Failed to record job result", "error", err)
	}
	if err := history.SetCounters(report.JobID, report.Counters.Map()); err != nil {
		logger.Warn("Failed to record job counters", "error", err)
	}
}

func newReader(cfg models.JobConfig) (input.Reader, error) {
	var cache *caching.Cache
	if cfg.CacheDir != "" {
		var err error
		if cache, err = caching.NewCache(cfg.CacheDir, cfg.CacheTTL); err != nil {
			return nil, err
		}
	}
	client := &http.Client{Timeout: cfg.FetchTimeout}
	return input.NewSplitReader(cfg.Format, fetcher.NewFetcherWithClient(client), cache), nil
}

func newShuffle(cfg models.JobConfig, jobID string, logger *slog.Logger) (mapreduce.ShuffleStore, error) {
	if cfg.Spill != models.SpillSQLite {
		return mapreduce.NewMemoryShuffle(), nil
	}
	dir := cfg.SpillDir
	if dir == "" {
		dir = os.TempDir()
	}
	store, err := spill.Open(filepath.Join(dir, "wcmr-shuffle-"+jobID+".db"))
	if err != nil {
		return nil, err
	}
	logger.Debug("Spilling shuffle to SQLite", "path", store.Path())
	return store, nil
}

func printSummary(w io.Writer, cfg models.JobConfig, report *mapreduce.Report, manifestPath string) {
	c := report.Counters
	fmt.Fprintf(w, "Job %s %s in %s\n", report.JobID, report.Status, report.Finished.Sub(report.Started).Round(time.Millisecond))
	fmt.Fprintf(w, "Output:     %s (%d partitions)\n", cfg.Output, cfg.Partitions)
	if manifestPath != "" {
		fmt.Fprintf(w, "Manifest:   %s\n", manifestPath)
	}
	fmt.Fprintf(w, "Splits:     %d\n", c.Splits)
	fmt.Fprintf(w, "Map:        %d records in, %d pairs out\n", c.MapInputRecords, c.MapOutputRecords)
	if cfg.Combiner {
		fmt.Fprintf(w, "Combine:    %d pairs in, %d pairs out\n", c.CombineInputRecords, c.CombineOutputRecords)
	}
	fmt.Fprintf(w, "Reduce:     %d keys\n", c.ReduceOutputRecords)
	if failed := c.FailedMapAttempts + c.FailedReduceAttempts; failed > 0 {
		fmt.Fprintf(w, "Retried:    %d map, %d reduce attempts failed\n", c.FailedMapAttempts, c.FailedReduceAttempts)
	}

	if len(report.Languages) > 0 {
		var langs []string
		for lang, n := range report.Languages {
			langs = append(langs, fmt.Sprintf("%s:%d", lang, n))
		}
		sort.Strings(langs)
		fmt.Fprintf(w, "Languages:  %s\n", strings.Join(langs, ", "))
	}

	if len(report.Top) > 0 {
		fmt.Fprintf(w, "\nTop %d keywords:\n", len(report.Top))
		mapreduce.PrintTopKeywords(w, report.Top)
	}
}
