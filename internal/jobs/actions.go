package jobs

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/dtnitsch/wcmr/internal/common"
	"github.com/dtnitsch/wcmr/models"
	dbpkg "github.com/dtnitsch/wcmr/pkg/db"
	"github.com/dtnitsch/wcmr/pkg/manifest"
	"github.com/dtnitsch/wcmr/pkg/mapreduce"
	"github.com/dtnitsch/wcmr/pkg/output"
	"github.com/dtnitsch/wcmr/pkg/storage"
	"github.com/urfave/cli/v2"
)

// JobsAction lists recorded jobs, newest first
func JobsAction(c *cli.Context) error {
	database, err := dbpkg.Open(c.String("db"))
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	jobs, err := database.ListJobs(c.Int("limit"))
	if err != nil {
		return fmt.Errorf("failed to list jobs: %w", err)
	}

	w := c.App.Writer
	if len(jobs) == 0 {
		fmt.Fprintln(w, "No jobs found")
		return nil
	}

	fmt.Fprintf(w, "%-36s %-20s %-10s %-7s %-5s %-10s %s\n",
		"ID", "Created", "Status", "Splits", "R", "Duration", "Output")
	fmt.Fprintln(w, strings.Repeat("-", 120))

	for _, j := range jobs {
		fmt.Fprintf(w, "%-36s %-20s %-10s %-7d %-5d %-10s %s\n",
			j.JobID,
			j.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			j.Status,
			j.SplitCount,
			j.PartitionCount,
			formatDuration(j),
			j.OutputDir,
		)
	}

	fmt.Fprintf(w, "\nTotal: %d jobs\n", len(jobs))
	fmt.Fprintf(w, "\nTip: Use 'wcmr job <id>' to see details\n")
	return nil
}

// JobAction shows one job: config, counters and failed attempts
func JobAction(c *cli.Context) error {
	database, err := dbpkg.Open(c.String("db"))
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	jobID, err := jobIDOrLatest(c, database)
	if err != nil {
		return err
	}

	job, err := database.GetJob(jobID)
	if err != nil {
		return err
	}
	counters, err := database.GetCounters(jobID)
	if err != nil {
		return err
	}
	attempts, err := database.GetAttempts(jobID)
	if err != nil {
		return err
	}
	failedByPhase, err := database.FailedAttemptCount(jobID)
	if err != nil {
		return err
	}

	w := c.App.Writer
	fmt.Fprintf(w, "Job %s\n", job.JobID)
	fmt.Fprintln(w, strings.Repeat("=", 60))
	fmt.Fprintf(w, "Name:        %s\n", job.Name)
	fmt.Fprintf(w, "Status:      %s\n", job.Status)
	fmt.Fprintf(w, "Created:     %s\n", job.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "Duration:    %s\n", formatDuration(job))
	fmt.Fprintf(w, "Output:      %s\n", job.OutputDir)
	fmt.Fprintf(w, "Splits:      %d\n", job.SplitCount)
	fmt.Fprintf(w, "Partitions:  %d\n", job.PartitionCount)
	if job.ErrorMessage != "" {
		fmt.Fprintf(w, "Error:       %s\n", job.ErrorMessage)
	}

	fmt.Fprintf(w, "\nInputs (%d):\n", len(job.Inputs))
	fmt.Fprintln(w, strings.Repeat("-", 60))
	for i, in := range job.Inputs {
		fmt.Fprintf(w, "%2d. %s\n", i+1, in)
	}

	if len(counters) > 0 {
		fmt.Fprintf(w, "\nCounters:\n")
		fmt.Fprintln(w, strings.Repeat("-", 60))
		for _, name := range dbpkg.CounterNames(counters) {
			fmt.Fprintf(w, "%-24s %d\n", name, counters[name])
		}
	}

	var failed []models.TaskAttempt
	for _, a := range attempts {
		if a.Status == models.AttemptFailed {
			failed = append(failed, a)
		}
	}
	fmt.Fprintf(w, "\nAttempts: %d total, %d failed (map %d, reduce %d)\n", len(attempts), len(failed),
		failedByPhase[models.PhaseMap], failedByPhase[models.PhaseReduce])
	if len(failed) > 0 {
		fmt.Fprintln(w, strings.Repeat("-", 60))
		for _, a := range failed {
			fmt.Fprintf(w, "[%s %d #%d] %s\n", a.Phase, a.Task, a.Attempt, a.Location)
			fmt.Fprintf(w, "    Error: %s\n", a.Error)
		}
	}

	if len(job.TopKeywords) > 0 {
		top := make([]models.FinalPair, 0, len(job.TopKeywords))
		for k, v := range job.TopKeywords {
			top = append(top, models.FinalPair{Key: k, Total: v})
		}
		top = mapreduce.TopKeywords(top, len(top))
		fmt.Fprintf(w, "\nTop keywords:\n")
		mapreduce.PrintTopKeywords(w, top)
	}

	if c.Bool("config") {
		fmt.Fprintf(w, "\nConfig:\n%s", job.Config)
	}
	return nil
}

// DeleteJobAction removes a job and its attempts and counters from the history.
// Committed output directories are left alone.
func DeleteJobAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("Error: expected exactly one job id", common.ExitUsage)
	}
	database, err := dbpkg.Open(c.String("db"))
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	jobID := c.Args().First()
	if err := database.DeleteJob(jobID); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Deleted job %s\n", jobID)
	return nil
}

// jobIDOrLatest returns the job id from args, or the latest job if not provided
func jobIDOrLatest(c *cli.Context, database *dbpkg.DB) (string, error) {
	if c.NArg() > 0 {
		return c.Args().First(), nil
	}
	jobs, err := database.ListJobs(1)
	if err != nil {
		return "", fmt.Errorf("failed to get latest job: %w", err)
	}
	if len(jobs) == 0 {
		return "", fmt.Errorf("no jobs found. Run 'wcmr run --output <dir> <input>' first")
	}
	return jobs[0].JobID, nil
}

func formatDuration(j *dbpkg.Job) string {
	if d := j.Duration(); d > 0 {
		return d.Round(time.Millisecond).String()
	}
	return "-"
}

// CatAction prints a committed output directory as word<TAB>count lines
func CatAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("Error: expected exactly one output directory", common.ExitUsage)
	}
	dir := c.Args().First()

	parts, err := output.ReadDir(dir)
	if err != nil {
		if errors.Is(err, output.ErrNotCommitted) {
			return cli.Exit(fmt.Sprintf("Error: %v", err), common.ExitUsage)
		}
		return err
	}

	if n := c.Int("top"); n > 0 {
		var all []models.FinalPair
		for _, p := range parts {
			all = append(all, p.Pairs...)
		}
		mapreduce.PrintTopKeywords(c.App.Writer, mapreduce.TopKeywords(all, n))
		return nil
	}

	partition := -1
	if c.IsSet("partition") {
		partition = c.Int("partition")
		if partition < 0 || partition >= len(parts) {
			return cli.Exit(fmt.Sprintf("Error: partition %d out of range [0,%d)", partition, len(parts)), common.ExitUsage)
		}
	}

	return writePartitions(c.App.Writer, parts, partition)
}

func writePartitions(w io.Writer, parts []output.Partition, only int) error {
	for i, p := range parts {
		if only >= 0 && i != only {
			continue
		}
		if _, err := w.Write(output.Encode(p.Pairs)); err != nil {
			return err
		}
	}
	return nil
}

// VerifyAction checks committed partitions against the checksums in the manifest
func VerifyAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("Error: expected exactly one output directory", common.ExitUsage)
	}
	dir := c.Args().First()

	problems, err := Verify(dir)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Error: %v", err), common.ExitUsage)
	}

	w := c.App.Writer
	if len(problems) > 0 {
		for _, p := range problems {
			fmt.Fprintf(w, "FAIL %s\n", p)
		}
		return cli.Exit(fmt.Sprintf("%d problems found in %s", len(problems), dir), common.ExitFailure)
	}
	fmt.Fprintf(w, "OK %s\n", dir)
	return nil
}

// Verify returns one message per partition that is missing or does not match
// the manifest.
func Verify(dir string) ([]string, error) {
	s := &storage.Storage{}
	if !s.HasFile(filepath.Join(dir, output.SuccessMarker)) {
		return nil, fmt.Errorf("%w: %s", output.ErrNotCommitted, dir)
	}
	m, err := manifest.Load(dir, s)
	if err != nil {
		return nil, err
	}

	var problems []string
	for _, p := range m.Partitions {
		path := filepath.Join(dir, p.Path)
		stats, err := s.GetFileStats(path)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", p.Path, err))
			continue
		}
		if stats.SizeBytes != p.SizeBytes {
			problems = append(problems, fmt.Sprintf("%s: %d bytes, manifest has %d", p.Path, stats.SizeBytes, p.SizeBytes))
			continue
		}
		data, err := s.ReadFile(path)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", p.Path, err))
			continue
		}
		if sum := fmt.Sprintf("%x", sha256.Sum256(data)); sum != p.Checksum {
			problems = append(problems, fmt.Sprintf("%s: checksum %s, manifest has %s", p.Path, sum, p.Checksum))
			continue
		}
		pairs, err := output.ReadPartition(path)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", p.Path, err))
			continue
		}
		if len(pairs) != p.Records {
			problems = append(problems, fmt.Sprintf("%s: %d records, manifest has %d", p.Path, len(pairs), p.Records))
		}
	}
	return problems, nil
}
