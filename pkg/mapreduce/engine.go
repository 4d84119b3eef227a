package mapreduce

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dtnitsch/wcmr/models"
	"github.com/dtnitsch/wcmr/pkg/analytics"
	"github.com/dtnitsch/wcmr/pkg/input"
	"github.com/dtnitsch/wcmr/pkg/splitter"
)

// PartitionWriter is the output side of a job.
//
// Check runs before any work and must reject destinations that already hold
// data. WritePartition may be called again for a partition whose earlier
// attempt failed. Nothing is visible at the destination until Commit; Abort
// discards whatever was written.
type PartitionWriter interface {
	Check() error
	Prepare() error
	WritePartition(partition int, pairs []models.FinalPair) error
	Commit() error
	Abort() error
}

// AttemptRecorder is notified after every task attempt.
type AttemptRecorder interface {
	RecordAttempt(attempt models.TaskAttempt) error
}

// Deps are the collaborators of a job. Writer is required.
type Deps struct {
	JobID    string
	Reader   input.Reader    // defaults to a SplitReader for the configured format
	Writer   PartitionWriter // required
	Shuffle  ShuffleStore    // defaults to a MemoryShuffle
	Logger   *slog.Logger    // defaults to discarding
	Recorder AttemptRecorder // optional
}

// Counters mirror the classic map/reduce job counters. Only successful
// attempts contribute.
type Counters struct {
	Splits               int64 `yaml:"splits" json:"splits"`
	MapInputRecords      int64 `yaml:"map_input_records" json:"map_input_records"`
	MapOutputRecords     int64 `yaml:"map_output_records" json:"map_output_records"`
	CombineInputRecords  int64 `yaml:"combine_input_records" json:"combine_input_records"`
	CombineOutputRecords int64 `yaml:"combine_output_records" json:"combine_output_records"`
	ReduceInputGroups    int64 `yaml:"reduce_input_groups" json:"reduce_input_groups"`
	ReduceInputRecords   int64 `yaml:"reduce_input_records" json:"reduce_input_records"`
	ReduceOutputRecords  int64 `yaml:"reduce_output_records" json:"reduce_output_records"`
	FailedMapAttempts    int64 `yaml:"failed_map_attempts" json:"failed_map_attempts"`
	FailedReduceAttempts int64 `yaml:"failed_reduce_attempts" json:"failed_reduce_attempts"`
}

func (c *Counters) add(o Counters) {
	c.MapInputRecords += o.MapInputRecords
	c.MapOutputRecords += o.MapOutputRecords
	c.CombineInputRecords += o.CombineInputRecords
	c.CombineOutputRecords += o.CombineOutputRecords
	c.ReduceInputGroups += o.ReduceInputGroups
	c.ReduceInputRecords += o.ReduceInputRecords
	c.ReduceOutputRecords += o.ReduceOutputRecords
}

// Map returns the counters keyed by their YAML names.
func (c Counters) Map() map[string]int64 {
	return map[string]int64{
		"splits":                 c.Splits,
		"map_input_records":      c.MapInputRecords,
		"map_output_records":     c.MapOutputRecords,
		"combine_input_records":  c.CombineInputRecords,
		"combine_output_records": c.CombineOutputRecords,
		"reduce_input_groups":    c.ReduceInputGroups,
		"reduce_input_records":   c.ReduceInputRecords,
		"reduce_output_records":  c.ReduceOutputRecords,
		"failed_map_attempts":    c.FailedMapAttempts,
		"failed_reduce_attempts": c.FailedReduceAttempts,
	}
}

// Report summarizes a finished (or aborted) job.
type Report struct {
	JobID      string
	Status     string
	Splits     []splitter.Split
	Partitions int
	Counters   Counters
	Languages  map[string]int // splits per detected language
	Top        []models.FinalPair
	Started    time.Time
	Finished   time.Time
}

type taskFunc func(ctx context.Context, task int) error

type engine struct {
	cfg      models.JobConfig
	job      Job
	deps     Deps
	logger   *slog.Logger
	splits   []splitter.Split
	mu       sync.Mutex
	counters Counters
	langs    map[string]int
	top      []models.FinalPair
}

// Run executes job over cfg.Inputs and commits the result through deps.Writer.
//
// The map phase runs one task per split; the reduce phase, one task per
// partition, starts only after every map task has delivered its output. A task
// that fails is retried from scratch up to cfg.MaxRetries times. Any fatal
// error aborts the job and discards staged output. The returned Report is
// never nil.
func Run(ctx context.Context, cfg models.JobConfig, job Job, deps Deps) (*Report, error) {
	report := &Report{JobID: deps.JobID, Partitions: cfg.Partitions, Started: time.Now()}
	finish := func(err error) (*Report, error) {
		report.Finished = time.Now()
		report.Status = Status(err)
		return report, err
	}

	if err := cfg.Validate(); err != nil {
		return finish(fmt.Errorf("invalid job config: %w", err))
	}
	if err := job.validate(); err != nil {
		return finish(err)
	}
	if job.Partition == nil {
		job.Partition = HashPartition
	}
	if deps.Writer == nil {
		return finish(errors.New("job has no output writer"))
	}
	if deps.Reader == nil {
		deps.Reader = input.NewSplitReader(cfg.Format, nil, nil)
	}
	if deps.Shuffle == nil {
		deps.Shuffle = NewMemoryShuffle()
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	e := &engine{
		cfg:    cfg,
		job:    job,
		deps:   deps,
		logger: deps.Logger.With("job_id", deps.JobID),
		langs:  make(map[string]int),
	}

	if err := deps.Writer.Check(); err != nil {
		return finish(err)
	}

	splits, err := splitter.Plan(cfg.Inputs, splitter.Options{
		TargetSplits: cfg.Splits(),
		MinSplitSize: cfg.MinSplitSize,
		Splittable:   cfg.Format.Splittable(),
	})
	if err != nil {
		return finish(err)
	}
	e.splits = splits
	report.Splits = splits

	if err := deps.Writer.Prepare(); err != nil {
		return finish(fmt.Errorf("failed to prepare output: %w", err))
	}

	err = e.execute(ctx)
	e.mu.Lock()
	report.Counters = e.counters
	report.Counters.Splits = int64(len(splits))
	report.Languages = e.langs
	report.Top = TopKeywords(e.top, cfg.TopKeywords)
	e.mu.Unlock()

	if err != nil {
		if abortErr := deps.Writer.Abort(); abortErr != nil {
			e.logger.Warn("Failed to discard staged output", "error", abortErr)
		}
		e.logger.Error("Job failed", "status", Status(err), "error", err)
		return finish(err)
	}

	if err := deps.Writer.Commit(); err != nil {
		_ = deps.Writer.Abort()
		return finish(fmt.Errorf("failed to commit output: %w", err))
	}
	e.logger.Info("Job succeeded", "splits", len(splits), "partitions", cfg.Partitions)
	return finish(nil)
}

func (e *engine) execute(ctx context.Context) error {
	e.logger.Info("Starting map phase", "splits", len(e.splits), "workers", e.cfg.Workers, "combiner", e.combining())
	if err := e.runPhase(ctx, models.PhaseMap, len(e.splits), e.runMapTask); err != nil {
		return err
	}
	e.logger.Info("All map tasks finished")

	// Every map task has delivered; reducers may now read complete partitions.
	e.logger.Info("Starting reduce phase", "partitions", e.cfg.Partitions, "workers", e.cfg.Workers)
	if err := e.runPhase(ctx, models.PhaseReduce, e.cfg.Partitions, e.runReduceTask); err != nil {
		return err
	}
	e.logger.Info("All reduce tasks finished")

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	return nil
}

func (e *engine) combining() bool {
	return e.cfg.Combiner && e.job.Combine != nil
}

// runPhase feeds n tasks to a pool of workers and waits for all of them.
// The first fatal error stops dispatch and cancels in-flight tasks.
func (e *engine) runPhase(parent context.Context, phase models.Phase, n int, run taskFunc) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	fail := func(err error) {
		once.Do(func() {
			firstErr = err
			cancel()
		})
	}

	tasks := make(chan int)
	workers := min(e.cfg.Workers, n)
	for w := 1; w <= workers; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for task := range tasks {
				if err := e.runWithRetry(ctx, phase, id, task, run); err != nil {
					fail(err)
				}
			}
		}(w)
	}

dispatch:
	for t := 0; t < n; t++ {
		select {
		case tasks <- t:
		case <-ctx.Done():
			break dispatch
		}
	}
	close(tasks)
	wg.Wait()

	if err := parent.Err(); err != nil && (firstErr == nil || isContextErr(firstErr)) {
		return fmt.Errorf("%w: %s phase: %w", ErrCancelled, phase, err)
	}
	return firstErr
}

// runWithRetry runs a task until it succeeds or exhausts its retry budget.
func (e *engine) runWithRetry(ctx context.Context, phase models.Phase, worker, task int, run taskFunc) error {
	location := e.location(phase, task)
	maxAttempts := e.cfg.MaxRetries + 1

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		started := time.Now()
		err := safeRun(ctx, task, run)
		e.record(phase, task, attempt, location, started, err)

		if err == nil {
			e.logger.Debug("Task finished", "phase", phase, "task", task, "attempt", attempt, "worker_id", worker)
			return nil
		}
		if ctx.Err() != nil {
			// Aborted by cancellation, not a task failure.
			return ctx.Err()
		}

		lastErr = &TaskError{Phase: phase, Task: task, Attempt: attempt, Location: location, Err: err}
		e.countFailure(phase)
		e.logger.Warn("Task attempt failed", "phase", phase, "task", task, "attempt", attempt, "location", location, "worker_id", worker, "error", err)

		if attempt < maxAttempts && e.cfg.RetryBackoff > 0 {
			select {
			case <-time.After(e.cfg.RetryBackoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return fmt.Errorf("%w: %s task %d (%s) failed %d times: %w", ErrRetryLimitExceeded, phase, task, location, maxAttempts, lastErr)
}

// safeRun turns a panicking task into an ordinary failure.
func safeRun(ctx context.Context, task int, run taskFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return run(ctx, task)
}

func (e *engine) location(phase models.Phase, task int) string {
	if phase == models.PhaseMap {
		return e.splits[task].String()
	}
	return fmt.Sprintf("partition %d", task)
}

func (e *engine) countFailure(phase models.Phase) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if phase == models.PhaseMap {
		e.counters.FailedMapAttempts++
	} else {
		e.counters.FailedReduceAttempts++
	}
}

func (e *engine) record(phase models.Phase, task, attempt int, location string, started time.Time, err error) {
	if e.deps.Recorder == nil {
		return
	}
	a := models.TaskAttempt{
		JobID:    e.deps.JobID,
		Phase:    phase,
		Task:     task,
		Attempt:  attempt,
		Location: location,
		Status:   models.AttemptSucceeded,
		Started:  started,
		Finished: time.Now(),
	}
	if err != nil {
		a.Status = models.AttemptFailed
		a.Error = err.Error()
	}
	if recErr := e.deps.Recorder.RecordAttempt(a); recErr != nil {
		e.logger.Warn("Failed to record task attempt", "phase", phase, "task", task, "error", recErr)
	}
}

// runMapTask reads one split, maps every record, optionally combines, and
// delivers each partition's pairs to the shuffle. Output of a failed attempt
// is dropped before it reaches the shuffle.
func (e *engine) runMapTask(ctx context.Context, task int) error {
	split := e.splits[task]
	r := e.cfg.Partitions

	records, err := e.deps.Reader.Read(ctx, split)
	if err != nil {
		return fmt.Errorf("failed to read split: %w", err)
	}

	var c Counters
	buckets := make([][]models.Pair, r)
	var emitErr error
	emit := func(key string, value int) {
		if emitErr != nil {
			return
		}
		p := e.job.Partition(key, r)
		if err := checkPartition(key, p, r); err != nil {
			emitErr = err
			return
		}
		buckets[p] = append(buckets[p], models.Pair{Key: key, Value: value})
		c.MapOutputRecords++
	}

	for _, record := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.job.Map(record, emit); err != nil {
			return fmt.Errorf("map: %w", err)
		}
		if emitErr != nil {
			return emitErr
		}
		c.MapInputRecords++
	}

	if e.combining() {
		for p := range buckets {
			c.CombineInputRecords += int64(len(buckets[p]))
			buckets[p], err = combine(buckets[p], e.job.Combine)
			if err != nil {
				return err
			}
			c.CombineOutputRecords += int64(len(buckets[p]))
		}
	}

	var lang string
	if e.cfg.DetectLanguages {
		lang = analytics.DetectLanguage(strings.Join(records, "\n"))
	}

	for p, pairs := range buckets {
		if err := e.deps.Shuffle.Deliver(ctx, task, p, pairs); err != nil {
			return fmt.Errorf("failed to deliver partition %d: %w", p, err)
		}
	}

	e.mu.Lock()
	e.counters.add(c)
	if lang != "" {
		e.langs[lang]++
	}
	e.mu.Unlock()
	return nil
}

// runReduceTask reduces one partition in key order and hands the result to
// the writer.
func (e *engine) runReduceTask(ctx context.Context, partition int) error {
	groups, err := e.deps.Shuffle.Groups(ctx, partition)
	if err != nil {
		return fmt.Errorf("failed to read shuffle partition: %w", err)
	}

	var c Counters
	out := make([]models.FinalPair, 0, len(groups))
	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			return err
		}
		fp, err := e.job.Reduce(g)
		if err != nil {
			return fmt.Errorf("reduce %q: %w", g.Key, err)
		}
		if fp.Key != g.Key {
			return fmt.Errorf("reduce %q emitted key %q", g.Key, fp.Key)
		}
		out = append(out, fp)
		c.ReduceInputGroups++
		c.ReduceInputRecords += int64(len(g.Values))
	}
	c.ReduceOutputRecords = int64(len(out))

	if err := e.deps.Writer.WritePartition(partition, out); err != nil {
		return fmt.Errorf("failed to write partition: %w", err)
	}

	top := TopKeywords(out, e.cfg.TopKeywords)
	e.mu.Lock()
	e.counters.add(c)
	e.top = append(e.top, top...)
	e.mu.Unlock()
	return nil
}
