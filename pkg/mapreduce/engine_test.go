package mapreduce

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/dtnitsch/wcmr/models"
	"github.com/dtnitsch/wcmr/pkg/input"
	"github.com/dtnitsch/wcmr/pkg/output"
	"github.com/dtnitsch/wcmr/pkg/spill"
	"github.com/dtnitsch/wcmr/pkg/splitter"
)

// writeInput creates a file under dir and returns its path
func writeInput(t *testing.T, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write input: %v", err)
	}
	return path
}

func testConfig(inputs []string, out string) models.JobConfig {
	cfg := models.DefaultJobConfig()
	cfg.Inputs = inputs
	cfg.Output = out
	cfg.RetryBackoff = 0
	return cfg
}

func runJob(t *testing.T, cfg models.JobConfig, job Job, deps Deps) (*Report, error) {
	t.Helper()

	if deps.Writer == nil {
		deps.Writer = output.NewWriter(cfg.Output, cfg.Overwrite)
	}
	if deps.JobID == "" {
		deps.JobID = "test-job"
	}
	return Run(context.Background(), cfg, job, deps)
}

// readCounts loads committed output and checks per-partition ordering and placement
func readCounts(t *testing.T, dir string, r int) map[string]int {
	t.Helper()

	parts, err := output.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(parts) != r {
		t.Fatalf("got %d partition files, want %d", len(parts), r)
	}

	counts := make(map[string]int)
	for p, part := range parts {
		for i, pair := range part.Pairs {
			if i > 0 && part.Pairs[i-1].Key >= pair.Key {
				t.Errorf("partition %d: keys out of order: %q then %q", p, part.Pairs[i-1].Key, pair.Key)
			}
			if got := HashPartition(pair.Key, r); got != p {
				t.Errorf("key %q found in partition %d, want %d", pair.Key, p, got)
			}
			if _, dup := counts[pair.Key]; dup {
				t.Errorf("key %q appears in more than one partition", pair.Key)
			}
			counts[pair.Key] = pair.Total
		}
	}
	return counts
}

func expectedCounts(text string) map[string]int {
	want := make(map[string]int)
	for _, w := range strings.Fields(text) {
		want[w]++
	}
	return want
}

func assertCounts(t *testing.T, got, want map[string]int) {
	t.Helper()

	if len(got) != len(want) {
		t.Errorf("got %d distinct keys, want %d", len(got), len(want))
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("count[%q] = %d, want %d", k, got[k], v)
		}
	}
}

// corpus produces deterministic text over a small vocabulary
func corpus(lines int) string {
	vocab := []string{"the", "cat", "sat", "on", "a", "mat", "dog", "ran", "Über", "naïve", "x"}
	rng := rand.New(rand.NewSource(42))
	seps := []string{" ", "  ", "\t", " \t "}

	var b strings.Builder
	for i := 0; i < lines; i++ {
		n := rng.Intn(12)
		for j := 0; j < n; j++ {
			if j > 0 {
				b.WriteString(seps[rng.Intn(len(seps))])
			}
			b.WriteString(vocab[rng.Intn(len(vocab))])
		}
		b.WriteString("\n")
	}
	return b.String()
}

func TestRun_Example(t *testing.T) {
	dir := t.TempDir()
	in := writeInput(t, dir, "input.txt", "the cat sat\nthe dog sat\n")
	out := filepath.Join(dir, "out")

	cfg := testConfig([]string{in}, out)
	cfg.TargetSplits = 1

	report, err := runJob(t, cfg, WordCount(nil), Deps{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Status != models.JobSucceeded {
		t.Errorf("Status = %q, want %q", report.Status, models.JobSucceeded)
	}

	data, err := os.ReadFile(filepath.Join(out, output.PartitionFileName(0)))
	if err != nil {
		t.Fatalf("failed to read partition: %v", err)
	}
	if want := "cat\t1\ndog\t1\nsat\t2\nthe\t2\n"; string(data) != want {
		t.Errorf("output = %q, want %q", data, want)
	}

	want := Counters{
		Splits:               1,
		MapInputRecords:      2,
		MapOutputRecords:     6,
		CombineInputRecords:  6,
		CombineOutputRecords: 4,
		ReduceInputGroups:    4,
		ReduceInputRecords:   4,
		ReduceOutputRecords:  4,
	}
	if report.Counters != want {
		t.Errorf("Counters = %+v, want %+v", report.Counters, want)
	}

	top := FormatKeywords(report.Top)
	if got, wantTop := strings.Join(top, ","), "sat:2,the:2,cat:1,dog:1"; got != wantTop {
		t.Errorf("Top = %s, want %s", got, wantTop)
	}
}

func TestRun_CountsEveryOccurrence(t *testing.T) {
	text := corpus(500)
	want := expectedCounts(text)

	for _, splits := range []int{1, 3, 7, 16} {
		t.Run(fmt.Sprintf("%d splits", splits), func(t *testing.T) {
			dir := t.TempDir()
			in := writeInput(t, dir, "corpus.txt", text)
			cfg := testConfig([]string{in}, filepath.Join(dir, "out"))
			cfg.TargetSplits = splits
			cfg.Workers = 3

			report, err := runJob(t, cfg, WordCount(nil), Deps{})
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if report.Counters.MapInputRecords != 500 {
				t.Errorf("MapInputRecords = %d, want 500", report.Counters.MapInputRecords)
			}
			assertCounts(t, readCounts(t, cfg.Output, 1), want)
		})
	}
}

func TestRun_PartitionCountDoesNotChangeResult(t *testing.T) {
	text := corpus(200)
	want := expectedCounts(text)

	for r := 1; r <= 5; r++ {
		t.Run(fmt.Sprintf("R=%d", r), func(t *testing.T) {
			dir := t.TempDir()
			in := writeInput(t, dir, "corpus.txt", text)
			cfg := testConfig([]string{in}, filepath.Join(dir, "out"))
			cfg.Partitions = r
			cfg.TargetSplits = 4

			if _, err := runJob(t, cfg, WordCount(nil), Deps{}); err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			assertCounts(t, readCounts(t, cfg.Output, r), want)
		})
	}
}

func TestRun_CombinerDoesNotChangeResult(t *testing.T) {
	text := corpus(300)
	want := expectedCounts(text)

	for _, combiner := range []bool{true, false} {
		t.Run(fmt.Sprintf("combiner=%v", combiner), func(t *testing.T) {
			dir := t.TempDir()
			in := writeInput(t, dir, "corpus.txt", text)
			cfg := testConfig([]string{in}, filepath.Join(dir, "out"))
			cfg.Combiner = combiner
			cfg.Partitions = 2

			report, err := runJob(t, cfg, WordCount(nil), Deps{})
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			assertCounts(t, readCounts(t, cfg.Output, 2), want)

			c := report.Counters
			if combiner {
				if c.CombineOutputRecords >= c.CombineInputRecords {
					t.Errorf("combiner did not shrink output: in=%d out=%d", c.CombineInputRecords, c.CombineOutputRecords)
				}
				if c.ReduceInputRecords != c.CombineOutputRecords {
					t.Errorf("ReduceInputRecords = %d, want %d", c.ReduceInputRecords, c.CombineOutputRecords)
				}
			} else {
				if c.CombineInputRecords != 0 {
					t.Errorf("CombineInputRecords = %d with combiner off", c.CombineInputRecords)
				}
				if c.ReduceInputRecords != c.MapOutputRecords {
					t.Errorf("ReduceInputRecords = %d, want %d", c.ReduceInputRecords, c.MapOutputRecords)
				}
			}
		})
	}
}

func TestRun_DirectoryAndMultipleInputs(t *testing.T) {
	dir := t.TempDir()
	inDir := filepath.Join(dir, "books")
	if err := os.Mkdir(inDir, 0755); err != nil {
		t.Fatal(err)
	}
	writeInput(t, inDir, "a.txt", "one two\n")
	writeInput(t, inDir, "b.txt", "two three\n")
	writeInput(t, inDir, ".hidden", "ignored\n")
	extra := writeInput(t, dir, "c.txt", "three\n")

	cfg := testConfig([]string{inDir, extra}, filepath.Join(dir, "out"))
	if _, err := runJob(t, cfg, WordCount(nil), Deps{}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	assertCounts(t, readCounts(t, cfg.Output, 1), map[string]int{"one": 1, "two": 2, "three": 2})
}

func TestRun_SQLiteShuffle(t *testing.T) {
	text := corpus(150)
	dir := t.TempDir()
	in := writeInput(t, dir, "corpus.txt", text)
	cfg := testConfig([]string{in}, filepath.Join(dir, "out"))
	cfg.Partitions = 3

	store, err := spill.Open(filepath.Join(dir, "shuffle.db"))
	if err != nil {
		t.Fatalf("spill.Open() error = %v", err)
	}
	defer store.Close()

	if _, err := runJob(t, cfg, WordCount(nil), Deps{Shuffle: store}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	assertCounts(t, readCounts(t, cfg.Output, 3), expectedCounts(text))
}

// flakyReader fails the first attempt of every split
type flakyReader struct {
	next  input.Reader
	mu    sync.Mutex
	tried map[int]bool
}

func (f *flakyReader) Read(ctx context.Context, split splitter.Split) ([]string, error) {
	f.mu.Lock()
	first := !f.tried[split.Index]
	f.tried[split.Index] = true
	f.mu.Unlock()

	if first {
		return nil, errors.New("transient read error")
	}
	return f.next.Read(ctx, split)
}

type attemptLog struct {
	mu       sync.Mutex
	attempts []models.TaskAttempt
}

func (l *attemptLog) RecordAttempt(a models.TaskAttempt) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts = append(l.attempts, a)
	return nil
}

func TestRun_RetriedMapTasksAreIdempotent(t *testing.T) {
	text := corpus(100)
	dir := t.TempDir()
	in := writeInput(t, dir, "corpus.txt", text)
	cfg := testConfig([]string{in}, filepath.Join(dir, "out"))
	cfg.TargetSplits = 4

	reader := &flakyReader{next: input.NewSplitReader(models.InputFormatText, nil, nil), tried: make(map[int]bool)}
	log := &attemptLog{}

	report, err := runJob(t, cfg, WordCount(nil), Deps{Reader: reader, Recorder: log})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	assertCounts(t, readCounts(t, cfg.Output, 1), expectedCounts(text))

	splits := int64(len(report.Splits))
	if report.Counters.FailedMapAttempts != splits {
		t.Errorf("FailedMapAttempts = %d, want %d", report.Counters.FailedMapAttempts, splits)
	}
	if report.Counters.MapInputRecords != 100 {
		t.Errorf("MapInputRecords = %d, want 100 (failed attempts must not count)", report.Counters.MapInputRecords)
	}

	var failed, succeeded int
	for _, a := range log.attempts {
		if a.JobID != "test-job" {
			t.Errorf("attempt JobID = %q", a.JobID)
		}
		switch a.Status {
		case models.AttemptFailed:
			failed++
			if a.Attempt != 1 || a.Error == "" {
				t.Errorf("unexpected failed attempt: %+v", a)
			}
		case models.AttemptSucceeded:
			succeeded++
		}
	}
	// one failure and one success per split, plus one reduce task
	if failed != int(splits) || succeeded != int(splits)+1 {
		t.Errorf("recorded %d failed and %d succeeded attempts, want %d and %d", failed, succeeded, splits, splits+1)
	}
}

func TestRun_PartialMapOutputIsDiscarded(t *testing.T) {
	dir := t.TempDir()
	in := writeInput(t, dir, "input.txt", "alpha beta\nboom gamma\n")
	cfg := testConfig([]string{in}, filepath.Join(dir, "out"))
	cfg.TargetSplits = 1

	var failedOnce atomic.Bool
	job := WordCount(nil)
	job.Map = func(record string, emit Emitter) error {
		for _, w := range strings.Fields(record) {
			emit(w, 1)
		}
		// fail after emitting, the first time only
		if strings.Contains(record, "boom") && failedOnce.CompareAndSwap(false, true) {
			return errors.New("map crashed")
		}
		return nil
	}

	if _, err := runJob(t, cfg, job, Deps{}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	assertCounts(t, readCounts(t, cfg.Output, 1), map[string]int{"alpha": 1, "beta": 1, "boom": 1, "gamma": 1})
}

func TestRun_PanicIsRetried(t *testing.T) {
	dir := t.TempDir()
	in := writeInput(t, dir, "input.txt", "a b a\n")
	cfg := testConfig([]string{in}, filepath.Join(dir, "out"))
	cfg.TargetSplits = 1

	var panicked atomic.Bool
	job := WordCount(nil)
	job.Reduce = func(rec models.GroupedRecord) (models.FinalPair, error) {
		if panicked.CompareAndSwap(false, true) {
			panic("reducer blew up")
		}
		return SumReduce(rec)
	}

	report, err := runJob(t, cfg, job, Deps{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Counters.FailedReduceAttempts != 1 {
		t.Errorf("FailedReduceAttempts = %d, want 1", report.Counters.FailedReduceAttempts)
	}
	assertCounts(t, readCounts(t, cfg.Output, 1), map[string]int{"a": 2, "b": 1})
}

// flakyWriter fails the first write of every partition
type flakyWriter struct {
	*output.Writer
	mu    sync.Mutex
	tried map[int]bool
}

func (f *flakyWriter) WritePartition(p int, pairs []models.FinalPair) error {
	f.mu.Lock()
	first := !f.tried[p]
	f.tried[p] = true
	f.mu.Unlock()
	if first {
		return errors.New("disk hiccup")
	}
	return f.Writer.WritePartition(p, pairs)
}

func TestRun_RetriedReduceTasks(t *testing.T) {
	text := corpus(80)
	dir := t.TempDir()
	in := writeInput(t, dir, "corpus.txt", text)
	cfg := testConfig([]string{in}, filepath.Join(dir, "out"))
	cfg.Partitions = 3

	w := &flakyWriter{Writer: output.NewWriter(cfg.Output, false), tried: make(map[int]bool)}
	report, err := runJob(t, cfg, WordCount(nil), Deps{Writer: w})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Counters.FailedReduceAttempts != 3 {
		t.Errorf("FailedReduceAttempts = %d, want 3", report.Counters.FailedReduceAttempts)
	}
	assertCounts(t, readCounts(t, cfg.Output, 3), expectedCounts(text))
}

func TestRun_RetryLimitExceeded(t *testing.T) {
	dir := t.TempDir()
	in := writeInput(t, dir, "input.txt", "fine\nbad record\n")
	out := filepath.Join(dir, "out")
	cfg := testConfig([]string{in}, out)
	cfg.TargetSplits = 1
	cfg.MaxRetries = 2

	var calls atomic.Int32
	job := WordCount(nil)
	job.Map = func(record string, emit Emitter) error {
		if strings.HasPrefix(record, "bad") {
			calls.Add(1)
			return errors.New("cannot parse record")
		}
		emit(record, 1)
		return nil
	}

	report, err := runJob(t, cfg, job, Deps{})
	if !errors.Is(err, ErrRetryLimitExceeded) {
		t.Fatalf("Run() error = %v, want ErrRetryLimitExceeded", err)
	}
	if !errors.Is(err, ErrTaskFailed) {
		t.Errorf("Run() error = %v, should wrap ErrTaskFailed", err)
	}
	var taskErr *TaskError
	if !errors.As(err, &taskErr) || taskErr.Phase != models.PhaseMap || taskErr.Attempt != 3 {
		t.Errorf("Run() error = %v, want map TaskError on attempt 3", err)
	}
	if calls.Load() != 3 {
		t.Errorf("map attempts = %d, want 3", calls.Load())
	}
	if report.Status != models.JobFailed {
		t.Errorf("Status = %q, want %q", report.Status, models.JobFailed)
	}
	if _, statErr := os.Stat(out); !os.IsNotExist(statErr) {
		t.Errorf("output directory should not exist after a failed job")
	}
}

func TestRun_MissingInput(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out")
	cfg := testConfig([]string{filepath.Join(dir, "nope.txt")}, out)

	report, err := runJob(t, cfg, WordCount(nil), Deps{})
	if !errors.Is(err, splitter.ErrInputUnavailable) {
		t.Fatalf("Run() error = %v, want ErrInputUnavailable", err)
	}
	if report.Status != models.JobFailed {
		t.Errorf("Status = %q, want %q", report.Status, models.JobFailed)
	}
	if _, statErr := os.Stat(out); !os.IsNotExist(statErr) {
		t.Errorf("output directory should not exist")
	}
}

func TestRun_DestinationConflict(t *testing.T) {
	dir := t.TempDir()
	in := writeInput(t, dir, "input.txt", "hello\n")
	out := filepath.Join(dir, "out")
	if err := os.Mkdir(out, 0755); err != nil {
		t.Fatal(err)
	}
	existing := writeInput(t, out, "keep.txt", "precious")

	cfg := testConfig([]string{in}, out)
	_, err := runJob(t, cfg, WordCount(nil), Deps{})
	if !errors.Is(err, output.ErrDestinationConflict) {
		t.Fatalf("Run() error = %v, want ErrDestinationConflict", err)
	}

	data, err := os.ReadFile(existing)
	if err != nil || string(data) != "precious" {
		t.Errorf("existing output was modified: %q, %v", data, err)
	}
	if _, err := os.Stat(filepath.Join(out, output.PartitionFileName(0))); !os.IsNotExist(err) {
		t.Errorf("partition file written despite conflict")
	}
}

// cancellingReader cancels the job on its first read
type cancellingReader struct {
	cancel context.CancelFunc
}

func (c *cancellingReader) Read(ctx context.Context, split splitter.Split) ([]string, error) {
	c.cancel()
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestRun_Cancelled(t *testing.T) {
	dir := t.TempDir()
	in := writeInput(t, dir, "input.txt", corpus(50))
	out := filepath.Join(dir, "out")
	cfg := testConfig([]string{in}, out)
	cfg.MaxRetries = 5

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log := &attemptLog{}
	report, err := Run(ctx, cfg, WordCount(nil), Deps{
		Reader:   &cancellingReader{cancel: cancel},
		Writer:   output.NewWriter(out, false),
		Recorder: log,
	})
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("Run() error = %v, want ErrCancelled", err)
	}
	if errors.Is(err, ErrRetryLimitExceeded) {
		t.Errorf("cancellation must not be reported as a retry failure")
	}
	if report.Status != models.JobCancelled {
		t.Errorf("Status = %q, want %q", report.Status, models.JobCancelled)
	}
	if report.Counters.FailedMapAttempts != 0 {
		t.Errorf("FailedMapAttempts = %d, want 0", report.Counters.FailedMapAttempts)
	}
	if _, statErr := os.Stat(out); !os.IsNotExist(statErr) {
		t.Errorf("output directory should not exist after cancellation")
	}
}

// barrierShuffle fails the job if a partition is read before every map task delivered
type barrierShuffle struct {
	*MemoryShuffle
	expected  int64
	delivered atomic.Int64
	early     atomic.Bool
}

func (b *barrierShuffle) Deliver(ctx context.Context, mapTask, partition int, pairs []models.Pair) error {
	b.delivered.Add(1)
	return b.MemoryShuffle.Deliver(ctx, mapTask, partition, pairs)
}

func (b *barrierShuffle) Groups(ctx context.Context, partition int) ([]models.GroupedRecord, error) {
	if b.delivered.Load() != b.expected {
		b.early.Store(true)
	}
	return b.MemoryShuffle.Groups(ctx, partition)
}

func TestRun_ReduceWaitsForAllMaps(t *testing.T) {
	text := corpus(200)
	dir := t.TempDir()
	in := writeInput(t, dir, "corpus.txt", text)
	cfg := testConfig([]string{in}, filepath.Join(dir, "out"))
	cfg.TargetSplits = 8
	cfg.Partitions = 4
	cfg.Workers = 4

	splits, err := splitter.Plan(cfg.Inputs, splitter.Options{TargetSplits: 8, MinSplitSize: 1, Splittable: true})
	if err != nil {
		t.Fatal(err)
	}
	store := &barrierShuffle{MemoryShuffle: NewMemoryShuffle(), expected: int64(len(splits) * cfg.Partitions)}

	if _, err := runJob(t, cfg, WordCount(nil), Deps{Shuffle: store}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if store.early.Load() {
		t.Error("a reduce task read its partition before every map task delivered")
	}
}

func TestRun_InvalidJob(t *testing.T) {
	dir := t.TempDir()
	in := writeInput(t, dir, "input.txt", "x\n")
	cfg := testConfig([]string{in}, filepath.Join(dir, "out"))

	if _, err := runJob(t, cfg, Job{Name: "empty"}, Deps{}); err == nil {
		t.Error("Run() with no map function should fail")
	}

	bad := cfg
	bad.Workers = 0
	if _, err := runJob(t, bad, WordCount(nil), Deps{}); err == nil {
		t.Error("Run() with zero workers should fail")
	}
}

func TestRun_BadPartitioner(t *testing.T) {
	dir := t.TempDir()
	in := writeInput(t, dir, "input.txt", "x y\n")
	cfg := testConfig([]string{in}, filepath.Join(dir, "out"))
	cfg.Partitions = 2
	cfg.MaxRetries = 0

	job := WordCount(nil)
	job.Partition = func(key string, r int) int { return r }

	if _, err := runJob(t, cfg, job, Deps{}); !errors.Is(err, ErrRetryLimitExceeded) {
		t.Errorf("Run() error = %v, want ErrRetryLimitExceeded", err)
	}
}
