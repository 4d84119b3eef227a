package mapreduce

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/dtnitsch/wcmr/models"
	"github.com/dtnitsch/wcmr/pkg/analytics"
)

func TestHashPartition(t *testing.T) {
	keys := []string{"", "a", "the", "cat", "Über", "naïve", "a much longer key with spaces"}
	for _, r := range []int{1, 2, 3, 7, 64} {
		for _, k := range keys {
			p := HashPartition(k, r)
			if p < 0 || p >= r {
				t.Errorf("HashPartition(%q, %d) = %d, out of range", k, r, p)
			}
			if again := HashPartition(k, r); again != p {
				t.Errorf("HashPartition(%q, %d) not deterministic: %d then %d", k, r, p, again)
			}
		}
	}

	if p := HashPartition("anything", 0); p != 0 {
		t.Errorf("HashPartition with r=0 = %d, want 0", p)
	}
}

func TestHashPartition_Spreads(t *testing.T) {
	seen := make(map[int]bool)
	for i := 0; i < 200; i++ {
		seen[HashPartition(fmt.Sprintf("word%d", i), 4)] = true
	}
	if len(seen) != 4 {
		t.Errorf("200 keys landed in %d of 4 partitions", len(seen))
	}
}

func TestCombine(t *testing.T) {
	pairs := []models.Pair{{Key: "the", Value: 1}, {Key: "cat", Value: 1}, {Key: "the", Value: 1}, {Key: "sat", Value: 1}}

	got, err := combine(pairs, Sum)
	if err != nil {
		t.Fatalf("combine() error = %v", err)
	}
	want := []models.Pair{{Key: "cat", Value: 1}, {Key: "sat", Value: 1}, {Key: "the", Value: 2}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("combine() = %v, want %v", got, want)
	}

	if got, _ := combine(nil, Sum); got != nil {
		t.Errorf("combine(nil) = %v, want nil", got)
	}

	failing := func(key string, values []int) (int, error) { return 0, errors.New("nope") }
	if _, err := combine(pairs, failing); err == nil {
		t.Error("combine() should surface combiner errors")
	}
}

func TestWordCount_Map(t *testing.T) {
	tests := []struct {
		name     string
		tokenize analytics.Tokenizer
		record   string
		want     []string
	}{
		{"whitespace", nil, "the  cat\tsat", []string{"the", "cat", "sat"}},
		{"blank", nil, "   ", nil},
		{"normalizing", analytics.NormalizingTokenizer, "The Cat, the DOG!", []string{"cat", "dog"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			err := WordCount(tt.tokenize).Map(tt.record, func(key string, value int) {
				if value != 1 {
					t.Errorf("emitted value %d for %q, want 1", value, key)
				}
				got = append(got, key)
			})
			if err != nil {
				t.Fatalf("Map() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Map(%q) emitted %q, want %q", tt.record, got, tt.want)
			}
		})
	}
}

func TestSumReduce(t *testing.T) {
	got, err := SumReduce(models.GroupedRecord{Key: "sat", Values: []int{1, 1, 3}})
	if err != nil {
		t.Fatal(err)
	}
	if got != (models.FinalPair{Key: "sat", Total: 5}) {
		t.Errorf("SumReduce() = %+v", got)
	}
}

func TestMemoryShuffle(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryShuffle()

	_ = m.Deliver(ctx, 2, 0, []models.Pair{{Key: "b", Value: 20}, {Key: "a", Value: 21}})
	_ = m.Deliver(ctx, 0, 0, []models.Pair{{Key: "b", Value: 1}, {Key: "b", Value: 2}})
	_ = m.Deliver(ctx, 1, 1, []models.Pair{{Key: "z", Value: 9}})
	// redelivery replaces
	_ = m.Deliver(ctx, 2, 0, []models.Pair{{Key: "b", Value: 3}, {Key: "a", Value: 4}})

	got, err := m.Groups(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	want := []models.GroupedRecord{
		{Key: "a", Values: []int{4}},
		{Key: "b", Values: []int{1, 2, 3}},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Groups(0) = %+v, want %+v", got, want)
	}

	if got, _ := m.Groups(ctx, 5); len(got) != 0 {
		t.Errorf("Groups(5) = %+v, want none", got)
	}
}

func TestMemoryShuffle_CopiesInput(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryShuffle()

	pairs := []models.Pair{{Key: "a", Value: 1}}
	_ = m.Deliver(ctx, 0, 0, pairs)
	pairs[0].Key = "mutated"

	got, _ := m.Groups(ctx, 0)
	if len(got) != 1 || got[0].Key != "a" {
		t.Errorf("Groups() = %+v, delivered pairs must be copied", got)
	}
}

func TestTopKeywords(t *testing.T) {
	pairs := []models.FinalPair{
		{Key: "cat", Total: 1},
		{Key: "the", Total: 2},
		{Key: "sat", Total: 2},
		{Key: "note:", Total: 9},
		{Key: "(open", Total: 9},
		{Key: "dog", Total: 1},
	}

	got := FormatKeywords(TopKeywords(pairs, 3))
	want := []string{"sat:2", "the:2", "cat:1"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("TopKeywords() = %v, want %v", got, want)
	}

	if got := TopKeywords(pairs, 0); got != nil {
		t.Errorf("TopKeywords(n=0) = %v, want nil", got)
	}
}

func TestPrintTopKeywords(t *testing.T) {
	var buf bytes.Buffer
	PrintTopKeywords(&buf, []models.FinalPair{{Key: "sat", Total: 2}, {Key: "cat", Total: 1}})
	if want := "1. sat: 2\n2. cat: 1\n"; buf.String() != want {
		t.Errorf("PrintTopKeywords() = %q, want %q", buf.String(), want)
	}
}

func TestStatus(t *testing.T) {
	taskErr := &TaskError{Phase: models.PhaseReduce, Task: 1, Attempt: 2, Location: "partition 1", Err: errors.New("boom")}

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"success", nil, models.JobSucceeded},
		{"cancelled", fmt.Errorf("%w: %w", ErrCancelled, context.Canceled), models.JobCancelled},
		{"retry limit", fmt.Errorf("%w: %w", ErrRetryLimitExceeded, taskErr), models.JobFailed},
		{"other", errors.New("disk full"), models.JobFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Status(tt.err); got != tt.want {
				t.Errorf("Status() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTaskError_Unwrap(t *testing.T) {
	cause := errors.New("boom")
	err := &TaskError{Phase: models.PhaseMap, Task: 3, Attempt: 1, Location: "in.txt:0+10", Err: cause}

	if !errors.Is(err, ErrTaskFailed) {
		t.Error("TaskError should match ErrTaskFailed")
	}
	if !errors.Is(err, cause) {
		t.Error("TaskError should match its cause")
	}
	if want := "map task 3 attempt 1 (in.txt:0+10): boom"; err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
