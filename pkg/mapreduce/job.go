// Package mapreduce runs a single map/combine/shuffle/reduce stage over a set
// of splits with a bounded worker pool.
package mapreduce

import (
	"errors"
	"fmt"
	"hash/fnv"

	"github.com/dtnitsch/wcmr/models"
	"github.com/dtnitsch/wcmr/pkg/analytics"
)

// Emitter receives the intermediate pairs of a map call.
type Emitter func(key string, value int)

// MapFunc turns one input record into intermediate pairs. It must depend on
// nothing but its arguments so that a retried task emits the same pairs.
type MapFunc func(record string, emit Emitter) error

// CombineFunc folds the values one map task produced for a key into a single
// value. It runs zero or more times per key and must not change final totals.
type CombineFunc func(key string, values []int) (int, error)

// ReduceFunc folds every value of a key into its final pair.
type ReduceFunc func(rec models.GroupedRecord) (models.FinalPair, error)

// PartitionFunc assigns a key to a partition in [0, r).
type PartitionFunc func(key string, r int) int

// Job bundles the user functions of a map/reduce stage.
type Job struct {
	Name      string
	Map       MapFunc
	Combine   CombineFunc // optional
	Reduce    ReduceFunc
	Partition PartitionFunc // defaults to HashPartition
}

func (j Job) validate() error {
	if j.Map == nil {
		return errors.New("job has no map function")
	}
	if j.Reduce == nil {
		return errors.New("job has no reduce function")
	}
	return nil
}

// HashPartition is the default partitioner: FNV-1a of the key modulo r.
func HashPartition(key string, r int) int {
	if r <= 1 {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(r))
}

// Sum adds values. It is associative and commutative, which is what lets
// WordCount run it as a combiner.
func Sum(key string, values []int) (int, error) {
	total := 0
	for _, v := range values {
		total += v
	}
	return total, nil
}

// SumReduce emits the sum of a key's values.
func SumReduce(rec models.GroupedRecord) (models.FinalPair, error) {
	total, err := Sum(rec.Key, rec.Values)
	if err != nil {
		return models.FinalPair{}, err
	}
	return models.FinalPair{Key: rec.Key, Total: total}, nil
}

// WordCount counts token occurrences. The reduce function doubles as the
// combiner. That substitution is valid only because addition is associative
// and commutative and the reducer's output has the same type as its input
// values; it does not carry over to arbitrary reduce functions.
func WordCount(tokenize analytics.Tokenizer) Job {
	if tokenize == nil {
		tokenize = analytics.WhitespaceTokenizer
	}
	return Job{
		Name: "wordcount",
		Map: func(record string, emit Emitter) error {
			for _, token := range tokenize(record) {
				emit(token, 1)
			}
			return nil
		},
		Combine:   Sum,
		Reduce:    SumReduce,
		Partition: HashPartition,
	}
}

// checkPartition guards against partitioners that return out-of-range ids.
func checkPartition(key string, p, r int) error {
	if p < 0 || p >= r {
		return fmt.Errorf("partitioner returned %d for key %q, want [0,%d)", p, key, r)
	}
	return nil
}
