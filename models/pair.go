package models

// Pair is an intermediate key/value emitted by a mapper or a combiner.
type Pair struct {
	Key   string
	Value int
}

// GroupedRecord is every value delivered to one partition for a single key.
type GroupedRecord struct {
	Key    string
	Values []int
}

// FinalPair is the reducer's output for one key.
type FinalPair struct {
	Key   string
	Total int
}
