package mapreduce

import (
	"context"
	"sort"
	"sync"

	"github.com/dtnitsch/wcmr/models"
)

// ShuffleStore exchanges intermediate pairs between map and reduce tasks.
//
// Deliver is called once per successful map task and partition; a later call
// for the same (mapTask, partition) replaces the earlier one. Groups returns
// the partition's records ordered by key, with each key's values ordered by
// map task and then emission order. The engine never calls Groups before every
// map task has delivered.
type ShuffleStore interface {
	Deliver(ctx context.Context, mapTask, partition int, pairs []models.Pair) error
	Groups(ctx context.Context, partition int) ([]models.GroupedRecord, error)
	Close() error
}

// MemoryShuffle keeps all intermediate data in memory.
type MemoryShuffle struct {
	mu         sync.Mutex
	partitions map[int]map[int][]models.Pair // partition -> map task -> pairs
}

func NewMemoryShuffle() *MemoryShuffle {
	return &MemoryShuffle{partitions: make(map[int]map[int][]models.Pair)}
}

func (m *MemoryShuffle) Deliver(ctx context.Context, mapTask, partition int, pairs []models.Pair) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	owned := make([]models.Pair, len(pairs))
	copy(owned, pairs)

	m.mu.Lock()
	defer m.mu.Unlock()
	byTask, ok := m.partitions[partition]
	if !ok {
		byTask = make(map[int][]models.Pair)
		m.partitions[partition] = byTask
	}
	byTask[mapTask] = owned
	return nil
}

func (m *MemoryShuffle) Groups(ctx context.Context, partition int) ([]models.GroupedRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	byTask := m.partitions[partition]
	tasks := make([]int, 0, len(byTask))
	size := 0
	for t, pairs := range byTask {
		tasks = append(tasks, t)
		size += len(pairs)
	}
	sort.Ints(tasks)
	all := make([]models.Pair, 0, size)
	for _, t := range tasks {
		all = append(all, byTask[t]...)
	}
	m.mu.Unlock()

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Key < all[j].Key
	})
	return GroupSorted(all), nil
}

func (m *MemoryShuffle) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.partitions = make(map[int]map[int][]models.Pair)
	return nil
}

// GroupSorted collapses key-sorted pairs into one record per key.
func GroupSorted(pairs []models.Pair) []models.GroupedRecord {
	var groups []models.GroupedRecord
	for _, p := range pairs {
		n := len(groups)
		if n > 0 && groups[n-1].Key == p.Key {
			groups[n-1].Values = append(groups[n-1].Values, p.Value)
			continue
		}
		groups = append(groups, models.GroupedRecord{Key: p.Key, Values: []int{p.Value}})
	}
	return groups
}
