package mapreduce

import (
	"fmt"
	"sort"

	"github.com/dtnitsch/wcmr/models"
)

// combine pre-aggregates one map task's pairs for a single partition.
// The result holds one pair per distinct key, ordered by key.
func combine(pairs []models.Pair, fn CombineFunc) ([]models.Pair, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	grouped := make(map[string][]int)
	for _, p := range pairs {
		grouped[p.Key] = append(grouped[p.Key], p.Value)
	}

	keys := make([]string, 0, len(grouped))
	for k := range grouped {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	combined := make([]models.Pair, 0, len(keys))
	for _, k := range keys {
		v, err := fn(k, grouped[k])
		if err != nil {
			return nil, fmt.Errorf("combine %q: %w", k, err)
		}
		combined = append(combined, models.Pair{Key: k, Value: v})
	}
	return combined, nil
}
