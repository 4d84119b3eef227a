package mapreduce

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/dtnitsch/wcmr/models"
)

// isValidKeyword checks if a keyword should be included in summaries.
// Filters malformed tokens (unmatched delimiters, trailing special chars, unmatched quotes).
// Only the top-N summary is filtered; job output always keeps every key.
func isValidKeyword(word string) bool {
	if strings.HasSuffix(word, ":") || strings.HasSuffix(word, "=") {
		return false
	}

	if strings.Contains(word, "(") && !strings.Contains(word, ")") {
		return false
	}
	if strings.Contains(word, "[") && !strings.Contains(word, "]") {
		return false
	}
	if strings.Contains(word, "{") && !strings.Contains(word, "}") {
		return false
	}

	if strings.Count(word, "\"")%2 != 0 {
		return false
	}
	if strings.Count(word, "'")%2 != 0 {
		return false
	}

	return true
}

// TopKeywords returns the n pairs with the highest totals, ties broken by key.
// Pairs must carry distinct keys, which holds for any union of reduce outputs.
func TopKeywords(pairs []models.FinalPair, n int) []models.FinalPair {
	if n <= 0 {
		return nil
	}

	ss := make([]models.FinalPair, 0, len(pairs))
	for _, p := range pairs {
		if isValidKeyword(p.Key) {
			ss = append(ss, p)
		}
	}

	sort.Slice(ss, func(i, j int) bool {
		if ss[i].Total != ss[j].Total {
			return ss[i].Total > ss[j].Total
		}
		return ss[i].Key < ss[j].Key
	})

	if len(ss) > n {
		ss = ss[:n]
	}
	return ss
}

// FormatKeywords renders pairs as "word:count" strings (e.g., "learning:1153").
func FormatKeywords(pairs []models.FinalPair) []string {
	keywords := make([]string, len(pairs))
	for i, p := range pairs {
		keywords[i] = fmt.Sprintf("%s:%d", p.Key, p.Total)
	}
	return keywords
}

// PrintTopKeywords writes the pairs as a numbered list.
func PrintTopKeywords(w io.Writer, pairs []models.FinalPair) {
	for i, p := range pairs {
		fmt.Fprintf(w, "%d. %s: %d\n", i+1, p.Key, p.Total)
	}
}
