package output

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/dtnitsch/wcmr/models"
)

// ErrNotCommitted is returned by ReadDir when the success marker is missing.
var ErrNotCommitted = errors.New("output was not committed")

// Partition is the parsed content of one partition file.
type Partition struct {
	Path  string
	Pairs []models.FinalPair
}

// Decode parses key<TAB>value lines.
func Decode(r io.Reader) ([]models.FinalPair, error) {
	br := bufio.NewReader(r)
	var pairs []models.FinalPair
	for lineNo := 1; ; lineNo++ {
		line, err := br.ReadString('\n')
		if line != "" {
			line = strings.TrimSuffix(line, "\n")
			i := strings.LastIndexByte(line, '\t')
			if i < 0 {
				return nil, fmt.Errorf("line %d: missing tab separator", lineNo)
			}
			total, convErr := strconv.Atoi(line[i+1:])
			if convErr != nil {
				return nil, fmt.Errorf("line %d: invalid count: %w", lineNo, convErr)
			}
			pairs = append(pairs, models.FinalPair{Key: line[:i], Total: total})
		}
		if errors.Is(err, io.EOF) {
			return pairs, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

// ReadPartition parses a single partition file.
func ReadPartition(path string) ([]models.FinalPair, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error reading file: %w", err)
	}
	defer f.Close()

	pairs, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return pairs, nil
}

// ReadDir parses every partition of a committed output directory in
// partition order.
func ReadDir(dir string) ([]Partition, error) {
	if _, err := os.Stat(filepath.Join(dir, SuccessMarker)); err != nil {
		return nil, fmt.Errorf("%w: %s has no %s", ErrNotCommitted, dir, SuccessMarker)
	}

	paths, err := filepath.Glob(filepath.Join(dir, "part-r-*"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	parts := make([]Partition, 0, len(paths))
	for _, p := range paths {
		pairs, err := ReadPartition(p)
		if err != nil {
			return nil, err
		}
		parts = append(parts, Partition{Path: p, Pairs: pairs})
	}
	return parts, nil
}
