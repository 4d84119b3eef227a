// Package output commits reduce results as one tab-separated file per partition.
package output

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/dtnitsch/wcmr/models"
	"github.com/dtnitsch/wcmr/pkg/storage"
)

const (
	// TemporaryDir holds partitions written before the job commits.
	TemporaryDir = "_temporary"
	// SuccessMarker is created in the output directory on commit.
	SuccessMarker = "_SUCCESS"

	previousDir = "_previous"
)

// ErrDestinationConflict is returned when the output already holds data and
// overwrite was not requested.
var ErrDestinationConflict = errors.New("output destination conflict")

// PartitionFile describes one committed partition.
type PartitionFile struct {
	Partition int    `yaml:"partition" json:"partition"`
	Path      string `yaml:"path" json:"path"`
	Records   int    `yaml:"records" json:"records"`
	SizeBytes int64  `yaml:"size_bytes" json:"size_bytes"`
	Checksum  string `yaml:"sha256" json:"sha256"`
}

// PartitionFileName returns the file name used for a partition, e.g. part-r-00003.
func PartitionFileName(partition int) string {
	return fmt.Sprintf("part-r-%05d", partition)
}

// Encode renders pairs as key<TAB>value lines.
func Encode(pairs []models.FinalPair) []byte {
	var buf bytes.Buffer
	for _, p := range pairs {
		buf.WriteString(p.Key)
		buf.WriteByte('\t')
		buf.WriteString(strconv.Itoa(p.Total))
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// Writer stages partitions under <dir>/_temporary and moves them into <dir>
// on Commit.
type Writer struct {
	dir       string
	overwrite bool
	storage   *storage.Storage

	mu         sync.Mutex
	files      map[int]PartitionFile
	createdDir bool
}

func NewWriter(dir string, overwrite bool) *Writer {
	return &Writer{
		dir:       dir,
		overwrite: overwrite,
		storage:   &storage.Storage{},
		files:     make(map[int]PartitionFile),
	}
}

// Dir returns the output directory.
func (w *Writer) Dir() string {
	return w.dir
}

func (w *Writer) tempDir() string {
	return filepath.Join(w.dir, TemporaryDir)
}

// Check rejects a destination that already holds data unless overwrite is set.
// It writes nothing.
func (w *Writer) Check() error {
	info, err := os.Stat(w.dir)
	if err == nil && !info.IsDir() {
		return fmt.Errorf("%w: %s exists and is not a directory", ErrDestinationConflict, w.dir)
	}

	hasData, err := w.storage.HasData(w.dir)
	if err != nil {
		return fmt.Errorf("failed to inspect output %s: %w", w.dir, err)
	}
	if hasData && !w.overwrite {
		return fmt.Errorf("%w: %s already contains data", ErrDestinationConflict, w.dir)
	}
	return nil
}

// Prepare creates the output and staging directories.
func (w *Writer) Prepare() error {
	if !w.storage.HasFile(w.dir) {
		w.createdDir = true
	}
	// Leftovers from a crashed run are never committed.
	if err := os.RemoveAll(w.tempDir()); err != nil {
		return fmt.Errorf("failed to clear staging directory: %w", err)
	}
	if err := os.MkdirAll(w.tempDir(), 0755); err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	return nil
}

// WritePartition stages the full pair sequence of a partition in one atomic
// write. Writing the same partition again replaces the staged file.
func (w *Writer) WritePartition(partition int, pairs []models.FinalPair) error {
	data := Encode(pairs)
	name := PartitionFileName(partition)
	if err := w.storage.SaveFile(filepath.Join(w.tempDir(), name), data); err != nil {
		return fmt.Errorf("failed to stage %s: %w", name, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.files[partition] = PartitionFile{
		Partition: partition,
		Path:      filepath.Join(w.dir, name),
		Records:   len(pairs),
		SizeBytes: int64(len(data)),
		Checksum:  fmt.Sprintf("%x", sha256.Sum256(data)),
	}
	return nil
}

// rename is swapped in tests to simulate a failing filesystem.
var rename = os.Rename

// Commit publishes every staged partition and writes the success marker.
// With overwrite, the previous contents are moved under the staging directory
// first and moved back if any partition fails to publish, so the directory
// holds either the old output or the new one.
func (w *Writer) Commit() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var moved []string
	if w.overwrite {
		var err error
		if moved, err = w.setAsidePrevious(); err != nil {
			return err
		}
	}

	var published []string
	for _, p := range w.sortedFiles() {
		name := PartitionFileName(p.Partition)
		if err := rename(filepath.Join(w.tempDir(), name), p.Path); err != nil {
			for _, path := range published {
				_ = os.Remove(path)
			}
			w.restorePrevious(moved)
			return fmt.Errorf("failed to commit %s: %w", name, err)
		}
		published = append(published, p.Path)
	}

	if err := os.RemoveAll(w.tempDir()); err != nil {
		return fmt.Errorf("failed to remove staging directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(w.dir, SuccessMarker), nil, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", SuccessMarker, err)
	}
	return nil
}

func (w *Writer) previousDir() string {
	return filepath.Join(w.tempDir(), previousDir)
}

// setAsidePrevious moves every existing entry of the output directory into
// the staging area and returns the names it moved.
func (w *Writer) setAsidePrevious() ([]string, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list output directory: %w", err)
	}
	if err := os.MkdirAll(w.previousDir(), 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", w.previousDir(), err)
	}

	var moved []string
	for _, e := range entries {
		if e.Name() == TemporaryDir {
			continue
		}
		if err := rename(filepath.Join(w.dir, e.Name()), filepath.Join(w.previousDir(), e.Name())); err != nil {
			w.restorePrevious(moved)
			return nil, fmt.Errorf("failed to move previous output %s: %w", e.Name(), err)
		}
		moved = append(moved, e.Name())
	}
	return moved, nil
}

func (w *Writer) restorePrevious(names []string) {
	for _, name := range names {
		_ = os.Rename(filepath.Join(w.previousDir(), name), filepath.Join(w.dir, name))
	}
}

// Abort discards staged partitions. An output directory created by Prepare
// is removed again if nothing else was put there.
func (w *Writer) Abort() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.files = make(map[int]PartitionFile)

	if err := os.RemoveAll(w.tempDir()); err != nil {
		return fmt.Errorf("failed to remove staging directory: %w", err)
	}
	if w.createdDir {
		if hasData, err := w.storage.HasData(w.dir); err == nil && !hasData {
			_ = os.Remove(w.dir)
		}
	}
	return nil
}

// Files lists the partitions written so far, ordered by partition.
func (w *Writer) Files() []PartitionFile {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sortedFiles()
}

func (w *Writer) sortedFiles() []PartitionFile {
	files := make([]PartitionFile, 0, len(w.files))
	for _, f := range w.files {
		files = append(files, f)
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].Partition < files[j].Partition
	})
	return files
}
