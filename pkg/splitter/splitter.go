// Package splitter divides job input into disjoint, independently readable splits.
package splitter

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrInputUnavailable is returned when an input location cannot be read at all.
var ErrInputUnavailable = errors.New("input unavailable")

// splitSlop lets the final split grow up to 10% past the split size instead of
// producing a tiny trailing split.
const splitSlop = 1.1

// Split is a contiguous byte range of one input, or a whole document.
type Split struct {
	Index    int
	Location string
	Offset   int64
	Length   int64 // -1 when the size is unknown (remote documents)
	Whole    bool  // read the entire location, ignoring Offset and Length
}

func (s Split) String() string {
	if s.Whole {
		return s.Location
	}
	return fmt.Sprintf("%s:%d+%d", s.Location, s.Offset, s.Length)
}

// End returns the first byte offset past the split.
func (s Split) End() int64 {
	return s.Offset + s.Length
}

// Options controls how input is cut.
type Options struct {
	TargetSplits int   // desired number of splits across all files
	MinSplitSize int64 // lower bound on a split's byte length
	Splittable   bool  // false forces one whole split per file
}

type inputFile struct {
	path string
	size int64
}

// IsRemote reports whether a location is fetched over HTTP rather than read from disk.
func IsRemote(location string) bool {
	return strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://")
}

// Plan lists every input file behind locations and cuts them into splits.
// Remote locations always become a single whole split.
func Plan(locations []string, opts Options) ([]Split, error) {
	if len(locations) == 0 {
		return nil, fmt.Errorf("%w: no input locations", ErrInputUnavailable)
	}
	if opts.TargetSplits < 1 {
		opts.TargetSplits = 1
	}
	if opts.MinSplitSize < 1 {
		opts.MinSplitSize = 1
	}

	var files []inputFile
	var remote []string
	var total int64
	for _, loc := range locations {
		if IsRemote(loc) {
			remote = append(remote, loc)
			continue
		}
		found, err := listFiles(loc)
		if err != nil {
			return nil, err
		}
		for _, f := range found {
			total += f.size
		}
		files = append(files, found...)
	}

	goal := (total + int64(opts.TargetSplits) - 1) / int64(opts.TargetSplits)
	splitSize := max(opts.MinSplitSize, goal)

	var splits []Split
	add := func(s Split) {
		s.Index = len(splits)
		splits = append(splits, s)
	}

	for _, f := range files {
		if !opts.Splittable || f.size == 0 {
			add(Split{Location: f.path, Offset: 0, Length: f.size, Whole: !opts.Splittable})
			continue
		}
		var offset int64
		remaining := f.size
		for float64(remaining)/float64(splitSize) > splitSlop {
			add(Split{Location: f.path, Offset: offset, Length: splitSize})
			offset += splitSize
			remaining -= splitSize
		}
		add(Split{Location: f.path, Offset: offset, Length: remaining})
	}
	for _, loc := range remote {
		add(Split{Location: loc, Length: -1, Whole: true})
	}

	return splits, nil
}

// listFiles expands a location into its readable input files.
// Directories contribute their regular, non-hidden files sorted by name.
func listFiles(location string) ([]inputFile, error) {
	info, err := os.Stat(location)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInputUnavailable, location, err)
	}
	if !info.IsDir() {
		f, err := os.Open(location)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInputUnavailable, location, err)
		}
		_ = f.Close()
		return []inputFile{{path: location, size: info.Size()}}, nil
	}

	entries, err := os.ReadDir(location)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInputUnavailable, location, err)
	}

	var files []inputFile
	for _, e := range entries {
		if isHidden(e.Name()) || !e.Type().IsRegular() {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInputUnavailable, filepath.Join(location, e.Name()), err)
		}
		files = append(files, inputFile{path: filepath.Join(location, e.Name()), size: fi.Size()})
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: %s: directory contains no input files", ErrInputUnavailable, location)
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].path < files[j].path
	})
	return files, nil
}

// isHidden matches the files a job writes next to its output (_SUCCESS,
// _temporary, _manifest.yaml) and dotfiles.
func isHidden(name string) bool {
	return strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".")
}
