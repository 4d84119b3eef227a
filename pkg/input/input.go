// Package input reads the records of a split for a map task.
package input

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dtnitsch/wcmr/models"
	"github.com/dtnitsch/wcmr/pkg/caching"
	"github.com/dtnitsch/wcmr/pkg/fetcher"
	"github.com/dtnitsch/wcmr/pkg/parser"
	"github.com/dtnitsch/wcmr/pkg/splitter"
)

// Reader yields the records of one split.
type Reader interface {
	Read(ctx context.Context, split splitter.Split) ([]string, error)
}

// SplitReader reads local files by byte range and remote documents through
// the fetcher and an optional cache.
type SplitReader struct {
	format  models.InputFormat
	fetcher *fetcher.Fetcher
	cache   *caching.Cache
	parser  *parser.Parser
}

// NewSplitReader builds a reader for format. cache may be nil.
func NewSplitReader(format models.InputFormat, f *fetcher.Fetcher, cache *caching.Cache) *SplitReader {
	if f == nil {
		f = fetcher.NewFetcher()
	}
	return &SplitReader{
		format:  format,
		fetcher: f,
		cache:   cache,
		parser:  &parser.Parser{},
	}
}

// Read returns one record per line. For HTML input the lines are those of the
// extracted readable text.
func (r *SplitReader) Read(ctx context.Context, split splitter.Split) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if !split.Whole && !splitter.IsRemote(split.Location) {
		return readLines(split)
	}

	data, err := r.readWhole(ctx, split.Location)
	if err != nil {
		return nil, err
	}

	text := string(data)
	if r.format == models.InputFormatHTML {
		text, err = r.parser.ExtractText(split.Location, text)
		if err != nil {
			return nil, fmt.Errorf("failed to extract text from %s: %w", split.Location, err)
		}
	}
	return splitLines(text), nil
}

func (r *SplitReader) readWhole(ctx context.Context, location string) ([]byte, error) {
	if !splitter.IsRemote(location) {
		data, err := os.ReadFile(location)
		if err != nil {
			return nil, fmt.Errorf("error reading file: %w", err)
		}
		return data, nil
	}

	if r.cache != nil {
		if data, ok := r.cache.Get(location); ok {
			return data, nil
		}
	}
	data, err := r.fetcher.GetBytes(ctx, location)
	if err != nil {
		return nil, err
	}
	if r.cache != nil {
		// A failed cache write only costs a refetch on retry.
		_ = r.cache.Set(location, data)
	}
	return data, nil
}

// readLines returns the lines owned by a byte-range split. A line belongs to
// the split containing its first byte, so the reader skips a partial leading
// line and reads past the split end to finish its last one.
func readLines(split splitter.Split) ([]string, error) {
	f, err := os.Open(split.Location)
	if err != nil {
		return nil, fmt.Errorf("error reading file: %w", err)
	}
	defer f.Close()

	start := split.Offset
	if start > 0 {
		// Peek at the byte before the split to learn if it opens on a line boundary.
		start--
	}
	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to seek %s to %d: %w", split.Location, start, err)
	}

	br := bufio.NewReaderSize(f, 64*1024)
	pos := start
	if split.Offset > 0 {
		skipped, err := br.ReadBytes('\n')
		pos += int64(len(skipped))
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("error reading %s: %w", split.Location, err)
		}
	}

	var lines []string
	for pos < split.End() {
		line, err := br.ReadBytes('\n')
		pos += int64(len(line))
		if len(line) > 0 {
			lines = append(lines, string(trimEOL(line)))
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error reading %s: %w", split.Location, err)
		}
	}
	return lines, nil
}

func trimEOL(line []byte) []byte {
	line = bytes.TrimSuffix(line, []byte("\n"))
	return bytes.TrimSuffix(line, []byte("\r"))
}

func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	text = strings.TrimSuffix(text, "\n")
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}
