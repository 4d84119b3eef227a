package models

import (
	"fmt"
	"strings"
)

// InputFormat selects how a split's bytes are turned into map records.
type InputFormat string

const (
	// InputFormatText yields one record per line; files are splittable.
	InputFormatText InputFormat = "text"
	// InputFormatHTML extracts readable text from a whole document; not splittable.
	InputFormatHTML InputFormat = "html"
)

// ParseInputFormat converts a flag value into an InputFormat.
// An empty value selects text.
func ParseInputFormat(s string) (InputFormat, error) {
	switch strings.TrimSpace(strings.ToLower(s)) {
	case "", "text", "txt":
		return InputFormatText, nil
	case "html", "htm":
		return InputFormatHTML, nil
	}
	return "", fmt.Errorf("unknown input format %q (want text or html)", s)
}

// Splittable reports whether files in this format may be cut into byte ranges.
func (f InputFormat) Splittable() bool {
	return f == "" || f == InputFormatText
}
