package common

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/dtnitsch/wcmr/pkg/splitter"
)

var (
	markdownLinkPattern = regexp.MustCompile(`^\[.*?\]\((https?://[^\)]+)\)$`)
	urlPattern          = regexp.MustCompile(`^https?://[a-zA-Z0-9][-a-zA-Z0-9.]*[a-zA-Z0-9](:[0-9]+)?(/[^\s]*)?$`)
)

// SplitList splits a comma-separated flag value, dropping empty entries.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// SanitizeURL performs basic cleanup on URLs to handle common copy-paste issues.
// Removes whitespace, trailing punctuation and markdown artifacts.
func SanitizeURL(rawURL string) string {
	cleaned := strings.TrimSpace(rawURL)

	// [text](url) -> url
	if matches := markdownLinkPattern.FindStringSubmatch(cleaned); len(matches) > 1 {
		cleaned = matches[1]
	}

	// "https://example.com," -> "https://example.com"
	trailingChars := []string{",", ".", ")", "}", "]", "\"", "'", ">", ";"}
	for _, char := range trailingChars {
		cleaned = strings.TrimSuffix(cleaned, char)
	}

	// "(https://example.com)" -> "https://example.com"
	leadingChars := []string{"(", "[", "<", "\"", "'"}
	for _, char := range leadingChars {
		cleaned = strings.TrimPrefix(cleaned, char)
	}

	return strings.TrimSpace(cleaned)
}

// validURL rejects URLs that would fail late inside a map task.
func validURL(cleaned string) bool {
	if strings.Contains(cleaned, " ") || !urlPattern.MatchString(cleaned) {
		return false
	}
	parsed, err := url.Parse(cleaned)
	if err != nil {
		return false
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return false
	}
	if parsed.Host == "" || strings.ContainsAny(parsed.Host, "{}[]<>\"'") {
		return false
	}
	return true
}

// SanitizeLocations cleans job inputs and returns (sanitized, invalid).
// URLs get the SanitizeURL treatment and must be well formed; local paths are
// only trimmed. Duplicates are dropped, keeping the first occurrence.
func SanitizeLocations(locations []string) ([]string, []string) {
	sanitized := make([]string, 0, len(locations))
	var invalid []string
	seen := make(map[string]bool)

	for _, raw := range locations {
		cleaned := strings.TrimSpace(raw)
		if cleaned == "" {
			continue
		}

		if looksRemote(cleaned) {
			cleaned = SanitizeURL(cleaned)
			if !validURL(cleaned) {
				invalid = append(invalid, raw)
				continue
			}
		}

		if seen[cleaned] {
			continue
		}
		seen[cleaned] = true
		sanitized = append(sanitized, cleaned)
	}

	return sanitized, invalid
}

func looksRemote(s string) bool {
	if splitter.IsRemote(s) {
		return true
	}
	// Catch pasted links such as "[docs](https://...)" or "<https://...>".
	return strings.Contains(s, "://")
}
