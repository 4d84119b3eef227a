package analytics

import (
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/pemistahl/lingua-go"
)

// languageSample bounds how much text is handed to the detector per split.
const languageSample = 4096

var (
	detectorOnce sync.Once
	detector     lingua.LanguageDetector
)

func languageDetector() lingua.LanguageDetector {
	detectorOnce.Do(func() {
		detector = lingua.NewLanguageDetectorBuilder().
			FromAllLanguages().
			Build()
	})
	return detector
}

// DetectLanguage names the language of text, or "unknown" when the detector
// cannot decide. Only the first few kilobytes are inspected.
func DetectLanguage(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return "unknown"
	}
	text = sample(text, languageSample)
	lang, ok := languageDetector().DetectLanguageOf(text)
	if !ok {
		return "unknown"
	}
	return strings.ToLower(lang.String())
}

// sample returns at most n bytes of text, cut on a rune boundary.
func sample(text string, n int) string {
	if len(text) <= n {
		return text
	}
	for n > 0 && !utf8.RuneStart(text[n]) {
		n--
	}
	return text[:n]
}
