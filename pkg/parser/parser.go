// Package parser extracts countable text from HTML inputs.
package parser

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
)

// blockSelector lists the content-bearing tags turned into text lines.
const blockSelector = "h1,h2,h3,h4,h5,h6,p,li,td,th,pre,blockquote"

type Parser struct{}

// ExtractText returns the readable text of an HTML document, one line per
// content block. go-readability isolates the main article first; when it finds
// nothing the whole body is used instead.
func (p *Parser) ExtractText(location, html string) (string, error) {
	baseURL, err := url.Parse(location)
	if err != nil {
		baseURL = &url.URL{}
	}

	rp := readability.NewParser()
	article, err := rp.Parse(strings.NewReader(html), baseURL)
	if err == nil && strings.TrimSpace(article.Content) != "" {
		lines, err := blockLines(article.Content)
		if err != nil {
			return "", err
		}
		if title := normalizeText(article.Title); title != "" {
			lines = append([]string{title}, lines...)
		}
		if len(lines) > 0 {
			return strings.Join(lines, "\n"), nil
		}
	}

	return bodyText(html)
}

// blockLines collects the normalized text of every content block in html.
// A block's own text is emitted without the text of blocks nested inside it,
// which are emitted separately in document order.
func blockLines(html string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	var lines []string
	doc.Find(blockSelector).Each(func(i int, s *goquery.Selection) {
		own := s
		if s.Find(blockSelector).Length() > 0 {
			own = s.Clone()
			own.Find(blockSelector).Remove()
		}
		if text := normalizeText(own.Text()); text != "" {
			lines = append(lines, text)
		}
	})
	return lines, nil
}

// bodyText is the fallback for documents readability cannot handle.
func bodyText(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}
	doc.Find("script,style,noscript,template").Remove()
	return normalizeText(doc.Find("body").Text()), nil
}

// normalizeText collapses every run of whitespace to a single space.
func normalizeText(input string) string {
	return strings.Join(strings.Fields(input), " ")
}
